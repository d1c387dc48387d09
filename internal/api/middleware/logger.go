package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// ConversationHeader carries the conversation a chat response belongs to.
// Handlers set it; Logger reads it back for the request log.
const ConversationHeader = "X-Conversation-Id"

// statusRecorder captures the status code and body size.
type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (rec *statusRecorder) WriteHeader(code int) {
	rec.status = code
	rec.ResponseWriter.WriteHeader(code)
}

func (rec *statusRecorder) Write(b []byte) (int, error) {
	n, err := rec.ResponseWriter.Write(b)
	rec.bytes += n
	return n, err
}

// Logger writes one structured line per request, tagged with the caller
// and, for chat and conversation routes, the conversation id. Health checks
// and metric scrapes log at Debug.
func Logger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		caller := GetCaller(r.Context())
		route := r.URL.Path
		conversation := rec.Header().Get(ConversationHeader)
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				route = p
			}
			if conversation == "" && strings.HasPrefix(route, "/api/v1/conversations/{id}") {
				conversation = rctx.URLParam("id")
			}
		}

		event := requestEvent(route, rec.status)
		if conversation != "" {
			event = event.Str("conversation", conversation)
		}
		event.
			Str("method", r.Method).
			Str("route", route).
			Int("status", rec.status).
			Int("bytes", rec.bytes).
			Dur("duration", time.Since(start)).
			Str("request_id", chimw.GetReqID(r.Context())).
			Str("user", caller.UserID).
			Str("session", caller.SessionID).
			Bool("claims", caller.Asserted).
			Msg("request")
	})
}

func requestEvent(route string, status int) *zerolog.Event {
	switch {
	case status >= 500:
		return log.Error()
	case status >= 400:
		return log.Warn()
	case route == "/health" || route == "/metrics":
		return log.Debug()
	}
	return log.Info()
}
