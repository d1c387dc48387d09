package middleware_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentoven/opsdesk/internal/api/middleware"
)

// captureLog routes the global logger into a buffer for the test.
func captureLog(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev, prevLevel := log.Logger, zerolog.GlobalLevel()
	log.Logger = zerolog.New(&buf)
	zerolog.SetGlobalLevel(zerolog.DebugLevel)
	t.Cleanup(func() {
		log.Logger = prev
		zerolog.SetGlobalLevel(prevLevel)
	})
	return &buf
}

func lastLine(t *testing.T, buf *bytes.Buffer) map[string]interface{} {
	t.Helper()
	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.NotEmpty(t, lines)
	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(lines[len(lines)-1], &entry))
	return entry
}

func loggedRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.ClaimsExtractor)
	r.Use(middleware.Logger)
	r.Post("/api/v1/chat", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set(middleware.ConversationHeader, "conv-42")
		w.WriteHeader(http.StatusBadGateway)
	})
	r.Get("/api/v1/conversations/{id}/summary", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	})
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {})
	return r
}

func TestLogger_ChatCarriesConversationAndCaller(t *testing.T) {
	buf := captureLog(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/chat", nil)
	req.Header.Set("X-User-ID", "alice")
	req.Header.Set("X-Session-ID", "s-1")
	req.Header.Set("X-User-Roles", "viewer")
	loggedRouter().ServeHTTP(httptest.NewRecorder(), req)

	entry := lastLine(t, buf)
	assert.Equal(t, "error", entry["level"])
	assert.Equal(t, "/api/v1/chat", entry["route"])
	assert.Equal(t, "conv-42", entry["conversation"])
	assert.Equal(t, "alice", entry["user"])
	assert.Equal(t, "s-1", entry["session"])
	assert.Equal(t, true, entry["claims"])
	assert.Equal(t, float64(http.StatusBadGateway), entry["status"])
}

func TestLogger_ConversationRouteUsesURLParam(t *testing.T) {
	buf := captureLog(t)

	loggedRouter().ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/v1/conversations/abc/summary", nil))

	entry := lastLine(t, buf)
	assert.Equal(t, "info", entry["level"])
	assert.Equal(t, "/api/v1/conversations/{id}/summary", entry["route"])
	assert.Equal(t, "abc", entry["conversation"])
	assert.Equal(t, float64(2), entry["bytes"])
	assert.Equal(t, false, entry["claims"])
}

func TestLogger_HealthLogsAtDebug(t *testing.T) {
	buf := captureLog(t)

	loggedRouter().ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health", nil))

	entry := lastLine(t, buf)
	assert.Equal(t, "debug", entry["level"])
	_, has := entry["conversation"]
	assert.False(t, has)
}
