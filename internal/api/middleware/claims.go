package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/agentoven/opsdesk/internal/permissions"
	"github.com/agentoven/opsdesk/pkg/models"
)

type contextKey string

const (
	// CallerKey is the context key for the caller derived from claim headers.
	CallerKey contextKey = "caller"
)

// Caller is the identity and permission set asserted by the upstream
// identity provider.
type Caller struct {
	UserID      string
	SessionID   string
	Permissions models.UserPermissions
	// Asserted is false when no claim headers were present.
	Asserted bool
}

// ClaimsExtractor derives the caller from headers set by the fronting
// identity provider:
//
//	X-User-ID           user identifier
//	X-Session-ID        session identifier
//	X-User-Roles        comma-separated roles (admin, devops, developer, viewer)
//	X-User-Permissions  comma-separated flags, "read_logs" or "read:logs"
//
// Requests without claim headers carry an empty permission set.
func ClaimsExtractor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		roles := splitHeader(r.Header.Get("X-User-Roles"))
		perms := splitHeader(r.Header.Get("X-User-Permissions"))

		c := Caller{
			UserID:      strings.TrimSpace(r.Header.Get("X-User-ID")),
			SessionID:   strings.TrimSpace(r.Header.Get("X-Session-ID")),
			Permissions: permissions.FromClaims(roles, perms),
			Asserted:    len(roles) > 0 || len(perms) > 0,
		}

		ctx := context.WithValue(r.Context(), CallerKey, c)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetCaller retrieves the caller from the request context.
func GetCaller(ctx context.Context) Caller {
	if v, ok := ctx.Value(CallerKey).(Caller); ok {
		return v
	}
	return Caller{}
}

func splitHeader(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
