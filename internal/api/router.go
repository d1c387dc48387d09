package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/agentoven/opsdesk/internal/api/handlers"
	"github.com/agentoven/opsdesk/internal/api/middleware"
	"github.com/agentoven/opsdesk/internal/config"
)

// NewRouter creates the HTTP router with all API routes.
func NewRouter(cfg *config.Config, h *handlers.Handlers) http.Handler {
	r := chi.NewRouter()

	auth := middleware.NewAPIKeyAuth(cfg.APIKeys)

	// Global middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(middleware.ClaimsExtractor)
	r.Use(middleware.Logger)
	r.Use(middleware.Telemetry)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{
			"Accept", "Authorization", "Content-Type", "X-API-Key", "X-Request-Id",
			"X-User-ID", "X-Session-ID", "X-User-Roles", "X-User-Permissions",
		},
		ExposedHeaders: []string{"X-Request-Id", "X-Trace-Id", middleware.ConversationHeader},
		MaxAge:         300,
	}))
	r.Use(auth.Middleware)

	// Health & info
	r.Get("/health", h.Health)
	r.Get("/version", versionHandler(cfg))
	r.Handle("/metrics", promhttp.Handler())

	// API v1
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/chat", h.Chat)

		r.Route("/tools", func(r chi.Router) {
			r.Get("/", h.ListTools)
			r.Post("/available", h.AvailableTools)
			r.Post("/{tool}/validate", h.ValidateTool)
			r.Post("/{tool}/execute", h.ExecuteTool)
		})

		r.Route("/conversations", func(r chi.Router) {
			r.Get("/", h.ListConversations)
			r.Post("/", h.CreateConversation)
			r.Post("/import", h.ImportConversation)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", h.GetConversation)
				r.Delete("/", h.DeleteConversation)
				r.Put("/title", h.SetConversationTitle)
				r.Post("/clear", h.ClearConversation)
				r.Post("/current", h.SwitchConversation)
				r.Get("/history", h.ConversationHistory)
				r.Get("/summary", h.ConversationSummary)
				r.Get("/export", h.ExportConversation)
			})
		})

		r.Route("/errors", func(r chi.Router) {
			r.Get("/", h.ListErrors)
			r.Delete("/", h.ClearErrors)
		})
	})

	// MCP Gateway, JSON-RPC over HTTP
	r.Post("/mcp", h.MCPEndpoint)

	return r
}

func versionHandler(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{
			"version": cfg.Version,
			"service": "opsdesk",
		})
	}
}
