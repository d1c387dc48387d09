// Package server provides the public entry point for initializing the
// OpsDesk service.
//
// Usage:
//
//	srv, err := server.New(ctx)
//	defer srv.Close(ctx)
//	http.ListenAndServe(fmt.Sprintf(":%d", srv.Port), srv.Handler)
package server

import (
	"context"
	"fmt"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/agentoven/opsdesk/internal/api"
	"github.com/agentoven/opsdesk/internal/api/handlers"
	"github.com/agentoven/opsdesk/internal/backend"
	"github.com/agentoven/opsdesk/internal/chaterr"
	"github.com/agentoven/opsdesk/internal/config"
	"github.com/agentoven/opsdesk/internal/conversation"
	"github.com/agentoven/opsdesk/internal/llm"
	"github.com/agentoven/opsdesk/internal/mcpgw"
	"github.com/agentoven/opsdesk/internal/orchestrator"
	"github.com/agentoven/opsdesk/internal/registry"
	"github.com/agentoven/opsdesk/internal/telemetry"
)

// Server holds the initialized OpsDesk service.
type Server struct {
	// Handler is the HTTP handler with all routes and middleware.
	Handler http.Handler

	// Config is the resolved configuration.
	Config *config.Config

	// Port is the port the server should listen on.
	Port int

	// Backend is the control-plane client, exposed for the CLI.
	Backend *backend.Client

	Conversations *conversation.Store

	shutdownTelemetry telemetry.Shutdown
	closeSlot         func() error
}

// New loads configuration from the environment and builds the server.
func New(ctx context.Context) (*Server, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	return NewWithConfig(ctx, cfg)
}

// NewWithConfig initializes every component with an explicit configuration.
func NewWithConfig(ctx context.Context, cfg *config.Config) (*Server, error) {
	shutdown, err := telemetry.Init(cfg.Telemetry, cfg.Version)
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}

	errs := chaterr.NewTracker(cfg.Errors.Capacity)
	chaterr.Default = errs

	slot, closeSlot, err := openSlot(cfg.Conversations)
	if err != nil {
		shutdown(ctx)
		return nil, err
	}
	store := conversation.New(conversation.Options{
		MaxConversations: cfg.Conversations.MaxConversations,
		MaxMessages:      cfg.Conversations.MaxMessages,
		Slot:             slot,
	})
	log.Info().
		Str("store", cfg.Conversations.Store).
		Int("conversations", store.Len()).
		Msg("✅ Conversation store initialized")

	client := NewBackendClient(cfg.Backend)
	reg := registry.Default()

	mcpgw.ServerVersion = cfg.Version
	gw := mcpgw.NewGateway(reg, client, errs)
	log.Info().Str("backend", cfg.Backend.BaseURL).Int("tools", len(reg.All())).Msg("✅ Tool gateway initialized")

	model := newModel(cfg.LLM)
	orch := orchestrator.New(reg, gw, model, store, errs)

	h, err := handlers.New(orch, gw, store, errs, client)
	if err != nil {
		closeSlot()
		shutdown(ctx)
		return nil, fmt.Errorf("init handlers: %w", err)
	}

	return &Server{
		Handler:           api.NewRouter(cfg, h),
		Config:            cfg,
		Port:              cfg.Port,
		Backend:           client,
		Conversations:     store,
		shutdownTelemetry: shutdown,
		closeSlot:         closeSlot,
	}, nil
}

// Close flushes telemetry and releases the conversation slot.
func (s *Server) Close(ctx context.Context) error {
	var first error
	if s.closeSlot != nil {
		first = s.closeSlot()
	}
	if s.shutdownTelemetry != nil {
		if err := s.shutdownTelemetry(ctx); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// NewBackendClient builds the control-plane client. A refresh URL enables
// token refresh on 401.
func NewBackendClient(cfg config.BackendConfig) *backend.Client {
	var tokens backend.TokenSource
	switch {
	case cfg.RefreshURL != "":
		tokens = backend.NewRefreshingTokenSource(cfg.RefreshURL, cfg.Token, cfg.RefreshToken)
	case cfg.Token != "":
		tokens = backend.StaticToken(cfg.Token)
	}
	return backend.New(backend.Config{
		BaseURL:   cfg.BaseURL,
		Timeout:   cfg.Timeout,
		RateLimit: cfg.RateLimit,
		Burst:     cfg.Burst,
	}, tokens)
}

func newModel(cfg config.LLMConfig) llm.Client {
	if cfg.APIKey == "" {
		log.Warn().Msg("⚠️  No OPENAI_API_KEY set, chat requests will fail with AI_SERVICE_UNAVAILABLE")
		return llm.Unconfigured{}
	}
	log.Info().Str("model", cfg.Model).Msg("✅ Language model configured")
	return llm.NewOpenAIClient(llm.OpenAIConfig{
		Endpoint: cfg.Endpoint,
		APIKey:   cfg.APIKey,
		Model:    cfg.Model,
		Timeout:  cfg.Timeout,
		Azure:    cfg.Azure,
	})
}

func openSlot(cfg config.ConversationConfig) (conversation.Slot, func() error, error) {
	noop := func() error { return nil }
	switch cfg.Store {
	case "memory":
		return &conversation.MemorySlot{}, noop, nil
	case "badger":
		s, err := conversation.OpenBadgerSlot(cfg.Path)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	default:
		s, err := conversation.NewFileSlot(cfg.Path)
		if err != nil {
			return nil, nil, err
		}
		return s, noop, nil
	}
}
