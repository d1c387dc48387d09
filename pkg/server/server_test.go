package server_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentoven/opsdesk/internal/config"
	"github.com/agentoven/opsdesk/pkg/server"
)

func testConfig(t *testing.T, store string) *config.Config {
	return &config.Config{
		Port:    8080,
		Version: "9.9.9",
		Backend: config.BackendConfig{BaseURL: "http://127.0.0.1:1", Timeout: time.Second},
		Conversations: config.ConversationConfig{
			MaxConversations: 5,
			MaxMessages:      10,
			Store:            store,
			Path:             filepath.Join(t.TempDir(), "conversations"),
		},
		Errors: config.ErrorsConfig{Capacity: 10},
	}
}

func TestNewWithConfig_ServesRoutes(t *testing.T) {
	srv, err := server.NewWithConfig(context.Background(), testConfig(t, "memory"))
	require.NoError(t, err)
	defer srv.Close(context.Background())

	w := httptest.NewRecorder()
	srv.Handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/version", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "9.9.9", body["version"])

	// No API key configured: chat reaches the orchestrator and fails on the model.
	w = httptest.NewRecorder()
	srv.Handler.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/chat", strings.NewReader(`{"message":"hi"}`)))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestNewWithConfig_BadgerStorePersists(t *testing.T) {
	cfg := testConfig(t, "badger")

	srv, err := server.NewWithConfig(context.Background(), cfg)
	require.NoError(t, err)
	id := srv.Conversations.Create("u1", "")
	require.NoError(t, srv.Close(context.Background()))

	srv, err = server.NewWithConfig(context.Background(), cfg)
	require.NoError(t, err)
	defer srv.Close(context.Background())
	_, ok := srv.Conversations.Get(id)
	assert.True(t, ok)
}

func TestNewBackendClient_RefreshSource(t *testing.T) {
	var refreshed bool
	refresh := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		refreshed = true
		w.Write([]byte(`{"access_token":"fresh"}`))
	}))
	defer refresh.Close()

	var tokens []string
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokens = append(tokens, r.Header.Get("Authorization"))
		if r.Header.Get("Authorization") != "Bearer fresh" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Write([]byte(`{"tools":[{"name":"get_logs"}]}`))
	}))
	defer api.Close()

	c := server.NewBackendClient(config.BackendConfig{
		BaseURL:      api.URL,
		Token:        "stale",
		RefreshURL:   refresh.URL,
		RefreshToken: "r",
	})
	tools, err := c.ListTools(context.Background())
	require.NoError(t, err)
	assert.True(t, refreshed)
	assert.Equal(t, []string{"Bearer stale", "Bearer fresh"}, tokens)
	require.Len(t, tools, 1)
}
