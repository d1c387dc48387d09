package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("OPSDESK_CONFIG", "")
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, 10*time.Second, cfg.Backend.Timeout)
	assert.Equal(t, 50, cfg.Conversations.MaxConversations)
	assert.Equal(t, 100, cfg.Conversations.MaxMessages)
	assert.Equal(t, 100, cfg.Errors.Capacity)
	assert.Empty(t, cfg.APIKeys)
	assert.False(t, cfg.Telemetry.Enabled)
	assert.True(t, cfg.Telemetry.Insecure)
	assert.Equal(t, 1.0, cfg.Telemetry.SampleRatio)
}

func TestLoad_Env(t *testing.T) {
	t.Setenv("OPSDESK_CONFIG", "")
	t.Setenv("OPSDESK_PORT", "9090")
	t.Setenv("OPSDESK_API_KEYS", "a, b,,c")
	t.Setenv("BACKEND_TIMEOUT", "3s")
	t.Setenv("BACKEND_RATE_LIMIT", "2.5")
	t.Setenv("OPSDESK_CONVERSATION_STORE", "memory")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, []string{"a", "b", "c"}, cfg.APIKeys)
	assert.Equal(t, 3*time.Second, cfg.Backend.Timeout)
	assert.Equal(t, 2.5, cfg.Backend.RateLimit)
	assert.Equal(t, "memory", cfg.Conversations.Store)
}

func TestLoad_YAMLOverlay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "opsdesk.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
port: 7000
backend:
  baseUrl: https://control.example.com
conversations:
  store: badger
  path: /var/lib/opsdesk
`), 0o644))
	t.Setenv("OPSDESK_CONFIG", path)
	t.Setenv("OPENAI_MODEL", "gpt-4o")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 7000, cfg.Port)
	assert.Equal(t, "https://control.example.com", cfg.Backend.BaseURL)
	assert.Equal(t, "badger", cfg.Conversations.Store)
	// Untouched by the file.
	assert.Equal(t, "gpt-4o", cfg.LLM.Model)
	assert.Equal(t, 100, cfg.Conversations.MaxMessages)
}

func TestLoad_Invalid(t *testing.T) {
	t.Setenv("OPSDESK_CONFIG", "")
	t.Setenv("OPSDESK_CONVERSATION_STORE", "postgres")
	_, err := Load()
	assert.ErrorContains(t, err, "unknown conversation store")

	t.Setenv("OPSDESK_CONVERSATION_STORE", "memory")
	t.Setenv("OPSDESK_CONFIG", filepath.Join(t.TempDir(), "missing.yaml"))
	_, err = Load()
	assert.Error(t, err)
}

func TestLoad_InvalidSampleRatio(t *testing.T) {
	t.Setenv("OPSDESK_CONFIG", "")
	t.Setenv("OTEL_TRACES_SAMPLER_ARG", "1.5")
	_, err := Load()
	assert.ErrorContains(t, err, "sampleRatio")
}
