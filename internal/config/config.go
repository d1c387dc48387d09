package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the OpsDesk service.
type Config struct {
	Port          int                `yaml:"port"`
	Version       string             `yaml:"version"`
	APIKeys       []string           `yaml:"apiKeys"`
	Backend       BackendConfig      `yaml:"backend"`
	LLM           LLMConfig          `yaml:"llm"`
	Conversations ConversationConfig `yaml:"conversations"`
	Errors        ErrorsConfig       `yaml:"errors"`
	Telemetry     TelemetryConfig    `yaml:"telemetry"`
}

type BackendConfig struct {
	BaseURL      string        `yaml:"baseUrl"`
	Token        string        `yaml:"token"`
	RefreshURL   string        `yaml:"refreshUrl"`
	RefreshToken string        `yaml:"refreshToken"`
	Timeout      time.Duration `yaml:"timeout"`
	RateLimit    float64       `yaml:"rateLimit"` // requests per second, 0 = unlimited
	Burst        int           `yaml:"burst"`
}

type LLMConfig struct {
	Endpoint string        `yaml:"endpoint"`
	APIKey   string        `yaml:"apiKey"`
	Model    string        `yaml:"model"`
	Timeout  time.Duration `yaml:"timeout"`
	Azure    bool          `yaml:"azure"`
}

type ConversationConfig struct {
	MaxConversations int    `yaml:"maxConversations"`
	MaxMessages      int    `yaml:"maxMessages"`
	Store            string `yaml:"store"` // memory | file | badger
	Path             string `yaml:"path"`
}

type ErrorsConfig struct {
	Capacity int `yaml:"capacity"`
}

type TelemetryConfig struct {
	Enabled      bool   `yaml:"enabled"`
	OTLPEndpoint string `yaml:"otlpEndpoint"`
	Insecure     bool   `yaml:"insecure"`
	ServiceName  string `yaml:"serviceName"`
	// SampleRatio is the fraction of root traces kept, in [0, 1]. Child
	// spans follow their parent's decision.
	SampleRatio float64 `yaml:"sampleRatio"`
}

// Load reads configuration from environment variables with sensible
// defaults. When OPSDESK_CONFIG names a YAML file, fields it sets override
// the environment.
func Load() (*Config, error) {
	cfg := &Config{
		Port:    envInt("OPSDESK_PORT", 8080),
		Version: envStr("OPSDESK_VERSION", "0.1.0"),
		APIKeys: envList("OPSDESK_API_KEYS"),
		Backend: BackendConfig{
			BaseURL:      envStr("BACKEND_BASE_URL", "http://localhost:3001"),
			Token:        envStr("BACKEND_TOKEN", ""),
			RefreshURL:   envStr("BACKEND_REFRESH_URL", ""),
			RefreshToken: envStr("BACKEND_REFRESH_TOKEN", ""),
			Timeout:      envDuration("BACKEND_TIMEOUT", 10*time.Second),
			RateLimit:    envFloat("BACKEND_RATE_LIMIT", 0),
			Burst:        envInt("BACKEND_RATE_BURST", 5),
		},
		LLM: LLMConfig{
			Endpoint: envStr("OPENAI_BASE_URL", "https://api.openai.com/v1"),
			APIKey:   envStr("OPENAI_API_KEY", ""),
			Model:    envStr("OPENAI_MODEL", "gpt-4o-mini"),
			Timeout:  envDuration("OPENAI_TIMEOUT", 60*time.Second),
			Azure:    envBool("OPENAI_AZURE", false),
		},
		Conversations: ConversationConfig{
			MaxConversations: envInt("OPSDESK_MAX_CONVERSATIONS", 50),
			MaxMessages:      envInt("OPSDESK_MAX_MESSAGES", 100),
			Store:            envStr("OPSDESK_CONVERSATION_STORE", "file"),
			Path:             envStr("OPSDESK_CONVERSATION_PATH", defaultDataPath()),
		},
		Errors: ErrorsConfig{
			Capacity: envInt("OPSDESK_ERROR_LOG_CAPACITY", 100),
		},
		Telemetry: TelemetryConfig{
			Enabled:      envBool("OTEL_ENABLED", false),
			OTLPEndpoint: envStr("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:     envBool("OTEL_EXPORTER_OTLP_INSECURE", true),
			ServiceName:  envStr("OTEL_SERVICE_NAME", "opsdesk"),
			SampleRatio:  envFloat("OTEL_TRACES_SAMPLER_ARG", 1.0),
		},
	}

	if path := os.Getenv("OPSDESK_CONFIG"); path != "" {
		if err := cfg.overlay(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// overlay decodes the YAML file onto cfg. Fields absent from the file keep
// their current values.
func (c *Config) overlay(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	return nil
}

// Validate rejects settings the service cannot start with.
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("config: invalid port %d", c.Port)
	}
	if c.Conversations.MaxConversations < 1 {
		return fmt.Errorf("config: maxConversations must be at least 1")
	}
	if c.Conversations.MaxMessages < 1 {
		return fmt.Errorf("config: maxMessages must be at least 1")
	}
	switch c.Conversations.Store {
	case "memory", "file", "badger":
	default:
		return fmt.Errorf("config: unknown conversation store %q", c.Conversations.Store)
	}
	if c.Backend.BaseURL == "" {
		return fmt.Errorf("config: backend baseUrl is required")
	}
	if r := c.Telemetry.SampleRatio; r < 0 || r > 1 {
		return fmt.Errorf("config: telemetry sampleRatio %v is outside [0, 1]", r)
	}
	return nil
}

func defaultDataPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".opsdesk/conversations.json"
	}
	return home + "/.opsdesk/conversations.json"
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

// envList splits a comma-separated variable, dropping empty entries.
func envList(key string) []string {
	var out []string
	for _, s := range strings.Split(os.Getenv(key), ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
