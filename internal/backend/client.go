// Package backend is the REST client for the control-plane that performs
// log, metric, deploy, rollback and authentication operations.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/agentoven/opsdesk/internal/dedup"
	"github.com/agentoven/opsdesk/internal/metrics"
)

// DefaultTimeout bounds every control-plane request.
const DefaultTimeout = 10 * time.Second

// maxErrorBody caps how much of an error response is kept.
const maxErrorBody = 64 << 10

// APIError is a non-2xx response from the control-plane.
type APIError struct {
	StatusCode  int    `json:"statusCode"`
	Message     string `json:"message"`
	IsAuthError bool   `json:"isAuthError"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("backend: status %d: %s", e.StatusCode, e.Message)
}

// IsAuthError reports whether err is an authentication failure that
// survived the refresh-and-retry.
func IsAuthError(err error) bool {
	var ae *APIError
	return errors.As(err, &ae) && ae.IsAuthError
}

// Config configures a Client.
type Config struct {
	BaseURL   string
	Timeout   time.Duration
	RateLimit float64 // requests per second; 0 disables limiting
	Burst     int
}

// Client talks to the control-plane REST API.
type Client struct {
	baseURL string
	http    *http.Client
	tokens  TokenSource
	limiter *rate.Limiter

	// Concurrent identical GETs share one request.
	gets *dedup.Group[[]byte]
}

// New creates a client. tokens may be nil for unauthenticated backends.
func New(cfg Config, tokens TokenSource) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	c := &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		tokens:  tokens,
		gets:    dedup.New[[]byte]("backend_get"),
	}
	if cfg.RateLimit > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	return c
}

// ── Operations ───────────────────────────────────────────────

// RemoteTool is a tool advertised by the control-plane.
type RemoteTool struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// ListTools discovers the tools the control-plane exposes.
func (c *Client) ListTools(ctx context.Context) ([]RemoteTool, error) {
	raw, err := c.get(ctx, "/api/tools", nil)
	if err != nil {
		return nil, err
	}

	var wrapped struct {
		Tools []RemoteTool `json:"tools"`
		Data  []RemoteTool `json:"data"`
	}
	if err := json.Unmarshal(raw, &wrapped); err == nil {
		if wrapped.Tools != nil {
			return wrapped.Tools, nil
		}
		if wrapped.Data != nil {
			return wrapped.Data, nil
		}
	}
	var list []RemoteTool
	if err := json.Unmarshal(raw, &list); err != nil {
		return nil, fmt.Errorf("backend: decode tools: %w", err)
	}
	return list, nil
}

// LogQuery filters GetLogs. Zero values are omitted.
type LogQuery struct {
	Level string
	Limit int
}

// GetLogs fetches recent log entries.
func (c *Client) GetLogs(ctx context.Context, q LogQuery) (interface{}, error) {
	params := url.Values{}
	if q.Level != "" {
		params.Set("level", q.Level)
	}
	if q.Limit > 0 {
		params.Set("limit", strconv.Itoa(q.Limit))
	}
	raw, err := c.get(ctx, "/api/logs", params)
	if err != nil {
		return nil, err
	}
	return unwrap(raw)
}

// GetMetrics fetches current metric samples.
func (c *Client) GetMetrics(ctx context.Context, limit int) (interface{}, error) {
	params := url.Values{}
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}
	raw, err := c.get(ctx, "/api/metrics", params)
	if err != nil {
		return nil, err
	}
	return unwrap(raw)
}

// Deploy starts a deployment.
func (c *Client) Deploy(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	return c.post(ctx, "/api/deploy", args)
}

// Rollback rolls a deployment back in the given environment.
func (c *Client) Rollback(ctx context.Context, environment string, args map[string]interface{}) (interface{}, error) {
	body := make(map[string]interface{}, len(args)+1)
	for k, v := range args {
		body[k] = v
	}
	body["environment"] = environment
	return c.post(ctx, "/api/rollback", body)
}

// Authenticate verifies a user session token.
func (c *Client) Authenticate(ctx context.Context, sessionToken string) (interface{}, error) {
	return c.post(ctx, "/api/authenticate", map[string]interface{}{"session_token": sessionToken})
}

// ── Transport ────────────────────────────────────────────────

func (c *Client) get(ctx context.Context, path string, params url.Values) ([]byte, error) {
	target := c.baseURL + path
	if len(params) > 0 {
		target += "?" + params.Encode()
	}
	raw, _, err := c.gets.DoContext(ctx, target, func() ([]byte, error) {
		// Detached so one caller's cancellation does not fail the others.
		return c.send(context.WithoutCancel(ctx), http.MethodGet, target, nil)
	})
	return raw, err
}

func (c *Client) post(ctx context.Context, path string, args map[string]interface{}) (interface{}, error) {
	body, err := json.Marshal(map[string]interface{}{"arguments": args})
	if err != nil {
		return nil, fmt.Errorf("backend: encode body: %w", err)
	}
	raw, err := c.send(ctx, http.MethodPost, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	return unwrap(raw)
}

// send performs one request, refreshing the token and retrying exactly once
// on a 401.
func (c *Client) send(ctx context.Context, method, target string, body []byte) ([]byte, error) {
	token := ""
	if c.tokens != nil {
		t, err := c.tokens.Token(ctx)
		if err != nil {
			return nil, &APIError{StatusCode: http.StatusUnauthorized, Message: err.Error(), IsAuthError: true}
		}
		token = t
	}

	status, raw, err := c.roundTrip(ctx, method, target, body, token)
	if err != nil {
		return nil, err
	}

	if status == http.StatusUnauthorized && c.tokens != nil {
		log.Debug().Str("method", method).Str("url", target).Msg("Backend returned 401, refreshing token")
		t, rerr := c.tokens.Refresh(ctx)
		if rerr != nil {
			return nil, &APIError{StatusCode: status, Message: "token refresh failed: " + rerr.Error(), IsAuthError: true}
		}
		status, raw, err = c.roundTrip(ctx, method, target, body, t)
		if err != nil {
			return nil, err
		}
	}

	if status < 200 || status > 299 {
		return nil, &APIError{
			StatusCode:  status,
			Message:     errorMessage(status, raw),
			IsAuthError: status == http.StatusUnauthorized,
		}
	}
	return raw, nil
}

func (c *Client) roundTrip(ctx context.Context, method, target string, body []byte, token string) (int, []byte, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return 0, nil, fmt.Errorf("backend: rate limit: %w", err)
		}
	}

	var rdr io.Reader
	if body != nil {
		rdr = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, rdr)
	if err != nil {
		return 0, nil, fmt.Errorf("backend: create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		metrics.BackendRequests.WithLabelValues(method, "error").Inc()
		return 0, nil, fmt.Errorf("backend: %s %s failed: %w", method, req.URL.Path, err)
	}
	defer resp.Body.Close()
	metrics.BackendRequests.WithLabelValues(method, statusClass(resp.StatusCode)).Inc()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return 0, nil, fmt.Errorf("backend: read response: %w", err)
	}
	return resp.StatusCode, raw, nil
}

// unwrap extracts data or result from a {success, data|result} envelope.
// Bodies that are not envelopes are returned as decoded JSON.
func unwrap(raw []byte) (interface{}, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, nil
	}
	var decoded interface{}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return string(raw), nil
	}
	env, ok := decoded.(map[string]interface{})
	if !ok {
		return decoded, nil
	}
	if success, has := env["success"].(bool); has && !success {
		msg, _ := env["error"].(string)
		if msg == "" {
			msg, _ = env["message"].(string)
		}
		if msg == "" {
			msg = "operation reported failure"
		}
		return nil, &APIError{StatusCode: http.StatusOK, Message: msg}
	}
	if v, has := env["data"]; has {
		return v, nil
	}
	if v, has := env["result"]; has {
		return v, nil
	}
	return env, nil
}

// errorMessage reads an error body that is either JSON or plain text.
func errorMessage(status int, raw []byte) string {
	if len(raw) > maxErrorBody {
		raw = raw[:maxErrorBody]
	}
	var body struct {
		Error   interface{} `json:"error"`
		Message string      `json:"message"`
	}
	if err := json.Unmarshal(raw, &body); err == nil {
		if body.Message != "" {
			return body.Message
		}
		switch e := body.Error.(type) {
		case string:
			if e != "" {
				return e
			}
		case map[string]interface{}:
			if m, ok := e["message"].(string); ok && m != "" {
				return m
			}
		}
	}
	if text := strings.TrimSpace(string(raw)); text != "" {
		return text
	}
	return http.StatusText(status)
}

func statusClass(code int) string {
	return strconv.Itoa(code/100) + "xx"
}
