package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"
)

// TokenSource supplies the bearer token for control-plane requests.
// Refresh is called at most once per request, after a 401.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
	Refresh(ctx context.Context) (string, error)
}

// StaticToken is a fixed bearer token. Refresh returns the same token, so a
// 401 is retried once and then surfaced.
type StaticToken string

func (t StaticToken) Token(context.Context) (string, error)   { return string(t), nil }
func (t StaticToken) Refresh(context.Context) (string, error) { return string(t), nil }

// RefreshingTokenSource caches an access token and exchanges a refresh
// token for a new one on demand.
type RefreshingTokenSource struct {
	URL          string
	RefreshToken string
	Client       *http.Client

	mu    sync.Mutex
	token string
}

// NewRefreshingTokenSource creates a source seeded with an initial access
// token, which may be empty.
func NewRefreshingTokenSource(url, initial, refreshToken string) *RefreshingTokenSource {
	return &RefreshingTokenSource{
		URL:          url,
		RefreshToken: refreshToken,
		Client:       &http.Client{Timeout: 10 * time.Second},
		token:        initial,
	}
}

// Token returns the cached token, refreshing first if none is held.
func (s *RefreshingTokenSource) Token(ctx context.Context) (string, error) {
	s.mu.Lock()
	tok := s.token
	s.mu.Unlock()
	if tok != "" {
		return tok, nil
	}
	return s.Refresh(ctx)
}

type refreshResponse struct {
	AccessToken string `json:"access_token"`
	Token       string `json:"token"`
}

// Refresh exchanges the refresh token for a new access token.
func (s *RefreshingTokenSource) Refresh(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	body, _ := json.Marshal(map[string]string{"refresh_token": s.RefreshToken})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.URL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("refresh: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.Client.Do(req)
	if err != nil {
		return "", fmt.Errorf("refresh: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("refresh: status %d: %s", resp.StatusCode, string(b))
	}

	var rr refreshResponse
	if err := json.NewDecoder(resp.Body).Decode(&rr); err != nil {
		return "", fmt.Errorf("refresh: decode response: %w", err)
	}
	tok := rr.AccessToken
	if tok == "" {
		tok = rr.Token
	}
	if tok == "" {
		return "", fmt.Errorf("refresh: response carried no token")
	}
	s.token = tok
	return tok, nil
}
