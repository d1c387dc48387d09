// Package llm is the language-model capability: given messages and tool
// schemas, return a message that may carry tool calls.
package llm

import (
	"context"
	"errors"
	"fmt"

	"github.com/agentoven/opsdesk/pkg/models"
)

// Request is one chat-completion call.
type Request struct {
	Messages []models.ChatMessage
	Tools    []models.ToolDefinition
}

// Response is the model's reply. ToolCalls is empty for a plain answer.
type Response struct {
	Content   string
	ToolCalls []models.ToolCallResult
	Usage     Usage
}

type Usage struct {
	PromptTokens     int64 `json:"promptTokens"`
	CompletionTokens int64 `json:"completionTokens"`
	TotalTokens      int64 `json:"totalTokens"`
}

// Client performs chat completions.
type Client interface {
	Complete(ctx context.Context, req Request) (*Response, error)
}

// ErrNotConfigured is returned by Unconfigured.
var ErrNotConfigured = errors.New("llm: no model provider configured")

// Unconfigured is the Client used when no API key is set.
type Unconfigured struct{}

func (Unconfigured) Complete(context.Context, Request) (*Response, error) {
	return nil, ErrNotConfigured
}

// StatusError is a non-200 response from the provider.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("llm: status %d: %s", e.StatusCode, e.Body)
}
