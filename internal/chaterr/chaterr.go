// Package chaterr is the error taxonomy shared by every component of the
// chat core. Errors are created from a fixed catalogue of codes, classified
// by type and severity, and appended to a bounded in-process log.
package chaterr

import (
	"fmt"
	"time"
)

type Type string

const (
	TypeNetwork        Type = "NETWORK"
	TypeAuthentication Type = "AUTHENTICATION"
	TypePermission     Type = "PERMISSION"
	TypeValidation     Type = "VALIDATION"
	TypeToolExecution  Type = "TOOL_EXECUTION"
	TypeAIResponse     Type = "AI_RESPONSE"
	TypeConversation   Type = "CONVERSATION"
	TypeUnknown        Type = "UNKNOWN"
)

type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// DefaultRetryDelay applies when an error carries no RetryAfter.
const DefaultRetryDelay = 5 * time.Second

// Context locates an error within a request.
type Context struct {
	ToolName       string                 `json:"toolName,omitempty"`
	Parameters     map[string]interface{} `json:"parameters,omitempty"`
	UserID         string                 `json:"userId,omitempty"`
	Timestamp      time.Time              `json:"timestamp"`
	RequestID      string                 `json:"requestId,omitempty"`
	ConversationID string                 `json:"conversationId,omitempty"`
}

// ChatError is the structured error every component surfaces. It is
// immutable once returned from Create.
type ChatError struct {
	Code          string   `json:"code"`
	Type          Type     `json:"type"`
	Severity      Severity `json:"severity"`
	Message       string   `json:"message"`
	UserMessage   string   `json:"userMessage"`
	Context       Context  `json:"context"`
	Retryable     bool     `json:"retryable"`
	RetryAfter    int      `json:"retryAfter,omitempty"` // seconds
	Suggestions   []string `json:"suggestions,omitempty"`
	OriginalError error    `json:"-"`
}

func (e *ChatError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *ChatError) Unwrap() error {
	return e.OriginalError
}

// ShouldRetry reports whether the caller may retry: the error must be
// retryable and not critical.
func ShouldRetry(e *ChatError) bool {
	if e == nil {
		return false
	}
	return e.Retryable && e.Severity != SeverityCritical
}

// RetryDelay converts RetryAfter to a duration, defaulting to five seconds.
func RetryDelay(e *ChatError) time.Duration {
	if e == nil || e.RetryAfter <= 0 {
		return DefaultRetryDelay
	}
	return time.Duration(e.RetryAfter) * time.Second
}

// Create builds a ChatError from the default tracker.
func Create(code string, ctx Context, original error, customMessage string) *ChatError {
	return Default.Create(code, ctx, original, customMessage)
}

// Default is the process-wide error log.
var Default = NewTracker(DefaultLogCapacity)
