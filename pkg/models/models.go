package models

import (
	"encoding/json"
	"time"
)

// ── Tool Catalogue ───────────────────────────────────────────

type ParameterType string

const (
	ParamString  ParameterType = "string"
	ParamNumber  ParameterType = "number"
	ParamBoolean ParameterType = "boolean"
	ParamArray   ParameterType = "array"
)

type ToolCategory string

const (
	CategoryLogs           ToolCategory = "logs"
	CategoryMetrics        ToolCategory = "metrics"
	CategoryDeployment     ToolCategory = "deployment"
	CategoryRollback       ToolCategory = "rollback"
	CategoryAuthentication ToolCategory = "authentication"
	CategoryOther          ToolCategory = "other"
)

// ToolParameter describes one argument of a tool. Values are part of the
// static registry and are never mutated.
type ToolParameter struct {
	Name        string        `json:"name"`
	Type        ParameterType `json:"type"`
	Required    bool          `json:"required"`
	Description string        `json:"description,omitempty"`
	Enum        []string      `json:"enum,omitempty"`
	Minimum     *float64      `json:"minimum,omitempty"`
	Maximum     *float64      `json:"maximum,omitempty"`
	Integer     bool          `json:"integer,omitempty"` // number parameters only
	Pattern     string        `json:"pattern,omitempty"`
	Example     interface{}   `json:"example,omitempty"`
}

// ToolMetadata is a registry entry. Name is unique across the registry.
type ToolMetadata struct {
	Name               string            `json:"name"`
	Description        string            `json:"description"`
	Category           ToolCategory      `json:"category"`
	RequiredPermission string            `json:"requiredPermission"`
	Parameters         []ToolParameter   `json:"parameters"`
	Examples           []string          `json:"examples,omitempty"`
	ErrorCodes         map[string]string `json:"errorCodes,omitempty"`
}

// Parameter returns the declared parameter with the given name.
func (t *ToolMetadata) Parameter(name string) (ToolParameter, bool) {
	for _, p := range t.Parameters {
		if p.Name == name {
			return p, true
		}
	}
	return ToolParameter{}, false
}

// ── Permissions ──────────────────────────────────────────────

const (
	PermReadLogs           = "read_logs"
	PermReadMetrics        = "read_metrics"
	PermDeployStaging      = "deploy_staging"
	PermDeployProduction   = "deploy_production"
	PermRollbackStaging    = "rollback_staging"
	PermRollbackProduction = "rollback_production"
	PermAuthenticateUser   = "authenticate_user"
)

// UserPermissions is the fixed capability set handed to the core by the caller.
type UserPermissions struct {
	ReadLogs           bool `json:"read_logs"`
	ReadMetrics        bool `json:"read_metrics"`
	DeployStaging      bool `json:"deploy_staging"`
	DeployProduction   bool `json:"deploy_production"`
	RollbackStaging    bool `json:"rollback_staging"`
	RollbackProduction bool `json:"rollback_production"`
	AuthenticateUser   bool `json:"authenticate_user"`
}

// Has reports whether the named permission flag is set.
func (p UserPermissions) Has(name string) bool {
	switch name {
	case PermReadLogs:
		return p.ReadLogs
	case PermReadMetrics:
		return p.ReadMetrics
	case PermDeployStaging:
		return p.DeployStaging
	case PermDeployProduction:
		return p.DeployProduction
	case PermRollbackStaging:
		return p.RollbackStaging
	case PermRollbackProduction:
		return p.RollbackProduction
	case PermAuthenticateUser:
		return p.AuthenticateUser
	}
	return false
}

// Grant sets the named flag. Unknown names are ignored and reported false.
func (p *UserPermissions) Grant(name string) bool {
	switch name {
	case PermReadLogs:
		p.ReadLogs = true
	case PermReadMetrics:
		p.ReadMetrics = true
	case PermDeployStaging:
		p.DeployStaging = true
	case PermDeployProduction:
		p.DeployProduction = true
	case PermRollbackStaging:
		p.RollbackStaging = true
	case PermRollbackProduction:
		p.RollbackProduction = true
	case PermAuthenticateUser:
		p.AuthenticateUser = true
	default:
		return false
	}
	return true
}

// AllPermissions lists every flag in declaration order.
var AllPermissions = []string{
	PermReadLogs,
	PermReadMetrics,
	PermDeployStaging,
	PermDeployProduction,
	PermRollbackStaging,
	PermRollbackProduction,
	PermAuthenticateUser,
}

// ── Conversations ────────────────────────────────────────────

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ToolCallRecord is the structured record of one tool call kept with a message.
type ToolCallRecord struct {
	Name      string                 `json:"name"`
	Arguments map[string]interface{} `json:"arguments"`
	Result    interface{}            `json:"result,omitempty"`
}

// MessageError is the persisted shape of an error attached to a message.
type MessageError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ConversationMessage struct {
	Role      Role             `json:"role"`
	Content   string           `json:"content"`
	Timestamp time.Time        `json:"timestamp"`
	ToolCalls []ToolCallRecord `json:"toolCalls,omitempty"`
	Error     *MessageError    `json:"error,omitempty"`
}

type ConversationMetadata struct {
	UserID       string         `json:"userId,omitempty"`
	SessionID    string         `json:"sessionId,omitempty"`
	ToolUsage    map[string]int `json:"toolUsage"`
	ErrorCount   int            `json:"errorCount"`
	MessageCount int            `json:"messageCount"`
}

// ConversationState is owned exclusively by the conversation store.
type ConversationState struct {
	ID        string                `json:"id"`
	Messages  []ConversationMessage `json:"messages"`
	CreatedAt time.Time             `json:"createdAt"`
	UpdatedAt time.Time             `json:"updatedAt"`
	Title     string                `json:"title,omitempty"`
	IsActive  bool                  `json:"isActive"`
	Metadata  ConversationMetadata  `json:"metadata"`
}

// Clone returns a deep copy safe to hand out of the store.
func (c *ConversationState) Clone() *ConversationState {
	cp := *c
	cp.Messages = make([]ConversationMessage, len(c.Messages))
	copy(cp.Messages, c.Messages)
	cp.Metadata.ToolUsage = make(map[string]int, len(c.Metadata.ToolUsage))
	for k, v := range c.Metadata.ToolUsage {
		cp.Metadata.ToolUsage[k] = v
	}
	return &cp
}

// ── Follow-Up Questions ──────────────────────────────────────

type QuestionType string

const (
	QuestionMissingRequired QuestionType = "missing_required"
	QuestionClarification   QuestionType = "clarification"
	QuestionValidationError QuestionType = "validation_error"
	QuestionSuggestion      QuestionType = "suggestion"
)

type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// FollowUpQuestion is generated per request and never persisted.
type FollowUpQuestion struct {
	ID          string       `json:"id"`
	Question    string       `json:"question"`
	Parameter   string       `json:"parameter,omitempty"`
	ToolName    string       `json:"toolName,omitempty"`
	Type        QuestionType `json:"type"`
	Priority    Priority     `json:"priority"`
	Suggestions []string     `json:"suggestions,omitempty"`
	Examples    []string     `json:"examples,omitempty"`
}

// ── Model Wire Types ─────────────────────────────────────────

// ToolDefinition describes a tool the LLM can call.
type ToolDefinition struct {
	Type     string       `json:"type"` // "function"
	Function ToolFunction `json:"function"`
}

// ToolFunction describes a callable function for tool-use.
type ToolFunction struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description,omitempty"`
	Parameters  map[string]interface{} `json:"parameters,omitempty"` // JSON Schema
}

// ToolCallFunction is the function half of a model tool call.
type ToolCallFunction struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"` // JSON string
}

// ToolCallResult is a structured tool call returned by the LLM.
type ToolCallResult struct {
	ID       string           `json:"id"`
	Type     string           `json:"type"` // "function"
	Function ToolCallFunction `json:"function"`
}

type ChatMessage struct {
	Role       string           `json:"role"`
	Content    string           `json:"content"`
	ToolCalls  []ToolCallResult `json:"tool_calls,omitempty"`   // assistant messages with tool calls
	ToolCallID string           `json:"tool_call_id,omitempty"` // tool result messages
	Name       string           `json:"name,omitempty"`         // function name for tool messages
}

// ── MCP Protocol Types ───────────────────────────────────────

type MCPRequest struct {
	Jsonrpc string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
	ID      interface{}     `json:"id"`
}

type MCPResponse struct {
	Jsonrpc string      `json:"jsonrpc"`
	Result  interface{} `json:"result,omitempty"`
	Error   *MCPError   `json:"error,omitempty"`
	ID      interface{} `json:"id"`
}

type MCPError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

type MCPToolInfo struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description,omitempty"`
	InputSchema map[string]interface{} `json:"inputSchema,omitempty"`
}

type MCPToolCallParams struct {
	Name      string                 `json:"name"`
	Arguments map[string]interface{} `json:"arguments,omitempty"`
}

type MCPToolResult struct {
	Content []MCPContent `json:"content"`
	IsError bool         `json:"isError,omitempty"`
}

type MCPContent struct {
	Type string `json:"type"` // text, image, resource
	Text string `json:"text,omitempty"`
}
