// Package handlers implements the HTTP handlers for the OpsDesk service.
package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"
	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/agentoven/opsdesk/internal/api/middleware"
	"github.com/agentoven/opsdesk/internal/backend"
	"github.com/agentoven/opsdesk/internal/chaterr"
	"github.com/agentoven/opsdesk/internal/conversation"
	"github.com/agentoven/opsdesk/internal/followup"
	"github.com/agentoven/opsdesk/internal/mcpgw"
	"github.com/agentoven/opsdesk/internal/orchestrator"
	"github.com/agentoven/opsdesk/internal/permissions"
	"github.com/agentoven/opsdesk/internal/registry"
	"github.com/agentoven/opsdesk/pkg/models"
)

const maxBodyBytes = 1 << 20

// RemoteCatalog lists the tools the control-plane advertises.
type RemoteCatalog interface {
	ListTools(ctx context.Context) ([]backend.RemoteTool, error)
}

// Handlers holds all handler dependencies.
type Handlers struct {
	Orchestrator  *orchestrator.Orchestrator
	Gateway       *mcpgw.Gateway
	Registry      *registry.Registry
	FollowUps     *followup.Generator
	Conversations *conversation.Store
	Errors        *chaterr.Tracker
	Remote        RemoteCatalog

	chatSchema *jsonschema.Schema
}

// New creates a new Handlers instance with all dependencies. remote may be
// nil, which disables the backend health check.
func New(orch *orchestrator.Orchestrator, gw *mcpgw.Gateway, store *conversation.Store, errs *chaterr.Tracker, remote RemoteCatalog) (*Handlers, error) {
	schema, err := compileSchema("chat-request.json", chatRequestSchema)
	if err != nil {
		return nil, err
	}
	return &Handlers{
		Orchestrator:  orch,
		Gateway:       gw,
		Registry:      gw.Registry(),
		FollowUps:     followup.New(gw.Registry()),
		Conversations: store,
		Errors:        errs,
		Remote:        remote,
		chatSchema:    schema,
	}, nil
}

// ══════════════════════════════════════════════════════════════
// ── Chat ─────────────────────────────────────────────────────
// ══════════════════════════════════════════════════════════════

const chatRequestSchema = `{
	"type": "object",
	"required": ["message"],
	"properties": {
		"message": {"type": "string", "minLength": 1},
		"conversationId": {"type": "string"},
		"context": {
			"type": "object",
			"properties": {
				"userPermissions": {"type": "object", "additionalProperties": {"type": "boolean"}},
				"userId": {"type": "string"},
				"sessionId": {"type": "string"},
				"conversationHistory": {
					"type": "array",
					"items": {
						"type": "object",
						"required": ["role", "content"],
						"properties": {
							"role": {"enum": ["system", "user", "assistant"]},
							"content": {"type": "string"}
						}
					}
				}
			}
		}
	}
}`

type chatErrorResponse struct {
	Error          string   `json:"error"`
	ErrorCode      string   `json:"errorCode"`
	Message        string   `json:"message,omitempty"`
	Retryable      bool     `json:"retryable"`
	RetryAfter     int      `json:"retryAfter,omitempty"`
	Suggestions    []string `json:"suggestions,omitempty"`
	ConversationID string   `json:"conversationId,omitempty"`
	ExecutionTime  int64    `json:"executionTime"`
}

// Chat runs one orchestration turn.
func (h *Handlers) Chat(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	caller := middleware.GetCaller(r.Context())
	reqID := chimw.GetReqID(r.Context())

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		h.respondChatError(w, h.Errors.Create(chaterr.CodeValidationInvalidRequest,
			chaterr.Context{UserID: caller.UserID, RequestID: reqID}, err, "could not read request body"), "", start)
		return
	}
	if err := h.validateBody(h.chatSchema, body); err != nil {
		h.respondChatError(w, h.Errors.Create(chaterr.CodeValidationInvalidRequest,
			chaterr.Context{UserID: caller.UserID, RequestID: reqID}, err, "Invalid chat request: "+err.Error()), "", start)
		return
	}

	var req orchestrator.Request
	if err := json.Unmarshal(body, &req); err != nil {
		h.respondChatError(w, h.Errors.Create(chaterr.CodeValidationInvalidRequest,
			chaterr.Context{UserID: caller.UserID, RequestID: reqID}, err, "Invalid chat request: "+err.Error()), "", start)
		return
	}
	applyCaller(&req.Context, caller)

	resp, cerr := h.Orchestrator.Process(r.Context(), req)
	if cerr != nil {
		h.respondChatError(w, cerr, resp.ConversationID, start)
		return
	}
	w.Header().Set(middleware.ConversationHeader, resp.ConversationID)
	respondJSON(w, http.StatusOK, resp)
}

// applyCaller lets asserted claim headers override the permissions in the
// body.
func applyCaller(rc *orchestrator.RequestContext, caller middleware.Caller) {
	if caller.Asserted {
		rc.UserPermissions = caller.Permissions
	}
	if caller.UserID != "" {
		rc.UserID = caller.UserID
	}
	if caller.SessionID != "" {
		rc.SessionID = caller.SessionID
	}
}

func (h *Handlers) respondChatError(w http.ResponseWriter, e *chaterr.ChatError, convID string, start time.Time) {
	if convID != "" {
		w.Header().Set(middleware.ConversationHeader, convID)
	}
	respondJSON(w, statusFor(e), chatErrorResponse{
		Error:          e.UserMessage,
		ErrorCode:      e.Code,
		Message:        e.Message,
		Retryable:      chaterr.ShouldRetry(e),
		RetryAfter:     e.RetryAfter,
		Suggestions:    e.Suggestions,
		ConversationID: convID,
		ExecutionTime:  time.Since(start).Milliseconds(),
	})
}

// statusFor maps a ChatError onto an HTTP status.
func statusFor(e *chaterr.ChatError) int {
	switch e.Code {
	case chaterr.CodeToolNotFound, chaterr.CodeConversationNotFound:
		return http.StatusNotFound
	case chaterr.CodeAIRateLimited:
		return http.StatusTooManyRequests
	case chaterr.CodeAIServiceUnavailable, chaterr.CodeServiceUnavailable:
		return http.StatusServiceUnavailable
	case chaterr.CodeNetworkTimeout, chaterr.CodeToolTimeout:
		return http.StatusGatewayTimeout
	case chaterr.CodeConversationImport:
		return http.StatusBadRequest
	}
	switch e.Type {
	case chaterr.TypeValidation:
		return http.StatusBadRequest
	case chaterr.TypeAuthentication:
		return http.StatusUnauthorized
	case chaterr.TypePermission:
		return http.StatusForbidden
	case chaterr.TypeNetwork, chaterr.TypeToolExecution, chaterr.TypeAIResponse:
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// ══════════════════════════════════════════════════════════════
// ── Tools ────────────────────────────────────────────────────
// ══════════════════════════════════════════════════════════════

type toolsResponse struct {
	Tools        []models.ToolMetadata `json:"tools"`
	Capabilities map[string]bool       `json:"capabilities,omitempty"`
}

// ListTools returns the full catalogue, plus the caller's capability map
// when claim headers are present.
func (h *Handlers) ListTools(w http.ResponseWriter, r *http.Request) {
	resp := toolsResponse{Tools: h.Registry.All()}
	if c := middleware.GetCaller(r.Context()); c.Asserted {
		resp.Capabilities = permissions.CapabilityMap(c.Permissions, resp.Tools)
	}
	if cat := r.URL.Query().Get("category"); cat != "" {
		resp.Tools = h.Registry.ByCategory(models.ToolCategory(cat))
	}
	respondJSON(w, http.StatusOK, resp)
}

type permissionsBody struct {
	UserPermissions *models.UserPermissions `json:"userPermissions"`
}

// AvailableTools returns the tools the supplied permissions may discover.
func (h *Handlers) AvailableTools(w http.ResponseWriter, r *http.Request) {
	var body permissionsBody
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &body); err != nil {
			respondError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
			return
		}
	}
	perms := h.permissionsFor(r, body.UserPermissions)
	tools := h.Orchestrator.ToolsForUser(perms)
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"tools": tools,
		"count": len(tools),
	})
}

type toolCallBody struct {
	Parameters      map[string]interface{}  `json:"parameters"`
	UserPermissions *models.UserPermissions `json:"userPermissions,omitempty"`
	ConversationID  string                  `json:"conversationId,omitempty"`
}

// ValidateTool checks parameters without executing and returns the
// follow-up questions a missing or invalid argument would produce.
func (h *Handlers) ValidateTool(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "tool")
	var body toolCallBody
	if err := decodeJSON(r, &body); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	v := h.Registry.Validate(name, body.Parameters)
	resp := map[string]interface{}{
		"valid":  v.Valid,
		"errors": v.Errors,
	}
	if !v.Valid {
		questions := h.FollowUps.Generate(name, body.Parameters)
		resp["followUpQuestions"] = questions
		resp["display"] = followup.FormatForDisplay(questions)
	}
	respondJSON(w, http.StatusOK, resp)
}

// ExecuteTool runs a single tool call through the gateway, outside any
// model turn.
func (h *Handlers) ExecuteTool(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "tool")
	var body toolCallBody
	if err := decodeJSON(r, &body); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	caller := middleware.GetCaller(r.Context())
	perms := h.permissionsFor(r, body.UserPermissions)
	res := h.Gateway.ExecuteTool(r.Context(), mcpgw.ExecuteRequest{
		ToolName:       name,
		Parameters:     body.Parameters,
		UserID:         caller.UserID,
		ConversationID: body.ConversationID,
		RequestID:      chimw.GetReqID(r.Context()),
		Permissions:    &perms,
	})

	status := http.StatusOK
	if !res.Success {
		status = statusFor(res.Error)
	}
	respondJSON(w, status, res)
}

// permissionsFor prefers asserted claim headers over a body-supplied set.
func (h *Handlers) permissionsFor(r *http.Request, fromBody *models.UserPermissions) models.UserPermissions {
	if c := middleware.GetCaller(r.Context()); c.Asserted || fromBody == nil {
		return c.Permissions
	}
	return *fromBody
}

// ══════════════════════════════════════════════════════════════
// ── MCP Gateway ──────────────────────────────────────────────
// ══════════════════════════════════════════════════════════════

// MCPEndpoint serves MCP JSON-RPC 2.0 over HTTP POST.
func (h *Handlers) MCPEndpoint(w http.ResponseWriter, r *http.Request) {
	caller := middleware.GetCaller(r.Context())

	var req models.MCPRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil {
		respondJSON(w, http.StatusOK, models.MCPResponse{
			Jsonrpc: "2.0",
			Error: &models.MCPError{
				Code:    -32700,
				Message: "Parse error",
				Data:    err.Error(),
			},
		})
		return
	}

	log.Debug().Str("method", req.Method).Str("user", caller.UserID).Msg("MCP request received")

	resp := h.Gateway.HandleJSONRPC(r.Context(), mcpgw.Caller{
		UserID:      caller.UserID,
		Permissions: caller.Permissions,
	}, &req)
	if resp == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	respondJSON(w, http.StatusOK, resp)
}

// ══════════════════════════════════════════════════════════════
// ── Error Log ────────────────────────────────────────────────
// ══════════════════════════════════════════════════════════════

// ListErrors returns the retained error log, optionally filtered by
// ?type= or ?severity=.
func (h *Handlers) ListErrors(w http.ResponseWriter, r *http.Request) {
	var errs []*chaterr.ChatError
	switch q := r.URL.Query(); {
	case q.Get("type") != "":
		errs = h.Errors.ByType(chaterr.Type(strings.ToUpper(q.Get("type"))))
	case q.Get("severity") != "":
		errs = h.Errors.BySeverity(chaterr.Severity(strings.ToUpper(q.Get("severity"))))
	default:
		errs = h.Errors.Errors()
	}
	if errs == nil {
		errs = []*chaterr.ChatError{}
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"errors": errs,
		"count":  len(errs),
	})
}

func (h *Handlers) ClearErrors(w http.ResponseWriter, r *http.Request) {
	h.Errors.Clear()
	w.WriteHeader(http.StatusNoContent)
}

// ══════════════════════════════════════════════════════════════
// ── Health ───────────────────────────────────────────────────
// ══════════════════════════════════════════════════════════════

// Health reports liveness. With ?deep=true it also checks the
// control-plane's tool discovery endpoint.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	resp := map[string]interface{}{
		"status":        "healthy",
		"service":       "opsdesk",
		"tools":         len(h.Registry.All()),
		"conversations": h.Conversations.Len(),
	}
	if r.URL.Query().Get("deep") != "true" || h.Remote == nil {
		respondJSON(w, http.StatusOK, resp)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	remote, err := h.Remote.ListTools(ctx)
	if err != nil {
		resp["status"] = "degraded"
		resp["backend"] = map[string]string{"status": "unreachable", "error": err.Error()}
		respondJSON(w, http.StatusServiceUnavailable, resp)
		return
	}
	resp["backend"] = map[string]interface{}{"status": "ok", "tools": len(remote)}
	respondJSON(w, http.StatusOK, resp)
}

// ── Helpers ──────────────────────────────────────────────────

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

func decodeJSON(r *http.Request, v interface{}) error {
	return json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(v)
}

func compileSchema(name, src string) (*jsonschema.Schema, error) {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(src))
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", name, err)
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource(name, doc); err != nil {
		return nil, fmt.Errorf("add %s: %w", name, err)
	}
	return c.Compile(name)
}

// validateBody checks raw JSON against a compiled schema.
func (h *Handlers) validateBody(schema *jsonschema.Schema, body []byte) error {
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("malformed JSON: %w", err)
	}
	return schema.Validate(inst)
}
