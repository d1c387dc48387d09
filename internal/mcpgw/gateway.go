// Package mcpgw implements the tool invocation gateway.
//
// The gateway executes one tool call against the control-plane and always
// resolves to an ExecutionResult. It supports:
//   - Single-flight execution of identical concurrent calls
//   - Argument validation against the tool registry
//   - Contextual permission checks when the caller's flags are supplied
//   - An MCP JSON-RPC 2.0 facade over the same execution path
package mcpgw

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/agentoven/opsdesk/internal/backend"
	"github.com/agentoven/opsdesk/internal/chaterr"
	"github.com/agentoven/opsdesk/internal/dedup"
	"github.com/agentoven/opsdesk/internal/metrics"
	"github.com/agentoven/opsdesk/internal/permissions"
	"github.com/agentoven/opsdesk/internal/registry"
	"github.com/agentoven/opsdesk/pkg/models"
)

var tracer = otel.Tracer("opsdesk/mcpgw")

// Backend is the control-plane surface the gateway dispatches to.
type Backend interface {
	GetLogs(ctx context.Context, q backend.LogQuery) (interface{}, error)
	GetMetrics(ctx context.Context, limit int) (interface{}, error)
	Deploy(ctx context.Context, args map[string]interface{}) (interface{}, error)
	Rollback(ctx context.Context, environment string, args map[string]interface{}) (interface{}, error)
	Authenticate(ctx context.Context, sessionToken string) (interface{}, error)
}

// ExecuteRequest is one tool invocation.
type ExecuteRequest struct {
	ToolName       string                 `json:"toolName"`
	Parameters     map[string]interface{} `json:"parameters"`
	UserID         string                 `json:"userId,omitempty"`
	ConversationID string                 `json:"conversationId,omitempty"`
	RequestID      string                 `json:"requestId,omitempty"`

	// Permissions enables the execution-time check when set.
	Permissions *models.UserPermissions `json:"-"`
}

// ExecutionResult is produced once per executed call and never mutated.
type ExecutionResult struct {
	Success       bool                   `json:"success"`
	Result        interface{}            `json:"result,omitempty"`
	Error         *chaterr.ChatError     `json:"error,omitempty"`
	ExecutionTime int64                  `json:"executionTime"` // milliseconds
	ToolName      string                 `json:"toolName"`
	Parameters    map[string]interface{} `json:"parameters"`
}

// Gateway executes tool calls.
type Gateway struct {
	registry *registry.Registry
	backend  Backend
	errors   *chaterr.Tracker
	pending  *dedup.Group[*ExecutionResult]
}

// NewGateway creates a gateway. A nil tracker uses chaterr.Default.
func NewGateway(reg *registry.Registry, b Backend, errs *chaterr.Tracker) *Gateway {
	if errs == nil {
		errs = chaterr.Default
	}
	return &Gateway{
		registry: reg,
		backend:  b,
		errors:   errs,
		pending:  dedup.New[*ExecutionResult]("tool_call"),
	}
}

// Registry returns the catalogue the gateway validates against.
func (gw *Gateway) Registry() *registry.Registry {
	return gw.registry
}

// ExecuteTool runs one tool call. It never returns nil and never panics;
// every failure is reported through ExecutionResult.Error.
func (gw *Gateway) ExecuteTool(ctx context.Context, req ExecuteRequest) *ExecutionResult {
	if req.Parameters == nil {
		req.Parameters = map[string]interface{}{}
	}
	// The shared execution outlives any one caller; the backend client's
	// timeout bounds it.
	shared := context.WithoutCancel(ctx)
	res, _, err := gw.pending.DoContext(ctx, callKey(req), func() (*ExecutionResult, error) {
		return gw.execute(shared, req), nil
	})
	if err != nil {
		return gw.abandoned(req, err)
	}
	return res
}

// abandoned reports a caller that stopped waiting. The call it joined keeps
// running for the other waiters.
func (gw *Gateway) abandoned(req ExecuteRequest, err error) *ExecutionResult {
	code := chaterr.CodeToolExecutionFailed
	if errors.Is(err, context.DeadlineExceeded) {
		code = chaterr.CodeToolTimeout
	}
	return gw.fail(req, code, err, fmt.Sprintf("Stopped waiting for %s: %s", req.ToolName, err.Error()))
}

// callKey identifies a call by tool and canonical arguments. The caller's
// permissions are part of the key so a shared result never crosses an
// authorization boundary.
func callKey(req ExecuteRequest) string {
	// encoding/json sorts map keys.
	args, _ := json.Marshal(req.Parameters)
	key := req.ToolName + "\x00" + string(args)
	if req.Permissions != nil {
		perms, _ := json.Marshal(req.Permissions)
		key += "\x00" + string(perms)
	}
	return key
}

func (gw *Gateway) execute(ctx context.Context, req ExecuteRequest) (res *ExecutionResult) {
	start := time.Now()
	ctx, span := tracer.Start(ctx, "tool "+req.ToolName)
	span.SetAttributes(
		attribute.String("opsdesk.tool", req.ToolName),
		attribute.String("opsdesk.conversation_id", req.ConversationID),
	)

	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Str("tool", req.ToolName).Msg("Tool execution panicked")
			res = gw.fail(req, chaterr.CodeToolExecutionFailed, fmt.Errorf("panic: %v", r), "")
		}
		res.ExecutionTime = time.Since(start).Milliseconds()

		status := "success"
		if !res.Success {
			status = "error"
			span.SetStatus(codes.Error, res.Error.Code)
			span.SetAttributes(attribute.String("opsdesk.error_code", res.Error.Code))
		}
		span.End()
		metrics.ToolExecutions.WithLabelValues(req.ToolName, status).Inc()
		metrics.ToolDuration.WithLabelValues(req.ToolName).Observe(time.Since(start).Seconds())
	}()

	tool, ok := gw.registry.Get(req.ToolName)
	if !ok {
		return gw.fail(req, chaterr.CodeToolNotFound, nil, fmt.Sprintf("Unknown tool: %s", req.ToolName))
	}

	if v := gw.registry.Validate(req.ToolName, req.Parameters); !v.Valid {
		return gw.fail(req, chaterr.CodeValidationInvalidParam, nil, strings.Join(v.Errors, "; "))
	}

	if req.Permissions != nil {
		if err := permissions.Authorize(*req.Permissions, *tool, req.Parameters); err != nil {
			return gw.fail(req, chaterr.CodePermissionInsufficient, err, "")
		}
	}

	result, err := gw.dispatch(ctx, req.ToolName, req.Parameters)
	if err != nil {
		log.Warn().Err(err).Str("tool", req.ToolName).Msg("Tool execution failed")
		return gw.fail(req, chaterr.CodeToolExecutionFailed, err, fmt.Sprintf("Tool %s failed: %s", req.ToolName, err.Error()))
	}

	log.Debug().Str("tool", req.ToolName).Dur("elapsed", time.Since(start)).Msg("Tool executed")
	return &ExecutionResult{
		Success:    true,
		Result:     result,
		ToolName:   req.ToolName,
		Parameters: req.Parameters,
	}
}

// dispatch maps a tool to its backend operation. The rollback environment
// comes from the tool name.
func (gw *Gateway) dispatch(ctx context.Context, name string, args map[string]interface{}) (interface{}, error) {
	switch name {
	case registry.ToolGetLogs:
		level, _ := args["level"].(string)
		return gw.backend.GetLogs(ctx, backend.LogQuery{Level: level, Limit: intArg(args, "limit")})
	case registry.ToolGetMetrics:
		return gw.backend.GetMetrics(ctx, intArg(args, "limit"))
	case registry.ToolDeployService:
		return gw.backend.Deploy(ctx, args)
	case registry.ToolRollbackStaging:
		return gw.backend.Rollback(ctx, "staging", args)
	case registry.ToolRollbackProduction:
		return gw.backend.Rollback(ctx, "production", args)
	case registry.ToolAuthenticateUser:
		token, _ := args["session_token"].(string)
		return gw.backend.Authenticate(ctx, token)
	}
	return nil, fmt.Errorf("no backend operation for tool %s", name)
}

func (gw *Gateway) fail(req ExecuteRequest, code string, original error, message string) *ExecutionResult {
	e := gw.errors.Create(code, chaterr.Context{
		ToolName:       req.ToolName,
		Parameters:     req.Parameters,
		UserID:         req.UserID,
		RequestID:      req.RequestID,
		ConversationID: req.ConversationID,
	}, original, message)
	return &ExecutionResult{
		Success:    false,
		Error:      e,
		ToolName:   req.ToolName,
		Parameters: req.Parameters,
	}
}

func intArg(args map[string]interface{}, name string) int {
	switch n := args[name].(type) {
	case float64:
		return int(n)
	case int:
		return n
	case int64:
		return int(n)
	}
	return 0
}
