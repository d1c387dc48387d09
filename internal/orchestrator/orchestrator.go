// Package orchestrator runs one chat turn end to end.
//
//	resolve conversation → discover permitted tools → call model →
//	no tool calls: answer (+ contextual follow-ups)
//	tool calls: execute all in parallel via the gateway →
//	second model pass over the results → answer
//
// Every step is logged to the conversation store. Process never panics and
// never returns a raw error; failures are ChatErrors.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"

	"github.com/agentoven/opsdesk/internal/chaterr"
	"github.com/agentoven/opsdesk/internal/conversation"
	"github.com/agentoven/opsdesk/internal/followup"
	"github.com/agentoven/opsdesk/internal/llm"
	"github.com/agentoven/opsdesk/internal/mcpgw"
	"github.com/agentoven/opsdesk/internal/metrics"
	"github.com/agentoven/opsdesk/internal/permissions"
	"github.com/agentoven/opsdesk/internal/registry"
	"github.com/agentoven/opsdesk/pkg/models"
)

var tracer = otel.Tracer("opsdesk/orchestrator")

// ToolExecutor runs a single tool call.
type ToolExecutor interface {
	ExecuteTool(ctx context.Context, req mcpgw.ExecuteRequest) *mcpgw.ExecutionResult
}

// ── Request / Response ───────────────────────────────────────

type RequestContext struct {
	UserPermissions     models.UserPermissions       `json:"userPermissions"`
	UserID              string                       `json:"userId,omitempty"`
	SessionID           string                       `json:"sessionId,omitempty"`
	ConversationHistory []models.ConversationMessage `json:"conversationHistory,omitempty"`
}

type Request struct {
	Message        string         `json:"message"`
	Context        RequestContext `json:"context"`
	ConversationID string         `json:"conversationId,omitempty"`
}

// ToolCall is one call the model asked for, with arguments decoded.
type ToolCall struct {
	ID        string                 `json:"id"`
	Name      string                 `json:"name"`
	Arguments map[string]interface{} `json:"arguments"`
}

// ToolError is the payload reported in place of a result when a call fails.
type ToolError struct {
	Error     bool   `json:"error"`
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

// ToolResult is matched to its call by ToolCallID.
type ToolResult struct {
	ToolCallID    string      `json:"toolCallId"`
	ToolName      string      `json:"toolName"`
	Success       bool        `json:"success"`
	Result        interface{} `json:"result,omitempty"`
	Error         *ToolError  `json:"error,omitempty"`
	ExecutionTime int64       `json:"executionTime"`
}

type Response struct {
	Content             string                       `json:"content"`
	ToolCalls           []ToolCall                   `json:"toolCalls"`
	ToolResults         []ToolResult                 `json:"toolResults"`
	FollowUpQuestions   []models.FollowUpQuestion    `json:"followUpQuestions"`
	ConversationHistory []models.ConversationMessage `json:"conversationHistory"`
	ConversationID      string                       `json:"conversationId"`
	ExecutionTime       int64                        `json:"executionTime"` // milliseconds
}

// ── Orchestrator ─────────────────────────────────────────────

type Orchestrator struct {
	registry      *registry.Registry
	tools         ToolExecutor
	model         llm.Client
	followups     *followup.Generator
	conversations *conversation.Store
	errors        *chaterr.Tracker
}

// New creates an orchestrator. A nil tracker uses chaterr.Default.
func New(reg *registry.Registry, tools ToolExecutor, model llm.Client, store *conversation.Store, errs *chaterr.Tracker) *Orchestrator {
	if errs == nil {
		errs = chaterr.Default
	}
	return &Orchestrator{
		registry:      reg,
		tools:         tools,
		model:         model,
		followups:     followup.New(reg),
		conversations: store,
		errors:        errs,
	}
}

// ToolsForUser returns the tools the caller may discover.
func (o *Orchestrator) ToolsForUser(perms models.UserPermissions) []models.ToolMetadata {
	return permissions.FilterTools(perms, o.registry.All())
}

// Process runs one turn. On failure the returned Response still carries
// the conversation id and elapsed time.
func (o *Orchestrator) Process(ctx context.Context, req Request) (resp *Response, cerr *chaterr.ChatError) {
	start := time.Now()
	requestID := uuid.NewString()
	resp = &Response{ConversationID: req.ConversationID}

	ctx, span := tracer.Start(ctx, "chat.turn")
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Str("request_id", requestID).Msg("Chat turn panicked")
			cerr = o.errors.Create(chaterr.CodeAIResponseInvalid, chaterr.Context{
				UserID:         req.Context.UserID,
				RequestID:      requestID,
				ConversationID: resp.ConversationID,
			}, fmt.Errorf("panic: %v", r), "")
		}
		resp.ExecutionTime = time.Since(start).Milliseconds()
		if cerr != nil {
			span.SetStatus(codes.Error, cerr.Code)
		}
		span.SetAttributes(attribute.String("opsdesk.conversation_id", resp.ConversationID))
		span.End()
	}()

	if strings.TrimSpace(req.Message) == "" {
		return resp, o.errors.Create(chaterr.CodeValidationInvalidRequest, chaterr.Context{
			UserID:    req.Context.UserID,
			RequestID: requestID,
		}, nil, "message is required")
	}

	// 1. Conversation and tool discovery
	convID := o.resolveConversation(req)
	resp.ConversationID = convID
	errCtx := chaterr.Context{UserID: req.Context.UserID, RequestID: requestID, ConversationID: convID}

	available := o.ToolsForUser(req.Context.UserPermissions)
	systemPrompt := SystemPrompt(available)
	history := o.conversations.GetHistoryWithSystem(systemPrompt, convID)

	// 2. Log the user's message
	if err := o.conversations.AddMessageTo(convID, models.ConversationMessage{
		Role:    models.RoleUser,
		Content: req.Message,
	}); err != nil {
		return resp, o.errors.Create(chaterr.CodeConversationNotFound, errCtx, err, "")
	}

	messages := toChatMessages(history)
	messages = append(messages, models.ChatMessage{Role: string(models.RoleUser), Content: req.Message})

	// 3. First model pass
	first, err := o.model.Complete(ctx, llm.Request{
		Messages: messages,
		Tools:    registry.ToolDefinitions(available),
	})
	if err != nil {
		metrics.ModelCalls.WithLabelValues("initial", "error").Inc()
		modelErr := o.modelError(err, errCtx)
		o.appendAssistant(convID, models.ConversationMessage{
			Role:    models.RoleAssistant,
			Content: modelErr.UserMessage,
			Error:   &models.MessageError{Code: modelErr.Code, Message: modelErr.Message},
		})
		resp.ConversationHistory = o.history(convID)
		return resp, modelErr
	}
	metrics.ModelCalls.WithLabelValues("initial", "success").Inc()

	// 4. Plain answer
	if len(first.ToolCalls) == 0 {
		resp.Content = first.Content
		resp.ToolCalls = []ToolCall{}
		resp.ToolResults = []ToolResult{}
		resp.FollowUpQuestions = []models.FollowUpQuestion{}
		if len(available) > 0 {
			resp.FollowUpQuestions = o.followups.GenerateContextual(req.Message, available)
		}
		o.appendAssistant(convID, models.ConversationMessage{Role: models.RoleAssistant, Content: first.Content})
		resp.ConversationHistory = o.history(convID)
		return resp, nil
	}

	// 5. Execute every requested call in parallel
	calls, wireCalls := decodeCalls(first.ToolCalls)
	results := o.executeAll(ctx, calls, req, convID, requestID)

	resp.ToolCalls = calls
	resp.ToolResults = make([]ToolResult, 0, len(calls))
	resp.FollowUpQuestions = []models.FollowUpQuestion{}
	for i, c := range calls {
		r := results[i]
		resp.ToolResults = append(resp.ToolResults, r.entry)
		resp.FollowUpQuestions = append(resp.FollowUpQuestions, r.followUps...)

		msg := models.ConversationMessage{
			Role:    models.RoleAssistant,
			Content: fmt.Sprintf("[%s] %s", c.Name, toolContent(r.entry)),
		}
		if r.entry.Error != nil {
			msg.Error = &models.MessageError{Code: r.entry.Error.Code, Message: r.entry.Error.Message}
		}
		o.appendAssistant(convID, msg)
	}

	// 6. Second pass over the results
	followMsgs := append(messages, models.ChatMessage{
		Role:      string(models.RoleAssistant),
		Content:   first.Content,
		ToolCalls: wireCalls,
	})
	for _, r := range resp.ToolResults {
		followMsgs = append(followMsgs, models.ChatMessage{
			Role:       "tool",
			ToolCallID: r.ToolCallID,
			Name:       r.ToolName,
			Content:    toolContent(r),
		})
	}
	resp.Content = o.summarize(ctx, followMsgs, first.Content, resp.ToolResults)

	// 7. Final assistant message with the structured call record
	records := make([]models.ToolCallRecord, 0, len(calls))
	for i, c := range calls {
		r := results[i].entry
		var result interface{} = r.Result
		if r.Error != nil {
			result = r.Error
		}
		records = append(records, models.ToolCallRecord{Name: c.Name, Arguments: c.Arguments, Result: result})
	}
	o.appendAssistant(convID, models.ConversationMessage{
		Role:      models.RoleAssistant,
		Content:   resp.Content,
		ToolCalls: records,
	})
	resp.ConversationHistory = o.history(convID)

	log.Info().
		Str("conversation", convID).
		Int("tool_calls", len(calls)).
		Int("follow_ups", len(resp.FollowUpQuestions)).
		Dur("elapsed", time.Since(start)).
		Msg("Chat turn complete")
	return resp, nil
}

// resolveConversation returns the requested conversation if it exists and
// otherwise creates one, seeding it with any caller-supplied history.
func (o *Orchestrator) resolveConversation(req Request) string {
	if req.ConversationID != "" {
		if _, ok := o.conversations.Get(req.ConversationID); ok {
			return req.ConversationID
		}
	}
	id := o.conversations.Create(req.Context.UserID, req.Context.SessionID)
	for _, m := range req.Context.ConversationHistory {
		if m.Role == models.RoleSystem {
			continue
		}
		_ = o.conversations.AddMessageTo(id, m)
	}
	return id
}

type callOutcome struct {
	entry     ToolResult
	followUps []models.FollowUpQuestion
}

// executeAll runs calls concurrently. Each goroutine owns the slot at its
// call's index, so outcomes line up with calls whatever the completion order.
func (o *Orchestrator) executeAll(ctx context.Context, calls []ToolCall, req Request, convID, requestID string) []callOutcome {
	var g errgroup.Group
	outcomes := make([]callOutcome, len(calls))
	perms := req.Context.UserPermissions

	for i, c := range calls {
		i, c := i, c
		g.Go(func() error {
			var out callOutcome
			if c.Arguments == nil {
				out.entry = o.badArguments(c, req, convID, requestID)
			} else {
				if v := o.registry.Validate(c.Name, c.Arguments); !v.Valid {
					out.followUps = o.followups.Generate(c.Name, c.Arguments)
				}
				res := o.tools.ExecuteTool(ctx, mcpgw.ExecuteRequest{
					ToolName:       c.Name,
					Parameters:     c.Arguments,
					UserID:         req.Context.UserID,
					ConversationID: convID,
					RequestID:      requestID,
					Permissions:    &perms,
				})
				out.entry = resultEntry(c.ID, res)
			}
			outcomes[i] = out
			return nil
		})
	}
	_ = g.Wait()
	return outcomes
}

func (o *Orchestrator) badArguments(c ToolCall, req Request, convID, requestID string) ToolResult {
	e := o.errors.Create(chaterr.CodeValidationInvalidParam, chaterr.Context{
		ToolName:       c.Name,
		UserID:         req.Context.UserID,
		RequestID:      requestID,
		ConversationID: convID,
	}, nil, "Tool arguments are not a JSON object")
	return ToolResult{
		ToolCallID: c.ID,
		ToolName:   c.Name,
		Error:      &ToolError{Error: true, Code: e.Code, Message: e.Message, Retryable: e.Retryable},
	}
}

func resultEntry(callID string, res *mcpgw.ExecutionResult) ToolResult {
	entry := ToolResult{
		ToolCallID:    callID,
		ToolName:      res.ToolName,
		Success:       res.Success,
		ExecutionTime: res.ExecutionTime,
	}
	if res.Success {
		entry.Result = res.Result
	} else {
		entry.Error = &ToolError{
			Error:     true,
			Code:      res.Error.Code,
			Message:   res.Error.Message,
			Retryable: chaterr.ShouldRetry(res.Error),
		}
	}
	return entry
}

// summarize runs the second model pass. When it fails or returns nothing
// the first-pass content is used, then a summary of the outcomes.
func (o *Orchestrator) summarize(ctx context.Context, messages []models.ChatMessage, firstContent string, results []ToolResult) string {
	second, err := o.model.Complete(ctx, llm.Request{Messages: messages})
	switch {
	case err != nil:
		metrics.ModelCalls.WithLabelValues("followup", "error").Inc()
		log.Warn().Err(err).Msg("Follow-up model call failed, using fallback content")
	case strings.TrimSpace(second.Content) != "":
		metrics.ModelCalls.WithLabelValues("followup", "success").Inc()
		return second.Content
	default:
		metrics.ModelCalls.WithLabelValues("followup", "empty").Inc()
	}
	if strings.TrimSpace(firstContent) != "" {
		return firstContent
	}
	return outcomeSummary(results)
}

func outcomeSummary(results []ToolResult) string {
	lines := make([]string, 0, len(results))
	for _, r := range results {
		if r.Error != nil {
			lines = append(lines, fmt.Sprintf("%s failed: %s", r.ToolName, r.Error.Message))
			continue
		}
		lines = append(lines, fmt.Sprintf("%s completed: %s", r.ToolName, toolContent(r)))
	}
	return strings.Join(lines, "\n")
}

// modelError classifies a failed model call.
func (o *Orchestrator) modelError(err error, ctx chaterr.Context) *chaterr.ChatError {
	var se *llm.StatusError
	switch {
	case errors.Is(err, llm.ErrNotConfigured):
		return o.errors.Create(chaterr.CodeAIServiceUnavailable, ctx, err, "")
	case errors.As(err, &se) && se.StatusCode == http.StatusTooManyRequests:
		return o.errors.Create(chaterr.CodeAIRateLimited, ctx, err, "")
	case errors.As(err, &se) && se.StatusCode >= 500:
		return o.errors.Create(chaterr.CodeAIServiceUnavailable, ctx, err, "")
	case errors.Is(err, context.DeadlineExceeded):
		return o.errors.Create(chaterr.CodeNetworkTimeout, ctx, err, "")
	}
	return o.errors.Create(chaterr.CodeAIResponseInvalid, ctx, err, "")
}

func (o *Orchestrator) appendAssistant(convID string, msg models.ConversationMessage) {
	if err := o.conversations.AddMessageTo(convID, msg); err != nil {
		log.Warn().Err(err).Str("conversation", convID).Msg("Failed to log assistant message")
	}
}

func (o *Orchestrator) history(convID string) []models.ConversationMessage {
	c, ok := o.conversations.Get(convID)
	if !ok {
		return []models.ConversationMessage{}
	}
	return c.Messages
}

// ── Helpers ──────────────────────────────────────────────────

// SystemPrompt lists only the tools the caller may use.
func SystemPrompt(tools []models.ToolMetadata) string {
	var b strings.Builder
	b.WriteString("You are OpsDesk, an operations assistant for the deployment control plane.\n")
	if len(tools) == 0 {
		b.WriteString("You have no tools available for this user. Explain that their permissions do not allow operational actions and answer general questions only.")
		return b.String()
	}
	b.WriteString("\nAvailable tools:\n")
	for _, t := range tools {
		fmt.Fprintf(&b, "- %s: %s\n", t.Name, t.Description)
	}
	b.WriteString("\nOnly call tools from this list. If a required parameter is missing, ask the user for it instead of guessing.")
	return b.String()
}

// decodeCalls parses the model's tool calls and gives each a unique id. A
// missing id becomes call_<index>; a repeated one gets a numeric suffix.
// Unparseable arguments leave Arguments nil. The returned wire calls carry
// the same ids so every second-pass tool message pairs with its call.
func decodeCalls(raw []models.ToolCallResult) ([]ToolCall, []models.ToolCallResult) {
	calls := make([]ToolCall, 0, len(raw))
	wire := make([]models.ToolCallResult, 0, len(raw))
	seen := make(map[string]bool, len(raw))
	for i, tc := range raw {
		base := tc.ID
		if base == "" {
			base = fmt.Sprintf("call_%d", i)
		}
		id := base
		for n := 1; seen[id]; n++ {
			id = fmt.Sprintf("%s_%d", base, n)
		}
		seen[id] = true

		tc.ID = id
		if tc.Type == "" {
			tc.Type = "function"
		}
		wire = append(wire, tc)

		var args map[string]interface{}
		if strings.TrimSpace(tc.Function.Arguments) == "" {
			args = map[string]interface{}{}
		} else if err := json.Unmarshal([]byte(tc.Function.Arguments), &args); err != nil {
			args = nil
		} else if args == nil {
			args = map[string]interface{}{}
		}
		calls = append(calls, ToolCall{ID: id, Name: tc.Function.Name, Arguments: args})
	}
	return calls, wire
}

func toChatMessages(history []models.ConversationMessage) []models.ChatMessage {
	out := make([]models.ChatMessage, 0, len(history)+1)
	for _, m := range history {
		out = append(out, models.ChatMessage{Role: string(m.Role), Content: m.Content})
	}
	return out
}

func toolContent(r ToolResult) string {
	var v interface{} = r.Result
	if r.Error != nil {
		v = r.Error
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}
