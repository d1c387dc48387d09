package mcpgw

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/agentoven/opsdesk/internal/permissions"
	"github.com/agentoven/opsdesk/internal/registry"
	"github.com/agentoven/opsdesk/pkg/models"
)

// ServerVersion is reported in the initialize handshake.
var ServerVersion = "0.1.0"

// Caller identifies who is speaking JSON-RPC to the gateway.
type Caller struct {
	UserID      string
	Permissions models.UserPermissions
}

// HandleJSONRPC processes an MCP JSON-RPC 2.0 request. Notifications return
// nil.
func (gw *Gateway) HandleJSONRPC(ctx context.Context, caller Caller, req *models.MCPRequest) *models.MCPResponse {
	switch req.Method {

	// ── Discovery ────────────────────────────────────
	case "initialize":
		return gw.handleInitialize(req)

	case "tools/list":
		return gw.handleToolsList(caller, req)

	// ── Tool Invocation ──────────────────────────────
	case "tools/call":
		return gw.handleToolsCall(ctx, caller, req)

	// ── Notifications (no response) ──────────────────
	case "notifications/initialized":
		log.Debug().Str("user", caller.UserID).Msg("MCP client initialized")
		return nil

	case "ping":
		return &models.MCPResponse{
			Jsonrpc: "2.0",
			Result:  map[string]string{"status": "pong"},
			ID:      req.ID,
		}

	default:
		return rpcError(req, -32601, "Method not found",
			fmt.Sprintf("Method '%s' is not supported by the MCP gateway", req.Method))
	}
}

func (gw *Gateway) handleInitialize(req *models.MCPRequest) *models.MCPResponse {
	return &models.MCPResponse{
		Jsonrpc: "2.0",
		Result: map[string]interface{}{
			"protocolVersion": "2024-11-05",
			"capabilities": map[string]interface{}{
				"tools": map[string]bool{
					"listChanged": false,
				},
			},
			"serverInfo": map[string]string{
				"name":    "opsdesk-mcp-gateway",
				"version": ServerVersion,
			},
		},
		ID: req.ID,
	}
}

// handleToolsList returns only the tools the caller may discover.
func (gw *Gateway) handleToolsList(caller Caller, req *models.MCPRequest) *models.MCPResponse {
	tools := permissions.FilterTools(caller.Permissions, gw.registry.All())

	mcpTools := make([]models.MCPToolInfo, 0, len(tools))
	for _, t := range tools {
		mcpTools = append(mcpTools, models.MCPToolInfo{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: registry.ParameterSchema(t),
		})
	}

	return &models.MCPResponse{
		Jsonrpc: "2.0",
		Result: map[string]interface{}{
			"tools": mcpTools,
		},
		ID: req.ID,
	}
}

func (gw *Gateway) handleToolsCall(ctx context.Context, caller Caller, req *models.MCPRequest) *models.MCPResponse {
	var params models.MCPToolCallParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return rpcError(req, -32602, "Invalid params", err.Error())
	}

	if _, ok := gw.registry.Get(params.Name); !ok {
		return rpcError(req, -32001, "Tool not found",
			fmt.Sprintf("Tool '%s' is not registered", params.Name))
	}

	perms := caller.Permissions
	res := gw.ExecuteTool(ctx, ExecuteRequest{
		ToolName:    params.Name,
		Parameters:  params.Arguments,
		UserID:      caller.UserID,
		Permissions: &perms,
	})

	if !res.Success {
		return &models.MCPResponse{
			Jsonrpc: "2.0",
			Result: models.MCPToolResult{
				Content: []models.MCPContent{{
					Type: "text",
					Text: fmt.Sprintf("Tool execution error [%s]: %s", res.Error.Code, res.Error.Message),
				}},
				IsError: true,
			},
			ID: req.ID,
		}
	}

	text, err := json.Marshal(res.Result)
	if err != nil {
		text = []byte(fmt.Sprint(res.Result))
	}
	return &models.MCPResponse{
		Jsonrpc: "2.0",
		Result: models.MCPToolResult{
			Content: []models.MCPContent{{Type: "text", Text: string(text)}},
		},
		ID: req.ID,
	}
}

func rpcError(req *models.MCPRequest, code int, message, data string) *models.MCPResponse {
	return &models.MCPResponse{
		Jsonrpc: "2.0",
		Error: &models.MCPError{
			Code:    code,
			Message: message,
			Data:    data,
		},
		ID: req.ID,
	}
}
