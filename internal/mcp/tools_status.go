package mcp

import (
	"context"
	"encoding/json"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// StatusArgument takes no parameters.
type StatusArgument struct{}

// StatusHandler handles the sync_status MCP tool.
type StatusHandler struct {
	status StatusProvider
}

// NewStatusHandler creates a status handler. A nil provider reports disabled mode.
func NewStatusHandler(status StatusProvider) *StatusHandler {
	return &StatusHandler{status: status}
}

// Handle returns the sync engine stats as JSON.
func (h *StatusHandler) Handle(_ context.Context, _ *mcp.CallToolRequest, _ StatusArgument) (*mcp.CallToolResult, any, error) {
	if h.status == nil {
		return &mcp.CallToolResult{
			Content: []mcp.Content{
				&mcp.TextContent{Text: "Sync is disabled: the search index is not configured."},
			},
		}, nil, nil
	}

	data, err := json.MarshalIndent(h.status.Stats(), "", "  ")
	if err != nil {
		return errorResult("Failed to encode sync status: %s", err), nil, nil
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: string(data)},
		},
	}, nil, nil
}

// GetToolDefinition returns the MCP tool definition.
func (h *StatusHandler) GetToolDefinition() *mcp.Tool {
	return &mcp.Tool{
		Name:        "sync_status",
		Description: "Report the sync engine state: watermark, cycle counters, last cycle result and records that repeatedly failed to map",
	}
}

// RegisterStatusTool registers the status tool with an MCP server.
func RegisterStatusTool(server *mcp.Server, status StatusProvider) {
	handler := NewStatusHandler(status)
	mcp.AddTool(server, handler.GetToolDefinition(), handler.Handle)
}
