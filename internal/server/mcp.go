package server

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"ensemble/internal/api"
	"ensemble/pkg/logging"
)

// Tool names exposed on the /mcp endpoint.
const (
	ListServicesToolName   = "list_services"
	GetServiceToolName     = "get_service"
	GetLogsToolName        = "get_logs"
	RestartServiceToolName = "restart_service"
)

// mcpTools serves the running application to MCP clients.
type mcpTools struct {
	app api.ApplicationHandler
}

// NewMCPServer creates an MCP server with the application tools registered.
func NewMCPServer(app api.ApplicationHandler, version string) *mcpserver.MCPServer {
	s := mcpserver.NewMCPServer(
		"ensemble",
		version,
		mcpserver.WithToolCapabilities(true),
	)
	t := &mcpTools{app: app}
	s.AddTools(t.tools()...)
	return s
}

func (t *mcpTools) tools() []mcpserver.ServerTool {
	nameProperty := map[string]interface{}{
		"type":        "string",
		"description": "The name of the service",
	}
	return []mcpserver.ServerTool{
		{
			Tool: mcp.Tool{
				Name:        ListServicesToolName,
				Description: "List the services of the running application with their replicas and states.",
				InputSchema: mcp.ToolInputSchema{
					Type:       "object",
					Properties: map[string]interface{}{},
				},
			},
			Handler: t.handleListServices,
		},
		{
			Tool: mcp.Tool{
				Name:        GetServiceToolName,
				Description: "Show one service: bindings, replicas, ports, process IDs and restart count.",
				InputSchema: mcp.ToolInputSchema{
					Type:       "object",
					Properties: map[string]interface{}{"name": nameProperty},
					Required:   []string{"name"},
				},
			},
			Handler: t.handleGetService,
		},
		{
			Tool: mcp.Tool{
				Name:        GetLogsToolName,
				Description: "Return the cached console output of a service.",
				InputSchema: mcp.ToolInputSchema{
					Type: "object",
					Properties: map[string]interface{}{
						"name": nameProperty,
						"tail": map[string]interface{}{
							"type":        "number",
							"description": "Only return the last N lines",
						},
					},
					Required: []string{"name"},
				},
			},
			Handler: t.handleGetLogs,
		},
		{
			Tool: mcp.Tool{
				Name:        RestartServiceToolName,
				Description: "Stop every replica of a service and launch fresh ones.",
				InputSchema: mcp.ToolInputSchema{
					Type:       "object",
					Properties: map[string]interface{}{"name": nameProperty},
					Required:   []string{"name"},
				},
			},
			Handler: t.handleRestartService,
		},
	}
}

func (t *mcpTools) handleListServices(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	services, err := t.app.ListServices()
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(services)
}

func (t *mcpTools) handleGetService(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := req.Params.Arguments.(map[string]interface{})
	if !ok {
		return mcp.NewToolResultError("Invalid arguments format"), nil
	}
	name, ok := args["name"].(string)
	if !ok || name == "" {
		return mcp.NewToolResultError("name is required"), nil
	}

	info, err := t.app.GetService(name)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(info)
}

func (t *mcpTools) handleGetLogs(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := req.Params.Arguments.(map[string]interface{})
	if !ok {
		return mcp.NewToolResultError("Invalid arguments format"), nil
	}
	name, ok := args["name"].(string)
	if !ok || name == "" {
		return mcp.NewToolResultError("name is required"), nil
	}
	tail := 0
	if raw, present := args["tail"]; present {
		n, ok := raw.(float64)
		if !ok || n < 0 {
			return mcp.NewToolResultError("tail must be a non-negative number"), nil
		}
		tail = int(n)
	}

	lines, err := t.app.GetLogs(name, tail)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if len(lines) == 0 {
		return mcp.NewToolResultText(fmt.Sprintf("No output from %s yet", name)), nil
	}
	return mcp.NewToolResultText(strings.Join(lines, "\n")), nil
}

func (t *mcpTools) handleRestartService(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := req.Params.Arguments.(map[string]interface{})
	if !ok {
		return mcp.NewToolResultError("Invalid arguments format"), nil
	}
	name, ok := args["name"].(string)
	if !ok || name == "" {
		return mcp.NewToolResultError("name is required"), nil
	}

	logging.Info("Server", "Restarting %s on MCP request", name)
	if err := t.app.RestartService(ctx, name); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to restart %s: %v", name, err)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Restarted %s", name)), nil
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode result: %w", err)
	}
	return mcp.NewToolResultText(string(data)), nil
}
