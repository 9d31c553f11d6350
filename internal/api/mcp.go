package api

import (
	"context"
	"encoding/json"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

func (a *API) newMCPServer() *server.MCPServer {
	s := server.NewMCPServer(
		"livequiz",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithInstructions(`Read-only inspection of live quiz sessions.

AVAILABLE TOOLS:
- list_sessions: List every live session with its phase and roster
- get_session: Get one session by its 6 character code`),
	)

	s.AddTool(mcp.Tool{
		Name:        "list_sessions",
		Description: "List all live quiz sessions",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}, a.handleListSessionsTool)

	s.AddTool(mcp.Tool{
		Name:        "get_session",
		Description: "Get the players, scores and phase of a quiz session",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"session_id": map[string]interface{}{
					"type":        "string",
					"description": "Session code, case insensitive",
				},
			},
			Required: []string{"session_id"},
		},
	}, a.handleGetSessionTool)

	return s
}

func (a *API) handleListSessionsTool(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult(map[string]any{"sessions": a.listSessions()})
}

func (a *API) handleGetSessionTool(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, _ := request.Params.Arguments.(map[string]interface{})
	sessionID, _ := args["session_id"].(string)
	if sessionID == "" {
		return mcp.NewToolResultError("session_id is required"), nil
	}

	s, err := a.getSession(sessionID)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	return jsonResult(s)
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	return mcp.NewToolResultText(string(b)), nil
}
