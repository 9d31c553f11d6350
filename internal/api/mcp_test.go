package api

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/victornm/livequiz/internal/router"
	"github.com/victornm/livequiz/internal/score"
	"github.com/victornm/livequiz/internal/session"
)

func TestMCPTools(t *testing.T) {
	ctx := context.Background()

	reg := session.NewRegistry(session.Config{Dispatcher: router.NewHub()})
	s, _, err := reg.CreateOrRestore(ctx, session.CreateRequest{HostIdentity: "h1", HostConn: "host"})
	require.NoError(t, err)
	_, err = s.Join(ctx, "p1", "alice")
	require.NoError(t, err)

	a := New(Config{Registry: reg, Score: score.NewService(score.Config{})})

	tests := map[string]struct {
		call   func() (*mcp.CallToolResult, error)
		assert func(t *testing.T, res *mcp.CallToolResult, text string)
	}{
		"list_sessions should list the live session": {
			call: func() (*mcp.CallToolResult, error) {
				return a.handleListSessionsTool(ctx, toolRequest("list_sessions", map[string]interface{}{}))
			},
			assert: func(t *testing.T, res *mcp.CallToolResult, text string) {
				require.False(t, res.IsError)

				var out struct {
					Sessions []Session `json:"sessions"`
				}
				require.NoError(t, json.Unmarshal([]byte(text), &out))
				require.Len(t, out.Sessions, 1)
				assert.Equal(t, s.ID(), out.Sessions[0].SessionID)
			},
		},
		"get_session should return the roster": {
			call: func() (*mcp.CallToolResult, error) {
				return a.handleGetSessionTool(ctx, toolRequest("get_session", map[string]interface{}{"session_id": s.ID()}))
			},
			assert: func(t *testing.T, res *mcp.CallToolResult, text string) {
				require.False(t, res.IsError)

				var out Session
				require.NoError(t, json.Unmarshal([]byte(text), &out))
				require.Len(t, out.Players, 1)
				assert.Equal(t, "alice", out.Players[0].Name)
				assert.Equal(t, "0", out.Players[0].Score)
				assert.NotContains(t, text, "hostIdentity")
				assert.NotContains(t, text, `"p1"`, "connection ids stay out of agent views")
			},
		},
		"get_session with an unknown id should be a tool error": {
			call: func() (*mcp.CallToolResult, error) {
				return a.handleGetSessionTool(ctx, toolRequest("get_session", map[string]interface{}{"session_id": "ZZZZZZ"}))
			},
			assert: func(t *testing.T, res *mcp.CallToolResult, text string) {
				assert.True(t, res.IsError)
				assert.Contains(t, text, "session not found")
			},
		},
		"get_session without an id should be a tool error": {
			call: func() (*mcp.CallToolResult, error) {
				return a.handleGetSessionTool(ctx, toolRequest("get_session", map[string]interface{}{}))
			},
			assert: func(t *testing.T, res *mcp.CallToolResult, _ string) {
				assert.True(t, res.IsError)
			},
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			res, err := tc.call()
			require.NoError(t, err)
			require.NotEmpty(t, res.Content)

			text, ok := res.Content[0].(mcp.TextContent)
			require.True(t, ok, "expected text content in result")
			tc.assert(t, res, text.Text)
		})
	}
}

func toolRequest(name string, args map[string]interface{}) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	}
}
