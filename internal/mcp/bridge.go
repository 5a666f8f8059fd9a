package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	mcpclient "github.com/mark3labs/mcp-go/client"
	mcpgo "github.com/mark3labs/mcp-go/mcp"

	"github.com/jesspig/micro-agent/internal/tools"
)

// bridgeTool adapts one remote MCP tool to the local Tool interface.
type bridgeTool struct {
	server   string
	original string
	desc     string
	schema   map[string]interface{}
	client   *mcpclient.Client
}

func newBridgeTool(server string, mt mcpgo.Tool, client *mcpclient.Client) *bridgeTool {
	schema := map[string]interface{}{"type": "object"}
	if data, err := json.Marshal(mt.InputSchema); err == nil {
		var parsed map[string]interface{}
		if json.Unmarshal(data, &parsed) == nil && len(parsed) > 0 {
			schema = parsed
		}
	}
	return &bridgeTool{
		server:   server,
		original: mt.Name,
		desc:     mt.Description,
		schema:   schema,
		client:   client,
	}
}

func (t *bridgeTool) Name() string {
	return "mcp_" + t.server + "_" + t.original
}

func (t *bridgeTool) Description() string {
	if t.desc != "" {
		return fmt.Sprintf("[%s] %s", t.server, t.desc)
	}
	return fmt.Sprintf("[%s] remote tool %s", t.server, t.original)
}

func (t *bridgeTool) Parameters() map[string]interface{} { return t.schema }

// OriginalName returns the tool name as declared by the server.
func (t *bridgeTool) OriginalName() string { return t.original }

func (t *bridgeTool) Execute(ctx context.Context, args map[string]interface{}) *tools.Result {
	req := mcpgo.CallToolRequest{}
	req.Params.Name = t.original
	req.Params.Arguments = args

	res, err := t.client.CallTool(ctx, req)
	if err != nil {
		return tools.ErrorResult(fmt.Sprintf("mcp call %s: %v", t.original, err)).WithError(err)
	}

	var parts []string
	for _, c := range res.Content {
		if tc, ok := c.(mcpgo.TextContent); ok {
			parts = append(parts, tc.Text)
		}
	}
	text := strings.Join(parts, "\n")
	if text == "" {
		text = "(empty result)"
	}

	if res.IsError {
		return tools.ErrorResult(text)
	}
	return tools.SilentResult(text)
}
