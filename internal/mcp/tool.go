package mcp

import (
	"context"

	"github.com/Mateus-rgb/Lim-Code-sub001/internal/tools"
)

// proxiedTool adapts one MCP server tool to the local tools.Tool contract.
// It registers under the proxied "mcp__server__tool" name so the extractor
// and gate treat it like any other tool.
type proxiedTool struct {
	client *Client
	spec   ToolSpec
}

func newProxiedTool(client *Client, spec ToolSpec) *proxiedTool {
	return &proxiedTool{client: client, spec: spec}
}

func (t *proxiedTool) Spec() tools.Spec {
	return tools.Spec{
		Name:        tools.ProxiedName(t.client.Name(), t.spec.Name),
		Description: t.spec.Description,
		Schema:      t.spec.Schema,
	}
}

func (t *proxiedTool) Execute(ctx context.Context, args map[string]any) tools.Result {
	output, err := t.client.CallTool(ctx, t.spec.Name, args)
	if err != nil {
		if ctx.Err() != nil {
			return tools.Result{Cancelled: true, Error: err.Error()}
		}
		return tools.Fail("%v", err)
	}
	return tools.Ok(map[string]any{"output": output})
}
