// Package tools holds the callable-tool registry and the builtin file,
// shell, and search tools the orchestration loop executes on the model's
// behalf.
package tools

import (
	"context"
	"fmt"
	"strings"
)

// Spec describes a callable tool to the model.
type Spec struct {
	Name        string
	Description string
	Schema      map[string]any
}

// Result is the structured outcome of one tool execution. A failing call
// produces Success=false with Error set; it never aborts the batch.
type Result struct {
	Success   bool           `json:"success"`
	Data      map[string]any `json:"data,omitempty"`
	Error     string         `json:"error,omitempty"`
	Cancelled bool           `json:"cancelled,omitempty"`
}

// Response flattens the result into the payload fed back to the model.
func (r Result) Response() map[string]any {
	out := map[string]any{"success": r.Success}
	for k, v := range r.Data {
		out[k] = v
	}
	if r.Error != "" {
		out["error"] = r.Error
	}
	if r.Cancelled {
		out["cancelled"] = true
	}
	return out
}

// Ok builds a success result carrying data.
func Ok(data map[string]any) Result {
	return Result{Success: true, Data: data}
}

// Fail builds a failure result.
func Fail(format string, args ...any) Result {
	return Result{Success: false, Error: fmt.Sprintf(format, args...)}
}

// Tool is one callable tool. Execute receives the raw argument map from the
// model's call; the context carries the caller's cancellation token and the
// per-call id (chat.CallIDFromContext).
type Tool interface {
	Spec() Spec
	Execute(ctx context.Context, args map[string]any) Result
}

// proxiedSeparator is the structural marker in proxied tool names:
// "mcp__<server>__<tool>".
const (
	proxiedPrefix    = "mcp__"
	proxiedSeparator = "__"
)

// Target classifies a tool name as locally-registered or MCP-proxied.
// Resolution happens once per call, not scattered through call sites.
type Target interface {
	isTarget()
}

// Native is a locally-registered tool.
type Native struct {
	Name string
}

// Proxied is a tool living on an external MCP server.
type Proxied struct {
	Server string
	Tool   string
}

func (Native) isTarget()  {}
func (Proxied) isTarget() {}

// Resolve classifies a tool name structurally.
func Resolve(name string) Target {
	if !strings.HasPrefix(name, proxiedPrefix) {
		return Native{Name: name}
	}
	rest := name[len(proxiedPrefix):]
	sep := strings.Index(rest, proxiedSeparator)
	if sep <= 0 || sep+len(proxiedSeparator) >= len(rest) {
		return Native{Name: name}
	}
	return Proxied{Server: rest[:sep], Tool: rest[sep+len(proxiedSeparator):]}
}

// ProxiedName builds the registry name for a proxied tool.
func ProxiedName(server, tool string) string {
	return proxiedPrefix + server + proxiedSeparator + tool
}
