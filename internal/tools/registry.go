package tools

import (
	"context"
	"sync"
)

// Registry stores tools by name for execution. Proxied MCP tools are
// registered under their "mcp__server__tool" names alongside natives, so
// lookup is uniform; Resolve distinguishes them when routing matters.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

func (r *Registry) Register(tool Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[tool.Spec().Name] = tool
}

func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tools, name)
}

func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.tools[name]
	return tool, ok
}

// AllSpecs returns the specs for all registered tools.
func (r *Registry) AllSpecs() []Spec {
	r.mu.RLock()
	defer r.mu.RUnlock()
	specs := make([]Spec, 0, len(r.tools))
	for _, tool := range r.tools {
		specs = append(specs, tool.Spec())
	}
	return specs
}

// Execute runs the named tool. An unknown name yields a structured failure
// rather than an error: the result feeds back to the model, which can
// recover. Unknown proxied names are reported as a missing server rather
// than a missing tool, since connected servers register their tools here.
func (r *Registry) Execute(ctx context.Context, name string, args map[string]any) Result {
	tool, ok := r.Get(name)
	if ok {
		return tool.Execute(ctx, args)
	}
	if p, isProxied := Resolve(name).(Proxied); isProxied {
		return Fail("mcp server not connected: %s (tool %s)", p.Server, p.Tool)
	}
	return Fail("tool not found: %s", name)
}
