package chat

import (
	"strings"

	"github.com/gobwas/glob"
)

// Gate decides, per tool name, whether a call may auto-execute or must
// pause for human approval. Stateless once built: a pure predicate over the
// configured auto-execute list.
type Gate struct {
	names    map[string]bool
	patterns []glob.Glob
}

// NewGate builds a gate from the configured auto-execute entries. Entries
// are exact tool names or glob patterns ("mcp__github__*"). An invalid
// pattern is treated as an exact name.
func NewGate(autoExec []string) *Gate {
	g := &Gate{names: make(map[string]bool, len(autoExec))}
	for _, entry := range autoExec {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if strings.ContainsAny(entry, "*?[") {
			if compiled, err := glob.Compile(entry); err == nil {
				g.patterns = append(g.patterns, compiled)
				continue
			}
		}
		g.names[entry] = true
	}
	return g
}

// NeedsConfirmation reports whether the named tool requires human approval
// before execution.
func (g *Gate) NeedsConfirmation(name string) bool {
	if g.names[name] {
		return false
	}
	for _, p := range g.patterns {
		if p.Match(name) {
			return false
		}
	}
	return true
}

// Split partitions the extracted calls into auto-run and must-confirm sets,
// preserving emission order. When the must-confirm set is non-empty the
// loop pauses the whole batch: execution order is never split across a
// human-interaction boundary within one turn.
func (g *Gate) Split(calls []FunctionCall) (auto, confirm []FunctionCall) {
	for _, call := range calls {
		if g.NeedsConfirmation(call.Name) {
			confirm = append(confirm, call)
		} else {
			auto = append(auto, call)
		}
	}
	return auto, confirm
}
