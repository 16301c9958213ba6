// Package checkpoint snapshots the workspace around tool execution so a
// human can undo tool side effects. The orchestration loop only requests
// creation at defined points and forwards the resulting records unmodified.
package checkpoint

import (
	"context"
	"time"
)

// Phase marks whether a checkpoint was taken before or after a tool batch.
type Phase string

const (
	PhaseBefore Phase = "before"
	PhaseAfter  Phase = "after"
)

// Record describes one stored checkpoint.
type Record struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	MessageIndex   int       `json:"message_index"`
	ToolName       string    `json:"tool_name"`
	Phase          Phase     `json:"phase"`
	Timestamp      time.Time `json:"timestamp"`
	// Files lists the workspace-relative paths captured in this snapshot.
	Files []string `json:"files,omitempty"`
}

// Manager creates checkpoints. Create returns nil (with nil error) when
// checkpointing was skipped, e.g. because nothing changed since the last
// snapshot.
type Manager interface {
	Create(ctx context.Context, conversationID string, messageIndex int, toolName string, phase Phase) (*Record, error)
}

// Disabled is a Manager that never checkpoints.
type Disabled struct{}

func (Disabled) Create(ctx context.Context, conversationID string, messageIndex int, toolName string, phase Phase) (*Record, error) {
	return nil, nil
}
