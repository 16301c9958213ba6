package engine

import (
	"github.com/Mateus-rgb/Lim-Code-sub001/internal/chat"
	"github.com/Mateus-rgb/Lim-Code-sub001/internal/checkpoint"
)

// Event is the closed union of everything the orchestration loop emits to
// its caller, one event per yield. Modeling each kind as its own variant
// keeps illegal states unrepresentable (e.g. an awaiting-confirmation event
// always carries pending calls).
type Event interface {
	isEvent()
}

// ChunkEvent is an incremental model-output delta plus the raw transport
// chunk it came from.
type ChunkEvent struct {
	Delta chat.Chunk
}

// ToolsExecutingEvent announces the calls about to run, for early UI
// feedback before any tool output exists.
type ToolsExecutingEvent struct {
	Calls []chat.FunctionCall
}

// AwaitingConfirmationEvent pauses the loop: at least one pending call
// requires human approval. PartialContent is the model message persisted so
// far this turn.
type AwaitingConfirmationEvent struct {
	Calls          []chat.FunctionCall
	PartialContent chat.Content
}

// ToolIterationEvent carries one batch's results; the loop continues with
// another model request after emitting it.
type ToolIterationEvent struct {
	Results     chat.Content
	Checkpoints []*checkpoint.Record
}

// CheckpointsEvent is an out-of-band checkpoint-only notification.
type CheckpointsEvent struct {
	Checkpoints []*checkpoint.Record
}

// CompleteEvent is the terminal success event.
type CompleteEvent struct {
	Content     chat.Content
	Checkpoints []*checkpoint.Record
}

// CancelledEvent is the terminal outcome of a user-driven cancellation.
// PartialContent, when non-nil, was persisted best-effort before stopping.
type CancelledEvent struct {
	PartialContent *chat.Content
}

// MaxIterationsEvent reports that the model kept requesting tools past the
// configured iteration cap. A distinct terminal event rather than a loop
// failure: the human should intervene. Err carries the MAX_TOOL_ITERATIONS
// code for callers that surface terminal conditions uniformly.
type MaxIterationsEvent struct {
	Iterations int
	Err        *chat.Error
}

// ErrorEvent is the terminal failure event.
type ErrorEvent struct {
	Err *chat.Error
}

func (ChunkEvent) isEvent()                {}
func (ToolsExecutingEvent) isEvent()       {}
func (AwaitingConfirmationEvent) isEvent() {}
func (ToolIterationEvent) isEvent()        {}
func (CheckpointsEvent) isEvent()          {}
func (CompleteEvent) isEvent()             {}
func (CancelledEvent) isEvent()            {}
func (MaxIterationsEvent) isEvent()        {}
func (ErrorEvent) isEvent()                {}
