// Package engine drives the agentic conversation loop: request the model,
// accumulate its streamed output, execute the tools it asks for, feed the
// results back, and repeat until the model stops calling tools.
package engine

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/Mateus-rgb/Lim-Code-sub001/internal/chat"
	"github.com/Mateus-rgb/Lim-Code-sub001/internal/checkpoint"
	"github.com/Mateus-rgb/Lim-Code-sub001/internal/llm"
	"github.com/Mateus-rgb/Lim-Code-sub001/internal/store"
	"github.com/Mateus-rgb/Lim-Code-sub001/internal/tools"
)

// DefaultMaxToolIterations caps model requests per user turn. -1 disables
// the cap.
const DefaultMaxToolIterations = 20

// batchLabel names a multi-call tool batch on its checkpoints.
const batchLabel = "batch"

// Config carries the per-engine settings that do not change between turns.
type Config struct {
	Model string
	// SystemPrompt is re-evaluated before every model request so prompts
	// that embed time or workspace state stay fresh. Nil means no system
	// prompt.
	SystemPrompt func(ctx context.Context) string
	// MaxToolIterations limits model requests per user turn; -1 disables.
	// Zero means DefaultMaxToolIterations.
	MaxToolIterations int
	Window            chat.WindowConfig
	API               store.APIOptions
}

// Engine is one conversation orchestrator. The caller must not run two
// turns against the same conversation concurrently; the store's histories
// are live references and the loop assumes exclusive access.
type Engine struct {
	provider    llm.Provider
	store       store.Store
	registry    *tools.Registry
	gate        *chat.Gate
	checkpoints checkpoint.Manager
	counter     chat.TokenCounter
	cfg         Config
	log         *slog.Logger
}

// New wires an engine. counter may be nil to rely on the local estimator;
// checkpoints may be nil to disable checkpointing.
func New(provider llm.Provider, st store.Store, registry *tools.Registry, gate *chat.Gate, checkpoints checkpoint.Manager, counter chat.TokenCounter, cfg Config, log *slog.Logger) *Engine {
	if checkpoints == nil {
		checkpoints = checkpoint.Disabled{}
	}
	if gate == nil {
		gate = chat.NewGate(nil)
	}
	if cfg.MaxToolIterations == 0 {
		cfg.MaxToolIterations = DefaultMaxToolIterations
	}
	if log == nil {
		log = slog.Default()
	}
	return &Engine{
		provider:    provider,
		store:       st,
		registry:    registry,
		gate:        gate,
		checkpoints: checkpoints,
		counter:     counter,
		cfg:         cfg,
		log:         log,
	}
}

// Decision is the human's answer to an awaiting-confirmation pause, keyed
// by call id. Must-confirm calls absent from the map are treated as
// rejected; calls the gate auto-executes run without an entry.
type Decision struct {
	Approved map[string]bool
}

// Send appends a user message and runs the loop until a terminal event.
// Events arrive on the returned channel, which is closed after the terminal
// event. Validation failures surface as an immediate error instead.
func (e *Engine) Send(ctx context.Context, conversationID string, msg chat.Content) (<-chan Event, error) {
	if msg.Role != chat.RoleUser {
		return nil, chat.NewError(chat.ErrInvalidMessageRole, "expected user message, got %s", msg.Role)
	}
	if msg.TokenEstimate == 0 {
		msg.TokenEstimate = chat.EstimateContentTokens(msg)
	}
	if _, err := e.store.Append(conversationID, msg); err != nil {
		return nil, err
	}

	events := make(chan Event, 16)
	go func() {
		defer close(events)
		e.run(ctx, conversationID, events, nil)
	}()
	return events, nil
}

// Resume re-enters a conversation paused at awaiting-confirmation. The
// pending calls are re-derived from the last persisted model message, so no
// in-memory state survives between the pause and the resume.
func (e *Engine) Resume(ctx context.Context, conversationID string, decision Decision) (<-chan Event, error) {
	history, err := e.store.History(conversationID)
	if err != nil {
		return nil, err
	}
	if len(history) == 0 {
		return nil, chat.NewError(chat.ErrNoHistory, "no history for conversation %s", conversationID)
	}
	last := history[len(history)-1]
	if last.Role != chat.RoleModel || len(last.FunctionCalls()) == 0 {
		return nil, chat.NewError(chat.ErrInvalidState, "conversation %s is not awaiting confirmation", conversationID)
	}

	events := make(chan Event, 16)
	go func() {
		defer close(events)
		e.run(ctx, conversationID, events, &decision)
	}()
	return events, nil
}

// run is the loop body shared by Send and Resume. decision is non-nil only
// on the resume path, where the first iteration executes the pending batch
// instead of issuing a model request.
func (e *Engine) run(ctx context.Context, conversationID string, events chan<- Event, decision *Decision) {
	var checkpoints []*checkpoint.Record
	toolsRan := false
	lastToolLabel := ""
	requests := 0

	if decision != nil {
		history, err := e.store.History(conversationID)
		if err != nil {
			events <- ErrorEvent{Err: asChatError(err)}
			return
		}
		msgIndex := len(history) - 1
		content := history[msgIndex]
		calls := e.applyDecision(conversationID, msgIndex, content, *decision)

		records, results, cancelled := e.executeBatch(ctx, conversationID, msgIndex, calls, events)
		checkpoints = append(checkpoints, records...)
		toolsRan = true
		lastToolLabel = labelFor(calls)
		requests++ // the paused turn's model request counts against the cap

		if done := e.foldResults(ctx, conversationID, results, records, cancelled, events); done {
			return
		}
	}

	for {
		if ctx.Err() != nil {
			events <- CancelledEvent{}
			return
		}
		if e.cfg.MaxToolIterations > 0 && requests >= e.cfg.MaxToolIterations {
			e.log.Warn("tool iteration cap reached", "conversation", conversationID, "iterations", requests)
			events <- MaxIterationsEvent{
				Iterations: requests,
				Err:        chat.NewError(chat.ErrMaxToolIterations, "stopped after %d model requests", requests),
			}
			return
		}
		requests++

		content, terminal := e.requestModel(ctx, conversationID, events)
		if terminal {
			return
		}

		msgIndex, err := e.store.Append(conversationID, content)
		if err != nil {
			events <- ErrorEvent{Err: asChatError(err)}
			return
		}

		calls := content.FunctionCalls()
		if len(calls) == 0 {
			if toolsRan {
				if rec := e.checkpoint(ctx, conversationID, msgIndex, lastToolLabel, checkpoint.PhaseAfter); rec != nil {
					checkpoints = append(checkpoints, rec)
				}
			}
			events <- CompleteEvent{Content: content.Clone(), Checkpoints: checkpoints}
			return
		}

		if _, confirm := e.gate.Split(calls); len(confirm) > 0 {
			events <- AwaitingConfirmationEvent{Calls: calls, PartialContent: content.Clone()}
			return
		}

		records, results, cancelled := e.executeBatch(ctx, conversationID, msgIndex, calls, events)
		checkpoints = append(checkpoints, records...)
		toolsRan = true
		lastToolLabel = labelFor(calls)

		if done := e.foldResults(ctx, conversationID, results, records, cancelled, events); done {
			return
		}
	}
}

// requestModel issues one model request and folds the streamed response
// into a normalized model message. terminal reports that a terminal event
// was already emitted.
func (e *Engine) requestModel(ctx context.Context, conversationID string, events chan<- Event) (chat.Content, bool) {
	history, err := e.store.History(conversationID)
	if err != nil {
		events <- ErrorEvent{Err: asChatError(err)}
		return chat.Content{}, true
	}
	apiHistory, err := e.store.HistoryForAPI(conversationID, e.cfg.API)
	if err != nil {
		events <- ErrorEvent{Err: asChatError(err)}
		return chat.Content{}, true
	}

	systemPrompt := ""
	if e.cfg.SystemPrompt != nil {
		systemPrompt = e.cfg.SystemPrompt(ctx)
	}
	trim := chat.ComputeTrim(ctx, history, apiHistory, e.cfg.Window, e.counter, systemPrompt)
	if trim.TrimStartIndex > 0 {
		e.log.Debug("history trimmed", "conversation", conversationID, "trim_start", trim.TrimStartIndex)
	}

	req := llm.Request{
		Model:        e.cfg.Model,
		History:      trim.History,
		SystemPrompt: systemPrompt,
		Tools:        e.toolDecls(),
	}

	stream, err := e.provider.Stream(ctx, req)
	if err != nil {
		if canceled(ctx, err) {
			events <- CancelledEvent{}
			return chat.Content{}, true
		}
		events <- ErrorEvent{Err: wrapTransport(err)}
		return chat.Content{}, true
	}
	defer stream.Close()

	acc := chat.NewAccumulator()
	for {
		chunk, err := stream.Recv()
		if err == io.EOF {
			break
		}
		if err != nil {
			partial := e.persistPartial(conversationID, acc)
			if canceled(ctx, err) {
				events <- CancelledEvent{PartialContent: partial}
				return chat.Content{}, true
			}
			events <- ErrorEvent{Err: wrapTransport(err)}
			return chat.Content{}, true
		}
		acc.Add(chunk)
		events <- ChunkEvent{Delta: chunk}
	}

	content := acc.Content()
	chat.NormalizeFunctionCalls(&content)
	chat.EnsureCallIDs(&content)
	return content, false
}

// persistPartial saves whatever the accumulator held when a request died.
// Best effort: persistence failures are logged, never raised.
func (e *Engine) persistPartial(conversationID string, acc *chat.Accumulator) *chat.Content {
	content := acc.Content()
	if len(content.Parts) == 0 {
		return nil
	}
	chat.NormalizeFunctionCalls(&content)
	chat.EnsureCallIDs(&content)
	if _, err := e.store.Append(conversationID, content); err != nil {
		e.log.Warn("failed to persist partial content", "conversation", conversationID, "error", err)
	}
	return &content
}

// applyDecision marks rejected calls on the persisted model message and
// returns the full batch with rejection flags set, preserving emission
// order. Only calls the gate holds for confirmation hinge on the human's
// answer; auto-executable calls in a mixed batch run regardless.
func (e *Engine) applyDecision(conversationID string, msgIndex int, content chat.Content, decision Decision) []chat.FunctionCall {
	updated := content.Clone()
	var calls []chat.FunctionCall
	for i := range updated.Parts {
		fc := updated.Parts[i].FunctionCall
		if fc == nil {
			continue
		}
		if !decision.Approved[fc.ID] && e.gate.NeedsConfirmation(fc.Name) {
			fc.Rejected = true
		}
		calls = append(calls, *fc)
	}
	if err := e.store.Update(conversationID, msgIndex, updated); err != nil {
		e.log.Warn("failed to record confirmation decision", "conversation", conversationID, "error", err)
	}
	return calls
}

// executeBatch runs one model turn's calls in emission order. Rejected
// calls get a structured rejection result without executing. Cancellation
// stops further calls from being issued; the one in flight completes.
func (e *Engine) executeBatch(ctx context.Context, conversationID string, msgIndex int, calls []chat.FunctionCall, events chan<- Event) (records []*checkpoint.Record, results []chat.FunctionResponse, cancelled bool) {
	events <- ToolsExecutingEvent{Calls: calls}

	if rec := e.checkpoint(ctx, conversationID, msgIndex, labelFor(calls), checkpoint.PhaseBefore); rec != nil {
		records = append(records, rec)
		events <- CheckpointsEvent{Checkpoints: []*checkpoint.Record{rec}}
	}

	for _, call := range calls {
		if ctx.Err() != nil {
			cancelled = true
			break
		}
		if call.Rejected {
			results = append(results, chat.FunctionResponse{
				ID:       call.ID,
				Name:     call.Name,
				Response: map[string]any{"success": false, "error": "call rejected by user"},
			})
			continue
		}

		started := time.Now()
		callCtx := chat.ContextWithCallID(ctx, call.ID)
		result := e.registry.Execute(callCtx, call.Name, call.Args)
		e.log.Debug("tool executed",
			"conversation", conversationID,
			"tool", call.Name,
			"success", result.Success,
			"duration", time.Since(started),
		)

		results = append(results, chat.FunctionResponse{
			ID:       call.ID,
			Name:     call.Name,
			Response: result.Response(),
		})
		if result.Cancelled {
			cancelled = true
			break
		}
	}

	if rec := e.checkpoint(ctx, conversationID, msgIndex, labelFor(calls), checkpoint.PhaseAfter); rec != nil {
		records = append(records, rec)
	}
	return records, results, cancelled
}

// foldResults persists one batch's results as a tool-result message and
// emits the iteration event, or the cancelled terminal when the batch was
// cut short. done reports that a terminal event was emitted.
func (e *Engine) foldResults(ctx context.Context, conversationID string, results []chat.FunctionResponse, records []*checkpoint.Record, cancelled bool, events chan<- Event) bool {
	if len(results) > 0 {
		folded := chat.FunctionResponseContent(results)
		folded.TokenEstimate = chat.EstimateContentTokens(folded)
		if _, err := e.store.Append(conversationID, folded); err != nil {
			if cancelled || ctx.Err() != nil {
				e.log.Warn("failed to persist tool results", "conversation", conversationID, "error", err)
			} else {
				events <- ErrorEvent{Err: asChatError(err)}
				return true
			}
		}
		if !cancelled {
			events <- ToolIterationEvent{Results: folded, Checkpoints: records}
		}
	}
	if cancelled {
		events <- CancelledEvent{}
		return true
	}
	return false
}

func (e *Engine) checkpoint(ctx context.Context, conversationID string, msgIndex int, toolName string, phase checkpoint.Phase) *checkpoint.Record {
	rec, err := e.checkpoints.Create(ctx, conversationID, msgIndex, toolName, phase)
	if err != nil {
		e.log.Warn("checkpoint failed", "conversation", conversationID, "phase", phase, "error", err)
		return nil
	}
	return rec
}

func (e *Engine) toolDecls() []llm.ToolDecl {
	specs := e.registry.AllSpecs()
	decls := make([]llm.ToolDecl, 0, len(specs))
	for _, s := range specs {
		decls = append(decls, llm.ToolDecl{Name: s.Name, Description: s.Description, Schema: s.Schema})
	}
	return decls
}

// labelFor names a batch on its checkpoints: the tool's own name for a
// single call, a generic label otherwise.
func labelFor(calls []chat.FunctionCall) string {
	if len(calls) == 1 {
		return calls[0].Name
	}
	return batchLabel
}

// canceled reports whether a transport failure was really the caller's
// cancellation. Checked before classifying the failure as a genuine error.
func canceled(ctx context.Context, err error) bool {
	return ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func wrapTransport(err error) *chat.Error {
	var te *llm.TransportError
	if errors.As(err, &te) {
		return &chat.Error{
			Code:    chat.ErrTransport,
			Message: te.Message,
			Detail:  te.Detail,
			Cause:   err,
		}
	}
	return chat.WrapTransport(err, "")
}

func asChatError(err error) *chat.Error {
	var ce *chat.Error
	if errors.As(err, &ce) {
		return ce
	}
	return chat.NewError(chat.ErrInvalidState, "%v", err)
}
