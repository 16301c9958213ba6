package engine

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/Mateus-rgb/Lim-Code-sub001/internal/chat"
	"github.com/Mateus-rgb/Lim-Code-sub001/internal/checkpoint"
	"github.com/Mateus-rgb/Lim-Code-sub001/internal/llm"
	"github.com/Mateus-rgb/Lim-Code-sub001/internal/store"
	"github.com/Mateus-rgb/Lim-Code-sub001/internal/tools"
)

// scriptedProvider plays back one stream per model request, in order. The
// last turn repeats once the script runs out.
type scriptedProvider struct {
	mu    sync.Mutex
	turns []func(req llm.Request) (llm.Stream, error)
	calls int
}

func (p *scriptedProvider) Name() string { return "scripted" }

func (p *scriptedProvider) Capabilities() llm.Capabilities {
	return llm.Capabilities{Streaming: true, ToolCalls: true}
}

func (p *scriptedProvider) Stream(ctx context.Context, req llm.Request) (llm.Stream, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.turns) == 0 {
		return nil, fmt.Errorf("no scripted turns")
	}
	idx := p.calls
	if idx >= len(p.turns) {
		idx = len(p.turns) - 1
	}
	p.calls++
	return p.turns[idx](req)
}

func (p *scriptedProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func textTurn(text string) func(llm.Request) (llm.Stream, error) {
	return func(llm.Request) (llm.Stream, error) {
		return llm.NewSingleChunkStream(chat.Chunk{Parts: []chat.Part{{Text: text}}}), nil
	}
}

func toolTurn(calls ...chat.FunctionCall) func(llm.Request) (llm.Stream, error) {
	return func(llm.Request) (llm.Stream, error) {
		var parts []chat.Part
		for i := range calls {
			call := calls[i]
			parts = append(parts, chat.Part{FunctionCall: &call})
		}
		return llm.NewSingleChunkStream(chat.Chunk{Parts: parts}), nil
	}
}

// failingStream yields its chunks, then a terminal error.
type failingStream struct {
	chunks []chat.Chunk
	err    error
}

func (s *failingStream) Recv() (chat.Chunk, error) {
	if len(s.chunks) > 0 {
		ch := s.chunks[0]
		s.chunks = s.chunks[1:]
		return ch, nil
	}
	if s.err != nil {
		err := s.err
		s.err = nil
		return chat.Chunk{}, err
	}
	return chat.Chunk{}, io.EOF
}

func (s *failingStream) Close() error { return nil }

// countingTool records how many times it ran and delegates to fn.
type countingTool struct {
	name string
	fn   func(ctx context.Context, args map[string]any) tools.Result

	mu   sync.Mutex
	runs int
}

func (t *countingTool) Spec() tools.Spec {
	return tools.Spec{Name: t.name, Description: "test tool"}
}

func (t *countingTool) Execute(ctx context.Context, args map[string]any) tools.Result {
	t.mu.Lock()
	t.runs++
	t.mu.Unlock()
	if t.fn != nil {
		return t.fn(ctx, args)
	}
	return tools.Ok(map[string]any{"output": "ok"})
}

func (t *countingTool) runCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.runs
}

func newTestEngine(t *testing.T, provider llm.Provider, registry *tools.Registry, gate *chat.Gate, maxIterations int) (*Engine, store.Store, string) {
	t.Helper()
	st := store.NewMemory()
	const conversationID = "conv"
	if err := st.Create(conversationID); err != nil {
		t.Fatalf("Create() failed: %v", err)
	}
	eng := New(provider, st, registry, gate, nil, nil, Config{
		Model:             "test-model",
		MaxToolIterations: maxIterations,
	}, nil)
	return eng, st, conversationID
}

func drain(t *testing.T, events <-chan Event) []Event {
	t.Helper()
	var out []Event
	for ev := range events {
		out = append(out, ev)
	}
	return out
}

func lastEvent(t *testing.T, events []Event) Event {
	t.Helper()
	if len(events) == 0 {
		t.Fatal("no events emitted")
	}
	return events[len(events)-1]
}

func findEvent[T Event](events []Event) (T, bool) {
	for _, ev := range events {
		if typed, ok := ev.(T); ok {
			return typed, true
		}
	}
	var zero T
	return zero, false
}

func countEvents[T Event](events []Event) int {
	n := 0
	for _, ev := range events {
		if _, ok := ev.(T); ok {
			n++
		}
	}
	return n
}

func TestSendTextOnlyCompletes(t *testing.T) {
	provider := &scriptedProvider{turns: []func(llm.Request) (llm.Stream, error){
		textTurn("Hello there"),
	}}
	eng, st, id := newTestEngine(t, provider, tools.NewRegistry(), nil, 0)

	events, err := eng.Send(context.Background(), id, chat.UserText("hi"))
	if err != nil {
		t.Fatalf("Send() failed: %v", err)
	}
	all := drain(t, events)

	complete, ok := lastEvent(t, all).(CompleteEvent)
	if !ok {
		t.Fatalf("last event = %T, want CompleteEvent", lastEvent(t, all))
	}
	if got := complete.Content.Text(); got != "Hello there" {
		t.Errorf("final text = %q, want %q", got, "Hello there")
	}
	if provider.callCount() != 1 {
		t.Errorf("provider called %d times, want 1", provider.callCount())
	}

	history, err := st.History(id)
	if err != nil {
		t.Fatalf("History() failed: %v", err)
	}
	if len(history) != 2 {
		t.Errorf("history has %d messages, want 2", len(history))
	}
}

func TestSendRejectsModelRole(t *testing.T) {
	provider := &scriptedProvider{turns: []func(llm.Request) (llm.Stream, error){textTurn("x")}}
	eng, _, id := newTestEngine(t, provider, tools.NewRegistry(), nil, 0)

	_, err := eng.Send(context.Background(), id, chat.ModelText("nope"))
	if chat.CodeOf(err) != chat.ErrInvalidMessageRole {
		t.Errorf("error code = %q, want %q", chat.CodeOf(err), chat.ErrInvalidMessageRole)
	}
}

func TestSendToolLoop(t *testing.T) {
	echo := &countingTool{name: "echo", fn: func(ctx context.Context, args map[string]any) tools.Result {
		return tools.Ok(map[string]any{"output": args["text"]})
	}}
	registry := tools.NewRegistry()
	registry.Register(echo)

	provider := &scriptedProvider{turns: []func(llm.Request) (llm.Stream, error){
		toolTurn(chat.FunctionCall{ID: "fc_1", Name: "echo", Args: map[string]any{"text": "ping"}}),
		textTurn("done"),
	}}
	eng, st, id := newTestEngine(t, provider, registry, chat.NewGate([]string{"echo"}), 0)

	events, err := eng.Send(context.Background(), id, chat.UserText("run echo"))
	if err != nil {
		t.Fatalf("Send() failed: %v", err)
	}
	all := drain(t, events)

	if _, ok := findEvent[ToolsExecutingEvent](all); !ok {
		t.Error("no ToolsExecutingEvent emitted")
	}
	iter, ok := findEvent[ToolIterationEvent](all)
	if !ok {
		t.Fatal("no ToolIterationEvent emitted")
	}
	if !iter.Results.IsFunctionResponse {
		t.Error("iteration results not marked as a tool-result message")
	}
	resp := iter.Results.Parts[0].FunctionResponse
	if resp == nil || resp.ID != "fc_1" {
		t.Fatalf("result part = %+v, want function response fc_1", iter.Results.Parts[0])
	}
	if resp.Response["success"] != true || resp.Response["output"] != "ping" {
		t.Errorf("response payload = %v", resp.Response)
	}

	if _, ok := lastEvent(t, all).(CompleteEvent); !ok {
		t.Errorf("last event = %T, want CompleteEvent", lastEvent(t, all))
	}
	if echo.runCount() != 1 {
		t.Errorf("tool ran %d times, want 1", echo.runCount())
	}
	if provider.callCount() != 2 {
		t.Errorf("provider called %d times, want 2", provider.callCount())
	}

	// user, model(call), tool result, model(text)
	history, _ := st.History(id)
	if len(history) != 4 {
		t.Errorf("history has %d messages, want 4", len(history))
	}
}

func TestSendUnknownToolFeedsFailureBack(t *testing.T) {
	provider := &scriptedProvider{turns: []func(llm.Request) (llm.Stream, error){
		toolTurn(chat.FunctionCall{ID: "fc_1", Name: "no_such_tool"}),
		textTurn("recovered"),
	}}
	eng, _, id := newTestEngine(t, provider, tools.NewRegistry(), chat.NewGate([]string{"no_such_tool"}), 0)

	events, err := eng.Send(context.Background(), id, chat.UserText("go"))
	if err != nil {
		t.Fatalf("Send() failed: %v", err)
	}
	all := drain(t, events)

	iter, ok := findEvent[ToolIterationEvent](all)
	if !ok {
		t.Fatal("no ToolIterationEvent emitted")
	}
	resp := iter.Results.Parts[0].FunctionResponse
	if resp.Response["success"] != false {
		t.Error("unknown tool reported success")
	}
	errMsg, _ := resp.Response["error"].(string)
	if !strings.Contains(errMsg, "tool not found") {
		t.Errorf("error = %q, want a tool-not-found failure", errMsg)
	}
	if _, ok := lastEvent(t, all).(CompleteEvent); !ok {
		t.Errorf("last event = %T, want CompleteEvent (loop should recover)", lastEvent(t, all))
	}
}

func TestSendIterationCap(t *testing.T) {
	echo := &countingTool{name: "echo"}
	registry := tools.NewRegistry()
	registry.Register(echo)

	// The model asks for a tool on every turn; the cap must stop the loop
	// after exactly one model request.
	provider := &scriptedProvider{turns: []func(llm.Request) (llm.Stream, error){
		toolTurn(chat.FunctionCall{ID: "fc_1", Name: "echo"}),
	}}
	eng, _, id := newTestEngine(t, provider, registry, chat.NewGate([]string{"echo"}), 1)

	events, err := eng.Send(context.Background(), id, chat.UserText("loop"))
	if err != nil {
		t.Fatalf("Send() failed: %v", err)
	}
	all := drain(t, events)

	maxed, ok := lastEvent(t, all).(MaxIterationsEvent)
	if !ok {
		t.Fatalf("last event = %T, want MaxIterationsEvent", lastEvent(t, all))
	}
	if maxed.Iterations != 1 {
		t.Errorf("Iterations = %d, want 1", maxed.Iterations)
	}
	if maxed.Err == nil || maxed.Err.Code != chat.ErrMaxToolIterations {
		t.Errorf("terminal error = %+v, want code %q", maxed.Err, chat.ErrMaxToolIterations)
	}
	if provider.callCount() != 1 {
		t.Errorf("provider called %d times, want exactly 1", provider.callCount())
	}
	if echo.runCount() != 1 {
		t.Errorf("tool ran %d times, want 1 (the cap stops requests, not the pending batch)", echo.runCount())
	}
}

func TestSendCancelMidBatch(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	first := &countingTool{name: "first", fn: func(context.Context, map[string]any) tools.Result {
		cancel() // user interrupts while the first call runs
		return tools.Ok(map[string]any{"output": "done"})
	}}
	second := &countingTool{name: "second"}
	third := &countingTool{name: "third"}
	registry := tools.NewRegistry()
	registry.Register(first)
	registry.Register(second)
	registry.Register(third)

	provider := &scriptedProvider{turns: []func(llm.Request) (llm.Stream, error){
		toolTurn(
			chat.FunctionCall{ID: "fc_1", Name: "first"},
			chat.FunctionCall{ID: "fc_2", Name: "second"},
			chat.FunctionCall{ID: "fc_3", Name: "third"},
		),
	}}
	eng, st, id := newTestEngine(t, provider, registry, chat.NewGate([]string{"first", "second", "third"}), 0)

	events, err := eng.Send(ctx, id, chat.UserText("run three"))
	if err != nil {
		t.Fatalf("Send() failed: %v", err)
	}
	all := drain(t, events)

	if _, ok := lastEvent(t, all).(CancelledEvent); !ok {
		t.Fatalf("last event = %T, want CancelledEvent", lastEvent(t, all))
	}
	if n := countEvents[ToolIterationEvent](all); n != 0 {
		t.Errorf("got %d ToolIterationEvents after cancellation, want 0", n)
	}
	if second.runCount() != 0 || third.runCount() != 0 {
		t.Errorf("later calls ran after cancellation: second=%d third=%d", second.runCount(), third.runCount())
	}
	if provider.callCount() != 1 {
		t.Errorf("provider called %d times after cancellation, want 1", provider.callCount())
	}

	// The one completed result is still persisted.
	history, _ := st.History(id)
	last := history[len(history)-1]
	if !last.IsFunctionResponse {
		t.Fatalf("last persisted message is not a tool-result message: %+v", last)
	}
	if len(last.Parts) != 1 {
		t.Fatalf("persisted %d results, want 1", len(last.Parts))
	}
	if last.Parts[0].FunctionResponse.ID != "fc_1" {
		t.Errorf("persisted result id = %q, want fc_1", last.Parts[0].FunctionResponse.ID)
	}
}

func TestConfirmationPauseAndResume(t *testing.T) {
	write := &countingTool{name: "write_file"}
	registry := tools.NewRegistry()
	registry.Register(write)

	provider := &scriptedProvider{turns: []func(llm.Request) (llm.Stream, error){
		toolTurn(chat.FunctionCall{ID: "fc_1", Name: "write_file", Args: map[string]any{"path": "a.txt"}}),
		textTurn("written"),
	}}
	eng, _, id := newTestEngine(t, provider, registry, chat.NewGate(nil), 0)

	events, err := eng.Send(context.Background(), id, chat.UserText("write it"))
	if err != nil {
		t.Fatalf("Send() failed: %v", err)
	}
	all := drain(t, events)

	awaiting, ok := lastEvent(t, all).(AwaitingConfirmationEvent)
	if !ok {
		t.Fatalf("last event = %T, want AwaitingConfirmationEvent", lastEvent(t, all))
	}
	if len(awaiting.Calls) != 1 || awaiting.Calls[0].Name != "write_file" {
		t.Fatalf("pending calls = %+v", awaiting.Calls)
	}
	if write.runCount() != 0 {
		t.Fatal("tool ran before confirmation")
	}

	events, err = eng.Resume(context.Background(), id, Decision{
		Approved: map[string]bool{awaiting.Calls[0].ID: true},
	})
	if err != nil {
		t.Fatalf("Resume() failed: %v", err)
	}
	all = drain(t, events)

	if _, ok := lastEvent(t, all).(CompleteEvent); !ok {
		t.Fatalf("last event = %T, want CompleteEvent", lastEvent(t, all))
	}
	if write.runCount() != 1 {
		t.Errorf("tool ran %d times, want 1", write.runCount())
	}
	if provider.callCount() != 2 {
		t.Errorf("provider called %d times, want 2", provider.callCount())
	}
}

func TestResumeRejectedCallNeverExecutes(t *testing.T) {
	write := &countingTool{name: "write_file"}
	registry := tools.NewRegistry()
	registry.Register(write)

	provider := &scriptedProvider{turns: []func(llm.Request) (llm.Stream, error){
		toolTurn(chat.FunctionCall{ID: "fc_1", Name: "write_file"}),
		textTurn("understood"),
	}}
	eng, st, id := newTestEngine(t, provider, registry, chat.NewGate(nil), 0)

	events, err := eng.Send(context.Background(), id, chat.UserText("write it"))
	if err != nil {
		t.Fatalf("Send() failed: %v", err)
	}
	drain(t, events)

	// Empty decision rejects everything.
	events, err = eng.Resume(context.Background(), id, Decision{})
	if err != nil {
		t.Fatalf("Resume() failed: %v", err)
	}
	all := drain(t, events)

	if write.runCount() != 0 {
		t.Errorf("rejected tool ran %d times", write.runCount())
	}
	iter, ok := findEvent[ToolIterationEvent](all)
	if !ok {
		t.Fatal("no ToolIterationEvent emitted")
	}
	resp := iter.Results.Parts[0].FunctionResponse
	if resp.Response["success"] != false {
		t.Error("rejected call reported success")
	}
	if got, _ := resp.Response["error"].(string); got != "call rejected by user" {
		t.Errorf("rejection error = %q, want %q", got, "call rejected by user")
	}

	// The rejection is recorded on the persisted model message.
	history, _ := st.History(id)
	calls := history[1].FunctionCalls()
	if len(calls) != 1 || !calls[0].Rejected {
		t.Errorf("persisted calls = %+v, want the call marked rejected", calls)
	}
	if _, ok := lastEvent(t, all).(CompleteEvent); !ok {
		t.Errorf("last event = %T, want CompleteEvent", lastEvent(t, all))
	}
}

func TestResumeAutoExecCallsRunWithoutApproval(t *testing.T) {
	read := &countingTool{name: "read_file"}
	write := &countingTool{name: "write_file"}
	registry := tools.NewRegistry()
	registry.Register(read)
	registry.Register(write)

	// read_file auto-executes; write_file needs approval. The whole batch
	// pauses, but only write_file's fate hinges on the human.
	provider := &scriptedProvider{turns: []func(llm.Request) (llm.Stream, error){
		toolTurn(
			chat.FunctionCall{ID: "fc_1", Name: "read_file"},
			chat.FunctionCall{ID: "fc_2", Name: "write_file"},
		),
		textTurn("done"),
	}}
	eng, st, id := newTestEngine(t, provider, registry, chat.NewGate([]string{"read_file"}), 0)

	events, err := eng.Send(context.Background(), id, chat.UserText("go"))
	if err != nil {
		t.Fatalf("Send() failed: %v", err)
	}
	all := drain(t, events)
	if _, ok := lastEvent(t, all).(AwaitingConfirmationEvent); !ok {
		t.Fatalf("last event = %T, want AwaitingConfirmationEvent", lastEvent(t, all))
	}

	// Empty decision: the must-confirm call is rejected, the auto-exec call
	// runs anyway.
	events, err = eng.Resume(context.Background(), id, Decision{})
	if err != nil {
		t.Fatalf("Resume() failed: %v", err)
	}
	all = drain(t, events)

	if read.runCount() != 1 {
		t.Errorf("auto-exec tool ran %d times, want 1", read.runCount())
	}
	if write.runCount() != 0 {
		t.Errorf("unapproved tool ran %d times, want 0", write.runCount())
	}

	iter, ok := findEvent[ToolIterationEvent](all)
	if !ok {
		t.Fatal("no ToolIterationEvent emitted")
	}
	if got := iter.Results.Parts[0].FunctionResponse.Response["success"]; got != true {
		t.Errorf("auto-exec result success = %v, want true", got)
	}
	rejected := iter.Results.Parts[1].FunctionResponse
	if got, _ := rejected.Response["error"].(string); got != "call rejected by user" {
		t.Errorf("rejection error = %q, want %q", got, "call rejected by user")
	}

	history, _ := st.History(id)
	calls := history[1].FunctionCalls()
	if calls[0].Rejected {
		t.Error("auto-exec call marked rejected on the persisted message")
	}
	if !calls[1].Rejected {
		t.Error("unapproved call not marked rejected on the persisted message")
	}
	if _, ok := lastEvent(t, all).(CompleteEvent); !ok {
		t.Errorf("last event = %T, want CompleteEvent", lastEvent(t, all))
	}
}

func TestResumeInvalidState(t *testing.T) {
	provider := &scriptedProvider{turns: []func(llm.Request) (llm.Stream, error){textTurn("x")}}
	eng, st, id := newTestEngine(t, provider, tools.NewRegistry(), nil, 0)

	// Empty conversation: nothing to resume.
	if _, err := eng.Resume(context.Background(), id, Decision{}); chat.CodeOf(err) != chat.ErrNoHistory {
		t.Errorf("empty conversation: error code = %q, want %q", chat.CodeOf(err), chat.ErrNoHistory)
	}

	// Last message is plain text, not a pending call batch.
	if _, err := st.Append(id, chat.UserText("hi")); err != nil {
		t.Fatal(err)
	}
	if _, err := st.Append(id, chat.ModelText("hello")); err != nil {
		t.Fatal(err)
	}
	if _, err := eng.Resume(context.Background(), id, Decision{}); chat.CodeOf(err) != chat.ErrInvalidState {
		t.Errorf("no pending calls: error code = %q, want %q", chat.CodeOf(err), chat.ErrInvalidState)
	}

	if _, err := eng.Resume(context.Background(), "missing", Decision{}); chat.CodeOf(err) != chat.ErrNoHistory {
		t.Errorf("unknown conversation: error code = %q, want %q", chat.CodeOf(err), chat.ErrNoHistory)
	}
}

func TestSendTransportError(t *testing.T) {
	provider := &scriptedProvider{turns: []func(llm.Request) (llm.Stream, error){
		func(llm.Request) (llm.Stream, error) {
			return nil, &llm.TransportError{
				Code:    "gemini_429",
				Message: "resource exhausted",
				Detail:  `{"error":{"code":429}}`,
			}
		},
	}}
	eng, _, id := newTestEngine(t, provider, tools.NewRegistry(), nil, 0)

	events, err := eng.Send(context.Background(), id, chat.UserText("hi"))
	if err != nil {
		t.Fatalf("Send() failed: %v", err)
	}
	all := drain(t, events)

	errEvent, ok := lastEvent(t, all).(ErrorEvent)
	if !ok {
		t.Fatalf("last event = %T, want ErrorEvent", lastEvent(t, all))
	}
	if errEvent.Err.Code != chat.ErrTransport {
		t.Errorf("error code = %q, want %q", errEvent.Err.Code, chat.ErrTransport)
	}
	if errEvent.Err.Detail != `{"error":{"code":429}}` {
		t.Errorf("detail = %q, want the raw provider payload", errEvent.Err.Detail)
	}
}

func TestSendMidStreamErrorPersistsPartial(t *testing.T) {
	provider := &scriptedProvider{turns: []func(llm.Request) (llm.Stream, error){
		func(llm.Request) (llm.Stream, error) {
			return &failingStream{
				chunks: []chat.Chunk{{Parts: []chat.Part{{Text: "partial out"}}}},
				err:    &llm.TransportError{Code: "gemini_503", Message: "unavailable"},
			}, nil
		},
	}}
	eng, st, id := newTestEngine(t, provider, tools.NewRegistry(), nil, 0)

	events, err := eng.Send(context.Background(), id, chat.UserText("hi"))
	if err != nil {
		t.Fatalf("Send() failed: %v", err)
	}
	all := drain(t, events)

	if _, ok := lastEvent(t, all).(ErrorEvent); !ok {
		t.Fatalf("last event = %T, want ErrorEvent", lastEvent(t, all))
	}
	history, _ := st.History(id)
	last := history[len(history)-1]
	if last.Role != chat.RoleModel || last.Text() != "partial out" {
		t.Errorf("partial content not persisted: %+v", last)
	}
}

func TestSendMidStreamErrorAssignsIDsToPartialCalls(t *testing.T) {
	provider := &scriptedProvider{turns: []func(llm.Request) (llm.Stream, error){
		func(llm.Request) (llm.Stream, error) {
			return &failingStream{
				chunks: []chat.Chunk{{Parts: []chat.Part{
					{FunctionCall: &chat.FunctionCall{Name: "read_file", Args: map[string]any{"path": "a.txt"}}},
				}}},
				err: &llm.TransportError{Code: "gemini_503", Message: "unavailable"},
			}, nil
		},
	}}
	eng, st, id := newTestEngine(t, provider, tools.NewRegistry(), nil, 0)

	events, err := eng.Send(context.Background(), id, chat.UserText("hi"))
	if err != nil {
		t.Fatalf("Send() failed: %v", err)
	}
	all := drain(t, events)

	if _, ok := lastEvent(t, all).(ErrorEvent); !ok {
		t.Fatalf("last event = %T, want ErrorEvent", lastEvent(t, all))
	}

	// The provider never assigned the call an id; the persisted partial must
	// carry a synthesized one so a later Resume can address the call.
	history, _ := st.History(id)
	last := history[len(history)-1]
	calls := last.FunctionCalls()
	if len(calls) != 1 {
		t.Fatalf("persisted partial has %d calls, want 1: %+v", len(calls), last)
	}
	if calls[0].ID == "" {
		t.Error("persisted tool call has empty id")
	}
	if !strings.HasPrefix(calls[0].ID, "fc_") {
		t.Errorf("call id = %q, want a synthesized fc_ id", calls[0].ID)
	}
}

func TestSendCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	provider := &scriptedProvider{turns: []func(llm.Request) (llm.Stream, error){textTurn("x")}}
	eng, _, id := newTestEngine(t, provider, tools.NewRegistry(), nil, 0)

	events, err := eng.Send(ctx, id, chat.UserText("hi"))
	if err != nil {
		t.Fatalf("Send() failed: %v", err)
	}
	all := drain(t, events)

	if _, ok := lastEvent(t, all).(CancelledEvent); !ok {
		t.Errorf("last event = %T, want CancelledEvent", lastEvent(t, all))
	}
	if provider.callCount() != 0 {
		t.Errorf("provider called %d times on a dead context, want 0", provider.callCount())
	}
}

// recordingCheckpoints returns a record on the before phase and reports an
// unchanged workspace afterwards, like the real manager does.
type recordingCheckpoints struct {
	mu      sync.Mutex
	created []checkpoint.Phase
	labels  []string
}

func (m *recordingCheckpoints) Create(ctx context.Context, conversationID string, messageIndex int, toolName string, phase checkpoint.Phase) (*checkpoint.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.created = append(m.created, phase)
	m.labels = append(m.labels, toolName)
	if phase != checkpoint.PhaseBefore {
		return nil, nil
	}
	return &checkpoint.Record{ID: "snap-1", ToolName: toolName, Phase: phase}, nil
}

func TestSendCheckpointsBatch(t *testing.T) {
	a := &countingTool{name: "a"}
	b := &countingTool{name: "b"}
	registry := tools.NewRegistry()
	registry.Register(a)
	registry.Register(b)

	provider := &scriptedProvider{turns: []func(llm.Request) (llm.Stream, error){
		toolTurn(
			chat.FunctionCall{ID: "fc_1", Name: "a"},
			chat.FunctionCall{ID: "fc_2", Name: "b"},
		),
		textTurn("done"),
	}}
	st := store.NewMemory()
	if err := st.Create("conv"); err != nil {
		t.Fatal(err)
	}
	manager := &recordingCheckpoints{}
	eng := New(provider, st, registry, chat.NewGate([]string{"a", "b"}), manager, nil,
		Config{Model: "test-model"}, nil)

	events, err := eng.Send(context.Background(), "conv", chat.UserText("go"))
	if err != nil {
		t.Fatalf("Send() failed: %v", err)
	}
	all := drain(t, events)

	cps, ok := findEvent[CheckpointsEvent](all)
	if !ok {
		t.Fatal("no CheckpointsEvent emitted before the batch")
	}
	if len(cps.Checkpoints) != 1 || cps.Checkpoints[0].Phase != checkpoint.PhaseBefore {
		t.Errorf("checkpoint event = %+v", cps.Checkpoints)
	}
	if cps.Checkpoints[0].ToolName != "batch" {
		t.Errorf("multi-call batch label = %q, want %q", cps.Checkpoints[0].ToolName, "batch")
	}

	complete, ok := lastEvent(t, all).(CompleteEvent)
	if !ok {
		t.Fatalf("last event = %T, want CompleteEvent", lastEvent(t, all))
	}
	if len(complete.Checkpoints) != 1 || complete.Checkpoints[0].ID != "snap-1" {
		t.Errorf("final checkpoints = %+v, want the before snapshot", complete.Checkpoints)
	}
}
