package chat

import (
	"context"
	"encoding/json"
	"time"
)

// contextKey is a private type for context keys to prevent collisions.
type contextKey string

// toolCallIDKey is the context key for the current tool call ID.
const toolCallIDKey contextKey = "tool_call_id"

// ContextWithCallID returns a new context with the tool call ID set.
// Tool handlers use it to correlate emitted events with their invocation.
func ContextWithCallID(ctx context.Context, callID string) context.Context {
	return context.WithValue(ctx, toolCallIDKey, callID)
}

// CallIDFromContext extracts the tool call ID from context, or returns empty string.
func CallIDFromContext(ctx context.Context) string {
	if v := ctx.Value(toolCallIDKey); v != nil {
		if id, ok := v.(string); ok {
			return id
		}
	}
	return ""
}

// Role identifies which side of the conversation produced a message.
type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
)

// Blob is an inline binary attachment.
type Blob struct {
	MIMEType    string `json:"mime_type"`
	Data        []byte `json:"data,omitempty"`
	DisplayName string `json:"display_name,omitempty"`
	// DurationSecs and PageCount feed the local token estimator for
	// audio/video and document attachments. Zero means unknown.
	DurationSecs float64 `json:"duration_secs,omitempty"`
	PageCount    int     `json:"page_count,omitempty"`
}

// FunctionCall is a model-requested tool invocation.
type FunctionCall struct {
	ID   string         `json:"id,omitempty"`
	Name string         `json:"name"`
	Args map[string]any `json:"args,omitempty"`
	// Rejected marks a call the human declined during confirmation.
	Rejected bool `json:"rejected,omitempty"`
}

// FunctionResponse is the output of one executed tool call, paired to its
// FunctionCall by ID.
type FunctionResponse struct {
	ID       string         `json:"id,omitempty"`
	Name     string         `json:"name"`
	Response map[string]any `json:"response,omitempty"`
	Blobs    []Blob         `json:"blobs,omitempty"`
}

// Part is one element of a message. Exactly one of the union fields is
// populated; Text with Thought=true carries model reasoning.
type Part struct {
	Text             string            `json:"text,omitempty"`
	Thought          bool              `json:"thought,omitempty"`
	InlineData       *Blob             `json:"inline_data,omitempty"`
	FunctionCall     *FunctionCall     `json:"function_call,omitempty"`
	FunctionResponse *FunctionResponse `json:"function_response,omitempty"`
}

// IsText reports whether the part is a plain (or thought) text part.
func (p Part) IsText() bool {
	return p.FunctionCall == nil && p.FunctionResponse == nil && p.InlineData == nil
}

// Usage captures token counters reported by the transport.
type Usage struct {
	PromptTokens    int `json:"prompt_tokens,omitempty"`
	CandidateTokens int `json:"candidate_tokens,omitempty"`
	ThoughtTokens   int `json:"thought_tokens,omitempty"`
	CachedTokens    int `json:"cached_tokens,omitempty"`
	TotalTokens     int `json:"total_tokens,omitempty"`
}

// Content is one message in the conversation: a role, ordered parts, and
// optional metadata attached when the message was produced.
type Content struct {
	Role  Role   `json:"role"`
	Parts []Part `json:"parts"`

	Usage        *Usage        `json:"usage,omitempty"`
	ModelVersion string        `json:"model_version,omitempty"`
	Timestamp    time.Time     `json:"timestamp,omitempty"`
	Duration     time.Duration `json:"duration,omitempty"`
	ThinkingTime time.Duration `json:"thinking_time,omitempty"`

	// IsFunctionResponse marks a synthesized tool-result message. Such a
	// message always has RoleUser.
	IsFunctionResponse bool `json:"is_function_response,omitempty"`

	// IsSummary marks a context summary standing in for everything before it.
	IsSummary bool `json:"is_summary,omitempty"`
	// SummarizedCount is the number of messages the summary replaced.
	SummarizedCount int `json:"summarized_count,omitempty"`

	// TokenEstimate is a stored token cost for user messages, used by the
	// window manager before falling back to the local estimator.
	TokenEstimate int `json:"token_estimate,omitempty"`
}

// Text concatenates the message's non-thought text parts.
func (c Content) Text() string {
	var out string
	for _, p := range c.Parts {
		if p.IsText() && !p.Thought && p.Text != "" {
			if out != "" {
				out += "\n"
			}
			out += p.Text
		}
	}
	return out
}

// FunctionCalls returns the native function-call parts in order.
func (c Content) FunctionCalls() []FunctionCall {
	var calls []FunctionCall
	for _, p := range c.Parts {
		if p.FunctionCall != nil {
			calls = append(calls, *p.FunctionCall)
		}
	}
	return calls
}

// Clone returns a deep copy of the content. The loop hands clones to event
// consumers so later history mutation cannot race with the UI.
func (c Content) Clone() Content {
	out := c
	if c.Usage != nil {
		u := *c.Usage
		out.Usage = &u
	}
	out.Parts = clonePartSlice(c.Parts)
	return out
}

func clonePartSlice(parts []Part) []Part {
	if parts == nil {
		return nil
	}
	cloned := make([]Part, len(parts))
	for i, p := range parts {
		cloned[i] = clonePart(p)
	}
	return cloned
}

func clonePart(p Part) Part {
	out := p
	if p.InlineData != nil {
		blob := *p.InlineData
		blob.Data = append([]byte(nil), p.InlineData.Data...)
		out.InlineData = &blob
	}
	if p.FunctionCall != nil {
		call := *p.FunctionCall
		call.Args = cloneArgs(p.FunctionCall.Args)
		out.FunctionCall = &call
	}
	if p.FunctionResponse != nil {
		resp := *p.FunctionResponse
		resp.Response = cloneArgs(p.FunctionResponse.Response)
		if len(p.FunctionResponse.Blobs) > 0 {
			resp.Blobs = append([]Blob(nil), p.FunctionResponse.Blobs...)
		}
		out.FunctionResponse = &resp
	}
	return out
}

func cloneArgs(args map[string]any) map[string]any {
	if args == nil {
		return nil
	}
	// Round-trip through JSON for a cheap deep copy of nested values.
	data, err := json.Marshal(args)
	if err != nil {
		out := make(map[string]any, len(args))
		for k, v := range args {
			out[k] = v
		}
		return out
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return args
	}
	return out
}

// UserText builds a plain user message.
func UserText(text string) Content {
	return Content{
		Role:      RoleUser,
		Parts:     []Part{{Text: text}},
		Timestamp: time.Now(),
	}
}

// ModelText builds a plain model message.
func ModelText(text string) Content {
	return Content{
		Role:      RoleModel,
		Parts:     []Part{{Text: text}},
		Timestamp: time.Now(),
	}
}

// FunctionResponseContent folds tool results into the synthesized user
// message the transport expects.
func FunctionResponseContent(responses []FunctionResponse) Content {
	parts := make([]Part, 0, len(responses))
	for i := range responses {
		resp := responses[i]
		parts = append(parts, Part{FunctionResponse: &resp})
	}
	return Content{
		Role:               RoleUser,
		Parts:              parts,
		Timestamp:          time.Now(),
		IsFunctionResponse: true,
	}
}
