package llm

import (
	"context"
	"fmt"

	"github.com/Mateus-rgb/Lim-Code-sub001/internal/chat"
)

// Provider is a model transport: it turns a request into a stream of
// chunks. Providers that can only return a single final response surface it
// as a one-chunk stream; callers probe Capabilities to distinguish.
type Provider interface {
	Name() string
	Capabilities() Capabilities
	Stream(ctx context.Context, req Request) (Stream, error)
}

// Capabilities describe optional provider features.
type Capabilities struct {
	Streaming   bool
	ToolCalls   bool
	CountTokens bool
	Multimodal  bool
}

// ToolDecl is a tool declaration passed to the model.
type ToolDecl struct {
	Name        string
	Description string
	Schema      map[string]any
}

// Request represents a single model call.
type Request struct {
	Model        string
	History      []chat.Content
	SystemPrompt string
	Tools        []ToolDecl
	// SuppressTools omits tool declarations from the request even when
	// Tools is populated.
	SuppressTools bool
}

// Stream yields chunks until io.EOF. The terminal chunk carries Done plus
// usage metadata.
type Stream interface {
	Recv() (chat.Chunk, error)
	Close() error
}

// TransportError is a typed provider failure carrying a machine code, a
// human-readable message, and the provider's raw detail payload verbatim.
type TransportError struct {
	Code    string
	Message string
	Detail  string
	Cause   error
}

func (e *TransportError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return e.Message
}

func (e *TransportError) Unwrap() error {
	return e.Cause
}
