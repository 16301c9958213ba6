package llm

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/shared/constant"

	"github.com/Mateus-rgb/Lim-Code-sub001/internal/chat"
)

const anthropicDefaultMaxTokens = 8192

// AnthropicProvider talks to the Anthropic Messages API.
type AnthropicProvider struct {
	client anthropic.Client
	model  string
}

func NewAnthropicProvider(apiKey, model string) *AnthropicProvider {
	if model == "" {
		model = "claude-sonnet-4-5"
	}
	var opts []option.RequestOption
	if apiKey != "" {
		opts = append(opts, option.WithAPIKey(apiKey))
	}
	return &AnthropicProvider{client: anthropic.NewClient(opts...), model: model}
}

func (p *AnthropicProvider) Name() string {
	return "anthropic"
}

func (p *AnthropicProvider) Capabilities() Capabilities {
	return Capabilities{
		Streaming:  true,
		ToolCalls:  true,
		Multimodal: true,
	}
}

func (p *AnthropicProvider) Stream(ctx context.Context, req Request) (Stream, error) {
	return newChunkStream(ctx, func(ctx context.Context, out chan<- chat.Chunk) error {
		model := req.Model
		if model == "" {
			model = p.model
		}

		params := anthropic.MessageNewParams{
			Model:     anthropic.Model(model),
			MaxTokens: anthropicDefaultMaxTokens,
			Messages:  buildAnthropicMessages(req.History),
		}
		if req.SystemPrompt != "" {
			params.System = []anthropic.TextBlockParam{{Text: req.SystemPrompt}}
		}
		if len(req.Tools) > 0 && !req.SuppressTools {
			params.Tools = buildAnthropicTools(req.Tools)
		}

		acc := newAnthropicCallAccumulator()
		usage := &chat.Usage{}
		modelVersion := ""

		stream := p.client.Messages.NewStreaming(ctx, params)
		for stream.Next() {
			event := stream.Current()
			switch variant := event.AsAny().(type) {
			case anthropic.MessageStartEvent:
				modelVersion = string(variant.Message.Model)
				usage.PromptTokens = int(variant.Message.Usage.InputTokens)
				usage.CachedTokens = int(variant.Message.Usage.CacheReadInputTokens)
			case anthropic.ContentBlockStartEvent:
				if block, ok := variant.ContentBlock.AsAny().(anthropic.ToolUseBlock); ok {
					acc.Start(variant.Index, block.ID, block.Name)
				}
			case anthropic.ContentBlockDeltaEvent:
				switch delta := variant.Delta.AsAny().(type) {
				case anthropic.TextDelta:
					if delta.Text != "" {
						out <- chat.Chunk{Parts: []chat.Part{{Text: delta.Text}}, Raw: event}
					}
				case anthropic.ThinkingDelta:
					if delta.Thinking != "" {
						out <- chat.Chunk{Parts: []chat.Part{{Text: delta.Thinking, Thought: true}}, Raw: event}
					}
				case anthropic.InputJSONDelta:
					acc.Append(variant.Index, delta.PartialJSON)
				}
			case anthropic.ContentBlockStopEvent:
				if call, ok := acc.Finish(variant.Index); ok {
					out <- chat.Chunk{Parts: []chat.Part{{FunctionCall: &call}}, Raw: event}
				}
			case anthropic.MessageDeltaEvent:
				if variant.Usage.OutputTokens > 0 {
					usage.CandidateTokens = int(variant.Usage.OutputTokens)
				}
			}
		}
		if err := stream.Err(); err != nil {
			return wrapAnthropicError(err)
		}

		usage.TotalTokens = usage.PromptTokens + usage.CandidateTokens
		out <- chat.Chunk{Done: true, Usage: usage, ModelVersion: modelVersion}
		return nil
	}), nil
}

func buildAnthropicMessages(history []chat.Content) []anthropic.MessageParam {
	out := make([]anthropic.MessageParam, 0, len(history))
	for _, msg := range history {
		var blocks []anthropic.ContentBlockParamUnion
		for _, part := range msg.Parts {
			switch {
			case part.FunctionCall != nil:
				blocks = append(blocks, anthropic.NewToolUseBlock(
					part.FunctionCall.ID, part.FunctionCall.Args, part.FunctionCall.Name))
			case part.FunctionResponse != nil:
				blocks = append(blocks, anthropicToolResultBlock(part.FunctionResponse))
			case part.InlineData != nil:
				if strings.HasPrefix(part.InlineData.MIMEType, "image/") {
					blocks = append(blocks, anthropic.NewImageBlockBase64(
						part.InlineData.MIMEType, base64Encode(part.InlineData.Data)))
				}
			case part.Thought:
				// Thought text is local-only; Anthropic requires a signature
				// to replay thinking blocks, which we do not persist.
			case part.Text != "":
				blocks = append(blocks, anthropic.NewTextBlock(part.Text))
			}
		}
		if len(blocks) == 0 {
			continue
		}
		if msg.Role == chat.RoleModel {
			out = append(out, anthropic.NewAssistantMessage(blocks...))
		} else {
			out = append(out, anthropic.NewUserMessage(blocks...))
		}
	}
	return out
}

func anthropicToolResultBlock(resp *chat.FunctionResponse) anthropic.ContentBlockParamUnion {
	text := ""
	if raw, err := json.Marshal(resp.Response); err == nil {
		text = string(raw)
	}
	isError := false
	if success, ok := resp.Response["success"].(bool); ok {
		isError = !success
	}
	block := anthropic.ToolResultBlockParam{
		ToolUseID: resp.ID,
		IsError:   anthropic.Bool(isError),
		Content: []anthropic.ToolResultBlockParamContentUnion{
			{OfText: &anthropic.TextBlockParam{Text: text}},
		},
	}
	return anthropic.ContentBlockParamUnion{OfToolResult: &block}
}

func buildAnthropicTools(decls []ToolDecl) []anthropic.ToolUnionParam {
	tools := make([]anthropic.ToolUnionParam, 0, len(decls))
	for _, decl := range decls {
		inputSchema := anthropic.ToolInputSchemaParam{
			Type:       constant.Object("object"),
			Properties: decl.Schema["properties"],
			Required:   schemaRequired(decl.Schema),
		}
		tool := anthropic.ToolUnionParamOfTool(inputSchema, decl.Name)
		if decl.Description != "" {
			tool.OfTool.Description = anthropic.String(decl.Description)
		}
		tools = append(tools, tool)
	}
	return tools
}

// anthropicCallAccumulator reassembles tool-call arguments streamed as
// partial JSON deltas, keyed by content-block index.
type anthropicCallAccumulator struct {
	calls   map[int64]chat.FunctionCall
	partial map[int64]*strings.Builder
}

func newAnthropicCallAccumulator() *anthropicCallAccumulator {
	return &anthropicCallAccumulator{
		calls:   make(map[int64]chat.FunctionCall),
		partial: make(map[int64]*strings.Builder),
	}
}

func (a *anthropicCallAccumulator) Start(index int64, id, name string) {
	a.calls[index] = chat.FunctionCall{ID: id, Name: name}
}

func (a *anthropicCallAccumulator) Append(index int64, partial string) {
	if partial == "" {
		return
	}
	builder := a.partial[index]
	if builder == nil {
		builder = &strings.Builder{}
		a.partial[index] = builder
	}
	builder.WriteString(partial)
}

func (a *anthropicCallAccumulator) Finish(index int64) (chat.FunctionCall, bool) {
	call, ok := a.calls[index]
	if !ok {
		return chat.FunctionCall{}, false
	}
	if builder := a.partial[index]; builder != nil && builder.Len() > 0 {
		var args map[string]any
		if err := json.Unmarshal([]byte(builder.String()), &args); err == nil {
			call.Args = args
		}
	}
	delete(a.calls, index)
	delete(a.partial, index)
	return call, true
}

func base64Encode(data []byte) string {
	return base64.StdEncoding.EncodeToString(data)
}

func wrapAnthropicError(err error) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return &TransportError{
			Code:    fmt.Sprintf("anthropic_%d", apiErr.StatusCode),
			Message: err.Error(),
			Detail:  apiErr.RawJSON(),
			Cause:   err,
		}
	}
	return &TransportError{Code: "anthropic", Message: err.Error(), Cause: err}
}
