package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"github.com/Mateus-rgb/Lim-Code-sub001/internal/chat"
)

// OpenAIProvider talks to the OpenAI Chat Completions API, or any
// compatible server when baseURL is set (Ollama, LM Studio). The API
// returns one final response per request, surfaced as a single-chunk
// stream; callers see Capabilities().Streaming == false.
type OpenAIProvider struct {
	client openai.Client
	model  string
	label  string
}

func NewOpenAIProvider(apiKey, model, baseURL string) *OpenAIProvider {
	if model == "" {
		model = "gpt-4.1"
	}
	var opts []option.RequestOption
	if apiKey != "" {
		opts = append(opts, option.WithAPIKey(apiKey))
	}
	label := "openai"
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
		label = "openai-compat"
	}
	return &OpenAIProvider{client: openai.NewClient(opts...), model: model, label: label}
}

func (p *OpenAIProvider) Name() string {
	return p.label
}

func (p *OpenAIProvider) Capabilities() Capabilities {
	return Capabilities{
		Streaming:  false,
		ToolCalls:  true,
		Multimodal: true,
	}
}

func (p *OpenAIProvider) Stream(ctx context.Context, req Request) (Stream, error) {
	model := req.Model
	if model == "" {
		model = p.model
	}

	params := openai.ChatCompletionNewParams{
		Model:    shared.ChatModel(model),
		Messages: buildOpenAIMessages(req.History, req.SystemPrompt),
	}
	if len(req.Tools) > 0 && !req.SuppressTools {
		params.Tools = buildOpenAITools(req.Tools)
	}

	resp, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, wrapOpenAIError(err)
	}

	chunk := chat.Chunk{
		ModelVersion: resp.Model,
		Usage: &chat.Usage{
			PromptTokens:    int(resp.Usage.PromptTokens),
			CandidateTokens: int(resp.Usage.CompletionTokens),
			ThoughtTokens:   int(resp.Usage.CompletionTokensDetails.ReasoningTokens),
			TotalTokens:     int(resp.Usage.TotalTokens),
		},
		Raw: resp,
	}
	if len(resp.Choices) > 0 {
		msg := resp.Choices[0].Message
		if msg.Content != "" {
			chunk.Parts = append(chunk.Parts, chat.Part{Text: msg.Content})
		}
		for _, tc := range msg.ToolCalls {
			call := chat.FunctionCall{ID: tc.ID, Name: tc.Function.Name}
			if raw := strings.TrimSpace(tc.Function.Arguments); raw != "" {
				var args map[string]any
				if err := json.Unmarshal([]byte(raw), &args); err == nil {
					call.Args = args
				}
			}
			chunk.Parts = append(chunk.Parts, chat.Part{FunctionCall: &call})
		}
	}
	return NewSingleChunkStream(chunk), nil
}

func buildOpenAIMessages(history []chat.Content, systemPrompt string) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(history)+1)
	if systemPrompt != "" {
		out = append(out, openai.SystemMessage(systemPrompt))
	}
	for _, msg := range history {
		if msg.Role == chat.RoleModel {
			out = append(out, buildOpenAIAssistantMessage(msg))
			continue
		}
		if msg.IsFunctionResponse {
			for _, part := range msg.Parts {
				if part.FunctionResponse == nil {
					continue
				}
				output := ""
				if raw, err := json.Marshal(part.FunctionResponse.Response); err == nil {
					output = string(raw)
				}
				out = append(out, openai.ToolMessage(output, part.FunctionResponse.ID))
			}
			continue
		}
		if text := msg.Text(); text != "" {
			out = append(out, openai.UserMessage(text))
		}
	}
	return out
}

func buildOpenAIAssistantMessage(msg chat.Content) openai.ChatCompletionMessageParamUnion {
	var toolCalls []openai.ChatCompletionMessageToolCallParam
	for _, part := range msg.Parts {
		if part.FunctionCall == nil {
			continue
		}
		args := "{}"
		if raw, err := json.Marshal(part.FunctionCall.Args); err == nil && len(part.FunctionCall.Args) > 0 {
			args = string(raw)
		}
		toolCalls = append(toolCalls, openai.ChatCompletionMessageToolCallParam{
			ID: part.FunctionCall.ID,
			Function: openai.ChatCompletionMessageToolCallFunctionParam{
				Name:      part.FunctionCall.Name,
				Arguments: args,
			},
		})
	}

	text := msg.Text()
	if len(toolCalls) == 0 {
		return openai.AssistantMessage(text)
	}
	assistant := openai.ChatCompletionAssistantMessageParam{ToolCalls: toolCalls}
	if text != "" {
		assistant.Content = openai.ChatCompletionAssistantMessageParamContentUnion{OfString: openai.String(text)}
	}
	return openai.ChatCompletionMessageParamUnion{OfAssistant: &assistant}
}

func buildOpenAITools(decls []ToolDecl) []openai.ChatCompletionToolParam {
	out := make([]openai.ChatCompletionToolParam, 0, len(decls))
	for _, decl := range decls {
		fn := shared.FunctionDefinitionParam{Name: decl.Name}
		if decl.Description != "" {
			fn.Description = openai.String(decl.Description)
		}
		if len(decl.Schema) > 0 {
			fn.Parameters = shared.FunctionParameters(decl.Schema)
		}
		out = append(out, openai.ChatCompletionToolParam{Function: fn})
	}
	return out
}

func wrapOpenAIError(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return &TransportError{
			Code:    fmt.Sprintf("openai_%d", apiErr.StatusCode),
			Message: err.Error(),
			Detail:  apiErr.RawJSON(),
			Cause:   err,
		}
	}
	return &TransportError{Code: "openai", Message: err.Error(), Cause: err}
}
