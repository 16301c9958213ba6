package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"google.golang.org/genai"

	"github.com/Mateus-rgb/Lim-Code-sub001/internal/chat"
)

// GeminiProvider talks to the Google Gemini API. It also serves as the
// token-counting oracle for the window manager when available.
type GeminiProvider struct {
	apiKey string
	model  string
}

func NewGeminiProvider(apiKey, model string) *GeminiProvider {
	if model == "" {
		model = "gemini-2.5-flash"
	}
	return &GeminiProvider{apiKey: apiKey, model: model}
}

func (p *GeminiProvider) Name() string {
	return "gemini"
}

func (p *GeminiProvider) Capabilities() Capabilities {
	return Capabilities{
		Streaming:   true,
		ToolCalls:   true,
		CountTokens: true,
		Multimodal:  true,
	}
}

func (p *GeminiProvider) newClient(ctx context.Context) (*genai.Client, error) {
	return genai.NewClient(ctx, &genai.ClientConfig{APIKey: p.apiKey})
}

func (p *GeminiProvider) Stream(ctx context.Context, req Request) (Stream, error) {
	return newChunkStream(ctx, func(ctx context.Context, out chan<- chat.Chunk) error {
		client, err := p.newClient(ctx)
		if err != nil {
			return wrapGeminiError(fmt.Errorf("create gemini client: %w", err))
		}

		contents := buildGeminiContents(req.History)
		if len(contents) == 0 {
			return &TransportError{Code: "gemini", Message: "no content to send"}
		}

		config := &genai.GenerateContentConfig{}
		if req.SystemPrompt != "" {
			config.SystemInstruction = genai.NewContentFromText(req.SystemPrompt, genai.RoleUser)
		}
		if len(req.Tools) > 0 && !req.SuppressTools {
			config.Tools = buildGeminiTools(req.Tools)
		}

		model := req.Model
		if model == "" {
			model = p.model
		}

		var last *genai.GenerateContentResponse
		for resp, err := range client.Models.GenerateContentStream(ctx, model, contents, config) {
			if err != nil {
				return wrapGeminiError(err)
			}
			last = resp
			chunk := geminiChunk(resp)
			if len(chunk.Parts) > 0 {
				out <- chunk
			}
		}

		final := chat.Chunk{Done: true}
		if last != nil {
			final.ModelVersion = last.ModelVersion
			final.Usage = geminiUsage(last.UsageMetadata)
			final.Raw = last
		}
		out <- final
		return nil
	}), nil
}

// CountTokens consults the Gemini counting endpoint for an accurate token
// count of text, implementing chat.TokenCounter.
func (p *GeminiProvider) CountTokens(ctx context.Context, text string) (int, error) {
	client, err := p.newClient(ctx)
	if err != nil {
		return 0, err
	}
	resp, err := client.Models.CountTokens(ctx, p.model,
		[]*genai.Content{genai.NewContentFromText(text, genai.RoleUser)}, nil)
	if err != nil {
		return 0, wrapGeminiError(err)
	}
	return int(resp.TotalTokens), nil
}

func geminiChunk(resp *genai.GenerateContentResponse) chat.Chunk {
	chunk := chat.Chunk{Raw: resp}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return chunk
	}
	for _, part := range resp.Candidates[0].Content.Parts {
		switch {
		case part.FunctionCall != nil:
			chunk.Parts = append(chunk.Parts, chat.Part{
				FunctionCall: &chat.FunctionCall{
					ID:   part.FunctionCall.ID,
					Name: part.FunctionCall.Name,
					Args: part.FunctionCall.Args,
				},
			})
		case part.InlineData != nil:
			chunk.Parts = append(chunk.Parts, chat.Part{
				InlineData: &chat.Blob{
					MIMEType: part.InlineData.MIMEType,
					Data:     part.InlineData.Data,
				},
			})
		case part.Text != "":
			chunk.Parts = append(chunk.Parts, chat.Part{Text: part.Text, Thought: part.Thought})
		}
	}
	return chunk
}

func geminiUsage(meta *genai.GenerateContentResponseUsageMetadata) *chat.Usage {
	if meta == nil {
		return nil
	}
	return &chat.Usage{
		PromptTokens:    int(meta.PromptTokenCount),
		CandidateTokens: int(meta.CandidatesTokenCount),
		ThoughtTokens:   int(meta.ThoughtsTokenCount),
		CachedTokens:    int(meta.CachedContentTokenCount),
		TotalTokens:     int(meta.TotalTokenCount),
	}
}

func buildGeminiContents(history []chat.Content) []*genai.Content {
	contents := make([]*genai.Content, 0, len(history))
	for _, msg := range history {
		role := genai.RoleUser
		if msg.Role == chat.RoleModel {
			role = genai.RoleModel
		}
		content := &genai.Content{Role: role}
		for _, part := range msg.Parts {
			switch {
			case part.FunctionCall != nil:
				content.Parts = append(content.Parts, &genai.Part{
					FunctionCall: &genai.FunctionCall{
						ID:   part.FunctionCall.ID,
						Name: part.FunctionCall.Name,
						Args: part.FunctionCall.Args,
					},
				})
			case part.FunctionResponse != nil:
				content.Parts = append(content.Parts, &genai.Part{
					FunctionResponse: &genai.FunctionResponse{
						ID:       part.FunctionResponse.ID,
						Name:     part.FunctionResponse.Name,
						Response: part.FunctionResponse.Response,
					},
				})
				for _, blob := range part.FunctionResponse.Blobs {
					content.Parts = append(content.Parts, &genai.Part{
						InlineData: &genai.Blob{MIMEType: blob.MIMEType, Data: blob.Data},
					})
				}
			case part.InlineData != nil:
				content.Parts = append(content.Parts, &genai.Part{
					InlineData: &genai.Blob{
						MIMEType: part.InlineData.MIMEType,
						Data:     part.InlineData.Data,
					},
				})
			case part.Text != "":
				content.Parts = append(content.Parts, &genai.Part{Text: part.Text, Thought: part.Thought})
			}
		}
		if len(content.Parts) > 0 {
			contents = append(contents, content)
		}
	}
	return contents
}

func buildGeminiTools(decls []ToolDecl) []*genai.Tool {
	tools := make([]*genai.Tool, 0, len(decls))
	for _, decl := range decls {
		tools = append(tools, &genai.Tool{
			FunctionDeclarations: []*genai.FunctionDeclaration{
				{
					Name:        decl.Name,
					Description: decl.Description,
					Parameters:  schemaToGenai(normalizeSchemaForGemini(decl.Schema)),
				},
			},
		})
	}
	return tools
}

// wrapGeminiError converts an SDK failure into a TransportError, carrying
// the API's own error payload verbatim in Detail.
func wrapGeminiError(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		detail := ""
		if len(apiErr.Details) > 0 {
			if raw, merr := json.Marshal(apiErr.Details); merr == nil {
				detail = string(raw)
			}
		}
		return &TransportError{
			Code:    fmt.Sprintf("gemini_%d", apiErr.Code),
			Message: apiErr.Message,
			Detail:  detail,
			Cause:   err,
		}
	}
	return &TransportError{Code: "gemini", Message: err.Error(), Cause: err}
}
