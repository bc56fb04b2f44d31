package llm

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"google.golang.org/genai"

	"github.com/Arthur-Ziegler/tatake-backend-251020-sub001/internal/httpkit"
)

// GeminiClient uses the Gemini API through the genai SDK.
type GeminiClient struct {
	client *genai.Client
	logger *slog.Logger
}

// NewGeminiClient creates a Gemini client. An empty endpoint selects the
// SDK default base URL.
func NewGeminiClient(ctx context.Context, endpoint, apiKey string, logger *slog.Logger) (*GeminiClient, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("provider", "gemini")

	cfg := &genai.ClientConfig{
		APIKey:     apiKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: httpkit.NewModelClient(logger),
	}
	if endpoint != "" {
		cfg.HTTPOptions = genai.HTTPOptions{BaseURL: endpoint}
	}

	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return &GeminiClient{client: client, logger: logger}, nil
}

// Chat sends a request and waits for the full response.
func (c *GeminiClient) Chat(ctx context.Context, req *Request) (*ChatResponse, error) {
	return c.ChatStream(ctx, req, nil)
}

// ChatStream streams a generateContent call.
func (c *GeminiClient) ChatStream(ctx context.Context, req *Request, callback StreamCallback) (*ChatResponse, error) {
	contents, system := toGeminiContents(req.Messages)

	config := &genai.GenerateContentConfig{
		SystemInstruction: system,
		Tools:             toGeminiTools(req.Tools),
	}
	if req.Temperature != nil {
		config.Temperature = genai.Ptr(float32(*req.Temperature))
	}
	if req.MaxTokens > 0 {
		config.MaxOutputTokens = int32(req.MaxTokens)
	}

	c.logger.Debug("preparing request",
		"model", req.Model,
		"contents", len(contents),
		"tools", len(req.Tools),
	)

	started := time.Now()
	var (
		content   strings.Builder
		toolCalls []ToolCall
		final     = &ChatResponse{Model: req.Model, CreatedAt: started}
	)

	for resp, err := range c.client.Models.GenerateContentStream(ctx, req.Model, contents, config) {
		if err != nil {
			return nil, fmt.Errorf("gemini stream: %w", err)
		}
		if resp.UsageMetadata != nil {
			final.InputTokens = int(resp.UsageMetadata.PromptTokenCount)
			final.OutputTokens = int(resp.UsageMetadata.CandidatesTokenCount)
		}
		for _, candidate := range resp.Candidates {
			if candidate.Content == nil {
				continue
			}
			for _, part := range candidate.Content.Parts {
				if part.Text != "" && !part.Thought {
					content.WriteString(part.Text)
					callback.emit(StreamEvent{Kind: KindToken, Token: part.Text})
				}
				if part.FunctionCall != nil {
					tc := ToolCall{
						ID: part.FunctionCall.ID,
						Function: FunctionCall{
							Name:      part.FunctionCall.Name,
							Arguments: part.FunctionCall.Args,
						},
					}
					if tc.Function.Arguments == nil {
						tc.Function.Arguments = map[string]any{}
					}
					toolCalls = append(toolCalls, tc)
					callback.emit(StreamEvent{Kind: KindToolCallStart, ToolCall: &tc})
				}
			}
		}
	}

	final.Done = true
	final.TotalDuration = time.Since(started)
	final.Message = Message{Role: RoleAssistant, Content: content.String(), ToolCalls: toolCalls}
	callback.emit(StreamEvent{Kind: KindDone, Response: final})

	c.logger.Debug("stream complete",
		"model", final.Model,
		"input_tokens", final.InputTokens,
		"output_tokens", final.OutputTokens,
		"tool_calls", len(toolCalls),
	)
	return final, nil
}

// Ping verifies the credential by listing one page of models.
func (c *GeminiClient) Ping(ctx context.Context) error {
	if _, err := c.client.Models.List(ctx, &genai.ListModelsConfig{PageSize: 1}); err != nil {
		return fmt.Errorf("gemini ping: %w", err)
	}
	return nil
}

// toGeminiContents converts messages into genai contents. Tool results
// become FunctionResponse parts; Gemini needs the function name, which is
// recovered from the assistant call carrying the same ID.
func toGeminiContents(messages []Message) ([]*genai.Content, *genai.Content) {
	system, rest := splitSystem(messages)

	var instruction *genai.Content
	if len(system) > 0 {
		instruction = &genai.Content{Parts: []*genai.Part{{Text: strings.Join(system, "\n\n")}}}
	}

	callNames := make(map[string]string)
	var contents []*genai.Content

	for _, m := range rest {
		switch m.Role {
		case RoleUser:
			contents = append(contents, &genai.Content{Role: genai.RoleUser, Parts: []*genai.Part{{Text: m.Content}}})

		case RoleAssistant:
			var parts []*genai.Part
			if m.Content != "" {
				parts = append(parts, &genai.Part{Text: m.Content})
			}
			for _, tc := range m.ToolCalls {
				callNames[tc.ID] = tc.Function.Name
				parts = append(parts, &genai.Part{FunctionCall: &genai.FunctionCall{
					ID:   tc.ID,
					Name: tc.Function.Name,
					Args: tc.Function.Arguments,
				}})
			}
			if len(parts) > 0 {
				contents = append(contents, &genai.Content{Role: genai.RoleModel, Parts: parts})
			}

		case RoleTool:
			part := &genai.Part{FunctionResponse: &genai.FunctionResponse{
				ID:       m.ToolCallID,
				Name:     callNames[m.ToolCallID],
				Response: toolResponsePayload(m.Content),
			}}
			// Responses for one model turn travel together in one user content.
			if n := len(contents); n > 0 && contents[n-1].Role == genai.RoleUser && isFunctionResponseContent(contents[n-1]) {
				contents[n-1].Parts = append(contents[n-1].Parts, part)
				continue
			}
			contents = append(contents, &genai.Content{Role: genai.RoleUser, Parts: []*genai.Part{part}})
		}
	}
	return contents, instruction
}

func isFunctionResponseContent(c *genai.Content) bool {
	return len(c.Parts) > 0 && c.Parts[0].FunctionResponse != nil
}

// toolResponsePayload decodes a JSON tool result into the map Gemini
// expects, wrapping anything else under "output".
func toolResponsePayload(content string) map[string]any {
	var payload map[string]any
	if err := json.Unmarshal([]byte(content), &payload); err == nil && payload != nil {
		return payload
	}
	return map[string]any{"output": content}
}

func toGeminiTools(defs []ToolDefinition) []*genai.Tool {
	if len(defs) == 0 {
		return nil
	}
	decls := make([]*genai.FunctionDeclaration, 0, len(defs))
	for _, d := range defs {
		decls = append(decls, &genai.FunctionDeclaration{
			Name:                 d.Name,
			Description:          d.Description,
			ParametersJsonSchema: d.Parameters,
		})
	}
	return []*genai.Tool{{FunctionDeclarations: decls}}
}
