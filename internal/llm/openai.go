package llm

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/responses"

	"github.com/Arthur-Ziegler/tatake-backend-251020-sub001/internal/httpkit"
)

// OpenAIClient uses the OpenAI Responses API. Any compatible endpoint
// can be targeted through the base URL.
type OpenAIClient struct {
	client openai.Client
	logger *slog.Logger
}

// NewOpenAIClient creates an OpenAI client. An empty endpoint selects the
// SDK default.
func NewOpenAIClient(endpoint, apiKey string, logger *slog.Logger) *OpenAIClient {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("provider", "openai")

	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithHTTPClient(httpkit.NewModelClient(logger)),
	}
	if endpoint != "" {
		opts = append(opts, option.WithBaseURL(endpoint))
	}

	return &OpenAIClient{
		client: openai.NewClient(opts...),
		logger: logger,
	}
}

// Chat sends a request and waits for the full response.
func (c *OpenAIClient) Chat(ctx context.Context, req *Request) (*ChatResponse, error) {
	return c.ChatStream(ctx, req, nil)
}

type pendingFunctionCall struct {
	callID string
	name   string
	args   strings.Builder
}

// ChatStream streams a Responses API call, forwarding text deltas to callback.
func (c *OpenAIClient) ChatStream(ctx context.Context, req *Request, callback StreamCallback) (*ChatResponse, error) {
	params := responses.ResponseNewParams{
		Model: req.Model,
		Input: responses.ResponseNewParamsInputUnion{
			OfInputItemList: toResponsesInput(req.Messages),
		},
	}
	if tools := toResponsesTools(req.Tools); len(tools) > 0 {
		params.Tools = tools
	}
	if req.Temperature != nil {
		params.Temperature = openai.Float(*req.Temperature)
	}
	if req.MaxTokens > 0 {
		params.MaxOutputTokens = openai.Int(int64(req.MaxTokens))
	}

	c.logger.Debug("preparing request",
		"model", req.Model,
		"messages", len(req.Messages),
		"tools", len(req.Tools),
	)

	started := time.Now()
	stream := c.client.Responses.NewStreaming(ctx, params)
	defer stream.Close()

	var (
		content strings.Builder
		calls   = make(map[string]*pendingFunctionCall)
		order   []string
		final   = &ChatResponse{Model: req.Model, CreatedAt: started}
	)

	for stream.Next() {
		event := stream.Current()
		switch v := event.AsAny().(type) {
		case responses.ResponseTextDeltaEvent:
			content.WriteString(v.Delta)
			callback.emit(StreamEvent{Kind: KindToken, Token: v.Delta})

		case responses.ResponseOutputItemAddedEvent:
			if v.Item.Type == "function_call" {
				calls[v.Item.ID] = &pendingFunctionCall{callID: v.Item.CallID, name: v.Item.Name}
				order = append(order, v.Item.ID)
			}

		case responses.ResponseFunctionCallArgumentsDeltaEvent:
			if p, ok := calls[v.ItemID]; ok {
				p.args.WriteString(v.Delta)
			}

		case responses.ResponseFunctionCallArgumentsDoneEvent:
			if p, ok := calls[v.ItemID]; ok {
				p.args.Reset()
				p.args.WriteString(v.Arguments)
				if v.Name != "" {
					p.name = v.Name
				}
			}

		case responses.ResponseCompletedEvent:
			final.Model = string(v.Response.Model)
			final.InputTokens = int(v.Response.Usage.InputTokens)
			final.OutputTokens = int(v.Response.Usage.OutputTokens)

		case responses.ResponseFailedEvent:
			return nil, fmt.Errorf("openai response failed: %s", v.Response.Error.Message)

		case responses.ResponseErrorEvent:
			return nil, fmt.Errorf("openai stream error: %s", v.Message)
		}
	}
	if err := stream.Err(); err != nil {
		return nil, fmt.Errorf("openai stream: %w", err)
	}

	var toolCalls []ToolCall
	for _, itemID := range order {
		p := calls[itemID]
		tc := ToolCall{
			ID:       p.callID,
			Function: FunctionCall{Name: p.name, Arguments: decodeArguments(p.args.String())},
		}
		toolCalls = append(toolCalls, tc)
		callback.emit(StreamEvent{Kind: KindToolCallStart, ToolCall: &tc})
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
	c.logger.Log(ctx, LevelTrace, "stream final content", "content", final.Message.Content)
	return final, nil
}

// Ping lists models to verify the endpoint and credential.
func (c *OpenAIClient) Ping(ctx context.Context) error {
	if _, err := c.client.Models.List(ctx); err != nil {
		return fmt.Errorf("openai ping: %w", err)
	}
	return nil
}

func toResponsesInput(messages []Message) []responses.ResponseInputItemUnionParam {
	items := make([]responses.ResponseInputItemUnionParam, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case RoleSystem:
			items = append(items, responses.ResponseInputItemParamOfMessage(m.Content, responses.EasyInputMessageRoleSystem))
		case RoleUser:
			items = append(items, responses.ResponseInputItemParamOfMessage(m.Content, responses.EasyInputMessageRoleUser))
		case RoleAssistant:
			if m.Content != "" {
				items = append(items, responses.ResponseInputItemParamOfMessage(m.Content, responses.EasyInputMessageRoleAssistant))
			}
			for _, tc := range m.ToolCalls {
				items = append(items, responses.ResponseInputItemParamOfFunctionCall(
					encodeArguments(tc.Function.Arguments),
					tc.ID,
					tc.Function.Name,
				))
			}
		case RoleTool:
			items = append(items, responses.ResponseInputItemParamOfFunctionCallOutput(m.ToolCallID, m.Content))
		}
	}
	return items
}

func toResponsesTools(defs []ToolDefinition) []responses.ToolUnionParam {
	tools := make([]responses.ToolUnionParam, 0, len(defs))
	for _, d := range defs {
		tools = append(tools, responses.ToolUnionParam{
			OfFunction: &responses.FunctionToolParam{
				Name:        d.Name,
				Description: openai.String(d.Description),
				Parameters:  d.Parameters,
			},
		})
	}
	return tools
}
