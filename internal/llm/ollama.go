package llm

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/ollama/ollama/api"

	"github.com/Arthur-Ziegler/tatake-backend-251020-sub001/internal/httpkit"
)

const ollamaDefaultURL = "http://localhost:11434"

// OllamaClient talks to a local or remote Ollama server.
type OllamaClient struct {
	client *api.Client
	logger *slog.Logger
}

// NewOllamaClient creates a client for the Ollama server at endpoint.
func NewOllamaClient(endpoint string, logger *slog.Logger) (*OllamaClient, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if endpoint == "" {
		endpoint = ollamaDefaultURL
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid ollama endpoint %q: %w", endpoint, err)
	}
	logger = logger.With("provider", "ollama")
	return &OllamaClient{
		client: api.NewClient(u, httpkit.NewModelClient(logger)),
		logger: logger,
	}, nil
}

// Chat sends a chat request and waits for the full response.
func (c *OllamaClient) Chat(ctx context.Context, req *Request) (*ChatResponse, error) {
	return c.ChatStream(ctx, req, nil)
}

// ChatStream sends a chat request, streaming tokens to callback when set.
func (c *OllamaClient) ChatStream(ctx context.Context, req *Request, callback StreamCallback) (*ChatResponse, error) {
	tools, err := toOllamaTools(req.Tools)
	if err != nil {
		return nil, fmt.Errorf("convert tools: %w", err)
	}

	options := map[string]any{}
	if req.Temperature != nil {
		options["temperature"] = *req.Temperature
	}
	if req.MaxTokens > 0 {
		options["num_predict"] = req.MaxTokens
	}

	stream := true
	chatReq := &api.ChatRequest{
		Model:    req.Model,
		Messages: toOllamaMessages(req.Messages),
		Tools:    tools,
		Options:  options,
		Stream:   &stream,
	}

	c.logger.Debug("preparing request",
		"model", req.Model,
		"messages", len(chatReq.Messages),
		"tools", len(tools),
	)

	var (
		content   strings.Builder
		toolCalls []ToolCall
		final     = &ChatResponse{Model: req.Model}
	)

	err = c.client.Chat(ctx, chatReq, func(r api.ChatResponse) error {
		if r.Message.Content != "" {
			content.WriteString(r.Message.Content)
			callback.emit(StreamEvent{Kind: KindToken, Token: r.Message.Content})
		}
		for _, tc := range r.Message.ToolCalls {
			call := ToolCall{
				ID: tc.ID,
				Function: FunctionCall{
					Name:      tc.Function.Name,
					Arguments: fromOllamaArguments(tc.Function.Arguments),
				},
			}
			toolCalls = append(toolCalls, call)
			callback.emit(StreamEvent{Kind: KindToolCallStart, ToolCall: &call})
		}
		if r.Done {
			final.Model = r.Model
			final.CreatedAt = r.CreatedAt
			final.InputTokens = r.PromptEvalCount
			final.OutputTokens = r.EvalCount
			final.TotalDuration = r.TotalDuration
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("ollama chat: %w", err)
	}

	text := content.String()
	if len(toolCalls) == 0 && len(req.Tools) > 0 {
		// Smaller models often print the call as JSON instead of using
		// the native field.
		if parsed := parseTextToolCalls(text, req.Tools); len(parsed) > 0 {
			c.logger.Debug("recovered tool calls from content", "count", len(parsed))
			toolCalls = parsed
			text = ""
		}
	}

	final.Done = true
	final.Message = Message{Role: RoleAssistant, Content: text, ToolCalls: toolCalls}
	if final.CreatedAt.IsZero() {
		final.CreatedAt = time.Now()
	}
	callback.emit(StreamEvent{Kind: KindDone, Response: final})

	c.logger.Debug("stream complete",
		"model", final.Model,
		"input_tokens", final.InputTokens,
		"output_tokens", final.OutputTokens,
		"tool_calls", len(toolCalls),
	)
	return final, nil
}

// Ping checks if Ollama is reachable.
func (c *OllamaClient) Ping(ctx context.Context) error {
	return c.client.Heartbeat(ctx)
}

func toOllamaMessages(messages []Message) []api.Message {
	out := make([]api.Message, 0, len(messages))
	for _, m := range messages {
		msg := api.Message{Role: m.Role, Content: m.Content}
		for _, tc := range m.ToolCalls {
			msg.ToolCalls = append(msg.ToolCalls, api.ToolCall{
				ID: tc.ID,
				Function: api.ToolCallFunction{
					Name:      tc.Function.Name,
					Arguments: toOllamaArguments(tc.Function.Arguments),
				},
			})
		}
		if m.Role == RoleTool {
			msg.ToolCallID = m.ToolCallID
		}
		out = append(out, msg)
	}
	return out
}

// toOllamaTools converts definitions through JSON because api.Tool nests
// its schema in provider-specific types.
func toOllamaTools(defs []ToolDefinition) (api.Tools, error) {
	if len(defs) == 0 {
		return nil, nil
	}
	wire := make([]map[string]any, 0, len(defs))
	for _, d := range defs {
		wire = append(wire, map[string]any{
			"type": "function",
			"function": map[string]any{
				"name":        d.Name,
				"description": d.Description,
				"parameters":  d.Parameters,
			},
		})
	}
	raw, err := json.Marshal(wire)
	if err != nil {
		return nil, err
	}
	var tools api.Tools
	if err := json.Unmarshal(raw, &tools); err != nil {
		return nil, err
	}
	return tools, nil
}

func toOllamaArguments(args map[string]any) api.ToolCallFunctionArguments {
	var out api.ToolCallFunctionArguments
	if err := json.Unmarshal([]byte(encodeArguments(args)), &out); err != nil {
		return api.ToolCallFunctionArguments{}
	}
	return out
}

func fromOllamaArguments(args api.ToolCallFunctionArguments) map[string]any {
	raw, err := json.Marshal(args)
	if err != nil {
		return map[string]any{}
	}
	return decodeArguments(string(raw))
}

// parseTextToolCalls attempts to extract tool calls from content text.
// Handles a raw JSON object {"name": "...", "arguments": {...}}, a JSON
// array of those, and the same wrapped in <tool_call> tags. Only names
// present in tools are accepted so ordinary JSON answers pass through.
func parseTextToolCalls(content string, tools []ToolDefinition) []ToolCall {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil
	}

	if start := strings.Index(content, "<tool_call>"); start != -1 {
		rest := content[start+len("<tool_call>"):]
		if end := strings.Index(rest, "</tool_call>"); end != -1 {
			rest = rest[:end]
		}
		content = strings.TrimSpace(rest)
	}

	known := make(map[string]bool, len(tools))
	for _, t := range tools {
		known[t.Name] = true
	}

	type textCall struct {
		Name      string         `json:"name"`
		Arguments map[string]any `json:"arguments"`
	}

	var calls []textCall
	if err := json.Unmarshal([]byte(content), &calls); err != nil || len(calls) == 0 {
		var single textCall
		if err := json.Unmarshal([]byte(content), &single); err != nil || single.Name == "" {
			return nil
		}
		calls = []textCall{single}
	}

	result := make([]ToolCall, 0, len(calls))
	for _, c := range calls {
		if !known[c.Name] {
			return nil
		}
		args := c.Arguments
		if args == nil {
			args = map[string]any{}
		}
		result = append(result, ToolCall{Function: FunctionCall{Name: c.Name, Arguments: args}})
	}
	return result
}
