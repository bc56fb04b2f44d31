package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/Arthur-Ziegler/tatake-backend-251020-sub001/internal/llm"
)

// DefaultModelTimeout bounds one model call when the config is silent.
const DefaultModelTimeout = 120 * time.Second

// GatewayConfig configures model calls.
type GatewayConfig struct {
	Model string

	// Temperature is nil for the provider default.
	Temperature *float64

	MaxTokens int

	// Timeout bounds each call. Zero means DefaultModelTimeout.
	Timeout time.Duration
}

// SystemPromptFunc renders the system prompt for a call made at now.
type SystemPromptFunc func(now time.Time) string

// UsageRecorder receives the messages sent and the input tokens the
// provider reported for them.
type UsageRecorder interface {
	RecordUsage(sent []llm.Message, inputTokens int)
}

// ProviderUnavailableError reports a failed model call.
type ProviderUnavailableError struct {
	Model string
	Cause error
}

func (e *ProviderUnavailableError) Error() string {
	return fmt.Sprintf("model %s unavailable: %v", e.Model, e.Cause)
}

func (e *ProviderUnavailableError) Unwrap() error { return e.Cause }

// Reply is the outcome of one model call.
type Reply struct {
	Message      llm.Message
	Model        string
	InputTokens  int
	OutputTokens int
	Elapsed      time.Duration
}

// Gateway makes single model calls: it prepends a fresh system prompt,
// applies the call timeout and normalizes the reply.
type Gateway struct {
	client       llm.Client
	config       GatewayConfig
	systemPrompt SystemPromptFunc
	usage        UsageRecorder
	logger       *slog.Logger
	now          func() time.Time
}

// NewGateway creates a gateway. usage may be nil.
func NewGateway(client llm.Client, cfg GatewayConfig, systemPrompt SystemPromptFunc, usage UsageRecorder, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultModelTimeout
	}
	return &Gateway{
		client:       client,
		config:       cfg,
		systemPrompt: systemPrompt,
		usage:        usage,
		logger:       logger.With("component", "gateway", "model", cfg.Model),
		now:          time.Now,
	}
}

// Model returns the configured model name.
func (g *Gateway) Model() string { return g.config.Model }

// Invoke calls the model with history and the offered tools. Tokens are
// passed to onToken as they stream. If ctx itself is done the context
// error is returned unchanged; every other failure is a
// *ProviderUnavailableError.
func (g *Gateway) Invoke(ctx context.Context, history []llm.Message, tools []llm.ToolDefinition, onToken func(string)) (*Reply, error) {
	msgs := make([]llm.Message, 0, len(history)+1)
	if g.systemPrompt != nil {
		msgs = append(msgs, llm.Message{Role: llm.RoleSystem, Content: g.systemPrompt(g.now())})
	}
	msgs = append(msgs, history...)

	req := &llm.Request{
		Model:       g.config.Model,
		Messages:    msgs,
		Tools:       tools,
		Temperature: g.config.Temperature,
		MaxTokens:   g.config.MaxTokens,
	}

	var cb llm.StreamCallback
	if onToken != nil {
		cb = func(ev llm.StreamEvent) {
			if ev.Kind == llm.KindToken && ev.Token != "" {
				onToken(ev.Token)
			}
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, g.config.Timeout)
	defer cancel()

	start := time.Now()
	g.logger.Debug("calling model", "messages", len(msgs), "tools", len(tools))
	resp, err := g.call(callCtx, req, cb)
	elapsed := time.Since(start)

	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		if errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("no reply within %s: %w", g.config.Timeout, err)
		}
		return nil, &ProviderUnavailableError{Model: g.config.Model, Cause: err}
	}

	msg := resp.Message
	msg.Role = llm.RoleAssistant
	assignToolCallIDs(msg.ToolCalls, make(map[string]bool, len(msg.ToolCalls)))

	if g.usage != nil && resp.InputTokens > 0 {
		g.usage.RecordUsage(msgs, resp.InputTokens)
	}

	g.logger.Debug("model replied",
		"tool_calls", len(msg.ToolCalls),
		"input_tokens", resp.InputTokens,
		"output_tokens", resp.OutputTokens,
		"elapsed", elapsed.Round(time.Millisecond),
	)

	model := resp.Model
	if model == "" {
		model = g.config.Model
	}
	return &Reply{
		Message:      msg,
		Model:        model,
		InputTokens:  resp.InputTokens,
		OutputTokens: resp.OutputTokens,
		Elapsed:      elapsed,
	}, nil
}

// call converts provider panics and empty responses into errors.
func (g *Gateway) call(ctx context.Context, req *llm.Request, cb llm.StreamCallback) (resp *llm.ChatResponse, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("provider panicked: %v", p)
		}
	}()
	resp, err = g.client.ChatStream(ctx, req, cb)
	if err == nil && resp == nil {
		err = errors.New("provider returned no response")
	}
	return resp, err
}

// assignToolCallIDs gives a fresh ID to every call whose ID is empty or
// already in seen, then adds the final IDs to seen.
func assignToolCallIDs(calls []llm.ToolCall, seen map[string]bool) {
	for i := range calls {
		if id := calls[i].ID; id == "" || seen[id] {
			calls[i].ID = newToolCallID()
		}
		seen[calls[i].ID] = true
	}
}

// toolCallIDs collects the IDs of every tool call in msgs.
func toolCallIDs(msgs []llm.Message) map[string]bool {
	seen := make(map[string]bool)
	for _, m := range msgs {
		for _, c := range m.ToolCalls {
			seen[c.ID] = true
		}
	}
	return seen
}

func newToolCallID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return "call_" + uuid.NewString()
	}
	return "call_" + id.String()
}
