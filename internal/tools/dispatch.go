package tools

import (
	"context"
	"errors"
	"log/slog"
	"runtime/debug"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Arthur-Ziegler/tatake-backend-251020-sub001/internal/llm"
)

// Dispatch defaults.
const (
	DefaultTimeout     = 30 * time.Second
	DefaultParallelism = 4
)

// DispatchConfig bounds tool execution.
type DispatchConfig struct {
	// Timeout is the per-call deadline. Zero means DefaultTimeout.
	Timeout time.Duration

	// Parallelism caps concurrently running calls. Zero means
	// DefaultParallelism; 1 runs calls sequentially.
	Parallelism int
}

// Result is the outcome of one tool call.
type Result struct {
	Call     llm.ToolCall
	Envelope Envelope
	Content  string
	Elapsed  time.Duration
}

// Dispatcher executes the tool calls of one assistant message.
type Dispatcher struct {
	registry    *Registry
	timeout     time.Duration
	parallelism int
	logger      *slog.Logger
}

// NewDispatcher creates a dispatcher over registry.
func NewDispatcher(registry *Registry, cfg DispatchConfig, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Parallelism <= 0 {
		cfg.Parallelism = DefaultParallelism
	}
	return &Dispatcher{
		registry:    registry,
		timeout:     cfg.Timeout,
		parallelism: cfg.Parallelism,
		logger:      logger.With("component", "dispatcher"),
	}
}

// Definitions returns the registry's tool definitions.
func (d *Dispatcher) Definitions() []llm.ToolDefinition {
	return d.registry.Definitions()
}

// Dispatch runs calls concurrently and returns exactly one result per
// call, in call order. It never fails: timeouts, panics and unknown tools
// all become failed envelopes.
func (d *Dispatcher) Dispatch(ctx context.Context, calls []llm.ToolCall) []Result {
	results := make([]Result, len(calls))

	var g errgroup.Group
	g.SetLimit(d.parallelism)
	for i, call := range calls {
		g.Go(func() error {
			results[i] = d.runOne(ctx, call)
			return nil
		})
	}
	_ = g.Wait()

	return results
}

func (d *Dispatcher) runOne(ctx context.Context, call llm.ToolCall) Result {
	start := time.Now()
	callCtx, cancel := context.WithTimeout(WithToolCallID(ctx, call.ID), d.timeout)
	defer cancel()

	log := d.logger.With("tool", call.Function.Name, "tool_call_id", call.ID, "thread", ThreadIDFromContext(ctx))
	log.Debug("executing tool", "args", call.Function.Arguments)

	done := make(chan Envelope, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				log.Error("tool handler panicked", "panic", p, "stack", string(debug.Stack()))
				done <- Failf(CodeDispatch, "tool %s failed unexpectedly: %v", call.Function.Name, p)
			}
		}()
		done <- d.registry.Execute(callCtx, call.Function.Name, call.Function.Arguments)
	}()

	var env Envelope
	select {
	case env = <-done:
	case <-callCtx.Done():
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			log.Warn("tool timed out", "timeout", d.timeout)
			env = Failf(CodeToolTimeout, "tool %s did not finish within %s", call.Function.Name, d.timeout)
		} else {
			env = Failf(CodeDispatch, "tool %s cancelled: %v", call.Function.Name, ctx.Err())
		}
	}

	content, err := env.Marshal()
	if err != nil {
		log.Error("tool returned an invalid envelope", "error", err)
		env = Failf(CodeDispatch, "tool %s produced an invalid result", call.Function.Name)
		content, _ = env.Marshal()
	}

	elapsed := time.Since(start)
	log.Info("tool executed",
		"success", env.Success,
		"error_code", env.ErrorCode,
		"elapsed", elapsed.Round(time.Millisecond),
	)

	return Result{Call: call, Envelope: env, Content: content, Elapsed: elapsed}
}

// Messages converts results into tool-role messages, one per call, in
// order.
func Messages(results []Result) []llm.Message {
	msgs := make([]llm.Message, len(results))
	for i, r := range results {
		msgs[i] = llm.Message{
			Role:       llm.RoleTool,
			Content:    r.Content,
			ToolCallID: r.Call.ID,
		}
	}
	return msgs
}

