// Package agent runs conversation turns: it loads a thread, alternates
// model calls and tool dispatch until the model answers, and checkpoints
// the result.
package agent

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"runtime/debug"
	"strings"
	"time"

	"github.com/Arthur-Ziegler/tatake-backend-251020-sub001/internal/checkpoint"
	"github.com/Arthur-Ziegler/tatake-backend-251020-sub001/internal/compaction"
	"github.com/Arthur-Ziegler/tatake-backend-251020-sub001/internal/llm"
	"github.com/Arthur-Ziegler/tatake-backend-251020-sub001/internal/prompts"
	"github.com/Arthur-Ziegler/tatake-backend-251020-sub001/internal/tools"
)

// DefaultMaxIterations caps model calls per turn.
const DefaultMaxIterations = 10

// ErrCheckpoint wraps every failure to load or save thread state. Such
// failures are returned to the caller, never answered with an apology.
var ErrCheckpoint = errors.New("checkpoint failure")

// Config tunes the engine.
type Config struct {
	// MaxIterations caps AGENT visits per turn. The last allowed visit
	// withholds tools so the model must answer in text.
	MaxIterations int

	// DefaultOwnerID is used when the turn context carries no owner.
	DefaultOwnerID string
}

// Dispatcher runs the tool calls of one assistant message.
type Dispatcher interface {
	Definitions() []llm.ToolDefinition
	Dispatch(ctx context.Context, calls []llm.ToolCall) []tools.Result
}

// Result is the outcome of one turn.
type Result struct {
	Answer string

	// Thread is the state as saved at the end of the turn.
	Thread *checkpoint.State

	// Steps lists the states visited, ending with StateEnd.
	Steps []State

	// Degraded is set when a model failure was answered with the apology.
	Degraded bool

	Iterations   int
	InputTokens  int
	OutputTokens int
}

// UpdateKind identifies a streamed update.
type UpdateKind int

const (
	// UpdateToken carries incremental model text.
	UpdateToken UpdateKind = iota

	// UpdateNode carries the messages appended by an AGENT or TOOLS step.
	UpdateNode

	// UpdateEnd is the final update; Result is set.
	UpdateEnd
)

// Update is one element of a streamed turn.
type Update struct {
	Kind     UpdateKind
	Node     State
	Token    string
	Messages []llm.Message
	Result   *Result
}

// Engine runs turns. It is safe for concurrent use; turns on the same
// thread are serialized.
type Engine struct {
	gateway    *Gateway
	dispatcher Dispatcher
	compactor  *compaction.Compactor
	store      checkpoint.Store
	locks      *checkpoint.Locks
	config     Config
	logger     *slog.Logger
}

// NewEngine wires the engine's collaborators.
func NewEngine(gateway *Gateway, dispatcher Dispatcher, compactor *compaction.Compactor, store checkpoint.Store, cfg Config, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = DefaultMaxIterations
	}
	return &Engine{
		gateway:    gateway,
		dispatcher: dispatcher,
		compactor:  compactor,
		store:      store,
		locks:      checkpoint.NewLocks(),
		config:     cfg,
		logger:     logger.With("component", "agent"),
	}
}

// RunTurn appends userText to the thread, runs the model/tool loop until
// the model answers and checkpoints the whole turn at once. Tool failures
// and model failures do not produce errors; cancellation and checkpoint
// failures do, and in both cases nothing from the turn is saved.
func (e *Engine) RunTurn(ctx context.Context, threadID, userText string) (*Result, error) {
	return e.run(ctx, threadID, userText, nil)
}

// StreamTurn runs the same turn as RunTurn, yielding token and step
// updates as they happen and a final UpdateEnd. Stopping the iteration
// early cancels the turn and nothing is saved. An error is yielded at
// most once, as the last element.
func (e *Engine) StreamTurn(ctx context.Context, threadID, userText string) iter.Seq2[Update, error] {
	return func(yield func(Update, error) bool) {
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		stopped := false
		emit := func(u Update) bool {
			if stopped {
				return false
			}
			if !yield(u, nil) {
				stopped = true
				cancel()
				return false
			}
			return true
		}

		res, err := e.run(ctx, threadID, userText, emit)
		if stopped {
			return
		}
		if err != nil {
			yield(Update{}, err)
			return
		}
		yield(Update{Kind: UpdateEnd, Node: StateEnd, Result: res}, nil)
	}
}

// History returns the persisted messages of threadID; an unknown thread
// has none.
func (e *Engine) History(ctx context.Context, threadID string) ([]llm.Message, error) {
	st, err := e.store.Load(ctx, threadID)
	if errors.Is(err, checkpoint.ErrNotFound) {
		return []llm.Message{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCheckpoint, err)
	}
	return st.Messages, nil
}

func (e *Engine) run(ctx context.Context, threadID, userText string, emit func(Update) bool) (*Result, error) {
	if strings.TrimSpace(threadID) == "" {
		return nil, errors.New("agent: thread id is required")
	}
	if emit == nil {
		emit = func(Update) bool { return true }
	}
	start := time.Now()
	log := e.logger.With("thread", threadID)

	unlock, err := e.locks.Lock(ctx, threadID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	st, err := e.store.Load(ctx, threadID)
	switch {
	case errors.Is(err, checkpoint.ErrNotFound):
		st = checkpoint.NewState(threadID)
	case err != nil:
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("%w: load thread %s: %w", ErrCheckpoint, threadID, err)
	}

	owner := tools.OwnerIDFromContext(ctx)
	if owner == "" {
		owner = e.config.DefaultOwnerID
	}
	ctx = tools.WithOwnerID(ctx, owner)
	ctx = tools.WithThreadID(ctx, threadID)

	st.Messages = append(st.Messages, llm.Message{Role: llm.RoleUser, Content: userText})

	res := &Result{}
	// Call IDs stay unique across the thread; providers may repeat them.
	seenCalls := toolCallIDs(st.Messages)
	cancelled := func() error {
		if err := ctx.Err(); err != nil {
			return err
		}
		return context.Canceled
	}

	for state := StateAgent; state != StateEnd; state = Next(state, st.Messages) {
		res.Steps = append(res.Steps, state)

		switch state {
		case StateAgent:
			res.Iterations++
			final := res.Iterations >= e.config.MaxIterations
			onToken := func(tok string) { emit(Update{Kind: UpdateToken, Node: StateAgent, Token: tok}) }

			msg, reply, err := e.agentStep(ctx, log.With("iteration", res.Iterations), st.Messages, final, onToken)
			if err != nil {
				return nil, err
			}
			if reply == nil {
				res.Degraded = true
			} else {
				res.InputTokens += reply.InputTokens
				res.OutputTokens += reply.OutputTokens
			}
			assignToolCallIDs(msg.ToolCalls, seenCalls)
			st.Messages = append(st.Messages, msg)
			if !emit(Update{Kind: UpdateNode, Node: StateAgent, Messages: []llm.Message{msg}}) {
				return nil, cancelled()
			}

		case StateTools:
			calls := st.Messages[len(st.Messages)-1].ToolCalls
			results := e.dispatcher.Dispatch(ctx, calls)
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			msgs := tools.Messages(results)
			st.Messages = append(st.Messages, msgs...)
			if !emit(Update{Kind: UpdateNode, Node: StateTools, Messages: msgs}) {
				return nil, cancelled()
			}
		}
	}
	res.Steps = append(res.Steps, StateEnd)
	res.Answer = st.Messages[len(st.Messages)-1].Content

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := e.store.Save(ctx, st); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		log.Error("saving turn failed", "error", err)
		return nil, fmt.Errorf("%w: save thread %s: %w", ErrCheckpoint, threadID, err)
	}
	res.Thread = st

	log.Info("turn complete",
		"iterations", res.Iterations,
		"messages", len(st.Messages),
		"version", st.Version,
		"degraded", res.Degraded,
		"input_tokens", res.InputTokens,
		"output_tokens", res.OutputTokens,
		"elapsed", time.Since(start).Round(time.Millisecond),
	)
	return res, nil
}

// agentStep makes the single model call of an AGENT visit. Any failure
// other than cancellation is logged and answered with the apology, in
// which case reply is nil.
func (e *Engine) agentStep(ctx context.Context, log *slog.Logger, messages []llm.Message, final bool, onToken func(string)) (msg llm.Message, reply *Reply, err error) {
	defer func() {
		if p := recover(); p != nil {
			log.Error("agent step panicked; answering with apology",
				"panic", p, "stack", string(debug.Stack()))
			msg, reply, err = apology(), nil, nil
		}
	}()

	history, _ := e.compactor.Compact(ctx, e.gateway.Model(), messages)

	var defs []llm.ToolDefinition
	if final {
		log.Warn("iteration limit reached; requesting a final answer without tools",
			"max_iterations", e.config.MaxIterations)
		history = append(history, llm.Message{Role: llm.RoleSystem, Content: prompts.MaxIterationsNudge})
	} else {
		defs = e.dispatcher.Definitions()
	}

	reply, err = e.gateway.Invoke(ctx, history, defs, onToken)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return llm.Message{}, nil, ctxErr
		}
		log.Error("model call failed; answering with apology", "error", err)
		return apology(), nil, nil
	}

	msg = reply.Message
	if final && len(msg.ToolCalls) > 0 {
		log.Warn("model requested tools after the iteration limit; ignoring them",
			"tool_calls", len(msg.ToolCalls))
		msg.ToolCalls = nil
	}
	if !msg.HasToolCalls() && strings.TrimSpace(msg.Content) == "" {
		log.Warn("model returned an empty answer; using fallback")
		msg.Content = prompts.EmptyResponseFallback
	}
	return msg, reply, nil
}

func apology() llm.Message {
	return llm.Message{Role: llm.RoleAssistant, Content: prompts.ApologyMessage}
}
