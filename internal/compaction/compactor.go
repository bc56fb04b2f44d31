// Package compaction bounds the conversation history sent to the model.
// Whole turn groups are evicted oldest first, optionally replaced by a
// summary message, until the estimate fits the model's budget.
package compaction

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	jsoniter "github.com/json-iterator/go"

	"github.com/Arthur-Ziegler/tatake-backend-251020-sub001/internal/llm"
	"github.com/Arthur-Ziegler/tatake-backend-251020-sub001/internal/prompts"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Config controls compaction.
type Config struct {
	// MaxTokens overrides the model's context window. Zero means look the
	// model up with ContextWindowForModel.
	MaxTokens int

	// TriggerRatio is the share of the window history may use.
	TriggerRatio float64

	// ReserveTokens is subtracted from the budget for the system prompt,
	// tool definitions and the reply.
	ReserveTokens int

	// KeepRecentTurns is the number of newest turn groups never evicted.
	// Values below 1 are treated as 1.
	KeepRecentTurns int
}

// DefaultConfig returns the defaults used when configuration is silent.
func DefaultConfig() Config {
	return Config{
		TriggerRatio:    0.8,
		ReserveTokens:   4096,
		KeepRecentTurns: 1,
	}
}

// Stats describes one Compact call.
type Stats struct {
	InputMessages   int
	OutputMessages  int
	EvictedGroups   int
	EvictedMessages int
	EstimatedTokens int
	Budget          int
	Summarized      bool

	// OverBudget is set when the result still exceeds the budget after
	// every evictable group was dropped.
	OverBudget bool
}

// Compactor trims history to a token budget. It is safe for concurrent
// use when its Summarizer is.
type Compactor struct {
	config     Config
	estimator  Estimator
	summarizer Summarizer
	logger     *slog.Logger
}

// NewCompactor creates a compactor. A nil estimator means a fresh
// CharEstimator; a nil summarizer means evicted history is dropped
// without a summary.
func NewCompactor(cfg Config, estimator Estimator, summarizer Summarizer, logger *slog.Logger) *Compactor {
	if logger == nil {
		logger = slog.Default()
	}
	if estimator == nil {
		estimator = NewCharEstimator()
	}
	def := DefaultConfig()
	if cfg.TriggerRatio <= 0 || cfg.TriggerRatio > 1 {
		cfg.TriggerRatio = def.TriggerRatio
	}
	if cfg.ReserveTokens < 0 {
		cfg.ReserveTokens = 0
	}
	if cfg.KeepRecentTurns < 1 {
		cfg.KeepRecentTurns = 1
	}
	return &Compactor{
		config:     cfg,
		estimator:  estimator,
		summarizer: summarizer,
		logger:     logger.With("component", "compaction"),
	}
}

// Budget returns the token budget for history sent to model.
func (c *Compactor) Budget(model string) int {
	window := c.config.MaxTokens
	if window <= 0 {
		window = ContextWindowForModel(model)
	}
	return max(int(float64(window)*c.config.TriggerRatio)-c.config.ReserveTokens, 1)
}

// RecordUsage feeds provider-reported input tokens back to the estimator.
func (c *Compactor) RecordUsage(sent []llm.Message, inputTokens int) {
	c.estimator.RecordUsage(sent, inputTokens)
}

// Compact returns messages bounded to model's budget. The input is never
// modified. Order is preserved, the newest group always survives and a
// tool result is never separated from the call it answers.
func (c *Compactor) Compact(ctx context.Context, model string, messages []llm.Message) ([]llm.Message, Stats) {
	stats := Stats{
		InputMessages: len(messages),
		Budget:        c.Budget(model),
	}
	out := slices.Clone(messages)
	if len(messages) <= 1 {
		stats.OutputMessages = len(out)
		stats.EstimatedTokens = c.estimator.EstimateTokens(out)
		return out, stats
	}

	estimate := c.estimator.EstimateTokens(messages)
	if estimate <= stats.Budget {
		stats.OutputMessages = len(out)
		stats.EstimatedTokens = estimate
		return out, stats
	}

	groups := turnGroups(messages)
	evictable := max(len(groups)-c.config.KeepRecentTurns, 0)

	remaining := estimate
	evicted := 0
	for evicted < evictable && remaining > stats.Budget {
		g := groups[evicted]
		remaining -= c.estimator.EstimateTokens(messages[g.start:g.end])
		stats.EvictedMessages += g.len()
		evicted++
	}
	stats.EvictedGroups = evicted

	var cut int
	if evicted > 0 {
		cut = groups[evicted-1].end
	}
	out = slices.Clone(messages[cut:])

	if evicted > 0 && c.summarizer != nil {
		if summary, ok := c.summarize(ctx, messages[:cut]); ok {
			out = append([]llm.Message{summary}, out...)
			stats.Summarized = true
		}
	}

	stats.OutputMessages = len(out)
	stats.EstimatedTokens = c.estimator.EstimateTokens(out)
	stats.OverBudget = stats.EstimatedTokens > stats.Budget

	log := c.logger.With("model", model)
	if stats.OverBudget {
		log.Warn("history exceeds context budget after compaction",
			"estimated_tokens", stats.EstimatedTokens,
			"budget", stats.Budget,
			"messages", stats.OutputMessages,
		)
	} else if evicted > 0 {
		log.Info("history compacted",
			"evicted_groups", stats.EvictedGroups,
			"evicted_messages", stats.EvictedMessages,
			"estimated_tokens", stats.EstimatedTokens,
			"budget", stats.Budget,
			"summarized", stats.Summarized,
		)
	}
	return out, stats
}

func (c *Compactor) summarize(ctx context.Context, evicted []llm.Message) (llm.Message, bool) {
	text, err := c.summarizer.Summarize(ctx, evicted)
	if err != nil {
		c.logger.Warn("summarizing evicted history failed; continuing without summary", "error", err)
		return llm.Message{}, false
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return llm.Message{}, false
	}

	var sb strings.Builder
	sb.WriteString(prompts.SummaryHeader)
	sb.WriteString("\n")
	fmt.Fprintf(&sb, "Messages compacted: %d\n\n", len(evicted))
	sb.WriteString(text)
	return llm.Message{Role: llm.RoleSystem, Content: sb.String()}, true
}
