package compaction

import (
	"sync"

	"github.com/Arthur-Ziegler/tatake-backend-251020-sub001/internal/llm"
)

const (
	// defaultCharsPerToken overestimates tokens for English prose, which
	// makes compaction trigger slightly early rather than late.
	defaultCharsPerToken = 4.0

	// defaultSmoothing weights each new observation at 30%.
	defaultSmoothing = 0.3
)

// Estimator estimates the token footprint of messages without a
// tokenizer.
type Estimator interface {
	EstimateTokens(messages []llm.Message) int

	// RecordUsage calibrates the estimate against the input tokens the
	// provider reported for exactly these messages.
	RecordUsage(messages []llm.Message, inputTokens int)
}

// CharEstimator converts characters to tokens with a ratio that adapts
// to observed provider usage. The observed ratio absorbs the system
// prompt and tool definitions, which errs toward overestimating.
// It is safe for concurrent use.
type CharEstimator struct {
	mu            sync.Mutex
	charsPerToken float64
	smoothing     float64
	observations  int
}

// NewCharEstimator returns an estimator starting at 4 characters per
// token.
func NewCharEstimator() *CharEstimator {
	return &CharEstimator{
		charsPerToken: defaultCharsPerToken,
		smoothing:     defaultSmoothing,
	}
}

// EstimateTokens rounds up.
func (e *CharEstimator) EstimateTokens(messages []llm.Message) int {
	chars := messagesCharCount(messages)
	e.mu.Lock()
	ratio := e.charsPerToken
	e.mu.Unlock()
	return int(float64(chars)/ratio) + 1
}

// RecordUsage replaces the default ratio on the first observation and
// blends later ones with an exponential moving average.
func (e *CharEstimator) RecordUsage(messages []llm.Message, inputTokens int) {
	if inputTokens <= 0 {
		return
	}
	chars := messagesCharCount(messages)
	if chars == 0 {
		return
	}
	observed := float64(chars) / float64(inputTokens)

	e.mu.Lock()
	defer e.mu.Unlock()
	e.observations++
	if e.observations == 1 {
		e.charsPerToken = observed
		return
	}
	e.charsPerToken = e.smoothing*observed + (1-e.smoothing)*e.charsPerToken
}

// CharsPerToken returns the current ratio.
func (e *CharEstimator) CharsPerToken() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.charsPerToken
}
