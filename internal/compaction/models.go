package compaction

import "strings"

// DefaultContextWindow applies to models missing from the registry.
const DefaultContextWindow = 128_000

// contextWindows maps model names, or name prefixes for dated and tagged
// variants, to context window sizes in tokens.
var contextWindows = map[string]int{
	"claude-opus-4":     200_000,
	"claude-sonnet-4":   200_000,
	"claude-haiku-4":    200_000,
	"claude-3-7-sonnet": 200_000,
	"claude-3-5-sonnet": 200_000,
	"claude-3-5-haiku":  200_000,

	"gpt-4o":       128_000,
	"gpt-4o-mini":  128_000,
	"gpt-4.1":      1_047_576,
	"gpt-4.1-mini": 1_047_576,
	"gpt-5":        400_000,
	"gpt-5-mini":   400_000,
	"gpt-4":        8_192,
	"o3":           200_000,
	"o4-mini":      200_000,

	"gemini-2.5-pro":   1_048_576,
	"gemini-2.5-flash": 1_048_576,
	"gemini-2.0-flash": 1_048_576,

	"llama3.1": 128_000,
	"llama3.2": 128_000,
	"qwen3":    40_960,
	"mistral":  32_768,
	"gemma3":   128_000,
}

// ContextWindowForModel returns the window for model. An exact match wins;
// otherwise the longest registered prefix applies, so
// "claude-sonnet-4-5-20250929" and "qwen3:32b" resolve to their family.
func ContextWindowForModel(model string) int {
	if w, ok := contextWindows[model]; ok {
		return w
	}
	best, window := 0, DefaultContextWindow
	for prefix, w := range contextWindows {
		if len(prefix) > best && strings.HasPrefix(model, prefix) {
			best, window = len(prefix), w
		}
	}
	return window
}
