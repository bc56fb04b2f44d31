package prompts

import "fmt"

// SummaryHeader prefixes the synthetic system message that replaces
// evicted conversation history.
const SummaryHeader = "[Conversation Summary]"

// compactionTemplate is the prompt sent to an LLM to summarize the part of a
// conversation that no longer fits the context window. The single format
// verb is the conversation text.
const compactionTemplate = `Summarize this earlier part of a task-planning conversation concisely. Focus on:
1. Tasks created, updated, completed or deleted (include task IDs and titles)
2. Decisions made or preferences expressed
3. Points balances or transactions mentioned
4. Any open items the user still expects help with

Keep the summary under 300 words. Use bullet points.

Conversation:
%s

Summary:`

// CompactionPrompt returns the fully interpolated prompt for conversation
// compaction. The caller passes the formatted conversation text (role: content
// lines) to be summarized.
func CompactionPrompt(conversationText string) string {
	return fmt.Sprintf(compactionTemplate, conversationText)
}
