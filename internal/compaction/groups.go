package compaction

import "github.com/Arthur-Ziegler/tatake-backend-251020-sub001/internal/llm"

// messageOverhead approximates role markers and framing per message, in
// characters.
const messageOverhead = 20

// turnGroup is a half-open range [start, end) of messages that is kept or
// evicted as a unit. A group begins at a user message and runs up to the
// next one, so an assistant tool call always travels with its results.
type turnGroup struct {
	start, end int
}

func (g turnGroup) len() int { return g.end - g.start }

// turnGroups splits messages into groups. Messages before the first user
// message form their own leading group.
func turnGroups(messages []llm.Message) []turnGroup {
	var groups []turnGroup
	start := 0
	for i, m := range messages {
		if m.Role == llm.RoleUser && i > start {
			groups = append(groups, turnGroup{start: start, end: i})
			start = i
		}
	}
	if start < len(messages) {
		groups = append(groups, turnGroup{start: start, end: len(messages)})
	}
	return groups
}

// messageCharCount counts content, tool call names and arguments, plus
// the fixed per-message overhead.
func messageCharCount(m llm.Message) int {
	n := len(m.Content) + len(m.ToolCallID) + messageOverhead
	for _, tc := range m.ToolCalls {
		n += len(tc.ID) + len(tc.Function.Name)
		if len(tc.Function.Arguments) > 0 {
			if b, err := json.Marshal(tc.Function.Arguments); err == nil {
				n += len(b)
			}
		}
	}
	return n
}

func messagesCharCount(messages []llm.Message) int {
	total := 0
	for _, m := range messages {
		total += messageCharCount(m)
	}
	return total
}
