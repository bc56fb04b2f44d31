package agent

import "github.com/Arthur-Ziegler/tatake-backend-251020-sub001/internal/llm"

// State is a node of the conversation state machine.
type State string

const (
	// StateAgent calls the model once.
	StateAgent State = "AGENT"

	// StateTools runs every tool call of the latest assistant message.
	StateTools State = "TOOLS"

	// StateEnd is terminal.
	StateEnd State = "END"
)

// Next returns the state that follows from given the messages so far.
// AGENT goes to TOOLS only when the last message is an assistant message
// with at least one tool call. TOOLS always returns to AGENT. There is
// no path from TOOLS to END.
func Next(from State, messages []llm.Message) State {
	switch from {
	case StateAgent:
		if n := len(messages); n > 0 && messages[n-1].HasToolCalls() {
			return StateTools
		}
		return StateEnd
	case StateTools:
		return StateAgent
	default:
		return StateEnd
	}
}
