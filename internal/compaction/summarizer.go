package compaction

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/Arthur-Ziegler/tatake-backend-251020-sub001/internal/llm"
	"github.com/Arthur-Ziegler/tatake-backend-251020-sub001/internal/prompts"
)

// maxTranscriptField caps each message body in the summarization
// transcript.
const maxTranscriptField = 500

// Summarizer condenses evicted history into text.
type Summarizer interface {
	Summarize(ctx context.Context, messages []llm.Message) (string, error)
}

// LLMSummarizer asks a model to summarize.
type LLMSummarizer struct {
	llmFunc func(ctx context.Context, prompt string) (string, error)
}

// NewLLMSummarizer creates a summarizer that sends the compaction prompt
// to llmFunc.
func NewLLMSummarizer(llmFunc func(ctx context.Context, prompt string) (string, error)) *LLMSummarizer {
	return &LLMSummarizer{llmFunc: llmFunc}
}

// ClientFunc adapts an llm.Client into the function NewLLMSummarizer
// expects. Tools are never offered to the summarizing call.
func ClientFunc(client llm.Client, model string) func(ctx context.Context, prompt string) (string, error) {
	return func(ctx context.Context, prompt string) (string, error) {
		resp, err := client.Chat(ctx, &llm.Request{
			Model:    model,
			Messages: []llm.Message{{Role: llm.RoleUser, Content: prompt}},
		})
		if err != nil {
			return "", err
		}
		if strings.TrimSpace(resp.Message.Content) == "" {
			return "", errors.New("model returned an empty summary")
		}
		return resp.Message.Content, nil
	}
}

// Summarize renders messages as a transcript and summarizes it.
func (s *LLMSummarizer) Summarize(ctx context.Context, messages []llm.Message) (string, error) {
	summary, err := s.llmFunc(ctx, prompts.CompactionPrompt(Transcript(messages)))
	if err != nil {
		return "", fmt.Errorf("summarize: %w", err)
	}
	return summary, nil
}

// Transcript formats messages as "Role: content" paragraphs, with tool
// calls and results on their own lines.
func Transcript(messages []llm.Message) string {
	var sb strings.Builder
	for _, m := range messages {
		switch m.Role {
		case llm.RoleTool:
			fmt.Fprintf(&sb, "Tool result: %s\n\n", truncate(m.Content))
		case llm.RoleAssistant:
			if m.Content != "" {
				fmt.Fprintf(&sb, "Assistant: %s\n", truncate(m.Content))
			}
			for _, tc := range m.ToolCalls {
				args, _ := json.Marshal(tc.Function.Arguments)
				fmt.Fprintf(&sb, "Assistant called %s(%s)\n", tc.Function.Name, truncate(string(args)))
			}
			sb.WriteString("\n")
		default:
			role := m.Role
			if role != "" {
				role = strings.ToUpper(role[:1]) + role[1:]
			}
			fmt.Fprintf(&sb, "%s: %s\n\n", role, truncate(m.Content))
		}
	}
	return sb.String()
}

func truncate(s string) string {
	return truncateBytes(s, maxTranscriptField)
}

// truncateBytes cuts s to at most n bytes on a rune boundary.
func truncateBytes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}

// SimpleSummarizer builds an extractive summary without a model.
type SimpleSummarizer struct{}

// Summarize lists the user's requests and the tools that ran.
func (SimpleSummarizer) Summarize(_ context.Context, messages []llm.Message) (string, error) {
	var topics []string
	toolCounts := map[string]int{}
	var toolOrder []string

	for _, m := range messages {
		switch {
		case m.Role == llm.RoleUser:
			topic := truncateBytes(strings.TrimSpace(m.Content), 100)
			if topic != "" {
				topics = append(topics, "- "+topic)
			}
		case m.HasToolCalls():
			for _, tc := range m.ToolCalls {
				if toolCounts[tc.Function.Name] == 0 {
					toolOrder = append(toolOrder, tc.Function.Name)
				}
				toolCounts[tc.Function.Name]++
			}
		}
	}

	var sb strings.Builder
	sb.WriteString("Topics discussed:\n")
	if len(topics) > 0 {
		for _, t := range topics[:min(5, len(topics))] {
			sb.WriteString(t + "\n")
		}
		if len(topics) > 5 {
			fmt.Fprintf(&sb, "- and %d more requests\n", len(topics)-5)
		}
	} else {
		sb.WriteString("- General conversation\n")
	}

	if len(toolOrder) > 0 {
		sb.WriteString("\nActions taken:\n")
		for _, name := range toolOrder {
			fmt.Fprintf(&sb, "- %s x%d\n", name, toolCounts[name])
		}
	}
	return sb.String(), nil
}
