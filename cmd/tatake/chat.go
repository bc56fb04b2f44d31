package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"
	"github.com/urfave/cli/v3"

	"github.com/Arthur-Ziegler/tatake-backend-251020-sub001/internal/agent"
	"github.com/Arthur-Ziegler/tatake-backend-251020-sub001/internal/llm"
	"github.com/Arthur-Ziegler/tatake-backend-251020-sub001/internal/tools"
)

// askOutput is the JSON form of a finished turn.
type askOutput struct {
	Thread       string `json:"thread"`
	Answer       string `json:"answer"`
	Degraded     bool   `json:"degraded,omitempty"`
	Iterations   int    `json:"iterations"`
	Version      int64  `json:"version"`
	InputTokens  int    `json:"input_tokens"`
	OutputTokens int    `json:"output_tokens"`
}

func (s *streams) runAsk(ctx context.Context, cmd *cli.Command) error {
	question := strings.TrimSpace(strings.Join(cmd.Args().Slice(), " "))
	if question == "" {
		return errors.New("usage: tatake ask <question>")
	}
	asJSON, err := outputJSON(cmd)
	if err != nil {
		return err
	}

	a, err := openApp(ctx, cmd, s, true)
	if err != nil {
		return err
	}
	defer a.Close()

	thread := cmd.String("thread")
	var res *agent.Result
	if cmd.Bool("stream") && !asJSON {
		res, err = s.streamTurn(ctx, a, thread, question)
	} else {
		res, err = a.engine.RunTurn(ctx, thread, question)
	}
	if err != nil {
		return fmt.Errorf("ask: %w", err)
	}
	a.recordUsage(ctx, thread, res)

	if asJSON {
		return writeJSON(s.out, askOutput{
			Thread:       thread,
			Answer:       res.Answer,
			Degraded:     res.Degraded,
			Iterations:   res.Iterations,
			Version:      res.Thread.Version,
			InputTokens:  res.InputTokens,
			OutputTokens: res.OutputTokens,
		})
	}
	if !cmd.Bool("stream") {
		fmt.Fprintln(s.out, res.Answer)
	}
	return nil
}

func (s *streams) runChat(ctx context.Context, cmd *cli.Command) error {
	a, err := openApp(ctx, cmd, s, true)
	if err != nil {
		return err
	}
	defer a.Close()

	thread := cmd.String("thread")
	if thread == "" {
		thread = newThreadID()
	}
	fmt.Fprintf(s.out, "Thread %s. Commands: /history, /new, /quit\n", thread)

	scanner := bufio.NewScanner(s.in)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for {
		fmt.Fprint(s.out, "> ")
		if !scanner.Scan() {
			fmt.Fprintln(s.out)
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())

		switch line {
		case "":
			continue
		case "/quit", "/exit":
			return nil
		case "/new":
			thread = newThreadID()
			fmt.Fprintf(s.out, "Thread %s\n", thread)
			continue
		case "/history":
			msgs, err := a.engine.History(ctx, thread)
			if err != nil {
				fmt.Fprintf(s.err, "error: %v\n", err)
				continue
			}
			printHistory(s.out, msgs)
			continue
		}

		res, err := s.streamTurn(ctx, a, thread, line)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			// A checkpoint failure leaves the thread as it was; the user
			// can retry.
			fmt.Fprintf(s.err, "error: %v\n", err)
			continue
		}
		a.recordUsage(ctx, thread, res)
	}
}

// streamTurn runs one turn, printing tokens, tool activity and the final
// answer as they happen.
func (s *streams) streamTurn(ctx context.Context, a *app, thread, text string) (*agent.Result, error) {
	var (
		res      *agent.Result
		streamed bool
	)
	for u, err := range a.engine.StreamTurn(ctx, thread, text) {
		if err != nil {
			if streamed {
				fmt.Fprintln(s.out)
			}
			return nil, err
		}
		switch u.Kind {
		case agent.UpdateToken:
			fmt.Fprint(s.out, u.Token)
			streamed = true

		case agent.UpdateNode:
			for _, m := range u.Messages {
				renderStep(s.out, m, streamed)
			}
			streamed = false

		case agent.UpdateEnd:
			res = u.Result
		}
	}
	return res, nil
}

// renderStep prints one message appended during a turn. streamed reports
// whether the message's text already went out as tokens.
func renderStep(w io.Writer, m llm.Message, streamed bool) {
	switch m.Role {
	case llm.RoleAssistant:
		switch {
		case streamed:
			fmt.Fprintln(w)
		case m.Content != "":
			fmt.Fprintln(w, m.Content)
		}
		for _, c := range m.ToolCalls {
			fmt.Fprintf(w, "  -> %s %s\n", c.Function.Name, compactArgs(c.Function.Arguments))
		}
	case llm.RoleTool:
		env, err := tools.ParseEnvelope(m.Content)
		switch {
		case err != nil:
			fmt.Fprintf(w, "  <- %s\n", truncate(m.Content, 120))
		case env.Success:
			fmt.Fprintf(w, "  <- ok: %s\n", env.Message)
		default:
			fmt.Fprintf(w, "  <- %s: %s\n", env.ErrorCode, env.Message)
		}
	}
}

func compactArgs(args map[string]any) string {
	if len(args) == 0 {
		return "{}"
	}
	b, err := json.Marshal(args)
	if err != nil {
		return "{?}"
	}
	return truncate(string(b), 120)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

func newThreadID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return "chat-" + uuid.NewString()
	}
	return "chat-" + id.String()
}
