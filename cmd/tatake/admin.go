package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/Arthur-Ziegler/tatake-backend-251020-sub001/internal/checkpoint"
	"github.com/Arthur-Ziegler/tatake-backend-251020-sub001/internal/llm"
	"github.com/Arthur-Ziegler/tatake-backend-251020-sub001/internal/usage"
)

func (s *streams) runHistory(ctx context.Context, cmd *cli.Command) error {
	thread := cmd.Args().First()
	if thread == "" {
		return errors.New("usage: tatake history <thread-id>")
	}
	asJSON, err := outputJSON(cmd)
	if err != nil {
		return err
	}

	a, err := openApp(ctx, cmd, s, false)
	if err != nil {
		return err
	}
	defer a.Close()

	var msgs []llm.Message
	st, err := a.checkpoints.Load(ctx, thread)
	switch {
	case errors.Is(err, checkpoint.ErrNotFound):
		msgs = []llm.Message{}
	case err != nil:
		return fmt.Errorf("history: %w", err)
	default:
		msgs = st.Messages
	}

	if asJSON {
		return writeJSON(s.out, msgs)
	}
	printHistory(s.out, msgs)
	return nil
}

func printHistory(w io.Writer, msgs []llm.Message) {
	if len(msgs) == 0 {
		fmt.Fprintln(w, "(no messages)")
		return
	}
	for _, m := range msgs {
		switch m.Role {
		case llm.RoleTool:
			fmt.Fprintf(w, "tool[%s]: %s\n", m.ToolCallID, truncate(m.Content, 200))
		case llm.RoleAssistant:
			if m.Content != "" {
				fmt.Fprintf(w, "assistant: %s\n", m.Content)
			}
			for _, c := range m.ToolCalls {
				fmt.Fprintf(w, "assistant -> %s[%s] %s\n", c.Function.Name, c.ID, compactArgs(c.Function.Arguments))
			}
		default:
			fmt.Fprintf(w, "%s: %s\n", m.Role, m.Content)
		}
	}
}

func (s *streams) runThreadsList(ctx context.Context, cmd *cli.Command) error {
	asJSON, err := outputJSON(cmd)
	if err != nil {
		return err
	}
	a, err := openApp(ctx, cmd, s, false)
	if err != nil {
		return err
	}
	defer a.Close()

	threads, err := a.checkpoints.List(ctx, cmd.Int("limit"))
	if err != nil {
		return fmt.Errorf("list threads: %w", err)
	}
	if asJSON {
		return writeJSON(s.out, threads)
	}
	if len(threads) == 0 {
		fmt.Fprintln(s.out, "(no threads)")
		return nil
	}

	tw := tabwriter.NewWriter(s.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "THREAD\tVERSION\tMESSAGES\tBYTES\tUPDATED")
	for _, t := range threads {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%s\n",
			t.ThreadID, t.Version, t.MessageCount, t.ByteSize,
			t.UpdatedAt.Local().Format(time.DateTime))
	}
	return tw.Flush()
}

func (s *streams) runThreadsDelete(ctx context.Context, cmd *cli.Command) error {
	thread := cmd.Args().First()
	if thread == "" {
		return errors.New("usage: tatake threads delete <thread-id>")
	}
	a, err := openApp(ctx, cmd, s, false)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.checkpoints.Delete(ctx, thread); err != nil {
		return fmt.Errorf("delete thread %s: %w", thread, err)
	}
	fmt.Fprintf(s.out, "Deleted thread %s\n", thread)
	return nil
}

func (s *streams) runThreadsPrune(ctx context.Context, cmd *cli.Command) error {
	olderThan := cmd.Duration("older-than")
	if olderThan <= 0 {
		return errors.New("--older-than must be positive")
	}
	a, err := openApp(ctx, cmd, s, false)
	if err != nil {
		return err
	}
	defer a.Close()

	n, err := a.checkpoints.Prune(ctx, olderThan, cmd.Int("keep"))
	if err != nil {
		return fmt.Errorf("prune threads: %w", err)
	}
	fmt.Fprintf(s.out, "Pruned %d thread(s)\n", n)
	return nil
}

func (s *streams) runPointsBalance(ctx context.Context, cmd *cli.Command) error {
	asJSON, err := outputJSON(cmd)
	if err != nil {
		return err
	}
	a, err := openApp(ctx, cmd, s, false)
	if err != nil {
		return err
	}
	defer a.Close()

	b, err := a.points.Balance(ctx, a.cfg.OwnerID)
	if err != nil {
		return fmt.Errorf("points balance: %w", err)
	}
	if asJSON {
		return writeJSON(s.out, b)
	}
	fmt.Fprintf(s.out, "%s: %d points\n", b.OwnerID, b.Points)
	return nil
}

func (s *streams) runPointsGrant(ctx context.Context, cmd *cli.Command) error {
	args := cmd.Args().Slice()
	if len(args) < 2 {
		return errors.New("usage: tatake points grant <amount> <reason>")
	}
	amount, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("amount %q is not an integer", args[0])
	}
	reason := strings.Join(args[1:], " ")

	a, err := openApp(ctx, cmd, s, false)
	if err != nil {
		return err
	}
	defer a.Close()

	tx, err := a.points.Record(ctx, a.cfg.OwnerID, amount, reason)
	if err != nil {
		return fmt.Errorf("points grant: %w", err)
	}
	b, err := a.points.Balance(ctx, a.cfg.OwnerID)
	if err != nil {
		return fmt.Errorf("points balance: %w", err)
	}
	fmt.Fprintf(s.out, "Recorded %+d for %s (%s). Balance: %d\n", tx.Amount, tx.OwnerID, tx.Reason, b.Points)
	return nil
}

func (s *streams) runUsage(ctx context.Context, cmd *cli.Command) error {
	asJSON, err := outputJSON(cmd)
	if err != nil {
		return err
	}
	by := cmd.String("by")
	if by != "" && by != "model" && by != "thread" {
		return fmt.Errorf("unknown grouping %q (expected model or thread)", by)
	}

	a, err := openApp(ctx, cmd, s, false)
	if err != nil {
		return err
	}
	defer a.Close()

	end := time.Now()
	start := end.Add(-cmd.Duration("since"))

	if by == "" {
		sum, err := a.usage.Summary(ctx, start, end)
		if err != nil {
			return err
		}
		if asJSON {
			return writeJSON(s.out, sum)
		}
		fmt.Fprintf(s.out, "Turns: %d (degraded %d)\nInput tokens: %d\nOutput tokens: %d\nCost: $%.4f\n",
			sum.TotalRecords, sum.DegradedTurns, sum.TotalInputTokens, sum.TotalOutputTokens, sum.TotalCostUSD)
		return nil
	}

	var groups map[string]*usage.Summary
	if by == "model" {
		groups, err = a.usage.SummaryByModel(ctx, start, end)
	} else {
		groups, err = a.usage.SummaryByThread(ctx, start, end)
	}
	if err != nil {
		return err
	}
	if asJSON {
		return writeJSON(s.out, groups)
	}

	keys := make([]string, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	tw := tabwriter.NewWriter(s.out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "%s\tTURNS\tINPUT\tOUTPUT\tCOST\n", strings.ToUpper(by))
	for _, k := range keys {
		g := groups[k]
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t$%.4f\n", k, g.TotalRecords, g.TotalInputTokens, g.TotalOutputTokens, g.TotalCostUSD)
	}
	return tw.Flush()
}
