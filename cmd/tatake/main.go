// Command tatake is a task-planning assistant: a tool-calling
// conversation engine over a local task list and points ledger.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/urfave/cli/v3"

	"github.com/Arthur-Ziegler/tatake-backend-251020-sub001/internal/buildinfo"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// main is intentionally minimal. It constructs the OS-level environment
// (context, stdio, argv) and delegates immediately to [run] so the whole
// command surface can be driven from tests.
func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Stdin, os.Stdout, os.Stderr, os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

// run is the real entry point. args includes the program name. Command
// output goes to stdout; logs and errors go to stderr.
func run(ctx context.Context, stdin io.Reader, stdout, stderr io.Writer, args []string) error {
	return newCommand(stdin, stdout, stderr).Run(ctx, args)
}

func newCommand(stdin io.Reader, stdout, stderr io.Writer) *cli.Command {
	s := &streams{in: stdin, out: stdout, err: stderr}

	return &cli.Command{
		Name:      "tatake",
		Usage:     "task-planning assistant",
		Version:   buildinfo.Version,
		Reader:    stdin,
		Writer:    stdout,
		ErrWriter: stderr,
		Flags:     globalFlags(),
		Commands: []*cli.Command{
			{
				Name:      "init",
				Usage:     "write an example config.yaml",
				ArgsUsage: "[dir]",
				Action:    s.runInit,
			},
			{
				Name:      "ask",
				Usage:     "run one turn and print the answer",
				ArgsUsage: "<question>",
				Flags:     []cli.Flag{threadFlag("cli"), &cli.BoolFlag{Name: "stream", Usage: "print tokens as they arrive"}},
				Action:    s.runAsk,
			},
			{
				Name:   "chat",
				Usage:  "interactive conversation",
				Flags:  []cli.Flag{threadFlag("")},
				Action: s.runChat,
			},
			{
				Name:      "history",
				Usage:     "print a thread's messages",
				ArgsUsage: "<thread-id>",
				Action:    s.runHistory,
			},
			{
				Name:  "threads",
				Usage: "manage saved threads",
				Commands: []*cli.Command{
					{
						Name:   "list",
						Usage:  "list threads, most recent first",
						Flags:  []cli.Flag{&cli.IntFlag{Name: "limit", Value: 20, Usage: "maximum threads to show"}},
						Action: s.runThreadsList,
					},
					{
						Name:      "delete",
						Usage:     "delete a thread",
						ArgsUsage: "<thread-id>",
						Action:    s.runThreadsDelete,
					},
					{
						Name:  "prune",
						Usage: "delete threads idle longer than --older-than",
						Flags: []cli.Flag{
							&cli.DurationFlag{Name: "older-than", Value: 30 * 24 * time.Hour, Usage: "idle age to prune"},
							&cli.IntFlag{Name: "keep", Value: 20, Usage: "always keep this many recent threads"},
						},
						Action: s.runThreadsPrune,
					},
				},
			},
			{
				Name:  "points",
				Usage: "inspect or adjust the points ledger",
				Commands: []*cli.Command{
					{
						Name:   "balance",
						Usage:  "show the owner's balance",
						Action: s.runPointsBalance,
					},
					{
						Name:      "grant",
						Usage:     "add (or with a negative amount, spend) points",
						ArgsUsage: "<amount> <reason>",
						Action:    s.runPointsGrant,
					},
				},
			},
			{
				Name:  "usage",
				Usage: "summarize token usage and cost",
				Flags: []cli.Flag{
					&cli.DurationFlag{Name: "since", Value: 24 * time.Hour, Usage: "window to summarize"},
					&cli.StringFlag{Name: "by", Usage: "group by model or thread"},
				},
				Action: s.runUsage,
			},
			{
				Name:   "version",
				Usage:  "show version information",
				Action: s.runVersion,
			},
		},
	}
}

func globalFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Usage: "config file (default: search)", Sources: cli.EnvVars("TATAKE_CONFIG")},
		&cli.StringFlag{Name: "provider", Usage: "model provider: ollama, anthropic, openai or gemini", Sources: cli.EnvVars("TATAKE_PROVIDER")},
		&cli.StringFlag{Name: "endpoint", Usage: "provider endpoint URL", Sources: cli.EnvVars("TATAKE_ENDPOINT")},
		&cli.StringFlag{Name: "api-key", Usage: "provider API key", Sources: cli.EnvVars("TATAKE_API_KEY")},
		&cli.StringFlag{Name: "model", Aliases: []string{"m"}, Usage: "model name", Sources: cli.EnvVars("TATAKE_MODEL")},
		&cli.FloatFlag{Name: "temperature", Usage: "sampling temperature", Sources: cli.EnvVars("TATAKE_TEMPERATURE")},
		&cli.IntFlag{Name: "max-tokens", Usage: "maximum tokens per reply", Sources: cli.EnvVars("TATAKE_MAX_TOKENS")},
		&cli.DurationFlag{Name: "timeout", Usage: "per model call timeout", Sources: cli.EnvVars("TATAKE_TIMEOUT")},
		&cli.IntFlag{Name: "max-iterations", Usage: "model calls allowed per turn", Sources: cli.EnvVars("TATAKE_MAX_ITERATIONS")},
		&cli.StringFlag{Name: "data-dir", Usage: "directory for the database", Sources: cli.EnvVars("TATAKE_DATA_DIR")},
		&cli.StringFlag{Name: "owner", Usage: "owner the tools act for", Sources: cli.EnvVars("TATAKE_OWNER")},
		&cli.StringFlag{Name: "timezone", Usage: "IANA time zone", Sources: cli.EnvVars("TATAKE_TIMEZONE")},
		&cli.StringFlag{Name: "log-level", Usage: "trace, debug, info, warn or error", Sources: cli.EnvVars("TATAKE_LOG_LEVEL")},
		&cli.StringFlag{Name: "log-format", Usage: "text or json", Sources: cli.EnvVars("TATAKE_LOG_FORMAT")},
		&cli.StringFlag{Name: "output", Aliases: []string{"o"}, Value: "text", Usage: "output format: text or json"},
	}
}

func threadFlag(def string) cli.Flag {
	return &cli.StringFlag{Name: "thread", Aliases: []string{"t"}, Value: def, Usage: "thread ID"}
}

// streams carries the injected stdio to command actions.
type streams struct {
	in  io.Reader
	out io.Writer
	err io.Writer
}

func outputJSON(cmd *cli.Command) (bool, error) {
	switch f := cmd.String("output"); f {
	case "text":
		return false, nil
	case "json":
		return true, nil
	default:
		return false, fmt.Errorf("unknown output format: %q (expected text or json)", f)
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (s *streams) runVersion(ctx context.Context, cmd *cli.Command) error {
	asJSON, err := outputJSON(cmd)
	if err != nil {
		return err
	}
	info := buildinfo.Info()
	if asJSON {
		return writeJSON(s.out, info)
	}
	fmt.Fprintln(s.out, buildinfo.String())
	for _, k := range []string{"version", "git_commit", "build_time", "go_version", "os", "arch"} {
		if v, ok := info[k]; ok {
			fmt.Fprintf(s.out, "  %-12s %s\n", k+":", v)
		}
	}
	return nil
}
