package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/urfave/cli/v3"

	"github.com/Arthur-Ziegler/tatake-backend-251020-sub001/internal/defaults"
)

// runInit writes the example config into a directory. Existing files
// are never overwritten.
func (s *streams) runInit(ctx context.Context, cmd *cli.Command) error {
	dir := "."
	if cmd.Args().Present() {
		dir = cmd.Args().First()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}

	configPath := filepath.Join(dir, "config.yaml")
	wrote, err := writeIfMissing(configPath, defaults.ConfigYAML, 0o600)
	if err != nil {
		return err
	}
	if wrote {
		fmt.Fprintf(s.out, "Wrote %s\n", configPath)
	} else {
		fmt.Fprintf(s.out, "Kept existing %s\n", configPath)
	}
	fmt.Fprintln(s.out, "Edit it to choose a provider and model, then run: tatake chat")
	return nil
}

// writeIfMissing writes content to path only if the file does not exist.
// The config may hold API keys, so callers pass a restrictive perm.
func writeIfMissing(path string, content []byte, perm os.FileMode) (bool, error) {
	if _, err := os.Stat(path); err == nil {
		return false, nil
	}
	if err := os.WriteFile(path, content, perm); err != nil {
		return false, fmt.Errorf("write %s: %w", path, err)
	}
	return true, nil
}
