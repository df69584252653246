package harness

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
)

// BuildSubmission verifies dependencies and compiles the submission by
// running the build script with bash from root. The script is expected to
// be a no-op when the submission is already built.
func BuildSubmission(
	ctx context.Context,
	logger *slog.Logger,
	root string,
	script string,
	submissionDir string,
) error {
	if _, err := os.Stat(script); err != nil {
		return fmt.Errorf("build script %s: %w", script, err)
	}

	logger.InfoContext(ctx, "building submission",
		slog.String("script", script),
		slog.String("submission_dir", submissionDir),
	)

	cmd := exec.CommandContext(ctx, "bash", script, submissionDir)
	cmd.Dir = root
	cmd.Stdout = os.Stderr
	cmd.Stderr = os.Stderr

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("build %s: %w", submissionDir, err)
	}

	logger.InfoContext(ctx, "submission built",
		slog.String("submission_dir", submissionDir),
	)

	return nil
}

// Binary returns the path of a submission executable.
func Binary(execDir, name string) string {
	return filepath.Join(execDir, name)
}

// CommandConfig is a resolved command line: the program and the leading
// arguments that precede the stage's own arguments.
type CommandConfig struct {
	Binary    string
	ExtraArgs []string
}

// WrapCommand resolves an override argv such as ["python3", "gen.py"].
// An empty argv falls back to the fallback argv.
func WrapCommand(argv, fallback []string) CommandConfig {
	if len(argv) == 0 {
		argv = fallback
	}

	return CommandConfig{
		Binary:    argv[0],
		ExtraArgs: append([]string(nil), argv[1:]...),
	}
}

// Stage builds a Stage that runs c with args appended.
func (c CommandConfig) Stage(name string, step int, args ...string) Stage {
	all := make([]string, 0, len(c.ExtraArgs)+len(args))
	all = append(all, c.ExtraArgs...)
	all = append(all, args...)

	return Stage{Name: name, Step: step, Command: c.Binary, Args: all}
}
