// Package harness launches the external stages of a benchmark run and
// measures their wall-clock time.
package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"time"

	"github.com/weiihann/fetchsim/logging"
	"github.com/weiihann/fetchsim/measure"
)

// Stage is one external process invocation of the pipeline.
type Stage struct {
	Name    string
	Step    int
	Command string
	Args    []string

	// Silent suppresses the status line, for helper stages that are not
	// part of the measured pipeline.
	Silent bool
}

// StageFailedError reports an external stage that did not exit cleanly.
// ExitCode is -1 when the process could not be started at all.
type StageFailedError struct {
	Stage    string
	ExitCode int
	Err      error
}

func (e *StageFailedError) Error() string {
	if e.ExitCode < 0 {
		return fmt.Sprintf("stage %q could not run: %v", e.Stage, e.Err)
	}

	return fmt.Sprintf("stage %q failed with exit code %d", e.Stage, e.ExitCode)
}

func (e *StageFailedError) Unwrap() error {
	return e.Err
}

// Runner executes stages one at a time.
type Runner struct {
	// Dir is the working directory of every stage.
	Dir    string
	Stdout io.Writer
	Stderr io.Writer
	// Status receives the one-line completion message of each stage.
	Status io.Writer
	Logger *slog.Logger
}

// NewRunner creates a Runner whose stages inherit the process's stdout
// and stderr and run inside dir.
func NewRunner(dir string, status io.Writer, logger *slog.Logger) *Runner {
	return &Runner{
		Dir:    dir,
		Stdout: os.Stdout,
		Stderr: os.Stderr,
		Status: status,
		Logger: logging.Component(logger, "harness"),
	}
}

// Run executes st and waits for it to exit. The stage's record is appended
// to log (when non-nil) whether or not it succeeded. A non-zero exit
// returns a *StageFailedError.
func (r *Runner) Run(ctx context.Context, log *measure.Log, st Stage) (measure.StageRecord, error) {
	cmd := exec.CommandContext(ctx, st.Command, st.Args...)
	cmd.Dir = r.Dir
	cmd.Stdout = r.Stdout
	cmd.Stderr = r.Stderr

	r.Logger.DebugContext(ctx, "starting stage",
		slog.String("stage", st.Name),
		slog.String("command", st.Command),
		slog.Any("args", st.Args),
	)

	rec := measure.StageRecord{Name: st.Name}

	rec.Start = time.Now()
	err := cmd.Start()
	if err == nil {
		err = cmd.Wait()
	}
	rec.End = time.Now()

	rec.Elapsed = rec.End.Sub(rec.Start)
	rec.Success = err == nil

	if log != nil {
		log.AddStage(rec)
	}

	if err != nil {
		exitCode := -1

		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
		}

		r.Logger.ErrorContext(ctx, "stage failed",
			slog.String("stage", st.Name),
			slog.Int("exit_code", exitCode),
			slog.Duration("wall_time", rec.Elapsed),
		)

		return rec, &StageFailedError{Stage: st.Name, ExitCode: exitCode, Err: err}
	}

	r.Logger.DebugContext(ctx, "stage finished",
		slog.String("stage", st.Name),
		slog.Duration("wall_time", rec.Elapsed),
	)

	if !st.Silent && r.Status != nil {
		fmt.Fprintf(r.Status, "%s [harness] %d: %s completed (elapsed: %s)\n",
			rec.End.Format("15:04:05"), st.Step, st.Name, measure.FormatSeconds(rec.Elapsed))
	}

	return rec, nil
}
