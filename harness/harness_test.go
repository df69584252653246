package harness

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/weiihann/fetchsim/logging"
	"github.com/weiihann/fetchsim/measure"
)

func newTestRunner(t *testing.T) (*Runner, *bytes.Buffer) {
	t.Helper()

	var status bytes.Buffer
	r := NewRunner(t.TempDir(), &status, logging.Discard())
	r.Stdout = &bytes.Buffer{}
	r.Stderr = &bytes.Buffer{}

	return r, &status
}

func TestRunSuccess(t *testing.T) {
	r, status := newTestRunner(t)
	log := measure.NewLog()

	rec, err := r.Run(context.Background(), log, Stage{
		Name:    "Key Generation",
		Step:    3,
		Command: "sh",
		Args:    []string{"-c", "exit 0"},
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if !rec.Success {
		t.Error("record should be successful")
	}
	if rec.End.Before(rec.Start) {
		t.Errorf("end %v before start %v", rec.End, rec.Start)
	}

	stages := log.Stages()
	if len(stages) != 1 || stages[0].Name != "Key Generation" {
		t.Errorf("log stages = %+v, want one Key Generation record", stages)
	}

	line := status.String()
	if !strings.Contains(line, "[harness] 3: Key Generation completed (elapsed: ") {
		t.Errorf("status line = %q", line)
	}
}

func TestRunNonZeroExit(t *testing.T) {
	r, status := newTestRunner(t)
	log := measure.NewLog()

	_, err := r.Run(context.Background(), log, Stage{
		Name:    "Encrypted computation",
		Step:    8,
		Command: "sh",
		Args:    []string{"-c", "exit 3"},
	})

	var failed *StageFailedError
	if !errors.As(err, &failed) {
		t.Fatalf("error = %v, want *StageFailedError", err)
	}
	if failed.ExitCode != 3 {
		t.Errorf("exit code = %d, want 3", failed.ExitCode)
	}
	if failed.Stage != "Encrypted computation" {
		t.Errorf("stage = %q", failed.Stage)
	}

	stages := log.Stages()
	if len(stages) != 1 || stages[0].Success {
		t.Errorf("log stages = %+v, want one failed record", stages)
	}
	if status.Len() != 0 {
		t.Errorf("unexpected status output %q", status.String())
	}
}

func TestRunMissingBinary(t *testing.T) {
	r, _ := newTestRunner(t)

	_, err := r.Run(context.Background(), nil, Stage{
		Name:    "Dataset preprocessing",
		Command: filepath.Join(t.TempDir(), "client_preprocess_dataset"),
	})

	var failed *StageFailedError
	if !errors.As(err, &failed) {
		t.Fatalf("error = %v, want *StageFailedError", err)
	}
	if failed.ExitCode != -1 {
		t.Errorf("exit code = %d, want -1", failed.ExitCode)
	}
}

func TestRunSilent(t *testing.T) {
	r, status := newTestRunner(t)

	_, err := r.Run(context.Background(), nil, Stage{
		Name:    "Cleartext reference",
		Command: "sh",
		Args:    []string{"-c", "true"},
		Silent:  true,
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if status.Len() != 0 {
		t.Errorf("silent stage printed %q", status.String())
	}
}

func TestRunPassesArgsAndDir(t *testing.T) {
	r, _ := newTestRunner(t)
	out := &bytes.Buffer{}
	r.Stdout = out

	_, err := r.Run(context.Background(), nil, Stage{
		Name:    "echo",
		Command: "sh",
		Args:    []string{"-c", `echo "$1 $(pwd)"`, "sh", "--count_only"},
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if !strings.HasPrefix(out.String(), "--count_only ") {
		t.Errorf("stdout = %q, want argument echoed", out.String())
	}
	if !strings.Contains(out.String(), filepath.Base(r.Dir)) {
		t.Errorf("stdout = %q, want working dir %s", out.String(), r.Dir)
	}
}

func TestWrapCommand(t *testing.T) {
	self := WrapCommand(nil, []string{"/usr/bin/fetchsim", "generate-query"})
	st := self.Stage("Query generation", 6, "0", "--seed", "5")

	if st.Command != "/usr/bin/fetchsim" {
		t.Errorf("command = %q", st.Command)
	}
	if got := strings.Join(st.Args, " "); got != "generate-query 0 --seed 5" {
		t.Errorf("args = %q", got)
	}

	py := WrapCommand([]string{"python3", "harness/generate_query.py"}, []string{"/usr/bin/fetchsim"})
	st = py.Stage("Query generation", 6, "0")

	if st.Command != "python3" {
		t.Errorf("command = %q", st.Command)
	}
	if got := strings.Join(st.Args, " "); got != "harness/generate_query.py 0" {
		t.Errorf("args = %q", got)
	}
}

func TestBinary(t *testing.T) {
	if got := Binary("/x/submission/build", "client_postprocess"); got != "/x/submission/build/client_postprocess" {
		t.Errorf("Binary = %q", got)
	}
}
