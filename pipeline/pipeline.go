// Package pipeline sequences the benchmark stages: the one-time dataset,
// key and database-encryption setup, followed by N independent runs of
// query generation, encrypted computation, decryption and verification.
//
// Stages run strictly one after another. Each consumes the artifacts the
// previous stages left on disk, so there is nothing to overlap.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"

	"github.com/google/uuid"

	"github.com/weiihann/fetchsim/artifact"
	"github.com/weiihann/fetchsim/harness"
	"github.com/weiihann/fetchsim/instance"
	"github.com/weiihann/fetchsim/logging"
	"github.com/weiihann/fetchsim/measure"
	"github.com/weiihann/fetchsim/seed"
	"github.com/weiihann/fetchsim/verify"
)

// RequiredDirs must exist under the root before anything runs.
var RequiredDirs = []string{"harness", "scripts", "submission"}

// Stage names as they appear in status lines and reports.
const (
	StageDatasetGeneration    = "Dataset generation"
	StageDatasetPreprocessing = "Dataset preprocessing"
	StageKeyGeneration        = "Key Generation"
	StageEncryptDB            = "Dataset encoding and encryption"
	StageServerPreprocess     = "Encrypted dataset preprocessing"
	StageQueryGeneration      = "Query generation"
	StageQueryEncryption      = "Query encryption"
	StageEncryptedCompute     = "Encrypted computation"
	StageDecryption           = "Result decryption"
	StagePostprocessing       = "Result postprocessing"
	StageCleartext            = "Cleartext reference"
)

// StageOrder lists the timed stages in execution order.
var StageOrder = []string{
	StageDatasetGeneration,
	StageDatasetPreprocessing,
	StageKeyGeneration,
	StageEncryptDB,
	StageServerPreprocess,
	StageQueryGeneration,
	StageQueryEncryption,
	StageEncryptedCompute,
	StageDecryption,
	StagePostprocessing,
}

// Artifact size labels.
const (
	SizeKeys           = "Public and evaluation keys"
	SizeEncryptedDB    = "Encrypted database"
	SizeEncryptedQuery = "Encrypted query"
)

// Submission executables, looked up in the exec directory.
const (
	BinPreprocessDataset = "client_preprocess_dataset"
	BinKeyGeneration     = "client_key_generation"
	BinEncryptDB         = "client_encode_encrypt_db"
	BinServerPreprocess  = "server_preprocess_dataset"
	BinEncryptQuery      = "client_encode_encrypt_query"
	BinEncryptedCompute  = "server_encrypted_compute"
	BinDecrypt           = "client_decrypt_decode"
	BinPostprocess       = "client_postprocess"
)

// Executor runs one external stage. *harness.Runner implements it.
type Executor interface {
	Run(ctx context.Context, log *measure.Log, st harness.Stage) (measure.StageRecord, error)
}

// Config holds the parameters of one invocation.
type Config struct {
	Size instance.Size
	// NumRuns is the number of run-loop iterations. Zero runs setup only.
	NumRuns int
	// Seed is the master seed; nil disables reproducible generation.
	Seed      *int64
	CountOnly bool

	// Root holds harness/, scripts/, submission/ and the data directories.
	Root    string
	ExecDir string

	SkipBuild     bool
	BuildScript   string
	SubmissionDir string

	// Self is the argv prefix that reaches this binary, used for the
	// built-in generator subcommands.
	Self []string

	// Override argv for the generator stages; empty uses Self.
	DatasetGenerator []string
	QueryGenerator   []string
	Cleartext        []string

	SkipThreshold int
}

// RunResult is the record of one completed run-loop iteration.
type RunResult struct {
	Run        int
	Outcome    verify.Outcome
	Report     measure.Report
	ReportPath string
	Log        *measure.Log
}

// Summary collects the completed runs of an invocation. On a fatal error
// it holds the runs that finished before the failure.
type Summary struct {
	InvocationID string
	Size         instance.Size
	Setup        *measure.Log
	Runs         []RunResult
}

// AllPassed reports whether every recorded verification passed or was
// skipped.
func (s *Summary) AllPassed() bool {
	for _, r := range s.Runs {
		if !r.Outcome.OK() {
			return false
		}
	}

	return true
}

// Failed returns the runs whose verification failed.
func (s *Summary) Failed() []RunResult {
	var out []RunResult
	for _, r := range s.Runs {
		if !r.Outcome.OK() {
			out = append(out, r)
		}
	}

	return out
}

// Pipeline drives a full benchmark invocation.
type Pipeline struct {
	cfg    Config
	exec   Executor
	store  *artifact.Store
	oracle verify.Oracle
	seeds  *seed.Deriver
	state  State
	id     string
	out    io.Writer
	logger *slog.Logger

	build func(ctx context.Context) error
}

// New creates a Pipeline. Status lines are written to out.
func New(cfg Config, exec Executor, logger *slog.Logger, out io.Writer) (*Pipeline, error) {
	layout, err := instance.NewLayout(cfg.Root, cfg.Size)
	if err != nil {
		return nil, err
	}

	if cfg.NumRuns < 0 {
		return nil, fmt.Errorf("num_runs must be >= 0, got %d", cfg.NumRuns)
	}

	if len(cfg.Self) == 0 && (len(cfg.DatasetGenerator) == 0 ||
		len(cfg.QueryGenerator) == 0 || len(cfg.Cleartext) == 0) {
		return nil, errors.New("generator commands need either overrides or a self command")
	}

	p := &Pipeline{
		cfg:    cfg,
		exec:   exec,
		store:  artifact.NewStore(layout),
		oracle: verify.Oracle{SkipThreshold: cfg.SkipThreshold},
		id:     uuid.NewString(),
		out:    out,
		logger: logging.Component(logger, "pipeline"),
	}

	p.build = func(ctx context.Context) error {
		return harness.BuildSubmission(ctx, p.logger, cfg.Root, cfg.BuildScript, cfg.SubmissionDir)
	}

	return p, nil
}

// State returns the last completed state.
func (p *Pipeline) State() State {
	return p.state
}

// Store returns the artifact store of the configured size.
func (p *Pipeline) Store() *artifact.Store {
	return p.store
}

// InvocationID identifies this invocation in history and published reports.
func (p *Pipeline) InvocationID() string {
	return p.id
}

// Run executes the precondition check, the optional build, the setup
// stages and then the run loop. A failed verification is recorded in the
// summary and does not stop the loop; any other failure aborts at once.
func (p *Pipeline) Run(ctx context.Context) (*Summary, error) {
	summary := &Summary{InvocationID: p.id, Size: p.cfg.Size}

	if err := artifact.EnsureDirectories(p.cfg.Root, RequiredDirs...); err != nil {
		return summary, err
	}

	if !p.cfg.SkipBuild {
		if err := p.build(ctx); err != nil {
			return summary, err
		}
	}

	fmt.Fprintf(p.out, "\n[harness] Running submission for %s dataset\n", p.cfg.Size)
	if p.cfg.CountOnly {
		fmt.Fprintln(p.out, "          only counting matches")
	} else {
		fmt.Fprintln(p.out, "          returning matching payloads")
	}

	setup, err := p.setup(ctx)
	if err != nil {
		return summary, err
	}
	summary.Setup = setup

	for run := 1; run <= p.cfg.NumRuns; run++ {
		if p.cfg.NumRuns > 1 {
			fmt.Fprintf(p.out, "\n         [harness] Run %d of %d\n", run, p.cfg.NumRuns)
		}

		res, err := p.runOnce(ctx, setup, run)
		if err != nil {
			return summary, fmt.Errorf("run %d: %w", run, err)
		}

		summary.Runs = append(summary.Runs, res)
	}

	if err := transition(&p.state, Done); err != nil {
		return summary, err
	}

	p.logger.InfoContext(ctx, "pipeline complete",
		slog.String("invocation", p.id),
		slog.Int("runs", len(summary.Runs)),
		slog.Int("failed_verifications", len(summary.Failed())),
	)

	fmt.Fprintf(p.out, "\nAll steps completed for the %s dataset!\n", p.cfg.Size)

	return summary, nil
}

// setup resets the I/O root and runs the one-time stages. The returned
// log is the baseline every run starts from.
func (p *Pipeline) setup(ctx context.Context) (*measure.Log, error) {
	if err := p.store.Reset(); err != nil {
		return nil, err
	}

	p.seeds = seed.FromOptional(p.cfg.Seed)

	if err := transition(&p.state, Init); err != nil {
		return nil, err
	}

	p.logger.InfoContext(ctx, "pipeline initialized",
		slog.String("invocation", p.id),
		slog.String("size", p.cfg.Size.String()),
		slog.Int("num_runs", p.cfg.NumRuns),
		slog.Bool("seeded", p.seeds.Active()),
		slog.Bool("count_only", p.cfg.CountOnly),
	)

	log := measure.NewLog()
	size := p.sizeArg()

	datasetGen := p.generator(p.cfg.DatasetGenerator, "generate-dataset")
	steps := []struct {
		stage harness.Stage
		next  State
	}{
		{datasetGen.Stage(StageDatasetGeneration, 1, append([]string{size}, seed.Args(p.seeds)...)...), DatasetGenerated},
		{p.submission(BinPreprocessDataset, StageDatasetPreprocessing, 2), DatasetPreprocessed},
		{p.submission(BinKeyGeneration, StageKeyGeneration, 3, p.countArgs()...), KeysGenerated},
		{p.submission(BinEncryptDB, StageEncryptDB, 4), DbEncrypted},
	}

	for _, s := range steps {
		if err := p.step(ctx, log, s.stage, s.next); err != nil {
			return nil, err
		}
	}

	if err := p.measureSize(log, artifact.Keys, SizeKeys); err != nil {
		return nil, err
	}
	if err := p.measureSize(log, artifact.Encrypted, SizeEncryptedDB); err != nil {
		return nil, err
	}

	serverPrep := p.submission(BinServerPreprocess, StageServerPreprocess, 5)
	if err := p.step(ctx, log, serverPrep, EncryptedDbPreprocessed); err != nil {
		return nil, err
	}

	return log, nil
}

// runOnce executes one iteration of the run loop on a fresh fork of the
// setup log and persists its report.
func (p *Pipeline) runOnce(ctx context.Context, setup *measure.Log, run int) (RunResult, error) {
	log := setup.Fork()
	size := p.sizeArg()

	queryGen := p.generator(p.cfg.QueryGenerator, "generate-query")
	stage := queryGen.Stage(StageQueryGeneration, 6, append([]string{size}, seed.Args(p.seeds)...)...)
	if err := p.step(ctx, log, stage, QueryGenerated); err != nil {
		return RunResult{}, err
	}

	if err := p.step(ctx, log, p.submission(BinEncryptQuery, StageQueryEncryption, 7), QueryEncrypted); err != nil {
		return RunResult{}, err
	}
	if err := p.measureSize(log, artifact.EncryptedQuery, SizeEncryptedQuery); err != nil {
		return RunResult{}, err
	}

	steps := []struct {
		stage harness.Stage
		next  State
	}{
		{p.submission(BinEncryptedCompute, StageEncryptedCompute, 8, p.countArgs()...), ComputedEncrypted},
		{p.submission(BinDecrypt, StageDecryption, 9), Decrypted},
		{p.submission(BinPostprocess, StagePostprocessing, 9, p.countArgs()...), Postprocessed},
	}

	for _, s := range steps {
		if err := p.step(ctx, log, s.stage, s.next); err != nil {
			return RunResult{}, err
		}
	}

	outcome, err := p.verify(ctx)
	if err != nil {
		return RunResult{}, err
	}

	if err := transition(&p.state, Verified); err != nil {
		return RunResult{}, err
	}

	path := p.store.RunReportPath(run)
	if err := log.Save(path); err != nil {
		return RunResult{}, err
	}

	fmt.Fprintf(p.out, "[total latency] %s\n", measure.FormatSeconds(log.Total()))

	return RunResult{
		Run:        run,
		Outcome:    outcome,
		Report:     log.Report(),
		ReportPath: path,
		Log:        log,
	}, nil
}

// verify produces expected.bin with the cleartext reference and compares
// it with the submission's results.bin. Only a failing reference stage or
// a missing results file is fatal; a mismatch or malformed result is a
// FAIL outcome.
func (p *Pipeline) verify(ctx context.Context) (verify.Outcome, error) {
	cleartext := p.generator(p.cfg.Cleartext, "cleartext").
		Stage(StageCleartext, 10, append([]string{p.sizeArg()}, p.countArgs()...)...)
	cleartext.Silent = true

	if _, err := p.exec.Run(ctx, nil, cleartext); err != nil {
		return verify.Outcome{}, err
	}

	if err := p.store.Require(artifact.Results); err != nil {
		return verify.Outcome{}, err
	}

	outcome, err := p.oracle.VerifyFiles(
		p.store.Path(artifact.Expected),
		p.store.Path(artifact.Results),
		p.cfg.CountOnly,
	)
	if err != nil {
		p.logger.WarnContext(ctx, "verification input rejected",
			slog.String("error", err.Error()),
		)
	}

	if !outcome.OK() {
		p.logger.WarnContext(ctx, "verification failed",
			slog.String("detail", outcome.Detail),
		)
	}

	fmt.Fprintf(p.out, "         [harness] %s\n", outcome)

	return outcome, nil
}

func (p *Pipeline) step(ctx context.Context, log *measure.Log, st harness.Stage, next State) error {
	if !allowed(p.state, next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, p.state, next)
	}

	if _, err := p.exec.Run(ctx, log, st); err != nil {
		return err
	}

	return transition(&p.state, next)
}

func (p *Pipeline) measureSize(log *measure.Log, kind artifact.Kind, name string) error {
	size, err := artifact.SizeOf(p.store.Path(kind))
	if err != nil {
		return err
	}

	log.AddSize(name, size)
	fmt.Fprintf(p.out, "         [harness] %s size: %s\n", name, measure.HumanSize(size))

	return nil
}

func (p *Pipeline) submission(bin, name string, step int, extra ...string) harness.Stage {
	args := append([]string{p.sizeArg()}, extra...)

	return harness.Stage{
		Name:    name,
		Step:    step,
		Command: harness.Binary(p.cfg.ExecDir, bin),
		Args:    args,
	}
}

func (p *Pipeline) generator(override []string, subcommand string) harness.CommandConfig {
	var fallback []string
	if len(p.cfg.Self) > 0 {
		fallback = append(append([]string(nil), p.cfg.Self...), subcommand, "--root", p.cfg.Root)
	}

	return harness.WrapCommand(override, fallback)
}

func (p *Pipeline) sizeArg() string {
	return strconv.Itoa(int(p.cfg.Size))
}

func (p *Pipeline) countArgs() []string {
	if p.cfg.CountOnly {
		return []string{"--count_only"}
	}

	return nil
}
