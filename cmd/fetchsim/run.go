package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/weiihann/fetchsim/harness"
	"github.com/weiihann/fetchsim/history"
	"github.com/weiihann/fetchsim/pipeline"
	"github.com/weiihann/fetchsim/publish"
	"github.com/weiihann/fetchsim/report"
)

type runConfig struct {
	numRuns       int
	seed          *int64
	countOnly     bool
	skipBuild     bool
	reportFormat  string
	historyPath   string
	publishBucket string
}

func newRunCmd(a *app) *cobra.Command {
	var (
		rc   runConfig
		seed int64
	)

	cmd := &cobra.Command{
		Use:   "run <size>",
		Short: "Build the submission and run the full benchmark",
		Long: `Run the setup stages once for the given size (0-toy, 1-small,
2-medium, 3-large), then --num_runs independent query runs. Each run is
verified against the cleartext reference and its measurements are saved
to measurements/<size>/results-<run>.json.

A failed verification is reported but does not change the exit status.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rc.seed = seedFlag(cmd, seed)

			return runBenchmark(cmd.Context(), a, args[0], rc)
		},
	}

	flags := cmd.Flags()
	flags.IntVar(&rc.numRuns, "num_runs", 1,
		"Number of times to run steps 6-10 on the same dataset")
	flags.Int64Var(&seed, "seed", 0,
		"Master seed for reproducible dataset and query generation")
	flags.BoolVar(&rc.countOnly, "count_only", false,
		"Only count matching records instead of returning payloads")
	flags.BoolVar(&rc.skipBuild, "skip-build", false,
		"Skip building the submission")
	flags.StringVar(&rc.reportFormat, "report", "",
		"Print a cross-run summary after the last run: ascii, markdown or json")
	flags.StringVar(&rc.historyPath, "history-db", "",
		"Record every completed run in this SQLite ledger")
	flags.StringVar(&rc.publishBucket, "publish-bucket", "",
		"Upload the run reports to this S3 bucket")

	return cmd
}

func runBenchmark(ctx context.Context, a *app, sizeArg string, rc runConfig) error {
	size, err := parseSize(sizeArg)
	if err != nil {
		return err
	}

	var format report.Format
	if rc.reportFormat != "" {
		if format, err = report.ParseFormat(rc.reportFormat); err != nil {
			return err
		}
	}

	cfg := a.cfg
	logger := a.logger

	self, err := os.Executable()
	if err != nil {
		return fmt.Errorf("locate own executable: %w", err)
	}

	runner := harness.NewRunner(cfg.Root, os.Stdout, logger)

	p, err := pipeline.New(pipeline.Config{
		Size:             size,
		NumRuns:          rc.numRuns,
		Seed:             rc.seed,
		CountOnly:        rc.countOnly,
		Root:             cfg.Root,
		ExecDir:          cfg.Stages.ExecDir,
		SkipBuild:        rc.skipBuild || cfg.Build.Skip,
		BuildScript:      cfg.Build.Script,
		SubmissionDir:    cfg.Build.SubmissionDir,
		Self:             []string{self},
		DatasetGenerator: cfg.Stages.DatasetGenerator,
		QueryGenerator:   cfg.Stages.QueryGenerator,
		Cleartext:        cfg.Stages.Cleartext,
		SkipThreshold:    cfg.Verify.SkipThreshold,
	}, runner, logger, os.Stdout)
	if err != nil {
		return err
	}

	logger.InfoContext(ctx, "starting benchmark",
		slog.String("invocation", p.InvocationID()),
		slog.String("size", size.String()),
		slog.Int("num_runs", rc.numRuns),
		slog.Bool("count_only", rc.countOnly),
		slog.String("root", cfg.Root),
	)

	summary, runErr := p.Run(ctx)

	// Completed runs are kept even when a later stage aborted the invocation.
	var sideErrs []error
	if err := recordHistory(ctx, a, rc, summary); err != nil {
		sideErrs = append(sideErrs, err)
	}
	if err := publishReports(ctx, a, rc, summary); err != nil {
		sideErrs = append(sideErrs, err)
	}

	if runErr != nil {
		return errors.Join(append([]error{runErr}, sideErrs...)...)
	}

	if rc.reportFormat != "" && len(summary.Runs) > 0 {
		runs := make([]report.Run, 0, len(summary.Runs))
		for _, r := range summary.Runs {
			runs = append(runs, report.Run{
				Run:     r.Run,
				Path:    r.ReportPath,
				Report:  r.Report,
				Outcome: r.Outcome.String(),
			})
		}

		fmt.Fprintln(os.Stdout)
		if err := report.Write(os.Stdout, size.String(), runs, format); err != nil {
			return fmt.Errorf("generate report: %w", err)
		}
	}

	if failed := summary.Failed(); len(failed) > 0 {
		logger.WarnContext(ctx, "verification failed",
			slog.Int("failed_runs", len(failed)),
			slog.Int("runs", len(summary.Runs)),
		)
	}

	return errors.Join(sideErrs...)
}

func recordHistory(ctx context.Context, a *app, rc runConfig, summary *pipeline.Summary) error {
	path := rc.historyPath
	if path == "" {
		path = a.cfg.History.Path
	}
	if path == "" || len(summary.Runs) == 0 {
		return nil
	}

	store, err := history.Open(path)
	if err != nil {
		return fmt.Errorf("open history: %w", err)
	}
	defer store.Close()

	if err := store.RecordSummary(ctx, summary, rc.countOnly, rc.seed); err != nil {
		return fmt.Errorf("record history: %w", err)
	}

	a.logger.InfoContext(ctx, "runs recorded",
		slog.String("history", path),
		slog.Int("runs", len(summary.Runs)),
	)

	return nil
}

func publishReports(ctx context.Context, a *app, rc runConfig, summary *pipeline.Summary) error {
	opts := publish.Options{
		Bucket:       a.cfg.Publish.Bucket,
		Prefix:       a.cfg.Publish.Prefix,
		Region:       a.cfg.Publish.Region,
		Endpoint:     a.cfg.Publish.Endpoint,
		UsePathStyle: a.cfg.Publish.UsePathStyle,
	}
	if rc.publishBucket != "" {
		opts.Bucket = rc.publishBucket
	}
	if opts.Bucket == "" || len(summary.Runs) == 0 {
		return nil
	}

	pub, err := publish.New(ctx, opts, a.logger)
	if err != nil {
		return err
	}

	files := make([]string, 0, len(summary.Runs))
	for _, r := range summary.Runs {
		files = append(files, r.ReportPath)
	}

	keys, err := pub.Publish(ctx, summary.InvocationID, summary.Size.String(), files)
	if err != nil {
		return fmt.Errorf("publish reports: %w", err)
	}

	a.logger.InfoContext(ctx, "reports published",
		slog.String("bucket", opts.Bucket),
		slog.Int("objects", len(keys)),
	)

	return nil
}
