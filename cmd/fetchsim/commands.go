package main

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/weiihann/fetchsim/artifact"
	"github.com/weiihann/fetchsim/history"
	"github.com/weiihann/fetchsim/instance"
	"github.com/weiihann/fetchsim/measure"
	"github.com/weiihann/fetchsim/report"
	"github.com/weiihann/fetchsim/verify"
	"github.com/weiihann/fetchsim/workload"
)

func newVerifyCmd(a *app) *cobra.Command {
	var countOnly bool

	cmd := &cobra.Command{
		Use:   "verify <expected> <result>",
		Short: "Compare a submission result with the cleartext reference",
		Long: `Compare expected.bin with results.bin. Exits 0 when the payloads
match (or there are too many matches to compare) and 1 otherwise.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			oracle := verify.Oracle{SkipThreshold: a.cfg.Verify.SkipThreshold}

			outcome, err := oracle.VerifyFiles(args[0], args[1], countOnly)
			if err != nil {
				a.logger.DebugContext(cmd.Context(), "verification input rejected",
					slog.String("error", err.Error()),
				)
			}

			fmt.Fprintln(cmd.OutOrStdout(), outcome)

			if !outcome.OK() {
				return &exitError{code: 1}
			}

			return nil
		},
	}

	cmd.Flags().BoolVar(&countOnly, "count_only", false,
		"Compare match counts instead of payloads")

	return cmd
}

func newGenerateDatasetCmd(a *app) *cobra.Command {
	var seed int64

	cmd := &cobra.Command{
		Use:   "generate-dataset <size>",
		Short: "Generate the clustered database, centers and payloads",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, params, err := openStore(a, args[0])
			if err != nil {
				return err
			}

			summary, err := workload.GenerateDatasetFiles(store, params, seedFlag(cmd, seed))
			if err != nil {
				return fmt.Errorf("generate dataset: %w", err)
			}

			a.logger.InfoContext(cmd.Context(), "dataset generated",
				slog.String("dir", store.Layout().DatasetDir),
				slog.Int("records", summary.Records),
				slog.Int("centers", summary.Centers),
				slog.Int("clustered", summary.Clustered),
			)

			return nil
		},
	}

	cmd.Flags().Int64Var(&seed, "seed", 0, "Seed for reproducible generation")

	return cmd
}

func newGenerateQueryCmd(a *app) *cobra.Command {
	var seed int64

	cmd := &cobra.Command{
		Use:   "generate-query <size>",
		Short: "Generate a query vector near one of the dataset centers",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, params, err := openStore(a, args[0])
			if err != nil {
				return err
			}

			if err := workload.GenerateQueryFile(store, params, seedFlag(cmd, seed)); err != nil {
				return fmt.Errorf("generate query: %w", err)
			}

			a.logger.DebugContext(cmd.Context(), "query generated",
				slog.String("path", store.Path(artifact.Query)),
			)

			return nil
		},
	}

	cmd.Flags().Int64Var(&seed, "seed", 0, "Seed for reproducible generation")

	return cmd
}

func newCleartextCmd(a *app) *cobra.Command {
	var countOnly bool

	cmd := &cobra.Command{
		Use:   "cleartext <size>",
		Short: "Compute the expected result in the clear",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, params, err := openStore(a, args[0])
			if err != nil {
				return err
			}

			n, err := workload.ComputeExpected(store, params, countOnly)
			if err != nil {
				return fmt.Errorf("cleartext reference: %w", err)
			}

			a.logger.DebugContext(cmd.Context(), "expected result written",
				slog.String("path", store.Path(artifact.Expected)),
				slog.Int("matches", n),
			)

			return nil
		},
	}

	cmd.Flags().BoolVar(&countOnly, "count_only", false,
		"Write the match count instead of the payloads")

	return cmd
}

func newReportCmd(a *app) *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "report <size>",
		Short: "Summarize the saved run measurements of a size",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := report.ParseFormat(format)
			if err != nil {
				return err
			}

			store, _, err := openStore(a, args[0])
			if err != nil {
				return err
			}

			runs, err := report.Load(store.Layout().MeasureDir)
			if err != nil {
				return err
			}

			return report.Write(cmd.OutOrStdout(), store.Layout().Size.String(), runs, f)
		},
	}

	cmd.Flags().StringVar(&format, "format", "ascii",
		"Output format: ascii, markdown or json")

	return cmd
}

func newHistoryCmd(a *app) *cobra.Command {
	var (
		size   string
		limit  int
		dbPath string
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List runs recorded in the history ledger",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path := dbPath
			if path == "" {
				path = a.cfg.History.Path
			}
			if path == "" {
				return fmt.Errorf("no history ledger configured (use --history-db or history.path)")
			}

			filter := history.Filter{Limit: limit}
			if size != "" {
				s, err := parseSize(size)
				if err != nil {
					return err
				}
				filter.Size = s.String()
			}

			store, err := history.Open(path)
			if err != nil {
				return err
			}
			defer store.Close()

			entries, err := store.List(cmd.Context(), filter)
			if err != nil {
				return err
			}

			if len(entries) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No runs recorded.")

				return nil
			}

			t := table.NewWriter()
			t.SetStyle(table.StyleLight)
			t.AppendHeader(table.Row{"Recorded", "Invocation", "Size", "Run", "Mode", "Latency", "Result"})
			for _, e := range entries {
				mode := "payloads"
				if e.CountOnly {
					mode = "count"
				}

				t.AppendRow(table.Row{
					e.RecordedAt.Local().Format("2006-01-02 15:04:05"),
					shortID(e.InvocationID),
					e.Size,
					e.Run,
					mode,
					measure.FormatSeconds(msToDuration(e.TotalLatencyMs)),
					e.Status,
				})
			}

			fmt.Fprintln(cmd.OutOrStdout(), t.Render())

			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&size, "size", "", "Only show runs of this size (0-3)")
	flags.IntVar(&limit, "limit", history.DefaultLimit, "Maximum number of runs to show")
	flags.StringVar(&dbPath, "history-db", "", "Path to the history ledger")

	return cmd
}

func openStore(a *app, sizeArg string) (*artifact.Store, instance.Params, error) {
	size, err := parseSize(sizeArg)
	if err != nil {
		return nil, instance.Params{}, err
	}

	params, err := size.Params()
	if err != nil {
		return nil, instance.Params{}, err
	}

	layout, err := instance.NewLayout(a.cfg.Root, size)
	if err != nil {
		return nil, instance.Params{}, err
	}

	return artifact.NewStore(layout), params, nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}

	return id
}

func msToDuration(ms float64) time.Duration {
	return time.Duration(ms * float64(time.Millisecond))
}
