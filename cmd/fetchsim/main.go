// Package main provides the CLI entry point for fetchsim, the benchmark
// harness for encrypted fetch-by-similarity submissions.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/weiihann/fetchsim/config"
	"github.com/weiihann/fetchsim/instance"
	"github.com/weiihann/fetchsim/logging"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	err := newRootCmd().ExecuteContext(ctx)
	stop()

	if err != nil {
		var exit *exitError
		if errors.As(err, &exit) {
			os.Exit(exit.code)
		}

		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// exitError ends the process with code after the command already printed
// its own diagnostic.
type exitError struct {
	code int
}

func (e *exitError) Error() string {
	return "exit status " + strconv.Itoa(e.code)
}

// app carries state shared by every subcommand. It is populated by the
// root command's PersistentPreRunE before any subcommand runs.
type app struct {
	configPath string
	root       string
	logLevel   string
	logFormat  string

	cfg    *config.Config
	logger *slog.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{logger: logging.Discard()}

	root := &cobra.Command{
		Use:   "fetchsim",
		Short: "Benchmark harness for encrypted fetch-by-similarity submissions",
		Long: `fetchsim drives a homomorphic-encryption submission through dataset
generation, key generation, database encryption and a number of query runs,
timing every stage and verifying each decrypted result against a cleartext
reference.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.init(cmd)
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.configPath, "config", "",
		"Path to a YAML or JSON config file")
	flags.StringVar(&a.root, "root", "",
		"Root directory holding harness/, scripts/ and submission/ (default: current directory)")
	flags.StringVar(&a.logLevel, "log-level", "",
		"Log level: debug, info, warn, error")
	flags.StringVar(&a.logFormat, "log-format", "",
		"Log format: text or json")

	root.AddCommand(
		newRunCmd(a),
		newVerifyCmd(a),
		newGenerateDatasetCmd(a),
		newGenerateQueryCmd(a),
		newCleartextCmd(a),
		newReportCmd(a),
		newHistoryCmd(a),
	)

	return root
}

// init builds the effective configuration (defaults, file, environment,
// then flags) and the logger.
func (a *app) init(cmd *cobra.Command) error {
	cfg := config.DefaultConfig()
	if a.configPath != "" {
		var err error
		if cfg, err = config.LoadFromFile(a.configPath); err != nil {
			return err
		}
	}

	config.LoadFromEnv(cfg)

	flags := cmd.Flags()
	if flags.Changed("root") {
		cfg.Root = a.root
	}
	if flags.Changed("log-level") {
		cfg.Logging.Level = a.logLevel
	}
	if flags.Changed("log-format") {
		cfg.Logging.Format = a.logFormat
	}

	if err := cfg.Resolve(); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	level, err := logging.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return err
	}

	a.cfg = cfg
	a.logger = logging.New(level, cfg.Logging.Format, os.Stderr)

	return nil
}

func parseSize(arg string) (instance.Size, error) {
	n, err := strconv.Atoi(arg)
	if err != nil {
		return 0, fmt.Errorf("%w: %q is not an integer", instance.ErrInvalidSize, arg)
	}

	return instance.Parse(n)
}

// seedFlag returns a pointer to the --seed value when the flag was given.
func seedFlag(cmd *cobra.Command, v int64) *int64 {
	if !cmd.Flags().Changed("seed") {
		return nil
	}

	return &v
}
