// Package config provides the harness configuration: defaults, an optional
// YAML or JSON file, and FETCHSIM_* environment overrides.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds the harness configuration.
type Config struct {
	// Root is the working directory holding harness/, scripts/ and submission/
	Root string `json:"root" yaml:"root"`

	Logging LoggingConfig `json:"logging" yaml:"logging"`
	Build   BuildConfig   `json:"build" yaml:"build"`
	Stages  StagesConfig  `json:"stages" yaml:"stages"`
	Verify  VerifyConfig  `json:"verify" yaml:"verify"`
	History HistoryConfig `json:"history" yaml:"history"`
	Publish PublishConfig `json:"publish" yaml:"publish"`
}

// LoggingConfig controls the slog handler.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error
	Level string `json:"level" yaml:"level"`

	// Format is text or json
	Format string `json:"format" yaml:"format"`
}

// BuildConfig controls the one-time submission build.
type BuildConfig struct {
	Skip bool `json:"skip" yaml:"skip"`

	// Script is the build script, relative to Root
	Script string `json:"script" yaml:"script"`

	// SubmissionDir is passed to the build script
	SubmissionDir string `json:"submission_dir" yaml:"submission_dir"`
}

// StagesConfig locates the external stage executables.
type StagesConfig struct {
	// ExecDir holds the submission binaries, relative to Root
	ExecDir string `json:"exec_dir" yaml:"exec_dir"`

	// DatasetGenerator, QueryGenerator and Cleartext override the built-in
	// generator subcommands. Empty means this binary's own subcommand.
	DatasetGenerator []string `json:"dataset_generator" yaml:"dataset_generator"`
	QueryGenerator   []string `json:"query_generator" yaml:"query_generator"`
	Cleartext        []string `json:"cleartext" yaml:"cleartext"`
}

// VerifyConfig holds the oracle policy.
type VerifyConfig struct {
	// SkipThreshold is the largest match count compared exactly
	SkipThreshold int `json:"skip_threshold" yaml:"skip_threshold"`
}

// HistoryConfig locates the run ledger. Empty Path disables it.
type HistoryConfig struct {
	Path string `json:"path" yaml:"path"`
}

// PublishConfig describes where measurement reports are uploaded.
// Empty Bucket disables publishing.
type PublishConfig struct {
	Bucket       string `json:"bucket" yaml:"bucket"`
	Prefix       string `json:"prefix" yaml:"prefix"`
	Region       string `json:"region" yaml:"region"`
	Endpoint     string `json:"endpoint" yaml:"endpoint"`
	UsePathStyle bool   `json:"use_path_style" yaml:"use_path_style"`
}

// DefaultConfig returns the configuration used when nothing is set.
func DefaultConfig() *Config {
	return &Config{
		Root: ".",
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Build: BuildConfig{
			Script:        filepath.Join("scripts", "build_task.sh"),
			SubmissionDir: "./submission",
		},
		Stages: StagesConfig{
			ExecDir: filepath.Join("submission", "build"),
		},
		Verify: VerifyConfig{
			SkipThreshold: 32,
		},
		Publish: PublishConfig{
			Prefix: "fetchsim",
			Region: "us-east-1",
		},
	}
}

// Resolve makes Root absolute and anchors relative paths under it.
func (c *Config) Resolve() error {
	if c.Root == "" {
		c.Root = "."
	}

	root, err := filepath.Abs(c.Root)
	if err != nil {
		return fmt.Errorf("resolve root: %w", err)
	}
	c.Root = root

	if !filepath.IsAbs(c.Build.Script) {
		c.Build.Script = filepath.Join(root, c.Build.Script)
	}
	if !filepath.IsAbs(c.Stages.ExecDir) {
		c.Stages.ExecDir = filepath.Join(root, c.Stages.ExecDir)
	}
	if c.History.Path != "" && !filepath.IsAbs(c.History.Path) {
		c.History.Path = filepath.Join(root, c.History.Path)
	}

	return nil
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("invalid logging.format: %s (must be text or json)", c.Logging.Format)
	}

	if c.Verify.SkipThreshold < 0 {
		return fmt.Errorf("verify.skip_threshold must be >= 0, got %d", c.Verify.SkipThreshold)
	}

	if c.Build.Script == "" && !c.Build.Skip {
		return fmt.Errorf("build.script is required unless build.skip is set")
	}

	if c.Stages.ExecDir == "" {
		return fmt.Errorf("stages.exec_dir is required")
	}

	return nil
}

// LoadFromFile loads configuration from a YAML or JSON file on top of the
// defaults.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse JSON config: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config file format: %s", ext)
	}

	return cfg, nil
}

// LoadFromEnv applies FETCHSIM_* environment variables to cfg.
func LoadFromEnv(cfg *Config) {
	if v := os.Getenv("FETCHSIM_ROOT"); v != "" {
		cfg.Root = v
	}
	if v := os.Getenv("FETCHSIM_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("FETCHSIM_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
	if v := os.Getenv("FETCHSIM_SKIP_BUILD"); v != "" {
		cfg.Build.Skip = v == "true" || v == "1"
	}
	if v := os.Getenv("FETCHSIM_EXEC_DIR"); v != "" {
		cfg.Stages.ExecDir = v
	}
	if v := os.Getenv("FETCHSIM_VERIFY_SKIP_THRESHOLD"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Verify.SkipThreshold = n
		}
	}
	if v := os.Getenv("FETCHSIM_HISTORY_PATH"); v != "" {
		cfg.History.Path = v
	}

	// Publish configuration
	if v := os.Getenv("FETCHSIM_PUBLISH_BUCKET"); v != "" {
		cfg.Publish.Bucket = v
	}
	if v := os.Getenv("FETCHSIM_PUBLISH_PREFIX"); v != "" {
		cfg.Publish.Prefix = v
	}
	if v := os.Getenv("FETCHSIM_PUBLISH_REGION"); v != "" {
		cfg.Publish.Region = v
	}
	if v := os.Getenv("FETCHSIM_PUBLISH_ENDPOINT"); v != "" {
		cfg.Publish.Endpoint = v
	}
}

// Load builds the effective configuration: defaults, then the file at path
// (if any), then the environment. The result is resolved and validated.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		var err error
		if cfg, err = LoadFromFile(path); err != nil {
			return nil, err
		}
	}

	LoadFromEnv(cfg)

	if err := cfg.Resolve(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}
