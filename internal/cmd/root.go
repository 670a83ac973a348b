// Package cmd implements the s3glob CLI: URI/glob parsing, the `ls` and
// `dl` subcommands, and the ambient flag/logging/config plumbing every
// subcommand shares.
package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/quodlibetor/s3glob/internal/config"
	"github.com/quodlibetor/s3glob/internal/observability"
)

// Persistent (root-level) flags, inherited by every subcommand (spec §6
// "ambient flags", SPEC_FULL.md §6).
var (
	flagRegion        string
	flagProfile       string
	flagEndpoint      string
	flagNoSignRequest bool
	flagTimeout       string
	flagLogLevel      string
	flagLogFile       string
	flagConfigFile    string
	flagVerbosity     int
	flagMaxParallel   int
	flagMinParallel   int
	flagQuiet         bool
)

// jobID correlates every JSONL record within one invocation; it is not
// attached to log lines (spec §6 "job correlation"), mirroring the teacher's
// `jobID := uuid.New().String()` convention.
var jobID string

var rootCmd = &cobra.Command{
	Use:   "s3glob",
	Short: "List and download S3 objects matching a glob pattern",
	Long: `s3glob resolves a Unix-style glob pattern against an S3 bucket without
a full bucket listing: it subdivides the pattern into S3 list calls one
path segment at a time, pruning branches the pattern can't match.

  s3glob ls s3://bucket/logs/2024/**/*.gz
  s3glob dl s3://bucket/exports/*.parquet ./out --path-mode shortest`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: rootPersistentPreRun,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&flagRegion, "region", "r", "", "AWS region")
	rootCmd.PersistentFlags().StringVarP(&flagProfile, "profile", "p", "", "AWS profile")
	rootCmd.PersistentFlags().StringVar(&flagEndpoint, "endpoint", "", "Custom S3-compatible endpoint")
	rootCmd.PersistentFlags().BoolVar(&flagNoSignRequest, "no-sign-request", false, "Make every request anonymous (for public buckets)")
	rootCmd.PersistentFlags().StringVar(&flagTimeout, "timeout", "", "Request timeout setting (e.g. 30s); resolved into config but not applied to S3 requests")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&flagLogFile, "log-file", "", "Also write JSON logs to this rotated file")
	rootCmd.PersistentFlags().StringVar(&flagConfigFile, "config", "", "Path to a YAML/JSON config file")
	rootCmd.PersistentFlags().CountVarP(&flagVerbosity, "verbose", "v", "Increase log verbosity (-v, -vv, -vvv)")
	rootCmd.PersistentFlags().IntVar(&flagMaxParallel, "max-parallelism", 0, "Ceiling on concurrent scan workers")
	rootCmd.PersistentFlags().IntVar(&flagMinParallel, "min-parallelism", 0, "Floor on concurrent scan workers")
	rootCmd.PersistentFlags().BoolVarP(&flagQuiet, "quiet", "q", false, "Suppress human-readable output (ls match lines, dl summary); --jsonl output is unaffected")
}

// Execute runs the root command. It's the sole entry point cmd/s3glob/main.go
// calls; the returned int is the process exit code (spec §6 exit codes).
//
// A SIGINT/SIGTERM is translated into context cancellation (mirroring the
// teacher's `signal.NotifyContext(ctx, syscall.SIGTERM, os.Interrupt)` in
// `internal/cmd/index_build.go`) so `ls`/`dl`'s in-flight scan and download
// observe ctx.Done() and unwind cleanly instead of the process dying
// mid-write (spec §5 cancellation, invariant 6: no partial files on disk).
func Execute() int {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		observability.CLILogger.Sync() //nolint:errcheck
		return exitCodeFor(err)
	}
	observability.CLILogger.Sync() //nolint:errcheck
	return exitOK
}

func rootPersistentPreRun(cmd *cobra.Command, args []string) error {
	jobID = uuid.New().String()

	overrides := map[string]any{}
	if flagRegion != "" {
		overrides["region"] = flagRegion
	}
	if flagProfile != "" {
		overrides["profile"] = flagProfile
	}
	if flagEndpoint != "" {
		overrides["endpoint"] = flagEndpoint
	}
	if flagNoSignRequest {
		overrides["no_sign_request"] = true
	}
	if flagTimeout != "" {
		overrides["timeout"] = flagTimeout
	}
	if flagLogLevel != "" {
		overrides["log_level"] = flagLogLevel
	}
	if flagLogFile != "" {
		overrides["log_file"] = flagLogFile
	}
	if flagMaxParallel > 0 {
		overrides["max_parallelism"] = flagMaxParallel
	}
	if flagMinParallel > 0 {
		overrides["min_parallelism"] = flagMinParallel
	}

	cfg, err := config.Load(cmd.Context(), flagConfigFile, overrides)
	if err != nil {
		return exitError(exitIOError, "failed to load configuration", err)
	}
	currentConfig = cfg

	// Logging is initialized after config.Load so --log-level/--log-file
	// resolve through the same flag > env > file > default precedence as
	// every other ambient setting, instead of only ever seeing the raw flag.
	if _, err := observability.Init(observability.Options{
		Verbosity: flagVerbosity,
		LogFile:   cfg.LogFile,
		LogLevel:  cfg.LogLevel,
	}); err != nil {
		return exitError(exitIOError, "failed to initialize logging", err)
	}

	return nil
}

// currentConfig is the resolved config for the in-flight invocation,
// populated by rootPersistentPreRun before any subcommand's RunE runs.
var currentConfig *config.Config

func mustConfig() *config.Config {
	if currentConfig == nil {
		def := config.Defaults()
		return &def
	}
	return currentConfig
}

// NewRootCommand exposes the root cobra.Command for callers that want to
// customize argument parsing (tests), mirroring the teacher's package
// structure where rootCmd is the single shared command tree.
func NewRootCommand() *cobra.Command {
	return rootCmd
}
