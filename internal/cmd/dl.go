package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/quodlibetor/s3glob/pkg/downloader"
	"github.com/quodlibetor/s3glob/pkg/output"
	"github.com/quodlibetor/s3glob/pkg/provider"
	"github.com/quodlibetor/s3glob/pkg/scanner"
)

var (
	dlPathMode string
	dlFlatten  bool
	dlJSONL    bool
)

var dlCmd = &cobra.Command{
	Use:   "dl <pattern> <destination>",
	Short: "Download S3 objects matching a glob pattern",
	Long: `Download every object whose key matches a glob pattern into a local
destination directory. Downloads fan out across per-directory worker pools
so one slow or throttled prefix can't block unrelated downloads, and every
write goes through a temp-file-then-rename so a failed transfer never
leaves a partial file behind.

  s3glob dl s3://bucket/exports/*.parquet ./out --path-mode shortest
  s3glob dl s3://bucket/logs/2024/**/*.gz ./logs --flatten`,
	Args: cobra.ExactArgs(2),
	RunE: runDl,
}

func init() {
	rootCmd.AddCommand(dlCmd)
	dlCmd.Flags().StringVar(&dlPathMode, "path-mode", string(downloader.PathModeAbsolute), "Local path derivation: absolute, from-first-glob, shortest")
	dlCmd.Flags().BoolVar(&dlFlatten, "flatten", false, "Replace path separators with '-' in derived local paths")
	dlCmd.Flags().BoolVar(&dlJSONL, "jsonl", false, "Emit JSONL records instead of a human-readable summary")
}

func runDl(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg := mustConfig()

	uri, err := ParseURI(args[0])
	if err != nil {
		return exitError(exitPatternSyntax, "invalid URI", err)
	}
	pattern, err := uri.Compile()
	if err != nil {
		return exitError(exitPatternSyntax, "invalid pattern", err)
	}

	destinationDir := args[1]
	pathMode := downloader.PathMode(dlPathMode)
	switch pathMode {
	case downloader.PathModeAbsolute, downloader.PathModeFromFirstGlob, downloader.PathModeShortest:
	default:
		return exitError(exitPatternSyntax, "invalid --path-mode", fmt.Errorf("must be one of absolute, from-first-glob, shortest, got %q", dlPathMode))
	}

	prov, err := newProvider(ctx, uri.Bucket, cfg)
	if err != nil {
		return exitError(exitAccessDenied, "failed to connect to S3", err)
	}
	defer prov.Close()

	var writer output.Writer
	if dlJSONL {
		writer = output.NewJSONLWriter(cmd.OutOrStdout(), jobID, string(provider.ProviderS3))
		defer writer.Close()
	}

	scanCfg := scanner.DefaultConfig()
	if cfg.MaxParallelism > 0 {
		scanCfg.MaxParallelism = cfg.MaxParallelism
	}
	if cfg.MinParallelism > 0 {
		scanCfg.MinParallelism = cfg.MinParallelism
	}
	if cfg.ExpansionCap > 0 {
		scanCfg.ExpansionCap = cfg.ExpansionCap
	}

	sc, err := scanner.New(prov, pattern, scanCfg, writer)
	if err != nil {
		return exitError(exitIOError, "scanner setup failed", err)
	}

	dlCfg := downloader.DefaultConfig()
	dlCfg.PathMode = pathMode
	dlCfg.Flatten = dlFlatten
	dlCfg.DestinationDir = destinationDir
	dlCfg.LiteralPrefix = pattern.LiteralPrefix
	if cfg.Downloader.Pools > 0 {
		dlCfg.PoolCount = cfg.Downloader.Pools
	}
	if cfg.Downloader.ConcurrencyPerPrefix > 0 {
		dlCfg.PerPoolConcurrency = cfg.Downloader.ConcurrencyPerPrefix
	}

	dl := downloader.New(prov, writer, dlCfg)

	matches, scanErr := sc.Scan(ctx)
	in := make(chan downloader.Object, 64)
	go func() {
		defer close(in)
		for obj := range matches {
			in <- downloader.Object{
				Key:          obj.Key,
				Size:         obj.Size,
				ETag:         obj.ETag,
				LastModified: obj.LastModified,
			}
		}
	}()

	summary, runErr := dl.Run(ctx, in)

	cancelled := func(err error) bool {
		return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
	}

	if scanFailure := <-scanErr; scanFailure != nil {
		if cancelled(scanFailure) {
			return exitError(exitCancelled, "scan cancelled", scanFailure)
		}
		return exitError(exitIOError, "scan failed", scanFailure)
	}
	if runErr != nil {
		if cancelled(runErr) {
			return exitError(exitCancelled, "download cancelled", runErr)
		}
		return exitError(exitIOError, "download failed", runErr)
	}

	if writer != nil {
		if err := writer.WriteSummary(ctx, &output.SummaryRecord{
			ObjectsCompleted: summary.ObjectsCompleted,
			BytesTransferred: summary.BytesTransferred,
			Duration:         summary.Duration,
			DurationHuman:    summary.Duration.String(),
			Errors:           summary.Errors,
		}); err != nil {
			return exitError(exitIOError, "failed writing summary", err)
		}
	} else if !flagQuiet {
		fmt.Fprintf(cmd.OutOrStdout(), "downloaded %d objects, %s, %d errors\n",
			summary.ObjectsCompleted, humanize.Bytes(uint64(summary.BytesTransferred)), summary.Errors)
	}

	if summary.ObjectsQueued == 0 {
		return exitError(exitNoMatches, "no objects matched the pattern", errNoMatches)
	}
	return nil
}
