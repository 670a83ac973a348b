package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/quodlibetor/s3glob/pkg/output"
	"github.com/quodlibetor/s3glob/pkg/provider"
	"github.com/quodlibetor/s3glob/pkg/scanner"
)

var (
	lsFormat string
	lsJSONL  bool
)

var lsCmd = &cobra.Command{
	Use:   "ls <pattern>",
	Short: "List S3 objects matching a glob pattern",
	Long: `List every object whose key matches a glob pattern, without listing the
whole bucket: the pattern is subdivided into S3 ListObjectsV2 calls one path
segment at a time, pruning any branch the pattern can't match.

  s3glob ls s3://bucket/logs/2024/**/*.gz
  s3glob ls s3://bucket/data/*.csv -f '{size_human} {key}'`,
	Args: cobra.ExactArgs(1),
	RunE: runLs,
}

func init() {
	rootCmd.AddCommand(lsCmd)
	lsCmd.Flags().StringVarP(&lsFormat, "format", "f", "", "Output format string (tokens: {bucket} {key} {uri} {size} {size_human} {last_modified})")
	lsCmd.Flags().BoolVar(&lsJSONL, "jsonl", false, "Emit JSONL records instead of human-readable lines")
}

func runLs(cmd *cobra.Command, args []string) error {
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

	prov, err := newProvider(ctx, uri.Bucket, cfg)
	if err != nil {
		return exitError(exitAccessDenied, "failed to connect to S3", err)
	}
	defer prov.Close()

	var writer output.Writer
	if lsJSONL {
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

	out, errc := sc.Scan(ctx)

	format := lsFormat
	if format == "" {
		format = defaultFormat
	}

	var matched int64
	for obj := range out {
		matched++
		if writer != nil {
			if err := writer.WriteObject(ctx, &output.ObjectRecord{
				Key:          obj.Key,
				Size:         obj.Size,
				ETag:         obj.ETag,
				LastModified: obj.LastModified,
			}); err != nil {
				return exitError(exitIOError, "failed writing output", err)
			}
			continue
		}
		if flagQuiet {
			continue
		}
		line := renderEntry(format, formatEntry{
			Bucket:       uri.Bucket,
			Key:          obj.Key,
			Size:         obj.Size,
			LastModified: obj.LastModified,
		})
		fmt.Fprintln(cmd.OutOrStdout(), line)
	}

	if scanErr := <-errc; scanErr != nil {
		if errors.Is(scanErr, context.Canceled) || errors.Is(scanErr, context.DeadlineExceeded) {
			return exitError(exitCancelled, "scan cancelled", scanErr)
		}
		return exitError(exitIOError, "scan failed", scanErr)
	}

	if matched == 0 {
		return exitError(exitNoMatches, "no objects matched the pattern", errNoMatches)
	}
	return nil
}
