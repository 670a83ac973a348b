package cmd

import "github.com/spf13/cobra"

var helpCmd = &cobra.Command{
	Use:   "help [command]",
	Short: "Help about any command or topic",
	RunE: func(cmd *cobra.Command, args []string) error {
		target, _, err := cmd.Root().Find(args)
		if err != nil || target == nil {
			target = cmd.Root()
		}
		return target.Help()
	},
}

var helpParallelismCmd = &cobra.Command{
	Use:   "parallelism",
	Short: "How s3glob sizes its worker pools",
	Long: `s3glob resolves a pattern by subdividing it into a tree of prefixes and
listing each one; how many of those listings run at once is controlled by
two knobs:

  --max-parallelism N   (default 10000)
      Ceiling on concurrent scan workers. The scanner never runs more than
      this many ListObjectsV2 calls in flight, regardless of how wide the
      prefix tree gets. Lower this if you're hitting S3 request-rate
      throttling on a hot prefix, or if you're scanning from a
      bandwidth-constrained environment.

  --min-parallelism N   (default 50)
      Floor on concurrent scan workers, applied even when the pattern's
      initial frontier (the set of top-level prefixes produced before any
      listing happens) is small. Without a floor, a pattern like
      "logs/*/errors.log" with only a handful of top-level branches would
      scan them one at a time even though S3 can easily sustain far more
      concurrent requests.

The actual worker count for a run is
  min(max_parallelism, max(initial_frontier_size, min_parallelism))

The downloader (s3glob dl) applies a separate pair of knobs,
"downloader.pools" and "downloader.concurrency_per_prefix" (config file /
S3GLOB_DOWNLOADER_POOLS / S3GLOB_DOWNLOADER_CONCURRENCY_PER_PREFIX): objects
are hashed onto one of "pools" worker pools by their containing directory,
each pool allowing "concurrency_per_prefix" concurrent GETs, so a slow or
throttled directory doesn't head-of-line block unrelated downloads.

One more limit worth knowing about: a pattern whose brace/class expansion
would produce more than "expansion_cap" (config file /
S3GLOB_EXPANSION_CAP, default 100000) literal prefixes is not expanded
further past the cap - s3glob instead scans the unexpanded remainder of the
pattern against each already-expanded prefix, trading a larger per-prefix
listing for a bounded frontier. Patterns with many consecutive
"{a,b}/{c,d}/{e,f}/..." brace groups are the usual way to hit this.

Brace groups cannot be nested: a pattern such as "{a,{b,c}}" is rejected
as a syntax error; write it as "{a,b,c}" instead.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.Println(cmd.Long)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(helpCmd)
	helpCmd.AddCommand(helpParallelismCmd)
}
