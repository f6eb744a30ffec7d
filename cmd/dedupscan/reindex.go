package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/hem-bad/dedupscan/internal/reindex"
)

var reindexCmd = &cobra.Command{
	Use:   "reindex",
	Short: "Copy a collection into a new one and swap the alias over",
	Long: `Copy all documents from a source collection into a freshly created
target collection, point the alias at the target, and drop the source.

The target's field mapping is read from the first non-empty JSON line of
the mapping file. With --dedup, documents are fingerprinted during the copy
and exact duplicates are skipped instead of carried into the target.

The source collection is only dropped after the copy and the alias swap
both succeed, so an interrupted reindex never loses documents.

Examples:
  dedupscan reindex --source articles_v1 --target articles_v2 --alias articles
  dedupscan reindex --source articles_v1 --target articles_v2 \
      --alias articles --mapping fields.json
  dedupscan reindex --source articles_v1 --target articles_v2 \
      --alias articles --dedup --fields CAC,FTSE,SMI`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := loadConfig()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		store, st, err := openStores(cfg)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer store.Close()
		defer st.Close()

		source, _ := cmd.Flags().GetString("source")
		target, _ := cmd.Flags().GetString("target")
		alias, _ := cmd.Flags().GetString("alias")
		mapping, _ := cmd.Flags().GetString("mapping")
		batchSize, _ := cmd.Flags().GetInt("batch-size")
		dedupFlag, _ := cmd.Flags().GetBool("dedup")
		fields, _ := cmd.Flags().GetStringSlice("fields")
		hash, _ := cmd.Flags().GetString("hash")

		r, err := reindex.New(store, reindex.Config{
			Source:        source,
			Target:        target,
			Alias:         alias,
			MappingFile:   mapping,
			BatchSize:     batchSize,
			Dedup:         dedupFlag,
			Fields:        fields,
			HashAlgorithm: hash,
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		fmt.Printf("Reindexing %s -> %s...\n", source, target)
		start := time.Now()
		result, err := r.Run(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: reindex failed: %v\n", err)
			os.Exit(1)
		}

		green := color.New(color.FgGreen).SprintFunc()
		fmt.Printf("%s Copied %d document(s) in %s\n",
			green("✓"), result.Copied, time.Since(start).Round(time.Millisecond))
		if dedupFlag {
			fmt.Printf("  Skipped %d duplicate(s)\n", result.Skipped)
		}
		if alias != "" {
			fmt.Printf("  Alias %s now points at %s\n", alias, target)
		}
		fmt.Printf("  Dropped source collection %s\n", source)
	},
}

func init() {
	reindexCmd.Flags().String("source", "", "Source collection (required)")
	reindexCmd.Flags().String("target", "", "Target collection (required)")
	reindexCmd.Flags().String("alias", "", "Alias to point at the target after the copy")
	reindexCmd.Flags().String("mapping", "", "Path to the field mapping file")
	reindexCmd.Flags().Int("batch-size", 0, "Scroll/insert page size")
	reindexCmd.Flags().Bool("dedup", false, "Skip exact duplicates during the copy")
	reindexCmd.Flags().StringSlice("fields", nil, "Fingerprint fields for --dedup")
	reindexCmd.Flags().String("hash", "", "Hash algorithm for --dedup")

	rootCmd.AddCommand(reindexCmd)
}
