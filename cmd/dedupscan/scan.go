package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/hem-bad/dedupscan/internal/audit"
	"github.com/hem-bad/dedupscan/internal/scanner"
	"github.com/hem-bad/dedupscan/internal/state"
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan a collection for duplicate documents",
	Long: `Scan a collection for duplicate documents and eliminate them.

Documents are streamed in timestamp order, fingerprinted over the configured
field list, and grouped by fingerprint. At each window boundary, groups with
more than one member are resolved: one member survives (per the tie-break
rule) and the rest are marked for removal.

By default the scan is a dry run: elimination records are written to the
audit stream and printed, but nothing is deleted. Pass --live to apply
deletions. Interrupted scans leave a checkpoint; --resume continues the
most recent interrupted scan for the collection.

Examples:
  dedupscan scan --collection articles --fields CAC,FTSE,SMI
  dedupscan scan --collection articles --fields CAC,FTSE,SMI --live
  dedupscan scan --collection articles --fields CAC,FTSE,SMI \
      --from 2016-01-01T00:00:00Z --to 2016-02-01T00:00:00Z \
      --window 24h --overlap 1h
  dedupscan scan --collection articles --fields CAC,FTSE,SMI --verify --live
  dedupscan scan --collection articles --resume`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := loadConfig()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		scanCfg, err := cfg.ScannerConfig()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		if err := applyScanFlags(cmd, &scanCfg); err != nil {
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

		var sink audit.Writer
		if jsonlPath, _ := cmd.Flags().GetString("jsonl"); jsonlPath != "" {
			f, err := os.OpenFile(jsonlPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: failed to open audit file: %v\n", err)
				os.Exit(1)
			}
			defer f.Close()
			sink = audit.NewJSONLWriter(f)
		}

		s, err := scanner.New(store, st, sink, scanCfg)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		// Ctrl-C cancels the scan; in-flight deletes for the current
		// groups still drain before the process exits.
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		var resume *state.Checkpoint
		if doResume, _ := cmd.Flags().GetBool("resume"); doResume {
			resume, err = st.LatestCheckpoint(ctx, scanCfg.Collection)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			if resume == nil {
				fmt.Fprintf(os.Stderr, "Error: no checkpoint found for collection %s\n", scanCfg.Collection)
				os.Exit(1)
			}
			fmt.Printf("Resuming scan %s from window %d\n", resume.ScanID, resume.WindowIndex)
		}

		if !scanCfg.Live {
			fmt.Printf("%s\n", color.YellowString("DRY RUN MODE - No documents will be deleted"))
		}
		fmt.Printf("Scanning collection %s (fields: %s, hash: %s)...\n\n",
			scanCfg.Collection, strings.Join(scanCfg.Fields, ","), scanCfg.HashAlgorithm)

		result, err := s.Run(ctx, resume)
		if result != nil {
			printScanResult(result)
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "\nError: %v\n", err)
			if result != nil && result.Interrupted {
				fmt.Fprintf(os.Stderr, "Run 'dedupscan scan --collection %s --resume' to continue\n",
					scanCfg.Collection)
			}
			os.Exit(1)
		}
	},
}

// applyScanFlags overlays explicitly set scan flags onto the configuration.
func applyScanFlags(cmd *cobra.Command, cfg *scanner.Config) error {
	flags := cmd.Flags()

	if flags.Changed("collection") {
		cfg.Collection, _ = flags.GetString("collection")
	}
	if flags.Changed("fields") {
		cfg.Fields, _ = flags.GetStringSlice("fields")
	}
	if flags.Changed("hash") {
		cfg.HashAlgorithm, _ = flags.GetString("hash")
	}
	if flags.Changed("tie-break") {
		cfg.TieBreak, _ = flags.GetString("tie-break")
	}
	if flags.Changed("live") {
		cfg.Live, _ = flags.GetBool("live")
	}
	if flags.Changed("verify") {
		cfg.Verify, _ = flags.GetBool("verify")
	}
	if flags.Changed("window") {
		cfg.WindowLength, _ = flags.GetDuration("window")
	}
	if flags.Changed("overlap") {
		cfg.Overlap, _ = flags.GetDuration("overlap")
	}
	if flags.Changed("batch-size") {
		cfg.BatchSize, _ = flags.GetInt("batch-size")
	}
	if flags.Changed("workers") {
		cfg.Workers, _ = flags.GetInt("workers")
	}
	if flags.Changed("delete-rate") {
		cfg.DeleteRate, _ = flags.GetFloat64("delete-rate")
	}
	if flags.Changed("from") {
		raw, _ := flags.GetString("from")
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return fmt.Errorf("invalid --from %q: %w", raw, err)
		}
		cfg.From = t
	}
	if flags.Changed("to") {
		raw, _ := flags.GetString("to")
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return fmt.Errorf("invalid --to %q: %w", raw, err)
		}
		cfg.To = t
	}
	return nil
}

// printScanResult renders the scan summary and its elimination records.
func printScanResult(result *scanner.Result) {
	for _, rec := range result.Records {
		verb := "would remove"
		if rec.Mode == audit.ModeLive {
			verb = "removed"
		}
		fmt.Printf("  %s keep %s, %s %s\n",
			shortKey(rec.Fingerprint), rec.Keep, verb, strings.Join(rec.Removed, ", "))
		for id, msg := range rec.DeleteFailures {
			fmt.Printf("    %s delete %s failed: %s\n", color.RedString("✗"), id, msg)
		}
	}

	green := color.New(color.FgGreen).SprintFunc()
	fmt.Printf("\n%s Scanned %d document(s) in %d window(s)\n",
		green("✓"), result.Documents, result.Windows)
	fmt.Printf("  Duplicate groups resolved: %d\n", len(result.Records))
	if result.Mode == audit.ModeDryRun {
		fmt.Printf("  Would remove: %d document(s)\n", result.Removed)
		fmt.Printf("  Run with --live to apply deletions\n")
	} else {
		fmt.Printf("  Removed: %d document(s), %d delete failure(s)\n",
			result.Removed-result.DeleteFailures, result.DeleteFailures)
	}
	if result.CollisionSplits > 0 {
		fmt.Printf("  %s %d group(s) split after verification (suspected hash collisions)\n",
			color.YellowString("!"), result.CollisionSplits)
	}
	if result.ResolveFailures > 0 {
		fmt.Printf("  %s %d group(s) skipped: members could not be fetched\n",
			color.YellowString("!"), result.ResolveFailures)
	}
	fmt.Printf("  Peak index size: %d identifier(s)\n", result.PeakIndexSize)
}

// shortKey abbreviates a fingerprint for display.
func shortKey(key string) string {
	if len(key) <= 12 {
		return key
	}
	return key[:12]
}

func init() {
	scanCmd.Flags().String("collection", "", "Collection (or alias) to scan")
	scanCmd.Flags().StringSlice("fields", nil, "Ordered field list composing the fingerprint")
	scanCmd.Flags().String("hash", "", "Hash algorithm: sha256, sha1, or fnv128a")
	scanCmd.Flags().String("tie-break", "", "Survivor rule: smallest-id or earliest")
	scanCmd.Flags().Bool("live", false, "Apply deletions (default is dry-run)")
	scanCmd.Flags().Bool("verify", false, "Verify full-content equality before deletion")
	scanCmd.Flags().String("from", "", "Range start (RFC 3339)")
	scanCmd.Flags().String("to", "", "Range end (RFC 3339)")
	scanCmd.Flags().Duration("window", 0, "Window length (0 = single unbounded pass)")
	scanCmd.Flags().Duration("overlap", 0, "Trailing overlap retained across windows")
	scanCmd.Flags().Int("batch-size", 0, "Scroll page size")
	scanCmd.Flags().Int("workers", 0, "Concurrent fingerprint workers")
	scanCmd.Flags().Float64("delete-rate", 0, "Max deletes per second (0 = unlimited)")
	scanCmd.Flags().Bool("resume", false, "Resume the most recent interrupted scan")
	scanCmd.Flags().String("jsonl", "", "Also append elimination records to this JSONL file")

	rootCmd.AddCommand(scanCmd)
}
