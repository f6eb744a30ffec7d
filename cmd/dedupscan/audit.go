package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/hem-bad/dedupscan/internal/audit"
	"github.com/hem-bad/dedupscan/internal/state"
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "List elimination records from past scans",
	Long: `List elimination records from the append-only audit stream.

Every resolved duplicate group produced exactly one record naming the
fingerprint, the surviving identifier, the removed identifiers, and any
per-identifier delete failures. The stream is sufficient to reconstruct
every deletion decision after the fact.

Examples:
  dedupscan audit
  dedupscan audit --scan 4cc52c1e-...     # one scan's records
  dedupscan audit --limit 500 --json      # machine-readable`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := loadConfig()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		st, err := state.New(cfg.StateDB)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: failed to open state database: %v\n", err)
			os.Exit(1)
		}
		defer st.Close()

		scanID, _ := cmd.Flags().GetString("scan")
		limit, _ := cmd.Flags().GetInt("limit")
		asJSON, _ := cmd.Flags().GetBool("json")

		records, err := st.ListRecords(context.Background(), state.RecordFilter{
			ScanID: scanID,
			Limit:  limit,
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		if asJSON {
			enc := json.NewEncoder(os.Stdout)
			for _, rec := range records {
				if err := enc.Encode(rec); err != nil {
					fmt.Fprintf(os.Stderr, "Error: %v\n", err)
					os.Exit(1)
				}
			}
			return
		}

		if len(records) == 0 {
			fmt.Println("No elimination records found")
			return
		}
		for _, rec := range records {
			printAuditRecord(rec)
		}
		fmt.Printf("\n%d record(s)\n", len(records))
	},
}

func printAuditRecord(rec *audit.EliminationRecord) {
	mode := color.YellowString(string(rec.Mode))
	if rec.Mode == audit.ModeLive {
		mode = color.GreenString(string(rec.Mode))
	}
	fmt.Printf("%s  %s  %s  keep %s, remove %s\n",
		rec.CreatedAt.Format("2006-01-02 15:04:05"),
		mode,
		shortKey(rec.Fingerprint),
		rec.Keep,
		strings.Join(rec.Removed, ", "))
	for id, msg := range rec.DeleteFailures {
		fmt.Printf("    %s delete %s failed: %s\n", color.RedString("✗"), id, msg)
	}
}

func init() {
	auditCmd.Flags().String("scan", "", "Limit to one scan ID")
	auditCmd.Flags().Int("limit", 100, "Maximum number of records")
	auditCmd.Flags().Bool("json", false, "Output records as JSON lines")

	rootCmd.AddCommand(auditCmd)
}
