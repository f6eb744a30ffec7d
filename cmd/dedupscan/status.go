package main

import (
	"context"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/hem-bad/dedupscan/internal/state"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show recent scans and resumable checkpoints",
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

		ctx := context.Background()
		limit, _ := cmd.Flags().GetInt("limit")
		runs, err := st.RecentScans(ctx, limit)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		if len(runs) == 0 {
			fmt.Println("No scans recorded")
			return
		}

		for _, run := range runs {
			status := run.Status
			switch status {
			case "completed":
				status = color.GreenString(status)
			case "interrupted":
				status = color.YellowString(status)
			}
			fmt.Printf("%s  %s  %s  %s  docs=%d groups=%d removed=%d failures=%d\n",
				run.StartedAt.Format("2006-01-02 15:04:05"),
				run.ID[:8], run.Collection, status,
				run.Documents, run.Groups, run.Removed, run.Failures)

			if run.Status == "interrupted" {
				cp, err := st.GetCheckpoint(ctx, run.ID)
				if err == nil && cp != nil {
					fmt.Printf("    resumable from window %d (checkpoint %s)\n",
						cp.WindowIndex, cp.UpdatedAt.Format("2006-01-02 15:04:05"))
				}
			}
		}
	},
}

func init() {
	statusCmd.Flags().Int("limit", 20, "Maximum number of scans to show")

	rootCmd.AddCommand(statusCmd)
}
