// dedupscan finds and eliminates duplicate documents in a document store
// using content fingerprints, streaming over overlapping time windows so
// memory stays bounded by the overlap period rather than the corpus size.
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/hem-bad/dedupscan/internal/config"
	"github.com/hem-bad/dedupscan/internal/docstore/sqlite"
	"github.com/hem-bad/dedupscan/internal/state"
)

var (
	configPath  string
	stateDBPath string
	storeDBPath string
)

var rootCmd = &cobra.Command{
	Use:   "dedupscan",
	Short: "Duplicate-document scanner for a document store",
	Long: `dedupscan detects and eliminates duplicate documents in a document store.

Documents are fingerprinted over a configured field list; documents sharing
a fingerprint form a duplicate group, and a deterministic tie-break decides
which member survives. Scans stream through overlapping time windows so
memory usage is bounded by the overlap period, not the corpus size.

Scans are dry-run by default: every intended deletion is written to the
audit stream without mutating the store. Pass --live to apply deletions.`,
}

func main() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to YAML config file")
	rootCmd.PersistentFlags().StringVar(&stateDBPath, "state-db", "", "Path to scanner state database (default .dedupscan/state.db)")
	rootCmd.PersistentFlags().StringVar(&storeDBPath, "store-db", "", "Path to the SQLite document store")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig merges the config file, environment, and persistent flags.
func loadConfig() (*config.File, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if stateDBPath != "" {
		cfg.StateDB = stateDBPath
	}
	if storeDBPath != "" {
		cfg.StoreDB = storeDBPath
	}
	if cfg.StateDB == "" {
		cfg.StateDB = filepath.Join(".dedupscan", "state.db")
	}
	return cfg, nil
}

// openStores opens the document store and the state database.
func openStores(cfg *config.File) (*sqlite.Store, *state.Store, error) {
	if cfg.StoreDB == "" {
		return nil, nil, fmt.Errorf("no document store configured (use --store-db or store_db in the config file)")
	}
	store, err := sqlite.New(cfg.StoreDB)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open document store: %w", err)
	}
	st, err := state.New(cfg.StateDB)
	if err != nil {
		store.Close()
		return nil, nil, fmt.Errorf("failed to open state database: %w", err)
	}
	return store, st, nil
}
