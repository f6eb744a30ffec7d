// Package config loads dedupscan configuration from a YAML file with
// environment-variable overrides. Command-line flags take precedence over
// both; the merge order is defaults, file, environment, flags.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hem-bad/dedupscan/internal/scanner"
)

// File is the on-disk configuration shape.
type File struct {
	// StateDB is the path of the scanner state database.
	StateDB string `yaml:"state_db"`

	// StoreDB is the path of the SQLite document store.
	StoreDB string `yaml:"store_db"`

	// Scan configures the deduplication scan.
	Scan ScanConfig `yaml:"scan"`
}

// ScanConfig is the YAML form of scanner.Config. Durations are strings so
// day/week units work ("7d", "1w"); timestamps are RFC 3339.
type ScanConfig struct {
	Collection string   `yaml:"collection"`
	Fields     []string `yaml:"fields"`

	// Hash selects the fingerprint algorithm: sha256, sha1, or fnv128a.
	Hash string `yaml:"hash,omitempty"`

	// TieBreak selects the surviving identifier: smallest-id or earliest.
	TieBreak string `yaml:"tie_break,omitempty"`

	Verify bool `yaml:"verify,omitempty"`

	From string `yaml:"from,omitempty"`
	To   string `yaml:"to,omitempty"`

	WindowLength string `yaml:"window_length,omitempty"`
	Overlap      string `yaml:"overlap,omitempty"`

	BatchSize         int     `yaml:"batch_size,omitempty"`
	Workers           int     `yaml:"workers,omitempty"`
	DeleteConcurrency int64   `yaml:"delete_concurrency,omitempty"`
	DeleteRate        float64 `yaml:"delete_rate,omitempty"`
	StoreTimeout      string  `yaml:"store_timeout,omitempty"`
}

// Load reads a configuration file and applies environment overrides.
// A missing path returns an empty configuration with overrides applied, so
// running without a config file works.
func Load(path string) (*File, error) {
	cfg := &File{}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing YAML: %w", err)
		}
	}

	cfg.applyEnv()
	return cfg, nil
}

// applyEnv overlays DEDUPSCAN_* environment variables onto the file values.
func (c *File) applyEnv() {
	if v := os.Getenv("DEDUPSCAN_STATE_DB"); v != "" {
		c.StateDB = v
	}
	if v := os.Getenv("DEDUPSCAN_STORE_DB"); v != "" {
		c.StoreDB = v
	}
	if v := os.Getenv("DEDUPSCAN_COLLECTION"); v != "" {
		c.Scan.Collection = v
	}
	if v := os.Getenv("DEDUPSCAN_FIELDS"); v != "" {
		c.Scan.Fields = splitFields(v)
	}
	if v := os.Getenv("DEDUPSCAN_HASH"); v != "" {
		c.Scan.Hash = v
	}
	if v := os.Getenv("DEDUPSCAN_TIE_BREAK"); v != "" {
		c.Scan.TieBreak = v
	}
	if v := os.Getenv("DEDUPSCAN_VERIFY"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Scan.Verify = b
		}
	}
	if v := os.Getenv("DEDUPSCAN_FROM"); v != "" {
		c.Scan.From = v
	}
	if v := os.Getenv("DEDUPSCAN_TO"); v != "" {
		c.Scan.To = v
	}
	if v := os.Getenv("DEDUPSCAN_WINDOW_LENGTH"); v != "" {
		c.Scan.WindowLength = v
	}
	if v := os.Getenv("DEDUPSCAN_OVERLAP"); v != "" {
		c.Scan.Overlap = v
	}
	if v := os.Getenv("DEDUPSCAN_BATCH_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Scan.BatchSize = n
		}
	}
	if v := os.Getenv("DEDUPSCAN_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Scan.Workers = n
		}
	}
	if v := os.Getenv("DEDUPSCAN_DELETE_RATE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.Scan.DeleteRate = f
		}
	}
	if v := os.Getenv("DEDUPSCAN_DELETE_CONCURRENCY"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			c.Scan.DeleteConcurrency = n
		}
	}
	if v := os.Getenv("DEDUPSCAN_STORE_TIMEOUT"); v != "" {
		c.Scan.StoreTimeout = v
	}
}

// ScannerConfig converts the file values to a scanner.Config, starting
// from scanner defaults so unset fields keep their default behavior.
func (c *File) ScannerConfig() (scanner.Config, error) {
	out := scanner.DefaultConfig()
	sc := c.Scan

	out.Collection = sc.Collection
	out.Fields = sc.Fields
	if sc.Hash != "" {
		out.HashAlgorithm = sc.Hash
	}
	if sc.TieBreak != "" {
		out.TieBreak = sc.TieBreak
	}
	out.Verify = sc.Verify
	if sc.BatchSize > 0 {
		out.BatchSize = sc.BatchSize
	}
	if sc.Workers > 0 {
		out.Workers = sc.Workers
	}
	if sc.DeleteConcurrency > 0 {
		out.DeleteConcurrency = sc.DeleteConcurrency
	}
	out.DeleteRate = sc.DeleteRate

	var err error
	if sc.WindowLength != "" {
		out.WindowLength, err = ParseDuration(sc.WindowLength)
		if err != nil {
			return out, fmt.Errorf("invalid window_length %q: %w", sc.WindowLength, err)
		}
	}
	if sc.Overlap != "" {
		out.Overlap, err = ParseDuration(sc.Overlap)
		if err != nil {
			return out, fmt.Errorf("invalid overlap %q: %w", sc.Overlap, err)
		}
	}
	if sc.StoreTimeout != "" {
		out.StoreTimeout, err = ParseDuration(sc.StoreTimeout)
		if err != nil {
			return out, fmt.Errorf("invalid store_timeout %q: %w", sc.StoreTimeout, err)
		}
	}
	if sc.From != "" {
		out.From, err = time.Parse(time.RFC3339, sc.From)
		if err != nil {
			return out, fmt.Errorf("invalid from %q: %w", sc.From, err)
		}
	}
	if sc.To != "" {
		out.To, err = time.Parse(time.RFC3339, sc.To)
		if err != nil {
			return out, fmt.Errorf("invalid to %q: %w", sc.To, err)
		}
	}

	return out, nil
}

// ParseDuration extends time.ParseDuration with day ("7d") and week ("2w")
// units, which time-window configuration commonly wants.
func ParseDuration(s string) (time.Duration, error) {
	if strings.HasSuffix(s, "d") {
		days, err := strconv.Atoi(strings.TrimSuffix(s, "d"))
		if err == nil {
			return time.Duration(days) * 24 * time.Hour, nil
		}
	}
	if strings.HasSuffix(s, "w") {
		weeks, err := strconv.Atoi(strings.TrimSuffix(s, "w"))
		if err == nil {
			return time.Duration(weeks) * 7 * 24 * time.Hour, nil
		}
	}
	return time.ParseDuration(s)
}

func splitFields(v string) []string {
	parts := strings.Split(v, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
