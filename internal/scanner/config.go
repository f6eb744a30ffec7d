package scanner

import (
	"fmt"
	"time"

	"github.com/hem-bad/dedupscan/internal/dedup"
	"github.com/hem-bad/dedupscan/internal/fingerprint"
)

// Config holds the full configuration for one scan.
type Config struct {
	// Collection is the collection (or alias) to scan.
	Collection string

	// Fields is the ordered field list composing the fingerprint.
	// Must be non-empty.
	Fields []string

	// HashAlgorithm selects the fingerprint hash. Empty selects sha256.
	// See the fingerprint package for the collision trade-offs.
	HashAlgorithm string

	// TieBreak selects the surviving identifier within a group.
	// Empty selects smallest-id.
	TieBreak string

	// Live applies deletions. When false (the default) the scan is a
	// dry run: elimination records are emitted but nothing is mutated.
	Live bool

	// Verify re-fetches full document bodies before finalizing a group
	// and splits groups that are not full-content identical.
	Verify bool

	// From and To bound the scan range on Document.Timestamp.
	// Both must be set for windowed scans; zero values mean an
	// unbounded single pass.
	From time.Time
	To   time.Time

	// WindowLength partitions the range into windows to bound memory.
	// Zero means a single unbounded window.
	WindowLength time.Duration

	// Overlap is the trailing period retained across window boundaries.
	// Must be at least the maximum known time skew between duplicate
	// occurrences, and strictly less than WindowLength.
	Overlap time.Duration

	// BatchSize is the scroll page size. Default 500.
	BatchSize int

	// Workers is the number of concurrent fingerprint workers per
	// scroll page. Default 4.
	Workers int

	// DeleteConcurrency bounds the number of duplicate groups whose
	// deletes run in parallel. Default 4.
	DeleteConcurrency int64

	// DeleteRate caps store deletes per second. Zero means unlimited.
	DeleteRate float64

	// StoreTimeout bounds every individual store call (scroll page,
	// delete, verification fetch). Default 30s.
	StoreTimeout time.Duration
}

// DefaultConfig returns a conservative scan configuration: dry-run, sha256,
// smallest-id tie-break, single unbounded window.
func DefaultConfig() Config {
	return Config{
		HashAlgorithm:     fingerprint.AlgSHA256,
		TieBreak:          string(dedup.TieBreakSmallestID),
		BatchSize:         500,
		Workers:           4,
		DeleteConcurrency: 4,
		StoreTimeout:      30 * time.Second,
	}
}

// Validate checks the configuration. Invalid configuration is fatal at
// startup: the scan does not begin.
func (c Config) Validate() error {
	if c.Collection == "" {
		return fmt.Errorf("collection must be set")
	}
	if len(c.Fields) == 0 {
		return fmt.Errorf("fingerprint field list must not be empty")
	}
	if _, err := fingerprint.NewHasher(c.HashAlgorithm); err != nil {
		return err
	}
	if _, err := dedup.ParseTieBreak(c.TieBreak); err != nil {
		return err
	}
	if c.WindowLength > 0 {
		if c.Overlap >= c.WindowLength {
			return fmt.Errorf("overlap %v must be shorter than window length %v",
				c.Overlap, c.WindowLength)
		}
		if c.From.IsZero() || c.To.IsZero() {
			return fmt.Errorf("windowed scans require an explicit --from/--to range")
		}
	} else if c.Overlap > 0 {
		return fmt.Errorf("overlap set without a window length")
	}
	if c.BatchSize < 0 {
		return fmt.Errorf("batch size must not be negative (got %d)", c.BatchSize)
	}
	if c.Workers < 0 {
		return fmt.Errorf("workers must not be negative (got %d)", c.Workers)
	}
	if c.DeleteConcurrency < 0 {
		return fmt.Errorf("delete concurrency must not be negative (got %d)", c.DeleteConcurrency)
	}
	if c.DeleteRate < 0 {
		return fmt.Errorf("delete rate must not be negative (got %f)", c.DeleteRate)
	}
	if c.StoreTimeout < 0 {
		return fmt.Errorf("store timeout must not be negative (got %v)", c.StoreTimeout)
	}
	return nil
}

func (c Config) batchSize() int {
	if c.BatchSize <= 0 {
		return 500
	}
	return c.BatchSize
}

func (c Config) workers() int {
	if c.Workers <= 0 {
		return 4
	}
	return c.Workers
}

func (c Config) deleteConcurrency() int64 {
	if c.DeleteConcurrency <= 0 {
		return 4
	}
	return c.DeleteConcurrency
}

func (c Config) storeTimeout() time.Duration {
	if c.StoreTimeout <= 0 {
		return 30 * time.Second
	}
	return c.StoreTimeout
}
