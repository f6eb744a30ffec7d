// Package reindex copies a collection into a freshly created target
// collection, then swaps the alias over and drops the source.
//
// The target is created with a field mapping read from a mapping file (the
// first non-empty line, as a JSON object). Documents stream through the
// same scroll contract the scanner uses, so reindexing handles collections
// larger than memory. With deduplication enabled, documents are
// fingerprinted on the way through and exact duplicates are skipped
// instead of copied.
package reindex

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/hem-bad/dedupscan/internal/docstore"
	"github.com/hem-bad/dedupscan/internal/fingerprint"
)

// Config holds the reindex parameters.
type Config struct {
	// Source is the collection to copy from. Dropped on success.
	Source string

	// Target is the collection to create and copy into.
	Target string

	// Alias, when set, is pointed at the target after the copy.
	Alias string

	// MappingFile is the path of the field-mapping file. Optional; the
	// target is created with an empty mapping when unset.
	MappingFile string

	// BatchSize is the scroll/insert page size. Default 500.
	BatchSize int

	// Dedup skips exact duplicates (by fingerprint over Fields) during
	// the copy instead of carrying them into the target.
	Dedup bool

	// Fields is the fingerprint field list, required when Dedup is set.
	Fields []string

	// HashAlgorithm selects the fingerprint hash for Dedup mode.
	HashAlgorithm string

	// StoreTimeout bounds each store call. Default 30s.
	StoreTimeout time.Duration
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.Source == "" {
		return fmt.Errorf("source collection must be set")
	}
	if c.Target == "" {
		return fmt.Errorf("target collection must be set")
	}
	if c.Source == c.Target {
		return fmt.Errorf("source and target must differ (got %q for both)", c.Source)
	}
	if c.Dedup && len(c.Fields) == 0 {
		return fmt.Errorf("dedup requires a fingerprint field list")
	}
	if c.Dedup {
		if _, err := fingerprint.NewHasher(c.HashAlgorithm); err != nil {
			return err
		}
	}
	if c.BatchSize < 0 {
		return fmt.Errorf("batch size must not be negative (got %d)", c.BatchSize)
	}
	return nil
}

// Result summarizes a reindex run.
type Result struct {
	// Copied is the number of documents written to the target.
	Copied int

	// Skipped is the number of duplicates skipped (Dedup mode only).
	Skipped int
}

// Reindexer copies collections through a docstore.
type Reindexer struct {
	store docstore.Store
	cfg   Config
}

// New validates the configuration and creates a reindexer.
func New(store docstore.Store, cfg Config) (*Reindexer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid reindex configuration: %w", err)
	}
	return &Reindexer{store: store, cfg: cfg}, nil
}

// LoadMapping reads a field mapping from the first non-empty line of the
// file, as a JSON object.
func LoadMapping(path string) (map[string]any, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open mapping file: %w", err)
	}
	defer f.Close()

	scan := bufio.NewScanner(f)
	scan.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scan.Scan() {
		line := strings.TrimSpace(scan.Text())
		if line == "" {
			continue
		}
		var mapping map[string]any
		if err := json.Unmarshal([]byte(line), &mapping); err != nil {
			return nil, fmt.Errorf("failed to parse mapping: %w", err)
		}
		return mapping, nil
	}
	if err := scan.Err(); err != nil {
		return nil, fmt.Errorf("failed to read mapping file: %w", err)
	}
	return nil, fmt.Errorf("mapping file %s contains no mapping", path)
}

// Run performs the reindex: create target, stream-copy documents, point
// the alias at the target, drop the source. The source is only dropped
// after the copy and alias swap both succeed, so a failed run never loses
// documents.
func (r *Reindexer) Run(ctx context.Context) (*Result, error) {
	var mapping map[string]any
	if r.cfg.MappingFile != "" {
		m, err := LoadMapping(r.cfg.MappingFile)
		if err != nil {
			return nil, err
		}
		mapping = m
	}

	if err := r.store.CreateCollection(ctx, r.cfg.Target, mapping); err != nil {
		return nil, fmt.Errorf("failed to create target collection: %w", err)
	}

	res := &Result{}
	if err := r.copy(ctx, res); err != nil {
		return nil, err
	}

	if r.cfg.Alias != "" {
		if err := r.store.SetAlias(ctx, r.cfg.Alias, r.cfg.Target); err != nil {
			return nil, fmt.Errorf("failed to update alias: %w", err)
		}
	}

	if err := r.store.DropCollection(ctx, r.cfg.Source); err != nil {
		return nil, fmt.Errorf("failed to drop source collection: %w", err)
	}
	return res, nil
}

func (r *Reindexer) copy(ctx context.Context, res *Result) error {
	var extractor *fingerprint.Extractor
	seen := make(map[fingerprint.Key]bool)
	if r.cfg.Dedup {
		hasher, err := fingerprint.NewHasher(r.cfg.HashAlgorithm)
		if err != nil {
			return err
		}
		extractor, err = fingerprint.NewExtractor(r.cfg.Fields, hasher)
		if err != nil {
			return err
		}
	}

	batch := r.cfg.BatchSize
	if batch <= 0 {
		batch = 500
	}
	timeout := r.cfg.StoreTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	q := docstore.Query{Collection: r.cfg.Source, BatchSize: batch}
	cursor := ""
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		callCtx, cancel := context.WithTimeout(ctx, timeout)
		page, err := r.store.Scroll(callCtx, q, cursor)
		cancel()
		if err != nil {
			return fmt.Errorf("scroll failed during reindex: %w", err)
		}

		out := page.Documents
		if extractor != nil {
			out = out[:0:0]
			for i := range page.Documents {
				key := extractor.Key(&page.Documents[i])
				if seen[key] {
					res.Skipped++
					continue
				}
				seen[key] = true
				out = append(out, page.Documents[i])
			}
		}

		if len(out) > 0 {
			callCtx, cancel := context.WithTimeout(ctx, timeout)
			err := r.store.PutDocuments(callCtx, r.cfg.Target, out)
			cancel()
			if err != nil {
				return fmt.Errorf("bulk insert failed during reindex: %w", err)
			}
			res.Copied += len(out)
		}

		cursor = page.Cursor
		if page.Done {
			return nil
		}
	}
}
