// Package audit defines the append-only elimination record stream.
//
// Every resolved duplicate group produces exactly one record naming the
// fingerprint, the surviving identifier, and the removed identifiers, plus
// any per-identifier delete failures. The stream is sufficient to
// reconstruct every deletion decision after the fact; in dry-run mode it is
// the scan's only output.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"
)

// Mode distinguishes reported decisions from applied ones.
type Mode string

const (
	// ModeDryRun means the record was emitted without mutating the store.
	ModeDryRun Mode = "dry-run"

	// ModeLive means deletes were issued for the removed identifiers.
	ModeLive Mode = "live"
)

// EliminationRecord is the audit unit for one resolved duplicate group.
type EliminationRecord struct {
	// ID uniquely identifies this record.
	ID string `json:"id"`

	// ScanID ties the record to the scan run that produced it.
	ScanID string `json:"scan_id"`

	// Collection is the collection the group was found in.
	Collection string `json:"collection"`

	// Fingerprint is the hex fingerprint key the group collided on.
	Fingerprint string `json:"fingerprint"`

	// Keep is the surviving identifier.
	Keep string `json:"keep"`

	// Removed are the identifiers marked for elimination.
	Removed []string `json:"removed"`

	// Mode records whether the removals were applied or only reported.
	Mode Mode `json:"mode"`

	// Verified is true when full-content verification ran on this group.
	Verified bool `json:"verified"`

	// DeleteFailures maps removed identifiers to the delete error they
	// hit, for live-mode records with partial failures. A failed delete
	// is reported here and does not abort the scan.
	DeleteFailures map[string]string `json:"delete_failures,omitempty"`

	// CreatedAt is when the decision was finalized.
	CreatedAt time.Time `json:"created_at"`
}

// Validate checks internal consistency of a record.
func (r *EliminationRecord) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("record has no id")
	}
	if r.ScanID == "" {
		return fmt.Errorf("record %s has no scan id", r.ID)
	}
	if r.Fingerprint == "" {
		return fmt.Errorf("record %s has no fingerprint", r.ID)
	}
	if r.Keep == "" {
		return fmt.Errorf("record %s has no surviving identifier", r.ID)
	}
	if len(r.Removed) == 0 {
		return fmt.Errorf("record %s removes nothing", r.ID)
	}
	switch r.Mode {
	case ModeDryRun, ModeLive:
	default:
		return fmt.Errorf("record %s has unknown mode %q", r.ID, r.Mode)
	}
	for _, id := range r.Removed {
		if id == r.Keep {
			return fmt.Errorf("record %s: identifier %s is both kept and removed", r.ID, id)
		}
	}
	if r.Mode == ModeDryRun && len(r.DeleteFailures) > 0 {
		return fmt.Errorf("record %s: dry-run record carries delete failures", r.ID)
	}
	for id := range r.DeleteFailures {
		if !r.removes(id) {
			return fmt.Errorf("record %s: delete failure for %s which is not removed", r.ID, id)
		}
	}
	return nil
}

func (r *EliminationRecord) removes(id string) bool {
	for _, rid := range r.Removed {
		if rid == id {
			return true
		}
	}
	return false
}

// Writer appends elimination records to some sink.
type Writer interface {
	Write(ctx context.Context, rec *EliminationRecord) error
}

// JSONLWriter appends records as JSON lines to an io.Writer. Safe for
// concurrent use; each record is one atomic line.
type JSONLWriter struct {
	mu  sync.Mutex
	out io.Writer
}

// NewJSONLWriter wraps an io.Writer as a record sink.
func NewJSONLWriter(out io.Writer) *JSONLWriter {
	return &JSONLWriter{out: out}
}

// Write appends one record as a JSON line.
func (w *JSONLWriter) Write(ctx context.Context, rec *EliminationRecord) error {
	b, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal elimination record %s: %w", rec.ID, err)
	}
	b = append(b, '\n')

	w.mu.Lock()
	defer w.mu.Unlock()
	if _, err := w.out.Write(b); err != nil {
		return fmt.Errorf("failed to write elimination record %s: %w", rec.ID, err)
	}
	return nil
}

// MultiWriter fans records out to several sinks, failing on the first error.
type MultiWriter []Writer

// Write sends the record to every sink in order.
func (m MultiWriter) Write(ctx context.Context, rec *EliminationRecord) error {
	for _, w := range m {
		if err := w.Write(ctx, rec); err != nil {
			return err
		}
	}
	return nil
}
