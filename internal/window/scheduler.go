// Package window partitions a scan range into overlapping time windows.
//
// Windows bound the duplicate index's peak size: documents are only held in
// memory for one window, plus a trailing overlap carried into the next
// window so duplicates whose occurrences straddle a boundary are still
// caught. The overlap must be at least the maximum known time skew between
// duplicate occurrences; that skew is a configuration input, and when it is
// unknown the scanner runs a single unbounded window instead.
package window

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidConfig indicates a window configuration that can never make
// progress or never bound memory. Fatal at startup.
var ErrInvalidConfig = errors.New("invalid window configuration")

// Descriptor is one window of the scan: process documents with
// Start <= timestamp < End, then evict index entries before
// EvictionHorizon.
type Descriptor struct {
	// Index is the zero-based position in the window sequence.
	Index int

	// Start is the inclusive lower bound. Zero means unbounded.
	Start time.Time

	// End is the exclusive upper bound. Zero means unbounded.
	End time.Time

	// Overlap is the trailing period retained into the next window.
	Overlap time.Duration
}

// Unbounded reports whether this descriptor covers the whole range in one
// pass (single-window mode).
func (d Descriptor) Unbounded() bool {
	return d.Start.IsZero() && d.End.IsZero()
}

// EvictionHorizon returns the timestamp before which index entries are
// evicted once this window finishes. Zero for unbounded windows (nothing
// is evicted; the index lives for the whole pass).
func (d Descriptor) EvictionHorizon() time.Time {
	if d.End.IsZero() {
		return time.Time{}
	}
	return d.End.Add(-d.Overlap)
}

// Scheduler produces the finite window sequence for a scan. Not safe for
// concurrent use; windows are consumed strictly sequentially by design,
// since each window's overlap-retained state feeds the next.
type Scheduler struct {
	next    time.Time
	end     time.Time
	length  time.Duration
	overlap time.Duration
	index   int
	single  bool
	done    bool
}

// New creates a scheduler covering [start, end).
//
// A zero length selects single-window (unbounded) mode, in which start and
// end may also be zero. Otherwise start and end must be set, and the
// overlap must be shorter than the window length or windows would never
// advance.
func New(start, end time.Time, length, overlap time.Duration) (*Scheduler, error) {
	if length == 0 {
		if overlap != 0 {
			return nil, fmt.Errorf("%w: overlap set without a window length", ErrInvalidConfig)
		}
		return &Scheduler{single: true}, nil
	}

	if length < 0 {
		return nil, fmt.Errorf("%w: window length must be positive (got %v)", ErrInvalidConfig, length)
	}
	if overlap < 0 {
		return nil, fmt.Errorf("%w: overlap must not be negative (got %v)", ErrInvalidConfig, overlap)
	}
	if overlap >= length {
		return nil, fmt.Errorf("%w: overlap %v must be shorter than window length %v",
			ErrInvalidConfig, overlap, length)
	}
	if start.IsZero() || end.IsZero() {
		return nil, fmt.Errorf("%w: windowed scans require an explicit time range", ErrInvalidConfig)
	}
	if !start.Before(end) {
		return nil, fmt.Errorf("%w: range start %v is not before end %v", ErrInvalidConfig, start, end)
	}

	return &Scheduler{next: start, end: end, length: length, overlap: overlap}, nil
}

// Next returns the next window descriptor, or false when the range is
// covered. Each window starts overlap before the previous window's end, so
// consecutive windows share the trailing overlap period.
func (s *Scheduler) Next() (Descriptor, bool) {
	if s.done {
		return Descriptor{}, false
	}

	if s.single {
		s.done = true
		return Descriptor{}, true
	}

	start := s.next
	end := start.Add(s.length)
	if !end.Before(s.end) {
		end = s.end
		s.done = true
	}

	d := Descriptor{Index: s.index, Start: start, End: end, Overlap: s.overlap}
	s.index++
	s.next = end.Add(-s.overlap)
	return d, true
}
