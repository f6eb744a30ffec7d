// Package scanner drives the deduplication pipeline: windows from the
// scheduler, documents from the store's scroll, fingerprints into the
// duplicate index, resolutions out of the index at window boundaries, and
// eliminations against the store (or the audit stream alone, in dry-run).
//
// Windows are processed strictly sequentially because each window's
// overlap-retained index state feeds the next; within a window,
// fingerprinting is parallelized across workers and deletes are
// parallelized across groups.
package scanner

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/hem-bad/dedupscan/internal/audit"
	"github.com/hem-bad/dedupscan/internal/dedup"
	"github.com/hem-bad/dedupscan/internal/docstore"
	"github.com/hem-bad/dedupscan/internal/fingerprint"
	"github.com/hem-bad/dedupscan/internal/state"
	"github.com/hem-bad/dedupscan/internal/window"
)

// Scanner runs deduplication scans over one collection.
type Scanner struct {
	store     docstore.Store
	state     *state.Store // optional; nil disables checkpoints and run history
	sink      audit.Writer // optional additional record sink (state store already records)
	cfg       Config
	extractor *fingerprint.Extractor
	resolver  *dedup.Resolver
}

// New validates the configuration and assembles a scanner. The state store
// may be nil (no checkpointing, used by tests); the sink may be nil (records
// are still returned on the Result).
func New(store docstore.Store, st *state.Store, sink audit.Writer, cfg Config) (*Scanner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid scan configuration: %w", err)
	}

	hasher, err := fingerprint.NewHasher(cfg.HashAlgorithm)
	if err != nil {
		return nil, fmt.Errorf("invalid scan configuration: %w", err)
	}
	extractor, err := fingerprint.NewExtractor(cfg.Fields, hasher)
	if err != nil {
		return nil, fmt.Errorf("invalid scan configuration: %w", err)
	}
	tieBreak, err := dedup.ParseTieBreak(cfg.TieBreak)
	if err != nil {
		return nil, fmt.Errorf("invalid scan configuration: %w", err)
	}

	return &Scanner{
		store:     store,
		state:     st,
		sink:      sink,
		cfg:       cfg,
		extractor: extractor,
		resolver:  dedup.NewResolver(tieBreak, cfg.Verify, store, cfg.Collection),
	}, nil
}

// Result summarizes one scan run.
type Result struct {
	// ScanID identifies the run.
	ScanID string

	// Mode records dry-run vs live.
	Mode audit.Mode

	// Windows is the number of windows processed.
	Windows int

	// Documents is the number of documents consumed from the scroll.
	Documents int

	// Records are the elimination records produced, in audit order.
	Records []*audit.EliminationRecord

	// Removed is the number of identifiers marked for removal.
	Removed int

	// DeleteFailures is the number of individual deletes that failed.
	DeleteFailures int

	// ResolveFailures is the number of duplicate groups skipped because
	// their members could not be fetched for resolution.
	ResolveFailures int

	// CollisionSplits is the number of groups verification split because
	// their members were not full-content identical.
	CollisionSplits int

	// PeakIndexSize is the high-water count of identifiers held in the
	// duplicate index, the scan's memory metric.
	PeakIndexSize int

	// Interrupted is true when the scan stopped before covering the
	// range (cancellation or store failure) and left a checkpoint.
	Interrupted bool
}

// Validate checks internal consistency of a result.
func (r *Result) Validate() error {
	if r.ScanID == "" {
		return fmt.Errorf("result has no scan id")
	}
	removed := 0
	failures := 0
	kept := make(map[string]bool)
	gone := make(map[string]bool)
	for _, rec := range r.Records {
		if err := rec.Validate(); err != nil {
			return err
		}
		removed += len(rec.Removed)
		failures += len(rec.DeleteFailures)
		kept[rec.Keep] = true
		for _, id := range rec.Removed {
			gone[id] = true
		}
	}
	for id := range gone {
		if kept[id] {
			return fmt.Errorf("identifier %s is kept by one record and removed by another", id)
		}
	}
	if removed != r.Removed {
		return fmt.Errorf("removed count %d does not match records (%d)", r.Removed, removed)
	}
	if failures != r.DeleteFailures {
		return fmt.Errorf("failure count %d does not match records (%d)", r.DeleteFailures, failures)
	}
	return nil
}

// Run executes the scan. Pass a checkpoint to resume an interrupted scan:
// completed windows are skipped and the interrupted window is re-scanned
// from its start (window re-scan is safe because eliminations only happen
// at window boundaries, and rebuilds the in-memory index state the
// interruption lost).
func (s *Scanner) Run(ctx context.Context, resume *state.Checkpoint) (*Result, error) {
	sched, err := window.New(s.cfg.From, s.cfg.To, s.cfg.WindowLength, s.cfg.Overlap)
	if err != nil {
		return nil, fmt.Errorf("invalid scan configuration: %w", err)
	}

	scanID := uuid.New().String()
	if resume != nil {
		scanID = resume.ScanID
	}

	res := &Result{ScanID: scanID, Mode: s.mode()}
	run := &state.ScanRun{
		ID:         scanID,
		Collection: s.cfg.Collection,
		Mode:       s.mode(),
		StartedAt:  time.Now().UTC(),
	}
	if s.state != nil && resume == nil {
		if err := s.state.BeginScan(ctx, run); err != nil {
			return nil, err
		}
	}

	idx := dedup.NewIndex()
	elim := newEliminator(s.store, s.cfg)

	// Identifiers already decided in this scan. The next window's scroll
	// re-covers the overlap period, and in dry-run the removed documents
	// are still in the store; without suppression they would re-form their
	// groups and be reported twice. Recorded survivors are pinned so a
	// group re-forming around one cannot elect a new keeper and put the
	// same identifier on both sides of the audit stream. On resume both
	// sets are rebuilt from the scan's stored records.
	suppressed := make(map[string]bool)
	kept := make(map[string]bool)
	if resume != nil && s.state != nil {
		records, err := s.state.ListRecords(ctx, state.RecordFilter{ScanID: scanID, Limit: -1})
		if err != nil {
			return nil, err
		}
		for _, rec := range records {
			kept[rec.Keep] = true
			for _, id := range rec.Removed {
				suppressed[id] = true
			}
		}
	}

	var runErr error
	for {
		win, ok := sched.Next()
		if !ok {
			break
		}
		if resume != nil && win.Index < resume.WindowIndex {
			continue
		}
		res.Windows++

		if err := s.scanWindow(ctx, scanID, win, idx, suppressed, res); err != nil {
			runErr = err
			break
		}
		if err := s.resolveWindow(ctx, scanID, idx, elim, suppressed, kept, res); err != nil {
			runErr = err
			break
		}
		if horizon := win.EvictionHorizon(); !horizon.IsZero() {
			idx.Evict(horizon)
		}
		if ctx.Err() != nil {
			runErr = ctx.Err()
			break
		}
	}

	res.Interrupted = runErr != nil
	s.finish(run, res)

	if runErr != nil {
		return res, fmt.Errorf("scan %s interrupted: %w", scanID, runErr)
	}
	return res, nil
}

func (s *Scanner) mode() audit.Mode {
	if s.cfg.Live {
		return audit.ModeLive
	}
	return audit.ModeDryRun
}

// scanWindow streams one window's documents into the index, fingerprinting
// in parallel and checkpointing after every consumed page. The scroll
// cursor is owned by this goroutine; workers only hash and insert.
func (s *Scanner) scanWindow(ctx context.Context, scanID string, win window.Descriptor, idx *dedup.Index, suppressed map[string]bool, res *Result) error {
	q := docstore.Query{
		Collection: s.cfg.Collection,
		From:       win.Start,
		To:         win.End,
		BatchSize:  s.cfg.batchSize(),
	}
	if win.Unbounded() {
		q.From = s.cfg.From
		q.To = s.cfg.To
	}

	cursor := ""
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		callCtx, cancel := context.WithTimeout(ctx, s.cfg.storeTimeout())
		page, err := s.store.Scroll(callCtx, q, cursor)
		cancel()
		if err != nil {
			// Checkpoint already reflects the last consumed page; the
			// scan is resumable rather than restarted from the beginning.
			return fmt.Errorf("scroll failed in window %d: %w", win.Index, err)
		}

		g, _ := errgroup.WithContext(ctx)
		g.SetLimit(s.cfg.workers())
		for i := range page.Documents {
			doc := page.Documents[i]
			if suppressed[doc.ID] {
				continue
			}
			g.Go(func() error {
				idx.Insert(s.extractor.Key(&doc), doc.ID, doc.Timestamp)
				return nil
			})
		}
		g.Wait()

		res.Documents += len(page.Documents)
		if n := idx.IDCount(); n > res.PeakIndexSize {
			res.PeakIndexSize = n
		}

		cursor = page.Cursor
		if err := s.checkpoint(ctx, scanID, win.Index, cursor); err != nil {
			return err
		}
		if page.Done {
			return nil
		}
	}
}

// resolveWindow resolves every duplicate group currently in the index,
// applies the eliminations, and writes the audit records. Survivors stay
// in the index for the next window; removed members are taken out.
func (s *Scanner) resolveWindow(ctx context.Context, scanID string, idx *dedup.Index, elim *eliminator, suppressed, kept map[string]bool, res *Result) error {
	var records []*audit.EliminationRecord
	for _, grp := range idx.DuplicateGroups() {
		if ctx.Err() != nil {
			break
		}

		out, err := s.resolver.Resolve(ctx, grp)
		if err != nil {
			if errors.Is(err, docstore.ErrSourceUnavailable) {
				return fmt.Errorf("resolving group %s: %w", grp.Key, err)
			}
			// Per-group failures are isolated: skip the group, keep scanning.
			res.ResolveFailures++
			continue
		}
		if out.CollisionSplit {
			res.CollisionSplits++
		}

		for _, r := range out.Resolutions {
			r = pinKeeper(r, kept)
			records = append(records, &audit.EliminationRecord{
				ID:          uuid.New().String(),
				ScanID:      scanID,
				Collection:  s.cfg.Collection,
				Fingerprint: string(r.Key),
				Keep:        r.Keep,
				Removed:     r.Removed,
				Mode:        s.mode(),
				Verified:    s.cfg.Verify,
				CreatedAt:   time.Now().UTC(),
			})
		}
	}

	applied, _ := elim.apply(ctx, records)
	sort.Slice(applied, func(i, j int) bool {
		if applied[i].Fingerprint != applied[j].Fingerprint {
			return applied[i].Fingerprint < applied[j].Fingerprint
		}
		return applied[i].Keep < applied[j].Keep
	})

	for _, rec := range applied {
		res.Records = append(res.Records, rec)
		res.Removed += len(rec.Removed)
		res.DeleteFailures += len(rec.DeleteFailures)
		idx.Remove(fingerprint.Key(rec.Fingerprint), rec.Removed...)
		kept[rec.Keep] = true
		for _, id := range rec.Removed {
			suppressed[id] = true
		}

		if s.state != nil {
			if err := s.state.Write(ctx, rec); err != nil {
				return err
			}
		}
		if s.sink != nil {
			if err := s.sink.Write(ctx, rec); err != nil {
				return err
			}
		}
	}
	return nil
}

// pinKeeper keeps a group's survivor stable across windows. A group that
// re-forms in the overlap region may attract a member the tie-break would
// prefer over the survivor recorded last window; swapping keepers then would
// name the old survivor as both kept and removed. If any member of the
// group was already recorded as a keeper, it stays the keeper.
func pinKeeper(r dedup.Resolution, kept map[string]bool) dedup.Resolution {
	if kept[r.Keep] {
		return r
	}
	pinned := ""
	for _, id := range r.Removed {
		if kept[id] && (pinned == "" || id < pinned) {
			pinned = id
		}
	}
	if pinned == "" {
		return r
	}
	removed := make([]string, 0, len(r.Removed))
	removed = append(removed, r.Keep)
	for _, id := range r.Removed {
		if id != pinned {
			removed = append(removed, id)
		}
	}
	r.Keep = pinned
	r.Removed = removed
	return r
}

func (s *Scanner) checkpoint(ctx context.Context, scanID string, windowIndex int, cursor string) error {
	if s.state == nil {
		return nil
	}
	return s.state.SaveCheckpoint(ctx, &state.Checkpoint{
		ScanID:      scanID,
		Collection:  s.cfg.Collection,
		WindowIndex: windowIndex,
		Cursor:      cursor,
	})
}

// finish records the run outcome and clears the checkpoint on success.
// Uses a fresh context: the run context may already be cancelled.
func (s *Scanner) finish(run *state.ScanRun, res *Result) {
	if s.state == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	run.Status = "completed"
	if res.Interrupted {
		run.Status = "interrupted"
	}
	run.FinishedAt = time.Now().UTC()
	run.Documents = res.Documents
	run.Groups = len(res.Records)
	run.Removed = res.Removed
	run.Failures = res.DeleteFailures
	run.Collisions = res.CollisionSplits
	// Best effort: a failed summary write must not mask the scan outcome.
	_ = s.state.FinishScan(ctx, run)

	if !res.Interrupted {
		_ = s.state.DeleteCheckpoint(ctx, res.ScanID)
	}
}
