package scanner

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/hem-bad/dedupscan/internal/audit"
	"github.com/hem-bad/dedupscan/internal/docstore"
)

// eliminator applies elimination records against the store. In dry-run
// mode it never touches the store; in live mode it issues deletes with
// per-identifier failure isolation, bounded parallelism across groups, and
// an optional rate cap.
type eliminator struct {
	store      docstore.Store
	collection string
	live       bool
	timeout    time.Duration
	sem        *semaphore.Weighted
	limiter    *rate.Limiter
}

func newEliminator(store docstore.Store, cfg Config) *eliminator {
	var limiter *rate.Limiter
	if cfg.DeleteRate > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.DeleteRate), 1)
	}
	return &eliminator{
		store:      store,
		collection: cfg.Collection,
		live:       cfg.Live,
		timeout:    cfg.storeTimeout(),
		sem:        semaphore.NewWeighted(cfg.deleteConcurrency()),
		limiter:    limiter,
	}
}

// apply processes records in parallel across groups. Each record's deletes
// run to completion once started, even if ctx is cancelled mid-window:
// stopping a group halfway would leave it with only some members removed.
// Cancellation instead stops new groups from starting; unapplied records
// are returned so the caller can leave them out of the audit stream.
func (e *eliminator) apply(ctx context.Context, records []*audit.EliminationRecord) (applied, unapplied []*audit.EliminationRecord) {
	var (
		wg sync.WaitGroup
		mu sync.Mutex
	)

	for _, rec := range records {
		if err := e.sem.Acquire(ctx, 1); err != nil {
			// Cancelled while waiting for a slot: this group never
			// started, so it is safe to drop whole.
			unapplied = append(unapplied, rec)
			continue
		}

		wg.Add(1)
		go func(rec *audit.EliminationRecord) {
			defer wg.Done()
			defer e.sem.Release(1)

			e.applyOne(ctx, rec)

			mu.Lock()
			applied = append(applied, rec)
			mu.Unlock()
		}(rec)
	}

	wg.Wait()
	return applied, unapplied
}

// applyOne issues the deletes for one record, recording per-identifier
// failures instead of aborting. Runs detached from ctx cancellation so an
// in-flight group always finishes; individual deletes still carry the
// store timeout.
func (e *eliminator) applyOne(ctx context.Context, rec *audit.EliminationRecord) {
	if !e.live {
		return
	}

	base := context.WithoutCancel(ctx)
	for _, id := range rec.Removed {
		if e.limiter != nil {
			if err := e.limiter.Wait(base); err != nil {
				e.recordFailure(rec, id, err)
				continue
			}
		}

		callCtx, cancel := context.WithTimeout(base, e.timeout)
		err := e.store.Delete(callCtx, e.collection, id)
		cancel()

		// A document already gone counts as removed.
		if err != nil && !errors.Is(err, docstore.ErrNotFound) {
			e.recordFailure(rec, id, err)
		}
	}
}

func (e *eliminator) recordFailure(rec *audit.EliminationRecord, id string, err error) {
	if rec.DeleteFailures == nil {
		rec.DeleteFailures = make(map[string]string)
	}
	rec.DeleteFailures[id] = err.Error()
}
