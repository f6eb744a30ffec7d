package scanner

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hem-bad/dedupscan/internal/audit"
	"github.com/hem-bad/dedupscan/internal/docstore"
	"github.com/hem-bad/dedupscan/internal/docstore/memory"
)

func elimStore(t *testing.T, ids ...string) *memory.Store {
	t.Helper()
	store := memory.New()
	require.NoError(t, store.CreateCollection(context.Background(), "articles", nil))
	docs := make([]docstore.Document, len(ids))
	for i, id := range ids {
		docs[i] = docstore.Document{ID: id, Timestamp: base.Add(time.Duration(i) * time.Minute)}
	}
	require.NoError(t, store.PutDocuments(context.Background(), "articles", docs))
	return store
}

func record(key, keep string, removed ...string) *audit.EliminationRecord {
	return &audit.EliminationRecord{
		ID:          "rec-" + key,
		ScanID:      "scan",
		Collection:  "articles",
		Fingerprint: key,
		Keep:        keep,
		Removed:     removed,
	}
}

func TestEliminatorDryRunDoesNotTouchStore(t *testing.T) {
	store := elimStore(t, "A", "B")
	cfg := testConfig()
	e := newEliminator(store, cfg)

	applied, unapplied := e.apply(context.Background(), []*audit.EliminationRecord{
		record("k1", "A", "B"),
	})

	assert.Len(t, applied, 1)
	assert.Empty(t, unapplied)
	assert.Empty(t, store.Deleted)
}

func TestEliminatorLiveDeletes(t *testing.T) {
	store := elimStore(t, "A", "B", "C", "D")
	cfg := testConfig()
	cfg.Live = true
	e := newEliminator(store, cfg)

	applied, unapplied := e.apply(context.Background(), []*audit.EliminationRecord{
		record("k1", "A", "B"),
		record("k2", "C", "D"),
	})

	assert.Len(t, applied, 2)
	assert.Empty(t, unapplied)
	assert.ElementsMatch(t, []string{"B", "D"}, store.Deleted)
	for _, rec := range applied {
		assert.Empty(t, rec.DeleteFailures)
	}
}

func TestEliminatorPartialFailure(t *testing.T) {
	store := elimStore(t, "A", "B", "C")
	store.DeleteErrs["B"] = errors.New("shard offline")
	cfg := testConfig()
	cfg.Live = true
	e := newEliminator(store, cfg)

	applied, _ := e.apply(context.Background(), []*audit.EliminationRecord{
		record("k1", "A", "B", "C"),
	})

	require.Len(t, applied, 1)
	rec := applied[0]
	assert.Contains(t, rec.DeleteFailures["B"], "shard offline")
	assert.ElementsMatch(t, []string{"C"}, store.Deleted,
		"one failed delete must not stop the record's other deletes")
}

func TestEliminatorAlreadyGoneIsSuccess(t *testing.T) {
	store := elimStore(t, "A")
	cfg := testConfig()
	cfg.Live = true
	e := newEliminator(store, cfg)

	applied, _ := e.apply(context.Background(), []*audit.EliminationRecord{
		record("k1", "A", "vanished"),
	})

	require.Len(t, applied, 1)
	assert.Empty(t, applied[0].DeleteFailures, "a document already gone counts as removed")
}

func TestEliminatorCancelledBeforeStartSkipsGroups(t *testing.T) {
	store := elimStore(t, "A", "B")
	cfg := testConfig()
	cfg.Live = true
	e := newEliminator(store, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	applied, unapplied := e.apply(ctx, []*audit.EliminationRecord{
		record("k1", "A", "B"),
	})

	assert.Empty(t, applied, "groups must not start after cancellation")
	assert.Len(t, unapplied, 1)
	assert.Empty(t, store.Deleted)
}

func TestEliminatorRateLimiterConfigured(t *testing.T) {
	store := elimStore(t, "A", "B")
	cfg := testConfig()
	cfg.Live = true
	cfg.DeleteRate = 1000
	e := newEliminator(store, cfg)
	require.NotNil(t, e.limiter)

	applied, _ := e.apply(context.Background(), []*audit.EliminationRecord{
		record("k1", "A", "B"),
	})
	require.Len(t, applied, 1)
	assert.Equal(t, []string{"B"}, store.Deleted)
}
