package state

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hem-bad/dedupscan/internal/audit"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestCheckpointRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	cp, err := s.GetCheckpoint(ctx, "missing")
	require.NoError(t, err)
	assert.Nil(t, cp)

	require.NoError(t, s.SaveCheckpoint(ctx, &Checkpoint{
		ScanID:      "scan-1",
		Collection:  "articles",
		WindowIndex: 2,
		Cursor:      "abc",
	}))

	cp, err = s.GetCheckpoint(ctx, "scan-1")
	require.NoError(t, err)
	require.NotNil(t, cp)
	assert.Equal(t, "articles", cp.Collection)
	assert.Equal(t, 2, cp.WindowIndex)
	assert.Equal(t, "abc", cp.Cursor)
	assert.False(t, cp.UpdatedAt.IsZero())

	// Upsert replaces the position.
	require.NoError(t, s.SaveCheckpoint(ctx, &Checkpoint{
		ScanID:      "scan-1",
		Collection:  "articles",
		WindowIndex: 3,
		Cursor:      "def",
	}))
	cp, err = s.GetCheckpoint(ctx, "scan-1")
	require.NoError(t, err)
	assert.Equal(t, 3, cp.WindowIndex)
	assert.Equal(t, "def", cp.Cursor)

	require.NoError(t, s.DeleteCheckpoint(ctx, "scan-1"))
	cp, err = s.GetCheckpoint(ctx, "scan-1")
	require.NoError(t, err)
	assert.Nil(t, cp)
}

func TestLatestCheckpoint(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	cp, err := s.LatestCheckpoint(ctx, "articles")
	require.NoError(t, err)
	assert.Nil(t, cp)

	require.NoError(t, s.SaveCheckpoint(ctx, &Checkpoint{
		ScanID: "old", Collection: "articles", WindowIndex: 0, Cursor: "a",
	}))
	time.Sleep(2 * time.Millisecond)
	require.NoError(t, s.SaveCheckpoint(ctx, &Checkpoint{
		ScanID: "new", Collection: "articles", WindowIndex: 1, Cursor: "b",
	}))
	require.NoError(t, s.SaveCheckpoint(ctx, &Checkpoint{
		ScanID: "other", Collection: "events", WindowIndex: 0, Cursor: "c",
	}))

	cp, err = s.LatestCheckpoint(ctx, "articles")
	require.NoError(t, err)
	require.NotNil(t, cp)
	assert.Equal(t, "new", cp.ScanID)
}

func TestScanLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	started := time.Date(2016, 1, 1, 12, 0, 0, 0, time.UTC)
	run := &ScanRun{
		ID:         "scan-1",
		Collection: "articles",
		Mode:       audit.ModeLive,
		StartedAt:  started,
	}
	require.NoError(t, s.BeginScan(ctx, run))

	runs, err := s.RecentScans(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "running", runs[0].Status)
	assert.True(t, runs[0].FinishedAt.IsZero())

	run.Status = "completed"
	run.FinishedAt = started.Add(time.Minute)
	run.Documents = 1000
	run.Groups = 12
	run.Removed = 15
	run.Failures = 1
	run.Collisions = 1
	require.NoError(t, s.FinishScan(ctx, run))

	runs, err = s.RecentScans(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	got := runs[0]
	assert.Equal(t, "completed", got.Status)
	assert.Equal(t, audit.ModeLive, got.Mode)
	assert.Equal(t, started, got.StartedAt)
	assert.Equal(t, 1000, got.Documents)
	assert.Equal(t, 12, got.Groups)
	assert.Equal(t, 15, got.Removed)
	assert.Equal(t, 1, got.Failures)
	assert.Equal(t, 1, got.Collisions)
}

func TestFinishScanUnknownID(t *testing.T) {
	s := newTestStore(t)
	err := s.FinishScan(context.Background(), &ScanRun{
		ID:         "nope",
		Status:     "completed",
		FinishedAt: time.Now(),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestRecentScansOrdering(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	base := time.Date(2016, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"first", "second", "third"} {
		require.NoError(t, s.BeginScan(ctx, &ScanRun{
			ID:         id,
			Collection: "articles",
			Mode:       audit.ModeDryRun,
			StartedAt:  base.Add(time.Duration(i) * time.Hour),
		}))
	}

	runs, err := s.RecentScans(ctx, 2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "third", runs[0].ID)
	assert.Equal(t, "second", runs[1].ID)
}

func TestWriteAndListRecords(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	base := time.Date(2016, 1, 1, 0, 0, 0, 0, time.UTC)
	rec1 := &audit.EliminationRecord{
		ID:          "rec-1",
		ScanID:      "scan-1",
		Collection:  "articles",
		Fingerprint: "aaaa",
		Keep:        "A",
		Removed:     []string{"B"},
		Mode:        audit.ModeDryRun,
		CreatedAt:   base,
	}
	rec2 := &audit.EliminationRecord{
		ID:          "rec-2",
		ScanID:      "scan-1",
		Collection:  "articles",
		Fingerprint: "bbbb",
		Keep:        "C",
		Removed:     []string{"D", "E"},
		Mode:        audit.ModeLive,
		Verified:    true,
		DeleteFailures: map[string]string{
			"E": "source unavailable",
		},
		CreatedAt: base.Add(time.Second),
	}
	rec3 := &audit.EliminationRecord{
		ID:          "rec-3",
		ScanID:      "scan-2",
		Collection:  "articles",
		Fingerprint: "cccc",
		Keep:        "F",
		Removed:     []string{"G"},
		Mode:        audit.ModeDryRun,
		CreatedAt:   base.Add(2 * time.Second),
	}
	for _, rec := range []*audit.EliminationRecord{rec1, rec2, rec3} {
		require.NoError(t, s.Write(ctx, rec))
	}

	records, err := s.ListRecords(ctx, RecordFilter{ScanID: "scan-1"})
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "rec-1", records[0].ID)
	assert.Equal(t, rec2, records[1])

	records, err = s.ListRecords(ctx, RecordFilter{})
	require.NoError(t, err)
	assert.Len(t, records, 3)

	records, err = s.ListRecords(ctx, RecordFilter{Limit: 1})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "rec-1", records[0].ID)

	records, err = s.ListRecords(ctx, RecordFilter{Limit: -1})
	require.NoError(t, err)
	assert.Len(t, records, 3)
}
