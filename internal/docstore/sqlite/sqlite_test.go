package sqlite

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hem-bad/dedupscan/internal/docstore"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "docs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func seedDocs(t *testing.T, s *Store, collection string, n int) []docstore.Document {
	t.Helper()
	require.NoError(t, s.CreateCollection(context.Background(), collection, nil))

	base := time.Date(2016, 1, 1, 0, 0, 0, 0, time.UTC)
	docs := make([]docstore.Document, 0, n)
	for i := 0; i < n; i++ {
		docs = append(docs, docstore.Document{
			ID:        fmt.Sprintf("doc-%03d", i),
			Timestamp: base.Add(time.Duration(i) * time.Minute),
			Fields:    map[string]any{"seq": float64(i)},
		})
	}
	require.NoError(t, s.PutDocuments(context.Background(), collection, docs))
	return docs
}

func TestScrollOrdering(t *testing.T) {
	s := newTestStore(t)
	seedDocs(t, s, "articles", 7)

	res, err := s.Scroll(context.Background(), docstore.Query{Collection: "articles"}, "")
	require.NoError(t, err)
	assert.True(t, res.Done)
	require.Len(t, res.Documents, 7)
	for i := 1; i < len(res.Documents); i++ {
		prev, cur := res.Documents[i-1], res.Documents[i]
		assert.True(t, prev.Timestamp.Before(cur.Timestamp) ||
			(prev.Timestamp.Equal(cur.Timestamp) && prev.ID < cur.ID))
	}
}

func TestScrollPagination(t *testing.T) {
	s := newTestStore(t)
	seedDocs(t, s, "articles", 10)
	ctx := context.Background()

	var (
		seen   []string
		cursor string
		pages  int
	)
	for {
		res, err := s.Scroll(ctx, docstore.Query{Collection: "articles", BatchSize: 3}, cursor)
		require.NoError(t, err)
		for _, d := range res.Documents {
			seen = append(seen, d.ID)
		}
		pages++
		if res.Done {
			break
		}
		require.NotEmpty(t, res.Cursor)
		cursor = res.Cursor
	}

	assert.Equal(t, 4, pages)
	require.Len(t, seen, 10)
	// Each document delivered exactly once.
	unique := make(map[string]bool)
	for _, id := range seen {
		assert.False(t, unique[id], "document %s delivered twice", id)
		unique[id] = true
	}
}

func TestScrollCursorSurvivesDeletesBehindIt(t *testing.T) {
	s := newTestStore(t)
	docs := seedDocs(t, s, "articles", 6)
	ctx := context.Background()

	res, err := s.Scroll(ctx, docstore.Query{Collection: "articles", BatchSize: 3}, "")
	require.NoError(t, err)
	require.Len(t, res.Documents, 3)

	// Deleting behind the cursor must not shift or repeat what remains.
	require.NoError(t, s.Delete(ctx, "articles", docs[0].ID))
	require.NoError(t, s.Delete(ctx, "articles", docs[1].ID))

	res, err = s.Scroll(ctx, docstore.Query{Collection: "articles", BatchSize: 3}, res.Cursor)
	require.NoError(t, err)
	require.Len(t, res.Documents, 3)
	assert.Equal(t, "doc-003", res.Documents[0].ID)
	assert.True(t, res.Done)
}

func TestScrollTimeRange(t *testing.T) {
	s := newTestStore(t)
	seedDocs(t, s, "articles", 10)

	base := time.Date(2016, 1, 1, 0, 0, 0, 0, time.UTC)
	res, err := s.Scroll(context.Background(), docstore.Query{
		Collection: "articles",
		From:       base.Add(2 * time.Minute),
		To:         base.Add(5 * time.Minute), // exclusive
	}, "")
	require.NoError(t, err)
	require.Len(t, res.Documents, 3)
	assert.Equal(t, "doc-002", res.Documents[0].ID)
	assert.Equal(t, "doc-004", res.Documents[2].ID)
}

func TestScrollInvalidCursor(t *testing.T) {
	s := newTestStore(t)
	seedDocs(t, s, "articles", 1)

	_, err := s.Scroll(context.Background(), docstore.Query{Collection: "articles"}, "not base64!")
	assert.ErrorIs(t, err, docstore.ErrInvalidCursor)
}

func TestScrollMissingCollection(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Scroll(context.Background(), docstore.Query{Collection: "none"}, "")
	assert.ErrorIs(t, err, docstore.ErrCollectionNotFound)
}

func TestDeleteAndGetByID(t *testing.T) {
	s := newTestStore(t)
	docs := seedDocs(t, s, "articles", 3)
	ctx := context.Background()

	got, err := s.GetByID(ctx, "articles", docs[1].ID)
	require.NoError(t, err)
	assert.Equal(t, docs[1].ID, got.ID)
	assert.Equal(t, docs[1].Timestamp, got.Timestamp)
	assert.Equal(t, docs[1].Fields, got.Fields)

	require.NoError(t, s.Delete(ctx, "articles", docs[1].ID))

	_, err = s.GetByID(ctx, "articles", docs[1].ID)
	assert.ErrorIs(t, err, docstore.ErrNotFound)
	err = s.Delete(ctx, "articles", docs[1].ID)
	assert.ErrorIs(t, err, docstore.ErrNotFound)
}

func TestCreateCollectionExists(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateCollection(ctx, "articles", map[string]any{"id_field": "uid"}))
	err := s.CreateCollection(ctx, "articles", nil)
	assert.ErrorIs(t, err, docstore.ErrCollectionExists)
}

func TestAliasResolution(t *testing.T) {
	s := newTestStore(t)
	docs := seedDocs(t, s, "articles-v2", 2)
	ctx := context.Background()

	err := s.SetAlias(ctx, "articles", "missing")
	assert.ErrorIs(t, err, docstore.ErrCollectionNotFound)

	require.NoError(t, s.SetAlias(ctx, "articles", "articles-v2"))

	res, err := s.Scroll(ctx, docstore.Query{Collection: "articles"}, "")
	require.NoError(t, err)
	assert.Len(t, res.Documents, 2)

	got, err := s.GetByID(ctx, "articles", docs[0].ID)
	require.NoError(t, err)
	assert.Equal(t, docs[0].ID, got.ID)

	// Repointing the alias is an atomic replace.
	require.NoError(t, s.CreateCollection(ctx, "articles-v3", nil))
	require.NoError(t, s.SetAlias(ctx, "articles", "articles-v3"))
	res, err = s.Scroll(ctx, docstore.Query{Collection: "articles"}, "")
	require.NoError(t, err)
	assert.Empty(t, res.Documents)
}

func TestDropCollection(t *testing.T) {
	s := newTestStore(t)
	seedDocs(t, s, "articles", 2)
	ctx := context.Background()

	require.NoError(t, s.DropCollection(ctx, "articles"))
	_, err := s.Scroll(ctx, docstore.Query{Collection: "articles"}, "")
	assert.ErrorIs(t, err, docstore.ErrCollectionNotFound)

	err = s.DropCollection(ctx, "articles")
	assert.ErrorIs(t, err, docstore.ErrCollectionNotFound)
}
