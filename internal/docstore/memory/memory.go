// Package memory implements docstore.Store in process memory.
//
// It exists for tests and for dry experimentation against synthetic corpora.
// The adapter honors the same scroll ordering and cursor semantics as the
// sqlite adapter, and exposes failure-injection hooks so error paths
// (unreachable store, rejected deletes) can be exercised deterministically.
package memory

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/hem-bad/dedupscan/internal/docstore"
)

const defaultBatchSize = 500

// Store is an in-memory document store.
type Store struct {
	mu          sync.RWMutex
	collections map[string]*collection
	aliases     map[string]string

	// ScrollErr, when set, is returned by every Scroll call. Tests use it
	// to simulate an unreachable store mid-scan.
	ScrollErr error

	// DeleteErrs maps document IDs to errors returned when deleting them.
	DeleteErrs map[string]error

	// GetErrs maps document IDs to errors returned when fetching them.
	GetErrs map[string]error

	// Deleted records every successful delete in order.
	Deleted []string
}

type collection struct {
	mapping map[string]any
	docs    map[string]docstore.Document
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		collections: make(map[string]*collection),
		aliases:     make(map[string]string),
		DeleteErrs:  make(map[string]error),
		GetErrs:     make(map[string]error),
	}
}

type cursor struct {
	TS int64  `json:"ts"`
	ID string `json:"id"`
}

// Scroll reads the next page of documents ordered by (Timestamp, ID).
func (s *Store) Scroll(ctx context.Context, q docstore.Query, raw string) (*docstore.ScrollResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.ScrollErr != nil {
		return nil, fmt.Errorf("%w: %v", docstore.ErrSourceUnavailable, s.ScrollErr)
	}

	coll, err := s.resolveLocked(q.Collection)
	if err != nil {
		return nil, err
	}

	batch := q.BatchSize
	if batch <= 0 {
		batch = defaultBatchSize
	}

	docs := make([]docstore.Document, 0, len(coll.docs))
	for _, d := range coll.docs {
		if !q.From.IsZero() && d.Timestamp.Before(q.From) {
			continue
		}
		if !q.To.IsZero() && !d.Timestamp.Before(q.To) {
			continue
		}
		docs = append(docs, d)
	}
	sort.Slice(docs, func(i, j int) bool {
		if !docs[i].Timestamp.Equal(docs[j].Timestamp) {
			return docs[i].Timestamp.Before(docs[j].Timestamp)
		}
		return docs[i].ID < docs[j].ID
	})

	if raw != "" {
		c, err := decodeCursor(raw)
		if err != nil {
			return nil, err
		}
		i := sort.Search(len(docs), func(i int) bool {
			ts := docs[i].Timestamp.UnixNano()
			return ts > c.TS || (ts == c.TS && docs[i].ID > c.ID)
		})
		docs = docs[i:]
	}

	result := &docstore.ScrollResult{Cursor: raw}
	if len(docs) > batch {
		result.Documents = docs[:batch]
	} else {
		result.Documents = docs
		result.Done = true
	}
	if n := len(result.Documents); n > 0 {
		last := result.Documents[n-1]
		result.Cursor = encodeCursor(cursor{TS: last.Timestamp.UnixNano(), ID: last.ID})
	}
	return result, nil
}

// Delete removes one document, honoring any injected per-ID error.
func (s *Store) Delete(ctx context.Context, collectionName, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err, ok := s.DeleteErrs[id]; ok {
		return err
	}

	coll, err := s.resolveLocked(collectionName)
	if err != nil {
		return err
	}
	if _, ok := coll.docs[id]; !ok {
		return fmt.Errorf("delete %s: %w", id, docstore.ErrNotFound)
	}
	delete(coll.docs, id)
	s.Deleted = append(s.Deleted, id)
	return nil
}

// GetByID fetches one full document.
func (s *Store) GetByID(ctx context.Context, collectionName, id string) (*docstore.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err, ok := s.GetErrs[id]; ok {
		return nil, err
	}

	coll, err := s.resolveLocked(collectionName)
	if err != nil {
		return nil, err
	}
	d, ok := coll.docs[id]
	if !ok {
		return nil, fmt.Errorf("get %s: %w", id, docstore.ErrNotFound)
	}
	return &d, nil
}

// CreateCollection creates a new, empty collection.
func (s *Store) CreateCollection(ctx context.Context, name string, mapping map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.collections[name]; ok {
		return fmt.Errorf("create %s: %w", name, docstore.ErrCollectionExists)
	}
	s.collections[name] = &collection{
		mapping: mapping,
		docs:    make(map[string]docstore.Document),
	}
	return nil
}

// PutDocuments bulk-inserts documents into a collection.
func (s *Store) PutDocuments(ctx context.Context, collectionName string, docs []docstore.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	coll, err := s.resolveLocked(collectionName)
	if err != nil {
		return err
	}
	for _, d := range docs {
		coll.docs[d.ID] = d
	}
	return nil
}

// DropCollection removes a collection, its documents, and aliases pointing at it.
func (s *Store) DropCollection(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.collections[name]; !ok {
		return fmt.Errorf("drop %s: %w", name, docstore.ErrCollectionNotFound)
	}
	delete(s.collections, name)
	for alias, target := range s.aliases {
		if target == name {
			delete(s.aliases, alias)
		}
	}
	return nil
}

// SetAlias points an alias at a collection.
func (s *Store) SetAlias(ctx context.Context, alias, collectionName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.collections[collectionName]; !ok {
		return fmt.Errorf("alias %s -> %s: %w", alias, collectionName, docstore.ErrCollectionNotFound)
	}
	s.aliases[alias] = collectionName
	return nil
}

// Close is a no-op for the in-memory store.
func (s *Store) Close() error { return nil }

// Mapping returns the stored mapping for a collection. Test helper.
func (s *Store) Mapping(name string) map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if coll, ok := s.collections[name]; ok {
		return coll.mapping
	}
	return nil
}

// Count returns the number of documents in a collection (0 if absent).
func (s *Store) Count(name string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	coll, err := s.resolveLocked(name)
	if err != nil {
		return 0
	}
	return len(coll.docs)
}

func (s *Store) resolveLocked(name string) (*collection, error) {
	target := name
	if t, ok := s.aliases[name]; ok {
		target = t
	}
	coll, ok := s.collections[target]
	if !ok {
		return nil, fmt.Errorf("collection %s: %w", name, docstore.ErrCollectionNotFound)
	}
	return coll, nil
}

func encodeCursor(c cursor) string {
	b, _ := json.Marshal(c)
	return base64.RawURLEncoding.EncodeToString(b)
}

func decodeCursor(raw string) (cursor, error) {
	var c cursor
	b, err := base64.RawURLEncoding.DecodeString(raw)
	if err != nil {
		return c, fmt.Errorf("%w: %v", docstore.ErrInvalidCursor, err)
	}
	if err := json.Unmarshal(b, &c); err != nil {
		return c, fmt.Errorf("%w: %v", docstore.ErrInvalidCursor, err)
	}
	return c, nil
}
