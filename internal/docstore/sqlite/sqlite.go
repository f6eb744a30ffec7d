// Package sqlite implements docstore.Store on a local SQLite database.
//
// Documents live in one table keyed by (collection, id) with the field
// payload stored as JSON. Timestamps are stored as integer Unix nanoseconds
// so ORDER BY gives the exact (timestamp, id) ordering the scroll contract
// requires. Scroll cursors are keyset cursors (last seen timestamp + id)
// rather than offsets, which keeps them valid across restarts and across
// deletes happening behind the scroll position.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/hem-bad/dedupscan/internal/docstore"
)

const defaultBatchSize = 500

// Store is a SQLite-backed document store.
type Store struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS collections (
	name       TEXT PRIMARY KEY,
	mapping    TEXT NOT NULL DEFAULT '{}',
	created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS aliases (
	alias      TEXT PRIMARY KEY,
	collection TEXT NOT NULL,
	FOREIGN KEY (collection) REFERENCES collections(name) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS documents (
	collection TEXT NOT NULL,
	id         TEXT NOT NULL,
	ts         INTEGER NOT NULL,
	fields     TEXT NOT NULL,
	PRIMARY KEY (collection, id),
	FOREIGN KEY (collection) REFERENCES collections(name) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_documents_scroll ON documents(collection, ts, id);
`

// New opens (or creates) a document store at the given path.
func New(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	// WAL mode for better concurrency between the scroll reader and deletes
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_foreign_keys=ON")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: %v", docstore.ErrSourceUnavailable, err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// cursor is the decoded form of a scroll cursor: the keyset position after
// the last delivered document.
type cursor struct {
	TS int64  `json:"ts"`
	ID string `json:"id"`
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

// Scroll reads the next page of documents ordered by (ts, id).
func (s *Store) Scroll(ctx context.Context, q docstore.Query, raw string) (*docstore.ScrollResult, error) {
	coll, err := s.resolveCollection(ctx, q.Collection)
	if err != nil {
		return nil, err
	}

	batch := q.BatchSize
	if batch <= 0 {
		batch = defaultBatchSize
	}

	query := `SELECT id, ts, fields FROM documents WHERE collection = ?`
	args := []interface{}{coll}

	if !q.From.IsZero() {
		query += ` AND ts >= ?`
		args = append(args, q.From.UnixNano())
	}
	if !q.To.IsZero() {
		query += ` AND ts < ?`
		args = append(args, q.To.UnixNano())
	}
	if raw != "" {
		c, err := decodeCursor(raw)
		if err != nil {
			return nil, err
		}
		query += ` AND (ts > ? OR (ts = ? AND id > ?))`
		args = append(args, c.TS, c.TS, c.ID)
	}

	query += ` ORDER BY ts, id LIMIT ?`
	args = append(args, batch+1) // one extra row to detect the final page

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: scroll query failed: %v", docstore.ErrSourceUnavailable, err)
	}
	defer rows.Close()

	result := &docstore.ScrollResult{Cursor: raw}
	for rows.Next() {
		if len(result.Documents) == batch {
			// Extra row present: more pages remain.
			result.Done = false
			if err := rows.Close(); err != nil {
				return nil, fmt.Errorf("%w: scroll close failed: %v", docstore.ErrSourceUnavailable, err)
			}
			return result, nil
		}

		var (
			id         string
			ts         int64
			fieldsJSON string
		)
		if err := rows.Scan(&id, &ts, &fieldsJSON); err != nil {
			return nil, fmt.Errorf("%w: scroll scan failed: %v", docstore.ErrSourceUnavailable, err)
		}

		var fields map[string]any
		if err := json.Unmarshal([]byte(fieldsJSON), &fields); err != nil {
			return nil, fmt.Errorf("failed to decode fields for document %s: %w", id, err)
		}

		result.Documents = append(result.Documents, docstore.Document{
			ID:        id,
			Timestamp: time.Unix(0, ts).UTC(),
			Fields:    fields,
		})
		result.Cursor = encodeCursor(cursor{TS: ts, ID: id})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: scroll iteration failed: %v", docstore.ErrSourceUnavailable, err)
	}

	result.Done = true
	return result, nil
}

// Delete removes one document from a collection.
func (s *Store) Delete(ctx context.Context, collection, id string) error {
	coll, err := s.resolveCollection(ctx, collection)
	if err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE collection = ? AND id = ?`, coll, id)
	if err != nil {
		return fmt.Errorf("failed to delete document %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to delete document %s: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("delete %s: %w", id, docstore.ErrNotFound)
	}
	return nil
}

// GetByID fetches one full document.
func (s *Store) GetByID(ctx context.Context, collection, id string) (*docstore.Document, error) {
	coll, err := s.resolveCollection(ctx, collection)
	if err != nil {
		return nil, err
	}

	var (
		ts         int64
		fieldsJSON string
	)
	err = s.db.QueryRowContext(ctx,
		`SELECT ts, fields FROM documents WHERE collection = ? AND id = ?`, coll, id).
		Scan(&ts, &fieldsJSON)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("get %s: %w", id, docstore.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: get %s failed: %v", docstore.ErrSourceUnavailable, id, err)
	}

	var fields map[string]any
	if err := json.Unmarshal([]byte(fieldsJSON), &fields); err != nil {
		return nil, fmt.Errorf("failed to decode fields for document %s: %w", id, err)
	}

	return &docstore.Document{
		ID:        id,
		Timestamp: time.Unix(0, ts).UTC(),
		Fields:    fields,
	}, nil
}

// CreateCollection creates a new, empty collection with the given mapping.
func (s *Store) CreateCollection(ctx context.Context, name string, mapping map[string]any) error {
	mappingJSON, err := json.Marshal(mapping)
	if err != nil {
		return fmt.Errorf("failed to marshal mapping: %w", err)
	}
	if mapping == nil {
		mappingJSON = []byte("{}")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO collections (name, mapping, created_at) VALUES (?, ?, ?)`,
		name, string(mappingJSON), time.Now().UnixNano())
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("create %s: %w", name, docstore.ErrCollectionExists)
		}
		return fmt.Errorf("failed to create collection %s: %w", name, err)
	}
	return nil
}

// PutDocuments bulk-inserts documents into a collection within one transaction.
func (s *Store) PutDocuments(ctx context.Context, collection string, docs []docstore.Document) error {
	coll, err := s.resolveCollection(ctx, collection)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin put failed: %v", docstore.ErrSourceUnavailable, err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT OR REPLACE INTO documents (collection, id, ts, fields) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, doc := range docs {
		fieldsJSON, err := json.Marshal(doc.Fields)
		if err != nil {
			return fmt.Errorf("failed to marshal fields for document %s: %w", doc.ID, err)
		}
		if doc.Fields == nil {
			fieldsJSON = []byte("{}")
		}
		if _, err := stmt.ExecContext(ctx, coll, doc.ID, doc.Timestamp.UnixNano(), string(fieldsJSON)); err != nil {
			return fmt.Errorf("failed to insert document %s: %w", doc.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit put failed: %v", docstore.ErrSourceUnavailable, err)
	}
	return nil
}

// DropCollection removes a collection, its documents, and any aliases
// pointing at it.
func (s *Store) DropCollection(ctx context.Context, name string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM collections WHERE name = ?`, name)
	if err != nil {
		return fmt.Errorf("failed to drop collection %s: %w", name, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to drop collection %s: %w", name, err)
	}
	if n == 0 {
		return fmt.Errorf("drop %s: %w", name, docstore.ErrCollectionNotFound)
	}
	return nil
}

// SetAlias points an alias at a collection, replacing any previous target.
func (s *Store) SetAlias(ctx context.Context, alias, collection string) error {
	var exists int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM collections WHERE name = ?`, collection).Scan(&exists)
	if err != nil {
		return fmt.Errorf("%w: alias lookup failed: %v", docstore.ErrSourceUnavailable, err)
	}
	if exists == 0 {
		return fmt.Errorf("alias %s -> %s: %w", alias, collection, docstore.ErrCollectionNotFound)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO aliases (alias, collection) VALUES (?, ?)`, alias, collection)
	if err != nil {
		return fmt.Errorf("failed to set alias %s: %w", alias, err)
	}
	return nil
}

// resolveCollection follows an alias if one exists, then verifies the
// target collection is present.
func (s *Store) resolveCollection(ctx context.Context, name string) (string, error) {
	var target string
	err := s.db.QueryRowContext(ctx,
		`SELECT collection FROM aliases WHERE alias = ?`, name).Scan(&target)
	if err == sql.ErrNoRows {
		target = name
	} else if err != nil {
		return "", fmt.Errorf("%w: alias resolution failed: %v", docstore.ErrSourceUnavailable, err)
	}

	var exists int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM collections WHERE name = ?`, target).Scan(&exists); err != nil {
		return "", fmt.Errorf("%w: collection lookup failed: %v", docstore.ErrSourceUnavailable, err)
	}
	if exists == 0 {
		return "", fmt.Errorf("collection %s: %w", name, docstore.ErrCollectionNotFound)
	}
	return target, nil
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrConstraint
	}
	return false
}
