// Package state persists scanner state that must survive restarts: scroll
// checkpoints, scan run summaries, and the append-only audit stream.
//
// All of it lives in one local SQLite database (the "state DB"), separate
// from the document store being scanned. The audit table is the durable
// form of audit.EliminationRecord; Store implements audit.Writer so the
// scanner can fan records out to the state DB and a JSONL export at once.
package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/hem-bad/dedupscan/internal/audit"
)

// Store is the SQLite-backed state store.
type Store struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS checkpoints (
	scan_id      TEXT PRIMARY KEY,
	collection   TEXT NOT NULL,
	window_index INTEGER NOT NULL,
	cursor       TEXT NOT NULL,
	updated_at   INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS scans (
	id          TEXT PRIMARY KEY,
	collection  TEXT NOT NULL,
	mode        TEXT NOT NULL,
	status      TEXT NOT NULL,
	started_at  INTEGER NOT NULL,
	finished_at INTEGER,
	documents   INTEGER NOT NULL DEFAULT 0,
	groups      INTEGER NOT NULL DEFAULT 0,
	removed     INTEGER NOT NULL DEFAULT 0,
	failures    INTEGER NOT NULL DEFAULT 0,
	collisions  INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS audit_records (
	id              TEXT PRIMARY KEY,
	scan_id         TEXT NOT NULL,
	collection      TEXT NOT NULL,
	fingerprint     TEXT NOT NULL,
	keep            TEXT NOT NULL,
	removed         TEXT NOT NULL,
	mode            TEXT NOT NULL,
	verified        INTEGER NOT NULL,
	delete_failures TEXT,
	created_at      INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_audit_scan ON audit_records(scan_id, created_at);
`

// New opens (or creates) the state database at the given path.
func New(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_foreign_keys=ON")
	if err != nil {
		return nil, fmt.Errorf("failed to open state database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping state database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize state schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Checkpoint is the resume position of an interrupted scan: the window it
// was in and the scroll cursor after the last successfully consumed
// document.
type Checkpoint struct {
	ScanID      string
	Collection  string
	WindowIndex int
	Cursor      string
	UpdatedAt   time.Time
}

// SaveCheckpoint upserts the checkpoint for a scan.
func (s *Store) SaveCheckpoint(ctx context.Context, cp *Checkpoint) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO checkpoints (scan_id, collection, window_index, cursor, updated_at)
		VALUES (?, ?, ?, ?, ?)`,
		cp.ScanID, cp.Collection, cp.WindowIndex, cp.Cursor, time.Now().UnixNano())
	if err != nil {
		return fmt.Errorf("failed to save checkpoint for scan %s: %w", cp.ScanID, err)
	}
	return nil
}

// GetCheckpoint returns the checkpoint for a scan, or nil if none exists.
func (s *Store) GetCheckpoint(ctx context.Context, scanID string) (*Checkpoint, error) {
	return s.queryCheckpoint(ctx,
		`SELECT scan_id, collection, window_index, cursor, updated_at
		 FROM checkpoints WHERE scan_id = ?`, scanID)
}

// LatestCheckpoint returns the most recently updated checkpoint for a
// collection, or nil if none exists. Used by scan --resume.
func (s *Store) LatestCheckpoint(ctx context.Context, collection string) (*Checkpoint, error) {
	return s.queryCheckpoint(ctx,
		`SELECT scan_id, collection, window_index, cursor, updated_at
		 FROM checkpoints WHERE collection = ?
		 ORDER BY updated_at DESC LIMIT 1`, collection)
}

func (s *Store) queryCheckpoint(ctx context.Context, query string, arg any) (*Checkpoint, error) {
	var (
		cp        Checkpoint
		updatedAt int64
	)
	err := s.db.QueryRowContext(ctx, query, arg).
		Scan(&cp.ScanID, &cp.Collection, &cp.WindowIndex, &cp.Cursor, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query checkpoint: %w", err)
	}
	cp.UpdatedAt = time.Unix(0, updatedAt).UTC()
	return &cp, nil
}

// DeleteCheckpoint removes the checkpoint for a completed scan.
func (s *Store) DeleteCheckpoint(ctx context.Context, scanID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM checkpoints WHERE scan_id = ?`, scanID)
	if err != nil {
		return fmt.Errorf("failed to delete checkpoint for scan %s: %w", scanID, err)
	}
	return nil
}

// ScanRun summarizes one scan for the status and audit commands.
type ScanRun struct {
	ID         string
	Collection string
	Mode       audit.Mode
	Status     string // "running", "completed", "interrupted"
	StartedAt  time.Time
	FinishedAt time.Time
	Documents  int
	Groups     int
	Removed    int
	Failures   int
	Collisions int
}

// BeginScan records a new scan in "running" state.
func (s *Store) BeginScan(ctx context.Context, run *ScanRun) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO scans (id, collection, mode, status, started_at)
		VALUES (?, ?, ?, 'running', ?)`,
		run.ID, run.Collection, string(run.Mode), run.StartedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("failed to record scan %s: %w", run.ID, err)
	}
	return nil
}

// FinishScan updates a scan's final status and counters.
func (s *Store) FinishScan(ctx context.Context, run *ScanRun) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE scans SET status = ?, finished_at = ?, documents = ?, groups = ?,
		       removed = ?, failures = ?, collisions = ?
		WHERE id = ?`,
		run.Status, run.FinishedAt.UnixNano(), run.Documents, run.Groups,
		run.Removed, run.Failures, run.Collisions, run.ID)
	if err != nil {
		return fmt.Errorf("failed to finish scan %s: %w", run.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to finish scan %s: %w", run.ID, err)
	}
	if n == 0 {
		return fmt.Errorf("scan %s not found", run.ID)
	}
	return nil
}

// RecentScans returns the most recent scans, newest first.
func (s *Store) RecentScans(ctx context.Context, limit int) ([]*ScanRun, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, collection, mode, status, started_at, finished_at,
		       documents, groups, removed, failures, collisions
		FROM scans ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query scans: %w", err)
	}
	defer rows.Close()

	var runs []*ScanRun
	for rows.Next() {
		var (
			run        ScanRun
			mode       string
			startedAt  int64
			finishedAt sql.NullInt64
		)
		err := rows.Scan(&run.ID, &run.Collection, &mode, &run.Status, &startedAt,
			&finishedAt, &run.Documents, &run.Groups, &run.Removed,
			&run.Failures, &run.Collisions)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run row: %w", err)
		}
		run.Mode = audit.Mode(mode)
		run.StartedAt = time.Unix(0, startedAt).UTC()
		if finishedAt.Valid {
			run.FinishedAt = time.Unix(0, finishedAt.Int64).UTC()
		}
		runs = append(runs, &run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate scan rows: %w", err)
	}
	return runs, nil
}

// Write appends an elimination record, implementing audit.Writer.
func (s *Store) Write(ctx context.Context, rec *audit.EliminationRecord) error {
	removedJSON, err := json.Marshal(rec.Removed)
	if err != nil {
		return fmt.Errorf("failed to marshal removed ids for record %s: %w", rec.ID, err)
	}

	var failuresJSON []byte
	if len(rec.DeleteFailures) > 0 {
		failuresJSON, err = json.Marshal(rec.DeleteFailures)
		if err != nil {
			return fmt.Errorf("failed to marshal delete failures for record %s: %w", rec.ID, err)
		}
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO audit_records (id, scan_id, collection, fingerprint, keep,
		                           removed, mode, verified, delete_failures, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.ScanID, rec.Collection, rec.Fingerprint, rec.Keep,
		string(removedJSON), string(rec.Mode), rec.Verified,
		nullableString(failuresJSON), rec.CreatedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("failed to store elimination record %s: %w", rec.ID, err)
	}
	return nil
}

// RecordFilter narrows ListRecords.
type RecordFilter struct {
	// ScanID limits results to one scan when non-empty.
	ScanID string

	// Limit caps the number of results. Zero means the default of 100;
	// negative means no limit.
	Limit int
}

// ListRecords returns elimination records, oldest first within a scan.
func (s *Store) ListRecords(ctx context.Context, filter RecordFilter) ([]*audit.EliminationRecord, error) {
	query := `
		SELECT id, scan_id, collection, fingerprint, keep, removed, mode,
		       verified, delete_failures, created_at
		FROM audit_records WHERE 1=1`
	args := []interface{}{}

	if filter.ScanID != "" {
		query += ` AND scan_id = ?`
		args = append(args, filter.ScanID)
	}

	limit := filter.Limit
	if limit == 0 {
		limit = 100
	}
	if limit > 0 {
		query += ` ORDER BY created_at, id LIMIT ?`
		args = append(args, limit)
	} else {
		query += ` ORDER BY created_at, id`
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit records: %w", err)
	}
	defer rows.Close()

	var records []*audit.EliminationRecord
	for rows.Next() {
		var (
			rec          audit.EliminationRecord
			removedJSON  string
			mode         string
			failuresJSON sql.NullString
			createdAt    int64
		)
		err := rows.Scan(&rec.ID, &rec.ScanID, &rec.Collection, &rec.Fingerprint,
			&rec.Keep, &removedJSON, &mode, &rec.Verified, &failuresJSON, &createdAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit row: %w", err)
		}
		if err := json.Unmarshal([]byte(removedJSON), &rec.Removed); err != nil {
			return nil, fmt.Errorf("failed to decode removed ids for record %s: %w", rec.ID, err)
		}
		if failuresJSON.Valid && failuresJSON.String != "" {
			if err := json.Unmarshal([]byte(failuresJSON.String), &rec.DeleteFailures); err != nil {
				return nil, fmt.Errorf("failed to decode delete failures for record %s: %w", rec.ID, err)
			}
		}
		rec.Mode = audit.Mode(mode)
		rec.CreatedAt = time.Unix(0, createdAt).UTC()
		records = append(records, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate audit rows: %w", err)
	}
	return records, nil
}

func nullableString(b []byte) interface{} {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}
