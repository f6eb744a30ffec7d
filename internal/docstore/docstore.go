// Package docstore defines the narrow document-store surface the scanner
// consumes. The scanner never owns documents: it reads them through a
// resumable scroll, deletes them by identifier, and (in verification mode)
// re-fetches full bodies by identifier. Reindexing additionally needs
// collection management and bulk writes.
//
// Implementations live in subpackages: sqlite (production adapter) and
// memory (tests and experimentation).
package docstore

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors returned by Store implementations. Callers match them
// with errors.Is; implementations wrap them with operation context.
var (
	// ErrSourceUnavailable indicates the backing store cannot be reached.
	// Scans hitting this error are resumable from the last checkpoint.
	ErrSourceUnavailable = errors.New("document store unavailable")

	// ErrNotFound indicates a requested document does not exist.
	ErrNotFound = errors.New("document not found")

	// ErrCollectionNotFound indicates the named collection (or alias) does not exist.
	ErrCollectionNotFound = errors.New("collection not found")

	// ErrCollectionExists indicates a collection with that name already exists.
	ErrCollectionExists = errors.New("collection already exists")

	// ErrInvalidCursor indicates a scroll cursor that this store did not issue
	// or that refers to a different query range.
	ErrInvalidCursor = errors.New("invalid scroll cursor")
)

// Document is a transient in-memory view of one stored record: the
// store-assigned identifier, the ingest timestamp used for windowing, and
// the named field values. Only the fields needed for fingerprinting are
// guaranteed to be populated on scroll results; GetByID returns all fields.
type Document struct {
	// ID is the unique, store-assigned identifier.
	ID string

	// Timestamp is the ordering timestamp assigned at ingest.
	// Scroll results are strictly ordered by (Timestamp, ID).
	Timestamp time.Time

	// Fields holds the named field values. Values are primitives or
	// JSON-shaped structures; absent fields are simply missing keys.
	Fields map[string]any
}

// Query scopes a scroll to one collection and an optional time range.
// Zero From/To mean unbounded on that side.
type Query struct {
	// Collection is the collection name or alias to read from.
	Collection string

	// From is the inclusive lower bound on Document.Timestamp.
	From time.Time

	// To is the exclusive upper bound on Document.Timestamp.
	To time.Time

	// BatchSize is the maximum number of documents per scroll page.
	// Implementations apply a default when zero.
	BatchSize int
}

// ScrollResult is one page of a scroll.
type ScrollResult struct {
	// Documents are the page contents, ordered by (Timestamp, ID).
	Documents []Document

	// Cursor resumes the scroll after the last document in this page.
	// Opaque to callers; valid only for the same Query.
	Cursor string

	// Done is true when the scroll is exhausted. Cursor may still be
	// non-empty so a restarted scan can confirm its position.
	Done bool
}

// Store is the document-store interface the scanner and reindexer consume.
//
// Scroll must deliver every document in the query range exactly once across
// any sequence of calls that replays the returned cursors, including after
// process restart. That exactly-once contract is what makes the whole scan
// correct: a skipped document cannot be deduplicated, and a re-delivered one
// would be double-counted as a new group member.
type Store interface {
	// Scroll reads the next page for the query. An empty cursor starts
	// from the beginning of the range.
	Scroll(ctx context.Context, q Query, cursor string) (*ScrollResult, error)

	// Delete removes a single document. Returns ErrNotFound if the
	// document does not exist (treated as success by callers that only
	// need the document gone).
	Delete(ctx context.Context, collection, id string) error

	// GetByID fetches one full document. Used only in verification mode.
	GetByID(ctx context.Context, collection, id string) (*Document, error)

	// CreateCollection creates a new collection with the given field
	// mapping. The mapping is stored verbatim; stores that do not
	// enforce mappings keep it for inspection.
	CreateCollection(ctx context.Context, name string, mapping map[string]any) error

	// PutDocuments bulk-inserts documents into a collection.
	PutDocuments(ctx context.Context, collection string, docs []Document) error

	// DropCollection removes a collection and all its documents.
	DropCollection(ctx context.Context, name string) error

	// SetAlias points an alias at a collection, replacing any previous
	// target. Reads through Query.Collection resolve aliases.
	SetAlias(ctx context.Context, alias, collection string) error

	// Close releases store resources.
	Close() error
}
