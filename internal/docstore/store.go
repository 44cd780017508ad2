package docstore

import (
	"context"
	"errors"
)

var (
	// ErrRecordNotFound indicates a delete or lookup referenced a missing id.
	ErrRecordNotFound = errors.New("docstore: record not found")
	// ErrInvalidRecord indicates a write payload failed store validation.
	ErrInvalidRecord = errors.New("docstore: invalid record")
)

// QuerySpec describes a read against the record collection. Results are
// always ordered by createdAt descending with the record id as tiebreaker.
type QuerySpec struct {
	// OwnerID filters to a single owner when non-empty.
	OwnerID string
	// Limit caps the page size; zero means no limit.
	Limit int
	// StartAfter resumes strictly after the given position.
	StartAfter *Cursor
}

// SnapshotCallback receives the full, authoritative result set of a
// subscribed query. Every change notification replaces the previous snapshot.
type SnapshotCallback func(records []Record)

// Store is the document-store surface consumed by the record layer.
type Store interface {
	// AddRecord persists a new record, assigning its id and timestamp, and
	// returns the stored form.
	AddRecord(ctx context.Context, record Record) (Record, error)

	// DeleteRecord removes a record by id. Missing ids yield
	// ErrRecordNotFound.
	DeleteRecord(ctx context.Context, id string) error

	// Query runs a one-shot read.
	Query(ctx context.Context, spec QuerySpec) ([]Record, error)

	// SubscribeQuery registers a standing query. The callback fires with the
	// initial snapshot before SubscribeQuery returns and again after every
	// matching change until the returned cancel function runs. Cancel is
	// idempotent.
	SubscribeQuery(spec QuerySpec, callback SnapshotCallback) (cancel func(), err error)
}
