package records

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/ripplelabs/feedline/backend/internal/docstore"
	"go.uber.org/zap"
)

const defaultPageSize = 10

var errMissingDocuments = errors.New("records: document store required")

// OwnerEmailFunc resolves the email to denormalize onto a record at write
// time, so the feed never joins against identity data.
type OwnerEmailFunc func(ownerID string) string

// StoreConfig bundles dependencies for the record stream store.
type StoreConfig struct {
	Documents  docstore.Store
	PageSize   int
	OwnerEmail OwnerEmailFunc
	Logger     *zap.Logger
}

// Store manages two related slices of record state: a live stream of the
// authenticated user's own records and a cursor-paginated global feed. UI
// layers read the state through accessors; all mutation goes through the
// defined operations.
type Store struct {
	docs       docstore.Store
	pageSize   int
	ownerEmail OwnerEmailFunc
	logger     *zap.Logger

	mu sync.Mutex

	// own-records live stream
	ownRecords    []docstore.Record
	streamLoading bool
	cancelStream  func()
	// streamGen invalidates snapshots from superseded registrations: a
	// callback holding an older generation is discarded, never merged over a
	// newer listener's data.
	streamGen int64

	// global feed pagination
	feed        []docstore.Record
	feedLoading bool
	feedHasMore bool
	feedCursor  *docstore.Cursor

	lastError string
}

// NewStore constructs the store.
func NewStore(cfg StoreConfig) (*Store, error) {
	if cfg.Documents == nil {
		return nil, errMissingDocuments
	}
	pageSize := cfg.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		docs:       cfg.Documents,
		pageSize:   pageSize,
		ownerEmail: cfg.OwnerEmail,
		logger:     logger,
	}, nil
}

// SubscribeToOwnRecords opens a live subscription filtered to the given
// owner, ordered by createdAt descending. Any previous registration is
// released first, so at most one listener is ever active.
func (s *Store) SubscribeToOwnRecords(ownerID string) error {
	s.mu.Lock()
	previous := s.cancelStream
	s.cancelStream = nil
	s.streamGen++
	generation := s.streamGen
	s.streamLoading = true
	s.mu.Unlock()

	if previous != nil {
		previous()
	}

	cancel, err := s.docs.SubscribeQuery(
		docstore.QuerySpec{OwnerID: ownerID},
		func(snapshot []docstore.Record) {
			s.mu.Lock()
			defer s.mu.Unlock()
			if s.streamGen != generation {
				return
			}
			s.ownRecords = snapshot
			s.streamLoading = false
		},
	)
	if err != nil {
		s.mu.Lock()
		if s.streamGen == generation {
			s.streamLoading = false
			s.lastError = err.Error()
		}
		s.mu.Unlock()
		s.logger.Warn("own-records subscription failed",
			zap.String("owner_id", ownerID), zap.Error(err))
		return err
	}

	s.mu.Lock()
	if s.streamGen != generation {
		// A newer subscription raced in; this registration is already stale.
		s.mu.Unlock()
		cancel()
		return nil
	}
	s.cancelStream = cancel
	s.mu.Unlock()
	return nil
}

// Unsubscribe releases the live subscription and clears the local list. It
// is idempotent.
func (s *Store) Unsubscribe() {
	s.mu.Lock()
	cancel := s.cancelStream
	s.cancelStream = nil
	s.streamGen++
	s.ownRecords = nil
	s.streamLoading = false
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

// OwnRecords returns a copy of the live own-records list.
func (s *Store) OwnRecords() []docstore.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]docstore.Record(nil), s.ownRecords...)
}

// StreamLoading reports whether the live stream awaits its first snapshot.
func (s *Store) StreamLoading() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.streamLoading
}

// LoadFirstPage resets feed state and fetches the newest page.
func (s *Store) LoadFirstPage(ctx context.Context) error {
	s.mu.Lock()
	s.feedLoading = true
	s.feed = nil
	s.feedHasMore = true
	s.feedCursor = nil
	s.mu.Unlock()

	page, err := s.docs.Query(ctx, docstore.QuerySpec{Limit: s.pageSize})

	s.mu.Lock()
	defer s.mu.Unlock()
	s.feedLoading = false
	if err != nil {
		s.lastError = err.Error()
		s.logger.Warn("feed first page load failed", zap.Error(err))
		return err
	}
	s.feed = page
	s.applyPageCursor(page)
	return nil
}

// LoadNextPage fetches the page strictly after the last-seen cursor and
// appends it. It is a no-op while a load is in flight or once the feed is
// exhausted, which drops duplicate fetches triggered by fast scrolling.
func (s *Store) LoadNextPage(ctx context.Context) error {
	s.mu.Lock()
	if s.feedLoading || !s.feedHasMore {
		s.mu.Unlock()
		return nil
	}
	s.feedLoading = true
	cursor := s.feedCursor
	s.mu.Unlock()

	page, err := s.docs.Query(ctx, docstore.QuerySpec{Limit: s.pageSize, StartAfter: cursor})

	s.mu.Lock()
	defer s.mu.Unlock()
	s.feedLoading = false
	if err != nil {
		s.lastError = err.Error()
		s.logger.Warn("feed next page load failed", zap.Error(err))
		return err
	}
	s.feed = append(s.feed, page...)
	s.applyPageCursor(page)
	return nil
}

// ResetFeed clears all feed state. Used when the viewer's identity changes.
func (s *Store) ResetFeed() {
	s.mu.Lock()
	s.feed = nil
	s.feedHasMore = true
	s.feedCursor = nil
	s.mu.Unlock()
}

// Feed returns a copy of the accumulated feed pages.
func (s *Store) Feed() []docstore.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]docstore.Record(nil), s.feed...)
}

// HasMore reports whether another feed page may exist.
func (s *Store) HasMore() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.feedHasMore
}

// FeedLoading reports whether a feed page load is in flight.
func (s *Store) FeedLoading() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.feedLoading
}

// AddRecord writes a new record, denormalizing the owner's email. Empty
// titles or bodies are rejected locally, before any store call. Write
// failures land in the error field rather than escaping to the UI layer.
func (s *Store) AddRecord(ctx context.Context, ownerID, title, body string) {
	if strings.TrimSpace(title) == "" || strings.TrimSpace(body) == "" {
		s.setLastError("title and body are required")
		return
	}

	email := ""
	if s.ownerEmail != nil {
		email = s.ownerEmail(ownerID)
	}

	_, err := s.docs.AddRecord(ctx, docstore.Record{
		OwnerID:    ownerID,
		OwnerEmail: email,
		Title:      title,
		Body:       body,
	})
	if err != nil {
		s.setLastError(err.Error())
		s.logger.Warn("record write failed", zap.String("owner_id", ownerID), zap.Error(err))
	}
}

// DeleteRecord removes a record by id. Failures are logged and recorded in
// the error field; the live subscription converges the list on success.
func (s *Store) DeleteRecord(ctx context.Context, id string) {
	if err := s.docs.DeleteRecord(ctx, id); err != nil {
		s.setLastError(err.Error())
		s.logger.Warn("record delete failed", zap.String("record_id", id), zap.Error(err))
	}
}

// LastError returns the most recent recoverable failure, or empty.
func (s *Store) LastError() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastError
}

// ClearError resets the error field.
func (s *Store) ClearError() {
	s.setLastError("")
}

func (s *Store) applyPageCursor(page []docstore.Record) {
	s.feedHasMore = len(page) == s.pageSize
	if len(page) > 0 {
		cursor := docstore.CursorForRecord(page[len(page)-1])
		s.feedCursor = &cursor
	}
}

func (s *Store) setLastError(message string) {
	s.mu.Lock()
	s.lastError = message
	s.mu.Unlock()
}
