package docstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	errMissingStoreDatabase   = errors.New("docstore: database handle required")
	errMissingStoreIDProvider = errors.New("docstore: id provider required")
)

// GormStoreConfig bundles dependencies for the SQL-backed store.
type GormStoreConfig struct {
	Database   *gorm.DB
	IDProvider IDProvider
	Logger     *zap.Logger
	Clock      func() time.Time
}

// GormStore implements Store on top of GORM. Standing queries are driven by
// an in-process notifier: every committed mutation re-runs the affected
// subscriptions and pushes a fresh authoritative snapshot.
type GormStore struct {
	db     *gorm.DB
	ids    IDProvider
	logger *zap.Logger
	clock  func() time.Time

	// lastAssigned enforces a strictly monotonic createdAt so that cursor
	// pagination never skips or repeats rows written in the same tick.
	assignMu     sync.Mutex
	lastAssigned time.Time

	notifier *queryNotifier
}

// NewGormStore constructs the store.
func NewGormStore(cfg GormStoreConfig) (*GormStore, error) {
	if cfg.Database == nil {
		return nil, errMissingStoreDatabase
	}
	if cfg.IDProvider == nil {
		return nil, errMissingStoreIDProvider
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	store := &GormStore{
		db:     cfg.Database,
		ids:    cfg.IDProvider,
		logger: logger,
		clock:  clock,
	}
	store.notifier = newQueryNotifier(store)
	return store, nil
}

// AddRecord persists a new record and notifies standing queries.
func (s *GormStore) AddRecord(ctx context.Context, record Record) (Record, error) {
	if strings.TrimSpace(record.OwnerID) == "" {
		return Record{}, fmt.Errorf("%w: owner id required", ErrInvalidRecord)
	}
	if strings.TrimSpace(record.Title) == "" || strings.TrimSpace(record.Body) == "" {
		return Record{}, fmt.Errorf("%w: title and body required", ErrInvalidRecord)
	}

	id, err := s.ids.NewID()
	if err != nil {
		return Record{}, fmt.Errorf("docstore: record id: %w", err)
	}
	record.ID = id
	record.CreatedAt = s.nextTimestamp()

	if err := s.db.WithContext(ctx).Create(&record).Error; err != nil {
		return Record{}, fmt.Errorf("docstore: record create: %w", err)
	}

	s.notifier.recordsChanged(record.OwnerID)
	return record, nil
}

// DeleteRecord removes a record by id and notifies standing queries.
func (s *GormStore) DeleteRecord(ctx context.Context, id string) error {
	var record Record
	err := s.db.WithContext(ctx).Where("record_id = ?", id).Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrRecordNotFound
	}
	if err != nil {
		return fmt.Errorf("docstore: record lookup: %w", err)
	}

	if err := s.db.WithContext(ctx).Where("record_id = ?", id).Delete(&Record{}).Error; err != nil {
		return fmt.Errorf("docstore: record delete: %w", err)
	}

	s.notifier.recordsChanged(record.OwnerID)
	return nil
}

// Query runs a one-shot read ordered by createdAt descending.
func (s *GormStore) Query(ctx context.Context, spec QuerySpec) ([]Record, error) {
	query := s.db.WithContext(ctx).Model(&Record{}).
		Order("created_at DESC, record_id DESC")

	if spec.OwnerID != "" {
		query = query.Where("owner_id = ?", spec.OwnerID)
	}
	if spec.StartAfter != nil {
		after := spec.StartAfter.CreatedAt.UTC()
		query = query.Where(
			"created_at < ? OR (created_at = ? AND record_id < ?)",
			after, after, spec.StartAfter.RecordID,
		)
	}
	if spec.Limit > 0 {
		query = query.Limit(spec.Limit)
	}

	records := make([]Record, 0, spec.Limit)
	if err := query.Find(&records).Error; err != nil {
		return nil, fmt.Errorf("docstore: query: %w", err)
	}
	return records, nil
}

// SubscribeQuery registers a standing query and delivers its initial
// snapshot before returning.
func (s *GormStore) SubscribeQuery(spec QuerySpec, callback SnapshotCallback) (func(), error) {
	return s.notifier.subscribe(spec, callback)
}

// nextTimestamp assigns a strictly increasing UTC timestamp.
func (s *GormStore) nextTimestamp() time.Time {
	s.assignMu.Lock()
	defer s.assignMu.Unlock()
	now := s.clock().UTC()
	if !now.After(s.lastAssigned) {
		now = s.lastAssigned.Add(time.Nanosecond)
	}
	s.lastAssigned = now
	return now
}

// queryNotifier maintains standing-query registrations and re-runs them on
// change. Deliveries are serialized under dispatchMu so a subscriber never
// observes a stale snapshot after a newer one.
type queryNotifier struct {
	store *GormStore

	mu          sync.Mutex
	subscribers map[int64]*querySubscriber
	nextID      int64

	dispatchMu sync.Mutex
}

type querySubscriber struct {
	id      int64
	spec    QuerySpec
	deliver SnapshotCallback
}

func newQueryNotifier(store *GormStore) *queryNotifier {
	return &queryNotifier{
		store:       store,
		subscribers: make(map[int64]*querySubscriber),
	}
}

func (n *queryNotifier) subscribe(spec QuerySpec, callback SnapshotCallback) (func(), error) {
	subscriber := &querySubscriber{spec: spec, deliver: callback}

	n.mu.Lock()
	n.nextID++
	subscriber.id = n.nextID
	n.subscribers[subscriber.id] = subscriber
	n.mu.Unlock()

	if err := n.dispatchTo(subscriber); err != nil {
		n.unsubscribe(subscriber.id)
		return nil, err
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			n.unsubscribe(subscriber.id)
		})
	}, nil
}

func (n *queryNotifier) unsubscribe(id int64) {
	n.mu.Lock()
	delete(n.subscribers, id)
	n.mu.Unlock()
}

// recordsChanged re-runs every subscription affected by a change to the
// given owner's records. The feed subscription (no owner filter) always
// matches.
func (n *queryNotifier) recordsChanged(ownerID string) {
	n.mu.Lock()
	affected := make([]*querySubscriber, 0, len(n.subscribers))
	for _, subscriber := range n.subscribers {
		if subscriber.spec.OwnerID == "" || subscriber.spec.OwnerID == ownerID {
			affected = append(affected, subscriber)
		}
	}
	n.mu.Unlock()

	for _, subscriber := range affected {
		if err := n.dispatchTo(subscriber); err != nil {
			n.store.logger.Warn("standing query refresh failed",
				zap.Int64("subscriber_id", subscriber.id),
				zap.Error(err))
		}
	}
}

func (n *queryNotifier) dispatchTo(subscriber *querySubscriber) error {
	n.dispatchMu.Lock()
	defer n.dispatchMu.Unlock()

	n.mu.Lock()
	_, live := n.subscribers[subscriber.id]
	n.mu.Unlock()
	if !live {
		return nil
	}

	records, err := n.store.Query(context.Background(), subscriber.spec)
	if err != nil {
		return err
	}
	subscriber.deliver(records)
	return nil
}
