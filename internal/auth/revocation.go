package auth

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var errMissingRevocationDatabase = errors.New("auth: revocation store requires a database handle")

// RevokedSession records an individually revoked session artifact. Rows can
// be pruned once the artifact would have expired anyway.
type RevokedSession struct {
	TokenID   string    `gorm:"column:token_id;primaryKey;size:190;not null"`
	Subject   string    `gorm:"column:subject;size:190;not null;index"`
	RevokedAt time.Time `gorm:"column:revoked_at;not null"`
	ExpiresAt time.Time `gorm:"column:expires_at;not null;index"`
}

// TableName exposes the table backing revoked sessions.
func (RevokedSession) TableName() string {
	return "revoked_sessions"
}

// RevocationStore persists revoked session token ids.
type RevocationStore struct {
	db    *gorm.DB
	clock func() time.Time
}

// NewRevocationStore constructs the store.
func NewRevocationStore(db *gorm.DB, clock func() time.Time) (*RevocationStore, error) {
	if db == nil {
		return nil, errMissingRevocationDatabase
	}
	if clock == nil {
		clock = time.Now
	}
	return &RevocationStore{db: db, clock: clock}, nil
}

// Revoke marks a session token id as revoked. Revoking the same id twice is
// a no-op.
func (s *RevocationStore) Revoke(ctx context.Context, tokenID, subject string, expiresAt time.Time) error {
	if tokenID == "" {
		return nil
	}
	record := RevokedSession{
		TokenID:   tokenID,
		Subject:   subject,
		RevokedAt: s.clock().UTC(),
		ExpiresAt: expiresAt.UTC(),
	}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&record).Error
}

// IsRevoked reports whether the token id has been revoked.
func (s *RevocationStore) IsRevoked(ctx context.Context, tokenID string) (bool, error) {
	var record RevokedSession
	err := s.db.WithContext(ctx).Where("token_id = ?", tokenID).Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// PruneExpired removes revocations whose artifacts have expired on their own.
func (s *RevocationStore) PruneExpired(ctx context.Context) error {
	return s.db.WithContext(ctx).
		Where("expires_at < ?", s.clock().UTC()).
		Delete(&RevokedSession{}).Error
}
