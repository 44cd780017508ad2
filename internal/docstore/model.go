package docstore

import (
	"time"

	"github.com/google/uuid"
)

// Record is a user-authored item. The store assigns ID and CreatedAt; records
// are never updated in place.
type Record struct {
	ID         string    `gorm:"column:record_id;primaryKey;size:190;not null"`
	OwnerID    string    `gorm:"column:owner_id;size:190;not null;index:idx_records_owner_created,priority:1"`
	OwnerEmail string    `gorm:"column:owner_email;size:320;not null;default:''"`
	Title      string    `gorm:"column:title;size:512;not null"`
	Body       string    `gorm:"column:body;type:text;not null"`
	CreatedAt  time.Time `gorm:"column:created_at;not null;index:idx_records_owner_created,priority:2"`
}

// TableName provides the explicit table binding for GORM.
func (Record) TableName() string {
	return "records"
}

// IDProvider issues identifiers for new records.
type IDProvider interface {
	NewID() (string, error)
}

type uuidProvider struct{}

// NewUUIDProvider constructs an IDProvider that issues UUIDv7 identifiers.
func NewUUIDProvider() IDProvider {
	return &uuidProvider{}
}

func (p *uuidProvider) NewID() (string, error) {
	value, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return value.String(), nil
}
