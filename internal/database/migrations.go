package database

import (
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

const migrationBackfillRecordOwnerEmail = "2026-07-20_backfill_record_owner_email"

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

type migrationDefinition struct {
	name  string
	apply func(*gorm.DB) error
}

func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	migrations := []migrationDefinition{
		{name: migrationBackfillRecordOwnerEmail, apply: backfillRecordOwnerEmail},
	}

	for _, migration := range migrations {
		var record migrationRecord
		err := db.Where("name = ?", migration.name).Take(&record).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err := migration.apply(db); err != nil {
			return err
		}
		appliedAt := time.Now().UTC().Unix()
		if err := db.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error; err != nil {
			return err
		}
		if logger != nil {
			logger.Info("database migration applied", zap.String("migration", migration.name))
		}
	}
	return nil
}

// backfillRecordOwnerEmail fills the denormalized owner email on records
// written before the column existed.
func backfillRecordOwnerEmail(db *gorm.DB) error {
	return db.Exec(`
		UPDATE records
		SET owner_email = (
			SELECT email FROM idp_accounts WHERE idp_accounts.subject_id = records.owner_id
		)
		WHERE owner_email = ''
		  AND EXISTS (
			SELECT 1 FROM idp_accounts WHERE idp_accounts.subject_id = records.owner_id
		  );
	`).Error
}
