package database

import (
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	migrationNormalizeLineEndings = "2026-09-14_normalize_document_line_endings"
	migrationPurgeBlankKeys       = "2026-10-02_purge_blank_storage_keys"
)

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

type migration struct {
	name  string
	apply func(*gorm.DB) error
}

// documentMigrations run in order; each one is recorded in the same transaction that applies it.
var documentMigrations = []migration{
	{name: migrationNormalizeLineEndings, apply: normalizeLineEndings},
	{name: migrationPurgeBlankKeys, apply: purgeBlankStorageKeys},
}

func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	var applied []migrationRecord
	if err := db.Find(&applied).Error; err != nil {
		return fmt.Errorf("database.migrations: list applied: %w", err)
	}
	done := make(map[string]struct{}, len(applied))
	for _, record := range applied {
		done[record.Name] = struct{}{}
	}

	for _, pending := range documentMigrations {
		if _, ok := done[pending.name]; ok {
			continue
		}
		err := db.Transaction(func(tx *gorm.DB) error {
			if err := pending.apply(tx); err != nil {
				return err
			}
			return tx.Create(&migrationRecord{Name: pending.name, AppliedAtSeconds: time.Now().UTC().Unix()}).Error
		})
		if err != nil {
			return fmt.Errorf("database.migrations: %s: %w", pending.name, err)
		}
		logger.Info("database migration applied", zap.String("migration", pending.name))
	}
	return nil
}

// normalizeLineEndings rewrites CRLF documents to LF; positions address lines split on "\n" only.
func normalizeLineEndings(db *gorm.DB) error {
	return db.Model(&DocumentSnapshot{}).
		Where("instr(text, char(13)) > 0").
		Update("text", gorm.Expr("replace(replace(text, char(13) || char(10), char(10)), char(13), char(10))")).Error
}

// purgeBlankStorageKeys removes rows the repository can no longer address.
func purgeBlankStorageKeys(db *gorm.DB) error {
	return db.Where("trim(storage_key) = ?", "").Delete(&DocumentSnapshot{}).Error
}
