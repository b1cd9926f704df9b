package database

import (
	"errors"
	"time"

	"github.com/roomserve/backend/internal/versioning"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const migrationRepairFirstVersionFull = "2026-08-20_repair_first_version_full"

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
		{name: migrationRepairFirstVersionFull, apply: repairFirstVersionFull},
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

// Version 1 of a room must be a full snapshot or the whole chain is
// unreconstructable. Rows written before the writer enforced this are
// repaired in place: a version 1 payload is always the full text, so
// flipping the flag is safe.
func repairFirstVersionFull(db *gorm.DB) error {
	return db.Model(&versioning.Version{}).
		Where("version_number = 1 AND is_full = ?", false).
		Update("is_full", true).Error
}
