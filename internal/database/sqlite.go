package database

import (
	"fmt"

	sqlite "github.com/glebarez/sqlite"
	"github.com/roomserve/backend/internal/rooms"
	"github.com/roomserve/backend/internal/versioning"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// OpenSQLite establishes a SQLite connection and performs schema migrations.
// Error translation is enabled so uniqueness violations surface as
// gorm.ErrDuplicatedKey, which the snapshot store relies on for conflict
// detection.
func OpenSQLite(path string, logger *zap.Logger) (*gorm.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{TranslateError: true})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(
		&rooms.Topic{},
		&rooms.Room{},
		&rooms.Message{},
		&rooms.Membership{},
		&rooms.Invitation{},
		&versioning.Version{},
		&migrationRecord{},
	); err != nil {
		return nil, err
	}

	if err := applyMigrations(db, logger); err != nil {
		return nil, err
	}

	if logger != nil {
		logger.Info("database initialized", zap.String("path", path))
	}

	return db, nil
}
