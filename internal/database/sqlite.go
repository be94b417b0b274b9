package database

import (
	"fmt"

	sqlite "github.com/glebarez/sqlite"
	"github.com/tracklabs/toggl-mirror/backend/internal/entries"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// OpenSQLite establishes a SQLite connection and performs schema migrations.
// The pool is pinned to one connection: the database is a single-writer
// mirror and sqlite serializes writers anyway.
func OpenSQLite(path string, logger *zap.Logger) (*gorm.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)

	// Annotations may be created before their entry is mirrored, so the
	// declared cascade constraint stays unenforced.
	if err := db.Exec("PRAGMA foreign_keys = OFF;").Error; err != nil {
		return nil, err
	}
	if err := db.Exec("PRAGMA journal_mode = DELETE;").Error; err != nil {
		return nil, err
	}

	if err := db.AutoMigrate(&entries.TimeEntry{}, &entries.EntryNote{}, &migrationRecord{}); err != nil {
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
