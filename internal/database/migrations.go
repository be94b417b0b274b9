package database

import (
	"errors"
	"time"

	"github.com/tracklabs/toggl-mirror/backend/internal/entries"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const migrationBackfillTagArrays = "2025-06-21_backfill_tag_arrays"

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
		{name: migrationBackfillTagArrays, apply: backfillTagArrays},
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

// backfillTagArrays repairs rows mirrored before tag columns carried a
// default, so window queries can decode every tag list as JSON.
func backfillTagArrays(db *gorm.DB) error {
	if err := db.Model(&entries.TimeEntry{}).
		Where("tag_ids IS NULL OR tag_ids = ''").
		Update("tag_ids", "[]").Error; err != nil {
		return err
	}
	return db.Model(&entries.TimeEntry{}).
		Where("tag_names IS NULL OR tag_names = ''").
		Update("tag_names", "[]").Error
}
