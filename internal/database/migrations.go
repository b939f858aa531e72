package database

import (
	"errors"
	"time"

	"github.com/HYPExMon5ter/GAL-Discord-Bot-sub008/internal/documents"
	"github.com/HYPExMon5ter/GAL-Discord-Bot-sub008/internal/locks"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	migrationDropReleasedLockRows  = "2026-09-02_drop_released_lock_rows"
	migrationBackfillDocumentNames = "2026-09-14_backfill_canvas_document_names"
)

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
		{name: migrationDropReleasedLockRows, apply: dropReleasedLockRows},
		{name: migrationBackfillDocumentNames, apply: backfillDocumentNames},
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
		if err := db.Transaction(migration.apply); err != nil {
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

// dropReleasedLockRows deletes rows with locked=false; lock reads treat every
// stored row as held, so such rows must not exist.
func dropReleasedLockRows(db *gorm.DB) error {
	return db.Where("locked = ?", false).Delete(&locks.Record{}).Error
}

func backfillDocumentNames(db *gorm.DB) error {
	return db.Model(&documents.CanvasDocument{}).
		Where("name = ?", "").
		Update("name", gorm.Expr("canvas_id")).Error
}
