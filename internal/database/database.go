// Package database opens the gorm connection shared by the lock, document,
// and standings stores and keeps its schema current.
package database

import (
	"fmt"
	"strings"

	"github.com/HYPExMon5ter/GAL-Discord-Bot-sub008/internal/documents"
	"github.com/HYPExMon5ter/GAL-Discord-Bot-sub008/internal/locks"
	"github.com/HYPExMon5ter/GAL-Discord-Bot-sub008/internal/series"
	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// Supported drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Options selects the backing database.
type Options struct {
	Driver string
	// Path is the SQLite file.
	Path string
	// DSN is the Postgres connection string.
	DSN string
}

// Open establishes a connection for the configured driver and performs schema
// migrations.
func Open(options Options, logger *zap.Logger) (*gorm.DB, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	driver := strings.ToLower(strings.TrimSpace(options.Driver))
	if driver == "" {
		driver = DriverSQLite
	}

	var dialector gorm.Dialector
	var target string
	switch driver {
	case DriverSQLite:
		if options.Path == "" {
			return nil, fmt.Errorf("database path is required")
		}
		dialector = sqlite.Open(options.Path)
		target = options.Path
	case DriverPostgres:
		if options.DSN == "" {
			return nil, fmt.Errorf("database dsn is required")
		}
		dialector = postgres.Open(options.DSN)
		target = "postgres"
	default:
		return nil, fmt.Errorf("unsupported database driver %q", options.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{})
	if err != nil {
		return nil, err
	}

	if driver == DriverSQLite {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
	}

	if err := Migrate(db, logger); err != nil {
		return nil, err
	}

	logger.Info("database initialized", zap.String("driver", driver), zap.String("target", target))
	return db, nil
}

// OpenSQLite is shorthand for Open with the SQLite driver.
func OpenSQLite(path string, logger *zap.Logger) (*gorm.DB, error) {
	return Open(Options{Driver: DriverSQLite, Path: path}, logger)
}

// Migrate creates the canvas tables and applies pending data migrations.
func Migrate(db *gorm.DB, logger *zap.Logger) error {
	if err := db.AutoMigrate(&locks.Record{}, &documents.CanvasDocument{}, &series.Standing{}, &migrationRecord{}); err != nil {
		return err
	}
	return applyMigrations(db, logger)
}
