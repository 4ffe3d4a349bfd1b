// Package repo persists bridge state with GORM on SQLite: dialogue states,
// account preferences and notification idempotency records.
package repo

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/plugin/opentelemetry/tracing"

	"github.com/tbourn/max-bridge/internal/domain"
)

// Options tunes OpenSQLite.
type Options struct {
	// Tracing registers the GORM OpenTelemetry plugin so every query becomes
	// a span under the caller's context.
	Tracing bool
	// Silent disables GORM's own logger (tests, CLI one-shots).
	Silent bool
}

// pragmas run on every new database handle.
var pragmas = []string{
	"PRAGMA journal_mode=WAL;",
	"PRAGMA synchronous=NORMAL;",
	"PRAGMA foreign_keys=ON;",
	"PRAGMA busy_timeout=5000;",
}

// OpenSQLite opens the database at path, creating it and its parent
// directory when missing. "file:" URIs are passed through untouched.
func OpenSQLite(path string, opts ...Options) (*gorm.DB, error) {
	var o Options
	if len(opts) > 0 {
		o = opts[0]
	}

	if dir := filepath.Dir(path); dir != "." && !strings.HasPrefix(path, "file:") {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("repo: data dir: %w", err)
		}
	}

	gcfg := &gorm.Config{}
	if o.Silent {
		gcfg.Logger = logger.Default.LogMode(logger.Silent)
	}
	db, err := gorm.Open(sqlite.Open(path), gcfg)
	if err != nil {
		return nil, err
	}

	if o.Tracing {
		if err := db.Use(tracing.NewPlugin(tracing.WithoutMetrics())); err != nil {
			return nil, err
		}
	}

	for _, p := range pragmas {
		if err := db.Exec(p).Error; err != nil {
			return nil, fmt.Errorf("repo: %s %w", p, err)
		}
	}

	// The webhook, the drainer and the AMQP consumer share one small pool.
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.SetMaxOpenConns(8)
		sqlDB.SetMaxIdleConns(4)
		sqlDB.SetConnMaxIdleTime(5 * time.Minute)
		sqlDB.SetConnMaxLifetime(time.Hour)
	}

	return db, nil
}

// AutoMigrate creates or updates every table the bridge owns.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&domain.DialogueState{},
		&domain.Preference{},
		&domain.Idempotency{},
	)
}
