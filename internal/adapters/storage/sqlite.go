// Package storage implements the opaque config KV store (ports.ConfigStore)
// and the human-readable audit trail (ports.EventSink) against SQLite via
// GORM: WAL mode, busy-timeout, OpenTelemetry-instrumented queries.
package storage

import (
	"context"
	"time"

	"github.com/skyline-mesh/sentryhop/internal/core/ports"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
	"gorm.io/plugin/opentelemetry/tracing"
)

// openDB opens path with the concurrency pragmas every store here
// shares and wires OpenTelemetry tracing into every query.
func openDB(path string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}
	if err := db.Use(tracing.NewPlugin()); err != nil {
		return nil, err
	}

	// WAL mode allows simultaneous readers and one writer; busy_timeout
	// avoids "database locked" errors under the mesh RX/TX and scan
	// worker goroutines writing concurrently.
	db.Exec("PRAGMA journal_mode=WAL;")
	db.Exec("PRAGMA busy_timeout=5000;")
	db.Exec("PRAGMA synchronous=NORMAL;")

	return db, nil
}

// ConfigModel is the GORM row backing one opaque KV entry (nodeId,
// maclist, allowlist, channels, apSsid, apPass, meshInterval,
// rfPreset, baseline and auto-erase keys).
type ConfigModel struct {
	Key   string `gorm:"primaryKey"`
	Value string
}

// ConfigStore implements ports.ConfigStore against a SQLite-backed KV
// table.
type ConfigStore struct {
	db *gorm.DB
}

// NewConfigStore opens (or creates) the config database at path.
func NewConfigStore(path string) (*ConfigStore, error) {
	db, err := openDB(path)
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&ConfigModel{}); err != nil {
		return nil, err
	}
	return &ConfigStore{db: db}, nil
}

// Get returns the value stored under key, if any.
func (s *ConfigStore) Get(ctx context.Context, key string) (string, bool, error) {
	var row ConfigModel
	err := s.db.WithContext(ctx).Where("key = ?", key).First(&row).Error
	if err == gorm.ErrRecordNotFound {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return row.Value, true, nil
}

// Set upserts key's value.
func (s *ConfigStore) Set(ctx context.Context, key, value string) error {
	row := ConfigModel{Key: key, Value: value}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value"}),
	}).Create(&row).Error
}

// Close releases the underlying database handle.
func (s *ConfigStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

var _ ports.ConfigStore = (*ConfigStore)(nil)

// AuditEventModel is one append-only audit-log row: a human-readable
// event line, one row per event.
type AuditEventModel struct {
	ID        uint   `gorm:"primaryKey;autoIncrement"`
	Category  string `gorm:"index"`
	Message   string
	CreatedAt time.Time `gorm:"index"`
}

// EventSink implements ports.EventSink against a SQLite append-only
// audit table.
type EventSink struct {
	db *gorm.DB
}

// NewEventSink opens (or creates) the audit database at path.
func NewEventSink(path string) (*EventSink, error) {
	db, err := openDB(path)
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&AuditEventModel{}); err != nil {
		return nil, err
	}
	db.Exec("CREATE INDEX IF NOT EXISTS idx_audit_created_at ON audit_event_models(created_at)")
	return &EventSink{db: db}, nil
}

// Record appends one audit event.
func (s *EventSink) Record(ctx context.Context, category, message string) error {
	row := AuditEventModel{Category: category, Message: message, CreatedAt: time.Now()}
	return s.db.WithContext(ctx).Create(&row).Error
}

// Recent returns the most recent n audit events, newest first. Used
// by the status surface for inspection.
func (s *EventSink) Recent(ctx context.Context, n int) ([]AuditEventModel, error) {
	var rows []AuditEventModel
	err := s.db.WithContext(ctx).Order("created_at desc").Limit(n).Find(&rows).Error
	return rows, err
}

// Close releases the underlying database handle.
func (s *EventSink) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

var _ ports.EventSink = (*EventSink)(nil)
