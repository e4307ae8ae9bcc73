package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/lcalzada-xor/mlomgr/internal/core/domain"
	"github.com/lcalzada-xor/mlomgr/internal/core/ports"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
	"gorm.io/plugin/opentelemetry/tracing"
)

// SQLiteAdapter implements ports.EventRepository using GORM and SQLite.
type SQLiteAdapter struct {
	db *gorm.DB
}

// EventModel is the GORM model for journal events.
type EventModel struct {
	ID        string `gorm:"primaryKey"`
	Kind      string `gorm:"index"`
	Subject   string `gorm:"index"`
	LinkID    int
	Detail    string
	Timestamp time.Time `gorm:"index"`
}

func (EventModel) TableName() string { return "mlo_events" }

// NewSQLiteAdapter opens the database at path and migrates the schema.
func NewSQLiteAdapter(path string) (*SQLiteAdapter, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	if err := db.Use(tracing.NewPlugin(tracing.WithoutMetrics())); err != nil {
		return nil, fmt.Errorf("tracing plugin: %w", err)
	}
	return newAdapter(db)
}

func newAdapter(db *gorm.DB) (*SQLiteAdapter, error) {
	if err := db.AutoMigrate(&EventModel{}); err != nil {
		return nil, err
	}
	db.Exec("CREATE INDEX IF NOT EXISTS idx_events_subject_ts ON mlo_events(subject, timestamp)")
	return &SQLiteAdapter{db: db}, nil
}

// SaveEvents inserts a batch in one transaction. Events already stored are
// skipped.
func (a *SQLiteAdapter) SaveEvents(ctx context.Context, events []domain.Event) error {
	if len(events) == 0 {
		return nil
	}
	models := make([]EventModel, len(events))
	for i, ev := range events {
		models[i] = toModel(ev)
	}
	return a.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Clauses(clause.OnConflict{DoNothing: true}).CreateInBatches(models, 100).Error
	})
}

// ListEvents returns up to limit events, newest first.
func (a *SQLiteAdapter) ListEvents(ctx context.Context, limit int) ([]domain.Event, error) {
	var models []EventModel
	if err := a.db.WithContext(ctx).Order("timestamp desc").Limit(limit).Find(&models).Error; err != nil {
		return nil, err
	}
	return toDomain(models), nil
}

// ListSubjectEvents returns the newest events recorded for one subject.
func (a *SQLiteAdapter) ListSubjectEvents(ctx context.Context, subject string, limit int) ([]domain.Event, error) {
	var models []EventModel
	err := a.db.WithContext(ctx).
		Where("subject = ?", subject).
		Order("timestamp desc").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	return toDomain(models), nil
}

// Prune deletes events older than before and reports how many went.
func (a *SQLiteAdapter) Prune(ctx context.Context, before time.Time) (int64, error) {
	res := a.db.WithContext(ctx).Where("timestamp < ?", before).Delete(&EventModel{})
	return res.RowsAffected, res.Error
}

func (a *SQLiteAdapter) Close() error {
	sqlDB, err := a.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func toModel(ev domain.Event) EventModel {
	return EventModel{
		ID:        ev.ID,
		Kind:      string(ev.Kind),
		Subject:   ev.Subject,
		LinkID:    ev.LinkID,
		Detail:    ev.Detail,
		Timestamp: ev.Timestamp,
	}
}

func toDomain(models []EventModel) []domain.Event {
	out := make([]domain.Event, len(models))
	for i, m := range models {
		out[i] = domain.Event{
			ID:        m.ID,
			Kind:      domain.EventKind(m.Kind),
			Subject:   m.Subject,
			LinkID:    m.LinkID,
			Detail:    m.Detail,
			Timestamp: m.Timestamp,
		}
	}
	return out
}

// Ensure interface compliance
var _ ports.EventRepository = (*SQLiteAdapter)(nil)
