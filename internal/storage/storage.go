// Package storage persists what outlives a single conversation view: the
// session journal in PostgreSQL and the counterpart profile cache in Redis.
package storage

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"devchat/client/internal/models"
	"devchat/client/internal/session"
)

// Storage is the session journal plus the queries the adapters read it with.
type Storage interface {
	session.Journal
	RecentSessions(ctx context.Context, localUserID string, limit int) ([]models.SessionRecord, error)
}

// Service is the gorm-backed Storage.
type Service struct {
	DB *gorm.DB
}

// NewStorageService wraps an open database.
func NewStorageService(db *gorm.DB) *Service {
	return &Service{DB: db}
}

// Connect opens PostgreSQL and migrates the journal table. gorm's own logging
// goes through logger at warn level.
func Connect(dsn string, logger zerolog.Logger) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormlogger.New(&logger, gormlogger.Config{
			SlowThreshold:             200 * time.Millisecond,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
		}),
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to connect postgres")
	}

	if err := db.AutoMigrate(&models.SessionRecord{}); err != nil {
		return nil, errors.Wrap(err, "failed to run migrations")
	}
	return db, nil
}

// Begin inserts the record of a view that just opened.
func (s *Service) Begin(ctx context.Context, rec *models.SessionRecord) error {
	if err := createSession(s.DB.WithContext(ctx), rec).Error; err != nil {
		return errors.Wrapf(err, "journal view %s", rec.ViewID)
	}
	return nil
}

// Finish stores the final counters of a closed view.
func (s *Service) Finish(ctx context.Context, rec *models.SessionRecord) error {
	res := finishSession(s.DB.WithContext(ctx), rec)
	if res.Error != nil {
		return errors.Wrapf(res.Error, "finish view %s", rec.ViewID)
	}
	if res.RowsAffected == 0 {
		return errors.Errorf("finish view %s: no journal entry", rec.ViewID)
	}
	return nil
}

// RecentSessions lists the newest views of a user.
func (s *Service) RecentSessions(ctx context.Context, localUserID string, limit int) ([]models.SessionRecord, error) {
	var out []models.SessionRecord
	if err := recentSessions(s.DB.WithContext(ctx), localUserID, limit).Find(&out).Error; err != nil {
		return nil, errors.Wrap(err, "list sessions")
	}
	return out, nil
}

func createSession(tx *gorm.DB, rec *models.SessionRecord) *gorm.DB {
	return tx.Create(rec)
}

func finishSession(tx *gorm.DB, rec *models.SessionRecord) *gorm.DB {
	return tx.Model(&models.SessionRecord{}).
		Where("view_id = ?", rec.ViewID).
		Updates(map[string]interface{}{
			"history_size":  rec.HistorySize,
			"live_messages": rec.LiveMessages,
			"failures":      rec.Failures,
			"closed_at":     rec.ClosedAt,
		})
}

func recentSessions(tx *gorm.DB, localUserID string, limit int) *gorm.DB {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	return tx.Model(&models.SessionRecord{}).
		Where("local_user_id = ?", localUserID).
		Order("opened_at DESC").
		Limit(limit)
}

var _ Storage = (*Service)(nil)
