package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/notifyguard/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type DedupLogRepository interface {
	// RecordDuplicate counts one suppressed duplicate against the episode
	// identified by (ContentHash, FirstSentAt) and returns the updated entry.
	RecordDuplicate(ctx context.Context, e *domain.DedupLogEntry) (*domain.DedupLogEntry, error)
	List(ctx context.Context, params ListParams) ([]domain.DedupLogEntry, int64, error)
	SumAttempts(ctx context.Context, since time.Time) (int64, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

var _ DedupLogRepository = (*GormDedupLogRepo)(nil)

type GormDedupLogRepo struct {
	db *gorm.DB
}

func NewGormDedupLogRepo(db *gorm.DB) *GormDedupLogRepo {
	return &GormDedupLogRepo{db: db}
}

func (r *GormDedupLogRepo) RecordDuplicate(ctx context.Context, e *domain.DedupLogEntry) (*domain.DedupLogEntry, error) {
	if e == nil {
		return nil, fmt.Errorf("%w: dedup log entry is required", domain.ErrValidation)
	}

	model := dedupLogEntryModelFromDomain(e)
	if model.ID == "" {
		model.ID = uuid.NewString()
	}
	model.AttemptCount = 1

	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "content_hash"}, {Name: "first_sent_at"}},
			DoUpdates: clause.Assignments(map[string]any{
				"attempt_count":     gorm.Expr("dedup_log_entries.attempt_count + 1"),
				"last_attempted_at": gorm.Expr("excluded.last_attempted_at"),
			}),
		}).
		Create(model).Error
	if err != nil {
		return nil, fmt.Errorf("failed to record duplicate: %w", err)
	}

	var stored DedupLogEntryModel
	err = r.db.WithContext(ctx).
		Where("content_hash = ? AND first_sent_at = ?", model.ContentHash, model.FirstSentAt).
		First(&stored).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load dedup log entry: %w", err)
	}
	return dedupLogEntryModelToDomain(&stored), nil
}

func (r *GormDedupLogRepo) List(ctx context.Context, params ListParams) ([]domain.DedupLogEntry, int64, error) {
	query := r.db.WithContext(ctx).Model(&DedupLogEntryModel{})

	if params.Recipient != "" {
		query = query.Where("recipient = ?", params.Recipient)
	}
	if params.NotificationType != "" {
		query = query.Where("notification_type = ?", params.NotificationType)
	}
	if params.From != nil {
		query = query.Where("last_attempted_at >= ?", dbTime(*params.From))
	}
	if params.To != nil {
		query = query.Where("last_attempted_at <= ?", dbTime(*params.To))
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset, limit := params.pagination()

	var models []DedupLogEntryModel
	err := query.
		Order("last_attempted_at DESC").
		Offset(offset).
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, 0, err
	}

	entries := make([]domain.DedupLogEntry, 0, len(models))
	for i := range models {
		entries = append(entries, *dedupLogEntryModelToDomain(&models[i]))
	}

	return entries, total, nil
}

func (r *GormDedupLogRepo) SumAttempts(ctx context.Context, since time.Time) (int64, error) {
	var total int64
	err := r.db.WithContext(ctx).
		Model(&DedupLogEntryModel{}).
		Select("COALESCE(SUM(attempt_count), 0)").
		Where("last_attempted_at >= ?", dbTime(since)).
		Scan(&total).Error
	if err != nil {
		return 0, err
	}
	return total, nil
}

func (r *GormDedupLogRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("last_attempted_at < ?", dbTime(cutoff)).
		Delete(&DedupLogEntryModel{})
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}
