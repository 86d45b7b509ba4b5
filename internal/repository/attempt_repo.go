package repository

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/kursadbilgin/notifyguard/internal/domain"
	"gorm.io/gorm"
)

const (
	defaultPageSize = 50
	maxPageSize     = 100
)

// ListParams filters ledger and dedup log listings. Zero values mean no filter.
type ListParams struct {
	Status           *domain.AttemptStatus
	Recipient        string
	NotificationType string
	From             *time.Time
	To               *time.Time
	Page             int
	PageSize         int
}

func (p ListParams) pagination() (offset, limit int) {
	page := max(p.Page, 1)
	pageSize := p.PageSize
	if pageSize < 1 {
		pageSize = defaultPageSize
	}
	pageSize = min(pageSize, maxPageSize)
	return (page - 1) * pageSize, pageSize
}

// AttemptTotals is the raw aggregate over send attempts touched since a cutoff.
type AttemptTotals struct {
	Sent             int64 `gorm:"column:sent"`
	Failed           int64 `gorm:"column:failed"`
	Pending          int64 `gorm:"column:pending"`
	RetryAttempts    int64 `gorm:"column:retry_attempts"`
	UniqueRecipients int64 `gorm:"column:unique_recipients"`
}

type AttemptRepository interface {
	Create(ctx context.Context, a *domain.SendAttempt) error
	GetByID(ctx context.Context, id string) (*domain.SendAttempt, error)
	MarkSent(ctx context.Context, id string, at time.Time) error
	// ScheduleRetry bumps attempt_count on the same row and records the last error.
	ScheduleRetry(ctx context.Context, id string, errMsg string, at time.Time) error
	MarkFailed(ctx context.Context, id string, errMsg string, at time.Time) error
	List(ctx context.Context, params ListParams) ([]domain.SendAttempt, int64, error)
	Totals(ctx context.Context, since time.Time) (AttemptTotals, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

var _ AttemptRepository = (*GormAttemptRepo)(nil)

type GormAttemptRepo struct {
	db *gorm.DB
}

func NewGormAttemptRepo(db *gorm.DB) *GormAttemptRepo {
	return &GormAttemptRepo{db: db}
}

func (r *GormAttemptRepo) Create(ctx context.Context, a *domain.SendAttempt) error {
	model := sendAttemptModelFromDomain(a)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		if isUniqueViolationError(err) {
			return domain.ErrConflict
		}
		return err
	}
	if a != nil {
		*a = *sendAttemptModelToDomain(model)
	}
	return nil
}

func (r *GormAttemptRepo) GetByID(ctx context.Context, id string) (*domain.SendAttempt, error) {
	var model SendAttemptModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return sendAttemptModelToDomain(&model), nil
}

func (r *GormAttemptRepo) MarkSent(ctx context.Context, id string, at time.Time) error {
	return r.update(ctx, id, map[string]any{
		"status":        domain.AttemptStatusSent,
		"error_message": nil,
		"updated_at":    dbTime(at),
	})
}

func (r *GormAttemptRepo) ScheduleRetry(ctx context.Context, id string, errMsg string, at time.Time) error {
	return r.update(ctx, id, map[string]any{
		"status":        domain.AttemptStatusQueued,
		"error_message": errMsg,
		"attempt_count": gorm.Expr("attempt_count + 1"),
		"updated_at":    dbTime(at),
	})
}

func (r *GormAttemptRepo) MarkFailed(ctx context.Context, id string, errMsg string, at time.Time) error {
	return r.update(ctx, id, map[string]any{
		"status":        domain.AttemptStatusFailed,
		"error_message": errMsg,
		"updated_at":    dbTime(at),
	})
}

func (r *GormAttemptRepo) update(ctx context.Context, id string, values map[string]any) error {
	result := r.db.WithContext(ctx).
		Model(&SendAttemptModel{}).
		Where("id = ?", id).
		Updates(values)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *GormAttemptRepo) List(ctx context.Context, params ListParams) ([]domain.SendAttempt, int64, error) {
	query := r.db.WithContext(ctx).Model(&SendAttemptModel{})

	if params.Status != nil {
		query = query.Where("status = ?", *params.Status)
	}
	if params.Recipient != "" {
		query = query.Where("recipient = ?", params.Recipient)
	}
	if params.NotificationType != "" {
		query = query.Where("notification_type = ?", params.NotificationType)
	}
	if params.From != nil {
		query = query.Where("updated_at >= ?", dbTime(*params.From))
	}
	if params.To != nil {
		query = query.Where("updated_at <= ?", dbTime(*params.To))
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset, limit := params.pagination()

	var models []SendAttemptModel
	err := query.
		Order("updated_at DESC").
		Offset(offset).
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, 0, err
	}

	attempts := make([]domain.SendAttempt, 0, len(models))
	for i := range models {
		attempts = append(attempts, *sendAttemptModelToDomain(&models[i]))
	}

	return attempts, total, nil
}

func (r *GormAttemptRepo) Totals(ctx context.Context, since time.Time) (AttemptTotals, error) {
	var totals AttemptTotals
	err := r.db.WithContext(ctx).
		Model(&SendAttemptModel{}).
		Select(`COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) AS sent,
COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) AS failed,
COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) AS pending,
COALESCE(SUM(attempt_count - 1), 0) AS retry_attempts,
COUNT(DISTINCT recipient) AS unique_recipients`,
			domain.AttemptStatusSent, domain.AttemptStatusFailed, domain.AttemptStatusQueued).
		Where("updated_at >= ?", dbTime(since)).
		Scan(&totals).Error
	if err != nil {
		return AttemptTotals{}, err
	}
	return totals, nil
}

func (r *GormAttemptRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("updated_at < ?", dbTime(cutoff)).
		Delete(&SendAttemptModel{})
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

func isUniqueViolationError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}

	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "duplicate key") || strings.Contains(msg, "unique constraint")
}
