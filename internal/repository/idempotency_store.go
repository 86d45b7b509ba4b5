package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kursadbilgin/notifyguard/internal/domain"
	"github.com/kursadbilgin/notifyguard/internal/idempotency"
	"gorm.io/gorm"
)

// acquireReadBackAttempts bounds how often TryAcquire retries when the holder
// row disappears between the failed upsert and the read-back.
const acquireReadBackAttempts = 3

// Insert the key, or take over a row whose window closed at least the takeover
// grace ago. The WHERE on the conflict branch makes the whole decision a single
// statement.
const acquireSQL = `INSERT INTO idempotency_keys (key, created_at, expires_at) VALUES (?, ?, ?)
ON CONFLICT (key) DO UPDATE SET created_at = excluded.created_at, expires_at = excluded.expires_at
WHERE idempotency_keys.expires_at <= ?`

var (
	_ idempotency.Store     = (*GormIdempotencyStore)(nil)
	_ idempotency.Inspector = (*GormIdempotencyStore)(nil)
)

type GormIdempotencyStore struct {
	db  *gorm.DB
	now func() time.Time
	// takeoverGrace is how long past expires_at a row stays unclaimable, so a
	// worker whose clock runs ahead cannot take over a key its peers still
	// consider live.
	takeoverGrace time.Duration
}

func NewGormIdempotencyStore(db *gorm.DB) *GormIdempotencyStore {
	return &GormIdempotencyStore{db: db, now: time.Now}
}

// WithTakeoverGrace sets the clock skew tolerated between workers sharing the
// database. Negative values are treated as zero.
func (s *GormIdempotencyStore) WithTakeoverGrace(grace time.Duration) *GormIdempotencyStore {
	s.takeoverGrace = max(grace, 0)
	return s
}

// WithClock replaces the store's time source.
func (s *GormIdempotencyStore) WithClock(now func() time.Time) *GormIdempotencyStore {
	if now != nil {
		s.now = now
	}
	return s
}

func (s *GormIdempotencyStore) TryAcquire(ctx context.Context, key string, window time.Duration) (idempotency.AcquireResult, error) {
	if key == "" {
		return idempotency.AcquireResult{}, fmt.Errorf("%w: idempotency key is required", domain.ErrValidation)
	}
	if window <= 0 {
		return idempotency.AcquireResult{}, fmt.Errorf("%w: window must be positive", domain.ErrValidation)
	}

	for i := 0; i < acquireReadBackAttempts; i++ {
		now := dbTime(s.now())
		expiresAt := now.Add(window)

		result := s.db.WithContext(ctx).Exec(acquireSQL, key, now, expiresAt, now.Add(-s.takeoverGrace))
		if result.Error != nil {
			return idempotency.AcquireResult{}, fmt.Errorf("failed to acquire idempotency key: %w", result.Error)
		}
		if result.RowsAffected == 1 {
			return idempotency.AcquireResult{Acquired: true, CreatedAt: now, ExpiresAt: expiresAt}, nil
		}

		holder, err := s.get(ctx, key)
		if errors.Is(err, domain.ErrNotFound) {
			continue
		}
		if err != nil {
			return idempotency.AcquireResult{}, err
		}
		return idempotency.AcquireResult{CreatedAt: holder.CreatedAt, ExpiresAt: holder.ExpiresAt}, nil
	}

	return idempotency.AcquireResult{}, fmt.Errorf("failed to acquire idempotency key: holder vanished %d times", acquireReadBackAttempts)
}

func (s *GormIdempotencyStore) IsLive(ctx context.Context, key string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).
		Model(&IdempotencyKeyModel{}).
		Where("key = ? AND expires_at > ?", key, dbTime(s.now())).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("failed to check idempotency key: %w", err)
	}
	return count > 0, nil
}

// Get returns the stored key whether or not it is still live.
func (s *GormIdempotencyStore) Get(ctx context.Context, key string) (*domain.IdempotencyKey, error) {
	return s.get(ctx, key)
}

func (s *GormIdempotencyStore) Release(ctx context.Context, key string) error {
	err := s.db.WithContext(ctx).
		Where("key = ?", key).
		Delete(&IdempotencyKeyModel{}).Error
	if err != nil {
		return fmt.Errorf("failed to release idempotency key: %w", err)
	}
	return nil
}

func (s *GormIdempotencyStore) ExpireOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result := s.db.WithContext(ctx).
		Where("expires_at < ?", dbTime(cutoff)).
		Delete(&IdempotencyKeyModel{})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to expire idempotency keys: %w", result.Error)
	}
	return result.RowsAffected, nil
}

func (s *GormIdempotencyStore) get(ctx context.Context, key string) (*domain.IdempotencyKey, error) {
	var model IdempotencyKeyModel
	err := s.db.WithContext(ctx).First(&model, "key = ?", key).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load idempotency key: %w", err)
	}
	return idempotencyKeyModelToDomain(&model), nil
}
