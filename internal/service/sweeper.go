package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kursadbilgin/notifyguard/internal/idempotency"
	"github.com/kursadbilgin/notifyguard/internal/observability"
	"github.com/kursadbilgin/notifyguard/internal/repository"
	"go.uber.org/zap"
)

const (
	defaultSweepInterval = 15 * time.Minute
	defaultRetention     = 30 * 24 * time.Hour
)

// RetentionPolicy is evaluated at Now: keys expired before Now are dropped,
// ledger and dedup log rows untouched for longer than Retention are dropped.
type RetentionPolicy struct {
	Now       time.Time
	Retention time.Duration
}

type SweepResult struct {
	DeletedKeys     int64 `json:"deletedKeys"`
	DeletedAttempts int64 `json:"deletedAttempts"`
	DeletedLogs     int64 `json:"deletedLogs"`
}

// CleanupSweeper removes expired idempotency keys and aged-out history.
type CleanupSweeper struct {
	store     idempotency.Store
	attempts  repository.AttemptRepository
	dedupLog  repository.DedupLogRepository
	retention time.Duration
	interval  time.Duration
	logger    *zap.Logger
	metrics   *observability.Metrics
	now       func() time.Time
}

func NewCleanupSweeper(
	store idempotency.Store,
	attempts repository.AttemptRepository,
	dedupLog repository.DedupLogRepository,
	retention time.Duration,
	interval time.Duration,
	logger *zap.Logger,
) (*CleanupSweeper, error) {
	if store == nil {
		return nil, fmt.Errorf("idempotency store is required")
	}
	if attempts == nil {
		return nil, fmt.Errorf("attempt repository is required")
	}
	if dedupLog == nil {
		return nil, fmt.Errorf("dedup log repository is required")
	}
	if retention <= 0 {
		retention = defaultRetention
	}
	if interval <= 0 {
		interval = defaultSweepInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &CleanupSweeper{
		store:     store,
		attempts:  attempts,
		dedupLog:  dedupLog,
		retention: retention,
		interval:  interval,
		logger:    logger,
		now:       time.Now,
	}, nil
}

func (s *CleanupSweeper) SetMetrics(metrics *observability.Metrics) {
	if s == nil {
		return
	}
	s.metrics = metrics
}

// Policy returns the sweeper's configured policy evaluated at the current time.
func (s *CleanupSweeper) Policy() RetentionPolicy {
	return RetentionPolicy{Now: s.now(), Retention: s.retention}
}

// Sweep runs every deletion even when an earlier one fails and reports the
// counts of the ones that succeeded.
func (s *CleanupSweeper) Sweep(ctx context.Context, policy RetentionPolicy) (SweepResult, error) {
	if policy.Now.IsZero() {
		policy.Now = s.now()
	}
	if policy.Retention <= 0 {
		policy.Retention = s.retention
	}
	historyCutoff := policy.Now.Add(-policy.Retention)

	var (
		result SweepResult
		errs   []error
		err    error
	)

	if result.DeletedKeys, err = s.store.ExpireOlderThan(ctx, policy.Now); err != nil {
		errs = append(errs, fmt.Errorf("failed to sweep idempotency keys: %w", err))
	}
	if result.DeletedAttempts, err = s.attempts.DeleteOlderThan(ctx, historyCutoff); err != nil {
		errs = append(errs, fmt.Errorf("failed to sweep send attempts: %w", err))
	}
	if result.DeletedLogs, err = s.dedupLog.DeleteOlderThan(ctx, historyCutoff); err != nil {
		errs = append(errs, fmt.Errorf("failed to sweep dedup log: %w", err))
	}

	s.metrics.AddSweepDeleted("idempotency_keys", result.DeletedKeys)
	s.metrics.AddSweepDeleted("send_attempts", result.DeletedAttempts)
	s.metrics.AddSweepDeleted("dedup_log_entries", result.DeletedLogs)

	s.logger.Info("cleanup sweep finished",
		zap.Int64("deletedKeys", result.DeletedKeys),
		zap.Int64("deletedAttempts", result.DeletedAttempts),
		zap.Int64("deletedLogs", result.DeletedLogs),
		zap.Time("historyCutoff", historyCutoff),
	)

	return result, errors.Join(errs...)
}

func (s *CleanupSweeper) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	if _, err := s.Sweep(ctx, s.Policy()); err != nil && ctx.Err() == nil {
		s.logger.Error("cleanup sweeper initial sweep failed", zap.Error(err))
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := s.Sweep(ctx, s.Policy()); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				s.logger.Error("cleanup sweep failed", zap.Error(err))
			}
		}
	}
}
