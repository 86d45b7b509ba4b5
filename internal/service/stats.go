package service

import (
	"context"
	"fmt"
	"time"

	"github.com/kursadbilgin/notifyguard/internal/domain"
	"github.com/kursadbilgin/notifyguard/internal/repository"
	"go.uber.org/zap"
)

const defaultStatsWindow = 24 * time.Hour

// Stats summarizes delivery activity in [Since, Until]. Duplicates, failures
// and retries are separate numbers and never overlap.
type Stats struct {
	TotalSent           int64     `json:"totalSent"`
	TotalFailed         int64     `json:"totalFailed"`
	Pending             int64     `json:"pending"`
	DuplicatesPrevented int64     `json:"duplicatesPrevented"`
	RetryAttempts       int64     `json:"retryAttempts"`
	UniqueRecipients    int64     `json:"uniqueRecipients"`
	Since               time.Time `json:"since"`
	Until               time.Time `json:"until"`
}

// StatsAggregator is the read-only reporting side of the engine.
type StatsAggregator struct {
	attempts repository.AttemptRepository
	dedupLog repository.DedupLogRepository
	logger   *zap.Logger
	now      func() time.Time
}

func NewStatsAggregator(
	attempts repository.AttemptRepository,
	dedupLog repository.DedupLogRepository,
	logger *zap.Logger,
) (*StatsAggregator, error) {
	if attempts == nil {
		return nil, fmt.Errorf("attempt repository is required")
	}
	if dedupLog == nil {
		return nil, fmt.Errorf("dedup log repository is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &StatsAggregator{
		attempts: attempts,
		dedupLog: dedupLog,
		logger:   logger,
		now:      time.Now,
	}, nil
}

// Stats aggregates everything touched within the trailing since duration.
func (s *StatsAggregator) Stats(ctx context.Context, since time.Duration) (Stats, error) {
	if since < 0 {
		return Stats{}, fmt.Errorf("%w: since must not be negative", domain.ErrValidation)
	}
	if since == 0 {
		since = defaultStatsWindow
	}

	until := s.now().UTC()
	from := until.Add(-since)

	totals, err := s.attempts.Totals(ctx, from)
	if err != nil {
		return Stats{}, fmt.Errorf("failed to aggregate send attempts: %w", err)
	}
	duplicates, err := s.dedupLog.SumAttempts(ctx, from)
	if err != nil {
		return Stats{}, fmt.Errorf("failed to aggregate dedup log: %w", err)
	}

	return Stats{
		TotalSent:           totals.Sent,
		TotalFailed:         totals.Failed,
		Pending:             totals.Pending,
		DuplicatesPrevented: duplicates,
		RetryAttempts:       totals.RetryAttempts,
		UniqueRecipients:    totals.UniqueRecipients,
		Since:               from,
		Until:               until,
	}, nil
}

func (s *StatsAggregator) ListAttempts(ctx context.Context, params repository.ListParams) ([]domain.SendAttempt, int64, error) {
	attempts, total, err := s.attempts.List(ctx, params)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list send attempts: %w", err)
	}
	return attempts, total, nil
}

func (s *StatsAggregator) ListDedupLog(ctx context.Context, params repository.ListParams) ([]domain.DedupLogEntry, int64, error) {
	entries, total, err := s.dedupLog.List(ctx, params)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list dedup log: %w", err)
	}
	return entries, total, nil
}
