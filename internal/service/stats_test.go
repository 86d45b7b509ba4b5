package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kursadbilgin/notifyguard/internal/domain"
	"github.com/kursadbilgin/notifyguard/internal/repository"
)

func TestNewStatsAggregatorValidation(t *testing.T) {
	t.Parallel()

	if _, err := NewStatsAggregator(nil, &fakeDedupLogRepo{}, nil); err == nil {
		t.Fatal("expected error when attempt repository is nil")
	}
	if _, err := NewStatsAggregator(&fakeAttemptRepo{}, nil, nil); err == nil {
		t.Fatal("expected error when dedup log repository is nil")
	}
}

func TestStatsAggregatorStats(t *testing.T) {
	t.Parallel()

	var totalsSince, dedupSince time.Time
	attempts := &fakeAttemptRepo{
		totalsFn: func(ctx context.Context, since time.Time) (repository.AttemptTotals, error) {
			totalsSince = since
			return repository.AttemptTotals{Sent: 10, Failed: 2, Pending: 1, RetryAttempts: 4, UniqueRecipients: 7}, nil
		},
	}
	dedupLog := &fakeDedupLogRepo{
		sumAttemptsFn: func(ctx context.Context, since time.Time) (int64, error) {
			dedupSince = since
			return 9, nil
		},
	}

	s, err := NewStatsAggregator(attempts, dedupLog, nil)
	if err != nil {
		t.Fatalf("NewStatsAggregator() error = %v", err)
	}
	s.now = func() time.Time { return fixedNow }

	stats, err := s.Stats(context.Background(), 6*time.Hour)
	if err != nil {
		t.Fatalf("Stats() error = %v", err)
	}

	want := Stats{
		TotalSent:           10,
		TotalFailed:         2,
		Pending:             1,
		DuplicatesPrevented: 9,
		RetryAttempts:       4,
		UniqueRecipients:    7,
		Since:               fixedNow.Add(-6 * time.Hour),
		Until:               fixedNow,
	}
	if stats != want {
		t.Fatalf("stats = %+v, want %+v", stats, want)
	}
	if !totalsSince.Equal(want.Since) || !dedupSince.Equal(want.Since) {
		t.Fatalf("since = %s / %s, want %s", totalsSince, dedupSince, want.Since)
	}
}

func TestStatsAggregatorStatsWindow(t *testing.T) {
	t.Parallel()

	s, err := NewStatsAggregator(&fakeAttemptRepo{}, &fakeDedupLogRepo{}, nil)
	if err != nil {
		t.Fatalf("NewStatsAggregator() error = %v", err)
	}
	s.now = func() time.Time { return fixedNow }

	stats, err := s.Stats(context.Background(), 0)
	if err != nil {
		t.Fatalf("Stats() error = %v", err)
	}
	if !stats.Since.Equal(fixedNow.Add(-24 * time.Hour)) {
		t.Fatalf("since = %s, want the 24h default", stats.Since)
	}

	if _, err := s.Stats(context.Background(), -time.Hour); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("error = %v, want ErrValidation", err)
	}
}

func TestStatsAggregatorStatsPropagatesErrors(t *testing.T) {
	t.Parallel()

	attempts := &fakeAttemptRepo{
		totalsFn: func(ctx context.Context, since time.Time) (repository.AttemptTotals, error) {
			return repository.AttemptTotals{}, errors.New("db down")
		},
	}

	s, err := NewStatsAggregator(attempts, &fakeDedupLogRepo{}, nil)
	if err != nil {
		t.Fatalf("NewStatsAggregator() error = %v", err)
	}

	if _, err := s.Stats(context.Background(), time.Hour); err == nil {
		t.Fatal("expected error")
	}
}

func TestStatsAggregatorListings(t *testing.T) {
	t.Parallel()

	sent := domain.AttemptStatusSent
	attempts := &fakeAttemptRepo{
		listFn: func(ctx context.Context, params repository.ListParams) ([]domain.SendAttempt, int64, error) {
			if params.Status == nil || *params.Status != sent {
				t.Fatalf("status filter = %v, want sent", params.Status)
			}
			return []domain.SendAttempt{{ID: "a-1"}}, 1, nil
		},
	}
	dedupLog := &fakeDedupLogRepo{
		listFn: func(ctx context.Context, params repository.ListParams) ([]domain.DedupLogEntry, int64, error) {
			if params.Recipient != "u@x.com" {
				t.Fatalf("recipient filter = %q, want u@x.com", params.Recipient)
			}
			return []domain.DedupLogEntry{{ID: "d-1"}, {ID: "d-2"}}, 2, nil
		},
	}

	s, err := NewStatsAggregator(attempts, dedupLog, nil)
	if err != nil {
		t.Fatalf("NewStatsAggregator() error = %v", err)
	}

	items, total, err := s.ListAttempts(context.Background(), repository.ListParams{Status: &sent})
	if err != nil || total != 1 || len(items) != 1 {
		t.Fatalf("ListAttempts() = %v, %d, %v", items, total, err)
	}

	entries, total, err := s.ListDedupLog(context.Background(), repository.ListParams{Recipient: "u@x.com"})
	if err != nil || total != 2 || len(entries) != 2 {
		t.Fatalf("ListDedupLog() = %v, %d, %v", entries, total, err)
	}
}
