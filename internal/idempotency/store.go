// Package idempotency defines the durable "has this been accepted" store.
//
// A key is the content hash of a notification. Holding a live key means a
// send for that content is in flight or already done, so identical requests
// must be suppressed until the key expires or is released.
package idempotency

import (
	"context"
	"time"

	"github.com/kursadbilgin/notifyguard/internal/domain"
)

// AcquireResult describes the outcome of TryAcquire. CreatedAt and ExpiresAt
// always describe the current holder: the caller itself when Acquired is
// true, the earlier winner otherwise.
type AcquireResult struct {
	Acquired  bool
	CreatedAt time.Time
	ExpiresAt time.Time
}

// Store must implement TryAcquire as a single atomic conditional write. Two
// callers racing on the same key can never both observe Acquired=true while
// the key is live.
type Store interface {
	TryAcquire(ctx context.Context, key string, window time.Duration) (AcquireResult, error)
	IsLive(ctx context.Context, key string) (bool, error)
	Release(ctx context.Context, key string) error
	// ExpireOlderThan deletes keys whose expiry is strictly before cutoff and
	// returns how many were removed.
	ExpireOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// Inspector is implemented by stores that can report the current holder of a
// key, live or not.
type Inspector interface {
	Get(ctx context.Context, key string) (*domain.IdempotencyKey, error)
}
