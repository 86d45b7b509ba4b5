package redis

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/notifyguard/internal/ratelimit"
	goredis "github.com/redis/go-redis/v9"
)

const (
	defaultLimitPerSec = 100
	rateLimitWindow    = time.Second
	rateLimitKeyPrefix = "dedup:ratelimit:"
)

// reserveScript keeps a sliding log of transport calls per bucket. It admits
// the call and returns 0 when the window has room, otherwise it returns the
// milliseconds until the oldest call leaves the window.
//
// KEYS[1] bucket, ARGV[1] now (ms), ARGV[2] window (ms), ARGV[3] limit,
// ARGV[4] member.
var reserveScript = goredis.NewScript(`
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
redis.call("ZREMRANGEBYSCORE", KEYS[1], "-inf", now - window)
if redis.call("ZCARD", KEYS[1]) < tonumber(ARGV[3]) then
  redis.call("ZADD", KEYS[1], now, ARGV[4])
  redis.call("PEXPIRE", KEYS[1], window)
  return 0
end
local oldest = redis.call("ZRANGE", KEYS[1], 0, 0, "WITHSCORES")
local wait = tonumber(oldest[2]) + window - now
if wait < 1 then
  wait = 1
end
return wait
`)

var _ ratelimit.RateLimiter = (*RedisRateLimiter)(nil)

// RedisRateLimiter bounds transport calls per notification type across every
// worker process. The window slides, so a burst straddling a second boundary
// still counts against one budget.
type RedisRateLimiter struct {
	client *goredis.Client
	limit  int
	now    func() time.Time
	sleep  func(ctx context.Context, d time.Duration) error
}

func NewRedisRateLimiter(client *goredis.Client, limitPerSec int) (*RedisRateLimiter, error) {
	return newRedisRateLimiter(client, limitPerSec, time.Now, sleepWithContext)
}

func newRedisRateLimiter(
	client *goredis.Client,
	limit int,
	nowFn func() time.Time,
	sleepFn func(ctx context.Context, d time.Duration) error,
) (*RedisRateLimiter, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if limit <= 0 {
		limit = defaultLimitPerSec
	}
	if nowFn == nil {
		nowFn = time.Now
	}
	if sleepFn == nil {
		sleepFn = sleepWithContext
	}

	return &RedisRateLimiter{
		client: client,
		limit:  limit,
		now:    nowFn,
		sleep:  sleepFn,
	}, nil
}

// Allow admits one call for notificationType if the window has room.
func (r *RedisRateLimiter) Allow(ctx context.Context, notificationType string) (bool, error) {
	wait, err := r.reserve(ctx, notificationType)
	if err != nil {
		return false, err
	}
	return wait == 0, nil
}

// Wait blocks until a call for notificationType is admitted or ctx ends.
func (r *RedisRateLimiter) Wait(ctx context.Context, notificationType string) error {
	for {
		wait, err := r.reserve(ctx, notificationType)
		if err != nil {
			return err
		}
		if wait == 0 {
			return nil
		}
		if err := r.sleep(ctx, wait); err != nil {
			return err
		}
	}
}

func (r *RedisRateLimiter) reserve(ctx context.Context, notificationType string) (time.Duration, error) {
	if r == nil || r.client == nil {
		return 0, fmt.Errorf("rate limiter is not initialized")
	}

	bucket := strings.ToLower(strings.TrimSpace(notificationType))
	if bucket == "" {
		return 0, fmt.Errorf("notification type is required")
	}

	nowMs := r.now().UTC().UnixMilli()
	member := fmt.Sprintf("%d:%s", nowMs, uuid.NewString())

	waitMs, err := reserveScript.Run(
		ctx,
		r.client,
		[]string{rateLimitKeyPrefix + bucket},
		nowMs,
		rateLimitWindow.Milliseconds(),
		r.limit,
		member,
	).Int64()
	if err != nil {
		return 0, fmt.Errorf("failed to evaluate rate limit: %w", err)
	}

	return time.Duration(waitMs) * time.Millisecond, nil
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
