package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/kursadbilgin/notifyguard/internal/domain"
	"github.com/kursadbilgin/notifyguard/internal/idempotency"
	goredis "github.com/redis/go-redis/v9"
)

// All keys share the {idem} hash tag so the scripts stay on one cluster slot.
const (
	defaultKeyPrefix = "dedup:{idem}:key:"
	defaultIndexKey  = "dedup:{idem}:index"
)

// Values are "<createdAtMicros>:<expiresAtMicros>". The index sorted set
// scores each hash by its expiry so ExpireOlderThan can find stale entries
// without SCAN.
var acquireScript = goredis.NewScript(`
local ok = redis.call("SET", KEYS[1], ARGV[1], "NX", "PX", ARGV[2])
if ok then
  redis.call("ZADD", KEYS[2], ARGV[3], ARGV[4])
  return {1, ARGV[1]}
end
return {0, redis.call("GET", KEYS[1])}
`)

var releaseScript = goredis.NewScript(`
redis.call("DEL", KEYS[1])
redis.call("ZREM", KEYS[2], ARGV[1])
return 1
`)

var expireScript = goredis.NewScript(`
local cutoff = tonumber(ARGV[1])
local members = redis.call("ZRANGEBYSCORE", KEYS[1], "-inf", "(" .. ARGV[1])
local removed = 0
for _, member in ipairs(members) do
  local key = ARGV[2] .. member
  local value = redis.call("GET", key)
  if value then
    local sep = string.find(value, ":", 1, true)
    if sep and tonumber(string.sub(value, sep + 1)) < cutoff then
      redis.call("DEL", key)
    end
  end
  redis.call("ZREM", KEYS[1], member)
  removed = removed + 1
end
return removed
`)

var (
	_ idempotency.Store     = (*RedisIdempotencyStore)(nil)
	_ idempotency.Inspector = (*RedisIdempotencyStore)(nil)
)

// RedisIdempotencyStore keeps idempotency keys as Redis strings with a TTL
// equal to the suppression window.
type RedisIdempotencyStore struct {
	client    *goredis.Client
	keyPrefix string
	indexKey  string
	now       func() time.Time
}

func NewRedisIdempotencyStore(client *goredis.Client) (*RedisIdempotencyStore, error) {
	return newRedisIdempotencyStore(client, time.Now)
}

func newRedisIdempotencyStore(client *goredis.Client, nowFn func() time.Time) (*RedisIdempotencyStore, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if nowFn == nil {
		nowFn = time.Now
	}

	return &RedisIdempotencyStore{
		client:    client,
		keyPrefix: defaultKeyPrefix,
		indexKey:  defaultIndexKey,
		now:       nowFn,
	}, nil
}

func (s *RedisIdempotencyStore) TryAcquire(ctx context.Context, key string, window time.Duration) (idempotency.AcquireResult, error) {
	if key == "" {
		return idempotency.AcquireResult{}, fmt.Errorf("%w: idempotency key is required", domain.ErrValidation)
	}
	if window < time.Millisecond {
		return idempotency.AcquireResult{}, fmt.Errorf("%w: window must be at least 1ms", domain.ErrValidation)
	}

	now := s.now().UTC().Truncate(time.Microsecond)
	expiresAt := now.Add(window)
	value := encodeHolder(now, expiresAt)

	res, err := acquireScript.Run(ctx, s.client,
		[]string{s.keyPrefix + key, s.indexKey},
		value, window.Milliseconds(), expiresAt.UnixMicro(), key,
	).Slice()
	if err != nil {
		return idempotency.AcquireResult{}, fmt.Errorf("failed to acquire idempotency key: %w", err)
	}
	if len(res) != 2 {
		return idempotency.AcquireResult{}, fmt.Errorf("failed to acquire idempotency key: unexpected reply %v", res)
	}

	acquired, _ := res[0].(int64)
	holder, _ := res[1].(string)
	createdAt, holderExpiresAt, err := decodeHolder(holder)
	if err != nil {
		return idempotency.AcquireResult{}, fmt.Errorf("failed to acquire idempotency key: %w", err)
	}

	return idempotency.AcquireResult{
		Acquired:  acquired == 1,
		CreatedAt: createdAt,
		ExpiresAt: holderExpiresAt,
	}, nil
}

func (s *RedisIdempotencyStore) IsLive(ctx context.Context, key string) (bool, error) {
	n, err := s.client.Exists(ctx, s.keyPrefix+key).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check idempotency key: %w", err)
	}
	return n > 0, nil
}

func (s *RedisIdempotencyStore) Get(ctx context.Context, key string) (*domain.IdempotencyKey, error) {
	value, err := s.client.Get(ctx, s.keyPrefix+key).Result()
	if errors.Is(err, goredis.Nil) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load idempotency key: %w", err)
	}

	createdAt, expiresAt, err := decodeHolder(value)
	if err != nil {
		return nil, err
	}
	return &domain.IdempotencyKey{Key: key, CreatedAt: createdAt, ExpiresAt: expiresAt}, nil
}

func (s *RedisIdempotencyStore) Release(ctx context.Context, key string) error {
	if err := releaseScript.Run(ctx, s.client, []string{s.keyPrefix + key, s.indexKey}, key).Err(); err != nil {
		return fmt.Errorf("failed to release idempotency key: %w", err)
	}
	return nil
}

// ExpireOlderThan prunes index entries whose window closed before cutoff.
// Redis has normally dropped the key itself already through its TTL.
func (s *RedisIdempotencyStore) ExpireOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	n, err := expireScript.Run(ctx, s.client,
		[]string{s.indexKey},
		cutoff.UTC().UnixMicro(), s.keyPrefix,
	).Int64()
	if err != nil {
		return 0, fmt.Errorf("failed to expire idempotency keys: %w", err)
	}
	return n, nil
}

func encodeHolder(createdAt, expiresAt time.Time) string {
	return strconv.FormatInt(createdAt.UnixMicro(), 10) + ":" + strconv.FormatInt(expiresAt.UnixMicro(), 10)
}

func decodeHolder(value string) (time.Time, time.Time, error) {
	created, expires, ok := strings.Cut(value, ":")
	if !ok {
		return time.Time{}, time.Time{}, fmt.Errorf("malformed idempotency value %q", value)
	}
	createdMicros, err := strconv.ParseInt(created, 10, 64)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("malformed idempotency value %q: %w", value, err)
	}
	expiresMicros, err := strconv.ParseInt(expires, 10, 64)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("malformed idempotency value %q: %w", value, err)
	}
	return time.UnixMicro(createdMicros).UTC(), time.UnixMicro(expiresMicros).UTC(), nil
}
