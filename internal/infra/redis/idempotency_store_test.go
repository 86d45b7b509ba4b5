package redis

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/kursadbilgin/notifyguard/internal/domain"
)

func TestRedisIdempotencyStoreTryAcquire(t *testing.T) {
	t.Parallel()

	mr, rdb := newTestRedis(t)

	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	store, err := newRedisIdempotencyStore(rdb, func() time.Time { return now })
	if err != nil {
		t.Fatalf("newRedisIdempotencyStore() error = %v", err)
	}
	ctx := context.Background()

	first, err := store.TryAcquire(ctx, "hash-1", time.Hour)
	if err != nil {
		t.Fatalf("TryAcquire() error = %v", err)
	}
	if !first.Acquired || !first.ExpiresAt.Equal(now.Add(time.Hour)) {
		t.Fatalf("TryAcquire() = %+v, want acquired until %v", first, now.Add(time.Hour))
	}

	now = now.Add(10 * time.Minute)
	second, err := store.TryAcquire(ctx, "hash-1", time.Hour)
	if err != nil {
		t.Fatalf("TryAcquire() error = %v", err)
	}
	if second.Acquired {
		t.Fatal("second TryAcquire() should lose")
	}
	if !second.CreatedAt.Equal(first.CreatedAt) || !second.ExpiresAt.Equal(first.ExpiresAt) {
		t.Fatalf("loser saw %+v, want holder %+v", second, first)
	}

	if ttl := mr.TTL(defaultKeyPrefix + "hash-1"); ttl != time.Hour {
		t.Fatalf("TTL = %v, want 1h", ttl)
	}

	mr.FastForward(time.Hour)
	now = now.Add(50 * time.Minute)
	third, err := store.TryAcquire(ctx, "hash-1", time.Hour)
	if err != nil {
		t.Fatalf("TryAcquire() error = %v", err)
	}
	if !third.Acquired {
		t.Fatal("TryAcquire() after expiry should acquire")
	}
}

func TestRedisIdempotencyStoreConcurrentAcquire(t *testing.T) {
	t.Parallel()

	_, rdb := newTestRedis(t)
	store, err := NewRedisIdempotencyStore(rdb)
	if err != nil {
		t.Fatalf("NewRedisIdempotencyStore() error = %v", err)
	}

	const callers = 25
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		acquired int
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := store.TryAcquire(context.Background(), "same", time.Minute)
			if err != nil {
				t.Errorf("TryAcquire() error = %v", err)
				return
			}
			if res.Acquired {
				mu.Lock()
				acquired++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if acquired != 1 {
		t.Fatalf("acquired = %d, want 1", acquired)
	}
}

func TestRedisIdempotencyStoreReleaseAndGet(t *testing.T) {
	t.Parallel()

	mr, rdb := newTestRedis(t)
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	store, err := newRedisIdempotencyStore(rdb, func() time.Time { return now })
	if err != nil {
		t.Fatalf("newRedisIdempotencyStore() error = %v", err)
	}
	ctx := context.Background()

	if _, err := store.TryAcquire(ctx, "k", time.Minute); err != nil {
		t.Fatalf("TryAcquire() error = %v", err)
	}

	got, err := store.Get(ctx, "k")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if !got.CreatedAt.Equal(now) || !got.ExpiresAt.Equal(now.Add(time.Minute)) {
		t.Fatalf("Get() = %+v", got)
	}

	live, err := store.IsLive(ctx, "k")
	if err != nil || !live {
		t.Fatalf("IsLive() = %v, %v; want true", live, err)
	}

	if err := store.Release(ctx, "k"); err != nil {
		t.Fatalf("Release() error = %v", err)
	}
	if mr.Exists(defaultKeyPrefix + "k") {
		t.Fatal("key should be deleted after Release()")
	}
	if members, _ := mr.ZMembers(defaultIndexKey); len(members) != 0 {
		t.Fatalf("index members = %v, want none", members)
	}
	if _, err := store.Get(ctx, "k"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("Get() after release error = %v, want ErrNotFound", err)
	}
}

func TestRedisIdempotencyStoreExpireOlderThan(t *testing.T) {
	t.Parallel()

	mr, rdb := newTestRedis(t)
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	store, err := newRedisIdempotencyStore(rdb, func() time.Time { return now })
	if err != nil {
		t.Fatalf("newRedisIdempotencyStore() error = %v", err)
	}
	ctx := context.Background()

	if _, err := store.TryAcquire(ctx, "short", time.Minute); err != nil {
		t.Fatalf("TryAcquire(short) error = %v", err)
	}
	if _, err := store.TryAcquire(ctx, "long", time.Hour); err != nil {
		t.Fatalf("TryAcquire(long) error = %v", err)
	}

	mr.FastForward(2 * time.Minute)

	deleted, err := store.ExpireOlderThan(ctx, now.Add(2*time.Minute))
	if err != nil {
		t.Fatalf("ExpireOlderThan() error = %v", err)
	}
	if deleted != 1 {
		t.Fatalf("deleted = %d, want 1", deleted)
	}

	deleted, err = store.ExpireOlderThan(ctx, now.Add(2*time.Minute))
	if err != nil {
		t.Fatalf("ExpireOlderThan() error = %v", err)
	}
	if deleted != 0 {
		t.Fatalf("second sweep deleted = %d, want 0", deleted)
	}

	live, err := store.IsLive(ctx, "long")
	if err != nil || !live {
		t.Fatalf("IsLive(long) = %v, %v; want true", live, err)
	}
}

func TestRedisIdempotencyStoreRejectsInvalidInput(t *testing.T) {
	t.Parallel()

	_, rdb := newTestRedis(t)
	store, err := NewRedisIdempotencyStore(rdb)
	if err != nil {
		t.Fatalf("NewRedisIdempotencyStore() error = %v", err)
	}

	if _, err := store.TryAcquire(context.Background(), "", time.Minute); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("TryAcquire(\"\") error = %v, want ErrValidation", err)
	}
	if _, err := NewRedisIdempotencyStore(nil); err == nil {
		t.Fatal("expected error for nil client")
	}
}

func TestRedisIdempotencyStoreFailsWhenRedisIsDown(t *testing.T) {
	t.Parallel()

	mr, rdb := newTestRedis(t)
	store, err := NewRedisIdempotencyStore(rdb)
	if err != nil {
		t.Fatalf("NewRedisIdempotencyStore() error = %v", err)
	}
	mr.Close()

	if _, err := store.TryAcquire(context.Background(), "k", time.Minute); err == nil {
		t.Fatal("expected error when redis is unreachable")
	}
}

func TestDecodeHolder(t *testing.T) {
	t.Parallel()

	created := time.Date(2026, 3, 1, 10, 0, 0, 123456000, time.UTC)
	expires := created.Add(time.Hour)

	gotCreated, gotExpires, err := decodeHolder(encodeHolder(created, expires))
	if err != nil {
		t.Fatalf("decodeHolder() error = %v", err)
	}
	if !gotCreated.Equal(created) || !gotExpires.Equal(expires) {
		t.Fatalf("decodeHolder() = %v, %v", gotCreated, gotExpires)
	}

	for _, bad := range []string{"", "123", "a:1", "1:b"} {
		if _, _, err := decodeHolder(bad); err == nil {
			t.Fatalf("decodeHolder(%q) expected error", bad)
		}
	}
}
