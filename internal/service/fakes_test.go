package service

import (
	"context"
	"sync"
	"time"

	"github.com/kursadbilgin/notifyguard/internal/domain"
	"github.com/kursadbilgin/notifyguard/internal/idempotency"
	"github.com/kursadbilgin/notifyguard/internal/provider"
	"github.com/kursadbilgin/notifyguard/internal/queue"
	"github.com/kursadbilgin/notifyguard/internal/ratelimit"
	"github.com/kursadbilgin/notifyguard/internal/repository"
)

type fakeStore struct {
	tryAcquireFn      func(ctx context.Context, key string, window time.Duration) (idempotency.AcquireResult, error)
	isLiveFn          func(ctx context.Context, key string) (bool, error)
	releaseFn         func(ctx context.Context, key string) error
	expireOlderThanFn func(ctx context.Context, cutoff time.Time) (int64, error)

	mu       sync.Mutex
	released []string
}

func (f *fakeStore) TryAcquire(ctx context.Context, key string, window time.Duration) (idempotency.AcquireResult, error) {
	if f.tryAcquireFn != nil {
		return f.tryAcquireFn(ctx, key, window)
	}
	return idempotency.AcquireResult{Acquired: true}, nil
}

func (f *fakeStore) IsLive(ctx context.Context, key string) (bool, error) {
	if f.isLiveFn != nil {
		return f.isLiveFn(ctx, key)
	}
	return false, nil
}

func (f *fakeStore) Release(ctx context.Context, key string) error {
	f.mu.Lock()
	f.released = append(f.released, key)
	f.mu.Unlock()
	if f.releaseFn != nil {
		return f.releaseFn(ctx, key)
	}
	return nil
}

func (f *fakeStore) ExpireOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	if f.expireOlderThanFn != nil {
		return f.expireOlderThanFn(ctx, cutoff)
	}
	return 0, nil
}

func (f *fakeStore) releasedKeys() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.released...)
}

var _ idempotency.Store = (*fakeStore)(nil)

type fakeAttemptRepo struct {
	createFn          func(ctx context.Context, a *domain.SendAttempt) error
	getByIDFn         func(ctx context.Context, id string) (*domain.SendAttempt, error)
	markSentFn        func(ctx context.Context, id string, at time.Time) error
	scheduleRetryFn   func(ctx context.Context, id string, errMsg string, at time.Time) error
	markFailedFn      func(ctx context.Context, id string, errMsg string, at time.Time) error
	listFn            func(ctx context.Context, params repository.ListParams) ([]domain.SendAttempt, int64, error)
	totalsFn          func(ctx context.Context, since time.Time) (repository.AttemptTotals, error)
	deleteOlderThanFn func(ctx context.Context, cutoff time.Time) (int64, error)
}

func (f *fakeAttemptRepo) Create(ctx context.Context, a *domain.SendAttempt) error {
	if f.createFn != nil {
		return f.createFn(ctx, a)
	}
	return nil
}

func (f *fakeAttemptRepo) GetByID(ctx context.Context, id string) (*domain.SendAttempt, error) {
	if f.getByIDFn != nil {
		return f.getByIDFn(ctx, id)
	}
	return nil, domain.ErrNotFound
}

func (f *fakeAttemptRepo) MarkSent(ctx context.Context, id string, at time.Time) error {
	if f.markSentFn != nil {
		return f.markSentFn(ctx, id, at)
	}
	return nil
}

func (f *fakeAttemptRepo) ScheduleRetry(ctx context.Context, id string, errMsg string, at time.Time) error {
	if f.scheduleRetryFn != nil {
		return f.scheduleRetryFn(ctx, id, errMsg, at)
	}
	return nil
}

func (f *fakeAttemptRepo) MarkFailed(ctx context.Context, id string, errMsg string, at time.Time) error {
	if f.markFailedFn != nil {
		return f.markFailedFn(ctx, id, errMsg, at)
	}
	return nil
}

func (f *fakeAttemptRepo) List(ctx context.Context, params repository.ListParams) ([]domain.SendAttempt, int64, error) {
	if f.listFn != nil {
		return f.listFn(ctx, params)
	}
	return nil, 0, nil
}

func (f *fakeAttemptRepo) Totals(ctx context.Context, since time.Time) (repository.AttemptTotals, error) {
	if f.totalsFn != nil {
		return f.totalsFn(ctx, since)
	}
	return repository.AttemptTotals{}, nil
}

func (f *fakeAttemptRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	if f.deleteOlderThanFn != nil {
		return f.deleteOlderThanFn(ctx, cutoff)
	}
	return 0, nil
}

var _ repository.AttemptRepository = (*fakeAttemptRepo)(nil)

type fakeDedupLogRepo struct {
	recordDuplicateFn func(ctx context.Context, e *domain.DedupLogEntry) (*domain.DedupLogEntry, error)
	listFn            func(ctx context.Context, params repository.ListParams) ([]domain.DedupLogEntry, int64, error)
	sumAttemptsFn     func(ctx context.Context, since time.Time) (int64, error)
	deleteOlderThanFn func(ctx context.Context, cutoff time.Time) (int64, error)
}

func (f *fakeDedupLogRepo) RecordDuplicate(ctx context.Context, e *domain.DedupLogEntry) (*domain.DedupLogEntry, error) {
	if f.recordDuplicateFn != nil {
		return f.recordDuplicateFn(ctx, e)
	}
	entry := *e
	entry.AttemptCount = 1
	return &entry, nil
}

func (f *fakeDedupLogRepo) List(ctx context.Context, params repository.ListParams) ([]domain.DedupLogEntry, int64, error) {
	if f.listFn != nil {
		return f.listFn(ctx, params)
	}
	return nil, 0, nil
}

func (f *fakeDedupLogRepo) SumAttempts(ctx context.Context, since time.Time) (int64, error) {
	if f.sumAttemptsFn != nil {
		return f.sumAttemptsFn(ctx, since)
	}
	return 0, nil
}

func (f *fakeDedupLogRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	if f.deleteOlderThanFn != nil {
		return f.deleteOlderThanFn(ctx, cutoff)
	}
	return 0, nil
}

var _ repository.DedupLogRepository = (*fakeDedupLogRepo)(nil)

type fakeProvider struct {
	sendFn func(ctx context.Context, msg provider.Message) (*provider.Response, error)

	mu    sync.Mutex
	calls int
}

func (f *fakeProvider) Send(ctx context.Context, msg provider.Message) (*provider.Response, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.sendFn != nil {
		return f.sendFn(ctx, msg)
	}
	return &provider.Response{StatusCode: 202}, nil
}

func (f *fakeProvider) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

var _ provider.Provider = (*fakeProvider)(nil)

type fakeRateLimiter struct {
	allowFn func(ctx context.Context, notificationType string) (bool, error)
	waitFn  func(ctx context.Context, notificationType string) error
}

func (f *fakeRateLimiter) Allow(ctx context.Context, notificationType string) (bool, error) {
	if f.allowFn != nil {
		return f.allowFn(ctx, notificationType)
	}
	return true, nil
}

func (f *fakeRateLimiter) Wait(ctx context.Context, notificationType string) error {
	if f.waitFn != nil {
		return f.waitFn(ctx, notificationType)
	}
	return nil
}

var _ ratelimit.RateLimiter = (*fakeRateLimiter)(nil)

type fakeConsumer struct {
	consumeFn func(ctx context.Context, queue string, handler queue.MessageHandler) error
	closeFn   func() error
}

func (f *fakeConsumer) Consume(ctx context.Context, queueName string, handler queue.MessageHandler) error {
	if f.consumeFn != nil {
		return f.consumeFn(ctx, queueName, handler)
	}
	<-ctx.Done()
	return nil
}

func (f *fakeConsumer) Close() error {
	if f.closeFn != nil {
		return f.closeFn()
	}
	return nil
}

var _ queue.Consumer = (*fakeConsumer)(nil)

type fakeDeliverer struct {
	deliverFn func(ctx context.Context, req domain.DeliveryRequest) (domain.DeliveryOutcome, error)
}

func (f *fakeDeliverer) Deliver(ctx context.Context, req domain.DeliveryRequest) (domain.DeliveryOutcome, error) {
	if f.deliverFn != nil {
		return f.deliverFn(ctx, req)
	}
	return domain.DeliveryOutcome{State: domain.StateDelivered}, nil
}

var _ Deliverer = (*fakeDeliverer)(nil)
