package service

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/notifyguard/internal/domain"
	"github.com/kursadbilgin/notifyguard/internal/fingerprint"
	"github.com/kursadbilgin/notifyguard/internal/idempotency"
	"github.com/kursadbilgin/notifyguard/internal/observability"
	"github.com/kursadbilgin/notifyguard/internal/provider"
	"github.com/kursadbilgin/notifyguard/internal/ratelimit"
	"github.com/kursadbilgin/notifyguard/internal/repository"
	"go.uber.org/zap"
)

const (
	defaultDedupWindow   = 60 * time.Minute
	defaultMaxRetries    = 3
	defaultRetryDelay    = time.Second
	defaultMaxRetryDelay = 60 * time.Second
	defaultSendTimeout   = 10 * time.Second
	maxRetryJitterMillis = 250
)

// CoordinatorConfig holds the delivery knobs. Zero values fall back to the
// defaults above.
type CoordinatorConfig struct {
	DedupWindow time.Duration
	// MaxRetries is the total number of transport attempts per send.
	MaxRetries    int
	RetryDelay    time.Duration
	MaxRetryDelay time.Duration
	// Timeout bounds each transport attempt separately.
	Timeout time.Duration
}

func (c CoordinatorConfig) withDefaults() CoordinatorConfig {
	if c.DedupWindow <= 0 {
		c.DedupWindow = defaultDedupWindow
	}
	if c.MaxRetries < 1 {
		c.MaxRetries = defaultMaxRetries
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = defaultRetryDelay
	}
	if c.MaxRetryDelay <= 0 {
		c.MaxRetryDelay = defaultMaxRetryDelay
	}
	if c.MaxRetryDelay < c.RetryDelay {
		c.MaxRetryDelay = c.RetryDelay
	}
	if c.Timeout <= 0 {
		c.Timeout = defaultSendTimeout
	}
	return c
}

// Transition is one edge taken by a delivery.
type Transition struct {
	From        domain.State
	To          domain.State
	ContentHash string
	AttemptID   string
}

// DeliveryCoordinator runs a single notification through fingerprinting,
// idempotent acceptance, transport sends and retries.
type DeliveryCoordinator struct {
	fingerprinter *fingerprint.Fingerprinter
	store         idempotency.Store
	attempts      repository.AttemptRepository
	dedupLog      repository.DedupLogRepository
	provider      provider.Provider
	rateLimiter   ratelimit.RateLimiter
	cfg           CoordinatorConfig
	logger        *zap.Logger
	metrics       *observability.Metrics
	onTransition  func(Transition)
	now           func() time.Time
	sleep         func(ctx context.Context, d time.Duration) error
	randIntn      func(n int) int
}

func NewDeliveryCoordinator(
	fingerprinter *fingerprint.Fingerprinter,
	store idempotency.Store,
	attempts repository.AttemptRepository,
	dedupLog repository.DedupLogRepository,
	transport provider.Provider,
	rateLimiter ratelimit.RateLimiter,
	cfg CoordinatorConfig,
	logger *zap.Logger,
) (*DeliveryCoordinator, error) {
	if fingerprinter == nil {
		return nil, fmt.Errorf("fingerprinter is required")
	}
	if store == nil {
		return nil, fmt.Errorf("idempotency store is required")
	}
	if attempts == nil {
		return nil, fmt.Errorf("attempt repository is required")
	}
	if dedupLog == nil {
		return nil, fmt.Errorf("dedup log repository is required")
	}
	if transport == nil {
		return nil, fmt.Errorf("provider is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &DeliveryCoordinator{
		fingerprinter: fingerprinter,
		store:         store,
		attempts:      attempts,
		dedupLog:      dedupLog,
		provider:      transport,
		rateLimiter:   rateLimiter,
		cfg:           cfg.withDefaults(),
		logger:        logger,
		now:           time.Now,
		sleep:         sleepContext,
		randIntn:      rand.Intn,
	}, nil
}

func (c *DeliveryCoordinator) SetMetrics(metrics *observability.Metrics) {
	if c == nil {
		return
	}
	c.metrics = metrics
}

// SetTransitionHook registers fn to be called after every state change.
func (c *DeliveryCoordinator) SetTransitionHook(fn func(Transition)) {
	if c == nil {
		return
	}
	c.onTransition = fn
}

// deliveryRun carries the per-call state of one Deliver invocation.
type deliveryRun struct {
	req         domain.DeliveryRequest
	state       domain.State
	contentHash string
	attemptID   string
	logger      *zap.Logger
}

func (c *DeliveryCoordinator) transition(run *deliveryRun, to domain.State) error {
	from := run.state
	if !from.CanTransition(to) {
		return fmt.Errorf("invalid delivery transition %s -> %s", from, to)
	}
	run.state = to

	run.logger.Debug("delivery state changed",
		zap.String("from", from.String()),
		zap.String("to", to.String()),
	)
	if c.onTransition != nil {
		c.onTransition(Transition{From: from, To: to, ContentHash: run.contentHash, AttemptID: run.attemptID})
	}
	return nil
}

// Deliver sends req at most once per suppression window. A duplicate returns
// a SUPPRESSED outcome with a nil error.
func (c *DeliveryCoordinator) Deliver(ctx context.Context, req domain.DeliveryRequest) (domain.DeliveryOutcome, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	req.Normalize()
	run := &deliveryRun{
		req:    req,
		state:  domain.StateRequested,
		logger: observability.WithContextLogger(c.logger, ctx),
	}

	if err := req.Validate(); err != nil {
		return domain.DeliveryOutcome{State: run.state}, err
	}

	run.contentHash = c.fingerprinter.Fingerprint(req.Recipient, req.NotificationType, fingerprintPayload(req))
	run.logger = run.logger.With(observability.DeliveryFields(run.contentHash, req.NotificationType, req.Recipient)...)
	if err := c.transition(run, domain.StateFingerprinted); err != nil {
		return c.outcome(run), err
	}

	window := c.fingerprinter.Window(req.NotificationType, c.cfg.DedupWindow)
	acquired, err := c.store.TryAcquire(ctx, run.contentHash, window)
	if err != nil {
		if errors.Is(err, domain.ErrValidation) {
			return c.outcome(run), err
		}
		run.logger.Error("idempotency store unavailable", zap.Error(err))
		c.metrics.IncStoreUnavailable()
		if terr := c.transition(run, domain.StateSuppressed); terr != nil {
			return c.outcome(run), terr
		}
		return c.outcome(run), fmt.Errorf("%w: %w", domain.ErrStoreUnavailable, err)
	}

	if !acquired.Acquired {
		return c.suppress(ctx, run, acquired)
	}

	return c.accept(ctx, run, acquired)
}

func (c *DeliveryCoordinator) suppress(ctx context.Context, run *deliveryRun, holder idempotency.AcquireResult) (domain.DeliveryOutcome, error) {
	if err := c.transition(run, domain.StateSuppressed); err != nil {
		return c.outcome(run), err
	}

	outcome := c.outcome(run)
	outcome.ExpiresAt = holder.ExpiresAt

	entry, err := c.dedupLog.RecordDuplicate(ctx, &domain.DedupLogEntry{
		ContentHash:      run.contentHash,
		NotificationType: run.req.NotificationType,
		Recipient:        run.req.Recipient,
		Subject:          run.req.Subject,
		FirstSentAt:      holder.CreatedAt,
		LastAttemptedAt:  c.now().UTC(),
	})
	if err != nil {
		run.logger.Warn("failed to record suppressed duplicate", zap.Error(err))
		c.metrics.IncDedupLogWriteFailure()
	} else {
		outcome.DuplicateCount = entry.AttemptCount
	}

	c.metrics.IncDuplicateSuppressed(run.req.NotificationType)
	c.metrics.IncDelivery(run.req.NotificationType, strings.ToLower(domain.StateSuppressed.String()))
	run.logger.Info("duplicate notification suppressed",
		zap.Time("expiresAt", holder.ExpiresAt),
		zap.Int("duplicateCount", outcome.DuplicateCount),
	)
	return outcome, nil
}

func (c *DeliveryCoordinator) accept(ctx context.Context, run *deliveryRun, holder idempotency.AcquireResult) (domain.DeliveryOutcome, error) {
	now := c.now().UTC()
	attempt := &domain.SendAttempt{
		ID:               uuid.NewString(),
		IdempotencyKey:   run.contentHash,
		NotificationType: run.req.NotificationType,
		Recipient:        run.req.Recipient,
		Subject:          run.req.Subject,
		Status:           domain.AttemptStatusQueued,
		AttemptCount:     1,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	run.attemptID = attempt.ID
	run.logger = run.logger.With(zap.String("attemptId", attempt.ID))

	if err := c.transition(run, domain.StateAccepted); err != nil {
		return c.outcome(run), err
	}

	if err := c.attempts.Create(ctx, attempt); err != nil {
		c.releaseKey(ctx, run)
		return c.outcome(run), fmt.Errorf("failed to create send attempt: %w", err)
	}

	outcome, err := c.sendWithRetries(ctx, run)
	outcome.ExpiresAt = holder.ExpiresAt
	return outcome, err
}

func (c *DeliveryCoordinator) sendWithRetries(ctx context.Context, run *deliveryRun) (domain.DeliveryOutcome, error) {
	for attemptNumber := 1; ; attemptNumber++ {
		if err := c.transition(run, domain.StateSending); err != nil {
			return c.outcomeAt(run, attemptNumber), err
		}

		sendErr := c.send(ctx, run)
		if sendErr == nil {
			return c.delivered(ctx, run, attemptNumber)
		}

		// Caller went away: leave the attempt queued and the key held.
		if ctx.Err() != nil {
			run.logger.Warn("delivery canceled by caller",
				zap.Int("attemptNumber", attemptNumber),
				zap.Error(ctx.Err()),
			)
			return c.outcomeAt(run, attemptNumber), ctx.Err()
		}

		if !provider.IsTransient(sendErr) {
			return c.fail(ctx, run, attemptNumber, sendErr, domain.ErrPermanentDelivery)
		}
		if attemptNumber >= c.cfg.MaxRetries {
			return c.fail(ctx, run, attemptNumber, sendErr, domain.ErrTerminalDelivery)
		}

		if err := c.attempts.ScheduleRetry(ctx, run.attemptID, sendErr.Error(), c.now()); err != nil {
			return c.outcomeAt(run, attemptNumber), fmt.Errorf("failed to schedule retry: %w", err)
		}
		if err := c.transition(run, domain.StateRetryScheduled); err != nil {
			return c.outcomeAt(run, attemptNumber), err
		}
		c.metrics.IncRetryScheduled(run.req.NotificationType)

		delay := c.computeRetryDelay(attemptNumber)
		if hint := provider.RetryAfter(sendErr); hint > delay {
			delay = min(hint, c.cfg.MaxRetryDelay)
		}
		run.logger.Warn("transient delivery failure, retrying",
			zap.Int("attemptNumber", attemptNumber),
			zap.Int("maxRetries", c.cfg.MaxRetries),
			zap.Duration("retryIn", delay),
			zap.Error(sendErr),
		)

		if err := c.sleep(ctx, delay); err != nil {
			return c.outcomeAt(run, attemptNumber+1), err
		}
	}
}

func (c *DeliveryCoordinator) send(ctx context.Context, run *deliveryRun) error {
	if c.rateLimiter != nil {
		if err := c.rateLimiter.Wait(ctx, run.req.NotificationType); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return provider.Transient("rate limiter unavailable", err)
		}
	}

	attemptCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	start := c.now()
	_, err := c.provider.Send(attemptCtx, provider.Message{
		To:               run.req.Recipient,
		Subject:          run.req.Subject,
		Body:             run.req.Body,
		NotificationType: run.req.NotificationType,
		IdempotencyKey:   run.attemptID,
	})
	c.metrics.ObserveSendDuration(run.req.NotificationType, c.now().Sub(start))
	return err
}

func (c *DeliveryCoordinator) delivered(ctx context.Context, run *deliveryRun, attemptNumber int) (domain.DeliveryOutcome, error) {
	if err := c.transition(run, domain.StateDelivered); err != nil {
		return c.outcomeAt(run, attemptNumber), err
	}
	c.metrics.IncDelivery(run.req.NotificationType, strings.ToLower(domain.StateDelivered.String()))

	// The key stays held: the notification went out even if the ledger lags.
	if err := c.attempts.MarkSent(ctx, run.attemptID, c.now()); err != nil {
		return c.outcomeAt(run, attemptNumber), fmt.Errorf("failed to mark send attempt sent: %w", err)
	}

	run.logger.Info("notification delivered", zap.Int("attemptNumber", attemptNumber))
	return c.outcomeAt(run, attemptNumber), nil
}

func (c *DeliveryCoordinator) fail(ctx context.Context, run *deliveryRun, attemptNumber int, sendErr error, reason error) (domain.DeliveryOutcome, error) {
	if err := c.transition(run, domain.StateFailed); err != nil {
		return c.outcomeAt(run, attemptNumber), err
	}
	c.metrics.IncDelivery(run.req.NotificationType, strings.ToLower(domain.StateFailed.String()))

	if err := c.attempts.MarkFailed(ctx, run.attemptID, sendErr.Error(), c.now()); err != nil {
		run.logger.Error("failed to mark send attempt failed", zap.Error(err))
	}
	c.releaseKey(ctx, run)

	run.logger.Error("notification delivery failed",
		zap.Int("attemptNumber", attemptNumber),
		zap.Bool("permanent", errors.Is(reason, domain.ErrPermanentDelivery)),
		zap.Error(sendErr),
	)
	return c.outcomeAt(run, attemptNumber), fmt.Errorf("%w: %w", reason, sendErr)
}

func (c *DeliveryCoordinator) releaseKey(ctx context.Context, run *deliveryRun) {
	if err := c.store.Release(context.WithoutCancel(ctx), run.contentHash); err != nil {
		run.logger.Error("failed to release idempotency key", zap.Error(err))
	}
}

func (c *DeliveryCoordinator) outcome(run *deliveryRun) domain.DeliveryOutcome {
	return domain.DeliveryOutcome{
		State:       run.state,
		ContentHash: run.contentHash,
		AttemptID:   run.attemptID,
	}
}

func (c *DeliveryCoordinator) outcomeAt(run *deliveryRun, attemptCount int) domain.DeliveryOutcome {
	outcome := c.outcome(run)
	outcome.AttemptCount = attemptCount
	return outcome
}

func (c *DeliveryCoordinator) computeRetryDelay(attemptNumber int) time.Duration {
	if attemptNumber < 1 {
		attemptNumber = 1
	}

	delay := c.cfg.RetryDelay
	for i := 1; i < attemptNumber; i++ {
		delay *= 2
		if delay >= c.cfg.MaxRetryDelay {
			delay = c.cfg.MaxRetryDelay
			break
		}
	}

	jitterMillis := 0
	if c.randIntn != nil && maxRetryJitterMillis > 0 {
		jitterMillis = c.randIntn(maxRetryJitterMillis + 1)
	}

	return delay + time.Duration(jitterMillis)*time.Millisecond
}

// fingerprintPayload falls back to the rendered content when the caller sent
// no structured payload, so distinct messages never share a hash.
func fingerprintPayload(req domain.DeliveryRequest) map[string]any {
	if len(req.Payload) > 0 {
		return req.Payload
	}
	return map[string]any{
		"subject": req.Subject,
		"body":    req.Body,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
