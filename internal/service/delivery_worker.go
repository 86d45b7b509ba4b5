package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/kursadbilgin/notifyguard/internal/domain"
	"github.com/kursadbilgin/notifyguard/internal/observability"
	"github.com/kursadbilgin/notifyguard/internal/queue"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const minWorkerConcurrency = 1

// Deliverer is the delivery entry point shared by the HTTP intake and the
// queue workers.
type Deliverer interface {
	Deliver(ctx context.Context, req domain.DeliveryRequest) (domain.DeliveryOutcome, error)
}

var _ Deliverer = (*DeliveryCoordinator)(nil)

// DeliveryWorker drains the delivery queue through a Deliverer.
type DeliveryWorker struct {
	deliverer   Deliverer
	consumer    queue.Consumer
	logger      *zap.Logger
	metrics     *observability.Metrics
	concurrency int
}

func NewDeliveryWorker(
	deliverer Deliverer,
	consumer queue.Consumer,
	concurrency int,
	logger *zap.Logger,
) (*DeliveryWorker, error) {
	if deliverer == nil {
		return nil, fmt.Errorf("deliverer is required")
	}
	if consumer == nil {
		return nil, fmt.Errorf("consumer is required")
	}
	if concurrency < minWorkerConcurrency {
		concurrency = minWorkerConcurrency
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &DeliveryWorker{
		deliverer:   deliverer,
		consumer:    consumer,
		logger:      logger,
		concurrency: concurrency,
	}, nil
}

func (w *DeliveryWorker) SetMetrics(metrics *observability.Metrics) {
	if w == nil {
		return
	}
	w.metrics = metrics
}

// Start runs the configured number of consumers until ctx is canceled.
func (w *DeliveryWorker) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	g, groupCtx := errgroup.WithContext(ctx)
	for i := 0; i < w.concurrency; i++ {
		workerID := i + 1

		g.Go(func() error {
			w.logger.Info("worker started",
				zap.Int("workerId", workerID),
				zap.String("queue", queue.DeliveryQueue),
			)

			err := w.consumer.Consume(groupCtx, queue.DeliveryQueue, w.processMessage)
			if err != nil {
				w.logger.Error("worker stopped with error",
					zap.Int("workerId", workerID),
					zap.String("queue", queue.DeliveryQueue),
					zap.Error(err),
				)
				return err
			}

			w.logger.Info("worker stopped",
				zap.Int("workerId", workerID),
				zap.String("queue", queue.DeliveryQueue),
			)
			return nil
		})
	}

	return g.Wait()
}

// processMessage acks delivered and suppressed messages, dead-letters the ones
// that can never succeed and requeues everything else. A message whose send
// already started is acked even on error: its key stays held, so a redelivered
// copy could only be suppressed.
func (w *DeliveryWorker) processMessage(ctx context.Context, msg queue.DeliveryMessage) error {
	w.metrics.IncWorkerInFlight()
	defer w.metrics.DecWorkerInFlight()

	if msg.CorrelationID != "" {
		ctx = observability.WithCorrelationID(ctx, msg.CorrelationID)
	}

	outcome, err := w.deliverer.Deliver(ctx, domain.DeliveryRequest{
		CorrelationID:    msg.CorrelationID,
		Recipient:        msg.Recipient,
		NotificationType: msg.NotificationType,
		Subject:          msg.Subject,
		Body:             msg.Body,
		Payload:          msg.Payload,
	})
	if err == nil {
		return nil
	}

	logger := observability.WithContextLogger(w.logger, ctx).With(
		zap.String("state", outcome.State.String()),
		zap.String("contentHash", outcome.ContentHash),
	)

	switch {
	case errors.Is(err, domain.ErrValidation),
		errors.Is(err, domain.ErrPermanentDelivery),
		errors.Is(err, domain.ErrTerminalDelivery):
		return fmt.Errorf("%w: %w", queue.ErrDeadLetter, err)
	case keyHeldBySend(outcome.State):
		logger.Warn("acking interrupted delivery, key stays held until its window closes",
			zap.String("attemptId", outcome.AttemptID),
			zap.Int("attemptCount", outcome.AttemptCount),
			zap.Error(err),
		)
		return nil
	case errors.Is(err, domain.ErrStoreUnavailable):
		logger.Warn("requeueing delivery, idempotency store unavailable", zap.Error(err))
		return err
	default:
		logger.Warn("requeueing delivery", zap.Error(err))
		return err
	}
}

func keyHeldBySend(state domain.State) bool {
	switch state {
	case domain.StateSending, domain.StateRetryScheduled, domain.StateDelivered:
		return true
	}
	return false
}
