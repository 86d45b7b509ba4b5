package queue

import (
	"context"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

const (
	requeueDelay    = 500 * time.Millisecond
	maxRequeueDelay = 10 * time.Second
)

// RabbitMQConsumer feeds delivery messages to a handler and settles each one
// according to the handler's error. Requeues are paced so a failing
// dependency does not turn into a hot redelivery loop.
type RabbitMQConsumer struct {
	client   *RabbitMQ
	prefetch int
	logger   *zap.Logger
	sleep    func(ctx context.Context, d time.Duration) error
}

func NewRabbitMQConsumer(client *RabbitMQ, prefetch int, logger *zap.Logger) *RabbitMQConsumer {
	if prefetch < 1 {
		prefetch = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &RabbitMQConsumer{
		client:   client,
		prefetch: prefetch,
		logger:   logger,
		sleep:    sleepContext,
	}
}

// Consume blocks until ctx ends, reopening the channel whenever it drops.
func (c *RabbitMQConsumer) Consume(ctx context.Context, queue string, handler MessageHandler) error {
	if c == nil || c.client == nil {
		return fmt.Errorf("consumer is not initialized")
	}
	if queue == "" {
		return fmt.Errorf("queue name is required")
	}
	if handler == nil {
		return fmt.Errorf("message handler is required")
	}

	backoff := reconnectBackoff
	for {
		err := c.consumeOnce(ctx, queue, handler)
		if ctx.Err() != nil {
			return nil
		}
		if err == nil {
			backoff = reconnectBackoff
			continue
		}

		c.logger.Warn("delivery consumer interrupted", zap.String("queue", queue), zap.Error(err), zap.Duration("retryIn", backoff))
		if err := c.sleep(ctx, backoff); err != nil {
			return nil
		}
		backoff = min(backoff*2, maxBackoff)
	}
}

func (c *RabbitMQConsumer) consumeOnce(ctx context.Context, queue string, handler MessageHandler) error {
	ch, err := c.client.channel(ctx)
	if err != nil {
		return err
	}
	defer ch.Close() //nolint:errcheck

	if err := ch.Qos(c.prefetch, 0, false); err != nil {
		return fmt.Errorf("failed to set qos: %w", err)
	}

	deliveries, err := ch.ConsumeWithContext(ctx, queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("failed to consume queue %q: %w", queue, err)
	}

	requeues := 0
	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("delivery channel closed")
			}

			requeued, err := c.handleDelivery(ctx, d, handler)
			if err != nil {
				return err
			}
			if !requeued {
				requeues = 0
				continue
			}

			requeues++
			if err := c.sleep(ctx, pacedRequeueDelay(requeues)); err != nil {
				return nil
			}
		}
	}
}

// handleDelivery settles d and reports whether it was requeued.
func (c *RabbitMQConsumer) handleDelivery(ctx context.Context, d amqp.Delivery, handler MessageHandler) (bool, error) {
	msg, err := decodeDeliveryMessage(d.Body)
	if err != nil {
		c.logger.Warn("dead-lettering undecodable message",
			zap.Error(err),
			zap.String("messageId", d.MessageId),
		)
		if rejectErr := d.Reject(false); rejectErr != nil {
			return false, fmt.Errorf("failed to reject invalid message: %w", rejectErr)
		}
		return false, nil
	}

	handlerErr := handler(ctx, msg)
	switch dispositionFor(handlerErr) {
	case dispositionDeadLetter:
		c.logger.Warn("dead-lettering message",
			zap.Error(handlerErr),
			zap.String("correlationId", msg.CorrelationID),
			zap.String("notificationType", msg.NotificationType),
		)
		if rejectErr := d.Reject(false); rejectErr != nil {
			return false, fmt.Errorf("handler failed and reject failed: %w", rejectErr)
		}
		return false, nil
	case dispositionRequeue:
		c.logger.Info("requeueing message",
			zap.Error(handlerErr),
			zap.String("correlationId", msg.CorrelationID),
			zap.Int64("deliveryCount", deliveryCount(d)),
		)
		if nackErr := d.Nack(false, true); nackErr != nil {
			return false, fmt.Errorf("handler failed and nack failed: %w", nackErr)
		}
		return true, nil
	default:
		if ackErr := d.Ack(false); ackErr != nil {
			return false, fmt.Errorf("failed to ack delivery: %w", ackErr)
		}
		return false, nil
	}
}

// Close is a no-op; the shared connection is closed by its owner.
func (c *RabbitMQConsumer) Close() error {
	return nil
}

// deliveryCount reads the quorum queue redelivery counter, 0 on first delivery.
func deliveryCount(d amqp.Delivery) int64 {
	switch v := d.Headers["x-delivery-count"].(type) {
	case int64:
		return v
	case int32:
		return int64(v)
	case int:
		return int64(v)
	default:
		return 0
	}
}

func pacedRequeueDelay(consecutive int) time.Duration {
	delay := requeueDelay
	for i := 1; i < consecutive && delay < maxRequeueDelay; i++ {
		delay *= 2
	}
	return min(delay, maxRequeueDelay)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
