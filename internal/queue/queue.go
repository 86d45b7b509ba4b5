package queue

import (
	"context"
	"errors"
)

const (
	// DeliveryQueue is the work queue consumed by delivery workers.
	DeliveryQueue = "notification.deliveries"
	// DeliveryDLQ receives messages a worker rejected as undeliverable.
	DeliveryDLQ = "dlq." + DeliveryQueue

	deliveryRoutingKey = "deliveries"
)

// ErrDeadLetter marks a handler failure that must not be redelivered. Wrap
// it to route the message to the dead-letter queue instead of requeueing.
var ErrDeadLetter = errors.New("dead letter")

// Publisher publishes delivery requests to a queue.
type Publisher interface {
	Publish(ctx context.Context, queue string, msg DeliveryMessage) error
	Close() error
}

// MessageHandler handles a consumed queue message.
type MessageHandler func(ctx context.Context, msg DeliveryMessage) error

// Consumer consumes delivery requests from a queue.
type Consumer interface {
	Consume(ctx context.Context, queue string, handler MessageHandler) error
	Close() error
}

type disposition int

const (
	dispositionAck disposition = iota
	dispositionRequeue
	dispositionDeadLetter
)

func dispositionFor(err error) disposition {
	switch {
	case err == nil:
		return dispositionAck
	case errors.Is(err, ErrDeadLetter):
		return dispositionDeadLetter
	default:
		return dispositionRequeue
	}
}
