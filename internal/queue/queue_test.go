package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

func TestQueueNames(t *testing.T) {
	if DeliveryQueue != "notification.deliveries" {
		t.Fatalf("DeliveryQueue = %s, want notification.deliveries", DeliveryQueue)
	}
	if DeliveryDLQ != "dlq.notification.deliveries" {
		t.Fatalf("DeliveryDLQ = %s, want dlq.notification.deliveries", DeliveryDLQ)
	}
}

func TestDeliveryQueueArgsRouteToDLX(t *testing.T) {
	args := deliveryQueueArgs()
	if args[amqp.QueueTypeArg] != amqp.QueueTypeQuorum {
		t.Fatalf("queue type = %v, want quorum", args[amqp.QueueTypeArg])
	}
	if args["x-delivery-limit"] != int32(deliveryLimit) {
		t.Fatalf("x-delivery-limit = %v, want %d", args["x-delivery-limit"], deliveryLimit)
	}
	if args["x-dead-letter-exchange"] != dlxExchangeName {
		t.Fatalf("x-dead-letter-exchange = %v, want %s", args["x-dead-letter-exchange"], dlxExchangeName)
	}
	if args["x-dead-letter-routing-key"] != deliveryRoutingKey {
		t.Fatalf("x-dead-letter-routing-key = %v, want %s", args["x-dead-letter-routing-key"], deliveryRoutingKey)
	}
}

func TestDeliveryMessageValidate(t *testing.T) {
	msg := DeliveryMessage{
		Recipient:        "u@x.com",
		NotificationType: "violation_approved",
	}
	if err := msg.Validate(); err != nil {
		t.Fatalf("Validate() unexpected error: %v", err)
	}

	msg.Recipient = " "
	if err := msg.Validate(); err == nil {
		t.Fatal("expected error for empty recipient")
	}

	msg.Recipient = "u@x.com"
	msg.NotificationType = ""
	if err := msg.Validate(); err == nil {
		t.Fatal("expected error for empty notification type")
	}
}

func TestDecodeDeliveryMessage(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr bool
	}{
		{
			name: "valid",
			body: `{"recipient":"u@x.com","notificationType":"violation_approved","payload":{"violation_id":42}}`,
		},
		{name: "invalid json", body: `{"recipient":`, wantErr: true},
		{name: "missing type", body: `{"recipient":"u@x.com"}`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := decodeDeliveryMessage([]byte(tt.body))
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("decodeDeliveryMessage() error = %v", err)
			}
			if msg.Payload["violation_id"] != float64(42) {
				t.Fatalf("payload = %v, want violation_id 42", msg.Payload)
			}
		})
	}
}

func TestDispositionFor(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want disposition
	}{
		{name: "success acks", err: nil, want: dispositionAck},
		{name: "plain error requeues", err: errors.New("store down"), want: dispositionRequeue},
		{name: "wrapped dead letter", err: fmt.Errorf("%w: bad recipient", ErrDeadLetter), want: dispositionDeadLetter},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := dispositionFor(tt.err); got != tt.want {
				t.Fatalf("dispositionFor(%v) = %d, want %d", tt.err, got, tt.want)
			}
		})
	}
}

func TestHandleDeliverySettlement(t *testing.T) {
	t.Parallel()

	validBody := []byte(`{"correlationId":"c-1","recipient":"u@x.com","notificationType":"violation_approved"}`)

	tests := []struct {
		name        string
		body        []byte
		handlerErr  error
		wantAction  string
		wantRequeue bool
		wantCalls   int
	}{
		{name: "success acks", body: validBody, wantAction: "ack", wantCalls: 1},
		{name: "transient failure requeues", body: validBody, handlerErr: errors.New("store down"), wantAction: "nack-requeue", wantRequeue: true, wantCalls: 1},
		{name: "dead letter rejects", body: validBody, handlerErr: fmt.Errorf("%w: permanent", ErrDeadLetter), wantAction: "reject", wantCalls: 1},
		{name: "undecodable body rejects without handler", body: []byte(`{"recipient":`), wantAction: "reject"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			ack := &fakeAcknowledger{}
			calls := 0
			handler := func(ctx context.Context, msg DeliveryMessage) error {
				calls++
				if msg.CorrelationID != "c-1" {
					t.Errorf("correlationId = %q, want c-1", msg.CorrelationID)
				}
				return tt.handlerErr
			}

			c := NewRabbitMQConsumer(&RabbitMQ{}, 1, zap.NewNop())
			requeued, err := c.handleDelivery(context.Background(), amqp.Delivery{
				Acknowledger: ack,
				DeliveryTag:  7,
				Body:         tt.body,
			}, handler)
			if err != nil {
				t.Fatalf("handleDelivery() error = %v", err)
			}
			if requeued != tt.wantRequeue {
				t.Fatalf("requeued = %v, want %v", requeued, tt.wantRequeue)
			}
			if ack.action != tt.wantAction || ack.tag != 7 {
				t.Fatalf("settled as %q (tag %d), want %q (tag 7)", ack.action, ack.tag, tt.wantAction)
			}
			if calls != tt.wantCalls {
				t.Fatalf("handler calls = %d, want %d", calls, tt.wantCalls)
			}
		})
	}
}

func TestHandleDeliverySettleFailure(t *testing.T) {
	t.Parallel()

	ack := &fakeAcknowledger{err: errors.New("channel closed")}
	c := NewRabbitMQConsumer(&RabbitMQ{}, 1, nil)

	_, err := c.handleDelivery(context.Background(), amqp.Delivery{
		Acknowledger: ack,
		Body:         []byte(`{"recipient":"u@x.com","notificationType":"violation_approved"}`),
	}, func(ctx context.Context, msg DeliveryMessage) error { return nil })
	if err == nil {
		t.Fatal("expected error when ack fails")
	}
}

func TestPacedRequeueDelay(t *testing.T) {
	t.Parallel()

	tests := []struct {
		consecutive int
		want        time.Duration
	}{
		{consecutive: 1, want: 500 * time.Millisecond},
		{consecutive: 2, want: time.Second},
		{consecutive: 4, want: 4 * time.Second},
		{consecutive: 6, want: maxRequeueDelay},
		{consecutive: 50, want: maxRequeueDelay},
	}

	for _, tt := range tests {
		if got := pacedRequeueDelay(tt.consecutive); got != tt.want {
			t.Fatalf("pacedRequeueDelay(%d) = %s, want %s", tt.consecutive, got, tt.want)
		}
	}
}

func TestDeliveryCount(t *testing.T) {
	t.Parallel()

	if got := deliveryCount(amqp.Delivery{}); got != 0 {
		t.Fatalf("deliveryCount(no headers) = %d, want 0", got)
	}
	if got := deliveryCount(amqp.Delivery{Headers: amqp.Table{"x-delivery-count": int64(3)}}); got != 3 {
		t.Fatalf("deliveryCount = %d, want 3", got)
	}
}

func TestNewPublishing(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	publishing, err := newPublishing(DeliveryMessage{
		CorrelationID:    "c-9",
		Recipient:        "u@x.com",
		NotificationType: "violation_approved",
		Payload:          map[string]any{"violation_id": 42},
	}, func() time.Time { return now })
	if err != nil {
		t.Fatalf("newPublishing() error = %v", err)
	}

	if publishing.DeliveryMode != amqp.Persistent {
		t.Fatalf("delivery mode = %d, want persistent", publishing.DeliveryMode)
	}
	if publishing.CorrelationId != "c-9" || publishing.Type != "violation_approved" || publishing.MessageId == "" {
		t.Fatalf("publishing properties = %+v", publishing)
	}
	if !publishing.Timestamp.Equal(now) {
		t.Fatalf("timestamp = %s, want %s", publishing.Timestamp, now)
	}

	var decoded DeliveryMessage
	if err := json.Unmarshal(publishing.Body, &decoded); err != nil {
		t.Fatalf("json unmarshal error = %v", err)
	}
	if !decoded.RequestedAt.Equal(now) {
		t.Fatalf("requestedAt = %s, want %s", decoded.RequestedAt, now)
	}

	if _, err := newPublishing(DeliveryMessage{Recipient: "u@x.com"}, time.Now); err == nil {
		t.Fatal("expected error for message without notification type")
	}
}

type fakeAcknowledger struct {
	action string
	tag    uint64
	err    error
}

func (f *fakeAcknowledger) Ack(tag uint64, multiple bool) error {
	f.action, f.tag = "ack", tag
	return f.err
}

func (f *fakeAcknowledger) Nack(tag uint64, multiple bool, requeue bool) error {
	f.action, f.tag = "nack", tag
	if requeue {
		f.action = "nack-requeue"
	}
	return f.err
}

func (f *fakeAcknowledger) Reject(tag uint64, requeue bool) error {
	f.action, f.tag = "reject", tag
	return f.err
}
