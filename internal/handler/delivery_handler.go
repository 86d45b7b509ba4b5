package handler

import (
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/notifyguard/internal/domain"
	"github.com/kursadbilgin/notifyguard/internal/observability"
	"github.com/kursadbilgin/notifyguard/internal/queue"
	"github.com/kursadbilgin/notifyguard/internal/service"
)

type DeliveryHandler struct {
	deliverer service.Deliverer
	publisher queue.Publisher
	now       func() time.Time
}

// NewDeliveryHandler builds the intake handler. publisher may be nil, in which
// case asynchronous intake is rejected.
func NewDeliveryHandler(deliverer service.Deliverer, publisher queue.Publisher) (*DeliveryHandler, error) {
	if deliverer == nil {
		return nil, fmt.Errorf("deliverer is required")
	}
	return &DeliveryHandler{deliverer: deliverer, publisher: publisher, now: time.Now}, nil
}

func RegisterDeliveryRoutes(router fiber.Router, deliverer service.Deliverer, publisher queue.Publisher) error {
	h, err := NewDeliveryHandler(deliverer, publisher)
	if err != nil {
		return err
	}

	v1 := router.Group("/v1")
	v1.Post("/deliveries", h.CreateDelivery)

	return nil
}

type createDeliveryRequest struct {
	CorrelationID    string         `json:"correlationId"`
	Recipient        string         `json:"recipient"`
	NotificationType string         `json:"notificationType"`
	Subject          string         `json:"subject"`
	Body             string         `json:"body"`
	Payload          map[string]any `json:"payload"`
}

type deliveryResponse struct {
	State          string     `json:"state"`
	ContentHash    string     `json:"contentHash,omitempty"`
	AttemptID      string     `json:"attemptId,omitempty"`
	AttemptCount   int        `json:"attemptCount,omitempty"`
	DuplicateCount int        `json:"duplicateCount,omitempty"`
	ExpiresAt      *time.Time `json:"expiresAt,omitempty"`
}

type queuedDeliveryResponse struct {
	Status        string `json:"status"`
	CorrelationID string `json:"correlationId,omitempty"`
}

// CreateDelivery runs the delivery synchronously and reports the outcome, or
// enqueues it when called with ?async=true.
func (h *DeliveryHandler) CreateDelivery(c *fiber.Ctx) error {
	var body createDeliveryRequest
	if err := c.BodyParser(&body); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	req := domain.DeliveryRequest{
		CorrelationID:    strings.TrimSpace(body.CorrelationID),
		Recipient:        body.Recipient,
		NotificationType: body.NotificationType,
		Subject:          body.Subject,
		Body:             body.Body,
		Payload:          body.Payload,
	}
	if req.CorrelationID == "" {
		req.CorrelationID = requestCorrelationID(c)
	}
	req.Normalize()
	if err := req.Validate(); err != nil {
		return toHTTPError(err)
	}

	if c.QueryBool("async", false) {
		return h.enqueue(c, req)
	}

	ctx := c.UserContext()
	if req.CorrelationID != "" {
		ctx = observability.WithCorrelationID(ctx, req.CorrelationID)
	}

	outcome, err := h.deliverer.Deliver(ctx, req)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(toDeliveryResponse(outcome))
}

func (h *DeliveryHandler) enqueue(c *fiber.Ctx, req domain.DeliveryRequest) error {
	if h.publisher == nil {
		return fiber.NewError(fiber.StatusServiceUnavailable, "asynchronous delivery is not configured")
	}

	msg := queue.DeliveryMessage{
		CorrelationID:    req.CorrelationID,
		Recipient:        req.Recipient,
		NotificationType: req.NotificationType,
		Subject:          req.Subject,
		Body:             req.Body,
		Payload:          req.Payload,
		RequestedAt:      h.now().UTC(),
	}
	if err := h.publisher.Publish(c.UserContext(), queue.DeliveryQueue, msg); err != nil {
		return fmt.Errorf("failed to enqueue delivery: %w", err)
	}

	return c.Status(fiber.StatusAccepted).JSON(queuedDeliveryResponse{
		Status:        "queued",
		CorrelationID: req.CorrelationID,
	})
}

func toDeliveryResponse(outcome domain.DeliveryOutcome) deliveryResponse {
	resp := deliveryResponse{
		State:          strings.ToLower(outcome.State.String()),
		ContentHash:    outcome.ContentHash,
		AttemptID:      outcome.AttemptID,
		AttemptCount:   outcome.AttemptCount,
		DuplicateCount: outcome.DuplicateCount,
	}
	if !outcome.ExpiresAt.IsZero() {
		expiresAt := outcome.ExpiresAt.UTC()
		resp.ExpiresAt = &expiresAt
	}
	return resp
}

func requestCorrelationID(c *fiber.Ctx) string {
	if value := strings.TrimSpace(c.Get(fiber.HeaderXRequestID)); value != "" {
		return value
	}
	if value, ok := c.Locals("requestid").(string); ok {
		return strings.TrimSpace(value)
	}
	return ""
}
