package handler

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/notifyguard/internal/domain"
	"github.com/kursadbilgin/notifyguard/internal/idempotency"
	"github.com/kursadbilgin/notifyguard/internal/repository"
	"github.com/kursadbilgin/notifyguard/internal/service"
)

const (
	defaultPage        = 1
	defaultPageSize    = 50
	maxPageSize        = 100
	defaultStatsWindow = 24 * time.Hour
)

type StatsService interface {
	Stats(ctx context.Context, since time.Duration) (service.Stats, error)
	ListAttempts(ctx context.Context, params repository.ListParams) ([]domain.SendAttempt, int64, error)
	ListDedupLog(ctx context.Context, params repository.ListParams) ([]domain.DedupLogEntry, int64, error)
}

type CleanupService interface {
	Policy() service.RetentionPolicy
	Sweep(ctx context.Context, policy service.RetentionPolicy) (service.SweepResult, error)
}

// ReportHandler serves the read side used by the reporting UI plus the
// on-demand cleanup trigger.
type ReportHandler struct {
	stats   StatsService
	cleanup CleanupService
	keys    idempotency.Store
}

func NewReportHandler(stats StatsService, cleanup CleanupService, keys idempotency.Store) (*ReportHandler, error) {
	if stats == nil {
		return nil, fmt.Errorf("stats service is required")
	}
	if cleanup == nil {
		return nil, fmt.Errorf("cleanup service is required")
	}
	if keys == nil {
		return nil, fmt.Errorf("idempotency store is required")
	}
	return &ReportHandler{stats: stats, cleanup: cleanup, keys: keys}, nil
}

func RegisterReportRoutes(router fiber.Router, stats StatsService, cleanup CleanupService, keys idempotency.Store) error {
	h, err := NewReportHandler(stats, cleanup, keys)
	if err != nil {
		return err
	}

	v1 := router.Group("/v1")
	v1.Get("/stats", h.GetStats)
	v1.Get("/dedup-logs", h.ListDedupLogs)
	v1.Get("/attempts", h.ListAttempts)
	v1.Get("/idempotency-keys/:key", h.GetIdempotencyKey)
	v1.Post("/cleanup", h.Cleanup)

	return nil
}

type listMeta struct {
	Page     int   `json:"page"`
	PageSize int   `json:"pageSize"`
	Total    int64 `json:"total"`
}

type attemptResponse struct {
	ID               string    `json:"id"`
	IdempotencyKey   string    `json:"idempotencyKey"`
	NotificationType string    `json:"notificationType"`
	Recipient        string    `json:"recipient"`
	Subject          string    `json:"subject,omitempty"`
	Status           string    `json:"status"`
	ErrorMessage     *string   `json:"errorMessage,omitempty"`
	AttemptCount     int       `json:"attemptCount"`
	CreatedAt        time.Time `json:"createdAt"`
	UpdatedAt        time.Time `json:"updatedAt"`
}

type listAttemptsResponse struct {
	Data []attemptResponse `json:"data"`
	Meta listMeta          `json:"meta"`
}

type dedupLogResponse struct {
	ID               string    `json:"id"`
	ContentHash      string    `json:"contentHash"`
	NotificationType string    `json:"notificationType"`
	Recipient        string    `json:"recipient"`
	Subject          string    `json:"subject,omitempty"`
	FirstSentAt      time.Time `json:"firstSentAt"`
	LastAttemptedAt  time.Time `json:"lastAttemptedAt"`
	AttemptCount     int       `json:"attemptCount"`
}

type listDedupLogsResponse struct {
	Data []dedupLogResponse `json:"data"`
	Meta listMeta           `json:"meta"`
}

type idempotencyKeyResponse struct {
	Key       string     `json:"key"`
	Live      bool       `json:"live"`
	CreatedAt *time.Time `json:"createdAt,omitempty"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
}

func (h *ReportHandler) GetStats(c *fiber.Ctx) error {
	since, err := parseSince(c.Query("since"))
	if err != nil {
		return toHTTPError(err)
	}

	stats, err := h.stats.Stats(c.UserContext(), since)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(stats)
}

func (h *ReportHandler) ListAttempts(c *fiber.Ctx) error {
	params, err := parseListParams(c, true)
	if err != nil {
		return toHTTPError(err)
	}

	attempts, total, err := h.stats.ListAttempts(c.UserContext(), params)
	if err != nil {
		return toHTTPError(err)
	}

	data := make([]attemptResponse, 0, len(attempts))
	for _, a := range attempts {
		data = append(data, attemptResponse{
			ID:               a.ID,
			IdempotencyKey:   a.IdempotencyKey,
			NotificationType: a.NotificationType,
			Recipient:        a.Recipient,
			Subject:          a.Subject,
			Status:           a.Status.String(),
			ErrorMessage:     a.ErrorMessage,
			AttemptCount:     a.AttemptCount,
			CreatedAt:        a.CreatedAt,
			UpdatedAt:        a.UpdatedAt,
		})
	}

	return c.Status(fiber.StatusOK).JSON(listAttemptsResponse{
		Data: data,
		Meta: listMeta{Page: params.Page, PageSize: params.PageSize, Total: total},
	})
}

func (h *ReportHandler) ListDedupLogs(c *fiber.Ctx) error {
	params, err := parseListParams(c, false)
	if err != nil {
		return toHTTPError(err)
	}

	entries, total, err := h.stats.ListDedupLog(c.UserContext(), params)
	if err != nil {
		return toHTTPError(err)
	}

	data := make([]dedupLogResponse, 0, len(entries))
	for _, e := range entries {
		data = append(data, dedupLogResponse{
			ID:               e.ID,
			ContentHash:      e.ContentHash,
			NotificationType: e.NotificationType,
			Recipient:        e.Recipient,
			Subject:          e.Subject,
			FirstSentAt:      e.FirstSentAt,
			LastAttemptedAt:  e.LastAttemptedAt,
			AttemptCount:     e.AttemptCount,
		})
	}

	return c.Status(fiber.StatusOK).JSON(listDedupLogsResponse{
		Data: data,
		Meta: listMeta{Page: params.Page, PageSize: params.PageSize, Total: total},
	})
}

// GetIdempotencyKey reports whether a content hash is currently suppressing
// duplicates. Stores that can inspect holders also report its window.
func (h *ReportHandler) GetIdempotencyKey(c *fiber.Ctx) error {
	key := strings.TrimSpace(c.Params("key"))
	if key == "" {
		return toHTTPError(fmt.Errorf("%w: key is required", domain.ErrValidation))
	}

	live, err := h.keys.IsLive(c.UserContext(), key)
	if err != nil {
		return toHTTPError(fmt.Errorf("%w: %w", domain.ErrStoreUnavailable, err))
	}

	resp := idempotencyKeyResponse{Key: key, Live: live}
	if inspector, ok := h.keys.(idempotency.Inspector); ok {
		holder, err := inspector.Get(c.UserContext(), key)
		switch {
		case err == nil:
			resp.CreatedAt = &holder.CreatedAt
			resp.ExpiresAt = &holder.ExpiresAt
		case !errors.Is(err, domain.ErrNotFound):
			return toHTTPError(fmt.Errorf("%w: %w", domain.ErrStoreUnavailable, err))
		}
	}

	return c.Status(fiber.StatusOK).JSON(resp)
}

func (h *ReportHandler) Cleanup(c *fiber.Ctx) error {
	result, err := h.cleanup.Sweep(c.UserContext(), h.cleanup.Policy())
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusOK).JSON(result)
}

// parseSince accepts Go durations ("90m", "24h") and whole days ("7d").
func parseSince(raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return defaultStatsWindow, nil
	}

	var (
		since time.Duration
		err   error
	)
	if days, ok := strings.CutSuffix(raw, "d"); ok {
		var n int
		n, err = strconv.Atoi(days)
		since = time.Duration(n) * 24 * time.Hour
	} else {
		since, err = time.ParseDuration(raw)
	}
	if err != nil || since <= 0 {
		return 0, fmt.Errorf("%w: since must be a positive duration such as 24h or 7d", domain.ErrValidation)
	}
	return since, nil
}

func parseListParams(c *fiber.Ctx, allowStatus bool) (repository.ListParams, error) {
	params := repository.ListParams{
		Page:             c.QueryInt("page", defaultPage),
		PageSize:         c.QueryInt("pageSize", defaultPageSize),
		Recipient:        strings.TrimSpace(c.Query("recipient")),
		NotificationType: strings.TrimSpace(c.Query("type")),
	}

	if params.Page < 1 {
		return repository.ListParams{}, fmt.Errorf("%w: page must be >= 1", domain.ErrValidation)
	}
	if params.PageSize < 1 || params.PageSize > maxPageSize {
		return repository.ListParams{}, fmt.Errorf("%w: pageSize must be between 1 and %d", domain.ErrValidation, maxPageSize)
	}

	if rawStatus := strings.TrimSpace(c.Query("status")); rawStatus != "" {
		if !allowStatus {
			return repository.ListParams{}, fmt.Errorf("%w: status filter is not supported here", domain.ErrValidation)
		}
		status, err := domain.ParseAttemptStatusFromString(rawStatus)
		if err != nil {
			return repository.ListParams{}, err
		}
		params.Status = &status
	}

	from, err := parseRFC3339Query(c.Query("from"), "from")
	if err != nil {
		return repository.ListParams{}, err
	}
	to, err := parseRFC3339Query(c.Query("to"), "to")
	if err != nil {
		return repository.ListParams{}, err
	}
	if from != nil && to != nil && to.Before(*from) {
		return repository.ListParams{}, fmt.Errorf("%w: to must not be before from", domain.ErrValidation)
	}
	params.From = from
	params.To = to

	return params, nil
}

func parseRFC3339Query(value string, field string) (*time.Time, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, nil
	}

	t, err := time.Parse(time.RFC3339, trimmed)
	if err != nil {
		return nil, fmt.Errorf("%w: %s must be RFC3339", domain.ErrValidation, field)
	}
	return &t, nil
}
