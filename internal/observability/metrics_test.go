package observability

import (
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsDeliveryCollectors(t *testing.T) {
	t.Parallel()

	metrics := NewMetrics()

	metrics.IncDelivery("Violation_Approved", "DELIVERED")
	metrics.IncDuplicateSuppressed("violation_approved")
	metrics.IncDuplicateSuppressed("violation_approved")
	metrics.IncStoreUnavailable()
	metrics.IncDedupLogWriteFailure()
	metrics.IncRetryScheduled("violation_approved")
	metrics.ObserveSendDuration("violation_approved", 120*time.Millisecond)
	metrics.IncWorkerInFlight()
	metrics.DecWorkerInFlight()

	if got := testutil.ToFloat64(metrics.deliveriesTotal.WithLabelValues("violation_approved", "delivered")); got != 1 {
		t.Fatalf("deliveries_total = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.duplicatesSuppressedTotal.WithLabelValues("violation_approved")); got != 2 {
		t.Fatalf("duplicates_suppressed_total = %v, want 2", got)
	}
	if got := testutil.ToFloat64(metrics.storeUnavailableTotal); got != 1 {
		t.Fatalf("store_unavailable_total = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.dedupLogWriteFailuresTotal); got != 1 {
		t.Fatalf("dedup_log_write_failures_total = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.retryScheduledTotal.WithLabelValues("violation_approved")); got != 1 {
		t.Fatalf("retry_scheduled_total = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.workerInflight); got != 0 {
		t.Fatalf("worker_inflight = %v, want 0", got)
	}
}

func TestMetricsSweepDeleted(t *testing.T) {
	t.Parallel()

	metrics := NewMetrics()
	metrics.AddSweepDeleted("keys", 3)
	metrics.AddSweepDeleted("keys", 0)
	metrics.AddSweepDeleted("logs", 2)

	if got := testutil.ToFloat64(metrics.sweepDeletedTotal.WithLabelValues("keys")); got != 3 {
		t.Fatalf("sweep_deleted_total{keys} = %v, want 3", got)
	}
	if got := testutil.ToFloat64(metrics.sweepDeletedTotal.WithLabelValues("logs")); got != 2 {
		t.Fatalf("sweep_deleted_total{logs} = %v, want 2", got)
	}
}

func TestMetricsNilReceiverIsNoop(t *testing.T) {
	t.Parallel()

	var metrics *Metrics
	metrics.IncDelivery("t", "delivered")
	metrics.IncDuplicateSuppressed("t")
	metrics.IncStoreUnavailable()
	metrics.AddSweepDeleted("keys", 1)
	if metrics.Handler() == nil {
		t.Fatal("Handler() should fall back to the default handler")
	}
}

func TestMetricsHTTPMiddlewareRecordsRequest(t *testing.T) {
	t.Parallel()

	metrics := NewMetrics()
	app := fiber.New()
	app.Use(metrics.HTTPMiddleware())
	app.Get("/livez", func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusOK)
	})

	req := httptest.NewRequest("GET", "/livez", nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	if got := testutil.ToFloat64(metrics.httpRequestsTotal.WithLabelValues("GET", "/livez", "200")); got != 1 {
		t.Fatalf("http_requests_total = %v, want 1", got)
	}
}

func TestMetricsHTTPMiddlewareRecordsErrorStatus(t *testing.T) {
	t.Parallel()

	metrics := NewMetrics()
	app := fiber.New()
	app.Use(metrics.HTTPMiddleware())
	app.Get("/boom", func(c *fiber.Ctx) error {
		return errors.New("boom")
	})

	req := httptest.NewRequest("GET", "/boom", nil)
	_, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}

	if got := testutil.ToFloat64(metrics.httpRequestsTotal.WithLabelValues("GET", "/boom", "500")); got != 1 {
		t.Fatalf("http_requests_total = %v, want 1", got)
	}
}
