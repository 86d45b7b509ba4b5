package observability

import (
	"context"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNewLogger_LevelMapping(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name         string
		level        string
		debugEnabled bool
	}{
		{name: "debug level", level: "debug", debugEnabled: true},
		{name: "info level", level: "info", debugEnabled: false},
		{name: "empty level defaults to info", level: "", debugEnabled: false},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			logger, err := NewLogger(tc.level)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if logger == nil {
				t.Fatal("logger should not be nil")
			}

			if got := logger.Core().Enabled(zapcore.DebugLevel); got != tc.debugEnabled {
				t.Fatalf("debug enabled=%v, want=%v", got, tc.debugEnabled)
			}
		})
	}
}

func TestNewLogger_InvalidLevel(t *testing.T) {
	t.Parallel()

	if logger, err := NewLogger("not-a-level"); err == nil || logger != nil {
		t.Fatalf("NewLogger(not-a-level) = %v, %v, want nil logger and error", logger, err)
	}
}

func TestCorrelationIDRoundTrip(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name   string
		ctx    context.Context
		wantID string
		wantOK bool
	}{
		{name: "set", ctx: WithCorrelationID(context.Background(), "cid-123"), wantID: "cid-123", wantOK: true},
		{name: "empty value is absent", ctx: WithCorrelationID(context.Background(), ""), wantOK: false},
		{name: "missing", ctx: context.Background(), wantOK: false},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			id, ok := CorrelationIDFromContext(tc.ctx)
			if id != tc.wantID || ok != tc.wantOK {
				t.Fatalf("CorrelationIDFromContext() = %q, %v, want %q, %v", id, ok, tc.wantID, tc.wantOK)
			}
		})
	}
}

func TestWithContextLogger(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name   string
		ctx    context.Context
		wantID any
	}{
		{name: "adds correlation id", ctx: WithCorrelationID(context.Background(), "cid-789"), wantID: "cid-789"},
		{name: "leaves logger alone without id", ctx: context.Background(), wantID: nil},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			core, recorded := observer.New(zapcore.InfoLevel)
			WithContextLogger(zap.New(core), tc.ctx).Info("delivery accepted")

			entries := recorded.All()
			if len(entries) != 1 {
				t.Fatalf("entries = %d, want 1", len(entries))
			}
			if got := entries[0].ContextMap()["correlationId"]; got != tc.wantID {
				t.Fatalf("correlationId = %v, want %v", got, tc.wantID)
			}
		})
	}

	if WithContextLogger(nil, context.Background()) != nil {
		t.Fatal("nil logger should stay nil")
	}
}

func TestMaskRecipient(t *testing.T) {
	t.Parallel()

	testCases := map[string]string{
		"jane.doe@example.com": "j***@example.com",
		"  u@x.com ":           "u***@x.com",
		"@x.com":               "***@x.com",
		"+905551112233":        "+***",
		"":                     "",
	}

	for input, want := range testCases {
		if got := MaskRecipient(input); got != want {
			t.Fatalf("MaskRecipient(%q) = %q, want %q", input, got, want)
		}
	}
}

func TestDeliveryFields(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zapcore.InfoLevel)
	zap.New(core).Info("delivered", DeliveryFields("abc", "violation_approved", "u@x.com")...)

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("entries = %d, want 1", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["contentHash"] != "abc" || fields["notificationType"] != "violation_approved" {
		t.Fatalf("fields = %v", fields)
	}
	if fields["recipient"] != "u***@x.com" {
		t.Fatalf("recipient = %v, want masked", fields["recipient"])
	}
}
