package provider

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"
)

// ProviderError is a classified transport failure. Transient failures may
// succeed on a later attempt; anything else is final for this content.
type ProviderError struct {
	StatusCode int
	Message    string
	Transient  bool
	// RetryAfter is the transport's own backoff hint, zero when it gave none.
	RetryAfter time.Duration
	Cause      error
}

func (e *ProviderError) Error() string {
	if e == nil {
		return "<nil>"
	}

	kind := "permanent"
	if e.Transient {
		kind = "transient"
	}

	msg := fmt.Sprintf("%s transport failure", kind)
	if e.StatusCode > 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.StatusCode)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *ProviderError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// Permanent builds a non-retryable error, e.g. for an invalid recipient or
// rejected content.
func Permanent(message string) *ProviderError {
	return &ProviderError{Message: message}
}

// Transient builds a retryable error wrapping cause.
func Transient(message string, cause error) *ProviderError {
	return &ProviderError{Message: message, Transient: true, Cause: cause}
}

// IsTransient reports whether an error should be retried. Timeouts and
// network failures are transient, caller cancellation is not, and anything
// unclassified is treated as permanent.
func IsTransient(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}

	var providerErr *ProviderError
	if errors.As(err, &providerErr) {
		return providerErr.Transient
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error
	return errors.As(err, &netErr)
}

// RetryAfter returns the backoff hint carried by err, or zero.
func RetryAfter(err error) time.Duration {
	var providerErr *ProviderError
	if errors.As(err, &providerErr) && providerErr.RetryAfter > 0 {
		return providerErr.RetryAfter
	}
	return 0
}
