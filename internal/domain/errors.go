package domain

import "errors"

var (
	ErrValidation = errors.New("validation error")
	ErrNotFound   = errors.New("not found")
	ErrConflict   = errors.New("conflict")

	// ErrStoreUnavailable means the idempotency store could not decide an
	// acquisition. The send is not attempted.
	ErrStoreUnavailable = errors.New("idempotency store unavailable")

	// ErrPermanentDelivery is returned when the transport rejects a send in a
	// way that will never succeed on retry.
	ErrPermanentDelivery = errors.New("permanent delivery failure")

	// ErrTerminalDelivery is returned when transient failures exhausted the
	// retry budget.
	ErrTerminalDelivery = errors.New("terminal delivery failure")
)
