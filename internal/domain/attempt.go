package domain

import (
	"fmt"
	"strings"
	"time"
)

// AttemptStatus is the final or in-flight status of a logical send.
type AttemptStatus string

const (
	AttemptStatusQueued AttemptStatus = "queued"
	AttemptStatusSent   AttemptStatus = "sent"
	AttemptStatusFailed AttemptStatus = "failed"
)

func (s AttemptStatus) String() string { return string(s) }

func (s AttemptStatus) IsValid() bool {
	switch s {
	case AttemptStatusQueued, AttemptStatusSent, AttemptStatusFailed:
		return true
	}
	return false
}

// IsTerminal reports whether no further transport call will be made for the attempt.
func (s AttemptStatus) IsTerminal() bool {
	return s == AttemptStatusSent || s == AttemptStatusFailed
}

func ParseAttemptStatusFromString(s string) (AttemptStatus, error) {
	st := AttemptStatus(strings.ToLower(strings.TrimSpace(s)))
	if !st.IsValid() {
		return "", fmt.Errorf("%w: invalid attempt status %q", ErrValidation, s)
	}
	return st, nil
}

// SendAttempt is the ledger row for one logical send intent. Retries of the
// same send mutate the row in place.
type SendAttempt struct {
	ID               string
	IdempotencyKey   string
	NotificationType string
	Recipient        string
	Subject          string
	Status           AttemptStatus
	ErrorMessage     *string
	AttemptCount     int
	CreatedAt        time.Time
	UpdatedAt        time.Time
}
