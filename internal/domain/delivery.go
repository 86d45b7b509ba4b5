package domain

import (
	"fmt"
	"strings"
	"time"
)

// Content limits (in characters).
const (
	MaxRecipientLength = 255
	MaxSubjectLength   = 998
	MaxBodyLength      = 100000
)

// DeliveryRequest is a caller's intent to send one notification.
type DeliveryRequest struct {
	CorrelationID    string
	Recipient        string
	NotificationType string
	Subject          string
	Body             string
	// Payload carries the structured facts behind the notification (violation
	// id, status, ...). Only dedup-relevant fields contribute to the fingerprint.
	Payload map[string]any
}

func (r *DeliveryRequest) Normalize() {
	r.CorrelationID = strings.TrimSpace(r.CorrelationID)
	r.Recipient = strings.TrimSpace(r.Recipient)
	r.NotificationType = strings.TrimSpace(r.NotificationType)
	r.Subject = strings.TrimSpace(r.Subject)
}

func (r *DeliveryRequest) Validate() error {
	if r.Recipient == "" {
		return fmt.Errorf("%w: recipient is required", ErrValidation)
	}
	if r.NotificationType == "" {
		return fmt.Errorf("%w: notification type is required", ErrValidation)
	}
	if n := len([]rune(r.Recipient)); n > MaxRecipientLength {
		return fmt.Errorf("%w: recipient exceeds %d characters (got %d)", ErrValidation, MaxRecipientLength, n)
	}
	if n := len([]rune(r.Subject)); n > MaxSubjectLength {
		return fmt.Errorf("%w: subject exceeds %d characters (got %d)", ErrValidation, MaxSubjectLength, n)
	}
	if n := len([]rune(r.Body)); n > MaxBodyLength {
		return fmt.Errorf("%w: body exceeds %d characters (got %d)", ErrValidation, MaxBodyLength, n)
	}
	return nil
}

// State is a step of the per-send delivery state machine.
type State string

const (
	StateRequested      State = "REQUESTED"
	StateFingerprinted  State = "FINGERPRINTED"
	StateSuppressed     State = "SUPPRESSED"
	StateAccepted       State = "ACCEPTED"
	StateSending        State = "SENDING"
	StateRetryScheduled State = "RETRY_SCHEDULED"
	StateDelivered      State = "DELIVERED"
	StateFailed         State = "FAILED"
)

func (s State) String() string { return string(s) }

var stateTransitions = map[State][]State{
	StateRequested:      {StateFingerprinted},
	StateFingerprinted:  {StateSuppressed, StateAccepted},
	StateAccepted:       {StateSending, StateFailed},
	StateSending:        {StateDelivered, StateRetryScheduled, StateFailed},
	StateRetryScheduled: {StateSending},
}

// CanTransition reports whether from -> to is an edge of the state machine.
func (s State) CanTransition(to State) bool {
	for _, next := range stateTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the state ends a Deliver invocation.
func (s State) IsTerminal() bool {
	switch s {
	case StateSuppressed, StateDelivered, StateFailed:
		return true
	}
	return false
}

// DeliveryOutcome is what the coordinator reports back to the caller.
type DeliveryOutcome struct {
	State        State
	ContentHash  string
	AttemptID    string
	AttemptCount int
	ExpiresAt    time.Time
	// DuplicateCount is the number of suppressed duplicates in the current
	// episode, including this one. Zero unless State is SUPPRESSED.
	DuplicateCount int
}
