package domain

import "time"

// IdempotencyKey records that a fingerprint has been accepted for sending
// until ExpiresAt.
type IdempotencyKey struct {
	Key       string
	CreatedAt time.Time
	ExpiresAt time.Time
}

// IsLive reports whether the key still suppresses duplicates at now.
func (k IdempotencyKey) IsLive(now time.Time) bool {
	return k.ExpiresAt.After(now)
}
