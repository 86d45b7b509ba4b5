package domain

import "time"

// DedupLogEntry records duplicate sends that were suppressed during one
// suppression episode of a content hash.
type DedupLogEntry struct {
	ID               string
	ContentHash      string
	NotificationType string
	Recipient        string
	Subject          string
	FirstSentAt      time.Time
	LastAttemptedAt  time.Time
	AttemptCount     int
}
