package repository

import (
	"time"

	"github.com/kursadbilgin/notifyguard/internal/domain"
)

// IdempotencyKeyModel is the persistence model for the idempotency_keys table.
type IdempotencyKeyModel struct {
	Key       string    `gorm:"column:key;type:varchar(64);primaryKey"`
	CreatedAt time.Time `gorm:"not null;autoCreateTime:false"`
	ExpiresAt time.Time `gorm:"not null"`
}

func (IdempotencyKeyModel) TableName() string {
	return "idempotency_keys"
}

// SendAttemptModel is the persistence model for the send_attempts table.
type SendAttemptModel struct {
	ID               string               `gorm:"type:uuid;primaryKey"`
	IdempotencyKey   string               `gorm:"type:varchar(64);not null"`
	NotificationType string               `gorm:"type:varchar(100);not null"`
	Recipient        string               `gorm:"type:varchar(255);not null"`
	Subject          string               `gorm:"type:varchar(998);not null"`
	Status           domain.AttemptStatus `gorm:"type:varchar(20);not null"`
	ErrorMessage     *string              `gorm:"type:text"`
	AttemptCount     int                  `gorm:"not null"`
	CreatedAt        time.Time            `gorm:"not null;autoCreateTime:false"`
	UpdatedAt        time.Time            `gorm:"not null;autoUpdateTime:false"`
}

func (SendAttemptModel) TableName() string {
	return "send_attempts"
}

// DedupLogEntryModel is the persistence model for dedup_log_entries.
type DedupLogEntryModel struct {
	ID               string    `gorm:"type:uuid;primaryKey"`
	ContentHash      string    `gorm:"type:varchar(64);not null"`
	NotificationType string    `gorm:"type:varchar(100);not null"`
	Recipient        string    `gorm:"type:varchar(255);not null"`
	Subject          string    `gorm:"type:varchar(998);not null"`
	FirstSentAt      time.Time `gorm:"not null"`
	LastAttemptedAt  time.Time `gorm:"not null"`
	AttemptCount     int       `gorm:"not null"`
}

func (DedupLogEntryModel) TableName() string {
	return "dedup_log_entries"
}

// dbTime normalizes timestamps before they reach the database. Postgres keeps
// microseconds and SQLite compares the stored text, so both need UTC at a
// fixed precision.
func dbTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}

func idempotencyKeyModelToDomain(m *IdempotencyKeyModel) *domain.IdempotencyKey {
	if m == nil {
		return nil
	}

	return &domain.IdempotencyKey{
		Key:       m.Key,
		CreatedAt: m.CreatedAt.UTC(),
		ExpiresAt: m.ExpiresAt.UTC(),
	}
}

func sendAttemptModelFromDomain(a *domain.SendAttempt) *SendAttemptModel {
	if a == nil {
		return nil
	}

	return &SendAttemptModel{
		ID:               a.ID,
		IdempotencyKey:   a.IdempotencyKey,
		NotificationType: a.NotificationType,
		Recipient:        a.Recipient,
		Subject:          a.Subject,
		Status:           a.Status,
		ErrorMessage:     a.ErrorMessage,
		AttemptCount:     a.AttemptCount,
		CreatedAt:        dbTime(a.CreatedAt),
		UpdatedAt:        dbTime(a.UpdatedAt),
	}
}

func sendAttemptModelToDomain(m *SendAttemptModel) *domain.SendAttempt {
	if m == nil {
		return nil
	}

	return &domain.SendAttempt{
		ID:               m.ID,
		IdempotencyKey:   m.IdempotencyKey,
		NotificationType: m.NotificationType,
		Recipient:        m.Recipient,
		Subject:          m.Subject,
		Status:           m.Status,
		ErrorMessage:     m.ErrorMessage,
		AttemptCount:     m.AttemptCount,
		CreatedAt:        m.CreatedAt.UTC(),
		UpdatedAt:        m.UpdatedAt.UTC(),
	}
}

func dedupLogEntryModelFromDomain(e *domain.DedupLogEntry) *DedupLogEntryModel {
	if e == nil {
		return nil
	}

	return &DedupLogEntryModel{
		ID:               e.ID,
		ContentHash:      e.ContentHash,
		NotificationType: e.NotificationType,
		Recipient:        e.Recipient,
		Subject:          e.Subject,
		FirstSentAt:      dbTime(e.FirstSentAt),
		LastAttemptedAt:  dbTime(e.LastAttemptedAt),
		AttemptCount:     e.AttemptCount,
	}
}

func dedupLogEntryModelToDomain(m *DedupLogEntryModel) *domain.DedupLogEntry {
	if m == nil {
		return nil
	}

	return &domain.DedupLogEntry{
		ID:               m.ID,
		ContentHash:      m.ContentHash,
		NotificationType: m.NotificationType,
		Recipient:        m.Recipient,
		Subject:          m.Subject,
		FirstSentAt:      m.FirstSentAt.UTC(),
		LastAttemptedAt:  m.LastAttemptedAt.UTC(),
		AttemptCount:     m.AttemptCount,
	}
}
