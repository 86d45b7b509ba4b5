package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/kursadbilgin/notifyguard/internal/repository"
	"gorm.io/gorm"
)

func createSendAttemptsTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000002_create_send_attempts",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.SendAttemptModel{}); err != nil {
				return err
			}
			return execAll(tx, []string{
				`CREATE INDEX IF NOT EXISTS idx_send_attempts_updated_at ON send_attempts (updated_at)`,
				`CREATE INDEX IF NOT EXISTS idx_send_attempts_idempotency_key ON send_attempts (idempotency_key)`,
				`CREATE INDEX IF NOT EXISTS idx_send_attempts_recipient ON send_attempts (recipient)`,
				`CREATE INDEX IF NOT EXISTS idx_send_attempts_queued ON send_attempts (updated_at) WHERE status = 'queued'`,
			})
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.SendAttemptModel{})
		},
	}
}
