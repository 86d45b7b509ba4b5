package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/kursadbilgin/notifyguard/internal/repository"
	"gorm.io/gorm"
)

func createIdempotencyKeysTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000001_create_idempotency_keys",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.IdempotencyKeyModel{}); err != nil {
				return err
			}
			return tx.Exec(`CREATE INDEX IF NOT EXISTS idx_idempotency_keys_expires_at ON idempotency_keys (expires_at)`).Error
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.IdempotencyKeyModel{})
		},
	}
}
