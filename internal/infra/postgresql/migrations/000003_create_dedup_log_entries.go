package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/kursadbilgin/notifyguard/internal/repository"
	"gorm.io/gorm"
)

func createDedupLogEntriesTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000003_create_dedup_log_entries",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.DedupLogEntryModel{}); err != nil {
				return err
			}
			// The upsert in GormDedupLogRepo conflicts on this index.
			return execAll(tx, []string{
				`CREATE UNIQUE INDEX IF NOT EXISTS idx_dedup_log_entries_episode ON dedup_log_entries (content_hash, first_sent_at)`,
				`CREATE INDEX IF NOT EXISTS idx_dedup_log_entries_last_attempted_at ON dedup_log_entries (last_attempted_at)`,
			})
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.DedupLogEntryModel{})
		},
	}
}
