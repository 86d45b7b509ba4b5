// Package database selects the SQL backend and brings its schema up to date.
package database

import (
	"fmt"
	"strings"

	"github.com/kursadbilgin/notifyguard/internal/infra/postgresql"
	"github.com/kursadbilgin/notifyguard/internal/infra/postgresql/migrations"
	"github.com/kursadbilgin/notifyguard/internal/infra/sqlite"
	"gorm.io/gorm"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Open connects to the configured driver. It does not run migrations.
func Open(driver, dsn string) (*gorm.DB, error) {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case DriverPostgres, "":
		return postgresql.NewPostgres(dsn)
	case DriverSQLite:
		return sqlite.NewSQLite(dsn)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
}

// OpenAndMigrate connects and applies pending migrations.
func OpenAndMigrate(driver, dsn string) (*gorm.DB, error) {
	db, err := Open(driver, dsn)
	if err != nil {
		return nil, err
	}
	if err := migrations.Migrate(db); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return db, nil
}
