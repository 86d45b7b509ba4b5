package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/kursadbilgin/notifyguard/internal/config"
	"github.com/kursadbilgin/notifyguard/internal/idempotency"
	"github.com/kursadbilgin/notifyguard/internal/infra/database"
	infraredis "github.com/kursadbilgin/notifyguard/internal/infra/redis"
	"github.com/kursadbilgin/notifyguard/internal/observability"
	"github.com/kursadbilgin/notifyguard/internal/repository"
	"go.uber.org/zap"
)

// storage bundles the repositories a command needs. close releases every
// connection opened for it.
type storage struct {
	cfg      *config.StorageConfig
	logger   *zap.Logger
	store    idempotency.Store
	attempts *repository.GormAttemptRepo
	dedupLog *repository.GormDedupLogRepo
	closers  []func() error
}

func openStorage(ctx context.Context) (*storage, error) {
	cfg, err := config.LoadStorage()
	if err != nil {
		return nil, err
	}

	logger, err := observability.NewLogger(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	db, err := database.OpenAndMigrate(cfg.DatabaseDriver, cfg.DatabaseDSN)
	if err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}

	s := &storage{
		cfg:      cfg,
		logger:   logger,
		attempts: repository.NewGormAttemptRepo(db),
		dedupLog: repository.NewGormDedupLogRepo(db),
		closers:  []func() error{sqlDB.Close},
	}

	switch cfg.Backend() {
	case config.BackendRedis:
		rdb, err := infraredis.NewRedis(ctx, cfg.RedisURL)
		if err != nil {
			_ = s.close()
			return nil, err
		}
		s.closers = append(s.closers, rdb.Close)
		store, err := infraredis.NewRedisIdempotencyStore(rdb)
		if err != nil {
			_ = s.close()
			return nil, err
		}
		s.store = store
	default:
		s.store = repository.NewGormIdempotencyStore(db).WithTakeoverGrace(s.cfg.ClockSkewTolerance())
	}

	return s, nil
}

func (s *storage) close() error {
	var firstErr error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	_ = s.logger.Sync()
	return firstErr
}

func printJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
