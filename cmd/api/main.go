package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/kursadbilgin/notifyguard/internal/config"
	"github.com/kursadbilgin/notifyguard/internal/fingerprint"
	"github.com/kursadbilgin/notifyguard/internal/handler"
	"github.com/kursadbilgin/notifyguard/internal/idempotency"
	"github.com/kursadbilgin/notifyguard/internal/infra/database"
	infraredis "github.com/kursadbilgin/notifyguard/internal/infra/redis"
	"github.com/kursadbilgin/notifyguard/internal/observability"
	"github.com/kursadbilgin/notifyguard/internal/provider"
	"github.com/kursadbilgin/notifyguard/internal/queue"
	"github.com/kursadbilgin/notifyguard/internal/repository"
	"github.com/kursadbilgin/notifyguard/internal/service"
	"github.com/kursadbilgin/notifyguard/internal/transport"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	shutdownTimeout  = 10 * time.Second
	consumerPrefetch = 16
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("failed to load config: ", err)
	}

	logger, err := observability.NewLogger(cfg.LogLevel)
	if err != nil {
		log.Fatal("failed to initialize logger: ", err)
	}
	defer logger.Sync() //nolint:errcheck

	if err := run(cfg, logger); err != nil {
		logger.Fatal("notifyguard api stopped with error", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.OpenAndMigrate(cfg.DatabaseDriver, cfg.DatabaseDSN)
	if err != nil {
		return fmt.Errorf("database initialization failed: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("underlying db init failed: %w", err)
	}
	defer sqlDB.Close()

	rdb, err := infraredis.NewRedis(ctx, cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("redis initialization failed: %w", err)
	}
	defer rdb.Close()

	var store idempotency.Store
	switch cfg.Backend() {
	case config.BackendRedis:
		store, err = infraredis.NewRedisIdempotencyStore(rdb)
		if err != nil {
			return fmt.Errorf("redis idempotency store init failed: %w", err)
		}
	default:
		store = repository.NewGormIdempotencyStore(db).WithTakeoverGrace(cfg.ClockSkewTolerance())
	}

	rules, err := fingerprint.LoadRules(cfg.FingerprintRulesPath)
	if err != nil {
		return err
	}
	if rules.Scope == "" {
		scope, err := fingerprint.ParseScope(cfg.DedupKeyScope)
		if err != nil {
			return err
		}
		rules.Scope = scope
	}

	relay, err := provider.NewMailRelayProvider(cfg.MailRelayURL)
	if err != nil {
		return fmt.Errorf("mail relay provider init failed: %w", err)
	}
	limiter, err := infraredis.NewRedisRateLimiter(rdb, cfg.RateLimitPerSec)
	if err != nil {
		return fmt.Errorf("rate limiter init failed: %w", err)
	}

	mq, err := queue.NewRabbitMQ(cfg.RabbitMQURL)
	if err != nil {
		return fmt.Errorf("rabbitmq initialization failed: %w", err)
	}
	defer mq.Close()
	publisher := queue.NewRabbitMQPublisher(mq)
	defer publisher.Close()
	consumer := queue.NewRabbitMQConsumer(mq, consumerPrefetch, logger)
	defer consumer.Close()

	metrics := observability.NewMetrics()
	attempts := repository.NewGormAttemptRepo(db)
	dedupLog := repository.NewGormDedupLogRepo(db)

	coordinator, err := service.NewDeliveryCoordinator(
		fingerprint.New(rules),
		store,
		attempts,
		dedupLog,
		relay,
		limiter,
		service.CoordinatorConfig{
			DedupWindow:   cfg.DedupWindow(),
			MaxRetries:    cfg.MaxRetries,
			RetryDelay:    cfg.RetryDelay(),
			MaxRetryDelay: cfg.MaxRetryDelay(),
			Timeout:       cfg.Timeout(),
		},
		logger,
	)
	if err != nil {
		return err
	}
	coordinator.SetMetrics(metrics)

	sweeper, err := service.NewCleanupSweeper(store, attempts, dedupLog, cfg.Retention(), cfg.CleanupInterval(), logger)
	if err != nil {
		return err
	}
	sweeper.SetMetrics(metrics)

	stats, err := service.NewStatsAggregator(attempts, dedupLog, logger)
	if err != nil {
		return err
	}

	worker, err := service.NewDeliveryWorker(coordinator, consumer, cfg.WorkerConcurrency, logger)
	if err != nil {
		return err
	}
	worker.SetMetrics(metrics)

	app := fiber.New(fiber.Config{
		AppName:               "notifyguard",
		DisableStartupMessage: true,
		ErrorHandler:          transport.ErrorHandler(logger),
	})
	app.Use(recover.New())
	app.Use(requestid.New())
	app.Use(metrics.HTTPMiddleware())
	app.Get("/metrics", adaptor.HTTPHandler(metrics.Handler()))

	handler.RegisterHealthRoutes(app, sqlDB, rdb)
	if err := handler.RegisterDeliveryRoutes(app, coordinator, publisher); err != nil {
		return err
	}
	if err := handler.RegisterReportRoutes(app, stats, sweeper, store); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		addr := ":" + strconv.Itoa(cfg.APIPort)
		logger.Info("notifyguard api started",
			zap.String("addr", addr),
			zap.String("idempotencyBackend", cfg.Backend()),
			zap.String("databaseDriver", cfg.DatabaseDriver),
		)
		return app.Listen(addr)
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return app.ShutdownWithContext(shutdownCtx)
	})
	g.Go(func() error {
		return worker.Start(gctx)
	})
	g.Go(func() error {
		return sweeper.Start(gctx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	logger.Info("notifyguard api stopped")
	return nil
}
