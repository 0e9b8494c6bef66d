package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/wolfman30/clinic-scheduling-platform/internal/app/bootstrap"
	"github.com/wolfman30/clinic-scheduling-platform/internal/config"
	"github.com/wolfman30/clinic-scheduling-platform/pkg/logging"
)

// processedRetention outlives the longest outbox backoff by a wide margin.
const processedRetention = 30 * 24 * time.Hour

// outbox-worker delivers outbox events to the external calendar and the
// front-desk mailer. Run it when OUTBOX_IN_PROCESS=false on the API.
func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	logger := logging.New(cfg.LogLevel)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := bootstrap.BuildPostgresPool(ctx, cfg)
	if err != nil {
		logger.Error("outbox worker requires postgres", "error", err)
		os.Exit(1)
	}
	defer pool.Close()
	sqlDB := stdlib.OpenDBFromPool(pool)
	defer sqlDB.Close()

	redisClient := bootstrap.BuildRedisClient(ctx, cfg, logger, true)
	calendarClient, err := bootstrap.BuildCalendarClient(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to create calendar client", "error", err)
		os.Exit(1)
	}

	engine, err := bootstrap.BuildEngine(cfg, bootstrap.EngineDeps{
		DB:         pool,
		SQL:        sqlDB,
		Redis:      redisClient,
		Calendar:   calendarClient,
		Registerer: prometheus.NewRegistry(),
		Logger:     logger,
	})
	if err != nil {
		logger.Error("failed to build engine", "error", err)
		os.Exit(1)
	}

	deliverer := bootstrap.BuildDeliverer(cfg, engine, bootstrap.BuildEmailSender(cfg, logger), logger)
	go deliverer.Start(ctx)
	go bootstrap.RunProcessedJanitor(ctx, engine.Processed, processedRetention, 6*time.Hour, logger)
	logger.Info("outbox worker started", "interval", cfg.OutboxPollInterval, "batch", cfg.OutboxBatchSize)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	logger.Info("outbox worker shutting down")
	cancel()
	if redisClient != nil {
		_ = redisClient.Close()
	}
	time.Sleep(2 * time.Second)
}
