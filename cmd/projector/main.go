package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/spbu-ds-practicum-2025/ledger-service/internal/config"
	"github.com/spbu-ds-practicum-2025/ledger-service/internal/observability"
	"github.com/spbu-ds-practicum-2025/ledger-service/internal/projection"
	"github.com/spbu-ds-practicum-2025/ledger-service/internal/resilience"
)

func main() {
	if err := config.LoadDotEnv(".env"); err != nil {
		fmt.Fprintf(os.Stderr, "failed to load .env: %v\n", err)
		os.Exit(1)
	}
	cfg := config.Load()

	logger := observability.NewLogger(cfg.LogLevel)
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("projector failed", zap.Error(err))
	}
	logger.Info("projector stopped")
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	if cfg.RabbitMQ.URL == "" {
		return errors.New("RABBITMQ_URL is required")
	}
	logger.Info("configuration loaded",
		zap.String("clickhouse", cfg.ClickHouse.Host+"/"+cfg.ClickHouse.Database),
		zap.String("exchange", cfg.RabbitMQ.Exchange),
		zap.String("queue", cfg.RabbitMQ.Queue))

	metrics := observability.NewMetrics()
	retry := resilience.Config{MaxRetries: cfg.MaxRetries, InitialBackoff: cfg.InitialBackoff}

	var store *projection.ClickHouseStore
	err := resilience.RetryWithBackoff(ctx, retry, func() error {
		var err error
		store, err = projection.NewClickHouseStore(ctx, cfg.ClickHouse)
		if err != nil {
			logger.Warn("clickhouse not ready", zap.Error(err))
		}
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to initialize ClickHouse store: %w", err)
	}
	defer store.Close()
	logger.Info("connected to ClickHouse")

	var consumer *projection.Consumer
	err = resilience.RetryWithBackoff(ctx, retry, func() error {
		var err error
		consumer, err = projection.NewConsumer(cfg.RabbitMQ, store, metrics, logger)
		if err != nil {
			logger.Warn("rabbitmq not ready", zap.Error(err))
		}
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to initialize RabbitMQ consumer: %w", err)
	}
	defer consumer.Close()

	httpServer := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           projection.NewRouter(store, metrics.Registry, logger),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return consumer.Start(gctx)
	})
	g.Go(func() error {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
