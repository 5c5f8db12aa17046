package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/spbu-ds-practicum-2025/ledger-service/internal/auth"
	"github.com/spbu-ds-practicum-2025/ledger-service/internal/cache"
	"github.com/spbu-ds-practicum-2025/ledger-service/internal/cardnumber"
	"github.com/spbu-ds-practicum-2025/ledger-service/internal/config"
	"github.com/spbu-ds-practicum-2025/ledger-service/internal/db"
	"github.com/spbu-ds-practicum-2025/ledger-service/internal/domain"
	"github.com/spbu-ds-practicum-2025/ledger-service/internal/events"
	grpcserver "github.com/spbu-ds-practicum-2025/ledger-service/internal/grpc"
	"github.com/spbu-ds-practicum-2025/ledger-service/internal/handler"
	"github.com/spbu-ds-practicum-2025/ledger-service/internal/memstore"
	"github.com/spbu-ds-practicum-2025/ledger-service/internal/observability"
	"github.com/spbu-ds-practicum-2025/ledger-service/internal/resilience"
)

// stores bundles the repositories of the selected ledger backend.
type stores struct {
	accounts domain.AccountRepository
	records  domain.RecordRepository
	users    domain.UserRepository
	cards    domain.CardRepository
	tx       domain.TransactionManager
	health   handler.HealthCheck
	close    func()
}

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
		logger.Fatal("ledger service failed", zap.Error(err))
	}
	logger.Info("ledger service stopped")
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	shutdownTracer, err := observability.InitTracer(cfg.OTLPEndpoint, "ledger-service")
	if err != nil {
		return fmt.Errorf("failed to initialize tracer: %w", err)
	}
	defer shutdownTracer(context.Background())

	metrics := observability.NewMetrics()

	policy, err := domain.ParseOverdraftPolicy(cfg.OverdraftLimits)
	if err != nil {
		return fmt.Errorf("invalid OVERDRAFT_LIMITS: %w", err)
	}

	st, err := openStores(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer st.close()

	opts := []domain.Option{
		domain.WithObserver(metrics),
		domain.WithLogger(logger),
		domain.WithTxTimeout(cfg.TxTimeout),
	}

	if cfg.Redis.Addr != "" {
		statementCache, err := cache.NewStatementCache(cfg.Redis, metrics, logger)
		if err != nil {
			return fmt.Errorf("failed to connect to redis: %w", err)
		}
		defer statementCache.Close()
		opts = append(opts, domain.WithStatementCache(statementCache))
	} else {
		logger.Info("REDIS_ADDR not set, statement cache disabled")
	}

	if cfg.RabbitMQ.URL != "" {
		publisher, err := events.NewRabbitMQPublisher(cfg.RabbitMQ, metrics, logger)
		if err != nil {
			return fmt.Errorf("failed to create rabbitmq publisher: %w", err)
		}
		defer publisher.Close()
		opts = append(opts, domain.WithEventPublisher(publisher))
	} else {
		logger.Info("RABBITMQ_URL not set, event publishing disabled")
	}

	ledger := domain.NewLedgerService(st.accounts, st.records, st.tx, policy, opts...)
	// Runs before the publisher's deferred Close.
	defer func() {
		drainCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := ledger.Close(drainCtx); err != nil {
			logger.Warn("pending events not published before shutdown", zap.Error(err))
		}
	}()
	cards := domain.NewCardService(st.cards, st.accounts, cardnumber.NewLuhnGenerator(), metrics, logger)
	authSvc := auth.NewService(st.users, cfg.Auth.JWTSecret, cfg.Auth.AccessTTL, logger)

	httpServer := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           handler.NewRouter(ledger, cards, authSvc, metrics, st.health, logger),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	grpcServer := grpcserver.NewServer(ledger, logger)

	lis, err := net.Listen("tcp", ":"+cfg.GRPCPort)
	if err != nil {
		return fmt.Errorf("failed to listen on port %s: %w", cfg.GRPCPort, err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("http server starting", zap.String("port", cfg.HTTPPort))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		logger.Info("grpc server starting", zap.String("port", cfg.GRPCPort))
		if err := grpcServer.Serve(lis); err != nil {
			return fmt.Errorf("grpc server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down servers")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		grpcServer.GracefulStop()
		return httpServer.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func openStores(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*stores, error) {
	switch cfg.StoreDriver {
	case "memory":
		logger.Warn("using in-memory ledger store, data is lost on restart")
		store := memstore.New(cfg.Postgres.LockTimeout)
		return &stores{
			accounts: store.Accounts(),
			records:  store.Records(),
			users:    store.Users(),
			cards:    store.Cards(),
			tx:       store,
			close:    func() {},
		}, nil

	case "postgres":
		pool, err := db.NewPool(ctx, db.PoolConfig{
			URL:      cfg.Postgres.URL,
			MaxConns: int32(cfg.Postgres.MaxConns),
			MinConns: int32(cfg.Postgres.MinConns),
		}, resilience.Config{
			MaxRetries:     cfg.MaxRetries,
			InitialBackoff: cfg.InitialBackoff,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create database pool: %w", err)
		}
		if err := db.Migrate(ctx, pool, logger); err != nil {
			pool.Close()
			return nil, fmt.Errorf("failed to run migrations: %w", err)
		}
		logger.Info("database connection pool initialized")

		return &stores{
			accounts: db.NewAccountRepository(pool),
			records:  db.NewRecordRepository(pool),
			users:    db.NewUserRepository(pool),
			cards:    db.NewCardRepository(pool),
			tx:       db.NewTransactionManager(pool, cfg.Postgres.LockTimeout, cfg.Postgres.StatementTimeout, logger),
			health:   pool.Ping,
			close:    pool.Close,
		}, nil

	default:
		return nil, fmt.Errorf("unknown STORE_DRIVER %q", cfg.StoreDriver)
	}
}
