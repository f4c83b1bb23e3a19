package app

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/arklim/db-access-manager/internal/core/port"
	"github.com/arklim/db-access-manager/internal/dispatch"
	"github.com/arklim/db-access-manager/internal/infra/config"
	"github.com/arklim/db-access-manager/internal/infra/database"
	kafkainfra "github.com/arklim/db-access-manager/internal/infra/kafka"
	"github.com/arklim/db-access-manager/internal/infra/logger"
	"github.com/arklim/db-access-manager/internal/infra/telemetry"
	"github.com/arklim/db-access-manager/internal/mariadb"
	postgresrepo "github.com/arklim/db-access-manager/internal/repository/postgres"
	"github.com/arklim/db-access-manager/internal/usecase"
)

// Application wires the engine: record store, managed store executor,
// dispatcher, lifecycle service, sweeper, and the metrics endpoint.
type Application struct {
	cfg        *config.AppConfig
	logger     *zap.Logger
	pool       *pgxpool.Pool
	mariadb    *sql.DB
	producer   *kafkainfra.Producer
	dispatcher *dispatch.Dispatcher
	sweeper    *usecase.Sweeper
	metrics    *telemetry.Metrics

	Service *usecase.PermissionService
}

func New(ctx context.Context, cfg *config.AppConfig) (*Application, error) {
	log, err := logger.New(cfg.App.Env)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	pool, err := database.NewPostgresPool(ctx, cfg.Postgres, log)
	if err != nil {
		return nil, fmt.Errorf("init postgres: %w", err)
	}

	mariaConn, err := database.NewMariaDBConn(ctx, cfg.MariaDB, log)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("init mariadb: %w", err)
	}

	repos := postgresrepo.NewRepositories(pool)
	metrics := telemetry.NewMetrics()
	executor := mariadb.NewExecutor(mariaConn, log)

	var (
		notifier port.Notifier
		producer *kafkainfra.Producer
	)
	if len(cfg.Kafka.Brokers) > 0 {
		producer, err = kafkainfra.NewProducer(cfg.Kafka, log)
		if err != nil {
			log.Warn("failed to init kafka producer, using stub notifier", zap.Error(err))
			notifier = kafkainfra.NewStubNotifier(log)
		} else {
			notifier = kafkainfra.NewOutcomeNotifier(producer, cfg.App, log)
			log.Info("kafka outcome notifier initialized", zap.Strings("brokers", cfg.Kafka.Brokers))
		}
	} else {
		log.Info("kafka brokers not configured, using stub notifier")
		notifier = kafkainfra.NewStubNotifier(log)
	}

	orchestrator := usecase.NewOrchestrator(executor, repos.PermissionEvents, notifier, metrics, log, usecase.RetryPolicy{
		MaxAttempts: cfg.Retry.MaxAttempts,
		BaseDelay:   cfg.Retry.BaseDelay,
		MaxDelay:    cfg.Retry.MaxDelay,
	})

	dispatcher := dispatch.New(orchestrator, log,
		dispatch.WithWorkers(cfg.Dispatch.Workers),
		dispatch.WithQueueSize(cfg.Dispatch.QueueSize),
		dispatch.WithMetrics(metrics),
	)

	service := usecase.NewPermissionService(repos.Permissions, repos.PermissionEvents, repos.Principals, dispatcher, log)

	sweeper := usecase.NewSweeper(service, executor, metrics, log,
		usecase.WithSweepInterval(cfg.Sweeper.SweepInterval),
		usecase.WithSchedulerCheckInterval(cfg.Sweeper.SchedulerCheckInterval),
	)

	return &Application{
		cfg:        cfg,
		logger:     log,
		pool:       pool,
		mariadb:    mariaConn,
		producer:   producer,
		dispatcher: dispatcher,
		sweeper:    sweeper,
		metrics:    metrics,
		Service:    service,
	}, nil
}

// Run starts the sweeper and metrics endpoint, then blocks until the context
// is canceled. Shutdown order matters: the sweeper stops first so no new
// events enter the dispatcher, the dispatcher drains, then connections close.
func (a *Application) Run(ctx context.Context) error {
	defer func() {
		_ = a.logger.Sync()
	}()
	defer func() {
		if a.pool != nil {
			a.pool.Close()
		}
	}()
	defer func() {
		if a.mariadb != nil {
			_ = a.mariadb.Close()
		}
	}()
	defer func() {
		if a.producer != nil {
			_ = a.producer.Close()
		}
	}()
	defer a.dispatcher.Close()
	defer a.sweeper.Stop()

	if err := a.sweeper.Start(ctx); err != nil {
		return fmt.Errorf("start sweeper: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", a.metrics.Handler())
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Telemetry.MetricsPort),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	a.logger.Info("starting db access manager",
		zap.String("env", a.cfg.App.Env),
		zap.String("metrics_address", srv.Addr),
	)

	serverErrCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrCh <- fmt.Errorf("run metrics server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		a.logger.Info("shutdown signal received")
	case err := <-serverErrCh:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Warn("metrics server shutdown", zap.Error(err))
	}

	return nil
}
