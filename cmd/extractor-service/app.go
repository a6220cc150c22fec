package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"ytindexer/internal/config"
	"ytindexer/internal/constants"
	"ytindexer/internal/deduplication"
	"ytindexer/internal/extractor"
	"ytindexer/internal/logger"
	"ytindexer/internal/queue"
	"ytindexer/pkg/bootstrap"
	"ytindexer/pkg/cel"
	"ytindexer/pkg/health"
	"ytindexer/pkg/metrics"
	"ytindexer/pkg/tracing"
)

type App struct {
	*bootstrap.Base
	dbConnector    *bootstrap.DatabaseConnector
	redis          *redis.Client
	postgres       *sql.DB
	consumer       *queue.Consumer
	tracerProvider *tracing.TracerProvider
	server         *http.Server
}

func NewApp(cfg *config.Config, log logger.Logger) *App {
	return &App{
		Base:        bootstrap.NewBase(cfg, log),
		dbConnector: bootstrap.NewDatabaseConnector(cfg, log),
	}
}

func (a *App) Initialize(ctx context.Context) error {
	rdb, err := a.dbConnector.InitRedis(ctx)
	if err != nil {
		return fmt.Errorf("failed to initialize Redis: %w", err)
	}
	a.redis = rdb

	pg, err := a.dbConnector.InitPostgreSQL(ctx)
	if err != nil {
		return fmt.Errorf("failed to initialize dead-letter archive: %w", err)
	}
	a.postgres = pg

	if err := a.initConsumer(); err != nil {
		return fmt.Errorf("failed to initialize consumer: %w", err)
	}

	tp, err := tracing.Init(a.Config.Tracing, constants.ServiceNameExtractor)
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	a.tracerProvider = tp

	metrics.RegisterQueueMetrics()
	metrics.RegisterExtractorMetrics()
	if a.Config.CircuitBreaker.Enabled {
		metrics.RegisterCircuitBreakerMetrics()
	}

	healthRegistry := health.NewRegistry()
	healthRegistry.Require("redis", health.Redis(a.redis))
	if a.postgres != nil {
		healthRegistry.Optional("postgresql", health.Postgres(a.postgres))
	}
	a.server = bootstrap.NewOpsServer(a.Config.Server.Port, healthRegistry)

	return nil
}

func (a *App) initConsumer() error {
	notifications, err := a.OpenQueue(a.Config.Queue.Notification, a.redis)
	if err != nil {
		return err
	}
	metadata, err := a.OpenQueue(a.Config.Queue.Metadata, a.redis)
	if err != nil {
		return err
	}

	var repo deduplication.Repository = deduplication.NewRepository(a.redis)
	if a.Config.CircuitBreaker.Enabled {
		repo = deduplication.NewCircuitBreakerRepository(repo, a.Config.CircuitBreaker)
		a.Logger.Info("Circuit breaker enabled for deduplication repository")
	}
	dedup := deduplication.NewService(repo, a.Config.Deduplication, a.Logger)

	var filter *cel.Filter
	if expr := a.Config.Extractor.FilterExpression; expr != "" {
		evaluator, err := cel.NewEvaluator()
		if err != nil {
			return fmt.Errorf("failed to create CEL evaluator: %w", err)
		}
		filter, err = evaluator.CompileFilter(expr)
		if err != nil {
			return fmt.Errorf("invalid extractor filter: %w", err)
		}
		a.Logger.Infow("Ingest filter enabled", "expression", expr)
	}

	svc := extractor.NewService(dedup, metadata, filter, a.Logger)
	a.consumer = queue.NewConsumer(notifications, svc.Handle, queue.ConsumerConfigFrom(a.Config), a.Logger, a.ConsumerOptions(a.postgres)...)
	return nil
}

func (a *App) Run(ctx context.Context) error {
	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.Logger.InfowCtx(ctx, "HTTP server starting", "port", a.Config.Server.Port)
		if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		return a.consumer.Run(gCtx)
	})

	g.Go(func() error {
		<-gCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), constants.ShutdownTimeout)
		defer cancel()
		return a.server.Shutdown(shutdownCtx)
	})

	err := g.Wait()
	if shutdownErr := a.Shutdown(context.Background()); err == nil {
		err = shutdownErr
	}
	return err
}

func (a *App) Shutdown(ctx context.Context) error {
	additionalShutdown := func(ctx context.Context) []error {
		var errs []error

		if a.tracerProvider != nil {
			if err := a.tracerProvider.Shutdown(ctx); err != nil {
				errs = append(errs, fmt.Errorf("tracer provider shutdown error: %w", err))
			}
		}

		return append(errs, a.dbConnector.ShutdownDatabases(ctx, a.redis, a.postgres, nil)...)
	}

	return a.Base.Shutdown(ctx, additionalShutdown)
}
