package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"golang.org/x/sync/errgroup"

	"ytindexer/internal/config"
	"ytindexer/internal/constants"
	"ytindexer/internal/enrichment"
	"ytindexer/internal/indexing"
	"ytindexer/internal/logger"
	"ytindexer/internal/queue"
	"ytindexer/internal/search"
	"ytindexer/pkg/bootstrap"
	"ytindexer/pkg/health"
	"ytindexer/pkg/metrics"
	"ytindexer/pkg/tracing"
)

type App struct {
	*bootstrap.Base
	dbConnector    *bootstrap.DatabaseConnector
	redis          *redis.Client
	postgres       *sql.DB
	mongoClient    *mongo.Client
	es             *elasticsearch.Client
	consumer       *queue.Consumer
	reconciler     *indexing.Reconciler
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
	if err := a.initStores(ctx); err != nil {
		return fmt.Errorf("failed to initialize stores: %w", err)
	}

	db := a.mongoClient.Database(a.Config.Database.MongoDB.Database)

	if a.Config.Database.RunMigrations {
		if err := a.dbConnector.Migrate(ctx, db, a.es, a.postgres); err != nil {
			return fmt.Errorf("failed to run migrations: %w", err)
		}
	}

	if err := a.initConsumer(db); err != nil {
		return fmt.Errorf("failed to initialize consumer: %w", err)
	}

	tp, err := tracing.Init(a.Config.Tracing, constants.ServiceNameIndexer)
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	a.tracerProvider = tp

	metrics.RegisterQueueMetrics()
	metrics.RegisterIndexingMetrics()
	if a.Config.CircuitBreaker.Enabled {
		metrics.RegisterCircuitBreakerMetrics()
	}

	healthRegistry := health.NewRegistry()
	healthRegistry.Require("mongodb", health.Mongo(a.mongoClient))
	healthRegistry.Require("elasticsearch", health.Elasticsearch(a.es))
	if a.redis != nil {
		// Only the transcript cache uses redis unless it also carries the queues.
		if a.Config.Queue.Type == constants.QueueTypeRedis || a.Config.Queue.Type == "" {
			healthRegistry.Require("redis", health.Redis(a.redis))
		} else {
			healthRegistry.Optional("redis", health.Redis(a.redis))
		}
	}
	if a.postgres != nil {
		healthRegistry.Optional("postgresql", health.Postgres(a.postgres))
	}
	a.server = bootstrap.NewOpsServer(a.Config.Server.Port, healthRegistry)

	return nil
}

func (a *App) initStores(ctx context.Context) error {
	queueOnRedis := a.Config.Queue.Type == constants.QueueTypeRedis || a.Config.Queue.Type == ""
	if queueOnRedis || a.Config.Enrichment.Transcript.Enabled {
		rdb, err := a.dbConnector.InitRedis(ctx)
		if err != nil {
			return err
		}
		a.redis = rdb
	}

	pg, err := a.dbConnector.InitPostgreSQL(ctx)
	if err != nil {
		return err
	}
	a.postgres = pg

	mongoClient, err := a.dbConnector.InitMongoDB(ctx)
	if err != nil {
		return err
	}
	a.mongoClient = mongoClient

	es, err := a.dbConnector.InitElasticsearch(ctx)
	if err != nil {
		return err
	}
	a.es = es
	return nil
}

func (a *App) initConsumer(db *mongo.Database) error {
	metadata, err := a.OpenQueue(a.Config.Queue.Metadata, a.redis)
	if err != nil {
		return err
	}

	videos := indexing.NewVideoRepository(db)
	channels := indexing.NewChannelRepository(db)
	index := search.NewIndex(a.es, a.Config.Search.Index, a.Logger)

	var enricher indexing.Enricher
	if svc := enrichment.NewFromConfig(a.Config, a.redis, a.Logger); svc != nil {
		enricher = svc
		a.Logger.Infow("Transcript enrichment enabled", "cache", a.redis != nil)
	}

	svc := indexing.NewService(videos, channels, index, enricher, a.Logger)
	a.consumer = queue.NewConsumer(metadata, svc.Handle, queue.ConsumerConfigFrom(a.Config), a.Logger, a.ConsumerOptions(a.postgres)...)

	if a.Config.Indexing.Reconcile.Enabled {
		a.reconciler = indexing.NewReconciler(videos, channels, index, a.Config.Indexing.Reconcile, a.Logger)
	}
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

	if a.reconciler != nil {
		g.Go(func() error {
			return a.reconciler.Run(gCtx)
		})
	}

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

		return append(errs, a.dbConnector.ShutdownDatabases(ctx, a.redis, a.postgres, a.mongoClient)...)
	}

	return a.Base.Shutdown(ctx, additionalShutdown)
}
