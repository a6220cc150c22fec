package main

import (
	"context"
	"fmt"
	"net/http"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"golang.org/x/sync/errgroup"

	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"ytindexer/internal/api"
	"ytindexer/internal/config"
	"ytindexer/internal/constants"
	"ytindexer/internal/gateway"
	"ytindexer/internal/indexing"
	"ytindexer/internal/logger"
	"ytindexer/internal/queue"
	"ytindexer/internal/search"
	"ytindexer/pkg/bootstrap"
	"ytindexer/pkg/health"
	"ytindexer/pkg/metrics"
	"ytindexer/pkg/middleware"
	"ytindexer/pkg/ratelimit"
	"ytindexer/pkg/tracing"
)

type App struct {
	*bootstrap.Base
	dbConnector    *bootstrap.DatabaseConnector
	redis          *redis.Client
	mongoClient    *mongo.Client
	es             *elasticsearch.Client
	notifications  queue.Queue
	server         *http.Server
	router         *gin.Engine
	limits         *ratelimit.Store
	tracerProvider *tracing.TracerProvider
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

	q, err := a.OpenQueue(a.Config.Queue.Notification, a.redis)
	if err != nil {
		return err
	}
	a.notifications = q

	tp, err := tracing.Init(a.Config.Tracing, constants.ServiceNameAPI)
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	a.tracerProvider = tp

	metrics.RegisterGatewayMetrics()
	metrics.RegisterQueueMetrics()

	a.initRouter()

	a.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", a.Config.Server.Port),
		Handler:      a.router,
		ReadTimeout:  a.Config.Server.ReadTimeoutSeconds,
		WriteTimeout: a.Config.Server.WriteTimeoutSeconds,
	}
	return nil
}

func (a *App) initStores(ctx context.Context) error {
	if a.Config.Queue.Type == constants.QueueTypeRedis || a.Config.Queue.Type == "" {
		rdb, err := a.dbConnector.InitRedis(ctx)
		if err != nil {
			return err
		}
		a.redis = rdb
	}

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

func (a *App) initRouter() {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()

	if a.Config.Tracing.Enabled {
		router.Use(tracing.GinMiddleware(constants.ServiceNameAPI))
	}

	router.Use(middleware.RecoveryMiddleware(a.Logger))
	router.Use(middleware.LoggerMiddleware(a.Logger))
	router.Use(middleware.RequestIDMiddleware())

	if a.Config.API.RateLimit.Enabled {
		settings := ratelimit.FromConfig(a.Config.API.RateLimit)
		a.limits = ratelimit.NewStore(settings)
		router.Use(ratelimit.Middleware(a.limits))
		a.Logger.Infow("Rate limiting enabled", "rps", settings.RPS, "burst", settings.Burst)
	}

	db := a.mongoClient.Database(a.Config.Database.MongoDB.Database)
	index := search.NewIndex(a.es, a.Config.Search.Index, a.Logger)
	channels := indexing.NewChannelRepository(db)

	gateway.NewHandler(a.notifications, a.Config.Webhook, a.Logger).RegisterRoutes(router)
	api.NewHandler(index, channels, a.Logger).RegisterRoutes(router)

	healthRegistry := health.NewRegistry()
	if a.redis != nil {
		healthRegistry.Require("redis", health.Redis(a.redis))
	}
	healthRegistry.Require("mongodb", health.Mongo(a.mongoClient))
	healthRegistry.Require("elasticsearch", health.Elasticsearch(a.es))

	router.GET("/health", func(c *gin.Context) {
		report := healthRegistry.Check(c.Request.Context())
		c.JSON(report.HTTPStatus(), report)
	})

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	a.router = router
}

func (a *App) Run(ctx context.Context) error {
	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.Logger.InfowCtx(ctx, "Server listening", "port", a.Config.Server.Port)
		if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	if a.limits != nil {
		g.Go(func() error { return a.limits.Run(gCtx) })
	}

	g.Go(func() error {
		<-gCtx.Done()
		return a.Shutdown(context.Background())
	})

	return g.Wait()
}

// Shutdown drains the server before the queues close so in-flight webhooks can still enqueue.
func (a *App) Shutdown(ctx context.Context) error {
	var serverErr error
	if a.server != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, constants.ShutdownTimeout)
		serverErr = a.server.Shutdown(shutdownCtx)
		cancel()
	}

	additionalShutdown := func(ctx context.Context) []error {
		var errs []error

		if serverErr != nil {
			errs = append(errs, fmt.Errorf("server shutdown error: %w", serverErr))
		}

		if a.tracerProvider != nil {
			if err := a.tracerProvider.Shutdown(ctx); err != nil {
				errs = append(errs, fmt.Errorf("tracer provider shutdown error: %w", err))
			}
		}

		return append(errs, a.dbConnector.ShutdownDatabases(ctx, a.redis, nil, a.mongoClient)...)
	}

	return a.Base.Shutdown(ctx, additionalShutdown)
}
