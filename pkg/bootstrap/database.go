package bootstrap

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"ytindexer/internal/config"
	"ytindexer/internal/logger"
	"ytindexer/pkg/retry"
)

type DatabaseConnector struct {
	Config *config.Config
	Logger logger.Logger
	Policy retry.Policy
}

func NewDatabaseConnector(cfg *config.Config, log logger.Logger) *DatabaseConnector {
	return &DatabaseConnector{
		Config: cfg,
		Logger: log,
		Policy: retry.Policy{
			MaxAttempts:     5,
			InitialInterval: 500 * time.Millisecond,
			MaxInterval:     5 * time.Second,
			Multiplier:      2.0,
			MaxElapsedTime:  30 * time.Second,
		},
	}
}

// ping retries fn while a dependency is still starting up.
func (dc *DatabaseConnector) ping(ctx context.Context, name string, fn func() error) error {
	return retry.Do(ctx, dc.Policy, func(context.Context) error { return fn() }, func(attempt int, err error, next time.Duration) {
		dc.Logger.Warnw("Dependency not ready, retrying",
			"dependency", name,
			"attempt", attempt,
			"next_delay", next,
			"error", err,
		)
	})
}

func (dc *DatabaseConnector) InitRedis(ctx context.Context) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", dc.Config.Database.Redis.Host, dc.Config.Database.Redis.Port),
		Password: dc.Config.Database.Redis.Password,
		DB:       dc.Config.Database.Redis.DB,
	})

	if err := dc.ping(ctx, "redis", func() error { return rdb.Ping(ctx).Err() }); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to ping Redis: %w", err)
	}

	dc.Logger.Info("Redis connected successfully")
	return rdb, nil
}

// InitPostgreSQL opens the dead-letter archive database. It returns nil, nil when it is not configured.
func (dc *DatabaseConnector) InitPostgreSQL(ctx context.Context) (*sql.DB, error) {
	if !dc.Config.Database.Postgres.Enabled() {
		return nil, nil
	}

	db, err := sql.Open("postgres", PostgresDSN(dc.Config.Database.Postgres))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := dc.ping(ctx, "postgres", func() error { return db.PingContext(ctx) }); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	dc.Logger.Info("PostgreSQL connected successfully")
	return db, nil
}

func PostgresDSN(cfg config.PostgresConfig) string {
	sslMode := cfg.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		cfg.User,
		cfg.Password,
		cfg.Host,
		cfg.Port,
		cfg.DBName,
		sslMode,
	)
}

func (dc *DatabaseConnector) InitMongoDB(ctx context.Context) (*mongo.Client, error) {
	if dc.Config.Database.MongoDB.URI == "" {
		return nil, fmt.Errorf("mongodb uri is not configured")
	}

	mongoOpts := options.Client().ApplyURI(dc.Config.Database.MongoDB.URI)
	mongoClient, err := mongo.Connect(ctx, mongoOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	if err := dc.ping(ctx, "mongodb", func() error { return mongoClient.Ping(ctx, nil) }); err != nil {
		mongoClient.Disconnect(ctx)
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	dc.Logger.Info("MongoDB connected successfully")
	return mongoClient, nil
}

func (dc *DatabaseConnector) InitElasticsearch(ctx context.Context) (*elasticsearch.Client, error) {
	es, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: dc.Config.Search.Addresses,
		Username:  dc.Config.Search.Username,
		Password:  dc.Config.Search.Password,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Elasticsearch client: %w", err)
	}

	err = dc.ping(ctx, "elasticsearch", func() error {
		res, err := es.Ping(es.Ping.WithContext(ctx))
		if err != nil {
			return err
		}
		defer res.Body.Close()
		if res.IsError() {
			return fmt.Errorf("elasticsearch ping returned %s", res.Status())
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to ping Elasticsearch: %w", err)
	}

	dc.Logger.Info("Elasticsearch connected successfully")
	return es, nil
}

func (dc *DatabaseConnector) ShutdownDatabases(ctx context.Context, redis *redis.Client, postgres *sql.DB, mongo *mongo.Client) []error {
	var errs []error

	if redis != nil {
		if err := redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("redis close error: %w", err))
		}
	}

	if postgres != nil {
		if err := postgres.Close(); err != nil {
			errs = append(errs, fmt.Errorf("postgres close error: %w", err))
		}
	}

	if mongo != nil {
		if err := mongo.Disconnect(ctx); err != nil {
			errs = append(errs, fmt.Errorf("mongodb disconnect error: %w", err))
		}
	}

	return errs
}
