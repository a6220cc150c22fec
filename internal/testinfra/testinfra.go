//go:build integration

// Package testinfra starts the backing services integration tests run against.
package testinfra

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"testing"
	"time"

	_ "github.com/lib/pq"
	redisclient "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/kafka"
	"github.com/testcontainers/testcontainers-go/modules/mongodb"
	postgresmodule "github.com/testcontainers/testcontainers-go/modules/postgres"
	tcrabbitmq "github.com/testcontainers/testcontainers-go/modules/rabbitmq"
	redismodule "github.com/testcontainers/testcontainers-go/modules/redis"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"golang.org/x/sync/errgroup"
)

const (
	startupTimeout = 90 * time.Second
	pingTimeout    = 10 * time.Second
	testDatabase   = "ytindexer_test"
)

type Needs struct {
	Postgres bool
	Mongo    bool
	Redis    bool
	Kafka    bool
	RabbitMQ bool
}

type TestInfra struct {
	PostgresDB   *sql.DB
	MongoDB      *mongo.Database
	RedisClient  *redisclient.Client
	KafkaBrokers []string
	RabbitMQURL  string
}

// Setup starts the needed containers in parallel and tears them down with t.
func Setup(t *testing.T, needs Needs) *TestInfra {
	t.Helper()
	if os.Getenv("TESTCONTAINERS_RYUK_DISABLED") == "" {
		t.Setenv("TESTCONTAINERS_RYUK_DISABLED", "true")
	}

	infra := &TestInfra{}
	g, ctx := errgroup.WithContext(context.Background())
	start := func(enabled bool, fn func(context.Context, *testing.T, *TestInfra) error) {
		if enabled {
			g.Go(func() error { return fn(ctx, t, infra) })
		}
	}
	start(needs.Postgres, startPostgres)
	start(needs.Mongo, startMongo)
	start(needs.Redis, startRedis)
	start(needs.Kafka, startKafka)
	start(needs.RabbitMQ, startRabbitMQ)

	require.NoError(t, g.Wait())
	return infra
}

func startPostgres(ctx context.Context, t *testing.T, infra *TestInfra) error {
	c, err := postgresmodule.Run(ctx, "postgres:15",
		postgresmodule.WithDatabase(testDatabase),
		postgresmodule.WithUsername("ytindexer"),
		postgresmodule.WithPassword("ytindexer"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(startupTimeout),
		),
	)
	testcontainers.CleanupContainer(t, c)
	if err != nil {
		return fmt.Errorf("postgres container: %w", err)
	}

	dsn, err := c.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		return err
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return err
	}
	t.Cleanup(func() { _ = db.Close() })

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		return fmt.Errorf("postgres ping: %w", err)
	}
	infra.PostgresDB = db
	return nil
}

func startMongo(ctx context.Context, t *testing.T, infra *TestInfra) error {
	c, err := mongodb.Run(ctx, "mongo:6",
		mongodb.WithUsername("ytindexer"),
		mongodb.WithPassword("ytindexer"),
		testcontainers.WithWaitStrategy(wait.ForLog("Waiting for connections").WithStartupTimeout(startupTimeout)),
	)
	testcontainers.CleanupContainer(t, c)
	if err != nil {
		return fmt.Errorf("mongo container: %w", err)
	}

	uri, err := c.ConnectionString(ctx)
	if err != nil {
		return err
	}
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return fmt.Errorf("mongo connect: %w", err)
	}
	t.Cleanup(func() { _ = client.Disconnect(context.Background()) })

	infra.MongoDB = client.Database(testDatabase)
	return nil
}

func startRedis(ctx context.Context, t *testing.T, infra *TestInfra) error {
	c, err := redismodule.Run(ctx, "redis:8.4.0-alpine")
	testcontainers.CleanupContainer(t, c)
	if err != nil {
		return fmt.Errorf("redis container: %w", err)
	}

	uri, err := c.ConnectionString(ctx)
	if err != nil {
		return err
	}
	opt, err := redisclient.ParseURL(uri)
	if err != nil {
		return err
	}
	client := redisclient.NewClient(opt)
	t.Cleanup(func() { _ = client.Close() })

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	infra.RedisClient = client
	return nil
}

func startKafka(ctx context.Context, t *testing.T, infra *TestInfra) error {
	c, err := kafka.Run(ctx, "confluentinc/confluent-local:7.5.0", kafka.WithClusterID("ytindexer-test"))
	testcontainers.CleanupContainer(t, c)
	if err != nil {
		return fmt.Errorf("kafka container: %w", err)
	}
	brokers, err := c.Brokers(ctx)
	if err != nil {
		return err
	}
	infra.KafkaBrokers = brokers
	return nil
}

func startRabbitMQ(ctx context.Context, t *testing.T, infra *TestInfra) error {
	c, err := tcrabbitmq.Run(ctx, "rabbitmq:3.12-management-alpine")
	testcontainers.CleanupContainer(t, c)
	if err != nil {
		return fmt.Errorf("rabbitmq container: %w", err)
	}
	url, err := c.AmqpURL(ctx)
	if err != nil {
		return err
	}
	infra.RabbitMQURL = url
	return nil
}
