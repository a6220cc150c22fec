package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"

	"ytindexer/internal/constants"
	"ytindexer/internal/deadletter"
	"ytindexer/internal/queue"
	"ytindexer/pkg/bootstrap"
)

// cli holds the connections a command opened. close releases all of them.
type cli struct {
	*bootstrap.Base
	dbConnector *bootstrap.DatabaseConnector
	redis       *redis.Client
	postgres    *sql.DB
	mongoClient *mongo.Client
}

func newCLI() (*cli, error) {
	cfg, log, err := bootstrap.LoadRuntime(configFile, constants.ServiceNameCLI)
	if err != nil {
		return nil, err
	}
	return &cli{
		Base:        bootstrap.NewBase(cfg, log),
		dbConnector: bootstrap.NewDatabaseConnector(cfg, log),
	}, nil
}

func (c *cli) mongoDatabase(ctx context.Context) (*mongo.Database, error) {
	if c.mongoClient == nil {
		client, err := c.dbConnector.InitMongoDB(ctx)
		if err != nil {
			return nil, err
		}
		c.mongoClient = client
	}
	return c.mongoClient.Database(c.Config.Database.MongoDB.Database), nil
}

func (c *cli) elasticsearch(ctx context.Context) (*elasticsearch.Client, error) {
	return c.dbConnector.InitElasticsearch(ctx)
}

// archive opens the Postgres dead-letter archive, or returns nil, nil when none is configured.
func (c *cli) archive(ctx context.Context) (*sql.DB, error) {
	if c.postgres == nil {
		pg, err := c.dbConnector.InitPostgreSQL(ctx)
		if err != nil {
			return nil, err
		}
		c.postgres = pg
	}
	return c.postgres, nil
}

// queues opens the notification and metadata queues.
func (c *cli) queues(ctx context.Context) (queue.Queue, queue.Queue, error) {
	if c.redis == nil && (c.Config.Queue.Type == constants.QueueTypeRedis || c.Config.Queue.Type == "") {
		rdb, err := c.dbConnector.InitRedis(ctx)
		if err != nil {
			return nil, nil, err
		}
		c.redis = rdb
	}

	notifications, err := c.OpenQueue(c.Config.Queue.Notification, c.redis)
	if err != nil {
		return nil, nil, err
	}
	metadata, err := c.OpenQueue(c.Config.Queue.Metadata, c.redis)
	if err != nil {
		return nil, nil, err
	}
	return notifications, metadata, nil
}

// deadLetterStores returns the archive when configured, otherwise the native store of each queue.
func (c *cli) deadLetterStores(ctx context.Context, queues ...queue.Queue) ([]queue.DeadLetterStore, error) {
	pg, err := c.archive(ctx)
	if err != nil {
		return nil, err
	}
	if pg != nil {
		return []queue.DeadLetterStore{deadletter.NewPostgresArchive(pg)}, nil
	}

	stores := make([]queue.DeadLetterStore, 0, len(queues))
	for _, q := range queues {
		store, ok := queue.NativeDeadLetters(q)
		if !ok {
			return nil, fmt.Errorf("dead letters of the %s backend cannot be listed; configure database.postgres to archive them", c.Config.Queue.Type)
		}
		stores = append(stores, store)
	}
	return stores, nil
}

func (c *cli) close(ctx context.Context) error {
	return c.Shutdown(ctx, func(ctx context.Context) []error {
		return c.dbConnector.ShutdownDatabases(ctx, c.redis, c.postgres, c.mongoClient)
	})
}

func isMissing(err error) bool {
	return errors.Is(err, queue.ErrDeadLetterMissing)
}
