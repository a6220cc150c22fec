package bootstrap

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"ytindexer/internal/config"
	"ytindexer/internal/logger"
	"ytindexer/internal/queue"
)

type Base struct {
	Config *config.Config
	Logger logger.Logger
	Queues []queue.Queue
}

func NewBase(cfg *config.Config, log logger.Logger) *Base {
	return &Base{
		Config: cfg,
		Logger: log,
	}
}

// OpenQueue builds the configured backend for def and closes it on Shutdown.
func (b *Base) OpenQueue(def config.QueueDef, rdb *redis.Client) (queue.Queue, error) {
	q, err := queue.New(b.Config.Queue, def, rdb, b.Config.Worker.Concurrency, b.Logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open queue %s: %w", def.Name, err)
	}

	b.Queues = append(b.Queues, q)
	b.Logger.Infow("Queue opened", "queue", def.Name, "type", b.Config.Queue.Type)
	return q, nil
}

func (b *Base) ShutdownQueues() []error {
	var errs []error

	for _, q := range b.Queues {
		if err := q.Close(); err != nil {
			errs = append(errs, fmt.Errorf("queue %s close error: %w", q.Name(), err))
		}
	}

	return errs
}

// Shutdown closes the queues, then runs release for the service's own
// resources. Every failure is reported, joined.
func (b *Base) Shutdown(ctx context.Context, release func(ctx context.Context) []error) error {
	b.Logger.Infow("Shutting down", "queues", len(b.Queues))

	errs := b.ShutdownQueues()
	if release != nil {
		errs = append(errs, release(ctx)...)
	}
	if err := errors.Join(errs...); err != nil {
		b.Logger.Errorw("Shutdown incomplete", "error", err)
		return err
	}

	b.Logger.Info("Shutdown complete")
	return nil
}
