package deadletter

import (
	"context"
	"fmt"

	"ytindexer/internal/logger"
	"ytindexer/internal/queue"
)

type Enqueuer interface {
	Name() string
	Enqueue(ctx context.Context, msg queue.Message) error
}

// Replayer moves dead letters back onto the queue they failed on.
type Replayer struct {
	store  queue.DeadLetterStore
	queues map[string]Enqueuer
	logger logger.Logger
}

func NewReplayer(store queue.DeadLetterStore, log logger.Logger, queues ...Enqueuer) *Replayer {
	byName := make(map[string]Enqueuer, len(queues))
	for _, q := range queues {
		byName[q.Name()] = q
	}
	return &Replayer{store: store, queues: byName, logger: log}
}

// Replay re-enqueues one dead letter with its attempt count reset and removes it from the store.
func (r *Replayer) Replay(ctx context.Context, id string) (queue.DeadLetter, error) {
	dl, err := r.store.Get(ctx, id)
	if err != nil {
		return queue.DeadLetter{}, err
	}

	q, ok := r.queues[dl.Queue]
	if !ok {
		return dl, fmt.Errorf("dead letter %s belongs to unknown queue %q", id, dl.Queue)
	}

	if err := q.Enqueue(ctx, dl.Message.ForReplay()); err != nil {
		return dl, fmt.Errorf("failed to re-enqueue dead letter %s: %w", id, err)
	}
	if err := r.store.Delete(ctx, id); err != nil {
		return dl, err
	}

	r.logger.InfowCtx(ctx, "Dead letter replayed",
		"dead_letter_id", id,
		"queue", dl.Queue,
		"message_id", dl.Message.ID,
		"kind", dl.Kind,
	)
	return dl, nil
}

// ReplayAll replays up to limit dead letters of queueName, stopping at the first failure.
func (r *Replayer) ReplayAll(ctx context.Context, queueName string, limit int) (int, error) {
	letters, err := r.store.List(ctx, queueName, limit)
	if err != nil {
		return 0, err
	}

	replayed := 0
	for _, dl := range letters {
		if _, err := r.Replay(ctx, dl.ID); err != nil {
			return replayed, err
		}
		replayed++
	}
	return replayed, nil
}
