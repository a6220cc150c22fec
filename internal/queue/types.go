package queue

import (
	"context"
	"errors"
	"time"
)

var (
	ErrQueueFull         = errors.New("queue is full")
	ErrClosed            = errors.New("queue is closed")
	ErrDepthUnsupported  = errors.New("queue depth is not supported by this backend")
	ErrDeadLetterMissing = errors.New("dead letter not found")
)

type Queue interface {
	Name() string
	// Enqueue stores msg durably. It returns ErrQueueFull when the queue is at max depth.
	Enqueue(ctx context.Context, msg Message) error
	// Dequeue blocks until a visible message is claimed or ctx is done.
	Dequeue(ctx context.Context) (Delivery, error)
	Depth(ctx context.Context) (int64, error)
	Close() error
}

// Delivery is a claimed message. Exactly one of Ack, Retry or DeadLetter should be called.
type Delivery interface {
	Message() Message
	Ack(ctx context.Context) error
	Retry(ctx context.Context, delay time.Duration, cause error) error
	DeadLetter(ctx context.Context, dl DeadLetter) error
}

type DeadLetterKind string

const (
	KindMalformed      DeadLetterKind = "malformed"
	KindRetryExhausted DeadLetterKind = "retry_exhausted"
)

type DeadLetter struct {
	ID       string         `json:"id"`
	Queue    string         `json:"queue"`
	Message  Message        `json:"message"`
	Kind     DeadLetterKind `json:"kind"`
	Reason   string         `json:"reason"`
	Attempts int            `json:"attempts"`
	FailedAt time.Time      `json:"failed_at"`
}

type DeadLetterStore interface {
	Put(ctx context.Context, dl DeadLetter) error
	List(ctx context.Context, queue string, limit int) ([]DeadLetter, error)
	Get(ctx context.Context, id string) (DeadLetter, error)
	Delete(ctx context.Context, id string) error
}

// workerLimiter is implemented by backends that cannot be consumed by more than n goroutines.
type workerLimiter interface {
	MaxWorkers() int
}
