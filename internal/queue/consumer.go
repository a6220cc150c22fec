package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"ytindexer/internal/config"
	"ytindexer/internal/constants"
	"ytindexer/internal/logger"
	apperrors "ytindexer/pkg/errors"
	"ytindexer/pkg/logging"
	"ytindexer/pkg/metrics"
	"ytindexer/pkg/retry"
	"ytindexer/pkg/tracing"
)

// Handler processes one message. A nil error acks it, a fatal error dead-letters it
// and any other error schedules a redelivery.
type Handler func(ctx context.Context, msg Message) error

type ConsumerConfig struct {
	Workers       int
	MaxAttempts   int
	BackoffBase   time.Duration
	BackoffCap    time.Duration
	ErrorBackoff  time.Duration
	DepthInterval time.Duration
}

func ConsumerConfigFrom(cfg *config.Config) ConsumerConfig {
	return ConsumerConfig{
		Workers:       cfg.Worker.Concurrency,
		MaxAttempts:   cfg.Retry.MaxAttempts,
		BackoffBase:   cfg.Retry.BackoffBase,
		BackoffCap:    cfg.Retry.BackoffCap,
		ErrorBackoff:  time.Second,
		DepthInterval: 15 * time.Second,
	}
}

func (c ConsumerConfig) withDefaults() ConsumerConfig {
	if c.Workers <= 0 {
		c.Workers = constants.DefaultWorker
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = constants.DefaultMaxAttempts
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = constants.DefaultBackoffBase
	}
	if c.BackoffCap <= 0 {
		c.BackoffCap = constants.DefaultBackoffCap
	}
	if c.ErrorBackoff <= 0 {
		c.ErrorBackoff = time.Second
	}
	return c
}

// RetryDelay is the wait before the next delivery of a message that failed on its
// attempts-th delivery: base doubled per previous attempt, capped.
func (c ConsumerConfig) RetryDelay(attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	return retry.CalculateBackoffDuration(attempts-1, c.BackoffBase, 2, c.BackoffCap)
}

type ConsumerOption func(*Consumer)

// WithArchive sends dead letters to store and acks the delivery, instead of the backend's own sink.
func WithArchive(store DeadLetterStore) ConsumerOption {
	return func(c *Consumer) {
		c.archive = store
	}
}

type Consumer struct {
	queue   Queue
	handler Handler
	cfg     ConsumerConfig
	archive DeadLetterStore
	logger  logger.Logger
}

func NewConsumer(q Queue, handler Handler, cfg ConsumerConfig, log logger.Logger, opts ...ConsumerOption) *Consumer {
	cfg = cfg.withDefaults()
	if limiter, ok := q.(workerLimiter); ok && limiter.MaxWorkers() > 0 && cfg.Workers > limiter.MaxWorkers() {
		cfg.Workers = limiter.MaxWorkers()
	}

	c := &Consumer{
		queue:   q,
		handler: handler,
		cfg:     cfg,
		logger:  log,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Consumer) Workers() int {
	return c.cfg.Workers
}

// Run consumes until ctx is done. It returns nil on cancellation.
func (c *Consumer) Run(ctx context.Context) error {
	g, gCtx := errgroup.WithContext(ctx)

	c.logger.Infow("Starting consumer",
		"queue", c.queue.Name(),
		"workers", c.cfg.Workers,
		"max_attempts", c.cfg.MaxAttempts,
	)

	for i := 0; i < c.cfg.Workers; i++ {
		g.Go(func() error {
			return c.work(gCtx)
		})
	}

	if c.cfg.DepthInterval > 0 {
		g.Go(func() error {
			c.reportDepth(gCtx)
			return nil
		})
	}

	return g.Wait()
}

func (c *Consumer) work(ctx context.Context) error {
	for {
		d, err := c.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, ErrClosed) {
				return nil
			}
			c.logger.Errorw("Failed to dequeue message",
				"queue", c.queue.Name(),
				"error", err,
			)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(c.cfg.ErrorBackoff):
			}
			continue
		}

		c.Process(ctx, d)
	}
}

// Process settles one delivery according to the handler result.
func (c *Consumer) Process(ctx context.Context, d Delivery) {
	msg := d.Message()
	name := c.queue.Name()

	msgCtx, span := tracing.StartConsumerSpan(ctx, "queue.consume "+name, msg.Trace)
	defer span.End()

	msgCtx = logging.WithMessageID(msgCtx, msg.ID)
	msgCtx = logging.WithQueue(msgCtx, name)
	if msg.TraceID != "" {
		msgCtx = logging.WithTraceID(msgCtx, msg.TraceID)
	}

	// Settling must survive shutdown of the consume loop.
	settleCtx, cancel := context.WithTimeout(context.WithoutCancel(msgCtx), constants.ShutdownTimeout)
	defer cancel()

	if !msg.EnqueuedAt.IsZero() && msg.Attempts <= 1 {
		metrics.ObserveQueueWait(name, time.Since(msg.EnqueuedAt))
	}

	if msg.Attempts > c.cfg.MaxAttempts {
		reason := fmt.Sprintf("delivered %d times, limit is %d", msg.Attempts, c.cfg.MaxAttempts)
		if msg.LastError != "" {
			reason += ": " + msg.LastError
		}
		c.deadLetter(settleCtx, d, KindRetryExhausted, reason)
		return
	}

	start := time.Now()
	err := c.invoke(msgCtx, msg)

	switch {
	case err == nil:
		metrics.ObserveHandlerDuration(name, "ok", time.Since(start))
		if ackErr := d.Ack(settleCtx); ackErr != nil {
			c.logger.ErrorwCtx(msgCtx, "Failed to ack message", "error", ackErr)
			metrics.IncProcessed(name, "settle_failed")
			return
		}
		metrics.IncProcessed(name, "acked")

	case IsFatal(err):
		metrics.ObserveHandlerDuration(name, "fatal", time.Since(start))
		c.logger.WarnwCtx(msgCtx, "Message rejected as malformed", "error", err)
		c.deadLetter(settleCtx, d, KindMalformed, err.Error())

	case msg.Attempts >= c.cfg.MaxAttempts:
		metrics.ObserveHandlerDuration(name, "error", time.Since(start))
		c.logger.ErrorwCtx(msgCtx, "Message exhausted its retries",
			"attempts", msg.Attempts,
			"error", err,
		)
		c.deadLetter(settleCtx, d, KindRetryExhausted, err.Error())

	default:
		metrics.ObserveHandlerDuration(name, "error", time.Since(start))
		delay := c.cfg.RetryDelay(msg.Attempts)
		c.logger.WarnwCtx(msgCtx, "Scheduling message redelivery",
			"attempt", msg.Attempts,
			"max_attempts", c.cfg.MaxAttempts,
			"next_delay", delay,
			"error", err,
		)
		if retryErr := d.Retry(settleCtx, delay, err); retryErr != nil {
			c.logger.ErrorwCtx(msgCtx, "Failed to schedule redelivery", "error", retryErr)
			metrics.IncProcessed(name, "settle_failed")
			return
		}
		metrics.IncRetry(name)
		metrics.IncProcessed(name, "retried")
	}
}

func (c *Consumer) invoke(ctx context.Context, msg Message) error {
	err := apperrors.Safely(func() error {
		return c.handler(ctx, msg)
	})
	var appErr *apperrors.Error
	if errors.As(err, &appErr) && appErr.Details["panic"] == true {
		c.logger.ErrorwCtx(ctx, "Panic recovered during message processing", "error", err)
	}
	return err
}

func (c *Consumer) deadLetter(ctx context.Context, d Delivery, kind DeadLetterKind, reason string) {
	msg := d.Message()
	dl := DeadLetter{
		ID:       newDeadLetterID(),
		Queue:    c.queue.Name(),
		Message:  msg,
		Kind:     kind,
		Reason:   reason,
		Attempts: msg.Attempts,
		FailedAt: time.Now().UTC(),
	}

	var err error
	if c.archive != nil {
		err = c.archive.Put(ctx, dl)
		if err == nil {
			err = d.Ack(ctx)
		}
	} else {
		err = d.DeadLetter(ctx, dl)
	}

	if err != nil {
		c.logger.ErrorwCtx(ctx, "Failed to dead-letter message",
			"kind", kind,
			"error", err,
		)
		metrics.IncProcessed(c.queue.Name(), "settle_failed")
		return
	}

	metrics.IncDeadLetter(c.queue.Name(), string(kind))
	metrics.IncProcessed(c.queue.Name(), "dead_lettered")
	c.logger.ErrorwCtx(ctx, "Message dead-lettered",
		"kind", kind,
		"reason", reason,
		"attempts", msg.Attempts,
	)
}

func (c *Consumer) reportDepth(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.DepthInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			depth, err := c.queue.Depth(ctx)
			if err != nil {
				if errors.Is(err, ErrDepthUnsupported) {
					return
				}
				continue
			}
			metrics.SetQueueDepth(c.queue.Name(), depth)
		}
	}
}

// IsFatal reports whether err marks a permanent content error.
func IsFatal(err error) bool {
	var fatalErr retry.FatalError
	if errors.As(err, &fatalErr) && fatalErr.IsFatal() {
		return true
	}
	return apperrors.IsFatal(err)
}
