package queue

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ytindexer/internal/logger"
	apperrors "ytindexer/pkg/errors"
	"ytindexer/pkg/retry"
)

func testConsumerConfig() ConsumerConfig {
	return ConsumerConfig{
		Workers:     1,
		MaxAttempts: 3,
		BackoffBase: time.Millisecond,
		BackoffCap:  5 * time.Millisecond,
	}
}

func TestConsumerConfig_RetryDelay(t *testing.T) {
	cfg := ConsumerConfig{BackoffBase: time.Second, BackoffCap: 5 * time.Second}

	assert.Equal(t, time.Second, cfg.RetryDelay(1))
	assert.Equal(t, 2*time.Second, cfg.RetryDelay(2))
	assert.Equal(t, 4*time.Second, cfg.RetryDelay(3))
	assert.Equal(t, 5*time.Second, cfg.RetryDelay(4))
	assert.Equal(t, time.Second, cfg.RetryDelay(0))
}

func TestConsumer_AcksOnSuccess(t *testing.T) {
	q := NewMemoryQueue("metadata", 0, time.Minute, time.Millisecond)
	ctx := context.Background()
	require.NoError(t, q.Enqueue(ctx, newTestMessage(t, "ok")))

	var calls int32
	c := NewConsumer(q, func(ctx context.Context, msg Message) error {
		atomic.AddInt32(&calls, 1)
		return nil
	}, testConsumerConfig(), logger.NopLogger())

	c.Process(ctx, dequeueWithin(t, q, time.Second))

	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	depth, _ := q.Depth(ctx)
	assert.Zero(t, depth)
	dead, _ := q.List(ctx, "", 0)
	assert.Empty(t, dead)
}

func TestConsumer_FatalErrorDeadLettersImmediately(t *testing.T) {
	fatalErrors := map[string]error{
		"retry fatal":     retry.NewFatalError(errors.New("missing videoId")),
		"malformed input": apperrors.ErrMalformedInput.WithCause(errors.New("missing videoId")),
		"validation":      apperrors.ErrValidation,
	}

	for name, fatal := range fatalErrors {
		t.Run(name, func(t *testing.T) {
			q := NewMemoryQueue("notifications", 0, time.Minute, time.Millisecond)
			ctx := context.Background()
			require.NoError(t, q.Enqueue(ctx, newTestMessage(t, "bad")))

			var calls int32
			c := NewConsumer(q, func(ctx context.Context, msg Message) error {
				atomic.AddInt32(&calls, 1)
				return fatal
			}, testConsumerConfig(), logger.NopLogger())

			c.Process(ctx, dequeueWithin(t, q, time.Second))

			assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
			dead, err := q.List(ctx, q.Name(), 0)
			require.NoError(t, err)
			require.Len(t, dead, 1)
			assert.Equal(t, KindMalformed, dead[0].Kind)
			assert.Equal(t, 1, dead[0].Attempts)
			assert.NotEmpty(t, dead[0].Reason)

			depth, _ := q.Depth(ctx)
			assert.Zero(t, depth)
		})
	}
}

func TestConsumer_DeadLetterAtExactlyMaxAttempts(t *testing.T) {
	q := NewMemoryQueue("metadata", 0, time.Minute, time.Millisecond)
	ctx := context.Background()
	require.NoError(t, q.Enqueue(ctx, newTestMessage(t, "flaky")))

	var calls int32
	c := NewConsumer(q, func(ctx context.Context, msg Message) error {
		atomic.AddInt32(&calls, 1)
		return errors.New("mongo: connection refused")
	}, testConsumerConfig(), logger.NopLogger())

	for i := 0; i < 3; i++ {
		c.Process(ctx, dequeueWithin(t, q, time.Second))
	}

	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))

	dead, err := q.List(ctx, q.Name(), 0)
	require.NoError(t, err)
	require.Len(t, dead, 1)
	assert.Equal(t, KindRetryExhausted, dead[0].Kind)
	assert.Equal(t, 3, dead[0].Attempts)
	assert.Equal(t, "mongo: connection refused", dead[0].Reason)

	// Nothing left to redeliver a fourth time.
	shortCtx, cancel := context.WithTimeout(ctx, 30*time.Millisecond)
	defer cancel()
	_, err = q.Dequeue(shortCtx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestConsumer_OverLimitDeliveryNotHandled(t *testing.T) {
	q := NewMemoryQueue("metadata", 0, time.Minute, time.Millisecond)
	ctx := context.Background()

	msg := newTestMessage(t, "crashed")
	msg.Attempts = 3
	msg.LastError = "worker killed"
	require.NoError(t, q.Enqueue(ctx, msg))

	var calls int32
	c := NewConsumer(q, func(ctx context.Context, msg Message) error {
		atomic.AddInt32(&calls, 1)
		return nil
	}, testConsumerConfig(), logger.NopLogger())

	c.Process(ctx, dequeueWithin(t, q, time.Second))

	assert.Zero(t, atomic.LoadInt32(&calls))
	dead, err := q.List(ctx, q.Name(), 0)
	require.NoError(t, err)
	require.Len(t, dead, 1)
	assert.Equal(t, KindRetryExhausted, dead[0].Kind)
	assert.Contains(t, dead[0].Reason, "worker killed")
}

func TestConsumer_PanicIsRetried(t *testing.T) {
	q := NewMemoryQueue("metadata", 0, time.Minute, time.Millisecond)
	ctx := context.Background()
	require.NoError(t, q.Enqueue(ctx, newTestMessage(t, "panics")))

	c := NewConsumer(q, func(ctx context.Context, msg Message) error {
		panic("nil map write")
	}, testConsumerConfig(), logger.NopLogger())

	c.Process(ctx, dequeueWithin(t, q, time.Second))

	again := dequeueWithin(t, q, time.Second)
	assert.Equal(t, 2, again.Message().Attempts)
	assert.Contains(t, again.Message().LastError, "nil map write")
}

func TestConsumer_ArchiveReceivesDeadLetters(t *testing.T) {
	q := NewMemoryQueue("notifications", 0, time.Minute, time.Millisecond)
	archive := NewMemoryQueue("archive", 0, time.Minute, time.Millisecond)
	ctx := context.Background()
	require.NoError(t, q.Enqueue(ctx, newTestMessage(t, "bad")))

	c := NewConsumer(q, func(ctx context.Context, msg Message) error {
		return retry.NewFatalError(errors.New("not an atom feed"))
	}, testConsumerConfig(), logger.NopLogger(), WithArchive(archive))

	c.Process(ctx, dequeueWithin(t, q, time.Second))

	native, _ := q.List(ctx, "", 0)
	assert.Empty(t, native)

	archived, err := archive.List(ctx, "notifications", 0)
	require.NoError(t, err)
	require.Len(t, archived, 1)
	assert.Equal(t, "notifications", archived[0].Queue)

	depth, _ := q.Depth(ctx)
	assert.Zero(t, depth)
}

func TestConsumer_RunStopsOnCancel(t *testing.T) {
	q := NewMemoryQueue("metadata", 0, time.Minute, time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())

	processed := make(chan string, 3)
	c := NewConsumer(q, func(ctx context.Context, msg Message) error {
		processed <- msg.ID
		return nil
	}, ConsumerConfig{Workers: 2, MaxAttempts: 3}, logger.NopLogger())

	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	for i := 0; i < 3; i++ {
		require.NoError(t, q.Enqueue(context.Background(), newTestMessage(t, i)))
	}
	for i := 0; i < 3; i++ {
		select {
		case <-processed:
		case <-time.After(2 * time.Second):
			t.Fatal("message not processed")
		}
	}

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("consumer did not stop")
	}
}

type limitedQueue struct {
	*MemoryQueue
}

func (limitedQueue) MaxWorkers() int { return 1 }

func TestNewConsumer_RespectsWorkerLimit(t *testing.T) {
	q := limitedQueue{NewMemoryQueue("metadata", 0, time.Minute, time.Millisecond)}
	c := NewConsumer(q, func(ctx context.Context, msg Message) error { return nil }, ConsumerConfig{Workers: 8}, logger.NopLogger())
	assert.Equal(t, 1, c.Workers())
}

func TestIsFatal(t *testing.T) {
	assert.True(t, IsFatal(retry.NewFatalError(errors.New("x"))))
	assert.True(t, IsFatal(apperrors.ErrMalformedInput))
	assert.False(t, IsFatal(errors.New("timeout")))
	assert.False(t, IsFatal(apperrors.ErrServiceUnavailable))
	assert.False(t, IsFatal(apperrors.RecoverPanic("boom")))
}
