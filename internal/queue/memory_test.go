package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestMessage(t *testing.T, payload interface{}) Message {
	t.Helper()
	msg, err := NewMessage(context.Background(), payload)
	require.NoError(t, err)
	return msg
}

func dequeueWithin(t *testing.T, q Queue, d time.Duration) Delivery {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()
	delivery, err := q.Dequeue(ctx)
	require.NoError(t, err)
	return delivery
}

func TestMemoryQueue_EnqueueDequeueAck(t *testing.T) {
	q := NewMemoryQueue("notifications", 0, time.Minute, 5*time.Millisecond)
	ctx := context.Background()

	msg := newTestMessage(t, map[string]string{"video_id": "v1"})
	require.NoError(t, q.Enqueue(ctx, msg))

	d := dequeueWithin(t, q, time.Second)
	assert.Equal(t, msg.ID, d.Message().ID)
	assert.Equal(t, 1, d.Message().Attempts)

	var payload map[string]string
	require.NoError(t, d.Message().Decode(&payload))
	assert.Equal(t, "v1", payload["video_id"])

	depth, err := q.Depth(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), depth)

	require.NoError(t, d.Ack(ctx))

	depth, err = q.Depth(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), depth)
}

func TestMemoryQueue_Full(t *testing.T) {
	q := NewMemoryQueue("notifications", 2, time.Minute, 5*time.Millisecond)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, newTestMessage(t, "a")))
	require.NoError(t, q.Enqueue(ctx, newTestMessage(t, "b")))

	err := q.Enqueue(ctx, newTestMessage(t, "c"))
	assert.ErrorIs(t, err, ErrQueueFull)
}

func TestMemoryQueue_VisibilityTimeoutRedelivers(t *testing.T) {
	q := NewMemoryQueue("metadata", 0, 20*time.Millisecond, 5*time.Millisecond)
	ctx := context.Background()

	msg := newTestMessage(t, "payload")
	require.NoError(t, q.Enqueue(ctx, msg))

	first := dequeueWithin(t, q, time.Second)
	assert.Equal(t, 1, first.Message().Attempts)

	// Not acked: the message comes back once the visibility window has passed.
	second := dequeueWithin(t, q, time.Second)
	assert.Equal(t, msg.ID, second.Message().ID)
	assert.Equal(t, 2, second.Message().Attempts)

	// The stale claim can no longer settle the message.
	require.NoError(t, first.Ack(ctx))
	depth, err := q.Depth(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), depth)

	require.NoError(t, second.Ack(ctx))
	depth, err = q.Depth(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), depth)
}

func TestMemoryQueue_RetryDelaysVisibility(t *testing.T) {
	q := NewMemoryQueue("metadata", 0, time.Minute, 5*time.Millisecond)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, newTestMessage(t, "payload")))

	d := dequeueWithin(t, q, time.Second)
	require.NoError(t, d.Retry(ctx, 100*time.Millisecond, errors.New("mongo unavailable")))

	shortCtx, cancel := context.WithTimeout(ctx, 30*time.Millisecond)
	defer cancel()
	_, err := q.Dequeue(shortCtx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	again := dequeueWithin(t, q, time.Second)
	assert.Equal(t, 2, again.Message().Attempts)
	assert.Equal(t, "mongo unavailable", again.Message().LastError)
}

func TestMemoryQueue_DeadLetterStore(t *testing.T) {
	q := NewMemoryQueue("notifications", 0, time.Minute, 5*time.Millisecond)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, newTestMessage(t, "bad")))
	d := dequeueWithin(t, q, time.Second)

	dl := DeadLetter{
		ID:       "dl-1",
		Queue:    q.Name(),
		Message:  d.Message(),
		Kind:     KindMalformed,
		Reason:   "missing videoId",
		Attempts: 1,
		FailedAt: time.Now(),
	}
	require.NoError(t, d.DeadLetter(ctx, dl))

	depth, err := q.Depth(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), depth)

	listed, err := q.List(ctx, q.Name(), 10)
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, KindMalformed, listed[0].Kind)

	got, err := q.Get(ctx, "dl-1")
	require.NoError(t, err)
	assert.Equal(t, "missing videoId", got.Reason)

	require.NoError(t, q.Delete(ctx, "dl-1"))
	_, err = q.Get(ctx, "dl-1")
	assert.ErrorIs(t, err, ErrDeadLetterMissing)
}

func TestMemoryQueue_Close(t *testing.T) {
	q := NewMemoryQueue("notifications", 0, time.Minute, 5*time.Millisecond)
	require.NoError(t, q.Close())

	_, err := q.Dequeue(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, q.Enqueue(context.Background(), newTestMessage(t, "x")), ErrClosed)
}

func TestMessage_ForReplay(t *testing.T) {
	msg := newTestMessage(t, "x")
	msg.Attempts = 3
	msg.LastError = "boom"
	msg.AvailableAt = time.Now().Add(time.Hour)

	replay := msg.ForReplay()
	assert.Equal(t, msg.ID, replay.ID)
	assert.Zero(t, replay.Attempts)
	assert.Empty(t, replay.LastError)
	assert.True(t, replay.Visible(time.Now().Add(time.Millisecond)))
}
