//go:build integration

package deadletter

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ytindexer/internal/queue"
	"ytindexer/internal/testinfra"
)

func TestPostgresArchive_PutListGetDelete(t *testing.T) {
	infra := testinfra.Setup(t, testinfra.Needs{Postgres: true})
	ctx := context.Background()

	require.NoError(t, Migrate(infra.PostgresDB))
	// Running twice is a no-op.
	require.NoError(t, Migrate(infra.PostgresDB))

	archive := NewPostgresArchive(infra.PostgresDB)

	msg, err := queue.NewMessage(ctx, map[string]string{"video_id": "v1"})
	require.NoError(t, err)
	msg.Attempts = 3

	older := queue.DeadLetter{
		ID:       "dl-1",
		Queue:    "metadata",
		Message:  msg,
		Kind:     queue.KindRetryExhausted,
		Reason:   "mongo unavailable",
		Attempts: 3,
		FailedAt: time.Now().Add(-time.Minute).UTC(),
	}
	newer := queue.DeadLetter{
		ID:       "dl-2",
		Queue:    "notifications",
		Message:  msg,
		Kind:     queue.KindMalformed,
		Reason:   "missing videoId",
		Attempts: 1,
		FailedAt: time.Now().UTC(),
	}
	require.NoError(t, archive.Put(ctx, older))
	require.NoError(t, archive.Put(ctx, newer))
	require.NoError(t, archive.Put(ctx, newer), "duplicate ids are ignored")

	all, err := archive.List(ctx, "", 0)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "dl-2", all[0].ID)

	metadata, err := archive.List(ctx, "metadata", 10)
	require.NoError(t, err)
	require.Len(t, metadata, 1)
	assert.Equal(t, queue.KindRetryExhausted, metadata[0].Kind)
	assert.Equal(t, msg.ID, metadata[0].Message.ID)
	assert.Equal(t, 3, metadata[0].Message.Attempts)

	got, err := archive.Get(ctx, "dl-2")
	require.NoError(t, err)
	assert.Equal(t, "missing videoId", got.Reason)

	require.NoError(t, archive.Delete(ctx, "dl-2"))
	_, err = archive.Get(ctx, "dl-2")
	assert.ErrorIs(t, err, queue.ErrDeadLetterMissing)
}
