package indexing

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ytindexer/internal/logger"
	"ytindexer/internal/queue"
	apperrors "ytindexer/pkg/errors"
	"ytindexer/pkg/models"
)

type fixture struct {
	videos   *memoryVideos
	channels *memoryChannels
	index    *memoryIndex
	service  *Service
}

func newFixture(enricher Enricher) *fixture {
	f := &fixture{
		videos:   newMemoryVideos(),
		channels: newMemoryChannels(),
		index:    newMemoryIndex(),
	}
	f.service = NewService(f.videos, f.channels, f.index, enricher, logger.NopLogger())
	return f
}

var t0 = time.Date(2024, 5, 23, 12, 0, 0, 0, time.UTC)

func contentUpdate(videoID string, updatedAt time.Time, title string) *models.VideoUpdate {
	return &models.VideoUpdate{
		VideoID:      videoID,
		ChannelID:    "UCchannel",
		Title:        title,
		CanonicalURL: "https://www.youtube.com/watch?v=" + videoID,
		ChannelName:  "Channel",
		PublishedAt:  t0,
		UpdatedAt:    updatedAt,
	}
}

func deletion(videoID string, at time.Time) *models.VideoUpdate {
	return &models.VideoUpdate{VideoID: videoID, ChannelID: "UCchannel", UpdatedAt: at, IsDeletion: true}
}

type stubEnricher struct {
	calls int
	text  string
}

func (e *stubEnricher) Transcript(ctx context.Context, update *models.VideoUpdate) string {
	e.calls++
	return e.text
}

func TestService_NewVideo(t *testing.T) {
	enricher := &stubEnricher{text: "hello everyone"}
	f := newFixture(enricher)

	outcome, err := f.service.Process(context.Background(), contentUpdate("v1", t0.Add(time.Minute), "First"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeCreated, outcome)

	doc, err := f.videos.Get(context.Background(), "v1")
	require.NoError(t, err)
	assert.Equal(t, models.SyncSynced, doc.SyncStatus)
	assert.True(t, doc.StatsCounted)
	assert.Equal(t, "hello everyone", doc.Transcript)

	entry, ok := f.index.get("v1")
	require.True(t, ok)
	assert.Equal(t, "First", entry.Title)
	assert.Equal(t, "hello everyone", entry.Transcript)

	assert.Equal(t, int64(1), f.channels.count("UCchannel"))
	assert.Equal(t, 1, enricher.calls)
}

func TestService_IdempotentOverReplays(t *testing.T) {
	f := newFixture(nil)
	update := contentUpdate("v1", t0.Add(time.Minute), "First")

	outcome, err := f.service.Process(context.Background(), update)
	require.NoError(t, err)
	assert.Equal(t, OutcomeCreated, outcome)

	for i := 0; i < 5; i++ {
		outcome, err := f.service.Process(context.Background(), update)
		require.NoError(t, err)
		assert.Equal(t, OutcomeStale, outcome)
	}

	assert.Len(t, f.videos.docs, 1)
	assert.Equal(t, int64(1), f.channels.count("UCchannel"))
	assert.Equal(t, 1, f.index.size())
}

func TestService_OrderingTolerance(t *testing.T) {
	f := newFixture(nil)
	ctx := context.Background()

	_, err := f.service.Process(ctx, contentUpdate("v1", t0.Add(2*time.Minute), "Newer"))
	require.NoError(t, err)

	outcome, err := f.service.Process(ctx, contentUpdate("v1", t0.Add(time.Minute), "Older"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeStale, outcome)

	doc, err := f.videos.Get(ctx, "v1")
	require.NoError(t, err)
	assert.Equal(t, "Newer", doc.Title)
	assert.Equal(t, t0.Add(2*time.Minute), doc.UpdatedAt)

	entry, _ := f.index.get("v1")
	assert.Equal(t, "Newer", entry.Title)
	assert.Equal(t, int64(1), f.channels.count("UCchannel"))
}

func TestService_UpdateKeepsSingleCount(t *testing.T) {
	f := newFixture(nil)
	ctx := context.Background()

	_, err := f.service.Process(ctx, contentUpdate("v1", t0.Add(time.Minute), "First"))
	require.NoError(t, err)
	outcome, err := f.service.Process(ctx, contentUpdate("v1", t0.Add(2*time.Minute), "Second"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeUpdated, outcome)

	entry, _ := f.index.get("v1")
	assert.Equal(t, "Second", entry.Title)
	assert.Equal(t, int64(1), f.channels.count("UCchannel"))
}

func TestService_DeletionPrecedence(t *testing.T) {
	tests := []struct {
		name  string
		order []*models.VideoUpdate
	}{
		{
			name:  "content then deletion",
			order: []*models.VideoUpdate{contentUpdate("v1", t0.Add(time.Minute), "Title"), deletion("v1", t0.Add(2*time.Minute))},
		},
		{
			name:  "deletion then older content",
			order: []*models.VideoUpdate{deletion("v1", t0.Add(2*time.Minute)), contentUpdate("v1", t0.Add(time.Minute), "Title")},
		},
		{
			name:  "deletion then newer content",
			order: []*models.VideoUpdate{deletion("v1", t0), contentUpdate("v1", t0.Add(time.Hour), "Title")},
		},
		{
			name:  "content, deletion, content",
			order: []*models.VideoUpdate{contentUpdate("v1", t0, "Title"), deletion("v1", t0.Add(time.Minute)), contentUpdate("v1", t0.Add(time.Hour), "Again")},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(nil)
			ctx := context.Background()

			for _, u := range tt.order {
				_, err := f.service.Process(ctx, u)
				require.NoError(t, err)
			}

			doc, err := f.videos.Get(ctx, "v1")
			require.NoError(t, err)
			assert.True(t, doc.Removed)
			assert.NotNil(t, doc.DeletedAt)
			assert.False(t, doc.StatsCounted)

			_, indexed := f.index.get("v1")
			assert.False(t, indexed)
			assert.Zero(t, f.channels.count("UCchannel"))
		})
	}
}

func TestService_DeletionWhileContentIndexWriteInFlight(t *testing.T) {
	videos, channels, index := newMemoryVideos(), newMemoryChannels(), newGatedIndex()
	svc := NewService(videos, channels, index, nil, logger.NopLogger())
	ctx := context.Background()

	done := make(chan error, 1)
	go func() {
		_, err := svc.Process(ctx, contentUpdate("v1", t0, "Title"))
		done <- err
	}()
	<-index.entered

	outcome, err := svc.Process(ctx, deletion("v1", t0.Add(time.Minute)))
	require.NoError(t, err)
	assert.Equal(t, OutcomeRemoved, outcome)

	close(index.release)
	require.NoError(t, <-done)

	_, indexed := index.get("v1")
	assert.False(t, indexed, "removed video must not stay searchable")

	doc, err := videos.Get(ctx, "v1")
	require.NoError(t, err)
	assert.True(t, doc.Removed)
	assert.Equal(t, models.SyncSynced, doc.SyncStatus)
	assert.False(t, doc.StatsCounted)
	assert.Equal(t, int64(0), channels.count("UCchannel"))
}

func TestService_RepeatedDeletionIsNoop(t *testing.T) {
	f := newFixture(nil)
	ctx := context.Background()

	_, err := f.service.Process(ctx, contentUpdate("v1", t0, "Title"))
	require.NoError(t, err)

	outcome, err := f.service.Process(ctx, deletion("v1", t0.Add(time.Minute)))
	require.NoError(t, err)
	assert.Equal(t, OutcomeRemoved, outcome)

	outcome, err = f.service.Process(ctx, deletion("v1", t0.Add(time.Minute)))
	require.NoError(t, err)
	assert.Equal(t, OutcomeAlreadyRemoved, outcome)
	assert.Zero(t, f.channels.count("UCchannel"))
}

func TestService_DeletionSkipsEnrichment(t *testing.T) {
	enricher := &stubEnricher{text: "x"}
	f := newFixture(enricher)

	_, err := f.service.Process(context.Background(), deletion("v1", t0))
	require.NoError(t, err)
	assert.Zero(t, enricher.calls)
}

func TestService_IndexFailureIsDeferred(t *testing.T) {
	f := newFixture(nil)
	f.index.setFail(errors.New("es: connection refused"))

	outcome, err := f.service.Process(context.Background(), contentUpdate("v1", t0, "Title"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeCreated, outcome)

	doc, err := f.videos.Get(context.Background(), "v1")
	require.NoError(t, err)
	assert.Equal(t, models.SyncFailed, doc.SyncStatus)
	assert.NotNil(t, doc.LastSyncAttemptAt)
	assert.Equal(t, int64(1), f.channels.count("UCchannel"))
}

func TestService_StatsFailureIsRetriedWithoutDoubleCount(t *testing.T) {
	f := newFixture(nil)
	ctx := context.Background()
	update := contentUpdate("v1", t0, "Title")

	f.channels.fail = errors.New("mongo: timeout")
	_, err := f.service.Process(ctx, update)
	require.Error(t, err)
	assert.False(t, apperrors.IsFatal(err))

	doc, err := f.videos.Get(ctx, "v1")
	require.NoError(t, err)
	assert.False(t, doc.StatsCounted)

	// The redelivery finds the revision stored and still owes the increment.
	f.channels.fail = nil
	outcome, err := f.service.Process(ctx, update)
	require.NoError(t, err)
	assert.Equal(t, OutcomeStale, outcome)
	assert.Equal(t, int64(1), f.channels.count("UCchannel"))

	_, err = f.service.Process(ctx, update)
	require.NoError(t, err)
	assert.Equal(t, int64(1), f.channels.count("UCchannel"))
}

func TestService_TruncatesToMillisecond(t *testing.T) {
	f := newFixture(nil)
	ctx := context.Background()

	_, err := f.service.Process(ctx, contentUpdate("v1", t0.Add(123456789), "Title"))
	require.NoError(t, err)

	doc, err := f.videos.Get(ctx, "v1")
	require.NoError(t, err)
	assert.Equal(t, t0.Add(123*time.Millisecond), doc.UpdatedAt)

	// Sub-millisecond differences are the same revision.
	outcome, err := f.service.Process(ctx, contentUpdate("v1", t0.Add(123999999), "Title"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeStale, outcome)
}

func TestService_DefaultURL(t *testing.T) {
	f := newFixture(nil)
	update := contentUpdate("v1", t0, "Title")
	update.CanonicalURL = ""

	_, err := f.service.Process(context.Background(), update)
	require.NoError(t, err)

	doc, _ := f.videos.Get(context.Background(), "v1")
	assert.Equal(t, "https://www.youtube.com/watch?v=v1", doc.URL)
}

func TestService_HandleRejectsInvalidUpdates(t *testing.T) {
	f := newFixture(nil)
	ctx := context.Background()

	msg, err := queue.NewMessage(ctx, models.VideoUpdate{VideoID: "v1", UpdatedAt: t0})
	require.NoError(t, err)
	err = f.service.Handle(ctx, msg)
	assert.True(t, apperrors.IsMalformedInput(err))
	assert.True(t, queue.IsFatal(err))

	bad := queue.Message{ID: "m1", Payload: []byte(`"not an update"`)}
	assert.True(t, apperrors.IsMalformedInput(f.service.Handle(ctx, bad)))

	ok, err := queue.NewMessage(ctx, contentUpdate("v2", t0, "Title"))
	require.NoError(t, err)
	assert.NoError(t, f.service.Handle(ctx, ok))
}
