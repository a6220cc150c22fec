package indexing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ytindexer/internal/constants"
	"ytindexer/internal/logger"
	"ytindexer/internal/queue"
	apperrors "ytindexer/pkg/errors"
	"ytindexer/pkg/logging"
	"ytindexer/pkg/metrics"
	"ytindexer/pkg/models"
	"ytindexer/pkg/tracing"
)

type SearchIndex interface {
	Put(ctx context.Context, entry models.SearchEntry) error
	Remove(ctx context.Context, videoID string) error
}

// Enricher adds optional data to content updates. It must not fail the write.
type Enricher interface {
	Transcript(ctx context.Context, update *models.VideoUpdate) string
}

type Outcome string

const (
	OutcomeCreated        Outcome = "created"
	OutcomeUpdated        Outcome = "updated"
	OutcomeStale          Outcome = "stale"
	OutcomeRemoved        Outcome = "removed"
	OutcomeAlreadyRemoved Outcome = "already_removed"
)

// Service applies video updates from the metadata queue to the document store, the
// search index and the channel stats.
type Service struct {
	videos   VideoRepository
	channels ChannelRepository
	index    SearchIndex
	enricher Enricher
	logger   logger.Logger
}

// NewService builds the indexer. enricher may be nil.
func NewService(videos VideoRepository, channels ChannelRepository, index SearchIndex, enricher Enricher, log logger.Logger) *Service {
	return &Service{
		videos:   videos,
		channels: channels,
		index:    index,
		enricher: enricher,
		logger:   log,
	}
}

// Handle is the queue.Handler for the metadata queue.
func (s *Service) Handle(ctx context.Context, msg queue.Message) error {
	var update models.VideoUpdate
	if err := msg.Decode(&update); err != nil {
		return apperrors.ErrMalformedInput.WithCause(err)
	}
	if err := models.ValidateVideoUpdate(&update); err != nil {
		return apperrors.ErrMalformedInput.WithCause(err)
	}

	_, err := s.Process(ctx, &update)
	return err
}

func (s *Service) Process(ctx context.Context, update *models.VideoUpdate) (Outcome, error) {
	ctx, span := tracing.GetTracer(constants.ServiceNameIndexer).Start(ctx, "indexing.process")
	defer span.End()

	ctx = logging.WithVideoID(ctx, update.VideoID)

	var (
		outcome Outcome
		err     error
	)
	if update.IsDeletion {
		outcome, err = s.remove(ctx, update)
	} else {
		outcome, err = s.store(ctx, update)
	}
	if err != nil {
		metrics.IncIndexingWrite("error")
		return "", err
	}

	metrics.IncIndexingWrite(string(outcome))
	return outcome, nil
}

func (s *Service) store(ctx context.Context, update *models.VideoUpdate) (Outcome, error) {
	var transcript string
	if s.enricher != nil {
		transcript = s.enricher.Transcript(ctx, update)
	}
	doc := documentFromUpdate(update, transcript)

	written, err := s.videos.Upsert(ctx, doc)
	if err != nil {
		return "", err
	}

	if written == UpsertStale {
		// A redelivery of an already stored revision may still owe its stats increment.
		if err := s.repairStats(ctx, update.VideoID); err != nil {
			return "", err
		}
		s.logger.InfowCtx(ctx, "Stale video update skipped", "updated_at", update.UpdatedAt)
		return OutcomeStale, nil
	}

	s.sync(ctx, doc, func(ctx context.Context) error {
		return s.index.Put(ctx, doc.SearchEntry())
	})

	claimed, err := s.countVideo(ctx, doc)
	if err != nil {
		return "", err
	}

	s.logger.InfowCtx(ctx, "Video stored",
		"outcome", written,
		"channel_id", doc.ChannelID,
		"counted", claimed,
	)
	if written == UpsertCreated {
		return OutcomeCreated, nil
	}
	return OutcomeUpdated, nil
}

// countVideo records doc in its channel stats, incrementing video_count only for the
// delivery that claims the video. A failed increment gives the claim back so the
// redelivery can take it again.
func (s *Service) countVideo(ctx context.Context, doc *models.VideoDocument) (bool, error) {
	claimed, err := s.videos.ClaimStatsCount(ctx, doc.VideoID)
	if err != nil {
		return false, err
	}
	if err := s.channels.RecordVideo(ctx, doc, claimed); err != nil {
		if claimed {
			if _, releaseErr := s.videos.ReleaseStatsCount(ctx, doc.VideoID); releaseErr != nil {
				s.logger.ErrorwCtx(ctx, "Failed to give back stats claim", "error", releaseErr)
			}
		}
		return false, err
	}
	return claimed, nil
}

func (s *Service) repairStats(ctx context.Context, videoID string) error {
	stored, err := s.videos.Get(ctx, videoID)
	if err != nil {
		return err
	}
	if stored.Removed || stored.StatsCounted {
		return nil
	}
	_, err = s.countVideo(ctx, stored)
	return err
}

func (s *Service) remove(ctx context.Context, update *models.VideoUpdate) (Outcome, error) {
	deletedAt := update.UpdatedAt.UTC().Truncate(time.Millisecond)

	doc, changed, err := s.videos.MarkRemoved(ctx, update.VideoID, update.ChannelID, deletedAt)
	if err != nil {
		return "", err
	}

	released, err := s.videos.ReleaseStatsCount(ctx, update.VideoID)
	if err != nil {
		return "", err
	}
	if released && doc.ChannelID != "" {
		if err := s.channels.RecordRemoval(ctx, doc.ChannelID, deletedAt); err != nil {
			return "", err
		}
	}

	if changed || doc.SyncStatus != models.SyncSynced {
		s.sync(ctx, doc, func(ctx context.Context) error {
			return s.index.Remove(ctx, doc.VideoID)
		})
	}

	if !changed {
		return OutcomeAlreadyRemoved, nil
	}
	s.logger.InfowCtx(ctx, "Video removed", "channel_id", doc.ChannelID, "stats_released", released)
	return OutcomeRemoved, nil
}

// sync runs the index write and records its result. An index failure leaves the
// document for the reconciliation sweep and is not returned.
func (s *Service) sync(ctx context.Context, doc *models.VideoDocument, write func(context.Context) error) {
	if err := write(ctx); err != nil {
		s.logger.WarnwCtx(ctx, "Search index write deferred to reconciliation", "error", err)
		if markErr := s.videos.MarkSyncFailed(ctx, doc); markErr != nil {
			s.logger.ErrorwCtx(ctx, "Failed to record sync failure", "error", markErr)
		}
		return
	}
	matched, err := s.videos.MarkSynced(ctx, doc)
	if err != nil {
		s.logger.WarnwCtx(ctx, "Failed to record sync success", "error", err)
		return
	}
	if !matched && !doc.Removed {
		if err := clearRemoved(ctx, s.videos, s.index, doc.VideoID); err != nil {
			s.logger.WarnwCtx(ctx, "Failed to clear removed video from search index", "error", err)
		}
	}
}

// clearRemoved undoes a content write that reached the index after the video's
// deletion had already been synced. A revision that no longer matches is either
// newer, and synced by its own write, or removed.
func clearRemoved(ctx context.Context, videos VideoRepository, index SearchIndex, videoID string) error {
	stored, err := videos.Get(ctx, videoID)
	if err != nil {
		return err
	}
	if !stored.Removed {
		return nil
	}

	if err := index.Remove(ctx, videoID); err != nil {
		if markErr := videos.MarkSyncFailed(ctx, stored); markErr != nil {
			return errors.Join(err, markErr)
		}
		return err
	}
	_, err = videos.MarkSynced(ctx, stored)
	return err
}

func documentFromUpdate(update *models.VideoUpdate, transcript string) *models.VideoDocument {
	url := update.CanonicalURL
	if url == "" {
		url = fmt.Sprintf("https://www.youtube.com/watch?v=%s", update.VideoID)
	}
	// Mongo stores millisecond precision; truncating keeps revisions comparable after a round trip.
	return &models.VideoDocument{
		VideoID:     update.VideoID,
		ChannelID:   update.ChannelID,
		Title:       update.Title,
		URL:         url,
		ChannelName: update.ChannelName,
		PublishedAt: update.PublishedAt.UTC().Truncate(time.Millisecond),
		UpdatedAt:   update.UpdatedAt.UTC().Truncate(time.Millisecond),
		SyncStatus:  models.SyncPending,
		Transcript:  transcript,
	}
}
