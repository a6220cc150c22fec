package extractor

import (
	"context"
	"fmt"

	"ytindexer/internal/constants"
	"ytindexer/internal/deduplication"
	"ytindexer/internal/feed"
	"ytindexer/internal/logger"
	"ytindexer/internal/queue"
	"ytindexer/pkg/cel"
	apperrors "ytindexer/pkg/errors"
	"ytindexer/pkg/logging"
	"ytindexer/pkg/metrics"
	"ytindexer/pkg/models"
	"ytindexer/pkg/retry"
	"ytindexer/pkg/tracing"
)

type Result string

const (
	ResultPublished Result = "published"
	ResultDuplicate Result = "duplicate"
	ResultFiltered  Result = "filtered"
	ResultEmpty     Result = "empty"
)

type Deduplicator interface {
	Check(ctx context.Context, update *models.VideoUpdate, raw []byte, owner string) (deduplication.Decision, error)
	Release(ctx context.Context, d deduplication.Decision, owner string) error
}

type Enqueuer interface {
	Name() string
	Enqueue(ctx context.Context, msg queue.Message) error
}

// Service turns notification envelopes into video updates on the metadata queue.
type Service struct {
	dedup  Deduplicator
	out    Enqueuer
	filter *cel.Filter
	logger logger.Logger
}

// NewService builds the extractor. filter may be nil to accept every update.
func NewService(dedup Deduplicator, out Enqueuer, filter *cel.Filter, log logger.Logger) *Service {
	return &Service{
		dedup:  dedup,
		out:    out,
		filter: filter,
		logger: log,
	}
}

// Handle is the queue.Handler for the notification queue.
func (s *Service) Handle(ctx context.Context, msg queue.Message) error {
	_, err := s.Process(ctx, msg)
	return err
}

func (s *Service) Process(ctx context.Context, msg queue.Message) (Result, error) {
	ctx, span := tracing.GetTracer(constants.ServiceNameExtractor).Start(ctx, "extractor.process")
	defer span.End()

	var env models.NotificationEnvelope
	if err := msg.Decode(&env); err != nil {
		return "", apperrors.ErrMalformedInput.WithCause(err)
	}
	if err := models.ValidateNotificationEnvelope(&env); err != nil {
		return "", apperrors.ErrMalformedInput.WithCause(err)
	}

	update, err := feed.Parse(env.RawPayload)
	if err != nil {
		metrics.IncExtractorUpdate("malformed")
		return "", err
	}
	if update == nil {
		metrics.IncExtractorUpdate(string(ResultEmpty))
		s.logger.InfowCtx(ctx, "Notification carried no entry")
		return ResultEmpty, nil
	}

	// Deletions without a time are fingerprinted without one, so repeated
	// notices share a dedup key even though each gets its own receive time.
	fingerprinted := *update
	if update.IsDeletion && update.UpdatedAt.IsZero() {
		update.UpdatedAt = env.ReceivedAt.UTC()
	}
	if err := models.ValidateVideoUpdate(update); err != nil {
		metrics.IncExtractorUpdate("malformed")
		return "", apperrors.ErrMalformedInput.WithCause(err)
	}

	ctx = logging.WithVideoID(ctx, update.VideoID)

	if s.filter != nil {
		keep, err := s.filter.Match(ctx, *update)
		if err != nil {
			return "", retry.NewFatalError(fmt.Errorf("filter %q: %w", s.filter.Expression(), err))
		}
		if !keep {
			metrics.IncExtractorUpdate(string(ResultFiltered))
			s.logger.InfowCtx(ctx, "Update dropped by filter", "expression", s.filter.Expression())
			return ResultFiltered, nil
		}
	}

	decision, err := s.dedup.Check(ctx, &fingerprinted, env.RawPayload, msg.ID)
	if err != nil {
		return "", err
	}
	if !decision.Unique {
		metrics.IncExtractorUpdate(string(ResultDuplicate))
		s.logger.InfowCtx(ctx, "Duplicate notification", "dedup_key", decision.Key)
		return ResultDuplicate, nil
	}

	out, err := queue.NewMessage(ctx, update)
	if err != nil {
		return "", retry.NewFatalError(err)
	}
	if err := s.out.Enqueue(ctx, out); err != nil {
		metrics.IncEnqueued(s.out.Name(), "error")
		publishErr := fmt.Errorf("publish update %s: %w", update.VideoID, err)
		if releaseErr := s.dedup.Release(ctx, decision, msg.ID); releaseErr != nil {
			// A redelivery carries the same owner, so the kept claim does not block it.
			s.logger.WarnwCtx(ctx, "Publish failed and dedup claim was kept", "dedup_key", decision.Key, "error", releaseErr)
		}
		return "", retry.NewRetryableError(publishErr)
	}

	metrics.IncEnqueued(s.out.Name(), "ok")
	metrics.IncExtractorUpdate(string(ResultPublished))
	s.logger.InfowCtx(ctx, "Video update published",
		"is_deletion", update.IsDeletion,
		"updated_at", update.UpdatedAt,
		"metadata_message_id", out.ID,
	)
	return ResultPublished, nil
}
