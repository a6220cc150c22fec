package enrichment

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"ytindexer/internal/config"
	"ytindexer/internal/constants"
	"ytindexer/internal/logger"
	"ytindexer/pkg/metrics"
	"ytindexer/pkg/models"
	"ytindexer/pkg/tracing"
)

const providerTranscript = "transcript"

// Service adds best-effort enrichment to video updates. It never fails a write.
type Service struct {
	provider TranscriptProvider
	logger   logger.Logger
}

func NewService(provider TranscriptProvider, log logger.Logger) *Service {
	return &Service{provider: provider, logger: log}
}

// NewFromConfig wires the HTTP provider behind a circuit breaker and, when rdb is
// not nil, a Redis cache. It returns nil when transcript enrichment is disabled.
func NewFromConfig(cfg *config.Config, rdb *redis.Client, log logger.Logger) *Service {
	tc := cfg.Enrichment.Transcript
	if !tc.Enabled || tc.URL == "" {
		return nil
	}

	var provider TranscriptProvider = NewHTTPProvider(tc)
	provider = WrapWithCircuitBreaker(provider, "transcript-api", cfg.CircuitBreaker)
	if rdb != nil {
		provider = NewCacheProvider(rdb, provider, tc.CacheTTL, log)
	}
	return NewService(provider, log)
}

// Transcript returns the transcript of the video, or "" when it is unavailable for any reason.
func (s *Service) Transcript(ctx context.Context, update *models.VideoUpdate) string {
	if s == nil || s.provider == nil || update == nil || update.IsDeletion {
		return ""
	}

	ctx, span := tracing.GetTracer(constants.ServiceNameIndexer).Start(ctx, "enrichment.transcript")
	defer span.End()

	start := time.Now()
	text, err := s.provider.Transcript(ctx, update.VideoID)
	metrics.ObserveEnrichmentProviderDuration(providerTranscript, time.Since(start))

	switch {
	case err == nil:
		metrics.IncEnrichmentProviderRequest(providerTranscript, "success")
		return text
	case errors.Is(err, ErrNoTranscript):
		metrics.IncEnrichmentProviderRequest(providerTranscript, "not_found")
		s.logger.DebugwCtx(ctx, "No transcript available", "video_id", update.VideoID)
	default:
		metrics.IncEnrichmentProviderRequest(providerTranscript, "error")
		s.logger.WarnwCtx(ctx, "Transcript enrichment failed, indexing without it",
			"video_id", update.VideoID,
			"error", err,
		)
	}
	return ""
}
