package deduplication

import (
	"context"
	"fmt"
	"time"

	"ytindexer/internal/config"
	"ytindexer/internal/constants"
	"ytindexer/internal/logger"
	"ytindexer/pkg/metrics"
	"ytindexer/pkg/models"
	"ytindexer/pkg/retry"
	"ytindexer/pkg/tracing"
)

// Decision is the outcome of a dedup check.
type Decision struct {
	Key string
	// Unique is false when another message already claimed this revision.
	Unique bool
	// Bypassed is set when the store failed and on_redis_error=allow let the update through.
	Bypassed bool
}

type Service struct {
	repo   Repository
	hasher *Hasher
	cfg    config.DeduplicationConfig
	logger logger.Logger
}

func NewService(repo Repository, cfg config.DeduplicationConfig, log logger.Logger) *Service {
	if cfg.TTL <= 0 {
		cfg.TTL = constants.DefaultTTL
	}
	return &Service{
		repo:   repo,
		hasher: NewHasher(cfg.HashAlgorithm),
		cfg:    cfg,
		logger: log,
	}
}

// Check claims the revision described by update for owner, normally the queue message id.
// A redelivery of the same message sees its own claim and stays unique.
func (s *Service) Check(ctx context.Context, update *models.VideoUpdate, raw []byte, owner string) (Decision, error) {
	ctx, span := tracing.GetTracer(constants.ServiceNameExtractor).Start(ctx, "deduplication.check")
	defer span.End()

	key := s.hasher.Key(update, raw)

	claimed, err := s.repo.Claim(ctx, key, owner, s.cfg.TTL)
	if err != nil {
		metrics.IncDedupCheck("error")
		if s.cfg.OnRedisError == constants.FallbackAllow {
			metrics.IncFallback("deduplication", "allow_on_error", "redis_error")
			s.logger.WarnwCtx(ctx, "Redis error during dedup check, allowing update (fallback: allow)",
				"key", key,
				"error", err,
			)
			return Decision{Key: key, Unique: true, Bypassed: true}, nil
		}
		metrics.IncFallback("deduplication", "deny_on_error", "redis_error")
		return Decision{Key: key}, retry.NewRetryableError(fmt.Errorf("dedup check for %s: %w", key, err))
	}

	if claimed {
		metrics.IncDedupCheck("unique")
	} else {
		metrics.IncDedupCheck("duplicate")
	}
	return Decision{Key: key, Unique: claimed}, nil
}

// Release gives up a claim so a later redelivery can process the revision again.
func (s *Service) Release(ctx context.Context, d Decision, owner string) error {
	if d.Bypassed || !d.Unique {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	if err := s.repo.Release(ctx, d.Key, owner); err != nil {
		s.logger.WarnwCtx(ctx, "Failed to release dedup claim, it will expire with its TTL",
			"key", d.Key,
			"error", err,
		)
		return err
	}
	return nil
}
