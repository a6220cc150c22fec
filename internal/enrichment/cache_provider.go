package enrichment

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"ytindexer/internal/constants"
	"ytindexer/internal/logger"
)

// CacheProvider serves transcripts from Redis and fills the cache from the wrapped
// provider. Missing transcripts are cached as empty strings for the same TTL.
type CacheProvider struct {
	client   *redis.Client
	provider TranscriptProvider
	ttl      time.Duration
	logger   logger.Logger
}

func NewCacheProvider(client *redis.Client, provider TranscriptProvider, ttl time.Duration, log logger.Logger) *CacheProvider {
	if ttl <= 0 {
		ttl = constants.DefaultTTL
	}
	return &CacheProvider{
		client:   client,
		provider: provider,
		ttl:      ttl,
		logger:   log,
	}
}

func cacheKey(videoID string) string {
	return constants.CacheKeyPrefixEnrich + "transcript:" + videoID
}

func (p *CacheProvider) Transcript(ctx context.Context, videoID string) (string, error) {
	key := cacheKey(videoID)

	val, err := p.client.Get(ctx, key).Result()
	switch {
	case err == nil:
		if val == "" {
			return "", ErrNoTranscript
		}
		return val, nil
	case errors.Is(err, redis.Nil):
	default:
		p.logger.WarnwCtx(ctx, "Transcript cache read failed", "key", key, "error", err)
	}

	text, err := p.provider.Transcript(ctx, videoID)
	if err != nil && !errors.Is(err, ErrNoTranscript) {
		return "", err
	}

	if setErr := p.client.Set(ctx, key, text, p.ttl).Err(); setErr != nil {
		p.logger.WarnwCtx(ctx, "Transcript cache write failed", "key", key, "error", setErr)
	}
	return text, err
}
