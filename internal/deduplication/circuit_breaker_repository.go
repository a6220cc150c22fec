package deduplication

import (
	"context"
	"time"

	"ytindexer/internal/config"
	"ytindexer/pkg/circuitbreaker"
)

// CircuitBreakerRepository stops hammering Redis once claims keep failing, so
// the service's fallback policy kicks in without waiting on dial timeouts.
type CircuitBreakerRepository struct {
	repo    Repository
	breaker *circuitbreaker.Breaker
}

func NewCircuitBreakerRepository(repo Repository, cfg config.CircuitBreakerConfig) *CircuitBreakerRepository {
	return &CircuitBreakerRepository{
		repo:    repo,
		breaker: circuitbreaker.New("redis-dedup", cfg),
	}
}

func (r *CircuitBreakerRepository) Claim(ctx context.Context, key, owner string, ttl time.Duration) (bool, error) {
	return circuitbreaker.Do(ctx, r.breaker, func(ctx context.Context) (bool, error) {
		return r.repo.Claim(ctx, key, owner, ttl)
	})
}

func (r *CircuitBreakerRepository) Release(ctx context.Context, key, owner string) error {
	_, err := circuitbreaker.Do(ctx, r.breaker, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, r.repo.Release(ctx, key, owner)
	})
	return err
}

func (r *CircuitBreakerRepository) State() string { return r.breaker.State() }

func (r *CircuitBreakerRepository) IsOpen() bool { return r.breaker.IsOpen() }
