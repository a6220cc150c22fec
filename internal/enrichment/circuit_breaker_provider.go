package enrichment

import (
	"context"

	"ytindexer/internal/config"
	"ytindexer/pkg/circuitbreaker"
)

type CircuitBreakerProvider struct {
	provider TranscriptProvider
	breaker  *circuitbreaker.Breaker
}

// WrapWithCircuitBreaker returns p unchanged when breakers are disabled.
// ErrNoTranscript does not count against the provider.
func WrapWithCircuitBreaker(p TranscriptProvider, name string, cfg config.CircuitBreakerConfig) TranscriptProvider {
	breaker := circuitbreaker.New(name, cfg, circuitbreaker.WithNeutralErrors(ErrNoTranscript))
	if breaker == nil {
		return p
	}
	return &CircuitBreakerProvider{provider: p, breaker: breaker}
}

func (p *CircuitBreakerProvider) Transcript(ctx context.Context, videoID string) (string, error) {
	return circuitbreaker.Do(ctx, p.breaker, func(ctx context.Context) (string, error) {
		return p.provider.Transcript(ctx, videoID)
	})
}

func (p *CircuitBreakerProvider) State() string { return p.breaker.State() }

func (p *CircuitBreakerProvider) IsOpen() bool { return p.breaker.IsOpen() }
