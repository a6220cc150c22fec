package circuitbreaker

import (
	"context"
	"errors"
	"fmt"

	"github.com/sony/gobreaker"

	"ytindexer/internal/config"
	"ytindexer/pkg/metrics"
)

// ErrOpen is returned instead of calling the dependency while the breaker rejects requests.
var ErrOpen = errors.New("circuit breaker open")

const (
	defaultMinRequests  = 3
	defaultFailureRatio = 0.5
)

// Breaker guards one downstream dependency. A nil *Breaker lets every call through.
type Breaker struct {
	name string
	cb   *gobreaker.CircuitBreaker
}

type Option func(*gobreaker.Settings)

// WithNeutralErrors makes errs count as successful calls. Use it for answers
// such as "not found" that say nothing about the dependency's health.
func WithNeutralErrors(errs ...error) Option {
	return func(s *gobreaker.Settings) {
		s.IsSuccessful = func(err error) bool {
			if err == nil {
				return true
			}
			for _, neutral := range errs {
				if errors.Is(err, neutral) {
					return true
				}
			}
			return false
		}
	}
}

// New returns nil when cfg is disabled.
func New(name string, cfg config.CircuitBreakerConfig, opts ...Option) *Breaker {
	if !cfg.Enabled {
		return nil
	}

	minRequests := cfg.MinRequests
	if minRequests == 0 {
		minRequests = defaultMinRequests
	}
	ratio := cfg.FailureRatio
	if ratio <= 0 {
		ratio = defaultFailureRatio
	}

	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < minRequests {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= ratio
		},
		OnStateChange: func(name string, _, to gobreaker.State) {
			publishState(name, to)
		},
	}
	for _, opt := range opts {
		opt(&settings)
	}

	cb := gobreaker.NewCircuitBreaker(settings)
	publishState(name, cb.State())
	return &Breaker{name: name, cb: cb}
}

// Do runs fn through b. Rejected calls fail with an error wrapping ErrOpen.
func Do[T any](ctx context.Context, b *Breaker, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	if err := ctx.Err(); err != nil {
		return zero, err
	}
	if b == nil {
		return fn(ctx)
	}

	result, err := b.cb.Execute(func() (interface{}, error) {
		return fn(ctx)
	})
	b.record(err)

	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return zero, fmt.Errorf("%s: %w", b.name, ErrOpen)
	}
	value, _ := result.(T)
	return value, err
}

func (b *Breaker) State() string {
	if b == nil {
		return "disabled"
	}
	return b.cb.State().String()
}

func (b *Breaker) IsOpen() bool {
	return b != nil && b.cb.State() == gobreaker.StateOpen
}

func (b *Breaker) record(err error) {
	metrics.CircuitBreakerRequests.WithLabelValues(b.name, b.cb.State().String()).Inc()
	if err != nil {
		metrics.CircuitBreakerFailures.WithLabelValues(b.name).Inc()
	}
}

func publishState(name string, state gobreaker.State) {
	// closed=0, half-open=1, open=2
	codes := map[gobreaker.State]float64{
		gobreaker.StateClosed:   0,
		gobreaker.StateHalfOpen: 1,
		gobreaker.StateOpen:     2,
	}
	metrics.CircuitBreakerState.WithLabelValues(name).Set(codes[state])
}
