package retry

import (
	"math"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// NewBackOff builds the exponential schedule of policy, limited to MaxAttempts calls in total.
func NewBackOff(policy Policy) backoff.BackOff {
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = 3
	}
	if policy.Multiplier <= 0 {
		policy.Multiplier = 2.0
	}

	exp := backoff.NewExponentialBackOff()
	if policy.InitialInterval > 0 {
		exp.InitialInterval = policy.InitialInterval
	}
	if policy.MaxInterval > 0 {
		exp.MaxInterval = policy.MaxInterval
	}
	exp.Multiplier = policy.Multiplier
	exp.MaxElapsedTime = policy.MaxElapsedTime
	exp.Reset()

	return backoff.WithMaxRetries(exp, uint64(policy.MaxAttempts-1))
}

// CalculateBackoffDuration is initialInterval * multiplier^attempt, capped at maxInterval.
// It has no jitter, so queue redelivery delays are predictable.
func CalculateBackoffDuration(attempt int, initialInterval time.Duration, multiplier float64, maxInterval time.Duration) time.Duration {
	duration := float64(initialInterval) * math.Pow(multiplier, float64(attempt))
	if maxInterval > 0 && duration > float64(maxInterval) {
		return maxInterval
	}
	return time.Duration(duration)
}
