package retry

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
)

type RetryableError interface {
	error
	IsRetryable() bool
}

type FatalError interface {
	error
	IsFatal() bool
}

// marked tags an error as worth retrying or not. It satisfies both
// RetryableError and FatalError so either check answers correctly.
type marked struct {
	err   error
	fatal bool
}

func (m *marked) Error() string     { return m.err.Error() }
func (m *marked) Unwrap() error     { return m.err }
func (m *marked) IsFatal() bool     { return m.fatal }
func (m *marked) IsRetryable() bool { return !m.fatal }

func NewRetryableError(err error) RetryableError {
	if err == nil {
		return nil
	}
	return &marked{err: err}
}

// NewFatalError marks err so that queue consumers dead-letter the message
// at once and Do gives up.
func NewFatalError(err error) FatalError {
	if err == nil {
		return nil
	}
	return &marked{err: err, fatal: true}
}

func isFatal(err error) bool {
	var f FatalError
	return errors.As(err, &f) && f.IsFatal()
}

// Policy bounds how often and how patiently an operation is retried.
type Policy struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
	MaxElapsedTime  time.Duration
}

// Notify sees each failed attempt that will be retried and the wait before the next one.
type Notify func(attempt int, err error, next time.Duration)

// Do calls fn until it succeeds, fails fatally, ctx is done or policy runs out.
// The last error is returned.
func Do(ctx context.Context, policy Policy, fn func(ctx context.Context) error, notify Notify) error {
	attempt := 0
	op := func() error {
		attempt++
		err := fn(ctx)
		if err != nil && isFatal(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	var onFailure backoff.Notify
	if notify != nil {
		onFailure = func(err error, next time.Duration) { notify(attempt, err, next) }
	}
	return backoff.RetryNotify(op, backoff.WithContext(NewBackOff(policy), ctx), onFailure)
}
