package errors

import (
	"fmt"
	"runtime/debug"
)

// RecoverPanic converts a recovered panic value into a retryable internal error.
// A panic says nothing about the input, so the work may be attempted again.
func RecoverPanic(r interface{}) error {
	if r == nil {
		return nil
	}

	var cause error
	switch v := r.(type) {
	case error:
		cause = fmt.Errorf("panic: %w", v)
	default:
		cause = fmt.Errorf("panic: %v", v)
	}

	return ErrInternal.
		WithCause(cause).
		WithDetail("panic", true).
		WithDetail("stack_trace", string(debug.Stack())).
		AsRetryable()
}

// Safely runs fn and reports a panic inside it as a RecoverPanic error.
func Safely(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = RecoverPanic(r)
		}
	}()
	return fn()
}
