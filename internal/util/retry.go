package util

import (
	"context"
	"errors"
	"time"
)

const baseBackoff = 500 * time.Millisecond

// backoff sleeps before retry attempt i (0-based), doubling the delay each
// attempt. Returns early when the context is done.
func backoff(ctx context.Context, attempt int) {
	delay := baseBackoff << attempt
	select {
	case <-ctx.Done():
	case <-time.After(delay):
	}
}

// RetryErrWithContext calls fn up to maxTries times with exponential backoff
// until it returns nil error, or until ctx is done. If maxTries <= 0, it
// defaults to 1. Context cancellation is never retried.
func RetryErrWithContext(ctx context.Context, maxTries int, fn func(context.Context) error) error {
	if maxTries <= 0 {
		maxTries = 1
	}

	var lastErr error
	for i := 0; i < maxTries; i++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if i > 0 {
			backoff(ctx, i-1)
		}
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		lastErr = err
	}
	return lastErr
}

// RetryWithContext calls fn up to maxTries times with exponential backoff
// until it returns a result and nil error, or until ctx is done. If
// maxTries <= 0, it defaults to 1. Returns ctx.Err() if the context is
// canceled, otherwise the last error.
func RetryWithContext[T any](ctx context.Context, maxTries int, fn func(context.Context) (T, error)) (T, error) {
	if maxTries <= 0 {
		maxTries = 1
	}
	var lastErr error
	var zero T
	for i := 0; i < maxTries; i++ {
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
		if i > 0 {
			backoff(ctx, i-1)
		}
		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return zero, err
		}
		lastErr = err
	}
	return zero, lastErr
}
