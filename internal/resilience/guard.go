package resilience

import (
	"context"
	"errors"
)

// Guarded retries fn under retry, sending every attempt through cb. A nil cb
// skips circuit breaking. ErrCircuitOpen ends the retries at once.
func Guarded[T any](ctx context.Context, retry RetryConfig, cb *CircuitBreaker, fn func(ctx context.Context) (T, error)) (T, error) {
	inner := retry.ShouldRetry
	retry.ShouldRetry = func(err error) bool {
		if errors.Is(err, ErrCircuitOpen) {
			return false
		}
		return inner == nil || inner(err)
	}

	if cb == nil {
		return Retry(ctx, retry, fn)
	}
	return Retry(ctx, retry, func(ctx context.Context) (T, error) {
		return Call(ctx, cb, fn)
	})
}
