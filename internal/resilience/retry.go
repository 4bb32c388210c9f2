package resilience

import (
	"context"
	"math"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"
)

// RetryConfig is an exponential backoff policy with jitter.
type RetryConfig struct {
	// MaxAttempts counts the first try. 1 disables retries.
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Multiplier     float64
	// JitterFraction spreads each delay by up to ±fraction. Clamped to [0,1].
	JitterFraction float64

	// ShouldRetry reports whether a failed attempt may be repeated. Nil
	// retries every error.
	ShouldRetry func(err error) bool
	// OnRetry runs before each backoff sleep with the number of the attempt
	// that just failed.
	OnRetry func(attempt int, err error)
}

// DefaultRetryConfig returns the policy for idempotent backend reads.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:    3,
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     5 * time.Second,
		Multiplier:     2,
		JitterFraction: 0.2,
	}
}

func (c RetryConfig) normalized() RetryConfig {
	def := DefaultRetryConfig()
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = def.MaxAttempts
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = def.InitialBackoff
	}
	if c.MaxBackoff < c.InitialBackoff {
		c.MaxBackoff = max(def.MaxBackoff, c.InitialBackoff)
	}
	if c.Multiplier < 1 {
		c.Multiplier = def.Multiplier
	}
	c.JitterFraction = math.Min(math.Max(c.JitterFraction, 0), 1)
	return c
}

// Retry calls fn until it succeeds, ShouldRetry rejects the error, the
// attempts run out or ctx ends. The last error is returned.
func Retry[T any](ctx context.Context, cfg RetryConfig, fn func(ctx context.Context) (T, error)) (T, error) {
	cfg = cfg.normalized()
	var zero T
	for attempt := 1; ; attempt++ {
		v, err := fn(ctx)
		if err == nil {
			return v, nil
		}
		if attempt >= cfg.MaxAttempts || ctx.Err() != nil {
			return zero, err
		}
		if cfg.ShouldRetry != nil && !cfg.ShouldRetry(err) {
			return zero, err
		}
		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt, err)
		}
		if !sleep(ctx, Backoff(attempt-1, cfg)) {
			return zero, err
		}
	}
}

// Backoff returns the delay before retry n, counting from 0.
func Backoff(n int, cfg RetryConfig) time.Duration {
	cfg = cfg.normalized()
	d := float64(cfg.InitialBackoff)
	for i := 0; i < n && d < float64(cfg.MaxBackoff); i++ {
		d *= cfg.Multiplier
	}
	d = math.Min(d, float64(cfg.MaxBackoff))
	if j := cfg.JitterFraction; j > 0 {
		d *= 1 + j*(2*rand.Float64()-1)
	}
	return time.Duration(d)
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// RetryLogger returns an OnRetry hook that logs the failed attempt.
func RetryLogger(component, operation string) func(int, error) {
	return func(attempt int, err error) {
		zap.L().Warn("backend call failed, retrying",
			zap.String("component", component),
			zap.String("operation", operation),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
	}
}
