// Package resilience retries transient reasoning-API failures with
// exponential backoff and jitter.
package resilience

import (
	"context"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"
)

// RetryConfig controls the retry loop around a reasoner call.
type RetryConfig struct {
	// MaxAttempts counts the first try. 1 disables retries.
	MaxAttempts int

	// BaseDelay is the sleep before the first retry. It doubles per
	// attempt, capped at MaxDelay.
	BaseDelay time.Duration
	MaxDelay  time.Duration

	// Jitter widens each delay by a random fraction in [-Jitter, +Jitter].
	Jitter float64

	// ShouldRetry decides whether a failure is worth another attempt.
	// Defaults to IsTransient.
	ShouldRetry func(error) bool

	// OnRetry runs before each retry sleep.
	OnRetry func(attempt int, err error)
}

// DefaultConfig is tuned for interactive runs: short first delay, bounded
// total wait.
func DefaultConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 3,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    15 * time.Second,
		Jitter:      0.25,
	}
}

// Do runs fn until it succeeds, fails non-transiently, exhausts attempts,
// or the context ends. The value from the successful attempt is returned.
func Do[T any](ctx context.Context, cfg RetryConfig, fn func(ctx context.Context) (T, error)) (T, error) {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = 500 * time.Millisecond
	}
	if cfg.MaxDelay < cfg.BaseDelay {
		cfg.MaxDelay = cfg.BaseDelay
	}
	shouldRetry := cfg.ShouldRetry
	if shouldRetry == nil {
		shouldRetry = IsTransient
	}

	var zero T
	var lastErr error
	for attempt := 0; attempt < cfg.MaxAttempts; attempt++ {
		val, err := fn(ctx)
		if err == nil {
			return val, nil
		}
		lastErr = err

		if ctx.Err() != nil || !shouldRetry(err) || attempt == cfg.MaxAttempts-1 {
			break
		}

		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt+1, err)
		}

		timer := time.NewTimer(backoff(attempt, cfg))
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, lastErr
		case <-timer.C:
		}
	}
	return zero, lastErr
}

// backoff doubles BaseDelay per completed attempt, caps at MaxDelay, then
// applies jitter.
func backoff(attempt int, cfg RetryConfig) time.Duration {
	d := cfg.BaseDelay << attempt
	if d <= 0 || d > cfg.MaxDelay {
		d = cfg.MaxDelay
	}
	if cfg.Jitter > 0 {
		d = time.Duration(float64(d) * (1 + cfg.Jitter*(2*rand.Float64()-1)))
	}
	if d < 0 {
		d = 0
	}
	return d
}

// LogRetries returns an OnRetry hook that logs every attempt under op.
func LogRetries(op string) func(int, error) {
	return func(attempt int, err error) {
		zap.L().Warn("retrying after transient failure",
			zap.String("operation", op),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
	}
}
