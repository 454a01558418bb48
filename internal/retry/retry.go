// Package retry re-runs failed operations with capped exponential backoff.
// Callers classify which errors are worth retrying; everything else
// surfaces immediately.
package retry

import (
	"context"
	"math/rand/v2"
	"time"
)

// Config controls backoff behavior for a retried operation.
type Config struct {
	// MaxRetries is how many times a failed operation is re-run after
	// the initial attempt.
	MaxRetries int

	// BaseDelay is the delay before the first retry.
	BaseDelay time.Duration

	// MaxDelay caps the exponential growth.
	MaxDelay time.Duration

	// Retriable classifies errors. A nil classifier retries every error.
	Retriable func(error) bool

	// OnRetry, when set, observes each scheduled retry.
	OnRetry func(attempt int, delay time.Duration, err error)
}

// DefaultConfig is the standard policy for gateway operations.
var DefaultConfig = Config{
	MaxRetries: 3,
	BaseDelay:  1 * time.Second,
	MaxDelay:   60 * time.Second,
}

// Do runs op, re-invoking it on retriable errors until it succeeds, the
// classifier declares the error terminal, retries are exhausted, or ctx
// is done. The error from the last attempt is returned.
func Do(ctx context.Context, cfg Config, op func(ctx context.Context) error) error {
	var lastErr error

	for attempt := 0; ; attempt++ {
		err := op(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		if attempt >= cfg.MaxRetries {
			return lastErr
		}
		if cfg.Retriable != nil && !cfg.Retriable(err) {
			return lastErr
		}

		delay := backoff(cfg, attempt)
		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt+1, delay, err)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}

// backoff is min(BaseDelay * 2^attempt, MaxDelay), jittered down to
// between half and the full value so synchronized callers spread out.
func backoff(cfg Config, attempt int) time.Duration {
	delay := cfg.BaseDelay << uint(attempt)
	if delay <= 0 || delay > cfg.MaxDelay {
		delay = cfg.MaxDelay
	}
	half := delay / 2
	if half <= 0 {
		return delay
	}
	return half + rand.N(half+1)
}
