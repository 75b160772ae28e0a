// Package retry re-runs engine operations that lost a write race. Only
// conflict errors are retried by default; domain rejections (invalid
// transitions, limit denials) surface immediately.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gigledger/internal/domain"
)

// Config controls the retry loop.
type Config struct {
	// MaxAttempts is the total number of calls including the first.
	MaxAttempts int
	// BaseDelay feeds the quadratic backoff: wait = BaseDelay * attempt².
	BaseDelay time.Duration
	// Retryable decides whether an error is worth another attempt.
	// Nil means retry only ConcurrentConflictError.
	Retryable func(error) bool
	// OnRetry runs after a failed attempt, before the backoff sleep.
	OnRetry func(attempt int, err error)
}

func conflictOnly(err error) bool {
	var c *domain.ConcurrentConflictError
	return errors.As(err, &c)
}

// Do calls fn until it succeeds, returns a non-retryable error, or runs
// out of attempts.
func Do(ctx context.Context, cfg Config, fn func() error) error {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	retryable := cfg.Retryable
	if retryable == nil {
		retryable = conflictOnly
	}

	var lastErr error
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if !retryable(lastErr) || attempt == cfg.MaxAttempts {
			break
		}
		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt, lastErr)
		}
		delay := cfg.BaseDelay * time.Duration(attempt*attempt)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return fmt.Errorf("retry cancelled after attempt %d: %w", attempt, ctx.Err())
		}
	}
	return lastErr
}
