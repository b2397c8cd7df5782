package embed

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"time"
)

// retryConfig controls exponential backoff for model calls.
type retryConfig struct {
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
}

func defaultRetryConfig() retryConfig {
	return retryConfig{
		maxRetries: DefaultMaxRetries,
		baseDelay:  500 * time.Millisecond,
		maxDelay:   8 * time.Second,
	}
}

// withRetry runs fn with exponential backoff on transient failures.
// Context cancellation aborts immediately; non-transient errors do not retry.
func withRetry(ctx context.Context, cfg retryConfig, op string, fn func() error) error {
	var lastErr error
	delay := cfg.baseDelay

	for attempt := 0; attempt <= cfg.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
			if delay > cfg.maxDelay {
				delay = cfg.maxDelay
			}
		}

		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !isTransient(lastErr) {
			return lastErr
		}

		slog.Debug("embed_retry",
			slog.String("op", op),
			slog.Int("attempt", attempt+1),
			slog.String("error", lastErr.Error()))
	}

	return lastErr
}

// isTransient reports whether an error is worth retrying.
func isTransient(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr)
}
