package llm

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"time"
)

const maxRetries = 3

// backoffBase is the first retry delay; attempts double it (1s, 2s, 4s).
// Variable so tests can shrink it.
var backoffBase = time.Second

// withRetry runs fn with exponential backoff on retryable provider errors.
// Non-retryable failures surface immediately. Exhausted retries come back as
// KindUnavailable.
func withRetry(ctx context.Context, logger *slog.Logger, provider, op string, fn func() error) error {
	var lastErr error

	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			base := backoffBase << (attempt - 1)
			jitter := time.Duration(rand.Int63n(int64(base/2) + 1))
			backoff := base + jitter
			logger.Warn("retrying provider call",
				"provider", provider, "op", op, "attempt", attempt+1, "backoff", backoff)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}

		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err
		if !retryable(err) {
			return err
		}
	}

	return &ProviderError{
		Provider: provider,
		Kind:     KindUnavailable,
		Err:      fmt.Errorf("%s failed after %d retries: %w", op, maxRetries, lastErr),
	}
}
