package resilience

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// RetryConfig holds the backoff policy for transient failures.
type RetryConfig struct {
	MaxRetries        int           `json:"max_retries"`
	Delay             time.Duration `json:"delay"`
	BackoffFactor     float64       `json:"backoff_factor"`
	RateLimitCooldown time.Duration `json:"rate_limit_cooldown"`
}

// DefaultRetryConfig returns the standard policy: 3 retries starting at 1s
// doubling each time, with a 60s cooldown after a rate limit.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:        3,
		Delay:             time.Second,
		BackoffFactor:     2.0,
		RateLimitCooldown: 60 * time.Second,
	}
}

// Retry runs fn, retrying transient failures with exponential backoff.
// Rate-limited failures wait the full cooldown instead of the backoff delay
// and do not advance it. Non-retryable errors return immediately.
func Retry(ctx context.Context, logger zerolog.Logger, cfg RetryConfig, op string, fn func() error) error {
	delay := cfg.Delay
	var lastErr error

	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		if !Retryable(err) {
			return err
		}
		if attempt == cfg.MaxRetries {
			break
		}

		wait := delay
		if KindOf(err) == KindRateLimited {
			wait = cfg.RateLimitCooldown
		} else {
			delay = time.Duration(float64(delay) * cfg.BackoffFactor)
		}

		logger.Warn().
			Str("op", op).
			Int("attempt", attempt+1).
			Dur("wait", wait).
			Err(err).
			Msg("Transient error, retrying")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}

	return fmt.Errorf("%s: retries exhausted: %w", op, lastErr)
}
