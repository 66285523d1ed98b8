package resilience

import (
	"context"

	"github.com/rs/zerolog"
)

// Guard couples the retry policy with a keyed circuit breaker registry.
// Every broker and market-data call goes through Execute.
type Guard struct {
	logger   zerolog.Logger
	retry    RetryConfig
	breakers *BreakerRegistry
}

// NewGuard creates a guard with the given policies.
func NewGuard(logger zerolog.Logger, retry RetryConfig, breaker BreakerConfig) *Guard {
	return &Guard{
		logger:   logger.With().Str("component", "resilience").Logger(),
		retry:    retry,
		breakers: NewBreakerRegistry(breaker),
	}
}

// Execute runs fn under the breaker for key, retrying transient failures.
// When the breaker is open it fails fast with CircuitOpenError. Connection
// and server errors count toward the breaker; success resets it.
func (g *Guard) Execute(ctx context.Context, key string, fn func() error) error {
	b := g.breakers.Get(key)
	if err := b.Allow(); err != nil {
		return err
	}

	err := Retry(ctx, g.logger, g.retry, key, func() error {
		err := fn()
		if err != nil && CountsTowardBreaker(err) {
			b.RecordFailure()
		}
		return err
	})
	if err == nil {
		b.RecordSuccess()
		return nil
	}
	return err
}

// BreakerStates exposes the registry snapshot for status reporting.
func (g *Guard) BreakerStates() map[string]BreakerState {
	return g.breakers.States()
}
