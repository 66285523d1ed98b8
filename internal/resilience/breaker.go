package resilience

import (
	"sync"
	"time"
)

// BreakerState represents the circuit breaker state.
type BreakerState string

const (
	StateClosed BreakerState = "closed" // normal operation
	StateOpen   BreakerState = "open"   // failing fast
)

// BreakerConfig holds circuit breaker thresholds.
type BreakerConfig struct {
	FailureThreshold int           `json:"failure_threshold"`
	OpenDuration     time.Duration `json:"open_duration"`
}

// DefaultBreakerConfig returns the standard thresholds: open after 5
// consecutive failures, close again 5 minutes after the last one.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		OpenDuration:     5 * time.Minute,
	}
}

// Breaker tracks consecutive failures for one key.
type Breaker struct {
	key         string
	config      BreakerConfig
	mu          sync.Mutex
	state       BreakerState
	failures    int
	lastFailure time.Time
}

// NewBreaker creates a closed breaker for the given key.
func NewBreaker(key string, config BreakerConfig) *Breaker {
	return &Breaker{key: key, config: config, state: StateClosed}
}

// Allow checks whether a call may proceed. An open breaker closes again
// once the open duration has elapsed since the last failure; until then
// it rejects with CircuitOpenError.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateOpen {
		elapsed := time.Since(b.lastFailure)
		if elapsed > b.config.OpenDuration {
			b.state = StateClosed
			b.failures = 0
			return nil
		}
		return &CircuitOpenError{Key: b.key, RetryAfter: b.config.OpenDuration - elapsed}
	}
	return nil
}

// RecordSuccess resets the failure count.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateClosed {
		b.failures = 0
	}
}

// RecordFailure increments the failure count and trips the breaker at the
// threshold.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures++
	b.lastFailure = time.Now()
	if b.failures >= b.config.FailureThreshold {
		b.state = StateOpen
	}
}

// State returns the current breaker state.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Failures returns the current consecutive failure count.
func (b *Breaker) Failures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}

// BreakerRegistry hands out one breaker per key (symbol, endpoint, ...).
type BreakerRegistry struct {
	mu       sync.RWMutex
	config   BreakerConfig
	breakers map[string]*Breaker
}

// NewBreakerRegistry creates an empty registry sharing one config.
func NewBreakerRegistry(config BreakerConfig) *BreakerRegistry {
	return &BreakerRegistry{
		config:   config,
		breakers: make(map[string]*Breaker),
	}
}

// Get returns the breaker for key, creating it on first use.
func (r *BreakerRegistry) Get(key string) *Breaker {
	r.mu.RLock()
	b, ok := r.breakers[key]
	r.mu.RUnlock()
	if ok {
		return b
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.breakers[key]; ok {
		return b
	}
	b = NewBreaker(key, r.config)
	r.breakers[key] = b
	return b
}

// States returns a snapshot of every known breaker's state.
func (r *BreakerRegistry) States() map[string]BreakerState {
	r.mu.RLock()
	defer r.mu.RUnlock()

	states := make(map[string]BreakerState, len(r.breakers))
	for key, b := range r.breakers {
		states[key] = b.State()
	}
	return states
}
