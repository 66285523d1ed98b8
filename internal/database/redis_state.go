// Redis-backed persistence for order lifecycle state. The broker remains the
// source of truth at startup; this store is a safety net that keeps the
// high-water mark and exit reasons across restarts. When Redis is
// unavailable it falls back to an in-memory cache so trading continues.
package database

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"alpaca-trading-bot/internal/orders"
)

const (
	// stateKeyPrefix is the prefix for individual lifecycle state keys.
	// Format: bot:state:{symbol}
	stateKeyPrefix = "bot:state"

	// stateSetKey holds the set of symbols with saved state
	stateSetKey = "bot:state:symbols"

	// stateTTL keeps stale state around long enough to survive weekends
	stateTTL = 7 * 24 * time.Hour
)

// Ensure the store satisfies the lifecycle manager's port
var _ orders.StateStore = (*RedisStateStore)(nil)

// RedisStateStore stores lifecycle state in Redis with an in-memory
// fallback cache when Redis is unavailable.
type RedisStateStore struct {
	client         *redis.Client
	logger         zerolog.Logger
	cache          map[string]*orders.SymbolState
	cacheMu        sync.RWMutex
	redisAvailable atomic.Bool
}

// NewRedisStateStore creates the store. A nil client means memory-only mode.
func NewRedisStateStore(client *redis.Client, logger zerolog.Logger) *RedisStateStore {
	store := &RedisStateStore{
		client: client,
		logger: logger.With().Str("component", "state_store").Logger(),
		cache:  make(map[string]*orders.SymbolState),
	}

	if client != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := client.Ping(ctx).Err(); err != nil {
			store.logger.Warn().Err(err).Msg("Redis unavailable, using in-memory cache")
			store.redisAvailable.Store(false)
		} else {
			store.logger.Info().Msg("Redis connected")
			store.redisAvailable.Store(true)
		}
	} else {
		store.logger.Info().Msg("No Redis client, using in-memory cache only")
		store.redisAvailable.Store(false)
	}

	return store
}

func stateKey(symbol string) string {
	return fmt.Sprintf("%s:%s", stateKeyPrefix, symbol)
}

// SaveState writes the lifecycle state for a symbol
func (s *RedisStateStore) SaveState(ctx context.Context, state *orders.SymbolState) error {
	if state == nil {
		return fmt.Errorf("cannot save nil state")
	}

	copied := *state
	s.cacheMu.Lock()
	s.cache[state.Symbol] = &copied
	s.cacheMu.Unlock()

	if s.client == nil || !s.redisAvailable.Load() {
		return nil
	}

	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal state for %s: %w", state.Symbol, err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, stateKey(state.Symbol), data, stateTTL)
	pipe.SAdd(ctx, stateSetKey, state.Symbol)
	pipe.Expire(ctx, stateSetKey, stateTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		s.redisAvailable.Store(false)
		s.logger.Warn().Err(err).Str("symbol", state.Symbol).Msg("Redis save failed, cache only")
		return nil
	}
	return nil
}

// LoadStates returns all saved lifecycle states keyed by symbol
func (s *RedisStateStore) LoadStates(ctx context.Context) (map[string]*orders.SymbolState, error) {
	if s.client != nil && s.redisAvailable.Load() {
		states, err := s.loadFromRedis(ctx)
		if err == nil {
			return states, nil
		}
		s.redisAvailable.Store(false)
		s.logger.Warn().Err(err).Msg("Redis load failed, falling back to cache")
	}

	s.cacheMu.RLock()
	defer s.cacheMu.RUnlock()

	states := make(map[string]*orders.SymbolState, len(s.cache))
	for symbol, st := range s.cache {
		copied := *st
		states[symbol] = &copied
	}
	return states, nil
}

func (s *RedisStateStore) loadFromRedis(ctx context.Context) (map[string]*orders.SymbolState, error) {
	symbols, err := s.client.SMembers(ctx, stateSetKey).Result()
	if err != nil {
		return nil, err
	}

	states := make(map[string]*orders.SymbolState, len(symbols))
	for _, symbol := range symbols {
		data, err := s.client.Get(ctx, stateKey(symbol)).Bytes()
		if err == redis.Nil {
			s.client.SRem(ctx, stateSetKey, symbol)
			continue
		}
		if err != nil {
			return nil, err
		}
		state := &orders.SymbolState{}
		if err := json.Unmarshal(data, state); err != nil {
			s.logger.Warn().Err(err).Str("symbol", symbol).Msg("Corrupt state entry skipped")
			continue
		}
		states[symbol] = state
	}
	return states, nil
}

// DeleteState removes the saved state for symbol
func (s *RedisStateStore) DeleteState(ctx context.Context, symbol string) error {
	s.cacheMu.Lock()
	delete(s.cache, symbol)
	s.cacheMu.Unlock()

	if s.client == nil || !s.redisAvailable.Load() {
		return nil
	}

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, stateKey(symbol))
	pipe.SRem(ctx, stateSetKey, symbol)
	if _, err := pipe.Exec(ctx); err != nil {
		s.redisAvailable.Store(false)
		s.logger.Warn().Err(err).Str("symbol", symbol).Msg("Redis delete failed, cache only")
	}
	return nil
}

// Available reports whether Redis is currently reachable
func (s *RedisStateStore) Available() bool {
	return s.redisAvailable.Load()
}
