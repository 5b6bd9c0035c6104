// Package cache provides Redis-backed live state for the decision loop
// with graceful degradation. When Redis is unavailable, values are held in
// an in-process map so the engine keeps running; the cache is a
// convenience surface, never the source of truth.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/gocityvibes/emini/config"
	"github.com/gocityvibes/emini/internal/logging"
)

// Key prefixes for live-state entries
const (
	KeyEngineStatus  = "engine:status"
	KeyBudgetState   = "engine:budget"
	KeyOpenTrade     = "engine:open_trade"
	KeyGovernorState = "engine:governor"
	KeyFloors        = "engine:floors"
	KeyLastBar       = "engine:last_bar"
)

// DefaultTTL bounds staleness of live-state entries across restarts.
const DefaultTTL = 48 * time.Hour

// LiveState caches engine snapshots in Redis so external readers can poll
// without touching the engine or the database.
type LiveState struct {
	client  *redis.Client
	mu      sync.RWMutex
	healthy bool

	fallback map[string][]byte // in-process store when Redis is down
}

// NewLiveState connects to Redis. A failed connection is not fatal; the
// store starts in degraded in-memory mode.
func NewLiveState(cfg config.RedisConfig) *LiveState {
	ls := &LiveState{fallback: make(map[string][]byte)}
	if !cfg.Enabled {
		return ls
	}

	ls.client = redis.NewClient(&redis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.DB,
		MinIdleConns: 2,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	log := logging.Component("cache")
	if err := ls.client.Ping(ctx).Err(); err != nil {
		log.Warn().Err(err).Msg("redis unavailable, using in-memory live state")
		return ls
	}
	ls.healthy = true
	log.Info().Str("address", cfg.Address).Msg("redis connected")
	return ls
}

// IsHealthy reports whether Redis is currently reachable.
func (ls *LiveState) IsHealthy() bool {
	ls.mu.RLock()
	defer ls.mu.RUnlock()
	return ls.healthy
}

// Set stores a JSON-encoded value under key.
func (ls *LiveState) Set(ctx context.Context, key string, value interface{}) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", key, err)
	}

	if ls.useRedis() {
		if err := ls.client.Set(ctx, key, data, DefaultTTL).Err(); err != nil {
			ls.degrade(err)
		} else {
			return nil
		}
	}

	ls.mu.Lock()
	ls.fallback[key] = data
	ls.mu.Unlock()
	return nil
}

// Get loads the value under key into dest. Returns false when absent.
func (ls *LiveState) Get(ctx context.Context, key string, dest interface{}) (bool, error) {
	var data []byte

	if ls.useRedis() {
		raw, err := ls.client.Get(ctx, key).Bytes()
		switch {
		case err == redis.Nil:
			return false, nil
		case err != nil:
			ls.degrade(err)
		default:
			data = raw
		}
	}

	if data == nil {
		ls.mu.RLock()
		stored, ok := ls.fallback[key]
		ls.mu.RUnlock()
		if !ok {
			return false, nil
		}
		data = stored
	}

	if err := json.Unmarshal(data, dest); err != nil {
		return false, fmt.Errorf("failed to unmarshal %s: %w", key, err)
	}
	return true, nil
}

// Delete removes a key from both stores.
func (ls *LiveState) Delete(ctx context.Context, key string) {
	if ls.useRedis() {
		if err := ls.client.Del(ctx, key).Err(); err != nil {
			ls.degrade(err)
		}
	}
	ls.mu.Lock()
	delete(ls.fallback, key)
	ls.mu.Unlock()
}

// Close releases the Redis connection.
func (ls *LiveState) Close() error {
	if ls.client != nil {
		return ls.client.Close()
	}
	return nil
}

func (ls *LiveState) useRedis() bool {
	ls.mu.RLock()
	defer ls.mu.RUnlock()
	return ls.client != nil && ls.healthy
}

func (ls *LiveState) degrade(err error) {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	if ls.healthy {
		ls.healthy = false
		log := logging.Component("cache")
		log.Warn().Err(err).Msg("redis degraded, falling back to in-memory state")
	}
}
