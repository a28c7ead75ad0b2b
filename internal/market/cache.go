package market

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// FeedCache is the provider-response cache contract. Values round-trip
// through JSON so the in-memory and Redis tiers behave identically.
// Keys follow provider:endpoint:symbol.
type FeedCache interface {
	Get(ctx context.Context, key string, out interface{}) bool
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration)
	Clear(ctx context.Context)
	Tier() string
}

// CacheKey builds the canonical cache key.
func CacheKey(provider, endpoint, symbol string) string {
	return fmt.Sprintf("%s:%s:%s", provider, endpoint, symbol)
}

type cacheEntry struct {
	payload  []byte
	storedAt time.Time
	ttl      time.Duration
}

// MemoryCache is the in-process TTL cache. A background sweep drops
// expired entries so a quiet symbol does not pin stale data forever.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]cacheEntry
	now     func() time.Time
	stop    chan struct{}
	once    sync.Once
}

// NewMemoryCache creates a cache. Pass nil for time.Now.
func NewMemoryCache(now func() time.Time) *MemoryCache {
	if now == nil {
		now = time.Now
	}
	return &MemoryCache{
		entries: make(map[string]cacheEntry),
		now:     now,
		stop:    make(chan struct{}),
	}
}

// Get decodes the cached value into out when present and fresh.
func (c *MemoryCache) Get(_ context.Context, key string, out interface{}) bool {
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok || c.now().Sub(entry.storedAt) > entry.ttl {
		return false
	}
	if err := json.Unmarshal(entry.payload, out); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("Dropping undecodable cache entry")
		return false
	}
	return true
}

// Set records the value with its TTL; last write wins per key.
func (c *MemoryCache) Set(_ context.Context, key string, value interface{}, ttl time.Duration) {
	payload, err := json.Marshal(value)
	if err != nil {
		log.Warn().Err(err).Str("key", key).Msg("Skipping unencodable cache value")
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = cacheEntry{payload: payload, storedAt: c.now(), ttl: ttl}
}

// Clear drops every entry.
func (c *MemoryCache) Clear(_ context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]cacheEntry)
}

// Sweep drops expired entries and returns how many were removed.
func (c *MemoryCache) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	removed := 0
	for key, entry := range c.entries {
		if now.Sub(entry.storedAt) > entry.ttl {
			delete(c.entries, key)
			removed++
		}
	}
	return removed
}

// StartSweeper runs Sweep on the interval until StopSweeper is called.
func (c *MemoryCache) StartSweeper(interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if removed := c.Sweep(); removed > 0 {
					log.Debug().Int("removed", removed).Msg("Feed cache sweep completed")
				}
			case <-c.stop:
				return
			}
		}
	}()
}

// StopSweeper stops the background sweep.
func (c *MemoryCache) StopSweeper() {
	c.once.Do(func() { close(c.stop) })
}

// Tier names this cache for the operation metrics.
func (c *MemoryCache) Tier() string {
	return "memory"
}

// Len reports the number of entries, fresh or not.
func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
