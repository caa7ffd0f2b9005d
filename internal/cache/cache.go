// Package cache stores short-lived catalog listings as JSON.
package cache

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"mangashelf/pkg/clock"
)

// Cache is a JSON value cache with a per-entry TTL.
type Cache interface {
	Get(ctx context.Context, key string, dest any) (bool, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
}

type entry struct {
	data    []byte
	expires time.Time
}

// MemoryCache expires entries against the injected clock. Expired
// entries are dropped lazily on read.
type MemoryCache struct {
	Clock clock.Clock

	mu      sync.Mutex
	entries map[string]entry
}

func NewMemoryCache(clk clock.Clock) *MemoryCache {
	return &MemoryCache{Clock: clock.OrReal(clk), entries: make(map[string]entry)}
}

func (c *MemoryCache) Get(_ context.Context, key string, dest any) (bool, error) {
	c.mu.Lock()
	e, ok := c.entries[key]
	if ok && !c.Clock.Now().Before(e.expires) {
		delete(c.entries, key)
		ok = false
	}
	c.mu.Unlock()
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(e.data, dest); err != nil {
		return false, err
	}
	return true, nil
}

func (c *MemoryCache) Set(_ context.Context, key string, value any, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	b, err := json.Marshal(value)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.entries[key] = entry{data: b, expires: c.Clock.Now().Add(ttl)}
	c.mu.Unlock()
	return nil
}
