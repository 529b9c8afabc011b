// SPDX-License-Identifier: MIT

// Package cache is the TTL cache behind repeat recording-summary and listing
// queries. Values are opaque bytes; callers marshal what they store. Backends
// are process-local memory, Redis or a no-op for disabled caching.
package cache

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Cache is a byte-valued TTL cache.
type Cache interface {
	// Get returns the value for key, or false when absent or expired.
	Get(ctx context.Context, key string) ([]byte, bool)
	// Set stores value under key for ttl.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration)
	// Delete removes key.
	Delete(ctx context.Context, key string)
	// Clear removes every entry.
	Clear(ctx context.Context)
	// Stats reports counters since start.
	Stats() Stats
	// Close releases the backend.
	Close() error
}

// Stats counts cache traffic.
type Stats struct {
	Hits      int64
	Misses    int64
	Sets      int64
	Evictions int64
	Entries   int
}

// SummaryKey keys a recording summary by path and modification time, so a
// rewritten recording misses instead of serving the stale summary.
func SummaryKey(path string, modTime time.Time) string {
	return fmt.Sprintf("summary:%s@%d", path, modTime.UnixNano())
}

type memEntry struct {
	value    []byte
	deadline time.Time
}

type memoryCache struct {
	mu      sync.RWMutex
	entries map[string]memEntry
	stats   Stats

	sweepStop chan struct{}
	closeOnce sync.Once
}

// NewMemory returns an in-process cache. A positive sweepInterval starts a
// background sweeper that evicts expired entries; Close stops it.
func NewMemory(sweepInterval time.Duration) Cache {
	c := &memoryCache{
		entries:   make(map[string]memEntry),
		sweepStop: make(chan struct{}),
	}
	if sweepInterval > 0 {
		go c.sweep(sweepInterval)
	}
	return c
}

func (c *memoryCache) Get(_ context.Context, key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok || time.Now().After(e.deadline) {
		c.stats.Misses++
		return nil, false
	}
	c.stats.Hits++
	return e.value, true
}

func (c *memoryCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = memEntry{value: value, deadline: time.Now().Add(ttl)}
	c.stats.Sets++
}

func (c *memoryCache) Delete(_ context.Context, key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

func (c *memoryCache) Clear(_ context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]memEntry)
}

func (c *memoryCache) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s := c.stats
	s.Entries = len(c.entries)
	return s
}

func (c *memoryCache) Close() error {
	c.closeOnce.Do(func() { close(c.sweepStop) })
	return nil
}

func (c *memoryCache) sweep(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.evictExpired()
		case <-c.sweepStop:
			return
		}
	}
}

func (c *memoryCache) evictExpired() {
	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, e := range c.entries {
		if now.After(e.deadline) {
			delete(c.entries, key)
			c.stats.Evictions++
		}
	}
}

// NewNoop returns a cache that stores nothing.
func NewNoop() Cache { return noopCache{} }

type noopCache struct{}

func (noopCache) Get(context.Context, string) ([]byte, bool) { return nil, false }

func (noopCache) Set(context.Context, string, []byte, time.Duration) {}

func (noopCache) Delete(context.Context, string) {}

func (noopCache) Clear(context.Context) {}

func (noopCache) Stats() Stats { return Stats{} }

func (noopCache) Close() error { return nil }
