// Rollcall - Academy Attendance Notification Pipeline
// Copyright 2026 GoldPen Inc.
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/goldpen/rollcall

// Package cache provides a small thread-safe TTL cache. Rollcall uses
// it for resolved notification templates so tenant settings are not
// re-read on every send. Callers construct a Cache and pass it to
// whatever needs it; there is no package-level instance.
package cache

import (
	"crypto/sha256"
	"fmt"
	"sync"
	"time"

	"github.com/goccy/go-json"
)

const cleanupInterval = 5 * time.Minute

type entry struct {
	data      interface{}
	expiresAt time.Time
}

// Cache is a thread-safe in-memory cache with per-entry expiration.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]entry
	ttl     time.Duration

	statsMu   sync.Mutex
	hits      int64
	misses    int64
	evictions int64

	stopOnce sync.Once
	stop     chan struct{}
}

// Stats is a point-in-time snapshot of cache counters.
type Stats struct {
	Hits      int64
	Misses    int64
	Evictions int64
	Keys      int
}

// New creates a cache whose entries expire after ttl. A background
// goroutine sweeps expired entries every five minutes until Close is
// called.
func New(ttl time.Duration) *Cache {
	c := &Cache{
		entries: make(map[string]entry),
		ttl:     ttl,
		stop:    make(chan struct{}),
	}
	go c.sweepLoop()
	return c
}

// Get returns the cached value for key, if present and not expired.
// Expired entries are removed on access.
func (c *Cache) Get(key string) (interface{}, bool) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()

	if !ok {
		c.count(&c.misses)
		return nil, false
	}

	if time.Now().After(e.expiresAt) {
		c.mu.Lock()
		delete(c.entries, key)
		c.mu.Unlock()
		c.count(&c.misses)
		c.count(&c.evictions)
		return nil, false
	}

	c.count(&c.hits)
	return e.data, true
}

// Set stores value under key with the default TTL.
func (c *Cache) Set(key string, value interface{}) {
	c.SetWithTTL(key, value, c.ttl)
}

// SetWithTTL stores value under key with an explicit TTL.
func (c *Cache) SetWithTTL(key string, value interface{}, ttl time.Duration) {
	c.mu.Lock()
	c.entries[key] = entry{data: value, expiresAt: time.Now().Add(ttl)}
	c.mu.Unlock()
}

// Delete removes key. Calling it for a missing key is a no-op.
func (c *Cache) Delete(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
	c.count(&c.evictions)
}

// Purge drops every entry.
func (c *Cache) Purge() {
	c.mu.Lock()
	n := int64(len(c.entries))
	c.entries = make(map[string]entry)
	c.mu.Unlock()

	c.statsMu.Lock()
	c.evictions += n
	c.statsMu.Unlock()
}

// Close stops the background sweeper. The cache stays usable.
func (c *Cache) Close() {
	c.stopOnce.Do(func() { close(c.stop) })
}

// GetStats returns a snapshot of the counters.
func (c *Cache) GetStats() Stats {
	c.mu.RLock()
	keys := len(c.entries)
	c.mu.RUnlock()

	c.statsMu.Lock()
	defer c.statsMu.Unlock()
	return Stats{
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
		Keys:      keys,
	}
}

// HitRate returns the hit percentage since creation.
func (c *Cache) HitRate() float64 {
	s := c.GetStats()
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total) * 100
}

func (c *Cache) count(field *int64) {
	c.statsMu.Lock()
	*field++
	c.statsMu.Unlock()
}

func (c *Cache) sweepLoop() {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.sweep()
		case <-c.stop:
			return
		}
	}
}

func (c *Cache) sweep() {
	now := time.Now()
	c.mu.Lock()
	var evicted int64
	for key, e := range c.entries {
		if now.After(e.expiresAt) {
			delete(c.entries, key)
			evicted++
		}
	}
	c.mu.Unlock()

	c.statsMu.Lock()
	c.evictions += evicted
	c.statsMu.Unlock()
}

// Key builds a stable cache key from a scope and parameters. The
// parameters are JSON-serialized and hashed so composite keys stay
// compact.
func Key(scope string, params interface{}) string {
	data, err := json.Marshal(params)
	if err != nil {
		return fmt.Sprintf("%s:%v", scope, params)
	}
	sum := sha256.Sum256(data)
	return fmt.Sprintf("%s:%x", scope, sum[:16])
}
