// Coursemetry - Course Engagement Analytics Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/coursemetry

// Package cache provides the bounded-TTL read cache that sits in front
// of aggregate reads.
//
// The cache is an optimization only: correctness never depends on it.
// Losing every entry is a latency effect, not a data effect. Writers
// invalidate all keys derived from a subject after every successful
// aggregate mutation, so a reader either misses (and recomputes from
// the store) or sees a post-write value.
package cache

import (
	"crypto/sha256"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/coursemetry/internal/metrics"
)

// keySeparator joins subject, view kind, and query signature into a key.
// Subject-scoped invalidation depends on it: every key for a subject
// shares the prefix subjectID + keySeparator.
const keySeparator = "\x1f"

// Entry represents a cached item with expiration.
type Entry struct {
	Data      interface{}
	ExpiresAt time.Time
}

// Stats tracks cache performance counters.
type Stats struct {
	Hits        int64
	Misses      int64
	Evictions   int64
	TotalKeys   int64
	LastCleanup time.Time
}

// Cache is a thread-safe in-memory TTL cache with subject-scoped
// invalidation. All operations are best-effort and non-blocking with
// respect to storage: a degraded cache behaves as always-miss.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]Entry

	statsMu sync.Mutex
	stats   Stats

	stopOnce sync.Once
	stopCh   chan struct{}
}

// New creates a cache whose expired entries are swept every
// cleanupInterval. Call Close to stop the sweeper.
//
// Thread Safety: safe for concurrent access from multiple goroutines.
func New(cleanupInterval time.Duration) *Cache {
	if cleanupInterval <= 0 {
		cleanupInterval = 5 * time.Minute
	}

	c := &Cache{
		entries: make(map[string]Entry),
		stats:   Stats{LastCleanup: time.Now()},
		stopCh:  make(chan struct{}),
	}

	go c.cleanupLoop(cleanupInterval)

	return c
}

// Key builds a cache key from a subject and a view kind, e.g.
// Key("course-1", "summary"). Parameterized reads append a query
// signature: Key("course-1", "detail", SignatureOf(params)).
func Key(subjectID, viewKind string, signature ...string) string {
	parts := append([]string{subjectID, viewKind}, signature...)
	return strings.Join(parts, keySeparator)
}

// SignatureOf derives a compact, deterministic signature from query
// parameters for use as a key component.
func SignatureOf(params interface{}) string {
	data, err := json.Marshal(params)
	if err != nil {
		return fmt.Sprintf("%v", params)
	}
	hash := sha256.Sum256(data)
	return fmt.Sprintf("%x", hash[:12])
}

// Get retrieves a value by key. Expired entries are removed and counted
// as misses.
func (c *Cache) Get(key string) (interface{}, bool) {
	c.mu.RLock()
	entry, exists := c.entries[key]
	c.mu.RUnlock()

	if !exists {
		c.recordMiss()
		return nil, false
	}

	if time.Now().After(entry.ExpiresAt) {
		c.mu.Lock()
		delete(c.entries, key)
		c.mu.Unlock()
		c.recordMiss()
		c.recordEvictions(1)
		return nil, false
	}

	c.recordHit()
	return entry.Data, true
}

// Set stores a value with the given TTL. Each read kind carries its own
// TTL (summary vs detail projections).
func (c *Cache) Set(key string, value interface{}, ttl time.Duration) {
	c.mu.Lock()
	c.entries[key] = Entry{
		Data:      value,
		ExpiresAt: time.Now().Add(ttl),
	}
	total := len(c.entries)
	c.mu.Unlock()

	c.setTotalKeys(total)
}

// Delete removes a specific entry. No-op for missing keys.
func (c *Cache) Delete(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()

	c.recordEvictions(1)
}

// InvalidateSubject removes every key derived from the subject,
// including parameterized variants. Writers call this after every
// successful aggregate mutation for the subject.
func (c *Cache) InvalidateSubject(subjectID string) {
	prefix := subjectID + keySeparator

	c.mu.Lock()
	var evicted int64
	for key := range c.entries {
		if strings.HasPrefix(key, prefix) {
			delete(c.entries, key)
			evicted++
		}
	}
	total := len(c.entries)
	c.mu.Unlock()

	c.recordEvictions(evicted)
	c.setTotalKeys(total)
}

// Clear removes all entries in a single atomic operation.
func (c *Cache) Clear() {
	c.mu.Lock()
	evicted := int64(len(c.entries))
	c.entries = make(map[string]Entry)
	c.mu.Unlock()

	c.recordEvictions(evicted)
	c.setTotalKeys(0)
}

// GetStats returns a snapshot of the current cache counters.
func (c *Cache) GetStats() Stats {
	c.statsMu.Lock()
	defer c.statsMu.Unlock()
	return c.stats
}

// HitRate returns the cache hit rate as a percentage.
func (c *Cache) HitRate() float64 {
	stats := c.GetStats()
	total := stats.Hits + stats.Misses
	if total == 0 {
		return 0.0
	}
	return float64(stats.Hits) / float64(total) * 100.0
}

// Close stops the background cleanup goroutine.
func (c *Cache) Close() {
	c.stopOnce.Do(func() {
		close(c.stopCh)
	})
}

// cleanupLoop periodically removes expired entries until Close.
func (c *Cache) cleanupLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.cleanup()
		case <-c.stopCh:
			return
		}
	}
}

// cleanup removes all expired entries.
func (c *Cache) cleanup() {
	now := time.Now()

	c.mu.Lock()
	var evicted int64
	for key, entry := range c.entries {
		if now.After(entry.ExpiresAt) {
			delete(c.entries, key)
			evicted++
		}
	}
	total := len(c.entries)
	c.mu.Unlock()

	c.statsMu.Lock()
	c.stats.Evictions += evicted
	c.stats.TotalKeys = int64(total)
	c.stats.LastCleanup = now
	c.statsMu.Unlock()

	metrics.CacheEvictions.Add(float64(evicted))
	metrics.CacheEntries.Set(float64(total))
}

func (c *Cache) recordHit() {
	c.statsMu.Lock()
	c.stats.Hits++
	c.statsMu.Unlock()
	metrics.CacheHits.Inc()
}

func (c *Cache) recordMiss() {
	c.statsMu.Lock()
	c.stats.Misses++
	c.statsMu.Unlock()
	metrics.CacheMisses.Inc()
}

func (c *Cache) recordEvictions(n int64) {
	if n == 0 {
		return
	}
	c.statsMu.Lock()
	c.stats.Evictions += n
	c.statsMu.Unlock()
	metrics.CacheEvictions.Add(float64(n))
}

func (c *Cache) setTotalKeys(total int) {
	c.statsMu.Lock()
	c.stats.TotalKeys = int64(total)
	c.statsMu.Unlock()
	metrics.CacheEntries.Set(float64(total))
}
