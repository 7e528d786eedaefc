// Tracelight - Clickstream Event Analytics Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tracelight

package session

import (
	"sync"
	"time"

	"github.com/tomtom215/tracelight/internal/metrics"
)

type cacheEntry struct {
	key       string
	state     *State
	prev      *cacheEntry
	next      *cacheEntry
	expiresAt time.Time
}

// stateCache is a thread-safe LRU cache with idle-TTL expiry holding live
// session state. It bounds memory for long-running consumers: O(1) Get, Add,
// and eviction via a doubly-linked list plus hashmap.
type stateCache struct {
	mu sync.RWMutex

	capacity int
	ttl      time.Duration

	items map[string]*cacheEntry

	// head.next is most recently used, tail.prev least recently used.
	head *cacheEntry
	tail *cacheEntry
}

func newStateCache(capacity int, ttl time.Duration) *stateCache {
	if capacity <= 0 {
		capacity = DefaultConfig().Capacity
	}
	if ttl <= 0 {
		ttl = DefaultConfig().IdleTTL
	}

	c := &stateCache{
		capacity: capacity,
		ttl:      ttl,
		items:    make(map[string]*cacheEntry, capacity),
		head:     &cacheEntry{},
		tail:     &cacheEntry{},
	}
	c.head.next = c.tail
	c.tail.prev = c.head
	return c
}

// Get returns the live state for a session, refreshing recency. Expired
// entries are removed and reported absent.
func (c *stateCache) Get(key string) (*State, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, exists := c.items[key]
	if !exists {
		return nil, false
	}
	if time.Now().After(entry.expiresAt) {
		c.removeEntry(entry)
		return nil, false
	}
	c.moveToFront(entry)
	return entry.state, true
}

// Add inserts or refreshes a session's state, resetting the idle TTL. The
// least recently used entry is evicted at capacity.
func (c *stateCache) Add(key string, state *State) {
	c.mu.Lock()
	defer c.mu.Unlock()

	expiresAt := time.Now().Add(c.ttl)

	if entry, exists := c.items[key]; exists {
		entry.state = state
		entry.expiresAt = expiresAt
		c.moveToFront(entry)
		return
	}

	entry := &cacheEntry{key: key, state: state, expiresAt: expiresAt}
	c.addToFront(entry)
	c.items[key] = entry

	for len(c.items) > c.capacity {
		c.evictOldest()
	}
	metrics.SessionCacheSize.Set(float64(len(c.items)))
}

// Len returns the current number of cached sessions.
func (c *stateCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// CleanupExpired removes all idle-expired entries, walking from the LRU end.
// Returns the number removed.
func (c *stateCache) CleanupExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	removed := 0
	for entry := c.tail.prev; entry != c.head; {
		prev := entry.prev
		if now.After(entry.expiresAt) {
			c.removeEntry(entry)
			removed++
		}
		entry = prev
	}
	metrics.SessionCacheSize.Set(float64(len(c.items)))
	return removed
}

// Internal methods, called with the lock held.

func (c *stateCache) addToFront(entry *cacheEntry) {
	entry.prev = c.head
	entry.next = c.head.next
	c.head.next.prev = entry
	c.head.next = entry
}

func (c *stateCache) moveToFront(entry *cacheEntry) {
	entry.prev.next = entry.next
	entry.next.prev = entry.prev
	c.addToFront(entry)
}

func (c *stateCache) removeEntry(entry *cacheEntry) {
	entry.prev.next = entry.next
	entry.next.prev = entry.prev
	delete(c.items, entry.key)
}

func (c *stateCache) evictOldest() {
	oldest := c.tail.prev
	if oldest == c.head {
		return
	}
	c.removeEntry(oldest)
	metrics.SessionCacheEvictions.Inc()
}
