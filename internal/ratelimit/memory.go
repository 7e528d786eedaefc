// Tracelight - Clickstream Event Analytics Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tracelight

package ratelimit

import (
	"context"
	"sync"
	"time"
)

// MemoryCounter implements Counter in process memory. It backs tests and
// single-instance deployments running without a Badger store; counts are
// lost on restart.
type MemoryCounter struct {
	mu      sync.Mutex
	windows map[string]*window

	// now is overridable in tests.
	now func() time.Time
}

type window struct {
	count   int64
	expires time.Time
}

// NewMemoryCounter creates an in-memory counter.
func NewMemoryCounter() *MemoryCounter {
	return &MemoryCounter{
		windows: make(map[string]*window),
		now:     time.Now,
	}
}

// Increment adds one to the window counter for key and returns the new count.
func (c *MemoryCounter) Increment(ctx context.Context, key string, windowLen time.Duration) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	w, ok := c.windows[key]
	if !ok || now.After(w.expires) {
		w = &window{expires: now.Add(windowLen)}
		c.windows[key] = w
	}
	w.count++
	return w.count, nil
}

// Sweep removes expired windows. Callers run it periodically to bound
// memory; correctness does not depend on it because expired windows are
// replaced lazily on the next increment.
func (c *MemoryCounter) Sweep() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for key, w := range c.windows {
		if now.After(w.expires) {
			delete(c.windows, key)
		}
	}
}
