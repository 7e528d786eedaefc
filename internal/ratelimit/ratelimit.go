// Tracelight - Clickstream Event Analytics Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tracelight

// Package ratelimit implements the fixed-window request counter that gates
// batch ingestion, keyed by client IP.
//
// The counter is an INCR-with-TTL primitive: the first increment in a window
// sets the window's expiry, later increments preserve it, and the window
// resets hard when the TTL lapses. The production backing store is BadgerDB;
// a memory implementation exists for tests and cache-less deployments.
package ratelimit

import (
	"context"
	"errors"
	"time"

	"github.com/tomtom215/tracelight/internal/logging"
	"github.com/tomtom215/tracelight/internal/metrics"
)

// ErrRateLimited is returned when a key has exhausted its window budget.
var ErrRateLimited = errors.New("rate limit exceeded")

// ErrStoreUnavailable is returned when the backing store faulted and the
// limiter is configured fail-closed.
var ErrStoreUnavailable = errors.New("rate limit store unavailable")

// Counter is the backing-store contract: increment the counter for key,
// starting a new window of the given length if none is active, and return
// the post-increment count.
type Counter interface {
	Increment(ctx context.Context, key string, window time.Duration) (int64, error)
}

// Config holds limiter settings.
type Config struct {
	// Enabled gates the limiter entirely; disabled means every request is
	// allowed without touching the store.
	Enabled bool `koanf:"enabled"`

	// Requests is the per-key budget within one window.
	Requests int64 `koanf:"requests" validate:"gte=0"`

	// Window is the fixed window length.
	Window time.Duration `koanf:"window"`

	// FailOpen allows requests through when the backing store faults.
	// The default is fail-closed: a store fault rejects the request to
	// protect downstream capacity.
	FailOpen bool `koanf:"fail_open"`

	// StoreTimeout bounds each store call.
	StoreTimeout time.Duration `koanf:"store_timeout"`
}

// DefaultConfig returns the production limiter settings: 100 requests per
// rolling hour per client IP, fail-closed.
func DefaultConfig() Config {
	return Config{
		Enabled:      true,
		Requests:     100,
		Window:       time.Hour,
		FailOpen:     false,
		StoreTimeout: 2 * time.Second,
	}
}

// Limiter compares per-key window counts against a fixed threshold.
type Limiter struct {
	counter Counter
	config  Config
}

// NewLimiter creates a limiter over the given counter store.
func NewLimiter(counter Counter, cfg Config) (*Limiter, error) {
	if counter == nil && cfg.Enabled {
		return nil, errors.New("counter required when limiter is enabled")
	}
	if cfg.Requests <= 0 {
		cfg.Requests = DefaultConfig().Requests
	}
	if cfg.Window <= 0 {
		cfg.Window = DefaultConfig().Window
	}
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = DefaultConfig().StoreTimeout
	}
	return &Limiter{counter: counter, config: cfg}, nil
}

// Allow increments the window counter for key and reports whether the
// request may proceed. Returns ErrRateLimited when the budget is exhausted,
// and ErrStoreUnavailable on a backing-store fault unless FailOpen is set.
func (l *Limiter) Allow(ctx context.Context, key string) error {
	if !l.config.Enabled {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, l.config.StoreTimeout)
	defer cancel()

	count, err := l.counter.Increment(ctx, key, l.config.Window)
	if err != nil {
		metrics.RateLimitStoreErrors.Inc()
		if l.config.FailOpen {
			logging.Warn().Err(err).Str("key", key).Msg("rate limit store fault, failing open")
			return nil
		}
		logging.Warn().Err(err).Str("key", key).Msg("rate limit store fault, failing closed")
		return ErrStoreUnavailable
	}

	if count > l.config.Requests {
		metrics.RateLimitRejections.Inc()
		return ErrRateLimited
	}
	return nil
}
