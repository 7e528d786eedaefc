// Tracelight - Clickstream Event Analytics Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tracelight

// Package session derives per-session aggregates from page_load events. A
// bounded TTL-LRU cache holds live session state; writes reach the sink as
// an insert on first sight and updates afterward.
package session

import (
	"context"
	"hash/fnv"
	"sync"
	"time"

	"github.com/tomtom215/tracelight/internal/events"
	"github.com/tomtom215/tracelight/internal/logging"
	"github.com/tomtom215/tracelight/internal/metrics"
)

// lockShards serializes read-check-write per session key without a global
// lock. Concurrent page_loads for one session hash to the same shard.
const lockShards = 64

// Config bounds session state memory.
type Config struct {
	// Capacity is the maximum number of live sessions tracked.
	Capacity int `koanf:"capacity" validate:"gte=0"`
	// IdleTTL expires sessions with no page_load activity.
	IdleTTL time.Duration `koanf:"idle_ttl"`
	// SweepInterval is how often the janitor removes expired state.
	SweepInterval time.Duration `koanf:"sweep_interval"`
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		Capacity:      100000,
		IdleTTL:       30 * time.Minute,
		SweepInterval: time.Minute,
	}
}

// State is the in-memory aggregate for one session.
type State struct {
	SessionID  string
	UserID     string
	TrackingID string
	EntryPage  string
	ExitPage   string
	Referrer   string
	StartTime  time.Time
	LastSeen   time.Time
	PageViews  int
	Bounce     int
}

func (s *State) row() events.SessionRow {
	row := events.SessionRow{
		SessionID:  s.SessionID,
		UserID:     s.UserID,
		TrackingID: s.TrackingID,
		StartTime:  s.StartTime,
		Referrer:   s.Referrer,
		EntryPage:  s.EntryPage,
		ExitPage:   s.ExitPage,
		Bounce:     s.Bounce,
		PageViews:  s.PageViews,
	}
	if s.PageViews > 1 {
		end := s.LastSeen
		duration := end.Sub(s.StartTime).Milliseconds()
		row.EndTime = &end
		row.DurationMs = &duration
	}
	return row
}

// Sink receives session rows. Satisfied by database.Sink.
type Sink interface {
	InsertSession(ctx context.Context, row events.SessionRow) error
	UpdateSession(ctx context.Context, row events.SessionRow) error
}

// Aggregator maintains session aggregates from page_load events.
type Aggregator struct {
	cache *stateCache
	sink  Sink
	locks [lockShards]sync.Mutex
}

// NewAggregator creates a session aggregator over the given sink.
func NewAggregator(sink Sink, cfg Config) *Aggregator {
	return &Aggregator{
		cache: newStateCache(cfg.Capacity, cfg.IdleTTL),
		sink:  sink,
	}
}

func shardFor(key string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return h.Sum32() % lockShards
}

// RecordPageLoad folds one page_load into its session. First sight inserts
// a fresh aggregate; every later page_load bumps page_views, moves the exit
// page, and clears the bounce flag. State evicted mid-session is recreated
// here; the sink's upsert-by-key semantics absorb the re-insert.
func (a *Aggregator) RecordPageLoad(ctx context.Context, row events.PageRow) error {
	if row.SessionID == "" {
		logging.Debug().
			Str("tracking_id", row.TrackingID).
			Msg("page_load without session_id, aggregate skipped")
		return nil
	}

	shard := &a.locks[shardFor(row.SessionID)]
	shard.Lock()
	defer shard.Unlock()

	state, ok := a.cache.Get(row.SessionID)
	if !ok {
		state = &State{
			SessionID:  row.SessionID,
			UserID:     row.UserID,
			TrackingID: row.TrackingID,
			EntryPage:  row.PageURL,
			ExitPage:   row.PageURL,
			Referrer:   row.Referrer,
			StartTime:  row.Timestamp,
			LastSeen:   row.Timestamp,
			PageViews:  1,
			Bounce:     1,
		}
		a.cache.Add(row.SessionID, state)

		if err := a.sink.InsertSession(ctx, state.row()); err != nil {
			return err
		}
		metrics.SessionsCreated.Inc()
		logging.Debug().Str("session_id", row.SessionID).Msg("Session created")
		return nil
	}

	state.PageViews++
	state.ExitPage = row.PageURL
	state.LastSeen = row.Timestamp
	if state.PageViews > 1 {
		state.Bounce = 0
	}
	a.cache.Add(row.SessionID, state)

	if err := a.sink.UpdateSession(ctx, state.row()); err != nil {
		return err
	}
	metrics.SessionsUpdated.Inc()
	logging.Debug().
		Str("session_id", row.SessionID).
		Int("page_views", state.PageViews).
		Msg("Session updated")
	return nil
}

// Sweep removes idle-expired session state. Returns the count removed.
func (a *Aggregator) Sweep() int {
	return a.cache.CleanupExpired()
}

// Len returns the number of live sessions tracked.
func (a *Aggregator) Len() int {
	return a.cache.Len()
}
