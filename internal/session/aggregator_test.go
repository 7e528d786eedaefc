// Tracelight - Clickstream Event Analytics Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tracelight

package session

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/tomtom215/tracelight/internal/events"
)

type recordingSink struct {
	mu      sync.Mutex
	inserts []events.SessionRow
	updates []events.SessionRow
}

func (s *recordingSink) InsertSession(ctx context.Context, row events.SessionRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inserts = append(s.inserts, row)
	return nil
}

func (s *recordingSink) UpdateSession(ctx context.Context, row events.SessionRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updates = append(s.updates, row)
	return nil
}

func (s *recordingSink) last(t *testing.T) events.SessionRow {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.updates) > 0 {
		return s.updates[len(s.updates)-1]
	}
	if len(s.inserts) > 0 {
		return s.inserts[len(s.inserts)-1]
	}
	t.Fatal("No session writes recorded")
	return events.SessionRow{}
}

func pageLoad(sessionID, url string, ts time.Time) events.PageRow {
	return events.PageRow{
		Timestamp: ts,
		SessionID: sessionID,
		UserID:    "user-1",
		EventType: "page_load",
		PageURL:   url,
	}
}

func TestFirstPageLoadCreatesSession(t *testing.T) {
	sink := &recordingSink{}
	agg := NewAggregator(sink, DefaultConfig())

	ts := time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)
	if err := agg.RecordPageLoad(context.Background(), pageLoad("s1", "/landing", ts)); err != nil {
		t.Fatalf("RecordPageLoad failed: %v", err)
	}

	if len(sink.inserts) != 1 || len(sink.updates) != 0 {
		t.Fatalf("Expected 1 insert / 0 updates, got %d/%d", len(sink.inserts), len(sink.updates))
	}
	row := sink.inserts[0]
	if row.PageViews != 1 || row.Bounce != 1 {
		t.Errorf("Expected page_views=1 bounce=1, got %d/%d", row.PageViews, row.Bounce)
	}
	if row.EntryPage != "/landing" || row.ExitPage != "/landing" {
		t.Errorf("Entry and exit page must both be the first URL, got %q/%q", row.EntryPage, row.ExitPage)
	}
	if row.EndTime != nil || row.DurationMs != nil {
		t.Error("Fresh session must not carry end_time or duration")
	}
}

func TestSecondPageLoadUpdatesSession(t *testing.T) {
	sink := &recordingSink{}
	agg := NewAggregator(sink, DefaultConfig())
	ctx := context.Background()

	start := time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)
	if err := agg.RecordPageLoad(ctx, pageLoad("s1", "/a", start)); err != nil {
		t.Fatalf("First RecordPageLoad failed: %v", err)
	}
	if err := agg.RecordPageLoad(ctx, pageLoad("s1", "/b", start.Add(42*time.Second))); err != nil {
		t.Fatalf("Second RecordPageLoad failed: %v", err)
	}

	if len(sink.updates) != 1 {
		t.Fatalf("Expected 1 update, got %d", len(sink.updates))
	}
	row := sink.updates[0]
	if row.PageViews != 2 || row.Bounce != 0 {
		t.Errorf("Expected page_views=2 bounce=0, got %d/%d", row.PageViews, row.Bounce)
	}
	if row.EntryPage != "/a" || row.ExitPage != "/b" {
		t.Errorf("Expected entry /a exit /b, got %q/%q", row.EntryPage, row.ExitPage)
	}
	if row.DurationMs == nil || *row.DurationMs != 42000 {
		t.Errorf("Expected duration 42000ms, got %v", row.DurationMs)
	}
}

func TestEmptySessionIDSkipped(t *testing.T) {
	sink := &recordingSink{}
	agg := NewAggregator(sink, DefaultConfig())

	if err := agg.RecordPageLoad(context.Background(), pageLoad("", "/a", time.Now())); err != nil {
		t.Fatalf("RecordPageLoad failed: %v", err)
	}
	if len(sink.inserts)+len(sink.updates) != 0 {
		t.Error("Expected no sink writes for empty session_id")
	}
}

func TestConcurrentSameSessionPageLoads(t *testing.T) {
	sink := &recordingSink{}
	agg := NewAggregator(sink, DefaultConfig())
	ctx := context.Background()

	const n = 100
	start := time.Now().UTC()

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if err := agg.RecordPageLoad(ctx, pageLoad("shared", fmt.Sprintf("/p%d", i), start.Add(time.Duration(i)*time.Millisecond))); err != nil {
				t.Errorf("RecordPageLoad failed: %v", err)
			}
		}(i)
	}
	wg.Wait()

	row := sink.last(t)
	if row.PageViews != n {
		t.Errorf("Expected page_views %d with no lost updates, got %d", n, row.PageViews)
	}
	if len(sink.inserts) != 1 {
		t.Errorf("Expected exactly one create, got %d", len(sink.inserts))
	}
	if len(sink.updates) != n-1 {
		t.Errorf("Expected %d updates, got %d", n-1, len(sink.updates))
	}
}

func TestDistinctSessionsIndependent(t *testing.T) {
	sink := &recordingSink{}
	agg := NewAggregator(sink, DefaultConfig())
	ctx := context.Background()
	now := time.Now().UTC()

	for _, id := range []string{"a", "b", "c"} {
		if err := agg.RecordPageLoad(ctx, pageLoad(id, "/x", now)); err != nil {
			t.Fatalf("RecordPageLoad failed: %v", err)
		}
	}
	if len(sink.inserts) != 3 {
		t.Errorf("Expected 3 creates, got %d", len(sink.inserts))
	}
	if agg.Len() != 3 {
		t.Errorf("Expected 3 cached sessions, got %d", agg.Len())
	}
}

func TestCacheCapacityEviction(t *testing.T) {
	sink := &recordingSink{}
	cfg := DefaultConfig()
	cfg.Capacity = 2
	agg := NewAggregator(sink, cfg)
	ctx := context.Background()
	now := time.Now().UTC()

	for _, id := range []string{"a", "b", "c"} {
		if err := agg.RecordPageLoad(ctx, pageLoad(id, "/x", now)); err != nil {
			t.Fatalf("RecordPageLoad failed: %v", err)
		}
	}
	if agg.Len() != 2 {
		t.Fatalf("Expected capacity-bounded cache of 2, got %d", agg.Len())
	}

	// Session "a" was evicted; its next page_load recreates state and goes
	// through the insert path again.
	if err := agg.RecordPageLoad(ctx, pageLoad("a", "/y", now.Add(time.Second))); err != nil {
		t.Fatalf("RecordPageLoad after eviction failed: %v", err)
	}
	if len(sink.inserts) != 4 {
		t.Errorf("Expected re-insert after eviction, got %d inserts", len(sink.inserts))
	}
}

func TestSweepRemovesIdleSessions(t *testing.T) {
	sink := &recordingSink{}
	cfg := DefaultConfig()
	cfg.IdleTTL = 10 * time.Millisecond
	agg := NewAggregator(sink, cfg)

	if err := agg.RecordPageLoad(context.Background(), pageLoad("s1", "/a", time.Now())); err != nil {
		t.Fatalf("RecordPageLoad failed: %v", err)
	}
	time.Sleep(20 * time.Millisecond)

	if removed := agg.Sweep(); removed != 1 {
		t.Errorf("Expected 1 swept session, got %d", removed)
	}
	if agg.Len() != 0 {
		t.Errorf("Expected empty cache after sweep, got %d", agg.Len())
	}
}
