// Tracelight - Clickstream Event Analytics Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tracelight

package ingest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/tomtom215/tracelight/internal/events"
	"github.com/tomtom215/tracelight/internal/ratelimit"
)

type capturingPublisher struct {
	mu        sync.Mutex
	envelopes []*events.Envelope
	failAfter int // fail every publish once this many have succeeded; -1 never
}

func newCapturingPublisher() *capturingPublisher {
	return &capturingPublisher{failAfter: -1}
}

func (p *capturingPublisher) Publish(ctx context.Context, env *events.Envelope) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failAfter >= 0 && len(p.envelopes) >= p.failAfter {
		return errors.New("broker unavailable")
	}
	p.envelopes = append(p.envelopes, env)
	return nil
}

func openLimiter(t *testing.T) *ratelimit.Limiter {
	t.Helper()
	limiter, err := ratelimit.NewLimiter(ratelimit.NewMemoryCounter(), ratelimit.Config{
		Enabled:  true,
		Requests: 100,
		Window:   time.Hour,
	})
	if err != nil {
		t.Fatalf("Failed to build limiter: %v", err)
	}
	return limiter
}

func TestRouteAccountingInvariant(t *testing.T) {
	tests := []struct {
		name          string
		body          string
		wantProcessed int
		wantSkipped   int
	}{
		{
			name:          "all valid",
			body:          `[{"event_type":"page_load","data":{"session_id":"s1","url":"/a"}},{"event_type":"button_click","data":{"element":"cta"}}]`,
			wantProcessed: 2,
			wantSkipped:   0,
		},
		{
			name:          "unknown category skipped",
			body:          `[{"event_type":"totally_new","data":{"a":1}}]`,
			wantProcessed: 0,
			wantSkipped:   1,
		},
		{
			name:          "missing data skipped",
			body:          `[{"event_type":"page_load"}]`,
			wantProcessed: 0,
			wantSkipped:   1,
		},
		{
			name:          "mixed batch isolates failures",
			body:          `[{"event_type":"page_load","data":{"url":"/a"}},{"event_type":"nope","data":{}},{"type":"form_submit","data":{"form_id":"f"}},{"event_type":"scroll_depth"}]`,
			wantProcessed: 2,
			wantSkipped:   2,
		},
		{
			name:          "empty batch",
			body:          `[]`,
			wantProcessed: 0,
			wantSkipped:   0,
		},
		{
			name:          "non-object element skipped not fatal",
			body:          `[{"event_type":"page_load","data":{"url":"/a"}},123]`,
			wantProcessed: 1,
			wantSkipped:   1,
		},
		{
			name:          "string and null elements skipped",
			body:          `["stray",null,{"event_type":"button_click","data":{"element":"cta"}}]`,
			wantProcessed: 1,
			wantSkipped:   2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pub := newCapturingPublisher()
			router := NewRouter(openLimiter(t), pub)

			res, err := router.Route(context.Background(), []byte(tt.body), "203.0.113.1", "")
			if err != nil {
				t.Fatalf("Route failed: %v", err)
			}
			if res.Processed != tt.wantProcessed || res.Skipped != tt.wantSkipped {
				t.Errorf("Expected %d/%d, got %d/%d",
					tt.wantProcessed, tt.wantSkipped, res.Processed, res.Skipped)
			}
			if res.Processed+res.Skipped != tt.wantProcessed+tt.wantSkipped {
				t.Error("Accounting invariant violated")
			}
			if len(pub.envelopes) != tt.wantProcessed {
				t.Errorf("Expected %d published envelopes, got %d", tt.wantProcessed, len(pub.envelopes))
			}
		})
	}
}

func TestRouteRejectsNonArrayBody(t *testing.T) {
	router := NewRouter(openLimiter(t), newCapturingPublisher())

	for _, body := range []string{`{"event_type":"page_load"}`, `"hello"`, `not json`, `null`, `123`, ``, `[{"a":}`} {
		if _, err := router.Route(context.Background(), []byte(body), "203.0.113.1", ""); !errors.Is(err, ErrInvalidBatch) {
			t.Errorf("Expected ErrInvalidBatch for %q, got %v", body, err)
		}
	}
}

func TestRouteRateLimitRejectsWholeBatch(t *testing.T) {
	limiter, err := ratelimit.NewLimiter(ratelimit.NewMemoryCounter(), ratelimit.Config{
		Enabled:  true,
		Requests: 1,
		Window:   time.Hour,
	})
	if err != nil {
		t.Fatalf("Failed to build limiter: %v", err)
	}
	pub := newCapturingPublisher()
	router := NewRouter(limiter, pub)
	body := []byte(`[{"event_type":"page_load","data":{"url":"/a"}}]`)

	if _, err := router.Route(context.Background(), body, "203.0.113.5", ""); err != nil {
		t.Fatalf("First batch should pass: %v", err)
	}
	_, err = router.Route(context.Background(), body, "203.0.113.5", "")
	if !errors.Is(err, ratelimit.ErrRateLimited) {
		t.Fatalf("Expected ErrRateLimited, got %v", err)
	}
	if len(pub.envelopes) != 1 {
		t.Errorf("Rejected batch must publish nothing, got %d envelopes", len(pub.envelopes))
	}
}

func TestRoutePublishFailureDemotesEvent(t *testing.T) {
	pub := newCapturingPublisher()
	pub.failAfter = 1
	router := NewRouter(openLimiter(t), pub)

	body := []byte(`[{"event_type":"page_load","data":{"url":"/a"}},{"event_type":"page_view","data":{"url":"/b"}},{"event_type":"page_view","data":{"url":"/c"}}]`)
	res, err := router.Route(context.Background(), body, "203.0.113.1", "")
	if err != nil {
		t.Fatalf("Route failed: %v", err)
	}
	if res.Processed != 1 || res.Skipped != 2 {
		t.Errorf("Expected 1 processed and 2 skipped, got %d/%d", res.Processed, res.Skipped)
	}
}

func TestResolveUserID(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{
			name: "top-level tracking_id wins",
			body: `[{"event_type":"page_load","tracking_id":"top-trk","user_id":"u1","data":{"tracking_id":"data-trk"}}]`,
			want: "top-trk",
		},
		{
			name: "data tracking_id second",
			body: `[{"event_type":"page_load","user_id":"u1","data":{"tracking_id":"data-trk"}}]`,
			want: "data-trk",
		},
		{
			name: "camel-case variant third",
			body: `[{"event_type":"page_load","user_id":"u1","data":{"trackingId":"camel-trk"}}]`,
			want: "camel-trk",
		},
		{
			name: "top-level user_id fourth",
			body: `[{"event_type":"page_load","user_id":"u1","data":{"url":"/a"}}]`,
			want: "u1",
		},
		{
			name: "anonymous fallback",
			body: `[{"event_type":"page_load","data":{"url":"/a"}}]`,
			want: "anonymous",
		},
		{
			name: "malformed leading element does not block resolution",
			body: `[123,{"event_type":"page_load","tracking_id":"trk-late","data":{"url":"/a"}}]`,
			want: "trk-late",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pub := newCapturingPublisher()
			router := NewRouter(openLimiter(t), pub)
			if _, err := router.Route(context.Background(), []byte(tt.body), "203.0.113.1", ""); err != nil {
				t.Fatalf("Route failed: %v", err)
			}
			if len(pub.envelopes) != 1 {
				t.Fatalf("Expected one envelope, got %d", len(pub.envelopes))
			}
			if got := pub.envelopes[0].UserID; got != tt.want {
				t.Errorf("Expected user_id %q, got %q", tt.want, got)
			}
		})
	}
}

func TestRouteIdentityHeaderIgnored(t *testing.T) {
	pub := newCapturingPublisher()
	router := NewRouter(openLimiter(t), pub)
	body := []byte(`[{"event_type":"page_load","data":{"url":"/a"}}]`)

	if _, err := router.Route(context.Background(), body, "203.0.113.1", "header-identity"); err != nil {
		t.Fatalf("Route failed: %v", err)
	}
	if got := pub.envelopes[0].UserID; got != events.AnonymousUser {
		t.Errorf("Identity header must not influence resolution, got %q", got)
	}
}

func TestRouteStampsServerTimeAndClientIP(t *testing.T) {
	pub := newCapturingPublisher()
	router := NewRouter(openLimiter(t), pub)

	before := time.Now().UTC()
	body := []byte(`[{"event_type":"page_load","data":{"url":"/a"}}]`)
	if _, err := router.Route(context.Background(), body, "198.51.100.23", ""); err != nil {
		t.Fatalf("Route failed: %v", err)
	}
	after := time.Now().UTC()

	env := pub.envelopes[0]
	if env.ClientIP != "198.51.100.23" {
		t.Errorf("Unexpected client_ip %q", env.ClientIP)
	}
	if env.Timestamp.Before(before) || env.Timestamp.After(after) {
		t.Errorf("Timestamp %v outside [%v, %v]", env.Timestamp, before, after)
	}
}
