// Tracelight - Clickstream Event Analytics Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tracelight

package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/tracelight/internal/events"
	"github.com/tomtom215/tracelight/internal/ingest"
	"github.com/tomtom215/tracelight/internal/ratelimit"
)

type nopPublisher struct{ published int }

func (p *nopPublisher) Publish(ctx context.Context, env *events.Envelope) error {
	p.published++
	return nil
}

func testServer(t *testing.T, requests int64) (http.Handler, *nopPublisher) {
	t.Helper()
	limiter, err := ratelimit.NewLimiter(ratelimit.NewMemoryCounter(), ratelimit.Config{
		Enabled:  true,
		Requests: requests,
		Window:   time.Hour,
	})
	if err != nil {
		t.Fatalf("Failed to build limiter: %v", err)
	}
	pub := &nopPublisher{}
	handler := NewHandler(ingest.NewRouter(limiter, pub))
	return Routes(DefaultConfig(), handler), pub
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("Failed to decode response body %q: %v", rec.Body.String(), err)
	}
	return body
}

func TestReceiveDataSuccess(t *testing.T) {
	srv, pub := testServer(t, 100)

	payload := `[{"event_type":"page_load","data":{"session_id":"s1","url":"/a"}},{"event_type":"bogus","data":{}}]`
	req := httptest.NewRequest(http.MethodPost, "/receive_data", strings.NewReader(payload))
	req.RemoteAddr = "203.0.113.7:54321"
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	if body["status"] != "success" {
		t.Errorf("Expected status success, got %v", body["status"])
	}
	if body["processed"] != float64(1) || body["skipped"] != float64(1) {
		t.Errorf("Expected processed=1 skipped=1, got %v/%v", body["processed"], body["skipped"])
	}
	if pub.published != 1 {
		t.Errorf("Expected 1 publish, got %d", pub.published)
	}
}

func TestReceiveDataNonArrayBody(t *testing.T) {
	srv, _ := testServer(t, 100)

	for _, payload := range []string{`{"event_type":"page_load"}`, `null`} {
		req := httptest.NewRequest(http.MethodPost, "/receive_data", strings.NewReader(payload))
		rec := httptest.NewRecorder()
		srv.ServeHTTP(rec, req)

		if rec.Code != http.StatusBadRequest {
			t.Fatalf("Expected 400 for %q, got %d", payload, rec.Code)
		}
		body := decodeBody(t, rec)
		if body["error"] != "Invalid request format: expected array" {
			t.Errorf("Unexpected error body for %q: %v", payload, body["error"])
		}
	}
}

func TestReceiveDataRateLimited(t *testing.T) {
	srv, _ := testServer(t, 1)
	payload := `[{"event_type":"page_load","data":{"url":"/a"}}]`

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodPost, "/receive_data", strings.NewReader(payload))
		req.RemoteAddr = "203.0.113.8:1000"
		rec := httptest.NewRecorder()
		srv.ServeHTTP(rec, req)

		if i == 0 && rec.Code != http.StatusOK {
			t.Fatalf("First request should pass, got %d", rec.Code)
		}
		if i == 1 {
			if rec.Code != http.StatusTooManyRequests {
				t.Fatalf("Expected 429, got %d", rec.Code)
			}
			body := decodeBody(t, rec)
			if body["error"] != "Too many requests, try again later" {
				t.Errorf("Unexpected error body: %v", body["error"])
			}
		}
	}
}

func TestHealthEndpoints(t *testing.T) {
	srv, _ := testServer(t, 100)

	for _, path := range []string{"/health", "/health/live", "/health/ready"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rec := httptest.NewRecorder()
		srv.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Errorf("Expected 200 from %s, got %d", path, rec.Code)
		}
	}
}

func TestHealthReadyReportsComponents(t *testing.T) {
	limiter, err := ratelimit.NewLimiter(ratelimit.NewMemoryCounter(), ratelimit.DefaultConfig())
	if err != nil {
		t.Fatalf("Failed to build limiter: %v", err)
	}
	handler := NewHandler(
		ingest.NewRouter(limiter, &nopPublisher{}),
		ReadyCheck{Name: "database", Check: func(ctx context.Context) error { return nil }},
		ReadyCheck{Name: "broker", Check: func(ctx context.Context) error { return errors.New("connection refused") }},
	)
	srv := Routes(DefaultConfig(), handler)

	req := httptest.NewRequest(http.MethodGet, "/health/ready", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("Partial failure should stay 200, got %d", rec.Code)
	}
	body := decodeBody(t, rec)
	components := body["components"].(map[string]any)
	if components["database"] != "ok" {
		t.Errorf("Expected database ok, got %v", components["database"])
	}
	if components["broker"] != "connection refused" {
		t.Errorf("Expected broker failure surfaced, got %v", components["broker"])
	}
}

func TestMetricsEndpoint(t *testing.T) {
	srv, _ := testServer(t, 100)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200 from /metrics, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "go_goroutines") {
		t.Error("Expected Prometheus exposition output")
	}
}

func TestClientIPPrecedence(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		remote  string
		want    string
	}{
		{
			name:    "forwarded-for wins",
			headers: map[string]string{"X-Forwarded-For": "198.51.100.1", "Proxy-Client-IP": "198.51.100.2"},
			remote:  "10.0.0.1:1234",
			want:    "198.51.100.1",
		},
		{
			name:    "first token of a chain",
			headers: map[string]string{"X-Forwarded-For": "198.51.100.1, 10.0.0.2, 10.0.0.3"},
			remote:  "10.0.0.1:1234",
			want:    "198.51.100.1",
		},
		{
			name:    "unknown header value skipped",
			headers: map[string]string{"X-Forwarded-For": "unknown", "Proxy-Client-IP": "198.51.100.5"},
			remote:  "10.0.0.1:1234",
			want:    "198.51.100.5",
		},
		{
			name:    "wl proxy third",
			headers: map[string]string{"WL-Proxy-Client-IP": "198.51.100.9"},
			remote:  "10.0.0.1:1234",
			want:    "198.51.100.9",
		},
		{
			name:   "socket address fallback",
			remote: "192.0.2.44:9999",
			want:   "192.0.2.44",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/receive_data", nil)
			req.RemoteAddr = tt.remote
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			if got := ClientIP(req); got != tt.want {
				t.Errorf("Expected %q, got %q", tt.want, got)
			}
		})
	}
}
