// Tracelight - Clickstream Event Analytics Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tracelight

package supervisor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tomtom215/tracelight/internal/events"
	"github.com/tomtom215/tracelight/internal/session"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// mockService implements suture.Service with controllable behavior.
type mockService struct {
	name       string
	startCount atomic.Int32
	stopCount  atomic.Int32
	failsLeft  atomic.Int32
}

func (m *mockService) Serve(ctx context.Context) error {
	m.startCount.Add(1)
	defer m.stopCount.Add(1)

	if m.failsLeft.Add(-1) >= 0 {
		return errors.New("simulated failure")
	}

	<-ctx.Done()
	return ctx.Err()
}

func (m *mockService) String() string { return m.name }

func TestTreeRunsAndStopsServices(t *testing.T) {
	tree := NewTree(discardLogger(), DefaultTreeConfig())

	svc := &mockService{name: "worker"}
	svc.failsLeft.Store(-1)
	tree.AddPipelineService(svc)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := tree.ServeBackground(ctx)

	deadline := time.Now().Add(5 * time.Second)
	for svc.startCount.Load() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("Service never started")
		}
		time.Sleep(10 * time.Millisecond)
	}

	cancel()
	select {
	case <-errCh:
	case <-time.After(5 * time.Second):
		t.Fatal("Tree did not stop after cancellation")
	}

	if svc.stopCount.Load() == 0 {
		t.Error("Service was not stopped")
	}
}

func TestTreeRestartsFailedService(t *testing.T) {
	cfg := DefaultTreeConfig()
	cfg.FailureBackoff = 10 * time.Millisecond
	tree := NewTree(discardLogger(), cfg)

	svc := &mockService{name: "flaky"}
	svc.failsLeft.Store(2)
	tree.AddPipelineService(svc)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errCh := tree.ServeBackground(ctx)

	deadline := time.Now().Add(5 * time.Second)
	for svc.startCount.Load() < 3 {
		if time.Now().After(deadline) {
			t.Fatalf("Expected at least 3 starts, got %d", svc.startCount.Load())
		}
		time.Sleep(10 * time.Millisecond)
	}

	cancel()
	<-errCh
}

func TestHTTPServiceGracefulShutdown(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to listen: %v", err)
	}
	addr := ln.Addr().String()
	if err := ln.Close(); err != nil {
		t.Fatalf("Failed to release port: %v", err)
	}

	server := &http.Server{
		Addr: addr,
		Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		}),
	}
	svc := NewHTTPService(server, 5*time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Serve(ctx) }()

	url := fmt.Sprintf("http://%s/", addr)
	deadline := time.Now().Add(5 * time.Second)
	for {
		resp, err := http.Get(url)
		if err == nil {
			resp.Body.Close()
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("Server never came up: %v", err)
		}
		time.Sleep(20 * time.Millisecond)
	}

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Expected context.Canceled, got %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("Serve did not return after cancellation")
	}
}

type nopSessionSink struct{}

func (nopSessionSink) InsertSession(ctx context.Context, row events.SessionRow) error { return nil }
func (nopSessionSink) UpdateSession(ctx context.Context, row events.SessionRow) error { return nil }

func TestJanitorServiceSweeps(t *testing.T) {
	agg := session.NewAggregator(nopSessionSink{}, session.Config{
		Capacity:      10,
		IdleTTL:       time.Millisecond,
		SweepInterval: 5 * time.Millisecond,
	})

	err := agg.RecordPageLoad(context.Background(), events.PageRow{
		SessionID:  "sess-janitor",
		UserID:     "u1",
		TrackingID: "u1",
		PageURL:    "/home",
		Timestamp:  time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("RecordPageLoad failed: %v", err)
	}
	if agg.Len() != 1 {
		t.Fatalf("Expected 1 live session, got %d", agg.Len())
	}

	svc := NewJanitorService(agg, 5*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Serve(ctx) }()

	deadline := time.Now().Add(5 * time.Second)
	for agg.Len() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("Janitor never swept the expired session")
		}
		time.Sleep(5 * time.Millisecond)
	}

	cancel()
	<-done
}
