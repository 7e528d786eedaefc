// Tracelight - Clickstream Event Analytics Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tracelight

package bus

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/goccy/go-json"

	"github.com/tomtom215/tracelight/internal/events"
)

func testEnvelope(t *testing.T, category events.Category, data string) *events.Envelope {
	t.Helper()
	return &events.Envelope{
		Timestamp: time.Now().UTC(),
		EventType: category,
		UserID:    "user-1",
		ClientIP:  "203.0.113.9",
		Data:      json.RawMessage(data),
	}
}

func TestSerializerRoundTrip(t *testing.T) {
	s := NewSerializer()
	env := testEnvelope(t, events.CategoryPageLoad, `{"session_id":"s1","url":"https://example.com/"}`)

	data, err := s.Marshal(env)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	got, err := s.Unmarshal(data)
	if err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if got.EventType != env.EventType {
		t.Errorf("Expected event_type %q, got %q", env.EventType, got.EventType)
	}
	if got.UserID != "user-1" || got.ClientIP != "203.0.113.9" {
		t.Errorf("Identity fields lost: %+v", got)
	}
}

func TestSerializerRejectsInvalidEnvelope(t *testing.T) {
	s := NewSerializer()

	t.Run("unknown category", func(t *testing.T) {
		env := testEnvelope(t, "not_a_category", `{"a":1}`)
		if _, err := s.Marshal(env); err == nil {
			t.Error("Expected validation error for unknown category")
		}
	})

	t.Run("missing data", func(t *testing.T) {
		env := testEnvelope(t, events.CategoryPageLoad, ``)
		env.Data = nil
		if _, err := s.Marshal(env); err == nil {
			t.Error("Expected validation error for missing data")
		}
	})
}

func TestNewMessageSetsPartitionKey(t *testing.T) {
	s := NewSerializer()
	env := testEnvelope(t, events.CategoryPageLoad, `{"session_id":"sess-42"}`)

	msg, err := s.NewMessage(env)
	if err != nil {
		t.Fatalf("NewMessage failed: %v", err)
	}
	if got := msg.Metadata.Get(PartitionKeyMetadata); got != "sess-42" {
		t.Errorf("Expected partition key sess-42, got %q", got)
	}
	if msg.UUID == "" {
		t.Error("Expected message UUID to be set")
	}
}

// blockingTransport holds every publish until released, letting tests fill
// the bounded queue deterministically.
type blockingTransport struct {
	mu        sync.Mutex
	release   chan struct{}
	published []string
	fail      error
}

func newBlockingTransport() *blockingTransport {
	return &blockingTransport{release: make(chan struct{})}
}

func (tr *blockingTransport) Publish(topic string, msgs ...*message.Message) error {
	<-tr.release
	tr.mu.Lock()
	defer tr.mu.Unlock()
	if tr.fail != nil {
		return tr.fail
	}
	for range msgs {
		tr.published = append(tr.published, topic)
	}
	return nil
}

func (tr *blockingTransport) Close() error { return nil }

func TestPublisherQueueOverflow(t *testing.T) {
	transport := newBlockingTransport()
	cfg := DefaultPublisherConfig("")
	cfg.QueueSize = 2
	p := newPublisher(transport, cfg, nil)
	defer func() {
		close(transport.release)
		_ = p.Close()
	}()

	ctx := context.Background()
	env := testEnvelope(t, events.CategoryPageView, `{"session_id":"s1"}`)

	// The worker parks on the first publish; two more fill the queue.
	// Enqueues beyond that must fail rather than block the caller.
	var overflowed bool
	for i := 0; i < 4; i++ {
		if err := p.Publish(ctx, env); err != nil {
			if !errors.Is(err, ErrQueueFull) {
				t.Fatalf("Expected ErrQueueFull, got %v", err)
			}
			overflowed = true
			break
		}
	}
	if !overflowed {
		t.Error("Expected queue overflow after capacity exhausted")
	}
}

func TestPublisherDrainsQueueOnClose(t *testing.T) {
	transport := newBlockingTransport()
	close(transport.release)
	p := newPublisher(transport, DefaultPublisherConfig(""), nil)

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		env := testEnvelope(t, events.CategoryButtonClick, `{"session_id":"s2"}`)
		if err := p.Publish(ctx, env); err != nil {
			t.Fatalf("Publish %d failed: %v", i, err)
		}
	}
	if err := p.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	transport.mu.Lock()
	defer transport.mu.Unlock()
	if len(transport.published) != 5 {
		t.Errorf("Expected 5 published messages after drain, got %d", len(transport.published))
	}
	for _, topic := range transport.published {
		if topic != "events.button_click" {
			t.Errorf("Unexpected topic %q", topic)
		}
	}
}

func TestPublisherClosedRejectsPublish(t *testing.T) {
	transport := newBlockingTransport()
	close(transport.release)
	p := newPublisher(transport, DefaultPublisherConfig(""), nil)
	if err := p.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	env := testEnvelope(t, events.CategoryPageLoad, `{"a":1}`)
	if err := p.Publish(context.Background(), env); !errors.Is(err, ErrPublisherClosed) {
		t.Errorf("Expected ErrPublisherClosed, got %v", err)
	}
	if err := p.PublishSync(context.Background(), env); !errors.Is(err, ErrPublisherClosed) {
		t.Errorf("Expected ErrPublisherClosed from PublishSync, got %v", err)
	}
}

func TestPublisherBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	transport := newBlockingTransport()
	close(transport.release)
	transport.fail = errors.New("broker gone")
	p := newPublisher(transport, DefaultPublisherConfig(""), nil)
	defer func() { _ = p.Close() }()

	ctx := context.Background()
	env := testEnvelope(t, events.CategoryPurchase, `{"tracking_id":"t1"}`)

	// Threshold is 5 consecutive failures.
	for i := 0; i < 5; i++ {
		if err := p.PublishSync(ctx, env); err == nil {
			t.Fatalf("Expected failure on sync publish %d", i)
		}
	}

	if err := p.Publish(ctx, env); !errors.Is(err, ErrBrokerUnavailable) {
		t.Errorf("Expected ErrBrokerUnavailable once breaker is open, got %v", err)
	}
}

func TestPublisherBreakerThresholdConfigurable(t *testing.T) {
	transport := newBlockingTransport()
	close(transport.release)
	transport.fail = errors.New("broker gone")

	cfg := DefaultPublisherConfig("")
	cfg.Breaker.FailureThreshold = 2
	p := newPublisher(transport, cfg, nil)
	defer func() { _ = p.Close() }()

	ctx := context.Background()
	env := testEnvelope(t, events.CategoryPurchase, `{"tracking_id":"t1"}`)

	for i := 0; i < 2; i++ {
		if err := p.PublishSync(ctx, env); err == nil {
			t.Fatalf("Expected failure on sync publish %d", i)
		}
	}

	if err := p.Publish(ctx, env); !errors.Is(err, ErrBrokerUnavailable) {
		t.Errorf("Expected breaker open after 2 failures with threshold 2, got %v", err)
	}
}

func TestStreamInitializerValidation(t *testing.T) {
	if _, err := NewStreamInitializer(nil, DefaultStreamConfig()); err == nil {
		t.Error("Expected error for nil JetStream context")
	}
}

func TestDefaultStreamConfigCoversAllTopics(t *testing.T) {
	cfg := DefaultStreamConfig()
	if len(cfg.Subjects) != 1 || cfg.Subjects[0] != "events.>" {
		t.Errorf("Expected wildcard subject events.>, got %v", cfg.Subjects)
	}
	if cfg.MaxAge != 7*24*time.Hour {
		t.Errorf("Expected 7 day retention, got %v", cfg.MaxAge)
	}
}
