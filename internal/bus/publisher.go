// Tracelight - Clickstream Event Analytics Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tracelight

package bus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	wmNats "github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	natsgo "github.com/nats-io/nats.go"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/tomtom215/tracelight/internal/events"
	"github.com/tomtom215/tracelight/internal/metrics"
)

var (
	// ErrQueueFull is returned when the bounded publish queue cannot accept
	// another event. Callers drop the event and account for it.
	ErrQueueFull = errors.New("publish queue full")
	// ErrPublisherClosed is returned after Close.
	ErrPublisherClosed = errors.New("publisher is closed")
	// ErrBrokerUnavailable is returned while the circuit breaker is open.
	ErrBrokerUnavailable = errors.New("broker unavailable")
)

type publishTask struct {
	topic string
	msg   *message.Message
}

// Publisher wraps a Watermill publisher with circuit breaker protection and
// a bounded async queue. Publish enqueues and returns immediately; a worker
// goroutine drains the queue toward the broker. Failures are logged and
// counted, never retried.
type Publisher struct {
	publisher  message.Publisher
	breaker    *gobreaker.CircuitBreaker[any]
	serializer *Serializer
	queue      chan publishTask
	wg         sync.WaitGroup
	mu         sync.RWMutex
	closed     bool
	logger     watermill.LoggerAdapter
}

// NewPublisher creates a resilient JetStream publisher. The stream must be
// provisioned beforehand by StreamInitializer.
func NewPublisher(cfg PublisherConfig, logger watermill.LoggerAdapter) (*Publisher, error) {
	if logger == nil {
		logger = watermill.NewStdLogger(false, false)
	}

	natsOpts := []natsgo.Option{
		natsgo.RetryOnFailedConnect(true),
		natsgo.MaxReconnects(cfg.MaxReconnects),
		natsgo.ReconnectWait(cfg.ReconnectWait),
		natsgo.ReconnectBufSize(cfg.ReconnectBuffer),
		natsgo.DisconnectErrHandler(func(nc *natsgo.Conn, err error) {
			if err != nil {
				logger.Error("NATS disconnected", err, nil)
			}
		}),
		natsgo.ReconnectHandler(func(nc *natsgo.Conn) {
			logger.Info("NATS reconnected", watermill.LogFields{
				"url": nc.ConnectedUrl(),
			})
		}),
	}

	wmConfig := wmNats.PublisherConfig{
		URL:         cfg.URL,
		NatsOptions: natsOpts,
		Marshaler:   &wmNats.NATSMarshaler{},
		JetStream: wmNats.JetStreamConfig{
			Disabled:      false,
			AutoProvision: false,
			TrackMsgId:    cfg.EnableTrackMsgID,
			PublishOptions: []natsgo.PubOpt{
				natsgo.RetryAttempts(3),
				natsgo.RetryWait(100 * time.Millisecond),
			},
		},
	}

	pub, err := wmNats.NewPublisher(wmConfig, logger)
	if err != nil {
		return nil, fmt.Errorf("create watermill publisher: %w", err)
	}

	return newPublisher(pub, cfg, logger), nil
}

// newPublisher wires the queue and breaker around any transport. Tests
// inject an in-memory transport here.
func newPublisher(transport message.Publisher, cfg PublisherConfig, logger watermill.LoggerAdapter) *Publisher {
	if logger == nil {
		logger = watermill.NewStdLogger(false, false)
	}
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = DefaultPublisherConfig("").QueueSize
	}
	breakerCfg := cfg.Breaker
	if breakerCfg.Name == "" || breakerCfg.FailureThreshold == 0 {
		breakerCfg = DefaultBreakerConfig("bus-publisher")
	}

	p := &Publisher{
		publisher:  transport,
		breaker:    newBreaker(breakerCfg, logger),
		serializer: NewSerializer(),
		queue:      make(chan publishTask, queueSize),
		logger:     logger,
	}
	p.wg.Add(1)
	go p.worker()
	return p
}

func newBreaker(cfg BreakerConfig, logger watermill.LoggerAdapter) *gobreaker.CircuitBreaker[any] {
	return gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Info("Circuit breaker state change", watermill.LogFields{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			})
		},
	})
}

// Publish enqueues an envelope for asynchronous delivery to its category
// topic. Returns ErrQueueFull when the bounded queue is saturated and
// ErrBrokerUnavailable while the breaker is open; both mean the event was
// not accepted.
func (p *Publisher) Publish(ctx context.Context, env *events.Envelope) error {
	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		return ErrPublisherClosed
	}
	p.mu.RUnlock()

	if p.breaker.State() == gobreaker.StateOpen {
		return ErrBrokerUnavailable
	}

	msg, err := p.serializer.NewMessage(env)
	if err != nil {
		return err
	}

	select {
	case p.queue <- publishTask{topic: env.Topic(), msg: msg}:
		metrics.PublishQueueDepth.Set(float64(len(p.queue)))
		return nil
	default:
		return ErrQueueFull
	}
}

// PublishSync serializes the envelope and blocks for broker acknowledgment.
func (p *Publisher) PublishSync(ctx context.Context, env *events.Envelope) error {
	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		return ErrPublisherClosed
	}
	p.mu.RUnlock()

	msg, err := p.serializer.NewMessage(env)
	if err != nil {
		return err
	}
	return p.publish(env.Topic(), msg)
}

func (p *Publisher) worker() {
	defer p.wg.Done()
	for task := range p.queue {
		metrics.PublishQueueDepth.Set(float64(len(p.queue)))
		if err := p.publish(task.topic, task.msg); err != nil {
			p.logger.Error("Async publish failed", err, watermill.LogFields{
				"topic":        task.topic,
				"message_uuid": task.msg.UUID,
			})
		}
	}
}

func (p *Publisher) publish(topic string, msg *message.Message) error {
	if msg.Metadata.Get(natsgo.MsgIdHdr) == "" {
		msg.Metadata.Set(natsgo.MsgIdHdr, msg.UUID)
	}

	start := time.Now()
	_, err := p.breaker.Execute(func() (any, error) {
		return nil, p.publisher.Publish(topic, msg)
	})
	if err != nil {
		metrics.PublishFailures.WithLabelValues(topic).Inc()
		return err
	}
	metrics.PublishedEvents.WithLabelValues(topic).Inc()
	metrics.PublishDuration.Observe(time.Since(start).Seconds())
	return nil
}

// Close drains the queue and shuts down the transport.
func (p *Publisher) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	close(p.queue)
	p.wg.Wait()
	return p.publisher.Close()
}
