// Tracelight - Clickstream Event Analytics Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tracelight

package consumer

import (
	"context"
	"fmt"
	"sync"

	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/tomtom215/tracelight/internal/events"
	"github.com/tomtom215/tracelight/internal/logging"
)

// Subscriber is the bus-facing surface the runner needs.
type Subscriber interface {
	Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error)
}

// Runner fans bus topics out to group handlers. Each topic of a registered
// group gets its own consume loop; all loops share the caller's context.
type Runner struct {
	subscriber Subscriber
	handlers   map[events.Group]Handler
}

// NewRunner creates a consumer runner over the shared subscriber.
func NewRunner(subscriber Subscriber) *Runner {
	return &Runner{
		subscriber: subscriber,
		handlers:   make(map[events.Group]Handler),
	}
}

// Register attaches a handler for one category group. Later registrations
// replace earlier ones.
func (r *Runner) Register(group events.Group, h Handler) {
	r.handlers[group] = h
}

// Run subscribes every registered group's topics and processes messages
// until the context is canceled. Messages are acked unless the handler
// reports an error, which only happens on cancellation.
func (r *Runner) Run(ctx context.Context) error {
	var wg sync.WaitGroup

	for group, handler := range r.handlers {
		for _, category := range events.GroupCategories(group) {
			topic := category.Topic()
			msgs, err := r.subscriber.Subscribe(ctx, topic)
			if err != nil {
				return fmt.Errorf("subscribe to %s: %w", topic, err)
			}

			wg.Add(1)
			go func(group events.Group, topic string, msgs <-chan *message.Message, handler Handler) {
				defer wg.Done()
				r.consume(ctx, group, topic, msgs, handler)
			}(group, topic, msgs, handler)

			logging.Info().
				Str("group", string(group)).
				Str("topic", topic).
				Msg("Consumer loop started")
		}
	}

	wg.Wait()
	return ctx.Err()
}

func (r *Runner) consume(ctx context.Context, group events.Group, topic string, msgs <-chan *message.Message, handler Handler) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			if err := handler.Handle(ctx, msg); err != nil {
				msg.Nack()
				logging.Warn().
					Err(err).
					Str("group", string(group)).
					Str("topic", topic).
					Str("message_uuid", msg.UUID).
					Msg("Message nacked for redelivery")
				continue
			}
			msg.Ack()
		}
	}
}
