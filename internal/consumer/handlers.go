// Tracelight - Clickstream Event Analytics Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tracelight

// Package consumer normalizes bus messages into fact rows. Each category
// group has one handler feeding its fact table; the page handler also
// drives session aggregation.
//
// Delivery policy: a parse or sink failure is logged, counted, and the
// message is dropped so the consumer position advances. Redelivering a
// structurally broken payload cannot succeed, and a sink outage is surfaced
// through metrics rather than an ever-growing redelivery queue.
package consumer

import (
	"context"
	"errors"

	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/tomtom215/tracelight/internal/database"
	"github.com/tomtom215/tracelight/internal/events"
	"github.com/tomtom215/tracelight/internal/logging"
	"github.com/tomtom215/tracelight/internal/metrics"
	"github.com/tomtom215/tracelight/internal/session"
)

// Handler processes one bus message. A non-nil error triggers redelivery;
// handlers return one only when the context is canceled.
type Handler interface {
	Handle(ctx context.Context, msg *message.Message) error
}

func decode(group events.Group, msg *message.Message) (*events.Decoded, bool) {
	d, err := events.Decode(msg.Payload)
	if err != nil {
		metrics.ConsumeParseErrors.WithLabelValues(string(group)).Inc()
		logging.Warn().
			Err(err).
			Str("group", string(group)).
			Str("message_uuid", msg.UUID).
			Msg("Dropping unparseable message")
		return nil, false
	}
	return d, true
}

func dropOnSinkError(group events.Group, msg *message.Message, err error) {
	logging.Error().
		Err(err).
		Str("group", string(group)).
		Str("message_uuid", msg.UUID).
		Msg("Sink write failed, message dropped")
}

// PageHandler writes page fact rows and feeds the session aggregator on
// page_load events.
type PageHandler struct {
	sink       database.Sink
	aggregator *session.Aggregator
}

// NewPageHandler creates the page-group handler.
func NewPageHandler(sink database.Sink, aggregator *session.Aggregator) *PageHandler {
	return &PageHandler{sink: sink, aggregator: aggregator}
}

func (h *PageHandler) Handle(ctx context.Context, msg *message.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d, ok := decode(events.GroupPage, msg)
	if !ok {
		return nil
	}

	row := events.NewPageRow(d)
	if err := h.sink.InsertPageEvent(ctx, row); err != nil {
		dropOnSinkError(events.GroupPage, msg, err)
		return nil
	}
	metrics.ConsumedMessages.WithLabelValues(string(events.GroupPage)).Inc()

	if d.Category == events.CategoryPageLoad && h.aggregator != nil {
		if err := h.aggregator.RecordPageLoad(ctx, row); err != nil {
			logging.Error().
				Err(err).
				Str("session_id", row.SessionID).
				Msg("Session aggregation failed")
		}
	}
	return nil
}

// InteractionHandler writes interaction fact rows.
type InteractionHandler struct {
	sink database.Sink
}

// NewInteractionHandler creates the interaction-group handler.
func NewInteractionHandler(sink database.Sink) *InteractionHandler {
	return &InteractionHandler{sink: sink}
}

func (h *InteractionHandler) Handle(ctx context.Context, msg *message.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d, ok := decode(events.GroupInteraction, msg)
	if !ok {
		return nil
	}
	if err := h.sink.InsertInteractionEvent(ctx, events.NewInteractionRow(d)); err != nil {
		dropOnSinkError(events.GroupInteraction, msg, err)
		return nil
	}
	metrics.ConsumedMessages.WithLabelValues(string(events.GroupInteraction)).Inc()
	return nil
}

// FormHandler writes form fact rows.
type FormHandler struct {
	sink database.Sink
}

// NewFormHandler creates the form-group handler.
func NewFormHandler(sink database.Sink) *FormHandler {
	return &FormHandler{sink: sink}
}

func (h *FormHandler) Handle(ctx context.Context, msg *message.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d, ok := decode(events.GroupForm, msg)
	if !ok {
		return nil
	}
	if err := h.sink.InsertFormEvent(ctx, events.NewFormRow(d)); err != nil {
		dropOnSinkError(events.GroupForm, msg, err)
		return nil
	}
	metrics.ConsumedMessages.WithLabelValues(string(events.GroupForm)).Inc()
	return nil
}

// EcommerceHandler writes ecommerce fact rows. Payloads without a
// tracking_id cannot be attributed and are dropped as parse errors.
type EcommerceHandler struct {
	sink database.Sink
}

// NewEcommerceHandler creates the ecommerce-group handler.
func NewEcommerceHandler(sink database.Sink) *EcommerceHandler {
	return &EcommerceHandler{sink: sink}
}

func (h *EcommerceHandler) Handle(ctx context.Context, msg *message.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d, ok := decode(events.GroupEcommerce, msg)
	if !ok {
		return nil
	}

	row, err := events.NewEcommerceRow(d)
	if err != nil {
		if errors.Is(err, events.ErrMissingTrackingID) {
			metrics.ConsumeParseErrors.WithLabelValues(string(events.GroupEcommerce)).Inc()
			logging.Warn().
				Str("message_uuid", msg.UUID).
				Msg("Ecommerce event without tracking_id dropped")
			return nil
		}
		metrics.ConsumeParseErrors.WithLabelValues(string(events.GroupEcommerce)).Inc()
		logging.Warn().Err(err).Str("message_uuid", msg.UUID).Msg("Ecommerce normalization failed")
		return nil
	}

	if err := h.sink.InsertEcommerceEvent(ctx, row); err != nil {
		dropOnSinkError(events.GroupEcommerce, msg, err)
		return nil
	}
	metrics.ConsumedMessages.WithLabelValues(string(events.GroupEcommerce)).Inc()
	return nil
}
