// Tracelight - Clickstream Event Analytics Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tracelight

// Package ingest routes raw client batches from the HTTP edge onto the bus.
// Events are gated by the rate limiter, stamped with a resolved identity and
// server time, then published per category. A batch is never partially
// rejected: every event is either processed or individually skipped.
package ingest

import (
	"bytes"
	"context"
	"errors"

	"github.com/goccy/go-json"

	"github.com/tomtom215/tracelight/internal/events"
	"github.com/tomtom215/tracelight/internal/logging"
	"github.com/tomtom215/tracelight/internal/metrics"
	"github.com/tomtom215/tracelight/internal/ratelimit"
)

// ErrInvalidBatch is returned when the request body is not a JSON array.
var ErrInvalidBatch = errors.New("request body must be a JSON array of events")

// Publisher is the bus-facing surface the router needs.
type Publisher interface {
	Publish(ctx context.Context, env *events.Envelope) error
}

// Result reports per-batch accounting. Processed+Skipped always equals the
// batch length.
type Result struct {
	Processed int `json:"processed"`
	Skipped   int `json:"skipped"`
}

// Router validates, enriches, and publishes event batches.
type Router struct {
	limiter   *ratelimit.Limiter
	publisher Publisher
}

// NewRouter creates an event router.
func NewRouter(limiter *ratelimit.Limiter, publisher Publisher) *Router {
	return &Router{limiter: limiter, publisher: publisher}
}

// Route processes one submitted batch. The whole batch is rejected on rate
// limiting or a non-array body; after that, events fail individually. An
// array element that is not an event object is skipped, not fatal.
// identityHeader is accepted for wire compatibility but identity is resolved
// from the batch content only.
func (r *Router) Route(ctx context.Context, body []byte, clientIP, identityHeader string) (Result, error) {
	_ = identityHeader

	if err := r.limiter.Allow(ctx, clientIP); err != nil {
		metrics.IngestBatches.WithLabelValues("rate_limited").Inc()
		return Result{}, err
	}

	elems, err := decodeBatch(body)
	if err != nil {
		metrics.IngestBatches.WithLabelValues("invalid").Inc()
		return Result{}, err
	}

	batch := make([]*events.RawEvent, len(elems))
	for i, elem := range elems {
		var raw events.RawEvent
		if err := json.Unmarshal(elem, &raw); err != nil {
			continue
		}
		batch[i] = &raw
	}

	userID := resolveUserID(batch)

	var res Result
	for i, raw := range batch {
		if raw == nil {
			res.Skipped++
			metrics.IngestEventsSkipped.WithLabelValues("malformed").Inc()
			logging.Debug().
				Int("index", i).
				Str("client_ip", clientIP).
				Msg("Skipping malformed batch element")
			continue
		}
		category := raw.Category()
		if !events.Valid(category) {
			res.Skipped++
			metrics.IngestEventsSkipped.WithLabelValues("unknown_category").Inc()
			logging.Debug().
				Str("category", category).
				Str("client_ip", clientIP).
				Msg("Skipping event with unknown category")
			continue
		}
		if len(raw.Data) == 0 {
			res.Skipped++
			metrics.IngestEventsSkipped.WithLabelValues("missing_data").Inc()
			logging.Debug().
				Str("category", category).
				Str("client_ip", clientIP).
				Msg("Skipping event without data payload")
			continue
		}

		env := events.NewEnvelope(events.Category(category), userID, clientIP, raw)
		if err := r.publisher.Publish(ctx, env); err != nil {
			res.Skipped++
			metrics.IngestEventsSkipped.WithLabelValues("publish_failed").Inc()
			logging.Warn().
				Err(err).
				Str("topic", env.Topic()).
				Str("user_id", userID).
				Msg("Publish failed, event dropped")
			continue
		}

		res.Processed++
		metrics.IngestEventsProcessed.Inc()
	}

	metrics.IngestBatches.WithLabelValues("ok").Inc()
	logging.Debug().
		Int("processed", res.Processed).
		Int("skipped", res.Skipped).
		Str("user_id", userID).
		Msg("Batch routed")

	return res, nil
}

// decodeBatch splits the body into its array elements. A body whose
// top-level value is anything but an array (including null) is rejected;
// element contents are judged later, one by one.
func decodeBatch(body []byte) ([]json.RawMessage, error) {
	trimmed := bytes.TrimLeft(body, " \t\r\n")
	if len(trimmed) == 0 || trimmed[0] != '[' {
		return nil, ErrInvalidBatch
	}
	var elems []json.RawMessage
	if err := json.Unmarshal(body, &elems); err != nil {
		return nil, ErrInvalidBatch
	}
	return elems, nil
}

// resolveUserID derives a batch-wide identity from the first decodable
// event: top-level tracking_id, then data.tracking_id, then data.trackingId,
// then top-level user_id, else the anonymous sentinel.
func resolveUserID(batch []*events.RawEvent) string {
	var first *events.RawEvent
	for _, raw := range batch {
		if raw != nil {
			first = raw
			break
		}
	}
	if first == nil {
		return events.AnonymousUser
	}
	if first.TrackingID != "" {
		return first.TrackingID
	}
	if len(first.Data) > 0 {
		var data map[string]any
		if err := json.Unmarshal(first.Data, &data); err == nil {
			if v, ok := data["tracking_id"].(string); ok && v != "" {
				return v
			}
			if v, ok := data["trackingId"].(string); ok && v != "" {
				return v
			}
		}
	}
	if first.UserID != "" {
		return first.UserID
	}
	return events.AnonymousUser
}
