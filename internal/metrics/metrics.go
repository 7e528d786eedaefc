// Tracelight - Clickstream Event Analytics Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tracelight

// Package metrics provides Prometheus metrics for the event pipeline.
//
// Metrics are registered via promauto at package init and exposed at the
// /metrics endpoint in Prometheus text format. Naming follows the
// <subsystem>_<noun>_<unit> convention:
//
//   - ingest_*: edge routing and rate limiting
//   - publish_*: message bus producer path
//   - consume_*: consumer-side normalization and sink writes
//   - session_*: session aggregation
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Ingest metrics

	IngestBatches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingest_batches_total",
			Help: "Total ingested batches by outcome",
		},
		[]string{"outcome"}, // ok, rate_limited, invalid, error
	)

	IngestEventsProcessed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ingest_events_processed_total",
			Help: "Events accepted and handed to the publisher",
		},
	)

	IngestEventsSkipped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingest_events_skipped_total",
			Help: "Events skipped at the edge by reason",
		},
		[]string{"reason"}, // unknown_category, missing_data, publish_failed, malformed
	)

	RateLimitRejections = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ingest_rate_limit_rejections_total",
			Help: "Batches rejected by the fixed-window rate limiter",
		},
	)

	RateLimitStoreErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ingest_rate_limit_store_errors_total",
			Help: "Rate limiter backing store faults",
		},
	)

	// Publisher metrics

	PublishedEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "publish_events_total",
			Help: "Events published to the bus by topic",
		},
		[]string{"topic"},
	)

	PublishFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "publish_failures_total",
			Help: "Publish failures by topic",
		},
		[]string{"topic"},
	)

	PublishQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "publish_queue_depth",
			Help: "Current depth of the async publish queue",
		},
	)

	PublishDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "publish_duration_seconds",
			Help:    "Broker acknowledgment latency",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Consumer metrics

	ConsumedMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "consume_messages_total",
			Help: "Messages consumed by category group",
		},
		[]string{"group"},
	)

	ConsumeParseErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "consume_parse_errors_total",
			Help: "Messages dropped due to parse failure",
		},
		[]string{"group"},
	)

	SinkWriteErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "consume_sink_write_errors_total",
			Help: "Messages dropped due to sink write failure",
		},
		[]string{"table"},
	)

	SinkWriteDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "consume_sink_write_duration_seconds",
			Help:    "Duration of sink writes",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"table"},
	)

	// Session metrics

	SessionsCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "session_created_total",
			Help: "Sessions created on first page_load",
		},
	)

	SessionsUpdated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "session_updated_total",
			Help: "Session updates on subsequent page_loads",
		},
	)

	SessionCacheEvictions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "session_cache_evictions_total",
			Help: "Session states evicted from the bounded cache",
		},
	)

	SessionCacheSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "session_cache_size",
			Help: "Current number of tracked sessions",
		},
	)

	// HTTP metrics

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: []float64{.001, .005, .01, .05, .1, .5, 1, 5, 10},
		},
		[]string{"method", "path", "status"},
	)
)

// ObserveSinkWrite records a sink write with its duration.
func ObserveSinkWrite(table string, d time.Duration) {
	SinkWriteDuration.WithLabelValues(table).Observe(d.Seconds())
}

// ObserveHTTPRequest records a completed HTTP request.
func ObserveHTTPRequest(method, path, status string, d time.Duration) {
	HTTPRequestDuration.WithLabelValues(method, path, status).Observe(d.Seconds())
}
