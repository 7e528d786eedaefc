// Tracelight - Clickstream Event Analytics Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tracelight

package database

import (
	"context"
	"fmt"
	"time"

	"github.com/tomtom215/tracelight/internal/events"
	"github.com/tomtom215/tracelight/internal/metrics"
)

// Sink receives normalized fact rows and session aggregates. The consumer
// layer depends on this interface rather than on *DB so tests can substitute
// a recording implementation.
type Sink interface {
	InsertPageEvent(ctx context.Context, row events.PageRow) error
	InsertInteractionEvent(ctx context.Context, row events.InteractionRow) error
	InsertFormEvent(ctx context.Context, row events.FormRow) error
	InsertEcommerceEvent(ctx context.Context, row events.EcommerceRow) error
	InsertSession(ctx context.Context, row events.SessionRow) error
	UpdateSession(ctx context.Context, row events.SessionRow) error
}

var _ Sink = (*DB)(nil)

// InsertPageEvent appends one page fact row. Performance columns are
// inserted as NULL.
func (db *DB) InsertPageEvent(ctx context.Context, row events.PageRow) error {
	start := time.Now()
	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO page_events (
			timestamp, session_id, user_id, tracking_id, event_type,
			page_url, page_title, referrer,
			duration_ms, scroll_depth_max, click_count, dns_time, connect_time,
			response_time, dom_load_time, page_load_time, connection_type,
			connection_downlink, connection_rtt, save_data
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?,
			NULL, NULL, NULL, NULL, NULL, NULL, NULL, NULL, NULL, NULL, NULL, NULL)`,
		row.Timestamp, row.SessionID, row.UserID, row.TrackingID, row.EventType,
		row.PageURL, row.PageTitle, row.Referrer,
	)
	if err != nil {
		metrics.SinkWriteErrors.WithLabelValues("page_events").Inc()
		return fmt.Errorf("insert page event: %w", err)
	}
	metrics.ObserveSinkWrite("page_events", time.Since(start))
	return nil
}

// InsertInteractionEvent appends one interaction fact row.
func (db *DB) InsertInteractionEvent(ctx context.Context, row events.InteractionRow) error {
	start := time.Now()
	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO interaction_events (
			timestamp, session_id, user_id, tracking_id, event_type, page_url, element
		) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		row.Timestamp, row.SessionID, row.UserID, row.TrackingID,
		row.EventType, row.PageURL, row.Element,
	)
	if err != nil {
		metrics.SinkWriteErrors.WithLabelValues("interaction_events").Inc()
		return fmt.Errorf("insert interaction event: %w", err)
	}
	metrics.ObserveSinkWrite("interaction_events", time.Since(start))
	return nil
}

// InsertFormEvent appends one form fact row.
func (db *DB) InsertFormEvent(ctx context.Context, row events.FormRow) error {
	start := time.Now()
	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO form_events (
			timestamp, session_id, user_id, tracking_id, page_url, event_type,
			form_id, form_name, success
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		row.Timestamp, row.SessionID, row.UserID, row.TrackingID, row.PageURL,
		row.EventType, row.FormID, row.FormName, row.Success,
	)
	if err != nil {
		metrics.SinkWriteErrors.WithLabelValues("form_events").Inc()
		return fmt.Errorf("insert form event: %w", err)
	}
	metrics.ObserveSinkWrite("form_events", time.Since(start))
	return nil
}

// InsertEcommerceEvent appends one ecommerce fact row. Pointer fields map
// to SQL NULL when absent from the payload.
func (db *DB) InsertEcommerceEvent(ctx context.Context, row events.EcommerceRow) error {
	start := time.Now()
	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO ecommerce_events (
			timestamp, session_id, user_id, tracking_id, page_url, event_type,
			product_id, product_name, price, quantity, category, currency,
			order_id, total, step, step_name
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		row.Timestamp, row.SessionID, row.UserID, row.TrackingID, row.PageURL,
		row.EventType, row.ProductID, row.ProductName, row.Price, row.Quantity,
		row.Category, row.Currency, row.OrderID, row.Total, row.Step, row.StepName,
	)
	if err != nil {
		metrics.SinkWriteErrors.WithLabelValues("ecommerce_events").Inc()
		return fmt.Errorf("insert ecommerce event: %w", err)
	}
	metrics.ObserveSinkWrite("ecommerce_events", time.Since(start))
	return nil
}

// InsertSession writes a session aggregate. Concurrent writers for the same
// session_id resolve last-write-wins through the ON CONFLICT clause, so a
// create racing another consumer's create cannot fail the pipeline.
func (db *DB) InsertSession(ctx context.Context, row events.SessionRow) error {
	start := time.Now()
	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO sessions (
			session_id, user_id, tracking_id, start_time, end_time,
			device_type, operating_system, browser, screen_width, screen_height,
			country, country_code, referrer, entry_page, exit_page,
			duration_ms, bounce, page_views
		) VALUES (?, ?, ?, ?, ?, 'desktop', 'Unknown', 'Unknown', 0, 0,
			'Unknown', 'XX', ?, ?, ?, ?, ?, ?)
		ON CONFLICT (session_id) DO UPDATE SET
			end_time = excluded.end_time,
			exit_page = excluded.exit_page,
			duration_ms = excluded.duration_ms,
			bounce = excluded.bounce,
			page_views = excluded.page_views`,
		row.SessionID, row.UserID, row.TrackingID, row.StartTime, row.EndTime,
		row.Referrer, row.EntryPage, row.ExitPage,
		row.DurationMs, row.Bounce, row.PageViews,
	)
	if err != nil {
		metrics.SinkWriteErrors.WithLabelValues("sessions").Inc()
		return fmt.Errorf("insert session: %w", err)
	}
	metrics.ObserveSinkWrite("sessions", time.Since(start))
	return nil
}

// UpdateSession refreshes the mutable aggregate columns for an existing
// session row.
func (db *DB) UpdateSession(ctx context.Context, row events.SessionRow) error {
	start := time.Now()
	_, err := db.conn.ExecContext(ctx,
		`UPDATE sessions SET
			end_time = ?, exit_page = ?, page_views = ?, bounce = ?, duration_ms = ?
		WHERE session_id = ?`,
		row.EndTime, row.ExitPage, row.PageViews, row.Bounce, row.DurationMs,
		row.SessionID,
	)
	if err != nil {
		metrics.SinkWriteErrors.WithLabelValues("sessions").Inc()
		return fmt.Errorf("update session: %w", err)
	}
	metrics.ObserveSinkWrite("sessions", time.Since(start))
	return nil
}
