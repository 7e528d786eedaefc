// Tracelight - Clickstream Event Analytics Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tracelight

package database

import (
	"context"
	"fmt"
)

// Fact tables mirror the upstream analytics warehouse layout. The page
// performance columns (duration through save_data) are carried as NULL until
// a client capable of reporting them ships.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS page_events (
		timestamp        TIMESTAMP NOT NULL,
		session_id       VARCHAR,
		user_id          VARCHAR,
		tracking_id      VARCHAR,
		event_type       VARCHAR NOT NULL,
		page_url         VARCHAR,
		page_title       VARCHAR,
		referrer         VARCHAR,
		duration_ms      BIGINT,
		scroll_depth_max INTEGER,
		click_count      INTEGER,
		dns_time         INTEGER,
		connect_time     INTEGER,
		response_time    INTEGER,
		dom_load_time    INTEGER,
		page_load_time   INTEGER,
		connection_type  VARCHAR,
		connection_downlink DOUBLE,
		connection_rtt   INTEGER,
		save_data        BOOLEAN
	)`,
	`CREATE TABLE IF NOT EXISTS interaction_events (
		timestamp   TIMESTAMP NOT NULL,
		session_id  VARCHAR,
		user_id     VARCHAR,
		tracking_id VARCHAR,
		event_type  VARCHAR NOT NULL,
		page_url    VARCHAR,
		element     VARCHAR
	)`,
	`CREATE TABLE IF NOT EXISTS form_events (
		timestamp   TIMESTAMP NOT NULL,
		session_id  VARCHAR,
		user_id     VARCHAR,
		tracking_id VARCHAR,
		page_url    VARCHAR,
		event_type  VARCHAR NOT NULL,
		form_id     VARCHAR,
		form_name   VARCHAR,
		success     INTEGER
	)`,
	`CREATE TABLE IF NOT EXISTS ecommerce_events (
		timestamp    TIMESTAMP NOT NULL,
		session_id   VARCHAR,
		user_id      VARCHAR,
		tracking_id  VARCHAR NOT NULL,
		page_url     VARCHAR,
		event_type   VARCHAR NOT NULL,
		product_id   VARCHAR,
		product_name VARCHAR,
		price        DOUBLE,
		quantity     INTEGER,
		category     VARCHAR,
		currency     VARCHAR,
		order_id     VARCHAR,
		total        DOUBLE,
		step         INTEGER,
		step_name    VARCHAR
	)`,
	`CREATE TABLE IF NOT EXISTS sessions (
		session_id       VARCHAR PRIMARY KEY,
		user_id          VARCHAR,
		tracking_id      VARCHAR,
		start_time       TIMESTAMP NOT NULL,
		end_time         TIMESTAMP,
		device_type      VARCHAR DEFAULT 'desktop',
		operating_system VARCHAR DEFAULT 'Unknown',
		browser          VARCHAR DEFAULT 'Unknown',
		screen_width     INTEGER DEFAULT 0,
		screen_height    INTEGER DEFAULT 0,
		country          VARCHAR DEFAULT 'Unknown',
		country_code     VARCHAR DEFAULT 'XX',
		referrer         VARCHAR,
		entry_page       VARCHAR,
		exit_page        VARCHAR,
		duration_ms      BIGINT,
		bounce           INTEGER NOT NULL DEFAULT 1,
		page_views       INTEGER NOT NULL DEFAULT 1
	)`,
}

// InitSchema creates the fact and session tables if they do not exist.
// Idempotent; safe to run on every startup.
func (db *DB) InitSchema(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := db.conn.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("schema statement failed: %w", err)
		}
	}
	return nil
}
