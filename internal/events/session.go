// Tracelight - Clickstream Event Analytics Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tracelight

package events

import "time"

// SessionRow is a sessions dimension row. Device, geo, and screen fields
// carry placeholder defaults until a client-side enrichment path exists.
type SessionRow struct {
	SessionID  string
	UserID     string
	TrackingID string
	StartTime  time.Time
	EndTime    *time.Time
	Referrer   string
	EntryPage  string
	ExitPage   string
	DurationMs *int64
	Bounce     int
	PageViews  int
}
