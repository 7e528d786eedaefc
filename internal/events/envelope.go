// Tracelight - Clickstream Event Analytics Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tracelight

package events

import (
	"time"

	"github.com/goccy/go-json"
)

// RawEvent is a single client-submitted event as it arrives at the edge.
// Clients are inconsistent about field names: the category may arrive as
// either event_type or type, and identity hints may sit at the top level or
// inside data. Payloads are kept opaque until consumer-side normalization.
type RawEvent struct {
	EventType  string          `json:"event_type,omitempty"`
	Type       string          `json:"type,omitempty"`
	TrackingID string          `json:"tracking_id,omitempty"`
	UserID     string          `json:"user_id,omitempty"`
	Data       json.RawMessage `json:"data,omitempty"`
	Metadata   json.RawMessage `json:"metadata,omitempty"`
}

// Category returns the declared category, preferring event_type over type.
// Returns "unknown" when neither field is present.
func (e *RawEvent) Category() string {
	if e.EventType != "" {
		return e.EventType
	}
	if e.Type != "" {
		return e.Type
	}
	return "unknown"
}

// Envelope is the canonical server-side record published to the bus. It is
// never partially constructed: either every field is resolved at the edge or
// the source event is skipped.
type Envelope struct {
	Timestamp time.Time       `json:"timestamp"`
	EventType Category        `json:"event_type"`
	UserID    string          `json:"user_id"`
	ClientIP  string          `json:"client_ip"`
	Data      json.RawMessage `json:"data"`
	Metadata  json.RawMessage `json:"metadata,omitempty"`
}

// AnonymousUser is the identity sentinel used when no tracking id or user id
// can be resolved from a batch.
const AnonymousUser = "anonymous"

// NewEnvelope builds a fully-populated envelope for an allow-listed raw
// event, stamping the current server time in UTC. The caller must have
// already validated the category and payload presence.
func NewEnvelope(category Category, userID, clientIP string, raw *RawEvent) *Envelope {
	return &Envelope{
		Timestamp: time.Now().UTC(),
		EventType: category,
		UserID:    userID,
		ClientIP:  clientIP,
		Data:      raw.Data,
		Metadata:  raw.Metadata,
	}
}

// Validate checks the envelope invariant: exactly one category and one
// payload, both present.
func (e *Envelope) Validate() error {
	if e.EventType == "" {
		return &ValidationError{Field: "event_type", Message: "required"}
	}
	if !Valid(string(e.EventType)) {
		return &ValidationError{Field: "event_type", Message: "not in allow-list"}
	}
	if len(e.Data) == 0 {
		return &ValidationError{Field: "data", Message: "required"}
	}
	return nil
}

// Topic returns the bus topic this envelope is published to.
func (e *Envelope) Topic() string {
	return e.EventType.Topic()
}

// PartitionKey returns a session-stable key for bus partitioning. Events of
// one session must land on one partition so per-session ordering holds.
// Falls back through data.session_id, data.tracking_id, then the resolved
// user id.
func (e *Envelope) PartitionKey() string {
	var data map[string]any
	if err := json.Unmarshal(e.Data, &data); err == nil {
		if v, ok := data["session_id"].(string); ok && v != "" {
			return v
		}
		if v, ok := data["tracking_id"].(string); ok && v != "" {
			return v
		}
	}
	return e.UserID
}

// ValidationError describes a data-shape problem with a single event. It is
// never fatal to a batch; the offending event is skipped and counted.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return "validation failed: " + e.Field + ": " + e.Message
}
