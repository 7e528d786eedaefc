// Tracelight - Clickstream Event Analytics Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tracelight

package events

import (
	"errors"
	"math"
	"strconv"
	"time"

	"github.com/goccy/go-json"
)

// ErrNoCategory is returned when a message declares no event_type or type.
var ErrNoCategory = errors.New("message has no event_type or type field")

// ErrNoPayload is returned when a wrapped message has a non-object data field.
var ErrNoPayload = errors.New("message has no usable payload")

// Decoded is the result of tolerant message decoding: one canonical tagged
// form regardless of which wire shape the message arrived in. All business
// rules downstream operate on Decoded, never on raw bytes.
type Decoded struct {
	Category  Category
	Timestamp time.Time
	Data      map[string]any
}

// Decode parses a bus message into canonical form, accepting both wire
// shapes transparently:
//
//   - wrapped: the root object carries event_type and a data object,
//     {"timestamp": ..., "event_type": ..., "data": {...}}
//   - flat: the root object IS the payload and carries its own type or
//     event_type field
//
// Timestamp resolution order: root ISO-8601 string, payload epoch-millisecond
// ts field, processing-time now. A malformed timestamp string falls back to
// now rather than failing the record. Timestamps are normalized to UTC with
// second precision.
func Decode(raw []byte) (*Decoded, error) {
	var root map[string]any
	if err := json.Unmarshal(raw, &root); err != nil {
		return nil, err
	}

	category := stringField(root, "event_type")
	if category == "" {
		category = stringField(root, "type")
	}
	if category == "" {
		return nil, ErrNoCategory
	}

	data := root
	if d, ok := root["data"]; ok {
		obj, ok := d.(map[string]any)
		if !ok {
			return nil, ErrNoPayload
		}
		data = obj
	}

	return &Decoded{
		Category:  Category(category),
		Timestamp: resolveTimestamp(root, data),
		Data:      data,
	}, nil
}

func resolveTimestamp(root, data map[string]any) time.Time {
	if s := stringField(root, "timestamp"); s != "" {
		if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
			return t.UTC().Truncate(time.Second)
		}
		// Malformed timestamp string: fall through to now().
		return time.Now().UTC().Truncate(time.Second)
	}
	if ms, ok := intField(data, "ts"); ok {
		return time.UnixMilli(ms).UTC().Truncate(time.Second)
	}
	return time.Now().UTC().Truncate(time.Second)
}

// PageRow is a page_events fact row. Missing optional strings default to
// empty strings, matching the non-ecommerce column policy.
type PageRow struct {
	Timestamp  time.Time
	SessionID  string
	UserID     string
	TrackingID string
	EventType  string
	PageURL    string
	PageTitle  string
	Referrer   string
}

// NewPageRow builds a page fact row from a decoded message.
func NewPageRow(d *Decoded) PageRow {
	return PageRow{
		Timestamp:  d.Timestamp,
		SessionID:  stringField(d.Data, "session_id"),
		UserID:     stringField(d.Data, "user_id"),
		TrackingID: stringField(d.Data, "tracking_id"),
		EventType:  string(d.Category),
		PageURL:    firstString(d.Data, "page_url", "url"),
		PageTitle:  stringField(d.Data, "title"),
		Referrer:   stringField(d.Data, "referrer"),
	}
}

// InteractionRow is an interaction_events fact row.
type InteractionRow struct {
	Timestamp  time.Time
	SessionID  string
	UserID     string
	TrackingID string
	EventType  string
	PageURL    string
	Element    string
}

// NewInteractionRow builds an interaction fact row from a decoded message.
func NewInteractionRow(d *Decoded) InteractionRow {
	return InteractionRow{
		Timestamp:  d.Timestamp,
		SessionID:  stringField(d.Data, "session_id"),
		UserID:     stringField(d.Data, "user_id"),
		TrackingID: stringField(d.Data, "tracking_id"),
		EventType:  string(d.Category),
		PageURL:    firstString(d.Data, "page_url", "url"),
		Element:    stringField(d.Data, "element"),
	}
}

// FormRow is a form_events fact row.
type FormRow struct {
	Timestamp  time.Time
	SessionID  string
	UserID     string
	TrackingID string
	PageURL    string
	EventType  string
	FormID     string
	FormName   string
	Success    int
}

// NewFormRow builds a form fact row from a decoded message.
func NewFormRow(d *Decoded) FormRow {
	name := stringField(d.Data, "form_name")
	if name == "" {
		name = "default_form"
	}
	success := 0
	if v, ok := intField(d.Data, "success"); ok {
		success = int(v)
	}
	return FormRow{
		Timestamp:  d.Timestamp,
		SessionID:  stringField(d.Data, "session_id"),
		UserID:     stringField(d.Data, "user_id"),
		TrackingID: stringField(d.Data, "tracking_id"),
		PageURL:    firstString(d.Data, "page_url", "url"),
		EventType:  string(d.Category),
		FormID:     stringField(d.Data, "form_id"),
		FormName:   name,
		Success:    success,
	}
}

// EcommerceRow is an ecommerce_events fact row. Unlike the other categories,
// missing optional strings are NULL rather than empty, and numeric fields are
// NULL when absent rather than zero. Coercion policy:
//
//   - price, total: floating point, nil when absent or null
//   - quantity: clamped to >= 0
//   - step: clamped to [0, 255]
//   - currency: defaults to "USD"
type EcommerceRow struct {
	Timestamp   time.Time
	SessionID   *string
	UserID      *string
	TrackingID  string
	PageURL     *string
	EventType   string
	ProductID   *string
	ProductName *string
	Price       *float64
	Quantity    *int
	Category    *string
	Currency    string
	OrderID     *string
	Total       *float64
	Step        *int
	StepName    *string
}

// ErrMissingTrackingID is returned for ecommerce payloads without a
// tracking_id; the record cannot be attributed and is dropped.
var ErrMissingTrackingID = errors.New("ecommerce payload missing tracking_id")

// NewEcommerceRow builds an ecommerce fact row from a decoded message.
func NewEcommerceRow(d *Decoded) (EcommerceRow, error) {
	trackingID := stringField(d.Data, "tracking_id")
	if trackingID == "" {
		return EcommerceRow{}, ErrMissingTrackingID
	}

	currency := "USD"
	if v := stringPtr(d.Data, "currency"); v != nil {
		currency = *v
	}

	return EcommerceRow{
		Timestamp:   d.Timestamp,
		SessionID:   stringPtr(d.Data, "session_id"),
		UserID:      stringPtr(d.Data, "user_id"),
		TrackingID:  trackingID,
		PageURL:     firstStringPtr(d.Data, "page_url", "url"),
		EventType:   string(d.Category),
		ProductID:   stringPtr(d.Data, "product_id"),
		ProductName: stringPtr(d.Data, "product_name"),
		Price:       floatPtr(d.Data, "price"),
		Quantity:    clampedIntPtr(d.Data, "quantity", 0, math.MaxInt),
		Category:    stringPtr(d.Data, "category"),
		Currency:    currency,
		OrderID:     stringPtr(d.Data, "order_id"),
		Total:       floatPtr(d.Data, "total"),
		Step:        clampedIntPtr(d.Data, "step", 0, 255),
		StepName:    stringPtr(d.Data, "step_name"),
	}, nil
}

// Field coercion helpers. Client payloads arrive with numbers as JSON
// numbers or strings interchangeably; both are accepted.

func stringField(m map[string]any, key string) string {
	if v, ok := m[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

func firstString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if _, ok := m[k]; ok {
			return stringField(m, k)
		}
	}
	return ""
}

// stringPtr reads a text column value. Numeric identifiers arrive as JSON
// numbers from some clients; they keep their text form rather than
// becoming NULL.
func stringPtr(m map[string]any, key string) *string {
	v, ok := m[key]
	if !ok || v == nil {
		return nil
	}
	switch t := v.(type) {
	case string:
		return &t
	case float64:
		s := strconv.FormatFloat(t, 'f', -1, 64)
		return &s
	case json.Number:
		s := t.String()
		return &s
	}
	return nil
}

func firstStringPtr(m map[string]any, keys ...string) *string {
	for _, k := range keys {
		if _, ok := m[k]; ok {
			return stringPtr(m, k)
		}
	}
	return nil
}

func floatPtr(m map[string]any, key string) *float64 {
	v, ok := m[key]
	if !ok || v == nil {
		return nil
	}
	switch n := v.(type) {
	case float64:
		return &n
	case string:
		if f, err := strconv.ParseFloat(n, 64); err == nil {
			return &f
		}
	}
	return nil
}

func clampedIntPtr(m map[string]any, key string, lo, hi int) *int {
	v, ok := m[key]
	if !ok || v == nil {
		return nil
	}
	var i int
	switch n := v.(type) {
	case float64:
		i = int(n)
	case string:
		parsed, err := strconv.Atoi(n)
		if err != nil {
			return nil
		}
		i = parsed
	default:
		return nil
	}
	if i < lo {
		i = lo
	}
	if i > hi {
		i = hi
	}
	return &i
}

func intField(m map[string]any, key string) (int64, bool) {
	v, ok := m[key]
	if !ok || v == nil {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return int64(n), true
	case string:
		if i, err := strconv.ParseInt(n, 10, 64); err == nil {
			return i, true
		}
	}
	return 0, false
}
