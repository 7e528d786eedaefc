// Tracelight - Clickstream Event Analytics Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tracelight

package bus

import (
	"fmt"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/tomtom215/tracelight/internal/events"
)

// PartitionKeyMetadata is the Watermill metadata key carrying the
// session-stable routing key. Subject-mapped partitioning reads it to keep
// per-session ordering.
const PartitionKeyMetadata = "partition_key"

// Serializer handles envelope encoding for bus messages.
type Serializer struct{}

// NewSerializer creates a new serializer.
func NewSerializer() *Serializer {
	return &Serializer{}
}

// Marshal converts an envelope to JSON bytes after validation.
func (s *Serializer) Marshal(env *events.Envelope) ([]byte, error) {
	if err := env.Validate(); err != nil {
		return nil, fmt.Errorf("validate envelope: %w", err)
	}
	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("marshal envelope: %w", err)
	}
	return data, nil
}

// Unmarshal converts JSON bytes back to an envelope.
func (s *Serializer) Unmarshal(data []byte) (*events.Envelope, error) {
	var env events.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("unmarshal envelope: %w", err)
	}
	return &env, nil
}

// NewMessage serializes an envelope into a Watermill message with a fresh
// UUID and the partition key set from the envelope's session-stable key.
func (s *Serializer) NewMessage(env *events.Envelope) (*message.Message, error) {
	data, err := s.Marshal(env)
	if err != nil {
		return nil, err
	}
	msg := message.NewMessage(uuid.NewString(), data)
	msg.Metadata.Set(PartitionKeyMetadata, env.PartitionKey())
	return msg, nil
}
