// Copyright 2026 The Meridian Authors
// SPDX-License-Identifier: Apache-2.0

package wire

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/meridian-observability/meridian/lib/codec"
	"github.com/meridian-observability/meridian/lib/record"
)

// Record payload format discriminators.
const (
	FormatRecordsJSON = "records/json/v1"
	FormatRecordsCBOR = "records/cbor/v1"
)

// recordEvent is the wire shape of one telemetry event. A payload is a
// batch: an array of events, or a bare object treated as a batch of
// one.
type recordEvent struct {
	ID          string                   `json:"id,omitempty" cbor:"id,omitempty"`
	Time        time.Time                `json:"time" cbor:"time"`
	Metrics     map[string]record.Metric `json:"metrics" cbor:"metrics"`
	Annotations map[string]string        `json:"annotations" cbor:"annotations"`
}

// NewRecordRegistry returns a registry with every built-in record
// payload format registered.
func NewRecordRegistry() *Registry[[]*record.Record] {
	registry := NewRegistry[[]*record.Record]()
	registry.Register(FormatRecordsJSON, JSONRecordParser{})
	registry.Register(FormatRecordsCBOR, CBORRecordParser{})
	return registry
}

// JSONRecordParser parses records/json/v1 payloads: a JSON array of
// event objects (or a single object), times in RFC 3339.
type JSONRecordParser struct{}

func (JSONRecordParser) Parse(data []byte) ([]*record.Record, error) {
	var events []recordEvent
	if startsWith(data, '[') {
		if err := json.Unmarshal(data, &events); err != nil {
			return nil, parseErrorf(FormatRecordsJSON, err, "decoding event array")
		}
	} else {
		var event recordEvent
		if err := json.Unmarshal(data, &event); err != nil {
			return nil, parseErrorf(FormatRecordsJSON, err, "decoding event object")
		}
		events = []recordEvent{event}
	}
	return buildRecords(FormatRecordsJSON, events)
}

// CBORRecordParser parses records/cbor/v1 payloads: the same event
// shape as the JSON format, encoded as CBOR.
type CBORRecordParser struct{}

func (CBORRecordParser) Parse(data []byte) ([]*record.Record, error) {
	var events []recordEvent
	if err := codec.Unmarshal(data, &events); err != nil {
		var event recordEvent
		if singleErr := codec.Unmarshal(data, &event); singleErr != nil {
			return nil, parseErrorf(FormatRecordsCBOR, err, "decoding event array")
		}
		events = []recordEvent{event}
	}
	return buildRecords(FormatRecordsCBOR, events)
}

// buildRecords validates a decoded batch. Any invalid event rejects
// the whole batch: a partially accepted payload would make producer
// retries ambiguous.
func buildRecords(format string, events []recordEvent) ([]*record.Record, error) {
	if len(events) == 0 {
		return nil, parseErrorf(format, nil, "payload contains no events")
	}

	records := make([]*record.Record, 0, len(events))
	for i, event := range events {
		id := event.ID
		if id == "" {
			derived, err := deriveEventID(event)
			if err != nil {
				return nil, parseErrorf(format, err, "deriving id for event %d", i)
			}
			id = derived
		}

		builder := record.NewBuilder().
			SetID(id).
			SetTime(event.Time).
			SetMetrics(event.Metrics)
		if event.Annotations != nil {
			builder.SetAnnotations(event.Annotations)
		}

		r, err := builder.Build()
		if err != nil {
			return nil, parseErrorf(format, err, "event %d", i)
		}
		records = append(records, r)
	}
	return records, nil
}

// deriveEventID computes a content-addressed id for an event that
// arrived without one. The event is re-encoded with the deterministic
// CBOR codec first, so JSON and CBOR submissions of the same event
// derive the same id.
func deriveEventID(event recordEvent) (string, error) {
	event.ID = ""
	canonical, err := codec.Marshal(event)
	if err != nil {
		return "", fmt.Errorf("canonical encoding: %w", err)
	}
	return DeriveID(canonical), nil
}

// startsWith reports whether the first non-whitespace byte of data is
// c.
func startsWith(data []byte, c byte) bool {
	trimmed := bytes.TrimLeft(data, " \t\r\n")
	return len(trimmed) > 0 && trimmed[0] == c
}
