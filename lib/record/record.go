// Copyright 2026 The Meridian Authors
// SPDX-License-Identifier: Apache-2.0

// Package record defines the validated telemetry event that flows
// through Meridian: parsers produce records, the store persists them,
// and live sessions fan them out.
//
// A Record is immutable once built. All construction goes through the
// Builder, which defers validation to Build so that callers can
// assemble fields in any order; Build reports every violation at once
// in a *ValidationError rather than stopping at the first.
package record

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Dimension keys every record must carry in its annotations, each with
// a non-empty value. They identify where a record came from and drive
// subscription filtering.
const (
	HostDimension    = "host"
	ServiceDimension = "service"
	ClusterDimension = "cluster"
)

// requiredDimensions is the validation order, which is also the path
// order used by subscription filters (cluster/service/host).
var requiredDimensions = []string{ClusterDimension, ServiceDimension, HostDimension}

// MetricKind classifies how a metric's values should be interpreted
// downstream. The kind travels with the metric; the core never
// interprets the values themselves.
type MetricKind string

const (
	KindCounter MetricKind = "counter"
	KindGauge   MetricKind = "gauge"
	KindTimer   MetricKind = "timer"
)

// Valid reports whether k is one of the defined kinds.
func (k MetricKind) Valid() bool {
	switch k {
	case KindCounter, KindGauge, KindTimer:
		return true
	}
	return false
}

// Metric is one named measurement within a record: a kind plus the
// sampled values. Values are opaque to the core and carried through
// unmodified.
type Metric struct {
	Kind   MetricKind `json:"kind" cbor:"kind"`
	Values []float64  `json:"values" cbor:"values"`
}

// Record is an immutable validated telemetry event. Identity is the id
// alone: two records with the same id are the same event regardless of
// their other fields, and the store treats a re-ingested id as a
// duplicate.
type Record struct {
	id          string
	time        time.Time
	metrics     map[string]Metric
	annotations map[string]string
}

// ID returns the record's unique identity.
func (r *Record) ID() string { return r.id }

// Time returns the instant the record describes. Always timezone-aware
// and non-zero.
func (r *Record) Time() time.Time { return r.time }

// Metrics returns the record's metrics by name. The returned map is
// the record's internal state; callers must not mutate it.
func (r *Record) Metrics() map[string]Metric { return r.metrics }

// Annotations returns the record's annotations, including the required
// dimension keys. The returned map is the record's internal state;
// callers must not mutate it.
func (r *Record) Annotations() map[string]string { return r.annotations }

// Dimension returns the value of the named dimension annotation.
func (r *Record) Dimension(key string) string { return r.annotations[key] }

// Equal reports whether r and other identify the same event. Equality
// is by id only.
func (r *Record) Equal(other *Record) bool {
	if r == nil || other == nil {
		return r == other
	}
	return r.id == other.id
}

// ValidationError reports every constraint a Build call violated.
type ValidationError struct {
	Violations []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid record: %s", strings.Join(e.Violations, "; "))
}

// Builder assembles a Record. Setters perform no validation; Build
// checks every constraint and either returns a valid Record or a
// *ValidationError listing all violations. The zero Builder is not
// usable; construct with NewBuilder.
type Builder struct {
	id          string
	time        time.Time
	metrics     map[string]Metric
	annotations map[string]string
}

// NewBuilder returns a Builder with annotations defaulted to an empty
// map, so a record built without annotations fails with the missing
// dimension violations rather than a nil-map violation.
func NewBuilder() *Builder {
	return &Builder{
		annotations: map[string]string{},
	}
}

// SetID sets the record's identity.
func (b *Builder) SetID(id string) *Builder {
	b.id = id
	return b
}

// SetTime sets the instant the record describes.
func (b *Builder) SetTime(t time.Time) *Builder {
	b.time = t
	return b
}

// SetMetrics sets the record's metrics by name.
func (b *Builder) SetMetrics(metrics map[string]Metric) *Builder {
	b.metrics = metrics
	return b
}

// SetAnnotations replaces the record's annotations.
func (b *Builder) SetAnnotations(annotations map[string]string) *Builder {
	b.annotations = annotations
	return b
}

// SetAnnotation sets a single annotation, allocating the map if a
// prior SetAnnotations(nil) cleared it.
func (b *Builder) SetAnnotation(key, value string) *Builder {
	if b.annotations == nil {
		b.annotations = map[string]string{}
	}
	b.annotations[key] = value
	return b
}

// Build validates the assembled fields and returns the Record. On
// failure it returns a *ValidationError carrying every violation; the
// Record is nil. Build deep-copies the metric and annotation maps, so
// later mutation of the builder's inputs cannot alter the Record.
func (b *Builder) Build() (*Record, error) {
	var violations []string

	if b.id == "" {
		violations = append(violations, "id must not be empty")
	}
	if b.time.IsZero() {
		violations = append(violations, "time must be set")
	}
	if b.metrics == nil {
		violations = append(violations, "metrics must not be nil")
	}
	if b.annotations == nil {
		violations = append(violations, "annotations must not be nil")
	} else {
		for _, dimension := range requiredDimensions {
			if b.annotations[dimension] == "" {
				violations = append(violations,
					fmt.Sprintf("annotation %q must be present and non-empty", dimension))
			}
		}
	}
	for _, name := range sortedMetricNames(b.metrics) {
		if kind := b.metrics[name].Kind; !kind.Valid() {
			violations = append(violations,
				fmt.Sprintf("metric %q has unknown kind %q", name, kind))
		}
	}

	if len(violations) > 0 {
		return nil, &ValidationError{Violations: violations}
	}

	metrics := make(map[string]Metric, len(b.metrics))
	for name, metric := range b.metrics {
		values := make([]float64, len(metric.Values))
		copy(values, metric.Values)
		metrics[name] = Metric{Kind: metric.Kind, Values: values}
	}
	annotations := make(map[string]string, len(b.annotations))
	for key, value := range b.annotations {
		annotations[key] = value
	}

	return &Record{
		id:          b.id,
		time:        b.time,
		metrics:     metrics,
		annotations: annotations,
	}, nil
}

// sortedMetricNames keeps violation ordering deterministic for error
// messages and tests.
func sortedMetricNames(metrics map[string]Metric) []string {
	names := make([]string, 0, len(metrics))
	for name := range metrics {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
