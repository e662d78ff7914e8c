// Copyright 2026 The Meridian Authors
// SPDX-License-Identifier: Apache-2.0

package record

import (
	"errors"
	"strings"
	"testing"
	"time"
)

// validBuilder returns a builder that passes validation; tests knock
// out individual fields from here.
func validBuilder() *Builder {
	return NewBuilder().
		SetID("evt-1").
		SetTime(time.Date(2026, 8, 27, 12, 0, 0, 0, time.UTC)).
		SetMetrics(map[string]Metric{
			"requests": {Kind: KindCounter, Values: []float64{1}},
		}).
		SetAnnotations(map[string]string{
			"host":    "web-01",
			"service": "frontend",
			"cluster": "prod",
		})
}

func TestBuildValid(t *testing.T) {
	r, err := validBuilder().Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if r.ID() != "evt-1" {
		t.Errorf("ID = %q, want evt-1", r.ID())
	}
	if r.Dimension(HostDimension) != "web-01" {
		t.Errorf("host dimension = %q, want web-01", r.Dimension(HostDimension))
	}
	if got := r.Metrics()["requests"]; got.Kind != KindCounter || len(got.Values) != 1 {
		t.Errorf("requests metric = %+v", got)
	}
}

func TestBuildValidation(t *testing.T) {
	tests := []struct {
		name     string
		mutate   func(*Builder)
		wantPart string
	}{
		{
			name:     "empty id",
			mutate:   func(b *Builder) { b.SetID("") },
			wantPart: "id must not be empty",
		},
		{
			name:     "zero time",
			mutate:   func(b *Builder) { b.SetTime(time.Time{}) },
			wantPart: "time must be set",
		},
		{
			name:     "nil metrics",
			mutate:   func(b *Builder) { b.SetMetrics(nil) },
			wantPart: "metrics must not be nil",
		},
		{
			name:     "nil annotations",
			mutate:   func(b *Builder) { b.SetAnnotations(nil) },
			wantPart: "annotations must not be nil",
		},
		{
			name: "missing host",
			mutate: func(b *Builder) {
				b.SetAnnotations(map[string]string{"service": "s", "cluster": "c"})
			},
			wantPart: `annotation "host" must be present and non-empty`,
		},
		{
			name: "empty service",
			mutate: func(b *Builder) {
				b.SetAnnotations(map[string]string{"host": "h", "service": "", "cluster": "c"})
			},
			wantPart: `annotation "service" must be present and non-empty`,
		},
		{
			name: "missing cluster",
			mutate: func(b *Builder) {
				b.SetAnnotations(map[string]string{"host": "h", "service": "s"})
			},
			wantPart: `annotation "cluster" must be present and non-empty`,
		},
		{
			name: "unknown metric kind",
			mutate: func(b *Builder) {
				b.SetMetrics(map[string]Metric{"x": {Kind: "histogram"}})
			},
			wantPart: `metric "x" has unknown kind "histogram"`,
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			b := validBuilder()
			test.mutate(b)
			r, err := b.Build()
			if err == nil {
				t.Fatal("Build succeeded, want validation error")
			}
			if r != nil {
				t.Error("Build returned a record alongside an error")
			}
			var validationErr *ValidationError
			if !errors.As(err, &validationErr) {
				t.Fatalf("error type = %T, want *ValidationError", err)
			}
			if !strings.Contains(err.Error(), test.wantPart) {
				t.Errorf("error %q does not mention %q", err, test.wantPart)
			}
		})
	}
}

func TestBuildCollectsAllViolations(t *testing.T) {
	_, err := NewBuilder().Build()
	var validationErr *ValidationError
	if !errors.As(err, &validationErr) {
		t.Fatalf("error type = %T, want *ValidationError", err)
	}
	// Empty id, zero time, nil metrics, and all three missing
	// dimensions (annotations defaulted to an empty map, not nil).
	if len(validationErr.Violations) != 6 {
		t.Errorf("violations = %d, want 6: %v",
			len(validationErr.Violations), validationErr.Violations)
	}
	if strings.Contains(err.Error(), "annotations must not be nil") {
		t.Errorf("default annotations reported as nil: %v", err)
	}
}

func TestEqualByIDOnly(t *testing.T) {
	a, err := validBuilder().Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	b, err := validBuilder().
		SetTime(time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC)).
		SetMetrics(map[string]Metric{"other": {Kind: KindGauge, Values: []float64{9}}}).
		Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	c, err := validBuilder().SetID("evt-2").Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	if !a.Equal(b) {
		t.Error("records with same id compare unequal")
	}
	if a.Equal(c) {
		t.Error("records with different ids compare equal")
	}
	if a.Equal(nil) {
		t.Error("record compares equal to nil")
	}
}

func TestBuildDeepCopies(t *testing.T) {
	metrics := map[string]Metric{
		"requests": {Kind: KindCounter, Values: []float64{1, 2}},
	}
	annotations := map[string]string{
		"host": "h", "service": "s", "cluster": "c",
	}
	r, err := NewBuilder().
		SetID("evt-1").
		SetTime(time.Now()).
		SetMetrics(metrics).
		SetAnnotations(annotations).
		Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	metrics["requests"].Values[0] = 99
	delete(metrics, "requests")
	annotations["host"] = "changed"

	if got := r.Metrics()["requests"]; len(got.Values) != 2 || got.Values[0] != 1 {
		t.Errorf("record metrics affected by input mutation: %+v", got)
	}
	if r.Dimension(HostDimension) != "h" {
		t.Errorf("record annotations affected by input mutation: %q",
			r.Dimension(HostDimension))
	}
}

func TestSetAnnotationAfterNil(t *testing.T) {
	r, err := NewBuilder().
		SetID("evt-1").
		SetTime(time.Now()).
		SetMetrics(map[string]Metric{}).
		SetAnnotations(nil).
		SetAnnotation("host", "h").
		SetAnnotation("service", "s").
		SetAnnotation("cluster", "c").
		Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if r.Dimension(ClusterDimension) != "c" {
		t.Errorf("cluster = %q, want c", r.Dimension(ClusterDimension))
	}
}
