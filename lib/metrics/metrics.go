// Copyright 2026 The Meridian Authors
// SPDX-License-Identifier: Apache-2.0

// Package metrics provides the shared counter sink that message
// processors report into.
//
// A sink may be shared by several goroutines (a session's dispatch
// loop and its reporting ticker, at minimum), so it must tolerate
// concurrent increments and reads. Counter values are atomic; the
// registry map is guarded by an RWMutex and only locked for writing
// when a counter is first declared.
//
// Processors declare their counters through ResetCounter at
// initialization time so that an interval with no activity reports
// zero rather than a missing counter.
package metrics

import (
	"sync"
	"sync/atomic"
)

// Metrics is a registry of named monotonic counters. The zero value is
// not usable; construct with New.
type Metrics struct {
	mu       sync.RWMutex
	counters map[string]*atomic.Int64
}

// New returns an empty Metrics registry.
func New() *Metrics {
	return &Metrics{
		counters: make(map[string]*atomic.Int64),
	}
}

// IncrementCounter adds 1 to the named counter, declaring it on first
// use.
func (m *Metrics) IncrementCounter(name string) {
	m.counter(name).Add(1)
}

// ResetCounter declares the named counter and sets it to zero. Called
// by processors at each reporting interval so that idle counters are
// reported as 0, not absent.
func (m *Metrics) ResetCounter(name string) {
	m.counter(name).Store(0)
}

// Counter returns the current value of the named counter, or 0 if it
// has never been declared or incremented.
func (m *Metrics) Counter(name string) int64 {
	m.mu.RLock()
	counter := m.counters[name]
	m.mu.RUnlock()
	if counter == nil {
		return 0
	}
	return counter.Load()
}

// Snapshot returns the current value of every declared counter.
func (m *Metrics) Snapshot() map[string]int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	snapshot := make(map[string]int64, len(m.counters))
	for name, counter := range m.counters {
		snapshot[name] = counter.Load()
	}
	return snapshot
}

// counter returns the atomic for name, declaring it if needed.
func (m *Metrics) counter(name string) *atomic.Int64 {
	m.mu.RLock()
	counter := m.counters[name]
	m.mu.RUnlock()
	if counter != nil {
		return counter
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if counter = m.counters[name]; counter == nil {
		counter = &atomic.Int64{}
		m.counters[name] = counter
	}
	return counter
}
