// Copyright 2026 The Meridian Authors
// SPDX-License-Identifier: Apache-2.0

package protocol

import (
	"sort"
	"strings"
	"sync"

	"github.com/meridian-observability/meridian/lib/metrics"
	"github.com/meridian-observability/meridian/lib/record"
)

// Per-interval subscription command counters.
const (
	SubscribeCounter   = "connection/command/subscribe"
	UnsubscribeCounter = "connection/command/unsubscribe"
)

// SubscriptionUpdate is the acknowledgement frame for subscribe and
// unsubscribe commands, carrying the session's now-active pattern set.
type SubscriptionUpdate struct {
	Response string   `json:"response" cbor:"response"`
	Patterns []string `json:"patterns" cbor:"patterns"`
}

// SubscribeProcessor maintains a session's record filter. It claims
// "subscribe" and "unsubscribe" commands whose "patterns" attribute is
// a list of glob patterns over the cluster/service/host dimension
// path, and acks each with the resulting active set.
//
// A session starts with no patterns and therefore matches no records.
//
// Dispatch mutates the pattern set on the session goroutine while
// fan-out goroutines call Matches concurrently, so the set is guarded
// by an RWMutex.
type SubscribeProcessor struct {
	connection *Connection
	sink       *metrics.Metrics

	mu       sync.RWMutex
	patterns map[string]struct{}

	// ordered is the sorted pattern set, rebuilt on every mutation so
	// the per-record Matches path allocates nothing.
	ordered []string
}

// NewSubscribeProcessor returns a processor managing subscriptions on
// connection.
func NewSubscribeProcessor(connection *Connection) *SubscribeProcessor {
	return &SubscribeProcessor{
		connection: connection,
		patterns:   make(map[string]struct{}),
	}
}

// HandleMessage claims subscribe and unsubscribe commands. A claimed
// command with a missing or malformed patterns attribute still counts
// and still acks (with the unchanged set) — the command reached its
// processor, it just had nothing usable to apply.
func (p *SubscribeProcessor) HandleMessage(message any) bool {
	command, ok := message.(Command)
	if !ok {
		return false
	}

	switch command.Name {
	case "subscribe":
		if p.sink != nil {
			p.sink.IncrementCounter(SubscribeCounter)
		}
		patterns, _ := command.StringsAttribute("patterns")
		p.add(patterns)
	case "unsubscribe":
		if p.sink != nil {
			p.sink.IncrementCounter(UnsubscribeCounter)
		}
		patterns, _ := command.StringsAttribute("patterns")
		p.remove(patterns)
	default:
		return false
	}

	p.connection.Send(SubscriptionUpdate{
		Response: "ok",
		Patterns: p.Patterns(),
	})
	return true
}

// InitializeMetrics adopts the sink and declares both counters at zero
// for the new interval.
func (p *SubscribeProcessor) InitializeMetrics(sink *metrics.Metrics) {
	p.sink = sink
	sink.ResetCounter(SubscribeCounter)
	sink.ResetCounter(UnsubscribeCounter)
}

// Matches reports whether the session's active patterns select r. Safe
// to call from fan-out goroutines while commands are being dispatched.
func (p *SubscribeProcessor) Matches(r *record.Record) bool {
	path := DimensionPath(r)

	p.mu.RLock()
	defer p.mu.RUnlock()
	return MatchAnyPattern(p.ordered, path)
}

// Patterns returns the active pattern set in sorted order. The
// returned slice is the caller's to keep.
func (p *SubscribeProcessor) Patterns() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	patterns := make([]string, len(p.ordered))
	copy(patterns, p.ordered)
	return patterns
}

func (p *SubscribeProcessor) add(patterns []string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, pattern := range patterns {
		if pattern != "" {
			p.patterns[pattern] = struct{}{}
		}
	}
	p.rebuildLocked()
}

func (p *SubscribeProcessor) remove(patterns []string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, pattern := range patterns {
		delete(p.patterns, pattern)
	}
	p.rebuildLocked()
}

func (p *SubscribeProcessor) rebuildLocked() {
	ordered := make([]string, 0, len(p.patterns))
	for pattern := range p.patterns {
		ordered = append(ordered, pattern)
	}
	sort.Strings(ordered)
	p.ordered = ordered
}

// DimensionPath returns the slash-joined cluster/service/host path
// subscription patterns match against.
func DimensionPath(r *record.Record) string {
	return strings.Join([]string{
		r.Dimension(record.ClusterDimension),
		r.Dimension(record.ServiceDimension),
		r.Dimension(record.HostDimension),
	}, "/")
}
