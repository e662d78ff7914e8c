// Copyright 2026 The Meridian Authors
// SPDX-License-Identifier: Apache-2.0

package protocol

import (
	"github.com/meridian-observability/meridian/lib/metrics"
)

// HeartbeatCounter is the per-interval count of heartbeat commands a
// session answered.
const HeartbeatCounter = "connection/command/heartbeat"

// Ack is the acknowledgement frame sent back for a successful command.
type Ack struct {
	Response string `json:"response" cbor:"response"`
}

// HeartbeatProcessor answers client liveness probes. It claims exactly
// the "heartbeat" command: the counter moves and the ok frame is sent
// only on a claim, so commands with any other name leave both the
// counter and the wire untouched.
type HeartbeatProcessor struct {
	connection *Connection
	sink       *metrics.Metrics
}

// NewHeartbeatProcessor returns a processor answering heartbeats on
// connection.
func NewHeartbeatProcessor(connection *Connection) *HeartbeatProcessor {
	return &HeartbeatProcessor{connection: connection}
}

// HandleMessage claims heartbeat commands, counts them, and responds
// with an ok acknowledgement.
func (p *HeartbeatProcessor) HandleMessage(message any) bool {
	command, ok := message.(Command)
	if !ok || command.Name != "heartbeat" {
		return false
	}
	if p.sink != nil {
		p.sink.IncrementCounter(HeartbeatCounter)
	}
	p.connection.Send(Ack{Response: "ok"})
	return true
}

// InitializeMetrics adopts the sink and declares the heartbeat counter
// at zero for the new interval.
func (p *HeartbeatProcessor) InitializeMetrics(sink *metrics.Metrics) {
	p.sink = sink
	sink.ResetCounter(HeartbeatCounter)
}
