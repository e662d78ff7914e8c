// Copyright 2026 The Meridian Authors
// SPDX-License-Identifier: Apache-2.0

package protocol

import (
	"fmt"
	"log/slog"

	"github.com/meridian-observability/meridian/lib/metrics"
	"github.com/meridian-observability/meridian/lib/netutil"
)

// MessagesProcessor handles one category of inbound message on a live
// session. HandleMessage returns true to claim the message and end the
// dispatch, false to pass it to the next processor in the chain.
//
// A processor belongs to exactly one Connection and is never called
// concurrently; it needs no internal locking for dispatch state.
// InitializeMetrics is called at session start and again at each
// reporting interval — implementations declare their counters there so
// idle intervals report zeroes.
type MessagesProcessor interface {
	HandleMessage(message any) bool
	InitializeMetrics(sink *metrics.Metrics)
}

// Transport writes outbound payloads for a session. Implementations
// serialize concurrent writers; Connection.Send may be called from the
// dispatch goroutine and from fan-out goroutines at the same time.
type Transport interface {
	WriteFrame(payload any) error
}

// Connection dispatches a session's inbound messages through its
// processor chain and hands outbound payloads to the transport.
type Connection struct {
	logger     *slog.Logger
	transport  Transport
	processors []MessagesProcessor
}

// NewConnection returns a Connection writing outbound payloads to
// transport.
func NewConnection(logger *slog.Logger, transport Transport) *Connection {
	return &Connection{
		logger:    logger,
		transport: transport,
	}
}

// Attach appends processors to the chain. Dispatch offers messages in
// attachment order. Attach is part of session setup and must complete
// before the first Dispatch.
func (c *Connection) Attach(processors ...MessagesProcessor) {
	c.processors = append(c.processors, processors...)
}

// Dispatch offers a message to the processor chain. The first
// processor to claim it ends the dispatch. An unclaimed message is
// dropped: logged at debug level for diagnosis, invisible otherwise.
//
// A panicking processor is logged and treated as not claiming the
// message; the failure never tears down the session or the rest of
// the chain.
func (c *Connection) Dispatch(message any) {
	for _, processor := range c.processors {
		if c.offer(processor, message) {
			return
		}
	}
	c.logger.Debug("message unclaimed by all processors",
		"message_type", typeName(message))
}

func (c *Connection) offer(processor MessagesProcessor, message any) (claimed bool) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("message processor panicked",
				"processor", typeName(processor),
				"panic", r)
			claimed = false
		}
	}()
	return processor.HandleMessage(message)
}

// Send hands an outbound payload to the transport. Fire and forget: a
// transport failure is logged (at debug level for ordinary disconnect
// noise) and never propagated to the caller, so processors cannot be
// derailed by a slow or vanished client.
func (c *Connection) Send(payload any) {
	err := c.transport.WriteFrame(payload)
	if err == nil {
		return
	}
	if netutil.IsExpectedCloseError(err) {
		c.logger.Debug("send to closed session", "error", err)
		return
	}
	c.logger.Error("session write failed", "error", err)
}

// InitializeMetrics forwards the sink to every attached processor.
// Called at session start and at each reporting interval.
func (c *Connection) InitializeMetrics(sink *metrics.Metrics) {
	for _, processor := range c.processors {
		processor.InitializeMetrics(sink)
	}
}

// typeName names a value's dynamic type for log output.
func typeName(v any) string {
	return fmt.Sprintf("%T", v)
}
