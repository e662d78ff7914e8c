// Copyright 2026 The Meridian Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/meridian-observability/meridian/lib/codec"
	"github.com/meridian-observability/meridian/lib/metrics"
	"github.com/meridian-observability/meridian/lib/netutil"
	"github.com/meridian-observability/meridian/lib/protocol"
	"github.com/meridian-observability/meridian/lib/record"
	"github.com/meridian-observability/meridian/lib/server"
	"github.com/meridian-observability/meridian/lib/wire"
)

// liveCommandBuffer is the channel capacity for inbound command
// payloads from a single live client.
const liveCommandBuffer = 8

// liveWriteTimeout bounds each outbound frame write. A client that
// cannot drain a frame within this window is disconnected.
const liveWriteTimeout = 10 * time.Second

// liveSession is one connected live client: the fan-out queue the
// ingest path feeds, the protocol connection dispatching its
// commands, and its subscription filter.
type liveSession struct {
	records chan *record.Record
	dropped atomic.Uint64

	transport     *liveTransport
	connection    *protocol.Connection
	subscriptions *protocol.SubscribeProcessor
	sink          *metrics.Metrics
}

// liveTransport writes outbound CBOR frames for a session. The mutex
// serializes writers per the protocol.Transport contract.
type liveTransport struct {
	mu      sync.Mutex
	conn    net.Conn
	encoder *codec.Encoder
}

func (t *liveTransport) WriteFrame(payload any) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.conn.SetWriteDeadline(time.Now().Add(liveWriteTimeout))
	return t.encoder.Encode(payload)
}

// recordFrame carries one matching record to a live client.
type recordFrame struct {
	Record StoredRecord `cbor:"record" json:"record"`
}

// liveHandshake is the streaming handshake for the "live" action. The
// optional format field selects the command payload format; inbound
// frames are CBOR byte strings holding a payload in that format.
type liveHandshake struct {
	Format string `cbor:"format"`
}

// handleLive is the streaming handler for the "live" action. After
// the readiness ack the session is bidirectional:
//
//   - Client → Gateway: CBOR byte string holding one command payload
//     in the session's format (default command/cbor/v1).
//   - Gateway → Client: acknowledgement frames from the processors
//     and record frames matching the session's subscriptions.
//
// Commands dispatch through the session's processor chain, heartbeat
// then subscriptions, strictly in arrival order. At every reporting
// interval the session's counters are snapshotted, logged, and reset.
//
// The stream stays open until the client disconnects or the context
// is cancelled.
func (g *Gateway) handleLive(ctx context.Context, raw []byte, conn net.Conn) {
	peer := conn.RemoteAddr().String()
	logger := g.logger.With("peer", peer)

	var handshake liveHandshake
	if err := codec.Unmarshal(raw, &handshake); err != nil {
		codec.NewEncoder(conn).Encode(server.StreamAck{Error: "invalid handshake"})
		return
	}
	format := handshake.Format
	if format == "" {
		format = wire.FormatCommandCBOR
	}
	parser, err := g.commandFormats.Lookup(format)
	if err != nil {
		codec.NewEncoder(conn).Encode(server.StreamAck{Error: err.Error()})
		return
	}

	transport := &liveTransport{conn: conn, encoder: codec.NewEncoder(conn)}
	connection := protocol.NewConnection(logger, transport)
	subscriptions := protocol.NewSubscribeProcessor(connection)
	connection.Attach(
		protocol.NewHeartbeatProcessor(connection),
		subscriptions,
	)

	session := &liveSession{
		records:       make(chan *record.Record, g.cfg.Live.SessionBuffer),
		transport:     transport,
		connection:    connection,
		subscriptions: subscriptions,
		sink:          metrics.New(),
	}
	connection.InitializeMetrics(session.sink)

	// Register before the readiness ack: by the time the client sees
	// the ack, the session is already receiving fan-out.
	g.addSession(session)
	defer func() {
		g.removeSession(session)
		logger.Info("live session ended", "dropped_records", session.dropped.Load())
	}()

	if err := transport.WriteFrame(server.StreamAck{OK: true}); err != nil {
		logger.Debug("live: failed to write ready signal", "error", err)
		return
	}

	logger.Info("live session started", "command_format", format)

	// Close the connection on context cancellation to unblock the
	// reader goroutine's blocking decode.
	handlerDone := make(chan struct{})
	defer close(handlerDone)

	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-handlerDone:
		}
	}()

	commandPayloads := make(chan []byte, liveCommandBuffer)
	readerDone := make(chan error, 1)
	go func() {
		readerDone <- readCommandPayloads(conn, commandPayloads, handlerDone)
	}()

	reportingTicker := g.clock.NewTicker(g.cfg.Live.ReportingInterval.Value())
	defer reportingTicker.Stop()

	for {
		select {
		case r := <-session.records:
			if !subscriptions.Matches(r) {
				continue
			}
			if err := transport.WriteFrame(recordFrame{Record: StoredRecord{
				ID:          r.ID(),
				Time:        r.Time(),
				Metrics:     r.Metrics(),
				Annotations: r.Annotations(),
			}}); err != nil {
				logger.Debug("live: failed to write record frame", "error", err)
				return
			}

		case payload := <-commandPayloads:
			command, err := parser.Parse(payload)
			if err != nil {
				// A malformed command is a client bug, not a session
				// failure: log it and keep the session up.
				logger.Warn("live: command rejected", "error", err)
				continue
			}
			connection.Dispatch(command)

		case <-reportingTicker.C:
			reportSessionMetrics(logger, session)
			connection.InitializeMetrics(session.sink)

		case err := <-readerDone:
			if err != nil && ctx.Err() == nil {
				logger.Debug("live: client read error", "error", err)
			}
			return

		case <-ctx.Done():
			return
		}
	}
}

// reportSessionMetrics logs the interval's counter snapshot before
// the counters are reset for the next interval.
func reportSessionMetrics(logger *slog.Logger, session *liveSession) {
	attrs := []any{
		"dropped_records", session.dropped.Load(),
	}
	for name, value := range session.sink.Snapshot() {
		attrs = append(attrs, name, value)
	}
	logger.Info("live session metrics", attrs...)
}

// readCommandPayloads decodes CBOR byte strings from the client and
// forwards them for dispatch. Returns nil on clean disconnect or when
// done closes, the decode error otherwise.
//
// The done channel covers the session ending while a forward is
// blocked on a full payload channel: with no consumer left, closing
// the connection alone would not unblock the send.
func readCommandPayloads(conn net.Conn, payloads chan<- []byte, done <-chan struct{}) error {
	decoder := codec.NewDecoder(conn)
	for {
		var payload []byte
		if err := decoder.Decode(&payload); err != nil {
			if netutil.IsExpectedCloseError(err) {
				return nil
			}
			return err
		}
		select {
		case payloads <- payload:
		case <-done:
			return nil
		}
	}
}
