// Copyright 2026 The Meridian Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"net"

	"github.com/meridian-observability/meridian/lib/codec"
	"github.com/meridian-observability/meridian/lib/netutil"
	"github.com/meridian-observability/meridian/lib/record"
	"github.com/meridian-observability/meridian/lib/server"
	"github.com/meridian-observability/meridian/lib/wire"
)

// handleIngest is the streaming handler for the "ingest" action.
// Producers stream CBOR [wire.Envelope] values; each envelope is
// opened, parsed by the format its discriminator selects, validated,
// stored, fanned out to live sessions, and acked.
//
// Wire protocol after the handshake:
//
//	Gateway  → Producer: StreamAck{OK: true}       (readiness signal)
//	Producer → Gateway:  Envelope                  (CBOR, self-delimiting)
//	Gateway  → Producer: StreamAck{OK: true}       (envelope accepted)
//	Producer → Gateway:  Envelope
//	Gateway  → Producer: StreamAck{Error: "..."}   (envelope rejected)
//	...
//
// A rejected envelope (bad compression, unknown format, parse or
// validation failure) nacks that envelope only; the stream stays open
// for subsequent envelopes. Only a broken CBOR stream closes the
// session.
func (g *Gateway) handleIngest(ctx context.Context, _ []byte, conn net.Conn) {
	peer := conn.RemoteAddr().String()
	encoder := codec.NewEncoder(conn)

	if err := encoder.Encode(server.StreamAck{OK: true}); err != nil {
		g.logger.Debug("ingest: failed to write ready signal",
			"peer", peer,
			"error", err,
		)
		return
	}

	g.logger.Info("ingest stream started", "peer", peer)
	defer g.logger.Info("ingest stream ended", "peer", peer)

	// Close the connection when the context is cancelled to unblock
	// the blocking decode below. The server's deferred conn.Close()
	// handles the normal-return case.
	handlerDone := make(chan struct{})
	defer close(handlerDone)

	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-handlerDone:
		}
	}()

	decoder := codec.NewDecoder(conn)

	for {
		var envelope wire.Envelope
		if err := decoder.Decode(&envelope); err != nil {
			if ctx.Err() != nil || netutil.IsExpectedCloseError(err) {
				return
			}
			g.logger.Warn("ingest: decode failed, closing stream",
				"peer", peer,
				"error", err,
			)
			encoder.Encode(server.StreamAck{Error: "decode error"})
			return
		}

		g.envelopesReceived.Add(1)

		records, err := g.parseEnvelope(&envelope)
		if err != nil {
			g.envelopesRejected.Add(1)
			g.logger.Warn("ingest: envelope rejected",
				"peer", peer,
				"format", envelope.Format,
				"error", err,
			)
			if ackErr := encoder.Encode(server.StreamAck{Error: err.Error()}); ackErr != nil {
				g.logger.Debug("ingest: failed to write nack", "peer", peer, "error", ackErr)
				return
			}
			continue
		}

		stored, err := g.store.Insert(ctx, records)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			// Storage trouble is the gateway's failure, not the
			// producer's; nack so the producer retries later.
			g.logger.Error("ingest: store insert failed",
				"peer", peer,
				"error", err,
			)
			if ackErr := encoder.Encode(server.StreamAck{Error: "storage error"}); ackErr != nil {
				return
			}
			continue
		}

		g.recordsReceived.Add(uint64(len(records)))
		g.recordsStored.Add(uint64(stored))

		g.logger.Info("envelope accepted",
			"peer", peer,
			"format", envelope.Format,
			"records", len(records),
			"new", stored,
		)

		if err := encoder.Encode(server.StreamAck{OK: true}); err != nil {
			g.logger.Debug("ingest: failed to write ack",
				"peer", peer,
				"error", err,
			)
			return
		}

		g.fanOut(records)
	}
}

// parseEnvelope opens an envelope and runs the parser its format
// discriminator selects.
func (g *Gateway) parseEnvelope(envelope *wire.Envelope) ([]*record.Record, error) {
	payload, err := envelope.Open()
	if err != nil {
		return nil, err
	}

	parser, err := g.recordFormats.Lookup(envelope.Format)
	if err != nil {
		return nil, err
	}

	records, err := parser.Parse(payload)
	if err != nil {
		return nil, fmt.Errorf("invalid payload: %w", err)
	}
	return records, nil
}
