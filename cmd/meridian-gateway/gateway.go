// Copyright 2026 The Meridian Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/meridian-observability/meridian/lib/clock"
	"github.com/meridian-observability/meridian/lib/codec"
	"github.com/meridian-observability/meridian/lib/config"
	"github.com/meridian-observability/meridian/lib/protocol"
	"github.com/meridian-observability/meridian/lib/record"
	"github.com/meridian-observability/meridian/lib/server"
	"github.com/meridian-observability/meridian/lib/wire"
)

// Gateway is the core state for the telemetry gateway: parser
// registries, the retention store, ingest counters, and the set of
// open live sessions.
//
// Ingest counters use atomics for lock-free reads from the status
// handler while ingest stream goroutines write concurrently. The
// session list is guarded by sessionMu: ingest handlers read under
// RLock to fan records out, live handlers write under Lock on
// connect and disconnect.
type Gateway struct {
	cfg    *config.Config
	clock  clock.Clock
	logger *slog.Logger
	store  *Store

	recordFormats  *wire.Registry[[]*record.Record]
	commandFormats *wire.Registry[protocol.Command]

	startedAt time.Time

	// Ingest counters, updated by ingest stream handlers.
	envelopesReceived atomic.Uint64
	envelopesRejected atomic.Uint64
	recordsReceived   atomic.Uint64
	recordsStored     atomic.Uint64

	sessionMu sync.RWMutex
	sessions  []*liveSession
}

// NewGateway assembles a gateway around an open store.
func NewGateway(cfg *config.Config, clk clock.Clock, logger *slog.Logger, store *Store) *Gateway {
	return &Gateway{
		cfg:            cfg,
		clock:          clk,
		logger:         logger,
		store:          store,
		recordFormats:  wire.NewRecordRegistry(),
		commandFormats: wire.NewCommandRegistry(),
		startedAt:      clk.Now(),
	}
}

// registerActions wires the gateway's actions onto the server.
func (g *Gateway) registerActions(s *server.Server) {
	s.HandleStream("ingest", g.handleIngest)
	s.HandleStream("live", g.handleLive)
	s.Handle("status", g.handleStatus)
	s.Handle("query", g.handleQuery)
}

// addSession registers a live session for record fan-out. Called
// before the readiness ack is written, so by the time the client sees
// the ack the session is already receiving records.
func (g *Gateway) addSession(session *liveSession) {
	g.sessionMu.Lock()
	g.sessions = append(g.sessions, session)
	g.sessionMu.Unlock()
}

// removeSession deregisters a live session on disconnect.
func (g *Gateway) removeSession(session *liveSession) {
	g.sessionMu.Lock()
	for i, existing := range g.sessions {
		if existing == session {
			g.sessions = append(g.sessions[:i], g.sessions[i+1:]...)
			break
		}
	}
	g.sessionMu.Unlock()
}

// fanOut offers freshly ingested records to every live session. Sends
// are non-blocking: a session that has fallen a full buffer behind
// starts losing records rather than stalling ingestion.
func (g *Gateway) fanOut(records []*record.Record) {
	g.sessionMu.RLock()
	defer g.sessionMu.RUnlock()

	if len(g.sessions) == 0 {
		return
	}
	for _, session := range g.sessions {
		for _, r := range records {
			select {
			case session.records <- r:
			default:
				session.dropped.Add(1)
			}
		}
	}
}

// openSessions returns the number of connected live sessions.
func (g *Gateway) openSessions() int {
	g.sessionMu.RLock()
	defer g.sessionMu.RUnlock()
	return len(g.sessions)
}

// runSweeper deletes expired records on the configured cadence until
// ctx is cancelled.
func (g *Gateway) runSweeper(ctx context.Context) {
	ticker := g.clock.NewTicker(g.cfg.Storage.SweepInterval.Value())
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			deleted, err := g.store.Sweep(ctx, g.cfg.Storage.Retention.Value())
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				g.logger.Error("retention sweep failed", "error", err)
				continue
			}
			if deleted > 0 {
				g.logger.Info("retention sweep",
					"deleted", deleted,
					"retention", g.cfg.Storage.Retention.Value(),
				)
			}
		case <-ctx.Done():
			return
		}
	}
}

// statusResponse is the reply to the "status" action: aggregate
// operational numbers only.
type statusResponse struct {
	UptimeSeconds     int64    `cbor:"uptime_seconds"`
	EnvelopesReceived uint64   `cbor:"envelopes_received"`
	EnvelopesRejected uint64   `cbor:"envelopes_rejected"`
	RecordsReceived   uint64   `cbor:"records_received"`
	RecordsStored     uint64   `cbor:"records_stored"`
	StoredRecords     int64    `cbor:"stored_records"`
	OpenSessions      int      `cbor:"open_sessions"`
	RecordFormats     []string `cbor:"record_formats"`
	CommandFormats    []string `cbor:"command_formats"`
}

func (g *Gateway) handleStatus(ctx context.Context, raw []byte) (any, error) {
	storedRecords, err := g.store.Count(ctx)
	if err != nil {
		return nil, err
	}

	return statusResponse{
		UptimeSeconds:     int64(g.clock.Now().Sub(g.startedAt).Seconds()),
		EnvelopesReceived: g.envelopesReceived.Load(),
		EnvelopesRejected: g.envelopesRejected.Load(),
		RecordsReceived:   g.recordsReceived.Load(),
		RecordsStored:     g.recordsStored.Load(),
		StoredRecords:     storedRecords,
		OpenSessions:      g.openSessions(),
		RecordFormats:     g.recordFormats.Formats(),
		CommandFormats:    g.commandFormats.Formats(),
	}, nil
}

// queryRequest is the "query" action request: the store filter plus
// the routing header.
type queryRequest struct {
	Action string `cbor:"action"`
	QueryFilter
}

// queryResponse carries matching stored records, newest first.
type queryResponse struct {
	Records []StoredRecord `cbor:"records"`
}

func (g *Gateway) handleQuery(ctx context.Context, raw []byte) (any, error) {
	var request queryRequest
	if err := codec.Unmarshal(raw, &request); err != nil {
		return nil, err
	}

	records, err := g.store.Query(ctx, request.QueryFilter)
	if err != nil {
		return nil, err
	}
	return queryResponse{Records: records}, nil
}
