// Copyright 2026 The Meridian Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/meridian-observability/meridian/lib/clock"
	"github.com/meridian-observability/meridian/lib/config"
	"github.com/meridian-observability/meridian/lib/server"
	"github.com/meridian-observability/meridian/lib/testutil"
	"github.com/meridian-observability/meridian/lib/wire"
)

// startTestGateway brings up a full gateway on a temporary socket and
// returns a client for it.
func startTestGateway(t *testing.T) (*server.Client, *clock.FakeClock) {
	t.Helper()

	directory := t.TempDir()
	socketPath := filepath.Join(directory, "gateway.sock")

	cfg := config.Default()
	cfg.Listen.SocketPath = socketPath
	cfg.Storage.DatabasePath = filepath.Join(directory, "records.db")
	cfg.Storage.PoolSize = 2

	clk := clock.Fake(time.Date(2026, 8, 27, 12, 0, 0, 0, time.UTC))
	logger := testutil.Logger(t)

	store, err := OpenStore(StoreConfig{
		Path:     cfg.Storage.DatabasePath,
		PoolSize: cfg.Storage.PoolSize,
		Clock:    clk,
		Logger:   logger,
	})
	if err != nil {
		t.Fatalf("OpenStore: %v", err)
	}

	gateway := NewGateway(cfg, clk, logger, store)
	actionServer := server.New(socketPath, "", logger)
	gateway.registerActions(actionServer)

	ctx, cancel := context.WithCancel(context.Background())
	serverDone := make(chan error, 1)
	go func() {
		serverDone <- actionServer.Serve(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		if err := testutil.RequireReceive(t, serverDone, 5*time.Second, "server shutdown"); err != nil {
			t.Errorf("Serve: %v", err)
		}
		if err := store.Close(); err != nil {
			t.Errorf("store close: %v", err)
		}
	})

	waitForGatewaySocket(t, socketPath)
	return server.NewClient(socketPath), clk
}

func waitForGatewaySocket(t *testing.T, path string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		conn, err := net.Dial("unix", path)
		if err == nil {
			conn.Close()
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("gateway never started listening on %s", path)
}

// decodeFrame reads one outbound frame from a live stream as a
// generic map.
func decodeFrame(t *testing.T, stream *server.Stream) map[string]any {
	t.Helper()
	stream.SetReadDeadline(time.Now().Add(5 * time.Second))
	var frame map[string]any
	if err := stream.Decoder.Decode(&frame); err != nil {
		t.Fatalf("decoding live frame: %v", err)
	}
	return frame
}

func TestIngestToLiveFlow(t *testing.T) {
	client, _ := startTestGateway(t)
	ctx := context.Background()

	// Open a live session speaking JSON commands.
	live, err := client.OpenStream(ctx, "live", map[string]any{
		"format": wire.FormatCommandJSON,
	})
	if err != nil {
		t.Fatalf("OpenStream live: %v", err)
	}
	defer live.Close()

	// Subscribe to the prod cluster.
	if err := live.Encoder.Encode([]byte(`{"command":"subscribe","patterns":["prod/**"]}`)); err != nil {
		t.Fatalf("sending subscribe: %v", err)
	}
	update := decodeFrame(t, live)
	if update["response"] != "ok" {
		t.Fatalf("subscribe ack = %v", update)
	}

	// Heartbeat round trip.
	if err := live.Encoder.Encode([]byte(`{"command":"heartbeat"}`)); err != nil {
		t.Fatalf("sending heartbeat: %v", err)
	}
	ack := decodeFrame(t, live)
	if ack["response"] != "ok" {
		t.Fatalf("heartbeat ack = %v", ack)
	}

	// Stream two records in; only the prod one matches the filter.
	ingest, err := client.OpenStream(ctx, "ingest", nil)
	if err != nil {
		t.Fatalf("OpenStream ingest: %v", err)
	}
	defer ingest.Close()

	payload := []byte(`[
		{
			"id": "evt-prod",
			"time": "2026-08-27T12:00:00Z",
			"metrics": {"requests": {"kind": "counter", "values": [1]}},
			"annotations": {"host": "web-01", "service": "frontend", "cluster": "prod"}
		},
		{
			"id": "evt-staging",
			"time": "2026-08-27T12:00:01Z",
			"metrics": {},
			"annotations": {"host": "web-01", "service": "frontend", "cluster": "staging"}
		}
	]`)
	envelope, err := wire.NewEnvelope(wire.FormatRecordsJSON, payload, wire.CompressionLZ4)
	if err != nil {
		t.Fatalf("NewEnvelope: %v", err)
	}
	if err := ingest.Encoder.Encode(envelope); err != nil {
		t.Fatalf("sending envelope: %v", err)
	}

	var ingestAck server.StreamAck
	ingest.SetReadDeadline(time.Now().Add(5 * time.Second))
	if err := ingest.Decoder.Decode(&ingestAck); err != nil {
		t.Fatalf("reading ingest ack: %v", err)
	}
	if !ingestAck.OK {
		t.Fatalf("ingest nacked: %s", ingestAck.Error)
	}

	// The prod record arrives on the live session.
	frame := decodeFrame(t, live)
	recordData, ok := frame["record"].(map[string]any)
	if !ok {
		t.Fatalf("frame = %v, want record frame", frame)
	}
	if recordData["id"] != "evt-prod" {
		t.Errorf("record id = %v, want evt-prod", recordData["id"])
	}

	// The staging record was filtered out: the next frame after
	// another heartbeat is its ack, not a record.
	if err := live.Encoder.Encode([]byte(`{"command":"heartbeat"}`)); err != nil {
		t.Fatalf("sending heartbeat: %v", err)
	}
	next := decodeFrame(t, live)
	if next["response"] != "ok" {
		t.Errorf("frame after filtered record = %v, want heartbeat ack", next)
	}
}

func TestIngestRejectsBadEnvelopeAndContinues(t *testing.T) {
	client, _ := startTestGateway(t)
	ctx := context.Background()

	ingest, err := client.OpenStream(ctx, "ingest", nil)
	if err != nil {
		t.Fatalf("OpenStream ingest: %v", err)
	}
	defer ingest.Close()

	readAck := func() server.StreamAck {
		t.Helper()
		var ack server.StreamAck
		ingest.SetReadDeadline(time.Now().Add(5 * time.Second))
		if err := ingest.Decoder.Decode(&ack); err != nil {
			t.Fatalf("reading ack: %v", err)
		}
		return ack
	}

	// Unknown format: nack, stream stays open.
	bad, err := wire.NewEnvelope("records/xml/v1", []byte("<nope/>"), wire.CompressionNone)
	if err != nil {
		t.Fatalf("NewEnvelope: %v", err)
	}
	if err := ingest.Encoder.Encode(bad); err != nil {
		t.Fatalf("sending envelope: %v", err)
	}
	if ack := readAck(); ack.OK || ack.Error == "" {
		t.Fatalf("bad envelope ack = %+v, want error", ack)
	}

	// Validation failure (missing cluster): also a nack.
	invalid, err := wire.NewEnvelope(wire.FormatRecordsJSON, []byte(`{
		"id": "evt-1",
		"time": "2026-08-27T12:00:00Z",
		"metrics": {},
		"annotations": {"host": "h", "service": "s"}
	}`), wire.CompressionNone)
	if err != nil {
		t.Fatalf("NewEnvelope: %v", err)
	}
	if err := ingest.Encoder.Encode(invalid); err != nil {
		t.Fatalf("sending envelope: %v", err)
	}
	if ack := readAck(); ack.OK {
		t.Fatal("invalid record batch was acked")
	}

	// A good envelope on the same stream still goes through.
	good, err := wire.NewEnvelope(wire.FormatRecordsJSON, []byte(`{
		"id": "evt-ok",
		"time": "2026-08-27T12:00:00Z",
		"metrics": {},
		"annotations": {"host": "h", "service": "s", "cluster": "c"}
	}`), wire.CompressionNone)
	if err != nil {
		t.Fatalf("NewEnvelope: %v", err)
	}
	if err := ingest.Encoder.Encode(good); err != nil {
		t.Fatalf("sending envelope: %v", err)
	}
	if ack := readAck(); !ack.OK {
		t.Fatalf("good envelope nacked: %s", ack.Error)
	}
}

func TestStatusAndQuery(t *testing.T) {
	client, _ := startTestGateway(t)
	ctx := context.Background()

	ingest, err := client.OpenStream(ctx, "ingest", nil)
	if err != nil {
		t.Fatalf("OpenStream ingest: %v", err)
	}
	defer ingest.Close()

	envelope, err := wire.NewEnvelope(wire.FormatRecordsJSON, []byte(`{
		"id": "evt-1",
		"time": "2026-08-27T11:30:00Z",
		"metrics": {"load": {"kind": "gauge", "values": [0.5]}},
		"annotations": {"host": "web-01", "service": "frontend", "cluster": "prod"}
	}`), wire.CompressionZstd)
	if err != nil {
		t.Fatalf("NewEnvelope: %v", err)
	}
	if err := ingest.Encoder.Encode(envelope); err != nil {
		t.Fatalf("sending envelope: %v", err)
	}
	var ack server.StreamAck
	ingest.SetReadDeadline(time.Now().Add(5 * time.Second))
	if err := ingest.Decoder.Decode(&ack); err != nil {
		t.Fatalf("reading ack: %v", err)
	}
	if !ack.OK {
		t.Fatalf("envelope nacked: %s", ack.Error)
	}

	var status statusResponse
	if err := client.Call(ctx, "status", nil, &status); err != nil {
		t.Fatalf("status: %v", err)
	}
	if status.EnvelopesReceived != 1 || status.RecordsStored != 1 {
		t.Errorf("status = %+v", status)
	}
	if len(status.RecordFormats) == 0 || len(status.CommandFormats) == 0 {
		t.Errorf("status formats missing: %+v", status)
	}

	var result queryResponse
	err = client.Call(ctx, "query", map[string]any{"cluster": "prod"}, &result)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(result.Records) != 1 || result.Records[0].ID != "evt-1" {
		t.Fatalf("query result = %+v", result)
	}
	if result.Records[0].Metrics["load"].Values[0] != 0.5 {
		t.Errorf("metric values = %+v", result.Records[0].Metrics)
	}

	var missing queryResponse
	err = client.Call(ctx, "query", map[string]any{"cluster": "absent"}, &missing)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(missing.Records) != 0 {
		t.Errorf("query for absent cluster returned %d rows", len(missing.Records))
	}
}
