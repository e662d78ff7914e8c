// Copyright 2026 The Meridian Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/meridian-observability/meridian/lib/clock"
	"github.com/meridian-observability/meridian/lib/codec"
	"github.com/meridian-observability/meridian/lib/record"
	"github.com/meridian-observability/meridian/lib/server"
	"github.com/meridian-observability/meridian/lib/testutil"
)

func TestPrintFrameRecord(t *testing.T) {
	var out bytes.Buffer
	frame := liveFrame{
		Record: &storedRecord{
			ID:   "evt-1",
			Time: time.Date(2026, 8, 27, 12, 0, 0, 0, time.UTC),
			Metrics: map[string]record.Metric{
				"requests": {Kind: record.KindCounter, Values: []float64{3}},
			},
			Annotations: map[string]string{
				"cluster": "prod", "service": "frontend", "host": "web-01",
			},
		},
	}
	if err := printFrame(&out, testutil.Logger(t), frame); err != nil {
		t.Fatalf("printFrame: %v", err)
	}

	line := strings.TrimSuffix(out.String(), "\n")
	if strings.Contains(line, "\n") {
		t.Fatalf("output is not a single line: %q", out.String())
	}
	var decoded storedRecord
	if err := json.Unmarshal([]byte(line), &decoded); err != nil {
		t.Fatalf("output is not JSON: %v", err)
	}
	if decoded.ID != "evt-1" || decoded.Annotations["cluster"] != "prod" {
		t.Errorf("decoded = %+v", decoded)
	}
}

func TestPrintFrameAcknowledgement(t *testing.T) {
	var out bytes.Buffer
	frame := liveFrame{Response: "ok", Patterns: []string{"prod/**"}}
	if err := printFrame(&out, testutil.Logger(t), frame); err != nil {
		t.Fatalf("printFrame: %v", err)
	}
	if out.Len() != 0 {
		t.Errorf("acknowledgement produced output: %q", out.String())
	}
}

// TestTailSession runs tail against a stub gateway that acks the
// subscription and emits one record.
func TestTailSession(t *testing.T) {
	socketPath := filepath.Join(t.TempDir(), "gateway.sock")
	s := server.New(socketPath, "", testutil.Logger(t))

	subscribed := make(chan map[string]any, 1)
	s.HandleStream("live", func(ctx context.Context, raw []byte, conn net.Conn) {
		encoder := codec.NewEncoder(conn)
		decoder := codec.NewDecoder(conn)
		if err := encoder.Encode(server.StreamAck{OK: true}); err != nil {
			return
		}

		var payload []byte
		if err := decoder.Decode(&payload); err != nil {
			return
		}
		var command map[string]any
		if err := codec.Unmarshal(payload, &command); err != nil {
			return
		}
		subscribed <- command

		encoder.Encode(map[string]any{"response": "ok", "patterns": []string{"prod/**"}})
		encoder.Encode(map[string]any{"record": storedRecord{
			ID:          "evt-1",
			Time:        time.Date(2026, 8, 27, 12, 0, 0, 0, time.UTC),
			Metrics:     map[string]record.Metric{},
			Annotations: map[string]string{"cluster": "prod", "service": "s", "host": "h"},
		}})
		// Returning closes the connection, which tail treats as a clean
		// end of stream.
	})

	ctx, cancel := context.WithCancel(context.Background())
	serverDone := make(chan error, 1)
	go func() {
		serverDone <- s.Serve(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		if err := testutil.RequireReceive(t, serverDone, 5*time.Second, "server shutdown"); err != nil {
			t.Errorf("Serve: %v", err)
		}
	})
	waitForSocket(t, socketPath)

	var out bytes.Buffer
	tailDone := make(chan error, 1)
	go func() {
		tailDone <- tail(ctx, server.NewClient(socketPath),
			clock.Fake(time.Now()), testutil.Logger(t),
			[]string{"prod/**"}, time.Minute, &out)
	}()

	command := testutil.RequireReceive(t, subscribed, 5*time.Second, "subscribe command")
	if command["command"] != "subscribe" {
		t.Errorf("command = %v", command)
	}

	if err := testutil.RequireReceive(t, tailDone, 5*time.Second, "tail exit"); err != nil {
		t.Fatalf("tail: %v", err)
	}

	var decoded storedRecord
	if err := json.Unmarshal(bytes.TrimSpace(out.Bytes()), &decoded); err != nil {
		t.Fatalf("output %q is not a JSON record: %v", out.String(), err)
	}
	if decoded.ID != "evt-1" {
		t.Errorf("record id = %q", decoded.ID)
	}
}

func waitForSocket(t *testing.T, path string) {
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
	t.Fatalf("server never started listening on %s", path)
}
