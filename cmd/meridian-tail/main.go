// Copyright 2026 The Meridian Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/meridian-observability/meridian/lib/clock"
	"github.com/meridian-observability/meridian/lib/codec"
	"github.com/meridian-observability/meridian/lib/netutil"
	"github.com/meridian-observability/meridian/lib/process"
	"github.com/meridian-observability/meridian/lib/record"
	"github.com/meridian-observability/meridian/lib/server"
)

const defaultSocketPath = "/run/meridian/gateway.sock"

// storedRecord mirrors the gateway's record frame payload.
type storedRecord struct {
	ID          string                   `cbor:"id" json:"id"`
	Time        time.Time                `cbor:"time" json:"time"`
	Metrics     map[string]record.Metric `cbor:"metrics" json:"metrics"`
	Annotations map[string]string        `cbor:"annotations" json:"annotations"`
}

// liveFrame is the union of everything the gateway sends on a live
// session: processor acknowledgements carry a response, record frames
// carry a record.
type liveFrame struct {
	Response string        `cbor:"response"`
	Patterns []string      `cbor:"patterns"`
	Record   *storedRecord `cbor:"record"`
}

func main() {
	if err := run(); err != nil {
		process.Fatal(err)
	}
}

func run() error {
	var (
		address           string
		heartbeatInterval time.Duration
		verbose           bool
	)
	flags := pflag.NewFlagSet("meridian-tail", pflag.ContinueOnError)
	flags.StringVar(&address, "address", defaultSocketPath,
		"gateway address: a socket path, or host:port for TCP")
	flags.DurationVar(&heartbeatInterval, "heartbeat", 30*time.Second,
		"interval between keepalive heartbeats")
	flags.BoolVar(&verbose, "verbose", false, "log acknowledgement frames")
	flags.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: meridian-tail [flags] [pattern ...]\n\n")
		fmt.Fprintf(os.Stderr, "Subscribes to a gateway's live record feed and prints matching\n")
		fmt.Fprintf(os.Stderr, "records as JSON lines. Patterns are globs over the record's\n")
		fmt.Fprintf(os.Stderr, "cluster/service/host path; with no patterns, everything matches.\n\n")
		fmt.Fprintf(os.Stderr, "example: meridian-tail --address %s 'prod/**'\n\n", defaultSocketPath)
		flags.PrintDefaults()
	}
	if err := flags.Parse(os.Args[1:]); err != nil {
		return err
	}

	patterns := flags.Args()
	if len(patterns) == 0 {
		patterns = []string{"**"}
	}

	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return tail(ctx, server.NewClient(address), clock.Real(), logger, patterns, heartbeatInterval, os.Stdout)
}

// tail runs one live session: subscribe, print record frames until the
// context is cancelled or the gateway goes away.
func tail(ctx context.Context, client *server.Client, clk clock.Clock, logger *slog.Logger, patterns []string, heartbeatInterval time.Duration, out io.Writer) error {
	stream, err := client.OpenStream(ctx, "live", nil)
	if err != nil {
		return err
	}
	defer stream.Close()

	// The stream decoder reads ahead, so all writes after the handshake
	// go through this mutex-guarded encoder: the subscribe below and
	// the heartbeat goroutine's keepalives.
	var writeMu sync.Mutex
	send := func(command map[string]any) error {
		payload, err := codec.Marshal(command)
		if err != nil {
			return fmt.Errorf("encoding %v command: %w", command["command"], err)
		}
		writeMu.Lock()
		defer writeMu.Unlock()
		return stream.Encoder.Encode(payload)
	}

	if err := send(map[string]any{
		"command":  "subscribe",
		"patterns": patterns,
	}); err != nil {
		return err
	}
	logger.Debug("subscribed", "patterns", patterns)

	// Unblock the decode loop on cancellation.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			stream.Close()
		case <-done:
		}
	}()

	go func() {
		ticker := clk.NewTicker(heartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := send(map[string]any{"command": "heartbeat"}); err != nil {
					logger.Debug("heartbeat failed", "error", err)
					return
				}
			case <-done:
				return
			}
		}
	}()

	for {
		var frame liveFrame
		if err := stream.Decoder.Decode(&frame); err != nil {
			if ctx.Err() != nil || netutil.IsExpectedCloseError(err) {
				return nil
			}
			return fmt.Errorf("reading live frame: %w", err)
		}
		if err := printFrame(out, logger, frame); err != nil {
			return err
		}
	}
}

// printFrame writes record frames to out as JSON lines and logs
// acknowledgements at debug level.
func printFrame(out io.Writer, logger *slog.Logger, frame liveFrame) error {
	if frame.Record == nil {
		logger.Debug("acknowledgement",
			"response", frame.Response,
			"patterns", frame.Patterns,
		)
		return nil
	}

	line, err := json.Marshal(frame.Record)
	if err != nil {
		return fmt.Errorf("formatting record %s: %w", frame.Record.ID, err)
	}
	if _, err := fmt.Fprintf(out, "%s\n", line); err != nil {
		return fmt.Errorf("writing record: %w", err)
	}
	return nil
}
