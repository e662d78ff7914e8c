// Copyright 2026 The Meridian Authors
// SPDX-License-Identifier: Apache-2.0

// Command meridian-gateway is the telemetry gateway daemon.
//
// The gateway serves a CBOR action protocol on a Unix socket (and
// optionally TCP):
//
//   - "ingest": a streaming action producers use to submit record
//     envelopes. Each envelope is parsed, validated, persisted, fanned
//     out to live sessions, and individually acked.
//   - "live": a streaming action for live record viewing. Clients send
//     heartbeat and subscribe commands; the gateway pushes matching
//     records as they arrive.
//   - "status": aggregate operational counters.
//   - "query": stored records by dimension filter and time range.
//
// Records are retained in SQLite for the configured window; a
// background sweep deletes expired rows.
package main
