// Copyright 2026 The Meridian Authors
// SPDX-License-Identifier: Apache-2.0

// Package server provides the CBOR action server Meridian components
// serve on.
//
// The server listens on a Unix socket (and optionally a TCP address)
// and routes each connection by the "action" field of its first CBOR
// value. Request-response actions handle exactly one request and
// close; streaming actions take over the connection after the routing
// header and keep it open for the life of the session.
//
// CBOR is self-delimiting, so the protocol needs no length framing:
// values are simply concatenated on the connection in both directions.
package server
