// Copyright 2026 The Meridian Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec provides Meridian's standard CBOR encoding configuration.
//
// Meridian uses two serialization formats with a clear boundary:
//
//   - JSON for external surfaces: the json/v1 record wire format,
//     CLI output, and configuration files.
//   - CBOR for the gateway socket protocol: ingest envelopes, live
//     session frames, query requests and responses, and the cbor/v1
//     record wire format.
//
// This package provides the shared CBOR encoding and decoding modes so
// that every Meridian package encodes identically without duplicating
// configuration. The encoder uses Core Deterministic Encoding (RFC 8949
// §4.2): sorted map keys, smallest integer encoding, no
// indefinite-length items. Same logical data always produces identical
// bytes — a property the content-derived record ids in lib/wire rely on.
//
// For buffer-oriented operations:
//
//	data, err := codec.Marshal(value)
//	err = codec.Unmarshal(data, &value)
//
// For stream-oriented operations (sockets):
//
//	encoder := codec.NewEncoder(conn)
//	decoder := codec.NewDecoder(conn)
package codec
