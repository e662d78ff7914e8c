// Copyright 2026 The Meridian Authors
// SPDX-License-Identifier: Apache-2.0

// Package wire turns raw client bytes into typed values.
//
// The core abstraction is Parser[T]: a stateless translator from a
// byte slice to a value of type T, returning *ParseError on malformed
// or invalid input. Parsers are selected by a format discriminator
// string ("records/json/v1", "command/cbor/v1") through a Registry, so
// new formats are added by registration without touching ingestion
// code.
//
// The package also defines the ingest envelope: a small CBOR frame
// carrying the format discriminator, a compression tag, and the
// (possibly compressed) payload.
package wire
