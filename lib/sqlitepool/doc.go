// Copyright 2026 The Meridian Authors
// SPDX-License-Identifier: Apache-2.0

// Package sqlitepool provides the SQLite connection pool used by
// Meridian's record store.
//
// It wraps zombiezen.com/go/sqlite with pragmas tuned for a telemetry
// write path: WAL journal mode so queries never block ingestion,
// NORMAL synchronous for process-crash durability without a fsync per
// committed batch, memory-mapped reads for the query surface, and a
// busy timeout so concurrent writers wait instead of failing.
//
// Callers [Pool.Take] a connection, perform work, and [Pool.Put] it
// back. Connections are not safe for concurrent use; each goroutine
// holds its own for the duration of its work.
//
// # Pragmas
//
// Every connection is initialized with:
//
//   - journal_mode=WAL: concurrent readers with a single writer.
//     Query traffic never blocks the ingest writer and vice versa.
//   - synchronous=NORMAL: committed records survive a process crash.
//     Not durable across power failure — acceptable for retention
//     storage, where producers retry and ids deduplicate.
//   - busy_timeout=5000: wait up to 5 seconds for the write lock
//     rather than surfacing SQLITE_BUSY to the ingest path.
//   - foreign_keys=OFF: the store is a single flat table; integrity
//     is carried by the record id.
//   - cache_size=-8192: 8 MB page cache per connection.
//   - mmap_size=268435456: 256 MB memory-mapped I/O so dimension
//     queries read through the OS page cache.
//   - temp_store=MEMORY: sort and group scratch space in memory.
//
// The package is intentionally thin: it applies the pragmas and
// exposes the zombiezen types directly. The store writes SQL, uses
// sqlitex.Execute for cached statements, and manages transactions with
// sqlitex.ImmediateTransaction; there is no query-builder layer on
// top.
package sqlitepool
