// Copyright 2026 The Meridian Authors
// SPDX-License-Identifier: Apache-2.0

// Package protocol implements per-session message dispatch for live
// connections.
//
// Each session owns one Connection with an ordered chain of message
// processors attached. Inbound messages are offered to the chain in
// registration order; the first processor to claim a message ends the
// dispatch, and a message no processor claims is dropped. Dispatch is
// strictly sequential within a session — processors never see
// concurrent calls — while different sessions dispatch independently.
//
// Processors report activity through a shared metrics sink. The
// owning session re-initializes processor metrics at each reporting
// interval, which resets the interval counters to zero.
package protocol
