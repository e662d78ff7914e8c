// Copyright 2026 The Meridian Authors
// SPDX-License-Identifier: Apache-2.0

// meridian-tail follows a gateway's live record feed from the command
// line. It opens a live session, subscribes with the glob patterns
// given as arguments (everything, if none are given), and prints each
// matching record to stdout as a JSON line. Periodic heartbeats keep
// the session alive through idle stretches.
package main
