// Copyright 2026 The Meridian Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock abstracts time for testability.
//
// Production code injects [Real]; tests inject [Fake] and drive time
// with [FakeClock.Advance]. Every Meridian component that reads the
// current time or schedules periodic work (metrics reporting
// intervals, retention sweeps, session heartbeats) takes a Clock
// instead of calling the time package directly, so tests never sleep
// and never race the wall clock.
//
// The fake clock fires waiters deterministically in deadline order and
// provides [FakeClock.WaitForTimers] to synchronize with goroutines
// that register timers asynchronously.
package clock
