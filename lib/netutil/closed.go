// Copyright 2026 The Meridian Authors
// SPDX-License-Identifier: Apache-2.0

// Package netutil holds small networking helpers shared by the gateway
// and its clients.
package netutil

import (
	"errors"
	"io"
	"net"
	"syscall"
)

// IsExpectedCloseError reports whether err is a normal connection
// termination: EOF, closed connection, broken pipe, or connection
// reset. These occur whenever one side of a streaming session
// disconnects and the surviving side's in-flight read or write fails
// as a result. All four are expected teardown noise and should not be
// logged as errors.
func IsExpectedCloseError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
		return true
	}
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return errno == syscall.EPIPE || errno == syscall.ECONNRESET
	}
	return false
}
