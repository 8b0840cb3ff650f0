// Copyright 2026 The Ember Authors
// SPDX-License-Identifier: Apache-2.0

package netutil

import (
	"errors"
	"io"
	"net"
	"syscall"
)

// IsExpectedCloseError reports whether err is a normal connection
// termination: EOF, closed connection, broken pipe, or connection
// reset. A remote-input client that exits mid-session produces one of
// these on the bridge's next read or write; the session is torn down
// but nothing is wrong, so these are logged at info rather than error.
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
