// Copyright 2026 The Ember Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import "io"

// Endpoint is an exclusively owned, bidirectional byte stream carrying
// one remote-input session. Ownership transfers to the bridge at
// handoff: the broker must not retain or reuse the endpoint afterwards,
// and the bridge closes it exactly once on teardown.
//
// Read and Write semantics depend on the implementation. A
// [FileEndpoint] is non-blocking and returns EAGAIN when no data is
// buffered; the event loop registers its descriptor and drains on
// readiness. Any other Endpoint may block and is driven by a reader
// goroutine instead.
type Endpoint interface {
	io.ReadWriteCloser

	// Describe returns a short label for logs, such as "fd:17" or
	// "webrtc:remote-input-3".
	Describe() string
}

// FileEndpoint is an Endpoint backed by an OS file descriptor. The
// event loop registers the descriptor for readiness notifications and
// expects Read and Write to be non-blocking.
type FileEndpoint interface {
	Endpoint

	// FD returns the descriptor for epoll registration. Valid until
	// Close.
	FD() int
}
