// Copyright 2026 The Ember Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"io"
	"sync"
)

// DataChannelEndpoint wraps a detached pion data channel
// ReadWriteCloser as an Endpoint. The underlying channel is
// stream-oriented (SCTP handles fragmentation and reassembly, and the
// channel is opened ordered and reliable), so the remote-input frame
// protocol runs over it unchanged.
//
// Reads block until data arrives, so the bridge drives this endpoint
// through a reader goroutine (eventloop.Pump) rather than registering
// a descriptor. Close unblocks a pending read.
type DataChannelEndpoint struct {
	rwc   io.ReadWriteCloser
	label string

	mu     sync.Mutex
	closed bool
}

var _ Endpoint = (*DataChannelEndpoint)(nil)

// NewDataChannelEndpoint wraps a detached data channel. The label
// identifies the channel in logs.
func NewDataChannelEndpoint(rwc io.ReadWriteCloser, label string) *DataChannelEndpoint {
	return &DataChannelEndpoint{rwc: rwc, label: label}
}

func (e *DataChannelEndpoint) Read(p []byte) (int, error) {
	return e.rwc.Read(p)
}

func (e *DataChannelEndpoint) Write(p []byte) (int, error) {
	return e.rwc.Write(p)
}

// Close closes the data channel, unblocking any pending read.
// Idempotent.
func (e *DataChannelEndpoint) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	return e.rwc.Close()
}

// Describe returns "webrtc:<label>" for logs.
func (e *DataChannelEndpoint) Describe() string { return "webrtc:" + e.label }
