// Copyright 2026 The Ember Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"fmt"
	"io"
	"net"
	"os"
	"sync"

	"golang.org/x/sys/unix"
)

// SocketEndpoint is an Endpoint backed by a connected stream socket
// file descriptor, the form in which the session broker delivers
// connections. The descriptor is switched to non-blocking mode at
// construction; Read and Write return EAGAIN instead of blocking, so
// the event loop can drain exactly what the kernel has buffered and
// move on.
type SocketEndpoint struct {
	fd int

	mu     sync.Mutex
	closed bool
}

var _ FileEndpoint = (*SocketEndpoint)(nil)

// NewSocketEndpoint takes ownership of a connected socket descriptor,
// as received from the broker's handoff. The descriptor is set
// non-blocking and close-on-exec; on error it remains the caller's to
// close.
func NewSocketEndpoint(fd int) (*SocketEndpoint, error) {
	if fd < 0 {
		return nil, fmt.Errorf("invalid socket descriptor %d", fd)
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		return nil, fmt.Errorf("setting descriptor %d non-blocking: %w", fd, err)
	}
	unix.CloseOnExec(fd)
	return &SocketEndpoint{fd: fd}, nil
}

// Read reads whatever the kernel has buffered, without blocking.
// Returns EAGAIN (as a *os.SyscallError) when nothing is buffered and
// io.EOF when the peer has closed its end.
func (e *SocketEndpoint) Read(p []byte) (int, error) {
	for {
		n, err := unix.Read(e.fd, p)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return 0, os.NewSyscallError("read", err)
		}
		if n == 0 && len(p) > 0 {
			return 0, io.EOF
		}
		return n, nil
	}
}

// Write writes as much of p as the kernel will take without blocking.
// A short write with EAGAIN means the socket's send buffer is full;
// the caller retains the unwritten tail and retries on
// write-readiness.
func (e *SocketEndpoint) Write(p []byte) (int, error) {
	written := 0
	for written < len(p) {
		n, err := unix.Write(e.fd, p[written:])
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return written, os.NewSyscallError("write", err)
		}
		written += n
	}
	return written, nil
}

// Close releases the descriptor. Idempotent.
func (e *SocketEndpoint) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	return unix.Close(e.fd)
}

// FD returns the socket descriptor for event-loop registration.
func (e *SocketEndpoint) FD() int { return e.fd }

// Describe returns "fd:N" for logs.
func (e *SocketEndpoint) Describe() string { return fmt.Sprintf("fd:%d", e.fd) }

// SocketPair creates a connected Unix stream socket pair: the server
// end as a SocketEndpoint ready to hand to the bridge, and the client
// end as a blocking *net.UnixConn for the remote peer. This mirrors
// what the session broker does before a handoff, and is the test
// harness primitive.
func SocketPair() (*SocketEndpoint, *net.UnixConn, error) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, nil, fmt.Errorf("creating socket pair: %w", err)
	}

	server, err := NewSocketEndpoint(fds[0])
	if err != nil {
		unix.Close(fds[0])
		unix.Close(fds[1])
		return nil, nil, err
	}

	// net.FileConn duplicates the descriptor into the runtime poller,
	// so the original is closed once the conversion succeeds.
	clientFile := os.NewFile(uintptr(fds[1]), "remote-input-client")
	clientConn, err := net.FileConn(clientFile)
	clientFile.Close()
	if err != nil {
		server.Close()
		return nil, nil, fmt.Errorf("converting client descriptor: %w", err)
	}

	unixConn, ok := clientConn.(*net.UnixConn)
	if !ok {
		server.Close()
		clientConn.Close()
		return nil, nil, fmt.Errorf("socket pair produced %T, want *net.UnixConn", clientConn)
	}
	return server, unixConn, nil
}
