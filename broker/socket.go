// Copyright 2026 The Ember Authors
// SPDX-License-Identifier: Apache-2.0

package broker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"github.com/ember-compositor/remoteinput/lib/codec"
	"github.com/ember-compositor/remoteinput/transport"
)

// Acceptor receives ownership of connection endpoints. Implemented by
// bridge.Bridge; tests substitute recorders.
type Acceptor interface {
	// AcceptConnection takes exclusive ownership of endpoint. On error
	// the endpoint was not consumed and remains the caller's to close.
	AcceptConnection(endpoint transport.Endpoint) error
}

// ActionAcceptConnection is the only action the control socket serves:
// hand over one connected session socket.
const ActionAcceptConnection = "accept-connection"

// Request is the control-socket request envelope. The session's
// descriptor travels out of band, attached to the same message via
// SCM_RIGHTS.
type Request struct {
	// Action selects the operation; only ActionAcceptConnection is
	// defined.
	Action string `cbor:"action"`

	// ClientName optionally identifies the remote client for logs. The
	// protocol handshake carries the authoritative name later.
	ClientName string `cbor:"client_name,omitempty"`
}

// Response is the control-socket reply envelope.
type Response struct {
	OK    bool   `cbor:"ok"`
	Error string `cbor:"error,omitempty"`
}

// readTimeout is how long the server waits for a connected requester
// to deliver its request. A well-behaved broker sends it immediately.
const readTimeout = 30 * time.Second

// writeTimeout is how long the server waits for the response write.
const writeTimeout = 10 * time.Second

// maxRequestSize bounds a single CBOR request.
const maxRequestSize = 64 * 1024

// SocketServer serves connection handoffs on a Unix control socket.
// Each connection handles exactly one request-response cycle: the
// requester sends one CBOR Request with the session descriptor
// attached, the server replies with a Response, and the connection
// closes.
type SocketServer struct {
	socketPath string
	acceptor   Acceptor
	logger     *slog.Logger

	// activeConnections tracks in-flight handoffs so Serve can drain
	// them before returning.
	activeConnections sync.WaitGroup
}

// NewSocketServer returns a server that will listen on socketPath and
// deliver endpoints to acceptor. A nil logger means slog.Default().
func NewSocketServer(socketPath string, acceptor Acceptor, logger *slog.Logger) *SocketServer {
	if acceptor == nil {
		panic("broker: acceptor is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SocketServer{socketPath: socketPath, acceptor: acceptor, logger: logger}
}

// Serve listens on the control socket and processes handoffs until ctx
// is cancelled, then waits for in-flight requests to finish. Any stale
// socket file at the path is removed before listening, and the socket
// file is removed on return.
func (s *SocketServer) Serve(ctx context.Context) error {
	if err := os.Remove(s.socketPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing stale socket %s: %w", s.socketPath, err)
	}

	listener, err := net.ListenUnix("unix", &net.UnixAddr{Name: s.socketPath, Net: "unix"})
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.socketPath, err)
	}
	defer func() {
		listener.Close()
		os.Remove(s.socketPath)
	}()

	// Unblock Accept when the context is cancelled.
	go func() {
		<-ctx.Done()
		listener.Close()
	}()

	s.logger.Info("control socket listening", "path", s.socketPath)

	for {
		conn, err := listener.AcceptUnix()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				break
			}
			s.logger.Error("control socket accept failed", "error", err)
			continue
		}

		s.activeConnections.Add(1)
		go func() {
			defer s.activeConnections.Done()
			s.handleConnection(conn)
		}()
	}

	s.activeConnections.Wait()
	return nil
}

// handleConnection processes one handoff cycle.
func (s *SocketServer) handleConnection(conn *net.UnixConn) {
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(readTimeout))

	// The descriptor rides in the ancillary data of the first message,
	// so the initial read must be a recvmsg. The CBOR request usually
	// arrives whole in the same message; the decoder falls back to the
	// stream for the remainder if the requester trickled it.
	buf := make([]byte, 4096)
	oob := make([]byte, unix.CmsgSpace(4*4))
	n, oobn, flags, _, err := conn.ReadMsgUnix(buf, oob)
	if err != nil {
		if !errors.Is(err, io.EOF) {
			s.logger.Debug("control request read failed", "error", err)
		}
		return
	}
	if flags&unix.MSG_CTRUNC != 0 {
		s.writeResponse(conn, Response{OK: false, Error: "control data truncated"})
		return
	}

	fd, err := parseSingleRight(oob[:oobn])
	if err != nil {
		s.writeResponse(conn, Response{OK: false, Error: err.Error()})
		return
	}

	var request Request
	decoder := codec.NewDecoder(io.MultiReader(
		bytes.NewReader(buf[:n]),
		io.LimitReader(conn, maxRequestSize),
	))
	if err := decoder.Decode(&request); err != nil {
		closeFD(fd)
		s.writeResponse(conn, Response{OK: false, Error: fmt.Sprintf("invalid request: %v", err)})
		return
	}

	if request.Action != ActionAcceptConnection {
		closeFD(fd)
		s.writeResponse(conn, Response{OK: false, Error: fmt.Sprintf("unknown action %q", request.Action)})
		return
	}
	if fd < 0 {
		s.writeResponse(conn, Response{OK: false, Error: "no session descriptor attached"})
		return
	}

	endpoint, err := transport.NewSocketEndpoint(fd)
	if err != nil {
		closeFD(fd)
		s.writeResponse(conn, Response{OK: false, Error: fmt.Sprintf("unusable descriptor: %v", err)})
		return
	}

	if err := s.acceptor.AcceptConnection(endpoint); err != nil {
		endpoint.Close()
		s.logger.Warn("connection handoff rejected",
			"client_name", request.ClientName,
			"error", err,
		)
		s.writeResponse(conn, Response{OK: false, Error: err.Error()})
		return
	}

	s.logger.Info("connection handed over", "client_name", request.ClientName)
	s.writeResponse(conn, Response{OK: true})
}

// writeResponse sends the reply envelope. Write failures are logged at
// debug level; the connection is closing regardless and the requester
// already holds the outcome that matters (its descriptor's fate).
func (s *SocketServer) writeResponse(conn *net.UnixConn, response Response) {
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := codec.NewEncoder(conn).Encode(response); err != nil {
		s.logger.Debug("control response write failed", "error", err)
	}
}

// parseSingleRight extracts the descriptor from the ancillary data.
// Returns -1 when no rights were attached. More than one descriptor is
// an error: the extras are closed so a confused requester cannot leak
// descriptors into the compositor.
func parseSingleRight(oob []byte) (int, error) {
	if len(oob) == 0 {
		return -1, nil
	}
	messages, err := unix.ParseSocketControlMessage(oob)
	if err != nil {
		return -1, fmt.Errorf("malformed control data: %v", err)
	}

	var fds []int
	for _, message := range messages {
		rights, err := unix.ParseUnixRights(&message)
		if err != nil {
			// Not SCM_RIGHTS; nothing to own, nothing to close.
			continue
		}
		fds = append(fds, rights...)
	}

	switch len(fds) {
	case 0:
		return -1, nil
	case 1:
		return fds[0], nil
	}
	for _, fd := range fds {
		closeFD(fd)
	}
	return -1, fmt.Errorf("%d descriptors attached, want exactly 1", len(fds))
}

func closeFD(fd int) {
	if fd >= 0 {
		unix.Close(fd)
	}
}
