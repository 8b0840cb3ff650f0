// Copyright 2026 The Ember Authors
// SPDX-License-Identifier: Apache-2.0

package broker

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"golang.org/x/sys/unix"

	"github.com/ember-compositor/remoteinput/lib/codec"
	"github.com/ember-compositor/remoteinput/lib/testutil"
	"github.com/ember-compositor/remoteinput/transport"
)

const testTimeout = 5 * time.Second

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// endpointRecorder collects handed-over endpoints, or rejects every
// handoff when rejectWith is set.
type endpointRecorder struct {
	mu         sync.Mutex
	endpoints  []transport.Endpoint
	rejectWith error
}

func (r *endpointRecorder) AcceptConnection(endpoint transport.Endpoint) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.rejectWith != nil {
		return r.rejectWith
	}
	r.endpoints = append(r.endpoints, endpoint)
	return nil
}

func (r *endpointRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.endpoints)
}

// single returns the one recorded endpoint and arranges its cleanup.
// The acceptor runs before the handoff response is written, so a
// returned HandOver means the endpoint is already here.
func (r *endpointRecorder) single(t *testing.T) transport.Endpoint {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.endpoints) != 1 {
		t.Fatalf("recorded %d endpoints, want 1", len(r.endpoints))
	}
	endpoint := r.endpoints[0]
	t.Cleanup(func() { endpoint.Close() })
	return endpoint
}

func controlSocketPath(t *testing.T) string {
	t.Helper()
	return filepath.Join(testutil.SocketDir(t), "control.sock")
}

// startServer runs a SocketServer on socketPath until test cleanup and
// blocks until the socket accepts connections.
func startServer(t *testing.T, socketPath string, acceptor Acceptor) {
	t.Helper()

	server := NewSocketServer(socketPath, acceptor, testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- server.Serve(ctx) }()
	t.Cleanup(func() {
		cancel()
		if err := testutil.RequireReceive(t, done, testTimeout, "control socket shutdown"); err != nil {
			t.Errorf("Serve returned %v after shutdown", err)
		}
	})

	waitForControlSocket(t, socketPath)
}

func waitForControlSocket(t *testing.T, socketPath string) {
	t.Helper()
	deadline := time.Now().Add(testTimeout)
	for {
		conn, err := net.DialUnix("unix", nil, &net.UnixAddr{Name: socketPath, Net: "unix"})
		if err == nil {
			conn.Close()
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("control socket %s never became dialable: %v", socketPath, err)
		}
		time.Sleep(time.Millisecond)
	}
}

// rawExchange sends one pre-encoded request (with optional ancillary
// data) and returns the server's response, bypassing HandOver.
func rawExchange(t *testing.T, socketPath string, payload, oob []byte) Response {
	t.Helper()

	conn, err := net.DialUnix("unix", nil, &net.UnixAddr{Name: socketPath, Net: "unix"})
	if err != nil {
		t.Fatalf("dialing control socket: %v", err)
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(testTimeout))

	if _, _, err := conn.WriteMsgUnix(payload, oob, nil); err != nil {
		t.Fatalf("sending request: %v", err)
	}
	var response Response
	if err := codec.NewDecoder(conn).Decode(&response); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	return response
}

func encodeRequest(t *testing.T, request Request) []byte {
	t.Helper()
	payload, err := codec.Marshal(request)
	if err != nil {
		t.Fatalf("encoding request: %v", err)
	}
	return payload
}

// readEndpoint reads exactly n bytes from a non-blocking endpoint,
// polling through EAGAIN.
func readEndpoint(t *testing.T, endpoint transport.Endpoint, n int) []byte {
	t.Helper()
	buf := make([]byte, n)
	read := 0
	deadline := time.Now().Add(testTimeout)
	for read < n {
		k, err := endpoint.Read(buf[read:])
		if err != nil {
			if errors.Is(err, unix.EAGAIN) {
				if time.Now().After(deadline) {
					t.Fatalf("timed out reading from endpoint after %d of %d bytes", read, n)
				}
				time.Sleep(time.Millisecond)
				continue
			}
			t.Fatalf("reading from endpoint: %v", err)
		}
		read += k
	}
	return buf
}

func TestNewSocketServerRequiresAcceptor(t *testing.T) {
	t.Parallel()

	defer func() {
		if recover() == nil {
			t.Error("NewSocketServer accepted a nil acceptor")
		}
	}()
	NewSocketServer("/tmp/unused.sock", nil, nil)
}

func TestHandOverDeliversLiveEndpoint(t *testing.T) {
	t.Parallel()

	recorder := &endpointRecorder{}
	socketPath := controlSocketPath(t)
	startServer(t, socketPath, recorder)

	server, client, err := transport.SocketPair()
	if err != nil {
		t.Fatalf("creating socket pair: %v", err)
	}
	t.Cleanup(func() { client.Close() })

	if err := HandOver(socketPath, server.FD(), "handoff-test"); err != nil {
		t.Fatalf("HandOver: %v", err)
	}
	// The compositor side holds its own duplicate now; closing our
	// copy must not sever the session.
	server.Close()

	endpoint := recorder.single(t)

	client.SetDeadline(time.Now().Add(testTimeout))
	if _, err := client.Write([]byte("ping")); err != nil {
		t.Fatalf("client write: %v", err)
	}
	if got := readEndpoint(t, endpoint, 4); string(got) != "ping" {
		t.Errorf("endpoint read %q, want %q", got, "ping")
	}

	if _, err := endpoint.Write([]byte("pong")); err != nil {
		t.Fatalf("endpoint write: %v", err)
	}
	reply := make([]byte, 4)
	if _, err := io.ReadFull(client, reply); err != nil {
		t.Fatalf("client read: %v", err)
	}
	if string(reply) != "pong" {
		t.Errorf("client read %q, want %q", reply, "pong")
	}
}

func TestHandOverReportsRejection(t *testing.T) {
	t.Parallel()

	recorder := &endpointRecorder{rejectWith: errors.New("session table full")}
	socketPath := controlSocketPath(t)
	startServer(t, socketPath, recorder)

	server, client, err := transport.SocketPair()
	if err != nil {
		t.Fatalf("creating socket pair: %v", err)
	}
	defer server.Close()
	defer client.Close()

	err = HandOver(socketPath, server.FD(), "rejected-client")
	if err == nil {
		t.Fatal("HandOver succeeded against a rejecting acceptor")
	}
	if !strings.Contains(err.Error(), "session table full") {
		t.Errorf("HandOver error %q does not carry the rejection reason", err)
	}
	if recorder.count() != 0 {
		t.Errorf("recorder kept %d endpoints after rejection, want 0", recorder.count())
	}
}

func TestHandOverRejectsInvalidDescriptor(t *testing.T) {
	t.Parallel()

	if err := HandOver("/nonexistent/control.sock", -1, "broken"); err == nil {
		t.Error("HandOver accepted a negative descriptor")
	}
}

func TestConnectEstablishesSession(t *testing.T) {
	t.Parallel()

	recorder := &endpointRecorder{}
	socketPath := controlSocketPath(t)
	startServer(t, socketPath, recorder)

	client, err := Connect(socketPath, "connect-test")
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(func() { client.Close() })

	endpoint := recorder.single(t)

	client.SetDeadline(time.Now().Add(testTimeout))
	if _, err := client.Write([]byte("hello")); err != nil {
		t.Fatalf("client write: %v", err)
	}
	if got := readEndpoint(t, endpoint, 5); string(got) != "hello" {
		t.Errorf("endpoint read %q, want %q", got, "hello")
	}
}

func TestConnectReportsDialFailure(t *testing.T) {
	t.Parallel()

	if _, err := Connect(filepath.Join(testutil.SocketDir(t), "absent.sock"), "nobody"); err == nil {
		t.Error("Connect succeeded against a missing control socket")
	}
}

func TestRequestWithoutDescriptor(t *testing.T) {
	t.Parallel()

	recorder := &endpointRecorder{}
	socketPath := controlSocketPath(t)
	startServer(t, socketPath, recorder)

	response := rawExchange(t, socketPath, encodeRequest(t, Request{Action: ActionAcceptConnection}), nil)
	if response.OK {
		t.Fatal("server accepted a request without a descriptor")
	}
	if !strings.Contains(response.Error, "no session descriptor") {
		t.Errorf("response error = %q, want a missing-descriptor message", response.Error)
	}
}

func TestRequestUnknownAction(t *testing.T) {
	t.Parallel()

	recorder := &endpointRecorder{}
	socketPath := controlSocketPath(t)
	startServer(t, socketPath, recorder)

	response := rawExchange(t, socketPath, encodeRequest(t, Request{Action: "self-destruct"}), nil)
	if response.OK {
		t.Fatal("server accepted an unknown action")
	}
	if !strings.Contains(response.Error, "unknown action") {
		t.Errorf("response error = %q, want an unknown-action message", response.Error)
	}
}

func TestRequestMalformedPayload(t *testing.T) {
	t.Parallel()

	recorder := &endpointRecorder{}
	socketPath := controlSocketPath(t)
	startServer(t, socketPath, recorder)

	response := rawExchange(t, socketPath, []byte{0xff, 0xff}, nil)
	if response.OK {
		t.Fatal("server accepted a malformed request")
	}
	if !strings.Contains(response.Error, "invalid request") {
		t.Errorf("response error = %q, want an invalid-request message", response.Error)
	}
}

func TestRequestWithMultipleDescriptors(t *testing.T) {
	t.Parallel()

	recorder := &endpointRecorder{}
	socketPath := controlSocketPath(t)
	startServer(t, socketPath, recorder)

	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		t.Fatalf("creating socket pair: %v", err)
	}
	defer unix.Close(fds[0])
	defer unix.Close(fds[1])

	payload := encodeRequest(t, Request{Action: ActionAcceptConnection})
	response := rawExchange(t, socketPath, payload, unix.UnixRights(fds[0], fds[1]))
	if response.OK {
		t.Fatal("server accepted a request with two descriptors")
	}
	if !strings.Contains(response.Error, "want exactly 1") {
		t.Errorf("response error = %q, want a descriptor-count message", response.Error)
	}
	if recorder.count() != 0 {
		t.Errorf("recorder kept %d endpoints, want 0", recorder.count())
	}
}

func TestServeRemovesStaleSocketFile(t *testing.T) {
	t.Parallel()

	socketPath := controlSocketPath(t)
	if err := os.WriteFile(socketPath, nil, 0o600); err != nil {
		t.Fatalf("planting stale socket file: %v", err)
	}

	recorder := &endpointRecorder{}
	startServer(t, socketPath, recorder)

	client, err := Connect(socketPath, "after-stale")
	if err != nil {
		t.Fatalf("Connect after stale socket removal: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	recorder.single(t)
}

func TestServeStopsOnCancel(t *testing.T) {
	t.Parallel()

	socketPath := controlSocketPath(t)
	server := NewSocketServer(socketPath, &endpointRecorder{}, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- server.Serve(ctx) }()
	waitForControlSocket(t, socketPath)

	cancel()
	if err := testutil.RequireReceive(t, done, testTimeout, "Serve return"); err != nil {
		t.Fatalf("Serve returned %v after cancellation, want nil", err)
	}
	if _, err := os.Stat(socketPath); !os.IsNotExist(err) {
		t.Errorf("socket file still present after shutdown (stat error: %v)", err)
	}
}
