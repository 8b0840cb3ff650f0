// Copyright 2026 The Ember Authors
// SPDX-License-Identifier: Apache-2.0

// Package integration_test exercises the full remote-input stack in
// one process, wired the way remoteinput-host wires it: a broker
// control socket handing connections to a bridge on a live event
// loop, sessions speaking the framed protocol, injections recorded by
// a memory pipeline. No external services are involved; everything
// runs on real sockets and the real clock.
package integration_test

import (
	"context"
	"io"
	"log/slog"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/ember-compositor/remoteinput/bridge"
	"github.com/ember-compositor/remoteinput/broker"
	"github.com/ember-compositor/remoteinput/eventloop"
	"github.com/ember-compositor/remoteinput/inject"
	"github.com/ember-compositor/remoteinput/lib/testutil"
	"github.com/ember-compositor/remoteinput/protocol"
)

const testTimeout = 5 * time.Second

// host is an in-process remoteinput-host: bridge, loop, control
// socket, and the pipeline recording what would reach the compositor.
type host struct {
	bridge     *bridge.Bridge
	pipeline   *inject.MemoryPipeline
	socketPath string
}

// startHost brings up the stack and tears it down with the test. The
// caller supplies only the bridge settings it cares about; loop,
// pipeline, and logger are filled in.
func startHost(t *testing.T, config bridge.Config) *host {
	t.Helper()

	loop, err := eventloop.New()
	if err != nil {
		t.Fatalf("creating event loop: %v", err)
	}

	pipeline := &inject.MemoryPipeline{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	config.Loop = loop
	config.Pipeline = pipeline
	config.Logger = logger

	b, err := bridge.New(config)
	if err != nil {
		loop.Close()
		t.Fatalf("creating bridge: %v", err)
	}

	loopResult := make(chan error, 1)
	go func() { loopResult <- loop.Run(context.Background()) }()

	socketPath := filepath.Join(testutil.SocketDir(t), "remote-input.sock")
	server := broker.NewSocketServer(socketPath, b, logger)
	serveCtx, stopServe := context.WithCancel(context.Background())
	serveResult := make(chan error, 1)
	go func() { serveResult <- server.Serve(serveCtx) }()

	t.Cleanup(func() {
		stopServe()
		if err := testutil.RequireReceive(t, serveResult, testTimeout, "control socket shutdown"); err != nil {
			t.Errorf("control socket: %v", err)
		}
		loop.Close()
		if err := testutil.RequireReceive(t, loopResult, testTimeout, "loop exit"); err != nil {
			t.Errorf("event loop: %v", err)
		}
	})

	waitForSocket(t, socketPath)
	return &host{bridge: b, pipeline: pipeline, socketPath: socketPath}
}

func waitForSocket(t *testing.T, socketPath string) {
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

// waitForSessions polls the bridge's session count.
func (h *host) waitForSessions(t *testing.T, want int) {
	t.Helper()
	deadline := time.Now().Add(testTimeout)
	for time.Now().Before(deadline) {
		if h.bridge.ActiveSessions() == want {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d active sessions, have %d", want, h.bridge.ActiveSessions())
}

// waitForInjections polls until at least want injections are recorded.
func (h *host) waitForInjections(t *testing.T, want int) {
	t.Helper()
	deadline := time.Now().Add(testTimeout)
	for time.Now().Before(deadline) {
		if h.pipeline.Len() >= want {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d injections, have %d", want, h.pipeline.Len())
}

// remoteClient is a client connected through the control socket, the
// full production path.
type remoteClient struct {
	t    *testing.T
	conn net.Conn
}

// connect hands a connection over the control socket and returns the
// client end.
func (h *host) connect(t *testing.T, name string) *remoteClient {
	t.Helper()
	conn, err := broker.Connect(h.socketPath, name)
	if err != nil {
		t.Fatalf("connecting through control socket: %v", err)
	}
	c := &remoteClient{t: t, conn: conn}
	t.Cleanup(c.close)
	return c
}

func (c *remoteClient) close() { c.conn.Close() }

func (c *remoteClient) writeFrame(frame protocol.Frame) {
	c.t.Helper()
	if err := protocol.WriteFrame(c.conn, frame); err != nil {
		c.t.Fatalf("writing frame 0x%02x: %v", frame.Type, err)
	}
}

func (c *remoteClient) send(events ...protocol.Event) {
	c.t.Helper()
	for _, event := range events {
		c.writeFrame(protocol.EncodeEvent(event))
	}
}

func (c *remoteClient) readFrame() protocol.Frame {
	c.t.Helper()
	if err := c.conn.SetReadDeadline(time.Now().Add(testTimeout)); err != nil {
		c.t.Fatalf("setting read deadline: %v", err)
	}
	frame, err := protocol.ReadFrame(c.conn)
	if err != nil {
		c.t.Fatalf("reading frame: %v", err)
	}
	return frame
}

// hello completes the handshake and returns the parsed Accept.
func (c *remoteClient) hello(name string, capabilities ...string) protocol.Accept {
	c.t.Helper()
	frame, err := protocol.NewHelloFrame(protocol.Hello{
		Name:         name,
		Version:      protocol.Version,
		Capabilities: capabilities,
	})
	if err != nil {
		c.t.Fatalf("encoding hello: %v", err)
	}
	c.writeFrame(frame)

	reply := c.readFrame()
	if reply.Type != protocol.FrameTypeAccept {
		c.t.Fatalf("handshake reply type = 0x%02x, want accept (0x%02x)",
			reply.Type, protocol.FrameTypeAccept)
	}
	accept, err := protocol.ParseAccept(reply.Payload)
	if err != nil {
		c.t.Fatalf("parsing accept: %v", err)
	}
	return accept
}

// expectClose reads frames until the close notice and asserts its
// reason.
func (c *remoteClient) expectClose(reason string) {
	c.t.Helper()
	frame := c.readFrame()
	if frame.Type != protocol.FrameTypeClose {
		c.t.Fatalf("frame type = 0x%02x, want close (0x%02x)", frame.Type, protocol.FrameTypeClose)
	}
	notice := protocol.ParseCloseNotice(frame.Payload)
	if notice.Reason != reason {
		c.t.Fatalf("close reason = %q, want %q", notice.Reason, reason)
	}
}
