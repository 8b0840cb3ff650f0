// Copyright 2026 The Ember Authors
// SPDX-License-Identifier: Apache-2.0

package bridge

import (
	"errors"
	"fmt"
	"io"
	"log/slog"

	"golang.org/x/sys/unix"

	"github.com/ember-compositor/remoteinput/eventloop"
	"github.com/ember-compositor/remoteinput/lib/clock"
	"github.com/ember-compositor/remoteinput/lib/netutil"
	"github.com/ember-compositor/remoteinput/protocol"
	"github.com/ember-compositor/remoteinput/session"
	"github.com/ember-compositor/remoteinput/transport"
)

// readChunkSize is the per-read scratch buffer. One buffer serves the
// whole bridge since reads only happen on the loop goroutine.
const readChunkSize = 32 * 1024

// maxDrainPerReady bounds how many bytes one readiness callback drains
// from a session before yielding. Level-triggered epoll re-reports the
// leftover, so a flooding client costs latency for itself, not for the
// other sessions sharing the loop.
const maxDrainPerReady = 256 * 1024

// conn is the loop-side state of one session's connection: the
// protocol engine, the endpoint, and the delivery plumbing that feeds
// one into the other. Touched only from the loop goroutine.
type conn struct {
	sess     *session.Session
	endpoint transport.Endpoint
	engine   *protocol.Engine
	logger   *slog.Logger

	// fd is the endpoint's descriptor, or -1 when the endpoint has
	// none and a pump drives it instead.
	fd   int
	pump *eventloop.Pump

	// writeBuf holds server→client bytes that hit EAGAIN, flushed on
	// write-readiness. Only ever a handshake Accept or a close notice.
	writeBuf []byte

	handshakeTimer *clock.Timer
	closed         bool
}

// accept performs the handoff on the loop goroutine: subscribe the
// endpoint, register the session, start the handshake clock. On any
// failure the endpoint is left untouched for the broker to dispose of.
func (b *Bridge) accept(endpoint transport.Endpoint) error {
	c := &conn{endpoint: endpoint, fd: -1}
	c.engine = protocol.NewEngine(protocol.EngineConfig{
		Seat:    b.seat,
		Allowed: b.allowed,
		Keymap:  b.keymap,
		Send:    func(frame protocol.Frame) error { return b.send(c, frame) },
		Bound: func(clientName string, granted protocol.CapabilitySet) error {
			return b.bind(c, clientName, granted)
		},
	})

	if fileEndpoint, ok := endpoint.(transport.FileEndpoint); ok {
		c.fd = fileEndpoint.FD()
		err := b.loop.AddFD(c.fd, eventloop.Readable, func(ready eventloop.Readiness) {
			b.onReady(c, ready)
		})
		if err != nil {
			return fmt.Errorf("subscribing endpoint: %w", err)
		}
	}

	sess, err := b.registry.Register(endpoint, b.clock.Now())
	if err != nil {
		if c.fd >= 0 {
			b.loop.RemoveFD(c.fd)
		}
		return fmt.Errorf("registering session: %w", err)
	}
	c.sess = sess
	c.logger = b.logger.With("session_id", sess.ID.String(), "endpoint", endpoint.Describe())
	b.conns[sess.ID] = c

	if c.fd < 0 {
		c.pump = eventloop.NewPump(b.loop, endpoint,
			func(chunk []byte) { b.feed(c, chunk) },
			func(err error) { b.terminal(c, err) },
		)
		c.pump.Start()
	}

	if b.handshakeTimeout > 0 {
		c.handshakeTimer = b.clock.AfterFunc(b.handshakeTimeout, func() {
			// Fires off-loop; re-enter through the task queue. A dead
			// loop has no sessions left to expire.
			_ = b.loop.Post(func() { b.handshakeExpired(c) })
		})
	}

	c.logger.Info("session accepted", "sessions", b.registry.Len())
	return nil
}

// onReady handles a readiness report for a descriptor-backed session.
func (b *Bridge) onReady(c *conn, ready eventloop.Readiness) {
	if c.closed {
		return
	}
	if ready&eventloop.Writable != 0 {
		b.flush(c)
		if c.closed {
			return
		}
	}
	if ready&eventloop.Readable != 0 {
		b.drain(c)
		return
	}
	if ready&eventloop.Broken != 0 {
		// Not readable, so nothing is left to collect.
		b.close(c, "connection error")
	}
}

// drain reads what the kernel has buffered and feeds it to the
// engine, stopping at EAGAIN, at the per-wakeup budget, or when the
// session dies under it.
func (b *Bridge) drain(c *conn) {
	drained := 0
	for drained < maxDrainPerReady {
		n, err := c.endpoint.Read(b.readBuf)
		if n > 0 {
			drained += n
			if !b.feed(c, b.readBuf[:n]) {
				return
			}
		}
		if err != nil {
			switch {
			case errors.Is(err, unix.EAGAIN):
				return
			case errors.Is(err, io.EOF):
				b.close(c, "client disconnected")
			case netutil.IsExpectedCloseError(err):
				b.close(c, "connection closed")
			default:
				c.logger.Warn("read failed", "error", err)
				b.close(c, "read error")
			}
			return
		}
	}
}

// feed pushes received bytes through the engine and applies decoded
// events in wire order. Reports whether the session is still alive:
// false means it was torn down, and the caller must stop touching it.
func (b *Bridge) feed(c *conn, data []byte) bool {
	if c.closed {
		return false
	}

	events, err := c.engine.Feed(data)

	// Events decoded before a failure are still valid and are applied
	// first; order is preserved up to the exact point of failure.
	for _, event := range events {
		if applyErr := b.translator.Apply(c.sess, event); applyErr != nil {
			c.logger.Warn("protocol violation", "error", applyErr)
			b.close(c, "protocol violation")
			return false
		}
	}
	c.sess.State = c.engine.State()

	if err != nil {
		switch {
		case errors.Is(err, protocol.ErrClientClosed):
			c.logger.Info("client closed session", "detail", err.Error())
			b.close(c, "client closed")
		case errors.Is(err, protocol.ErrProtocolViolation):
			c.logger.Warn("protocol violation", "error", err)
			b.close(c, "protocol violation")
		default:
			c.logger.Warn("session failed", "error", err)
			b.close(c, "session failure")
		}
		return false
	}
	return true
}

// terminal handles the pump's final read error.
func (b *Bridge) terminal(c *conn, err error) {
	if c.closed {
		return
	}
	if errors.Is(err, io.EOF) || netutil.IsExpectedCloseError(err) {
		b.close(c, "client disconnected")
		return
	}
	c.logger.Warn("read failed", "error", err)
	b.close(c, "read error")
}

// send transmits a server→client frame, buffering whatever the socket
// will not take right now. Called by the engine from within Feed.
func (b *Bridge) send(c *conn, frame protocol.Frame) error {
	if len(c.writeBuf) > 0 {
		c.writeBuf = protocol.AppendFrame(c.writeBuf, frame)
		return nil
	}

	data := protocol.AppendFrame(nil, frame)
	n, err := c.endpoint.Write(data)
	if err != nil {
		if errors.Is(err, unix.EAGAIN) && c.fd >= 0 {
			c.writeBuf = append(c.writeBuf, data[n:]...)
			return b.loop.SetWriteInterest(c.fd, true)
		}
		return err
	}
	return nil
}

// flush retries the buffered server→client bytes on write-readiness.
func (b *Bridge) flush(c *conn) {
	if len(c.writeBuf) == 0 {
		if err := b.loop.SetWriteInterest(c.fd, false); err != nil {
			c.logger.Warn("clearing write interest failed", "error", err)
		}
		return
	}

	n, err := c.endpoint.Write(c.writeBuf)
	if n > 0 {
		remaining := copy(c.writeBuf, c.writeBuf[n:])
		c.writeBuf = c.writeBuf[:remaining]
	}
	if err != nil {
		if errors.Is(err, unix.EAGAIN) {
			return
		}
		c.logger.Warn("write failed", "error", err)
		b.close(c, "write error")
		return
	}
	if len(c.writeBuf) == 0 {
		if err := b.loop.SetWriteInterest(c.fd, false); err != nil {
			c.logger.Warn("clearing write interest failed", "error", err)
		}
	}
}

// bind runs when the handshake fixes the granted capability set,
// before the Accept frame goes out: allocate the session's synthetic
// devices and disarm the handshake clock.
func (b *Bridge) bind(c *conn, clientName string, granted protocol.CapabilitySet) error {
	devices := b.registry.AllocateDevices(c.sess.ID, granted)
	if err := c.sess.Bind(clientName, granted, devices); err != nil {
		return err
	}
	if c.handshakeTimer != nil {
		c.handshakeTimer.Stop()
		c.handshakeTimer = nil
	}
	c.logger.Info("session bound",
		"client_name", clientName,
		"capabilities", granted.String(),
	)
	return nil
}

// handshakeExpired fires on the loop when the handshake deadline
// passes. It may lose the race against binding or teardown; both make
// it a no-op.
func (b *Bridge) handshakeExpired(c *conn) {
	if c.closed || c.sess.State != protocol.StateHandshaking {
		return
	}
	c.logger.Warn("handshake timed out", "timeout", b.handshakeTimeout)
	b.close(c, "handshake timeout")
}

// close tears the session down through the registry, which runs
// forced release and then detach. Idempotent via the registry.
func (b *Bridge) close(c *conn, reason string) {
	b.registry.Close(c.sess.ID, reason)
}

// detach is the registry's OnDetach hook: disconnect the session from
// the loop and release the endpoint. Runs after forced release, so
// the synthesized events were injected while the devices still
// existed. The best-effort close notice tells a live client why it
// was cut off; a vanished client just fails the write, which is fine.
func (b *Bridge) detach(sess *session.Session, reason string) {
	c, ok := b.conns[sess.ID]
	if !ok {
		return
	}
	delete(b.conns, sess.ID)
	c.closed = true

	if c.handshakeTimer != nil {
		c.handshakeTimer.Stop()
		c.handshakeTimer = nil
	}

	c.engine.CloseLocal()

	if len(c.writeBuf) == 0 {
		frame := protocol.NewCloseFrame(reason)
		if _, err := c.endpoint.Write(protocol.AppendFrame(nil, frame)); err != nil &&
			!errors.Is(err, unix.EAGAIN) && !netutil.IsExpectedCloseError(err) {
			c.logger.Debug("close notice not delivered", "error", err)
		}
	}

	if c.fd >= 0 {
		b.loop.RemoveFD(c.fd)
	}
	if c.pump != nil {
		c.pump.Stop()
	}
	if err := c.endpoint.Close(); err != nil && !netutil.IsExpectedCloseError(err) {
		c.logger.Debug("endpoint close failed", "error", err)
	}

	c.logger.Info("session closed", "reason", reason, "sessions", b.registry.Len())
}
