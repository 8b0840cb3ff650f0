// Copyright 2026 The Ember Authors
// SPDX-License-Identifier: Apache-2.0

package bridge

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ember-compositor/remoteinput/eventloop"
	"github.com/ember-compositor/remoteinput/inject"
	"github.com/ember-compositor/remoteinput/lib/clock"
	"github.com/ember-compositor/remoteinput/lib/keymap"
	"github.com/ember-compositor/remoteinput/protocol"
	"github.com/ember-compositor/remoteinput/session"
	"github.com/ember-compositor/remoteinput/transport"
)

// DefaultSeat is the seat name advertised to clients when Config.Seat
// is empty.
const DefaultSeat = "seat0"

// DefaultMaxSessions is the session-table capacity when
// Config.MaxSessions is not positive.
const DefaultMaxSessions = 8

// Config configures a Bridge.
type Config struct {
	// Loop is the compositor event loop the bridge runs on. Required.
	Loop *eventloop.Loop

	// Pipeline is the native input pipeline translated events are
	// injected into. Required.
	Pipeline inject.Pipeline

	// Logger receives structured log output. Nil means slog.Default().
	// Session lifecycle is logged at Info, per-session failures at
	// Warn.
	Logger *slog.Logger

	// Clock stamps injected events and arms the handshake deadline.
	// Nil means the real clock.
	Clock clock.Clock

	// Seat is the seat name advertised in the Accept frame. Empty
	// means DefaultSeat.
	Seat string

	// Allowed is the capability set offered to clients. Empty means
	// all capabilities.
	Allowed protocol.CapabilitySet

	// Keymap, when non-nil, is sent to sessions granted the keyboard
	// capability during the handshake.
	Keymap *keymap.Keymap

	// MaxSessions caps concurrent sessions. Not positive means
	// DefaultMaxSessions.
	MaxSessions int

	// HandshakeTimeout closes sessions that have not completed the
	// handshake within the duration. Zero disables the timeout: a
	// stalled handshake then occupies its slot until the connection
	// itself dies.
	HandshakeTimeout time.Duration
}

// Bridge owns every active remote-input session. All mutable state is
// confined to the event-loop goroutine; the exported methods are the
// only cross-goroutine surface.
type Bridge struct {
	loop             *eventloop.Loop
	registry         *session.Registry
	translator       *inject.Translator
	clock            clock.Clock
	logger           *slog.Logger
	seat             string
	allowed          protocol.CapabilitySet
	keymap           *keymap.Keymap
	handshakeTimeout time.Duration

	// Loop-goroutine state.
	conns   map[session.ID]*conn
	readBuf []byte
}

// New wires a Bridge to its loop and pipeline. The registry's teardown
// hooks are installed here, so every session close — loop-driven or
// explicit — runs forced release and detach in order.
func New(config Config) (*Bridge, error) {
	if config.Loop == nil {
		return nil, errors.New("bridge: Config.Loop is required")
	}
	if config.Pipeline == nil {
		return nil, errors.New("bridge: Config.Pipeline is required")
	}

	clk := config.Clock
	if clk == nil {
		clk = clock.Real()
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	seat := config.Seat
	if seat == "" {
		seat = DefaultSeat
	}
	allowed := config.Allowed
	if allowed.IsEmpty() {
		allowed = protocol.NewCapabilitySet(
			protocol.CapabilityKeyboard,
			protocol.CapabilityPointer,
			protocol.CapabilityTouch,
		)
	}
	maxSessions := config.MaxSessions
	if maxSessions <= 0 {
		maxSessions = DefaultMaxSessions
	}

	b := &Bridge{
		loop:             config.Loop,
		translator:       inject.NewTranslator(config.Pipeline, clk),
		clock:            clk,
		logger:           logger,
		seat:             seat,
		allowed:          allowed,
		keymap:           config.Keymap,
		handshakeTimeout: config.HandshakeTimeout,
		conns:            make(map[session.ID]*conn),
		readBuf:          make([]byte, readChunkSize),
	}

	b.registry = session.NewRegistry(maxSessions)
	b.registry.OnRelease = func(s *session.Session) { b.translator.ReleaseAll(s) }
	b.registry.OnDetach = b.detach
	return b, nil
}

// AcceptConnection hands exclusive ownership of endpoint to the
// bridge. Called by the session broker, at most once per remote
// session, from any goroutine except the loop's own. Returns nil once
// the session is registered in Handshaking state and its endpoint is
// subscribed for readiness; the error wraps session.ErrTableFull when
// the table is at capacity. On failure the endpoint remains the
// caller's to close. The bridge never retries — a replacement session
// is a new handoff.
func (b *Bridge) AcceptConnection(endpoint transport.Endpoint) error {
	if endpoint == nil {
		return errors.New("bridge: nil endpoint")
	}

	result := make(chan error, 1)
	if err := b.loop.Post(func() { result <- b.accept(endpoint) }); err != nil {
		return fmt.Errorf("bridge stopped: %w", err)
	}

	select {
	case err := <-result:
		return err
	case <-b.loop.Done():
		// The loop may have run the handoff just before dying.
		select {
		case err := <-result:
			return err
		default:
			return fmt.Errorf("bridge stopped: %w", eventloop.ErrClosed)
		}
	}
}

// Shutdown closes every active session with the given reason and
// returns how many it closed. Safe from any goroutine except the
// loop's own; returns 0 if the loop is already gone.
func (b *Bridge) Shutdown(reason string) int {
	result := make(chan int, 1)
	if err := b.loop.Post(func() { result <- b.registry.CloseAll(reason) }); err != nil {
		return 0
	}
	select {
	case n := <-result:
		return n
	case <-b.loop.Done():
		select {
		case n := <-result:
			return n
		default:
			return 0
		}
	}
}

// ActiveSessions reports the number of live sessions. Safe from any
// goroutine except the loop's own.
func (b *Bridge) ActiveSessions() int {
	result := make(chan int, 1)
	if err := b.loop.Post(func() { result <- b.registry.Len() }); err != nil {
		return 0
	}
	select {
	case n := <-result:
		return n
	case <-b.loop.Done():
		select {
		case n := <-result:
			return n
		default:
			return 0
		}
	}
}
