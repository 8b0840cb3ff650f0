// Copyright 2026 The Ember Authors
// SPDX-License-Identifier: Apache-2.0

package protocol

import (
	"errors"
	"fmt"

	"github.com/ember-compositor/remoteinput/lib/keymap"
)

// State is a session's protocol state. Transitions only move forward:
// Handshaking → CapabilitiesBound → Active → Closed, and Closed is
// terminal.
type State uint8

const (
	// StateHandshaking: connection accepted, no valid Hello yet.
	StateHandshaking State = iota

	// StateCapabilitiesBound: Hello validated, the granted capability
	// set fixed, and the Accept sent. Capabilities never change after
	// this point.
	StateCapabilitiesBound

	// StateActive: the first event frame after negotiation has
	// arrived; the event stream is flowing.
	StateActive

	// StateClosed: terminal. Further input is ignored.
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateHandshaking:
		return "handshaking"
	case StateCapabilitiesBound:
		return "capabilities-bound"
	case StateActive:
		return "active"
	case StateClosed:
		return "closed"
	}
	return fmt.Sprintf("state(%d)", uint8(s))
}

// ErrClientClosed reports that the client ended the session with an
// orderly Close frame. Not a violation; the bridge tears the session
// down with a clean reason.
var ErrClientClosed = errors.New("client closed session")

// EngineConfig configures an Engine.
type EngineConfig struct {
	// Seat is the seat name advertised in the Accept frame.
	Seat string

	// Allowed is the capability set the server is willing to grant.
	Allowed CapabilitySet

	// Keymap, when non-nil, is sent in the Accept frame to sessions
	// granted the keyboard capability.
	Keymap *keymap.Keymap

	// Send transmits a server→client frame. Required. The engine
	// calls it only from within Feed, so it runs on the session's
	// loop. A Send failure aborts the handshake.
	Send func(Frame) error

	// Bound, when non-nil, runs after capability negotiation fixes
	// the granted set and before the Accept frame is sent. The bridge
	// uses it to create the session's synthetic devices. An error
	// aborts the session.
	Bound func(clientName string, granted CapabilitySet) error
}

// Engine is the per-session protocol state machine. It consumes raw
// bytes in whatever chunks the transport delivers, produces decoded
// events in wire order, and enforces the handshake, capability
// gating, and value validation. One Engine serves one session and is
// driven from a single goroutine.
type Engine struct {
	config  EngineConfig
	state   State
	granted CapabilitySet

	clientName string
	scanner    FrameScanner
}

// NewEngine returns an Engine in StateHandshaking.
func NewEngine(config EngineConfig) *Engine {
	if config.Send == nil {
		panic("protocol: EngineConfig.Send is required")
	}
	return &Engine{config: config, state: StateHandshaking}
}

// State returns the current protocol state.
func (e *Engine) State() State { return e.state }

// ClientName returns the name from the client's Hello, truncated to
// MaxClientNameLength runes. Empty before the handshake.
func (e *Engine) ClientName() string { return e.clientName }

// Granted returns the negotiated capability set. Empty before the
// handshake; immutable afterwards.
func (e *Engine) Granted() CapabilitySet { return e.granted }

// CloseLocal moves the engine to StateClosed. Idempotent. The bridge
// calls it during session teardown; a readiness notification already
// in flight may still Feed afterwards and is ignored.
func (e *Engine) CloseLocal() { e.state = StateClosed }

// Feed consumes newly received bytes and returns the events decoded
// from them, in wire order. Bytes that do not complete a frame are
// retained for the next Feed.
//
// A non-nil error ends the session. Events returned alongside an
// error were decoded and validated before the failure and must still
// be applied, preserving order up to the point of failure. The error
// is ErrClientClosed for an orderly client Close, wraps
// ErrProtocolViolation for anything malformed, and is a transport
// error when sending the Accept failed.
func (e *Engine) Feed(data []byte) ([]Event, error) {
	if e.state == StateClosed {
		return nil, nil
	}

	e.scanner.Feed(data)

	var events []Event
	for {
		frame, ok, err := e.scanner.Next()
		if err != nil {
			return events, err
		}
		if !ok {
			return events, nil
		}

		switch frame.Type {
		case FrameTypeHello:
			if err := e.handleHello(frame.Payload); err != nil {
				return events, err
			}

		case FrameTypeAccept:
			return events, fmt.Errorf("%w: accept frame sent by client", ErrProtocolViolation)

		case FrameTypeClose:
			notice := ParseCloseNotice(frame.Payload)
			if notice.Reason == "" {
				return events, ErrClientClosed
			}
			return events, fmt.Errorf("%w: %s", ErrClientClosed, notice.Reason)

		default:
			if e.state == StateHandshaking {
				return events, fmt.Errorf("%w: event frame 0x%02x before handshake completion",
					ErrProtocolViolation, frame.Type)
			}
			// The first event frame after negotiation activates the
			// session.
			if e.state == StateCapabilitiesBound {
				e.state = StateActive
			}
			event, err := decodeEvent(frame.Type, frame.Payload)
			if err != nil {
				return events, err
			}
			if !e.granted.Has(event.Capability()) {
				return events, fmt.Errorf("%w: event requires the %s capability, session granted %s",
					ErrProtocolViolation, event.Capability(), e.granted)
			}
			events = append(events, event)
		}
	}
}

// handleHello validates the Hello, fixes the granted capability set,
// runs the Bound hook, and sends the Accept.
func (e *Engine) handleHello(payload []byte) error {
	if e.state != StateHandshaking {
		return fmt.Errorf("%w: duplicate hello in state %s", ErrProtocolViolation, e.state)
	}

	hello, err := ParseHello(payload)
	if err != nil {
		return err
	}
	if hello.Version != Version {
		return fmt.Errorf("%w: unsupported protocol version %d (want %d)",
			ErrProtocolViolation, hello.Version, Version)
	}

	requested, err := ParseCapabilitySet(hello.Capabilities)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrProtocolViolation, err)
	}
	if requested.IsEmpty() {
		return fmt.Errorf("%w: hello requests no capabilities", ErrProtocolViolation)
	}

	granted := requested.Intersect(e.config.Allowed)
	if granted.IsEmpty() {
		return fmt.Errorf("%w: no requested capability is available (requested %s, available %s)",
			ErrProtocolViolation, requested, e.config.Allowed)
	}

	e.clientName = hello.Name
	e.granted = granted
	e.state = StateCapabilitiesBound

	if e.config.Bound != nil {
		if err := e.config.Bound(e.clientName, granted); err != nil {
			return fmt.Errorf("binding session: %w", err)
		}
	}

	accept := Accept{
		Seat:         e.config.Seat,
		Capabilities: granted.Names(),
	}
	if granted.Has(CapabilityKeyboard) && e.config.Keymap != nil {
		accept.Keymap = e.config.Keymap.Bytes()
		accept.KeymapDigest = e.config.Keymap.Digest()
	}

	frame, err := NewAcceptFrame(accept)
	if err != nil {
		return err
	}
	if err := e.config.Send(frame); err != nil {
		return fmt.Errorf("sending accept: %w", err)
	}
	return nil
}
