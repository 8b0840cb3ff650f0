// Copyright 2026 The Ember Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"fmt"
	"sort"
	"time"

	"github.com/ember-compositor/remoteinput/protocol"
	"github.com/ember-compositor/remoteinput/transport"
)

// ID identifies a session for the compositor's lifetime. IDs are
// allocated monotonically by the Registry and never reused, so a stale
// ID held anywhere downstream can never resolve to a different
// session's devices.
type ID uint64

func (id ID) String() string { return fmt.Sprintf("session-%d", uint64(id)) }

// DeviceID identifies a synthetic device. Like session IDs, device IDs
// are monotonic for the process lifetime and never reused.
type DeviceID uint64

// Device is a synthetic device identity: the per-session stand-in for
// a hardware device. Every event injected into the native pipeline is
// tagged with one, so downstream focus and grab logic can attribute
// events to the session and the bridge can revoke them on teardown
// without touching real hardware state.
type Device struct {
	ID         DeviceID
	Session    ID
	Capability protocol.Capability

	// Name is the device identity shown in diagnostics, in the form
	// "remote/<session-id>/<capability>".
	Name string
}

// TouchPoint is the last known position of an open touch point.
type TouchPoint struct {
	X, Y float64
}

// Session is the state of one remote-input session, from connection
// handoff to teardown.
//
// Exported fields are set once at registration or binding and read
// thereafter; the mutable input bookkeeping is behind methods so the
// touch-sequence invariants live in one place.
type Session struct {
	// ID is unique for the compositor's lifetime.
	ID ID

	// Endpoint is the exclusively owned connection endpoint. The
	// bridge is the only reader and writer.
	Endpoint transport.Endpoint

	// Created is when the connection was handed over.
	Created time.Time

	// State is the protocol state, advanced by the bridge as the
	// engine moves through the handshake and set to StateClosed by
	// Registry.Close.
	State protocol.State

	// ClientName is the name from the client's Hello. Empty until the
	// capabilities are bound.
	ClientName string

	// Capabilities is the granted capability set. Empty until bound,
	// immutable afterwards.
	Capabilities protocol.CapabilitySet

	devices        map[protocol.Capability]Device
	touchPoints    map[uint32]TouchPoint
	pressedKeys    map[uint32]struct{}
	pressedButtons map[uint32]struct{}
}

// Bind fixes the session's client name, capability set, and synthetic
// devices, and moves it to StateCapabilitiesBound. Capabilities never
// change after binding; a second Bind is an error.
func (s *Session) Bind(clientName string, granted protocol.CapabilitySet, devices []Device) error {
	if !s.Capabilities.IsEmpty() {
		return fmt.Errorf("session %d: capabilities already bound to %s", s.ID, s.Capabilities)
	}
	if granted.IsEmpty() {
		return fmt.Errorf("session %d: binding an empty capability set", s.ID)
	}

	byCapability := make(map[protocol.Capability]Device, len(devices))
	for _, device := range devices {
		byCapability[device.Capability] = device
	}
	for _, capability := range granted.Capabilities() {
		if _, ok := byCapability[capability]; !ok {
			return fmt.Errorf("session %d: no device for granted capability %s", s.ID, capability)
		}
	}

	s.ClientName = clientName
	s.Capabilities = granted
	s.devices = byCapability
	s.State = protocol.StateCapabilitiesBound
	return nil
}

// Device returns the synthetic device for a capability. The second
// result is false when the capability was not granted to this session.
func (s *Session) Device(capability protocol.Capability) (Device, bool) {
	device, ok := s.devices[capability]
	return device, ok
}

// Devices returns the session's synthetic devices in capability
// declaration order.
func (s *Session) Devices() []Device {
	var devices []Device
	for _, capability := range s.Capabilities.Capabilities() {
		if device, ok := s.devices[capability]; ok {
			devices = append(devices, device)
		}
	}
	return devices
}

// PressKey records a key as held. Reports whether the set changed:
// false means the key was already down (a repeat, not a violation).
func (s *Session) PressKey(code uint32) bool {
	if s.pressedKeys == nil {
		s.pressedKeys = make(map[uint32]struct{})
	}
	if _, down := s.pressedKeys[code]; down {
		return false
	}
	s.pressedKeys[code] = struct{}{}
	return true
}

// ReleaseKey removes a key from the held set. Reports whether the set
// changed: false means the key was not down, so no release is owed on
// teardown.
func (s *Session) ReleaseKey(code uint32) bool {
	if _, down := s.pressedKeys[code]; !down {
		return false
	}
	delete(s.pressedKeys, code)
	return true
}

// PressButton records a pointer button as held. Same semantics as
// PressKey.
func (s *Session) PressButton(code uint32) bool {
	if s.pressedButtons == nil {
		s.pressedButtons = make(map[uint32]struct{})
	}
	if _, down := s.pressedButtons[code]; down {
		return false
	}
	s.pressedButtons[code] = struct{}{}
	return true
}

// ReleaseButton removes a pointer button from the held set. Same
// semantics as ReleaseKey.
func (s *Session) ReleaseButton(code uint32) bool {
	if _, down := s.pressedButtons[code]; !down {
		return false
	}
	delete(s.pressedButtons, code)
	return true
}

// PressedKeys returns the held key codes in ascending order.
func (s *Session) PressedKeys() []uint32 { return sortedCodes(s.pressedKeys) }

// PressedButtons returns the held button codes in ascending order.
func (s *Session) PressedButtons() []uint32 { return sortedCodes(s.pressedButtons) }

// OpenTouch opens a touch point. A touch ID that is already open is a
// touch-sequence violation; the caller closes the session.
func (s *Session) OpenTouch(id uint32, x, y float64) error {
	if s.touchPoints == nil {
		s.touchPoints = make(map[uint32]TouchPoint)
	}
	if _, open := s.touchPoints[id]; open {
		return fmt.Errorf("touch id %d is already down", id)
	}
	s.touchPoints[id] = TouchPoint{X: x, Y: y}
	return nil
}

// MoveTouch updates an open touch point's position. An unknown touch
// ID is a touch-sequence violation.
func (s *Session) MoveTouch(id uint32, x, y float64) error {
	if _, open := s.touchPoints[id]; !open {
		return fmt.Errorf("touch id %d is not down", id)
	}
	s.touchPoints[id] = TouchPoint{X: x, Y: y}
	return nil
}

// CloseTouch removes an open touch point. An unknown touch ID is a
// touch-sequence violation.
func (s *Session) CloseTouch(id uint32) error {
	if _, open := s.touchPoints[id]; !open {
		return fmt.Errorf("touch id %d is not down", id)
	}
	delete(s.touchPoints, id)
	return nil
}

// ClearTouches removes every open touch point and returns their IDs in
// ascending order. Used by touch-cancel handling and teardown, where
// each returned ID gets a synthesized cancel.
func (s *Session) ClearTouches() []uint32 {
	ids := sortedCodes(s.touchPoints)
	for id := range s.touchPoints {
		delete(s.touchPoints, id)
	}
	return ids
}

// OpenTouchIDs returns the open touch point IDs in ascending order.
func (s *Session) OpenTouchIDs() []uint32 { return sortedCodes(s.touchPoints) }

// TouchPointCount returns the number of open touch points.
func (s *Session) TouchPointCount() int { return len(s.touchPoints) }

// HeldInputCount returns how many keys, buttons, and touch points the
// session currently holds. Zero means teardown owes no synthesis.
func (s *Session) HeldInputCount() int {
	return len(s.pressedKeys) + len(s.pressedButtons) + len(s.touchPoints)
}

// sortedCodes returns the keys of a map in ascending order. Sorting
// makes forced-release synthesis deterministic, which keeps logs and
// tests stable.
func sortedCodes[V any](m map[uint32]V) []uint32 {
	if len(m) == 0 {
		return nil
	}
	codes := make([]uint32, 0, len(m))
	for code := range m {
		codes = append(codes, code)
	}
	sort.Slice(codes, func(i, j int) bool { return codes[i] < codes[j] })
	return codes
}
