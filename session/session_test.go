// Copyright 2026 The Ember Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"testing"
	"time"

	"github.com/ember-compositor/remoteinput/protocol"
	"github.com/ember-compositor/remoteinput/transport"
)

// newTestSession registers a session against a throwaway registry and
// binds the given capabilities with freshly allocated devices.
func newTestSession(t *testing.T, granted protocol.CapabilitySet) (*Registry, *Session) {
	t.Helper()
	registry := NewRegistry(8)
	s := registerTestSession(t, registry)
	if !granted.IsEmpty() {
		devices := registry.AllocateDevices(s.ID, granted)
		if err := s.Bind("test-client", granted, devices); err != nil {
			t.Fatalf("Bind: %v", err)
		}
	}
	return registry, s
}

func registerTestSession(t *testing.T, registry *Registry) *Session {
	t.Helper()
	server, client, err := transport.SocketPair()
	if err != nil {
		t.Fatalf("SocketPair: %v", err)
	}
	t.Cleanup(func() {
		server.Close()
		client.Close()
	})
	s, err := registry.Register(server, time.Now())
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	return s
}

func TestBindFixesCapabilitiesOnce(t *testing.T) {
	t.Parallel()

	granted := protocol.NewCapabilitySet(protocol.CapabilityKeyboard, protocol.CapabilityTouch)
	registry, s := newTestSession(t, granted)

	if s.State != protocol.StateCapabilitiesBound {
		t.Errorf("state after bind = %s, want capabilities-bound", s.State)
	}
	if s.ClientName != "test-client" {
		t.Errorf("client name = %q", s.ClientName)
	}
	if s.Capabilities != granted {
		t.Errorf("capabilities = %s, want %s", s.Capabilities, granted)
	}

	// Second bind must fail: capabilities are immutable.
	devices := registry.AllocateDevices(s.ID, granted)
	if err := s.Bind("again", granted, devices); err == nil {
		t.Fatal("second Bind succeeded, want error")
	}
	if s.ClientName != "test-client" {
		t.Errorf("client name changed by failed rebind: %q", s.ClientName)
	}
}

func TestBindRequiresDevicePerCapability(t *testing.T) {
	t.Parallel()

	granted := protocol.NewCapabilitySet(protocol.CapabilityKeyboard, protocol.CapabilityPointer)
	registry := NewRegistry(8)
	s := registerTestSession(t, registry)

	// Allocate for keyboard only; pointer has no device.
	devices := registry.AllocateDevices(s.ID, protocol.NewCapabilitySet(protocol.CapabilityKeyboard))
	if err := s.Bind("client", granted, devices); err == nil {
		t.Fatal("Bind without a pointer device succeeded, want error")
	}
	if !s.Capabilities.IsEmpty() {
		t.Errorf("failed bind left capabilities = %s", s.Capabilities)
	}
}

func TestDeviceLookup(t *testing.T) {
	t.Parallel()

	granted := protocol.NewCapabilitySet(protocol.CapabilityKeyboard, protocol.CapabilityPointer)
	_, s := newTestSession(t, granted)

	keyboard, ok := s.Device(protocol.CapabilityKeyboard)
	if !ok {
		t.Fatal("no keyboard device")
	}
	if keyboard.Session != s.ID || keyboard.Capability != protocol.CapabilityKeyboard {
		t.Errorf("keyboard device = %+v", keyboard)
	}
	wantName := "remote/1/keyboard"
	if keyboard.Name != wantName {
		t.Errorf("device name = %q, want %q", keyboard.Name, wantName)
	}

	if _, ok := s.Device(protocol.CapabilityTouch); ok {
		t.Error("touch device exists for a session not granted touch")
	}

	devices := s.Devices()
	if len(devices) != 2 {
		t.Fatalf("Devices() returned %d devices, want 2", len(devices))
	}
	if devices[0].Capability != protocol.CapabilityKeyboard || devices[1].Capability != protocol.CapabilityPointer {
		t.Errorf("device order = %s, %s", devices[0].Capability, devices[1].Capability)
	}
}

func TestKeyBookkeepingIsExactSet(t *testing.T) {
	t.Parallel()

	_, s := newTestSession(t, protocol.NewCapabilitySet(protocol.CapabilityKeyboard))

	if !s.PressKey(30) {
		t.Error("first press of 30 reported no change")
	}
	if s.PressKey(30) {
		t.Error("repeat press of 30 reported a change")
	}
	s.PressKey(42)

	if got := s.PressedKeys(); len(got) != 2 || got[0] != 30 || got[1] != 42 {
		t.Errorf("PressedKeys = %v, want [30 42]", got)
	}

	if s.ReleaseKey(99) {
		t.Error("release of never-pressed 99 reported a change")
	}
	if !s.ReleaseKey(30) {
		t.Error("release of held 30 reported no change")
	}
	if got := s.PressedKeys(); len(got) != 1 || got[0] != 42 {
		t.Errorf("PressedKeys after release = %v, want [42]", got)
	}
}

func TestButtonBookkeepingIsExactSet(t *testing.T) {
	t.Parallel()

	_, s := newTestSession(t, protocol.NewCapabilitySet(protocol.CapabilityPointer))

	s.PressButton(0x110)
	s.PressButton(0x111)
	s.PressButton(0x110) // repeat

	if got := s.PressedButtons(); len(got) != 2 || got[0] != 0x110 || got[1] != 0x111 {
		t.Errorf("PressedButtons = %v, want [272 273]", got)
	}

	s.ReleaseButton(0x110)
	s.ReleaseButton(0x110) // double release
	if got := s.PressedButtons(); len(got) != 1 || got[0] != 0x111 {
		t.Errorf("PressedButtons after release = %v, want [273]", got)
	}
}

func TestTouchSequenceInvariants(t *testing.T) {
	t.Parallel()

	_, s := newTestSession(t, protocol.NewCapabilitySet(protocol.CapabilityTouch))

	if err := s.OpenTouch(1, 10, 10); err != nil {
		t.Fatalf("OpenTouch: %v", err)
	}
	if err := s.OpenTouch(1, 20, 20); err == nil {
		t.Fatal("duplicate OpenTouch succeeded, want error")
	}
	if err := s.MoveTouch(2, 5, 5); err == nil {
		t.Fatal("MoveTouch for unknown id succeeded, want error")
	}
	if err := s.CloseTouch(2); err == nil {
		t.Fatal("CloseTouch for unknown id succeeded, want error")
	}

	if err := s.MoveTouch(1, 15, 25); err != nil {
		t.Fatalf("MoveTouch: %v", err)
	}
	if err := s.CloseTouch(1); err != nil {
		t.Fatalf("CloseTouch: %v", err)
	}
	if s.TouchPointCount() != 0 {
		t.Errorf("touch points after close = %d, want 0", s.TouchPointCount())
	}

	// Reopening a closed id is legal.
	if err := s.OpenTouch(1, 1, 1); err != nil {
		t.Fatalf("reopening closed id: %v", err)
	}
}

func TestClearTouchesReturnsSortedIDs(t *testing.T) {
	t.Parallel()

	_, s := newTestSession(t, protocol.NewCapabilitySet(protocol.CapabilityTouch))

	for _, id := range []uint32{7, 1, 3} {
		if err := s.OpenTouch(id, float64(id), float64(id)); err != nil {
			t.Fatalf("OpenTouch(%d): %v", id, err)
		}
	}

	ids := s.ClearTouches()
	if len(ids) != 3 || ids[0] != 1 || ids[1] != 3 || ids[2] != 7 {
		t.Errorf("ClearTouches = %v, want [1 3 7]", ids)
	}
	if s.TouchPointCount() != 0 {
		t.Errorf("touch points after clear = %d, want 0", s.TouchPointCount())
	}
	if got := s.ClearTouches(); got != nil {
		t.Errorf("second ClearTouches = %v, want nil", got)
	}
}

func TestHeldInputCount(t *testing.T) {
	t.Parallel()

	all := protocol.NewCapabilitySet(protocol.CapabilityKeyboard, protocol.CapabilityPointer, protocol.CapabilityTouch)
	_, s := newTestSession(t, all)

	if s.HeldInputCount() != 0 {
		t.Errorf("fresh session holds %d inputs", s.HeldInputCount())
	}

	s.PressKey(30)
	s.PressButton(0x110)
	s.OpenTouch(4, 0, 0)
	s.OpenTouch(5, 0, 0)

	if got := s.HeldInputCount(); got != 4 {
		t.Errorf("HeldInputCount = %d, want 4", got)
	}
}
