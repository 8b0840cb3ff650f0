// Copyright 2026 The Ember Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/ember-compositor/remoteinput/protocol"
	"github.com/ember-compositor/remoteinput/transport"
)

// ErrTableFull reports that the session table is at capacity. It is
// the only failure a connection handoff can surface to the broker;
// the broker decides whether to retry later.
var ErrTableFull = errors.New("session table full")

// Registry owns the set of active sessions and allocates every session
// and device ID. It must only be used from the event-loop goroutine.
//
// Close runs the full teardown sequence synchronously: forced-release
// synthesis through OnRelease, then connection detach through
// OnDetach, then removal. When Close returns, nothing in the native
// pipeline references the session's devices anymore.
type Registry struct {
	// OnRelease synthesizes release events for every key, button, and
	// touch point the session still holds. Installed by the bridge
	// (backed by the translator) before the first session registers.
	// Nil skips synthesis, which is only acceptable in tests that do
	// not inject input.
	OnRelease func(*Session)

	// OnDetach disconnects the session from the event loop and closes
	// its endpoint. Installed by the bridge. Runs after OnRelease so
	// the devices outlive their forced releases. Nil skips detach.
	OnDetach func(s *Session, reason string)

	capacity      int
	sessions      map[ID]*Session
	nextSessionID uint64
	nextDeviceID  uint64
}

// NewRegistry returns a Registry that holds at most capacity
// concurrent sessions. Panics if capacity is not positive: a bridge
// that can never accept a session is a configuration bug, not a
// runtime condition.
func NewRegistry(capacity int) *Registry {
	if capacity < 1 {
		panic(fmt.Sprintf("session: registry capacity must be positive, got %d", capacity))
	}
	return &Registry{
		capacity: capacity,
		sessions: make(map[ID]*Session),
	}
}

// Register creates a new session in StateHandshaking owning the given
// endpoint. Fails with ErrTableFull when the table is at capacity; the
// endpoint is not consumed on failure and remains the caller's to
// close.
func (r *Registry) Register(endpoint transport.Endpoint, now time.Time) (*Session, error) {
	if len(r.sessions) >= r.capacity {
		return nil, fmt.Errorf("%w: %d active sessions", ErrTableFull, len(r.sessions))
	}

	r.nextSessionID++
	s := &Session{
		ID:       ID(r.nextSessionID),
		Endpoint: endpoint,
		Created:  now,
		State:    protocol.StateHandshaking,
	}
	r.sessions[s.ID] = s
	return s, nil
}

// AllocateDevices creates one synthetic device per granted capability,
// IDs drawn from the registry's monotonic device counter. The caller
// binds them to the session.
func (r *Registry) AllocateDevices(sessionID ID, granted protocol.CapabilitySet) []Device {
	var devices []Device
	for _, capability := range granted.Capabilities() {
		r.nextDeviceID++
		devices = append(devices, Device{
			ID:         DeviceID(r.nextDeviceID),
			Session:    sessionID,
			Capability: capability,
			Name:       fmt.Sprintf("remote/%d/%s", sessionID, capability),
		})
	}
	return devices
}

// Lookup returns the session with the given ID. The second result is
// false for unknown or already-closed IDs.
func (r *Registry) Lookup(id ID) (*Session, bool) {
	s, ok := r.sessions[id]
	return s, ok
}

// Len returns the number of active sessions.
func (r *Registry) Len() int { return len(r.sessions) }

// Sessions returns a snapshot of the active sessions in ID order, for
// diagnostics.
func (r *Registry) Sessions() []*Session {
	snapshot := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		snapshot = append(snapshot, s)
	}
	sort.Slice(snapshot, func(i, j int) bool { return snapshot[i].ID < snapshot[j].ID })
	return snapshot
}

// Close tears down a session: forced release, detach, removal, in that
// order, all before returning. Idempotent — closing an unknown or
// already-closed ID is a no-op, since races between loop-driven
// closure and explicit closure are expected. Reports whether this call
// performed the teardown.
func (r *Registry) Close(id ID, reason string) bool {
	s, ok := r.sessions[id]
	if !ok || s.State == protocol.StateClosed {
		return false
	}

	// Mark closed before the hooks run: a hook that re-enters Close
	// (a detach error path, for instance) must see the session as
	// already closed.
	s.State = protocol.StateClosed
	delete(r.sessions, id)

	if r.OnRelease != nil {
		r.OnRelease(s)
	}
	if r.OnDetach != nil {
		r.OnDetach(s, reason)
	}
	return true
}

// CloseAll closes every active session with the same reason and
// returns how many it closed. Used on bridge shutdown.
func (r *Registry) CloseAll(reason string) int {
	ids := make([]ID, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	closed := 0
	for _, id := range ids {
		if r.Close(id, reason) {
			closed++
		}
	}
	return closed
}
