// Copyright 2026 The Ember Authors
// SPDX-License-Identifier: Apache-2.0

// Package session holds the remote-input data model: one Session per
// accepted connection, the synthetic Device identities the compositor
// attributes injected events to, and the Registry that owns the set of
// active sessions.
//
// The package is pure bookkeeping. It performs no I/O, starts no
// goroutines, and takes no locks: every method is called exclusively
// from the compositor's event-loop goroutine, which is the
// serialization point for all input state. The bridge mutates protocol
// state and capability bindings; the translator mutates the pressed-key,
// pressed-button, and open-touch-point sets. Teardown synthesis and
// loop deregistration run through hooks the bridge installs on the
// Registry, so that Registry.Close leaves no dangling reference to a
// session's devices by the time it returns.
package session
