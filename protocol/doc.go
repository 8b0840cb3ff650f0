// Copyright 2026 The Ember Authors
// SPDX-License-Identifier: Apache-2.0

// Package protocol implements the Ember remote-input wire protocol,
// version 1: the framing, the handshake, the event payloads, and the
// per-session protocol engine that turns a raw byte stream into
// validated input events.
//
// The package is organized around the decode path:
//
//   - frame.go: wire format (framed binary messages) and the
//     partial-read-tolerant FrameScanner
//   - capability.go: the keyboard/pointer/touch capability set and its
//     wire names
//   - handshake.go: CBOR payloads for the Hello/Accept/Close exchange
//   - events.go: fixed-layout binary event payloads and their
//     validation bounds
//   - engine.go: the per-session state machine (Handshaking →
//     CapabilitiesBound → Active → Closed)
//
// One Engine instance serves exactly one session and is driven from a
// single goroutine. Feeding bytes never blocks: incomplete frames are
// retained until more bytes arrive, and complete events come back in
// wire order. Every validation failure is a protocol violation that
// terminates the session; nothing is silently dropped.
package protocol
