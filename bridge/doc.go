// Copyright 2026 The Ember Authors
// SPDX-License-Identifier: Apache-2.0

// Package bridge assembles the remote input path: it accepts
// connection handoffs from the session broker, runs each session's
// protocol engine on the compositor event loop, translates decoded
// events into the native input pipeline, and tears sessions down with
// forced release so no remote key, button, or touch point stays held
// after its session dies.
//
// [Bridge.AcceptConnection] is the control-plane entry point, called
// by the broker with exclusive ownership of a connection endpoint. All
// other work happens on the event loop: descriptor-backed endpoints
// are registered for readiness and drained without blocking;
// endpoints without a descriptor (WebRTC data channels) are driven by
// an [eventloop.Pump]. Per-session failures — protocol violations,
// read errors, EOF — close that session only. The bridge writes a
// best-effort close notice to the client, synthesizes releases for
// everything the session still held, and removes it; other sessions
// and local input never notice.
package bridge
