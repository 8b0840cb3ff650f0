// Copyright 2026 The Ember Authors
// SPDX-License-Identifier: Apache-2.0

// Package broker exposes the control-plane surfaces through which a
// session broker hands remote-input connections to the compositor.
//
// The compositor never dials out and never authenticates remote peers;
// a privileged broker (a remote-desktop portal, a WebRTC signaling
// daemon) owns connection establishment and vetting, then transfers
// exclusive ownership of each connected socket here. Two surfaces
// carry the handoff:
//
//   - SocketServer: a Unix control socket accepting one CBOR request
//     per connection, the session's descriptor attached via
//     SCM_RIGHTS.
//   - DBusService: the org.ember.RemoteInput session-bus object, for
//     portal-style brokers that already speak D-Bus.
//
// Both wrap the received descriptor in a transport.SocketEndpoint and
// call the acceptor. After a successful handoff the broker must not
// touch its copy of the descriptor again; on failure the requester is
// told why and nothing was created.
package broker
