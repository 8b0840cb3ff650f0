// Copyright 2026 The Ember Authors
// SPDX-License-Identifier: Apache-2.0

// Package transport provides the connection-endpoint abstraction the
// remote-input bridge consumes, and the adapters that produce
// endpoints from the two delivery paths a session broker uses.
//
// An [Endpoint] is an exclusively owned, bidirectional byte stream:
// once handed to the bridge, nothing else reads, writes, or closes it.
// Endpoints backed by an OS file descriptor additionally implement
// [FileEndpoint], which lets the event loop register them directly for
// readiness notifications; everything else is driven through a reader
// goroutine (eventloop.Pump).
//
// [SocketEndpoint] is the production path: the broker creates a
// connected socket pair, keeps one end, and hands the other end's file
// descriptor to the compositor over the control plane. [SocketPair]
// creates such pairs; it is also the test harness primitive.
//
// [DataChannelEndpoint] adapts a detached pion/webrtc data channel, for
// brokers that tunnel remote-desktop sessions over WebRTC instead of a
// local socket pair. [InputChannelReceiver] watches a PeerConnection
// for input-labeled data channels and hands each one to the bridge as
// it opens.
package transport
