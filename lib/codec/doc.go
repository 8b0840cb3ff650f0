// Copyright 2026 The Ember Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec provides the remote-input module's standard CBOR
// encoding configuration.
//
// The module uses two serialization shapes with a clear boundary:
//
//   - CBOR for structured control messages: handshake payloads
//     (Hello, Accept, Close) and the broker control-socket
//     request/response envelopes.
//   - Fixed big-endian binary for event payloads, which are hot-path
//     and have rigid shapes (see package protocol).
//
// This package provides the shared CBOR encoding and decoding modes so
// that every package encodes identically without duplicating
// configuration. The encoder uses Core Deterministic Encoding
// (RFC 8949 §4.2): sorted map keys, smallest integer encoding, no
// indefinite-length items. Same logical data always produces identical
// bytes.
//
// For buffer-oriented operations (frame payloads):
//
//	data, err := codec.Marshal(value)
//	err = codec.Unmarshal(data, &value)
//
// For stream-oriented operations (the broker control socket):
//
//	encoder := codec.NewEncoder(conn)
//	decoder := codec.NewDecoder(conn)
//
// Control-message types use `cbor` struct tags exclusively; nothing in
// this module serializes the same type as both CBOR and JSON.
package codec
