// Copyright 2026 The Ember Authors
// SPDX-License-Identifier: Apache-2.0

package protocol

import (
	"fmt"

	"github.com/ember-compositor/remoteinput/lib/codec"
)

// Version is the protocol version this implementation speaks. A Hello
// carrying any other version is rejected.
const Version = 1

// MaxClientNameLength bounds the client name in runes. Longer names
// are truncated, not rejected: the name is informational, used only
// for logs and diagnostics.
const MaxClientNameLength = 128

// Hello is the client's opening handshake payload.
type Hello struct {
	// Name identifies the client for logs ("gnome-remote-desktop").
	Name string `cbor:"name"`

	// Version is the protocol version the client speaks.
	Version uint32 `cbor:"version"`

	// Capabilities lists the capability names the client requests.
	Capabilities []string `cbor:"capabilities"`
}

// Accept is the server's handshake response.
type Accept struct {
	// Seat is the compositor seat the session's devices attach to.
	Seat string `cbor:"seat"`

	// Capabilities lists the granted capability names: the
	// intersection of the request and the server's configuration.
	Capabilities []string `cbor:"capabilities"`

	// Keymap carries the seat's XKB keymap when the keyboard
	// capability was granted and the server has one configured.
	Keymap []byte `cbor:"keymap,omitempty"`

	// KeymapDigest is the lowercase hex BLAKE3 digest of Keymap,
	// letting clients skip recompiling a cached keymap.
	KeymapDigest string `cbor:"keymap_digest,omitempty"`
}

// CloseNotice is the payload of a Close frame.
type CloseNotice struct {
	// Reason is a human-readable close reason for logs.
	Reason string `cbor:"reason"`
}

// NewHelloFrame encodes a Hello as a wire frame.
func NewHelloFrame(hello Hello) (Frame, error) {
	payload, err := codec.Marshal(hello)
	if err != nil {
		return Frame{}, fmt.Errorf("encoding hello: %w", err)
	}
	return Frame{Type: FrameTypeHello, Payload: payload}, nil
}

// NewAcceptFrame encodes an Accept as a wire frame.
func NewAcceptFrame(accept Accept) (Frame, error) {
	payload, err := codec.Marshal(accept)
	if err != nil {
		return Frame{}, fmt.Errorf("encoding accept: %w", err)
	}
	return Frame{Type: FrameTypeAccept, Payload: payload}, nil
}

// NewCloseFrame encodes a CloseNotice as a wire frame. Encoding a
// plain string cannot fail, so this returns the frame directly; it is
// used on teardown paths that have no error channel left.
func NewCloseFrame(reason string) Frame {
	payload, err := codec.Marshal(CloseNotice{Reason: truncateName(reason)})
	if err != nil {
		payload = nil
	}
	return Frame{Type: FrameTypeClose, Payload: payload}
}

// ParseHello decodes a Hello payload. The client name is truncated to
// MaxClientNameLength runes.
func ParseHello(payload []byte) (Hello, error) {
	var hello Hello
	if err := codec.Unmarshal(payload, &hello); err != nil {
		return Hello{}, fmt.Errorf("%w: malformed hello payload: %v", ErrProtocolViolation, err)
	}
	hello.Name = truncateName(hello.Name)
	return hello, nil
}

// ParseAccept decodes an Accept payload. Clients use this.
func ParseAccept(payload []byte) (Accept, error) {
	var accept Accept
	if err := codec.Unmarshal(payload, &accept); err != nil {
		return Accept{}, fmt.Errorf("%w: malformed accept payload: %v", ErrProtocolViolation, err)
	}
	return accept, nil
}

// ParseCloseNotice decodes a Close payload. A malformed close payload
// is not a violation worth acting on: the connection is ending either
// way, so the reason degrades to empty.
func ParseCloseNotice(payload []byte) CloseNotice {
	var notice CloseNotice
	if err := codec.Unmarshal(payload, &notice); err != nil {
		return CloseNotice{}
	}
	notice.Reason = truncateName(notice.Reason)
	return notice
}

func truncateName(name string) string {
	runes := []rune(name)
	if len(runes) <= MaxClientNameLength {
		return name
	}
	return string(runes[:MaxClientNameLength])
}
