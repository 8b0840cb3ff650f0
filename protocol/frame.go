// Copyright 2026 The Ember Authors
// SPDX-License-Identifier: Apache-2.0

package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Frame type constants for the remote-input wire format. Each frame is
// a 5-byte header (1 byte type + 4 byte big-endian payload length)
// followed by the payload.
//
// Control frames (0x01-0x0F) carry CBOR payloads; event frames
// (0x10-0x1F) carry fixed-layout big-endian binary payloads.
const (
	// FrameTypeHello opens the handshake. Client→server only.
	FrameTypeHello byte = 0x01

	// FrameTypeAccept completes the handshake, carrying the granted
	// capability set and optionally the seat keymap. Server→client
	// only.
	FrameTypeAccept byte = 0x02

	// FrameTypeClose announces an orderly close with a reason. Either
	// direction; best-effort on abrupt teardown.
	FrameTypeClose byte = 0x03

	FrameTypeKeyboardKey           byte = 0x10
	FrameTypePointerMotion         byte = 0x11
	FrameTypePointerMotionAbsolute byte = 0x12
	FrameTypeButton                byte = 0x13
	FrameTypeScrollDelta           byte = 0x14
	FrameTypeScrollDiscrete        byte = 0x15
	FrameTypeTouchDown             byte = 0x16
	FrameTypeTouchMotion           byte = 0x17
	FrameTypeTouchUp               byte = 0x18
	FrameTypeTouchCancel           byte = 0x19
)

// frameHeaderLength is the fixed size of a frame header: 1 byte type
// + 4 bytes payload length.
const frameHeaderLength = 5

// maxPayloadLength is the maximum allowed payload size. Event payloads
// are at most 20 bytes; the limit leaves headroom for the keymap blob
// carried by Accept.
const maxPayloadLength = 1024 * 1024

// ErrProtocolViolation is the root of every session-fatal protocol
// error: malformed frames, handshake misuse, out-of-range values,
// capability violations, and touch-sequence violations all wrap it.
// Test with errors.Is.
var ErrProtocolViolation = errors.New("protocol violation")

// Frame is a single wire frame.
type Frame struct {
	Type    byte
	Payload []byte
}

// WriteFrame writes a framed message to w. The frame format is:
// [1 byte type] [4 bytes payload length, big-endian uint32] [payload].
func WriteFrame(w io.Writer, frame Frame) error {
	var header [frameHeaderLength]byte
	header[0] = frame.Type
	binary.BigEndian.PutUint32(header[1:5], uint32(len(frame.Payload)))
	if _, err := w.Write(header[:]); err != nil {
		return fmt.Errorf("write frame header: %w", err)
	}
	if len(frame.Payload) > 0 {
		if _, err := w.Write(frame.Payload); err != nil {
			return fmt.Errorf("write frame payload: %w", err)
		}
	}
	return nil
}

// AppendFrame appends the encoded frame to dst and returns the
// extended slice. Used by the bridge's per-session write buffer.
func AppendFrame(dst []byte, frame Frame) []byte {
	var header [frameHeaderLength]byte
	header[0] = frame.Type
	binary.BigEndian.PutUint32(header[1:5], uint32(len(frame.Payload)))
	dst = append(dst, header[:]...)
	return append(dst, frame.Payload...)
}

// ReadFrame reads one framed message from r, blocking until it is
// complete. The client side of the handshake and tests use this; the
// bridge itself never blocks on a read and uses FrameScanner instead.
func ReadFrame(r io.Reader) (Frame, error) {
	var header [frameHeaderLength]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return Frame{}, fmt.Errorf("read frame header: %w", err)
	}
	payloadLength := binary.BigEndian.Uint32(header[1:5])
	if payloadLength > maxPayloadLength {
		return Frame{}, fmt.Errorf("%w: payload length %d exceeds maximum %d",
			ErrProtocolViolation, payloadLength, maxPayloadLength)
	}
	payload := make([]byte, payloadLength)
	if payloadLength > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			return Frame{}, fmt.Errorf("read frame payload: %w", err)
		}
	}
	return Frame{Type: header[0], Payload: payload}, nil
}

// FrameScanner incrementally decodes frames from a byte stream that
// arrives in arbitrary chunks. Bytes that do not yet form a complete
// frame are retained until the next Feed. The zero value is ready to
// use.
type FrameScanner struct {
	buffer []byte
	offset int
}

// Feed appends newly received bytes to the scanner.
func (s *FrameScanner) Feed(data []byte) {
	if s.offset > 0 {
		// Compact the consumed prefix before growing.
		remaining := copy(s.buffer, s.buffer[s.offset:])
		s.buffer = s.buffer[:remaining]
		s.offset = 0
	}
	s.buffer = append(s.buffer, data...)
}

// Next returns the next complete frame, if any. The second result is
// false when the buffered bytes do not yet form a complete frame; that
// is not an error. A frame whose header claims an oversize payload is
// a protocol violation.
//
// The returned payload aliases the scanner's internal buffer and is
// valid only until the next call to Feed.
func (s *FrameScanner) Next() (Frame, bool, error) {
	remaining := s.buffer[s.offset:]
	if len(remaining) < frameHeaderLength {
		return Frame{}, false, nil
	}
	payloadLength := binary.BigEndian.Uint32(remaining[1:5])
	if payloadLength > maxPayloadLength {
		return Frame{}, false, fmt.Errorf("%w: payload length %d exceeds maximum %d",
			ErrProtocolViolation, payloadLength, maxPayloadLength)
	}
	frameLength := frameHeaderLength + int(payloadLength)
	if len(remaining) < frameLength {
		return Frame{}, false, nil
	}
	s.offset += frameLength
	return Frame{Type: remaining[0], Payload: remaining[frameHeaderLength:frameLength]}, true, nil
}

// Buffered returns the number of retained bytes that do not yet form a
// complete frame (plus any frames not yet scanned).
func (s *FrameScanner) Buffered() int {
	return len(s.buffer) - s.offset
}
