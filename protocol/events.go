// Copyright 2026 The Ember Authors
// SPDX-License-Identifier: Apache-2.0

package protocol

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/ember-compositor/remoteinput/lib/evdev"
)

// MaxTouchID is the highest touch identifier a client may use.
// Identifiers above this are a protocol violation.
const MaxTouchID = 256

// Event is a decoded, validated input event. Concrete types are
// KeyboardKey, PointerMotion, PointerMotionAbsolute, Button,
// ScrollDelta, ScrollDiscrete, TouchDown, TouchMotion, TouchUp, and
// TouchCancel.
type Event interface {
	// Capability returns the capability a session must hold for this
	// event to be legal.
	Capability() Capability

	frameType() byte
}

// KeyboardKey is a key press or release. Code uses evdev numbering.
type KeyboardKey struct {
	Code    uint32
	Pressed bool
}

// PointerMotion is a relative pointer move.
type PointerMotion struct {
	DX, DY float64
}

// PointerMotionAbsolute is an absolute pointer position in the
// session's logical coordinate space.
type PointerMotionAbsolute struct {
	X, Y float64
}

// Button is a pointer button press or release. Code uses evdev
// numbering (BTN_LEFT and friends).
type Button struct {
	Code    uint32
	Pressed bool
}

// ScrollDelta is smooth scrolling in logical pixels.
type ScrollDelta struct {
	DX, DY float64
}

// ScrollDiscrete is stepped scrolling in wheel detents.
type ScrollDiscrete struct {
	StepsX, StepsY int32
}

// TouchDown opens a touch point at a position.
type TouchDown struct {
	ID   uint32
	X, Y float64
}

// TouchMotion moves an open touch point.
type TouchMotion struct {
	ID   uint32
	X, Y float64
}

// TouchUp closes an open touch point.
type TouchUp struct {
	ID uint32
}

// TouchCancel aborts every touch point the session has open.
type TouchCancel struct{}

func (KeyboardKey) Capability() Capability           { return CapabilityKeyboard }
func (PointerMotion) Capability() Capability         { return CapabilityPointer }
func (PointerMotionAbsolute) Capability() Capability { return CapabilityPointer }
func (Button) Capability() Capability                { return CapabilityPointer }
func (ScrollDelta) Capability() Capability           { return CapabilityPointer }
func (ScrollDiscrete) Capability() Capability        { return CapabilityPointer }
func (TouchDown) Capability() Capability             { return CapabilityTouch }
func (TouchMotion) Capability() Capability           { return CapabilityTouch }
func (TouchUp) Capability() Capability               { return CapabilityTouch }
func (TouchCancel) Capability() Capability           { return CapabilityTouch }

func (KeyboardKey) frameType() byte           { return FrameTypeKeyboardKey }
func (PointerMotion) frameType() byte         { return FrameTypePointerMotion }
func (PointerMotionAbsolute) frameType() byte { return FrameTypePointerMotionAbsolute }
func (Button) frameType() byte                { return FrameTypeButton }
func (ScrollDelta) frameType() byte           { return FrameTypeScrollDelta }
func (ScrollDiscrete) frameType() byte        { return FrameTypeScrollDiscrete }
func (TouchDown) frameType() byte             { return FrameTypeTouchDown }
func (TouchMotion) frameType() byte           { return FrameTypeTouchMotion }
func (TouchUp) frameType() byte               { return FrameTypeTouchUp }
func (TouchCancel) frameType() byte           { return FrameTypeTouchCancel }

// EncodeEvent encodes an event as a wire frame. The client side of the
// protocol uses this; the bridge only decodes.
func EncodeEvent(event Event) Frame {
	var payload []byte
	switch e := event.(type) {
	case KeyboardKey:
		payload = appendCodeState(nil, e.Code, e.Pressed)
	case PointerMotion:
		payload = appendFloat64(appendFloat64(nil, e.DX), e.DY)
	case PointerMotionAbsolute:
		payload = appendFloat64(appendFloat64(nil, e.X), e.Y)
	case Button:
		payload = appendCodeState(nil, e.Code, e.Pressed)
	case ScrollDelta:
		payload = appendFloat64(appendFloat64(nil, e.DX), e.DY)
	case ScrollDiscrete:
		payload = binary.BigEndian.AppendUint32(nil, uint32(e.StepsX))
		payload = binary.BigEndian.AppendUint32(payload, uint32(e.StepsY))
	case TouchDown:
		payload = binary.BigEndian.AppendUint32(nil, e.ID)
		payload = appendFloat64(appendFloat64(payload, e.X), e.Y)
	case TouchMotion:
		payload = binary.BigEndian.AppendUint32(nil, e.ID)
		payload = appendFloat64(appendFloat64(payload, e.X), e.Y)
	case TouchUp:
		payload = binary.BigEndian.AppendUint32(nil, e.ID)
	case TouchCancel:
		payload = nil
	default:
		panic(fmt.Sprintf("protocol: unknown event type %T", event))
	}
	return Frame{Type: event.frameType(), Payload: payload}
}

func appendCodeState(dst []byte, code uint32, pressed bool) []byte {
	dst = binary.BigEndian.AppendUint32(dst, code)
	if pressed {
		return append(dst, 1)
	}
	return append(dst, 0)
}

func appendFloat64(dst []byte, v float64) []byte {
	return binary.BigEndian.AppendUint64(dst, math.Float64bits(v))
}

// decodeEvent decodes and validates one event payload. Every failure
// wraps ErrProtocolViolation: wrong payload size, unknown state byte,
// out-of-range key or touch identifier, non-finite coordinate.
func decodeEvent(frameType byte, payload []byte) (Event, error) {
	switch frameType {
	case FrameTypeKeyboardKey:
		code, pressed, err := decodeCodeState("keyboard key", payload)
		if err != nil {
			return nil, err
		}
		return KeyboardKey{Code: code, Pressed: pressed}, nil

	case FrameTypePointerMotion:
		dx, dy, err := decodeFloatPair("pointer motion", payload)
		if err != nil {
			return nil, err
		}
		return PointerMotion{DX: dx, DY: dy}, nil

	case FrameTypePointerMotionAbsolute:
		x, y, err := decodeFloatPair("absolute pointer motion", payload)
		if err != nil {
			return nil, err
		}
		return PointerMotionAbsolute{X: x, Y: y}, nil

	case FrameTypeButton:
		code, pressed, err := decodeCodeState("button", payload)
		if err != nil {
			return nil, err
		}
		return Button{Code: code, Pressed: pressed}, nil

	case FrameTypeScrollDelta:
		dx, dy, err := decodeFloatPair("scroll delta", payload)
		if err != nil {
			return nil, err
		}
		return ScrollDelta{DX: dx, DY: dy}, nil

	case FrameTypeScrollDiscrete:
		if len(payload) != 8 {
			return nil, fmt.Errorf("%w: scroll discrete payload must be 8 bytes, got %d",
				ErrProtocolViolation, len(payload))
		}
		return ScrollDiscrete{
			StepsX: int32(binary.BigEndian.Uint32(payload[0:4])),
			StepsY: int32(binary.BigEndian.Uint32(payload[4:8])),
		}, nil

	case FrameTypeTouchDown:
		id, x, y, err := decodeTouchPoint("touch down", payload)
		if err != nil {
			return nil, err
		}
		return TouchDown{ID: id, X: x, Y: y}, nil

	case FrameTypeTouchMotion:
		id, x, y, err := decodeTouchPoint("touch motion", payload)
		if err != nil {
			return nil, err
		}
		return TouchMotion{ID: id, X: x, Y: y}, nil

	case FrameTypeTouchUp:
		if len(payload) != 4 {
			return nil, fmt.Errorf("%w: touch up payload must be 4 bytes, got %d",
				ErrProtocolViolation, len(payload))
		}
		id := binary.BigEndian.Uint32(payload)
		if id > MaxTouchID {
			return nil, fmt.Errorf("%w: touch id %d exceeds maximum %d",
				ErrProtocolViolation, id, MaxTouchID)
		}
		return TouchUp{ID: id}, nil

	case FrameTypeTouchCancel:
		if len(payload) != 0 {
			return nil, fmt.Errorf("%w: touch cancel payload must be empty, got %d bytes",
				ErrProtocolViolation, len(payload))
		}
		return TouchCancel{}, nil
	}

	return nil, fmt.Errorf("%w: unknown frame type 0x%02x", ErrProtocolViolation, frameType)
}

func decodeCodeState(what string, payload []byte) (uint32, bool, error) {
	if len(payload) != 5 {
		return 0, false, fmt.Errorf("%w: %s payload must be 5 bytes, got %d",
			ErrProtocolViolation, what, len(payload))
	}
	code := binary.BigEndian.Uint32(payload[0:4])
	if code > evdev.MaxCode {
		return 0, false, fmt.Errorf("%w: %s code %d exceeds maximum %d",
			ErrProtocolViolation, what, code, evdev.MaxCode)
	}
	switch payload[4] {
	case 0:
		return code, false, nil
	case 1:
		return code, true, nil
	}
	return 0, false, fmt.Errorf("%w: %s state byte must be 0 or 1, got %d",
		ErrProtocolViolation, what, payload[4])
}

func decodeFloatPair(what string, payload []byte) (float64, float64, error) {
	if len(payload) != 16 {
		return 0, 0, fmt.Errorf("%w: %s payload must be 16 bytes, got %d",
			ErrProtocolViolation, what, len(payload))
	}
	a := math.Float64frombits(binary.BigEndian.Uint64(payload[0:8]))
	b := math.Float64frombits(binary.BigEndian.Uint64(payload[8:16]))
	if !isFinite(a) || !isFinite(b) {
		return 0, 0, fmt.Errorf("%w: %s value is not finite", ErrProtocolViolation, what)
	}
	return a, b, nil
}

func decodeTouchPoint(what string, payload []byte) (uint32, float64, float64, error) {
	if len(payload) != 20 {
		return 0, 0, 0, fmt.Errorf("%w: %s payload must be 20 bytes, got %d",
			ErrProtocolViolation, what, len(payload))
	}
	id := binary.BigEndian.Uint32(payload[0:4])
	if id > MaxTouchID {
		return 0, 0, 0, fmt.Errorf("%w: touch id %d exceeds maximum %d",
			ErrProtocolViolation, id, MaxTouchID)
	}
	x := math.Float64frombits(binary.BigEndian.Uint64(payload[4:12]))
	y := math.Float64frombits(binary.BigEndian.Uint64(payload[12:20]))
	if !isFinite(x) || !isFinite(y) {
		return 0, 0, 0, fmt.Errorf("%w: %s position is not finite", ErrProtocolViolation, what)
	}
	return id, x, y, nil
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
