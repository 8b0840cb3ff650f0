// Copyright 2026 The Ember Authors
// SPDX-License-Identifier: Apache-2.0

package inject

import (
	"fmt"

	"github.com/ember-compositor/remoteinput/lib/clock"
	"github.com/ember-compositor/remoteinput/protocol"
	"github.com/ember-compositor/remoteinput/session"
)

// Translator turns decoded protocol events into Pipeline calls and
// keeps each session's input bookkeeping current. One Translator
// serves every session; all per-session state lives on the Session.
//
// Injection shapes follow hardware input: pointer and touch events are
// each closed with a Frame on their device, keyboard events are not.
// Synthesized releases from ReleaseAll use the same shapes, so the
// pipeline cannot tell a forced release from a client-sent one.
type Translator struct {
	pipeline Pipeline
	clock    clock.Clock
}

// NewTranslator returns a Translator injecting into pipeline, stamping
// events with clk (nil clk means the real clock). Panics if pipeline is
// nil.
func NewTranslator(pipeline Pipeline, clk clock.Clock) *Translator {
	if pipeline == nil {
		panic("inject: pipeline is required")
	}
	if clk == nil {
		clk = clock.Real()
	}
	return &Translator{pipeline: pipeline, clock: clk}
}

// Apply injects one event for the session, updating the session's
// pressed-key, pressed-button, and touch-point bookkeeping first.
//
// Key and button repeats (press of a held code, release of an idle
// one) leave the bookkeeping unchanged but are still injected: the
// client is authoritative for its own stream, and the pipeline's
// downstream consumers handle repeats the same way they handle
// hardware key repeat. Touch-sequence violations (duplicate down,
// motion or up for an unknown id) are errors wrapping
// protocol.ErrProtocolViolation; nothing is injected for a rejected
// event.
func (t *Translator) Apply(s *session.Session, event protocol.Event) error {
	device, ok := s.Device(event.Capability())
	if !ok {
		return fmt.Errorf("%w: event requires the %s capability, session granted %s",
			protocol.ErrProtocolViolation, event.Capability(), s.Capabilities)
	}
	now := t.clock.Now()

	switch e := event.(type) {
	case protocol.KeyboardKey:
		if e.Pressed {
			s.PressKey(e.Code)
		} else {
			s.ReleaseKey(e.Code)
		}
		t.pipeline.KeyboardKey(device, now, e.Code, e.Pressed)

	case protocol.PointerMotion:
		t.pipeline.PointerMotion(device, now, e.DX, e.DY)
		t.pipeline.Frame(device, now)

	case protocol.PointerMotionAbsolute:
		t.pipeline.PointerMotionAbsolute(device, now, e.X, e.Y)
		t.pipeline.Frame(device, now)

	case protocol.Button:
		if e.Pressed {
			s.PressButton(e.Code)
		} else {
			s.ReleaseButton(e.Code)
		}
		t.pipeline.PointerButton(device, now, e.Code, e.Pressed)
		t.pipeline.Frame(device, now)

	case protocol.ScrollDelta:
		t.pipeline.PointerScroll(device, now, e.DX, e.DY)
		t.pipeline.Frame(device, now)

	case protocol.ScrollDiscrete:
		t.pipeline.PointerScrollDiscrete(device, now, e.StepsX, e.StepsY)
		t.pipeline.Frame(device, now)

	case protocol.TouchDown:
		if err := s.OpenTouch(e.ID, e.X, e.Y); err != nil {
			return fmt.Errorf("%w: %s", protocol.ErrProtocolViolation, err)
		}
		t.pipeline.TouchDown(device, now, e.ID, e.X, e.Y)
		t.pipeline.Frame(device, now)

	case protocol.TouchMotion:
		if err := s.MoveTouch(e.ID, e.X, e.Y); err != nil {
			return fmt.Errorf("%w: %s", protocol.ErrProtocolViolation, err)
		}
		t.pipeline.TouchMotion(device, now, e.ID, e.X, e.Y)
		t.pipeline.Frame(device, now)

	case protocol.TouchUp:
		if err := s.CloseTouch(e.ID); err != nil {
			return fmt.Errorf("%w: %s", protocol.ErrProtocolViolation, err)
		}
		t.pipeline.TouchUp(device, now, e.ID)
		t.pipeline.Frame(device, now)

	case protocol.TouchCancel:
		for _, id := range s.ClearTouches() {
			t.pipeline.TouchCancel(device, now, id)
		}
		t.pipeline.Frame(device, now)

	default:
		return fmt.Errorf("inject: unhandled event type %T", event)
	}
	return nil
}

// ReleaseAll synthesizes a release for every key, button, and touch
// point the session still holds and clears the bookkeeping. Codes are
// released in ascending order so teardown is deterministic. A session
// holding nothing injects nothing, which makes repeated teardown
// naturally idempotent.
func (t *Translator) ReleaseAll(s *session.Session) {
	now := t.clock.Now()

	if keyboard, ok := s.Device(protocol.CapabilityKeyboard); ok {
		for _, code := range s.PressedKeys() {
			s.ReleaseKey(code)
			t.pipeline.KeyboardKey(keyboard, now, code, false)
		}
	}

	if pointer, ok := s.Device(protocol.CapabilityPointer); ok {
		for _, code := range s.PressedButtons() {
			s.ReleaseButton(code)
			t.pipeline.PointerButton(pointer, now, code, false)
			t.pipeline.Frame(pointer, now)
		}
	}

	if touch, ok := s.Device(protocol.CapabilityTouch); ok {
		ids := s.ClearTouches()
		for _, id := range ids {
			t.pipeline.TouchCancel(touch, now, id)
		}
		if len(ids) > 0 {
			t.pipeline.Frame(touch, now)
		}
	}
}
