// Copyright 2026 The Ember Authors
// SPDX-License-Identifier: Apache-2.0

package inject

import (
	"time"

	"github.com/ember-compositor/remoteinput/session"
)

// Pipeline is the native input pipeline as the bridge sees it. Every
// call is tagged with the synthetic device it originates from and the
// injection timestamp, so the compositor can attribute input to a
// session and route it through its normal focus and grab logic.
//
// All methods are called from the event-loop goroutine only, and calls
// for one session arrive in the order the client sent them.
//
// Pointer and touch injections are grouped: the bridge calls Frame on
// the same device after each logical group, matching how hardware
// input arrives in batches terminated by a sync event. Keyboard
// injections carry no grouping.
type Pipeline interface {
	// KeyboardKey injects a key press or release. Code uses evdev
	// numbering. Repeats of an already-held key are injected as-is.
	KeyboardKey(device session.Device, when time.Time, code uint32, pressed bool)

	// PointerMotion injects a relative pointer move.
	PointerMotion(device session.Device, when time.Time, dx, dy float64)

	// PointerMotionAbsolute injects an absolute pointer position in the
	// session's logical coordinate space.
	PointerMotionAbsolute(device session.Device, when time.Time, x, y float64)

	// PointerButton injects a button press or release. Code uses evdev
	// numbering (BTN_LEFT and friends).
	PointerButton(device session.Device, when time.Time, code uint32, pressed bool)

	// PointerScroll injects smooth scrolling in logical pixels.
	PointerScroll(device session.Device, when time.Time, dx, dy float64)

	// PointerScrollDiscrete injects stepped scrolling in wheel detents.
	PointerScrollDiscrete(device session.Device, when time.Time, stepsX, stepsY int32)

	// TouchDown opens a touch point at a position.
	TouchDown(device session.Device, when time.Time, id uint32, x, y float64)

	// TouchMotion moves an open touch point.
	TouchMotion(device session.Device, when time.Time, id uint32, x, y float64)

	// TouchUp closes an open touch point.
	TouchUp(device session.Device, when time.Time, id uint32)

	// TouchCancel aborts one open touch point without a logical
	// touch-up: the gesture is abandoned, not completed.
	TouchCancel(device session.Device, when time.Time, id uint32)

	// Frame marks the end of an event group on a device.
	Frame(device session.Device, when time.Time)
}
