// Copyright 2026 The Ember Authors
// SPDX-License-Identifier: Apache-2.0

// Package evdev carries the subset of the Linux event-code vocabulary
// the remote-input protocol validates against. Key and button codes on
// the wire use the evdev numbering (input-event-codes.h), the same
// space the compositor's input pipeline consumes.
package evdev

import "fmt"

// MaxCode is the highest key or button code a remote client may send.
// Codes above this are a protocol violation. Matches KEY_MAX for the
// keyboard/button range.
const MaxCode = 0x2FF

// A few well-known codes, for tests and the soak client. The protocol
// does not interpret codes beyond range-checking them; the compositor's
// keymap gives them meaning.
const (
	KeyEsc       = 1
	KeyA         = 30
	KeyLeftShift = 42
	KeySpace     = 57

	ButtonLeft   = 0x110
	ButtonRight  = 0x111
	ButtonMiddle = 0x112
	ButtonSide   = 0x113
	ButtonExtra  = 0x114
)

// buttonRangeStart and buttonRangeEnd bound the BTN_* block of the
// evdev code space.
const (
	buttonRangeStart = 0x100
	buttonRangeEnd   = 0x1FF
)

// IsButton reports whether code falls in the evdev button block.
// Pointer button events are expected to use this range; keyboard key
// events normally do not, but the protocol does not enforce the split
// (keymaps may bind either).
func IsButton(code uint32) bool {
	return code >= buttonRangeStart && code <= buttonRangeEnd
}

// Name returns a human-readable label for a code, for logs. Codes
// without a known name format as "code-N".
func Name(code uint32) string {
	switch code {
	case KeyEsc:
		return "KEY_ESC"
	case KeyA:
		return "KEY_A"
	case KeyLeftShift:
		return "KEY_LEFTSHIFT"
	case KeySpace:
		return "KEY_SPACE"
	case ButtonLeft:
		return "BTN_LEFT"
	case ButtonRight:
		return "BTN_RIGHT"
	case ButtonMiddle:
		return "BTN_MIDDLE"
	case ButtonSide:
		return "BTN_SIDE"
	case ButtonExtra:
		return "BTN_EXTRA"
	}
	return fmt.Sprintf("code-%d", code)
}
