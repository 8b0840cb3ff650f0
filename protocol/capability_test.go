// Copyright 2026 The Ember Authors
// SPDX-License-Identifier: Apache-2.0

package protocol

import (
	"testing"
)

func TestParseCapabilitySet(t *testing.T) {
	t.Parallel()

	set, err := ParseCapabilitySet([]string{"keyboard", "touch"})
	if err != nil {
		t.Fatalf("ParseCapabilitySet: %v", err)
	}
	if !set.Has(CapabilityKeyboard) || !set.Has(CapabilityTouch) {
		t.Errorf("set = %s, want keyboard+touch", set)
	}
	if set.Has(CapabilityPointer) {
		t.Error("set should not contain pointer")
	}
}

func TestParseCapabilitySetRejectsUnknown(t *testing.T) {
	t.Parallel()

	if _, err := ParseCapabilitySet([]string{"keyboard", "gamepad"}); err == nil {
		t.Fatal("expected error for unknown capability")
	}
}

func TestParseCapabilitySetRejectsDuplicate(t *testing.T) {
	t.Parallel()

	if _, err := ParseCapabilitySet([]string{"pointer", "pointer"}); err == nil {
		t.Fatal("expected error for duplicate capability")
	}
}

func TestCapabilitySetIntersect(t *testing.T) {
	t.Parallel()

	a := NewCapabilitySet(CapabilityKeyboard, CapabilityPointer)
	b := NewCapabilitySet(CapabilityPointer, CapabilityTouch)

	got := a.Intersect(b)
	if got != NewCapabilitySet(CapabilityPointer) {
		t.Errorf("intersection = %s, want pointer", got)
	}

	if !a.Intersect(0).IsEmpty() {
		t.Error("intersection with empty set should be empty")
	}
}

func TestCapabilitySetNamesRoundtrip(t *testing.T) {
	t.Parallel()

	set := NewCapabilitySet(CapabilityTouch, CapabilityKeyboard)
	names := set.Names()

	parsed, err := ParseCapabilitySet(names)
	if err != nil {
		t.Fatalf("ParseCapabilitySet(%v): %v", names, err)
	}
	if parsed != set {
		t.Errorf("roundtrip = %s, want %s", parsed, set)
	}

	// Names come back in declaration order regardless of construction
	// order, keeping Accept frames deterministic.
	if names[0] != "keyboard" || names[1] != "touch" {
		t.Errorf("names = %v, want [keyboard touch]", names)
	}
}

func TestCapabilitySetString(t *testing.T) {
	t.Parallel()

	if got := CapabilitySet(0).String(); got != "none" {
		t.Errorf("empty set String = %q, want none", got)
	}
	all := NewCapabilitySet(CapabilityKeyboard, CapabilityPointer, CapabilityTouch)
	if got := all.String(); got != "keyboard+pointer+touch" {
		t.Errorf("full set String = %q", got)
	}
}
