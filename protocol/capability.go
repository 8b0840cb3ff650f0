// Copyright 2026 The Ember Authors
// SPDX-License-Identifier: Apache-2.0

package protocol

import (
	"fmt"
	"strings"
)

// Capability identifies one input capability a session may be granted.
// Capabilities travel as strings on the wire and as a bitmask
// internally.
type Capability uint8

const (
	CapabilityKeyboard Capability = 1 << iota
	CapabilityPointer
	CapabilityTouch
)

// String returns the wire name of the capability.
func (c Capability) String() string {
	switch c {
	case CapabilityKeyboard:
		return "keyboard"
	case CapabilityPointer:
		return "pointer"
	case CapabilityTouch:
		return "touch"
	}
	return fmt.Sprintf("capability(%d)", uint8(c))
}

// allCapabilities is the declaration order used for wire encoding.
var allCapabilities = []Capability{CapabilityKeyboard, CapabilityPointer, CapabilityTouch}

// ParseCapability maps a wire name to its Capability.
func ParseCapability(name string) (Capability, error) {
	switch name {
	case "keyboard":
		return CapabilityKeyboard, nil
	case "pointer":
		return CapabilityPointer, nil
	case "touch":
		return CapabilityTouch, nil
	}
	return 0, fmt.Errorf("unknown capability %q", name)
}

// CapabilitySet is a set of capabilities.
type CapabilitySet uint8

// NewCapabilitySet builds a set from individual capabilities.
func NewCapabilitySet(capabilities ...Capability) CapabilitySet {
	var set CapabilitySet
	for _, c := range capabilities {
		set |= CapabilitySet(c)
	}
	return set
}

// ParseCapabilitySet maps wire names to a set. Unknown or duplicate
// names are errors.
func ParseCapabilitySet(names []string) (CapabilitySet, error) {
	var set CapabilitySet
	for _, name := range names {
		c, err := ParseCapability(name)
		if err != nil {
			return 0, err
		}
		if set.Has(c) {
			return 0, fmt.Errorf("capability %q listed twice", name)
		}
		set |= CapabilitySet(c)
	}
	return set, nil
}

// Has reports whether the set contains c.
func (s CapabilitySet) Has(c Capability) bool {
	return s&CapabilitySet(c) != 0
}

// Intersect returns the capabilities present in both sets.
func (s CapabilitySet) Intersect(other CapabilitySet) CapabilitySet {
	return s & other
}

// IsEmpty reports whether the set has no capabilities.
func (s CapabilitySet) IsEmpty() bool { return s == 0 }

// Capabilities returns the members in declaration order.
func (s CapabilitySet) Capabilities() []Capability {
	var members []Capability
	for _, c := range allCapabilities {
		if s.Has(c) {
			members = append(members, c)
		}
	}
	return members
}

// Names returns the wire names of the members in declaration order.
func (s CapabilitySet) Names() []string {
	var names []string
	for _, c := range s.Capabilities() {
		names = append(names, c.String())
	}
	return names
}

// String formats the set for logs, e.g. "keyboard+pointer".
func (s CapabilitySet) String() string {
	if s.IsEmpty() {
		return "none"
	}
	return strings.Join(s.Names(), "+")
}
