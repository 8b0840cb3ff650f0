// Copyright 2026 The Ember Authors
// SPDX-License-Identifier: Apache-2.0

package inject

import (
	"sync"
	"time"

	"github.com/ember-compositor/remoteinput/session"
)

// Kind names one Pipeline method in a recorded injection.
type Kind string

const (
	KindKeyboardKey           Kind = "keyboard-key"
	KindPointerMotion         Kind = "pointer-motion"
	KindPointerMotionAbsolute Kind = "pointer-motion-absolute"
	KindPointerButton         Kind = "pointer-button"
	KindPointerScroll         Kind = "pointer-scroll"
	KindPointerScrollDiscrete Kind = "pointer-scroll-discrete"
	KindTouchDown             Kind = "touch-down"
	KindTouchMotion           Kind = "touch-motion"
	KindTouchUp               Kind = "touch-up"
	KindTouchCancel           Kind = "touch-cancel"
	KindFrame                 Kind = "frame"
)

// Record is one recorded Pipeline call. Only the fields relevant to
// the Kind are set: Code and Pressed for keys and buttons, TouchID for
// touch events, X/Y for positions and deltas, StepsX/StepsY for
// discrete scroll.
type Record struct {
	Kind    Kind
	Device  session.Device
	When    time.Time
	Code    uint32
	Pressed bool
	TouchID uint32
	X, Y    float64
	StepsX  int32
	StepsY  int32
}

// MemoryPipeline records every injection in arrival order. It backs
// tests, the soak client's echo mode, and diagnostics. Safe for
// concurrent use so recordings can be inspected while the event loop
// is still running.
//
// The zero value is ready to use.
type MemoryPipeline struct {
	mu      sync.Mutex
	records []Record
}

// Events returns a copy of the recorded injections in arrival order.
func (p *MemoryPipeline) Events() []Record {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Record(nil), p.records...)
}

// Kinds returns just the Kind sequence, for order assertions.
func (p *MemoryPipeline) Kinds() []Kind {
	p.mu.Lock()
	defer p.mu.Unlock()
	kinds := make([]Kind, len(p.records))
	for i, r := range p.records {
		kinds[i] = r.Kind
	}
	return kinds
}

// Len returns the number of recorded injections.
func (p *MemoryPipeline) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.records)
}

// CountKind returns how many recorded injections have the given Kind.
func (p *MemoryPipeline) CountKind(kind Kind) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, r := range p.records {
		if r.Kind == kind {
			n++
		}
	}
	return n
}

// Reset discards all recordings.
func (p *MemoryPipeline) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.records = nil
}

func (p *MemoryPipeline) record(r Record) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.records = append(p.records, r)
}

func (p *MemoryPipeline) KeyboardKey(device session.Device, when time.Time, code uint32, pressed bool) {
	p.record(Record{Kind: KindKeyboardKey, Device: device, When: when, Code: code, Pressed: pressed})
}

func (p *MemoryPipeline) PointerMotion(device session.Device, when time.Time, dx, dy float64) {
	p.record(Record{Kind: KindPointerMotion, Device: device, When: when, X: dx, Y: dy})
}

func (p *MemoryPipeline) PointerMotionAbsolute(device session.Device, when time.Time, x, y float64) {
	p.record(Record{Kind: KindPointerMotionAbsolute, Device: device, When: when, X: x, Y: y})
}

func (p *MemoryPipeline) PointerButton(device session.Device, when time.Time, code uint32, pressed bool) {
	p.record(Record{Kind: KindPointerButton, Device: device, When: when, Code: code, Pressed: pressed})
}

func (p *MemoryPipeline) PointerScroll(device session.Device, when time.Time, dx, dy float64) {
	p.record(Record{Kind: KindPointerScroll, Device: device, When: when, X: dx, Y: dy})
}

func (p *MemoryPipeline) PointerScrollDiscrete(device session.Device, when time.Time, stepsX, stepsY int32) {
	p.record(Record{Kind: KindPointerScrollDiscrete, Device: device, When: when, StepsX: stepsX, StepsY: stepsY})
}

func (p *MemoryPipeline) TouchDown(device session.Device, when time.Time, id uint32, x, y float64) {
	p.record(Record{Kind: KindTouchDown, Device: device, When: when, TouchID: id, X: x, Y: y})
}

func (p *MemoryPipeline) TouchMotion(device session.Device, when time.Time, id uint32, x, y float64) {
	p.record(Record{Kind: KindTouchMotion, Device: device, When: when, TouchID: id, X: x, Y: y})
}

func (p *MemoryPipeline) TouchUp(device session.Device, when time.Time, id uint32) {
	p.record(Record{Kind: KindTouchUp, Device: device, When: when, TouchID: id})
}

func (p *MemoryPipeline) TouchCancel(device session.Device, when time.Time, id uint32) {
	p.record(Record{Kind: KindTouchCancel, Device: device, When: when, TouchID: id})
}

func (p *MemoryPipeline) Frame(device session.Device, when time.Time) {
	p.record(Record{Kind: KindFrame, Device: device, When: when})
}
