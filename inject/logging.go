// Copyright 2026 The Ember Authors
// SPDX-License-Identifier: Apache-2.0

package inject

import (
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/ember-compositor/remoteinput/session"
)

// LoggingPipeline logs every injection at debug level and forwards it
// to Next. With a nil Next the injections stop here, which is what the
// standalone host binary runs: the full bridge with the native side
// stubbed out.
type LoggingPipeline struct {
	// Logger receives the injection records. Nil means slog.Default().
	Logger *slog.Logger

	// Next receives the forwarded calls. Nil drops them.
	Next Pipeline

	injected atomic.Uint64
}

// Total returns the number of injections seen since creation.
func (p *LoggingPipeline) Total() uint64 { return p.injected.Load() }

func (p *LoggingPipeline) logger() *slog.Logger {
	if p.Logger != nil {
		return p.Logger
	}
	return slog.Default()
}

func (p *LoggingPipeline) log(device session.Device, msg string, args ...any) {
	p.injected.Add(1)
	p.logger().Debug(msg, append([]any{"device", device.Name}, args...)...)
}

func (p *LoggingPipeline) KeyboardKey(device session.Device, when time.Time, code uint32, pressed bool) {
	p.log(device, "keyboard key", "code", code, "pressed", pressed)
	if p.Next != nil {
		p.Next.KeyboardKey(device, when, code, pressed)
	}
}

func (p *LoggingPipeline) PointerMotion(device session.Device, when time.Time, dx, dy float64) {
	p.log(device, "pointer motion", "dx", dx, "dy", dy)
	if p.Next != nil {
		p.Next.PointerMotion(device, when, dx, dy)
	}
}

func (p *LoggingPipeline) PointerMotionAbsolute(device session.Device, when time.Time, x, y float64) {
	p.log(device, "pointer motion absolute", "x", x, "y", y)
	if p.Next != nil {
		p.Next.PointerMotionAbsolute(device, when, x, y)
	}
}

func (p *LoggingPipeline) PointerButton(device session.Device, when time.Time, code uint32, pressed bool) {
	p.log(device, "pointer button", "code", code, "pressed", pressed)
	if p.Next != nil {
		p.Next.PointerButton(device, when, code, pressed)
	}
}

func (p *LoggingPipeline) PointerScroll(device session.Device, when time.Time, dx, dy float64) {
	p.log(device, "pointer scroll", "dx", dx, "dy", dy)
	if p.Next != nil {
		p.Next.PointerScroll(device, when, dx, dy)
	}
}

func (p *LoggingPipeline) PointerScrollDiscrete(device session.Device, when time.Time, stepsX, stepsY int32) {
	p.log(device, "pointer scroll discrete", "steps_x", stepsX, "steps_y", stepsY)
	if p.Next != nil {
		p.Next.PointerScrollDiscrete(device, when, stepsX, stepsY)
	}
}

func (p *LoggingPipeline) TouchDown(device session.Device, when time.Time, id uint32, x, y float64) {
	p.log(device, "touch down", "touch_id", id, "x", x, "y", y)
	if p.Next != nil {
		p.Next.TouchDown(device, when, id, x, y)
	}
}

func (p *LoggingPipeline) TouchMotion(device session.Device, when time.Time, id uint32, x, y float64) {
	p.log(device, "touch motion", "touch_id", id, "x", x, "y", y)
	if p.Next != nil {
		p.Next.TouchMotion(device, when, id, x, y)
	}
}

func (p *LoggingPipeline) TouchUp(device session.Device, when time.Time, id uint32) {
	p.log(device, "touch up", "touch_id", id)
	if p.Next != nil {
		p.Next.TouchUp(device, when, id)
	}
}

func (p *LoggingPipeline) TouchCancel(device session.Device, when time.Time, id uint32) {
	p.log(device, "touch cancel", "touch_id", id)
	if p.Next != nil {
		p.Next.TouchCancel(device, when, id)
	}
}

func (p *LoggingPipeline) Frame(device session.Device, when time.Time) {
	p.log(device, "frame")
	if p.Next != nil {
		p.Next.Frame(device, when)
	}
}
