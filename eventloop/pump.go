// Copyright 2026 The Ember Authors
// SPDX-License-Identifier: Apache-2.0

package eventloop

import (
	"io"
	"sync/atomic"
)

// pumpBufferSize is the read chunk size. Remote-input frames are tiny;
// the buffer mainly amortizes reads when a burst arrives at once.
const pumpBufferSize = 32 * 1024

// Pump drives an endpoint that has no pollable descriptor (a WebRTC
// data channel, a test pipe) through the loop. A dedicated goroutine
// blocks on the reader and posts every chunk to the loop goroutine,
// so deliver and terminal run with the same single-threaded discipline
// as a readiness callback, in arrival order.
//
// The Pump never closes the reader. Stopping is cooperative: Stop
// suppresses further delivery, and closing the endpoint is what
// unblocks the reader goroutine.
type Pump struct {
	loop     *Loop
	reader   io.Reader
	deliver  func([]byte)
	terminal func(error)

	stopped atomic.Bool
	done    chan struct{}
}

// NewPump returns an unstarted Pump. deliver receives each chunk on
// the loop goroutine; terminal receives the final read error (io.EOF
// for an orderly close) after all chunks, unless the Pump was stopped
// first.
func NewPump(loop *Loop, reader io.Reader, deliver func([]byte), terminal func(error)) *Pump {
	if loop == nil || reader == nil || deliver == nil || terminal == nil {
		panic("eventloop: NewPump requires loop, reader, deliver, and terminal")
	}
	return &Pump{
		loop:     loop,
		reader:   reader,
		deliver:  deliver,
		terminal: terminal,
		done:     make(chan struct{}),
	}
}

// Start launches the reader goroutine. Call once.
func (p *Pump) Start() {
	go p.run()
}

// Stop suppresses further delivery. It does not wait for the reader
// goroutine, which stays blocked until the endpoint is closed; chunks
// already posted to the loop still run, so the session owner must be
// prepared to ignore them. Idempotent, safe from the loop goroutine.
func (p *Pump) Stop() {
	p.stopped.Store(true)
}

// Done is closed when the reader goroutine has exited. Tests use it to
// join the pump.
func (p *Pump) Done() <-chan struct{} { return p.done }

func (p *Pump) run() {
	defer close(p.done)

	buf := make([]byte, pumpBufferSize)
	for {
		n, err := p.reader.Read(buf)
		if p.stopped.Load() {
			return
		}
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			if p.loop.Post(func() { p.deliver(chunk) }) != nil {
				return
			}
		}
		if err != nil {
			// Best effort: a closed loop has no one left to tell.
			_ = p.loop.Post(func() {
				if !p.stopped.Load() {
					p.terminal(err)
				}
			})
			return
		}
	}
}
