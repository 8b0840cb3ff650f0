// Copyright 2026 The Ember Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import "time"

// Clock abstracts the time operations the bridge performs so tests can
// drive them deterministically. Production code injects Real(); tests
// inject Fake() and advance it explicitly.
//
// The bridge stamps injected events with Now, arms the optional
// handshake deadline with AfterFunc, and the soak client paces event
// bursts with NewTicker.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// AfterFunc waits for duration d, then calls f in its own
	// goroutine (real) or synchronously during Advance (fake).
	// The returned Timer cancels the pending call with Stop.
	// If d <= 0, f runs immediately.
	AfterFunc(d time.Duration, f func()) *Timer

	// NewTicker returns a Ticker delivering ticks on C at the given
	// interval. Panics if d <= 0. Equivalent to time.NewTicker.
	NewTicker(d time.Duration) *Ticker
}

// Timer is a scheduled one-shot call created by AfterFunc.
type Timer struct {
	stop func() bool
}

// Stop prevents the Timer from firing. Returns true if the call stops
// the timer, false if the timer already fired or was stopped.
func (t *Timer) Stop() bool { return t.stop() }

// Ticker delivers periodic ticks on C. Call Stop when the Ticker is no
// longer needed. C has capacity 1, matching time.Ticker: if the
// consumer falls behind, ticks are dropped rather than queued.
type Ticker struct {
	C <-chan time.Time

	stop func()
}

// Stop turns off the ticker. No more ticks arrive on C after Stop
// returns. Stop does not close C.
func (t *Ticker) Stop() { t.stop() }
