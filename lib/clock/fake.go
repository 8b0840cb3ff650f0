// Copyright 2026 The Ember Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import (
	"sort"
	"sync"
	"time"
)

// Fake returns a FakeClock initialized to the given time. Time stands
// still until Advance is called.
//
// FakeClock is safe for concurrent use by multiple goroutines.
func Fake(initial time.Time) *FakeClock {
	c := &FakeClock{current: initial}
	c.pendingChanged = sync.NewCond(&c.mu)
	return c
}

// FakeClock is a deterministic Clock for testing. Timers and tickers
// fire only when Advance moves the clock past their deadline.
//
// AfterFunc callbacks run synchronously during Advance in deadline
// order. Do not call Advance from within a callback.
type FakeClock struct {
	mu             sync.Mutex
	current        time.Time
	pending        []*fakeTimer
	pendingChanged *sync.Cond
}

// fakeTimer is a pending AfterFunc or ticker registration.
type fakeTimer struct {
	deadline time.Time

	// callback is set for AfterFunc registrations.
	callback func()

	// channel receives fire times for ticker registrations.
	channel chan time.Time

	// interval is non-zero for tickers; after firing the timer is
	// rescheduled at deadline + interval.
	interval time.Duration

	stopped bool
	fired   bool
}

// Now returns the current fake time.
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// AfterFunc schedules f to run when the clock advances past duration
// d from now. If d <= 0, f runs synchronously before AfterFunc
// returns.
func (c *FakeClock) AfterFunc(d time.Duration, f func()) *Timer {
	if d <= 0 {
		f()
		return &Timer{stop: func() bool { return false }}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	timer := &fakeTimer{
		deadline: c.current.Add(d),
		callback: f,
	}
	c.pending = append(c.pending, timer)
	c.pendingChanged.Broadcast()

	return &Timer{
		stop: func() bool {
			c.mu.Lock()
			defer c.mu.Unlock()
			if timer.stopped || timer.fired {
				return false
			}
			timer.stopped = true
			return true
		},
	}
}

// NewTicker returns a Ticker that fires each time Advance moves the
// clock across a multiple of d. Panics if d <= 0.
func (c *FakeClock) NewTicker(d time.Duration) *Ticker {
	if d <= 0 {
		panic("clock: non-positive interval for NewTicker")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	channel := make(chan time.Time, 1)
	timer := &fakeTimer{
		deadline: c.current.Add(d),
		channel:  channel,
		interval: d,
	}
	c.pending = append(c.pending, timer)
	c.pendingChanged.Broadcast()

	return &Ticker{
		C: channel,
		stop: func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			timer.stopped = true
		},
	}
}

// Advance moves the clock forward by d and fires everything whose
// deadline falls within the new time, in deadline order. AfterFunc
// callbacks run synchronously in the calling goroutine; ticker sends
// are non-blocking (matching time.Ticker's drop-if-full behavior).
//
// If the advance spans multiple ticker intervals, the ticker fires
// once per interval; ticks that overflow the channel buffer are
// dropped.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.current = c.current.Add(d)
	target := c.current
	c.mu.Unlock()

	for {
		expired := c.takeExpired(target)
		if len(expired) == 0 {
			return
		}

		sort.Slice(expired, func(i, j int) bool {
			return expired[i].deadline.Before(expired[j].deadline)
		})

		for _, timer := range expired {
			if timer.callback != nil {
				timer.callback()
			} else if timer.channel != nil {
				select {
				case timer.channel <- target:
				default:
				}
			}
		}
	}
}

// takeExpired removes expired timers from the pending list,
// reschedules tickers, and returns the timers to fire.
func (c *FakeClock) takeExpired(target time.Time) []*fakeTimer {
	c.mu.Lock()
	defer c.mu.Unlock()

	var expired []*fakeTimer
	var remaining []*fakeTimer

	for _, timer := range c.pending {
		if timer.stopped {
			continue
		}
		if !timer.deadline.After(target) {
			expired = append(expired, timer)
		} else {
			remaining = append(remaining, timer)
		}
	}

	for _, timer := range expired {
		if timer.interval > 0 {
			timer.deadline = timer.deadline.Add(timer.interval)
			remaining = append(remaining, timer)
		} else {
			timer.fired = true
		}
	}

	c.pending = remaining
	return expired
}

// WaitForTimers blocks until at least n timers or tickers are pending.
// This removes the race between a goroutine registering a timer and
// the test advancing the clock.
func (c *FakeClock) WaitForTimers(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for c.pendingCountLocked() < n {
		c.pendingChanged.Wait()
	}
}

// PendingCount returns the number of active pending timers and
// tickers. Useful for test assertions.
func (c *FakeClock) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pendingCountLocked()
}

func (c *FakeClock) pendingCountLocked() int {
	count := 0
	for _, timer := range c.pending {
		if !timer.stopped {
			count++
		}
	}
	return count
}
