// Copyright 2026 The Ember Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock provides an injectable time abstraction for testability.
//
// Production code accepts a Clock parameter instead of calling
// time.Now, time.AfterFunc, or time.NewTicker directly. In production,
// Real() provides standard library behavior. In tests, Fake() provides
// a deterministic clock that advances only when Advance is called.
//
// # Wiring Pattern
//
// Add a Clock field to structs that use time:
//
//	type Bridge struct {
//	    clock clock.Clock
//	    // ...
//	}
//
// In production:
//
//	b := &Bridge{clock: clock.Real()}
//
// In tests:
//
//	c := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
//	b := &Bridge{clock: c}
//	// ... register the handshake deadline ...
//	c.WaitForTimers(1)
//	c.Advance(10 * time.Second) // fire it deterministically
//
// When a goroutine registers an AfterFunc or ticker on a FakeClock,
// use WaitForTimers to block until the registration lands before
// calling Advance. That eliminates the race between registration and
// advancement that plagues tests synchronized with time.Sleep.
package clock
