// Copyright 2026 The Ember Authors
// SPDX-License-Identifier: Apache-2.0

// Package inject is the boundary between decoded remote input and the
// compositor's native input pipeline.
//
// Pipeline is the native side: one method per injected event, each
// tagged with the session's synthetic device and a timestamp. The
// compositor supplies the real implementation; MemoryPipeline records
// injections for tests and diagnostics, and LoggingPipeline wraps any
// implementation with structured logging.
//
// Translator maps protocol events onto Pipeline calls and keeps the
// per-session bookkeeping (pressed keys, pressed buttons, open touch
// points) that teardown consults. Its ReleaseAll synthesizes releases
// for everything a session still holds, so a session that disappears
// mid-gesture never leaves keys stuck down.
//
// Everything in this package runs on the event-loop goroutine.
package inject
