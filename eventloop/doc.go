// Copyright 2026 The Ember Authors
// SPDX-License-Identifier: Apache-2.0

// Package eventloop runs the compositor-side event loop the bridge
// lives on: a single goroutine multiplexing file descriptors through
// epoll, with a task queue for work posted from other goroutines.
//
// Everything that touches session state runs on the loop goroutine.
// The only cross-goroutine entry point is Post; AddFD, RemoveFD, and
// SetWriteInterest must be called on the loop goroutine, typically
// from a readiness callback or a posted task. Readiness callbacks may
// freely add and remove sources, including their own: a source removed
// while a dispatch batch is in flight is not fired again, and a
// descriptor number reused within the batch cannot receive the stale
// readiness.
//
// Endpoints without a pollable descriptor are driven by a Pump, which
// reads on a dedicated goroutine and posts each chunk into the loop,
// preserving arrival order.
package eventloop
