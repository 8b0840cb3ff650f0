// Copyright 2026 The Ember Authors
// SPDX-License-Identifier: Apache-2.0

package eventloop

import (
	"context"
	"errors"
	"testing"
	"time"

	"golang.org/x/sys/unix"

	"github.com/ember-compositor/remoteinput/lib/testutil"
)

// startLoop creates a Loop, runs it on a background goroutine, and
// closes it when the test finishes.
func startLoop(t *testing.T) *Loop {
	t.Helper()
	loop, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	runErr := make(chan error, 1)
	go func() { runErr <- loop.Run(context.Background()) }()

	t.Cleanup(func() {
		loop.Close()
		if err := testutil.RequireReceive(t, runErr, 5*time.Second, "loop exit"); err != nil {
			t.Errorf("Run: %v", err)
		}
	})
	return loop
}

// post fails the test if the loop rejects the task.
func post(t *testing.T, loop *Loop, fn func()) {
	t.Helper()
	if err := loop.Post(fn); err != nil {
		t.Fatalf("Post: %v", err)
	}
}

// loopSocketPair returns a connected non-blocking socket pair whose
// descriptors are closed with the test.
func loopSocketPair(t *testing.T) (int, int) {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		t.Fatalf("socketpair: %v", err)
	}
	t.Cleanup(func() {
		unix.Close(fds[0])
		unix.Close(fds[1])
	})
	return fds[0], fds[1]
}

func TestPostRunsTasksInOrder(t *testing.T) {
	t.Parallel()

	loop := startLoop(t)

	var order []int
	done := make(chan []int, 1)
	for i := range 100 {
		post(t, loop, func() { order = append(order, i) })
	}
	post(t, loop, func() { done <- order })

	got := testutil.RequireReceive(t, done, 5*time.Second, "task order")
	if len(got) != 100 {
		t.Fatalf("ran %d tasks, want 100", len(got))
	}
	for i, v := range got {
		if v != i {
			t.Fatalf("task %d ran at position %d", v, i)
		}
	}
}

func TestTaskPostedFromTaskRunsLater(t *testing.T) {
	t.Parallel()

	loop := startLoop(t)

	done := make(chan string, 2)
	post(t, loop, func() {
		if err := loop.Post(func() { done <- "inner" }); err != nil {
			t.Errorf("inner Post: %v", err)
		}
		done <- "outer"
	})

	first := testutil.RequireReceive(t, done, 5*time.Second, "outer task")
	second := testutil.RequireReceive(t, done, 5*time.Second, "inner task")
	if first != "outer" || second != "inner" {
		t.Errorf("task order = %s, %s, want outer, inner", first, second)
	}
}

func TestAddFDDispatchesReadable(t *testing.T) {
	t.Parallel()

	loop := startLoop(t)
	server, client := loopSocketPair(t)

	received := make(chan string, 1)
	post(t, loop, func() {
		err := loop.AddFD(server, Readable, func(ready Readiness) {
			if ready&Readable == 0 {
				return
			}
			buf := make([]byte, 64)
			n, err := unix.Read(server, buf)
			if err != nil {
				t.Errorf("read: %v", err)
				return
			}
			loop.RemoveFD(server)
			received <- string(buf[:n])
		})
		if err != nil {
			t.Errorf("AddFD: %v", err)
		}
	})

	if _, err := unix.Write(client, []byte("ping")); err != nil {
		t.Fatalf("write: %v", err)
	}

	got := testutil.RequireReceive(t, received, 5*time.Second, "readable dispatch")
	if got != "ping" {
		t.Errorf("received %q, want %q", got, "ping")
	}
}

func TestSetWriteInterestFiresOnce(t *testing.T) {
	t.Parallel()

	loop := startLoop(t)
	server, _ := loopSocketPair(t)

	writable := make(chan struct{}, 8)
	post(t, loop, func() {
		err := loop.AddFD(server, Readable, func(ready Readiness) {
			if ready&Writable == 0 {
				return
			}
			// Consume the condition before signaling, or
			// level-triggered epoll refires forever.
			if err := loop.SetWriteInterest(server, false); err != nil {
				t.Errorf("SetWriteInterest(false): %v", err)
			}
			writable <- struct{}{}
		})
		if err != nil {
			t.Errorf("AddFD: %v", err)
		}
		if err := loop.SetWriteInterest(server, true); err != nil {
			t.Errorf("SetWriteInterest(true): %v", err)
		}
	})

	testutil.RequireReceive(t, writable, 5*time.Second, "writable dispatch")

	// Round-trip a task to let any spurious refire land, then check
	// there was none.
	settled := make(chan struct{})
	post(t, loop, func() { close(settled) })
	testutil.RequireClosed(t, settled, 5*time.Second, "settle")
	if len(writable) != 0 {
		t.Errorf("writable fired %d extra times after interest was cleared", len(writable))
	}
}

func TestRemovalMidBatchSuppressesSibling(t *testing.T) {
	t.Parallel()

	loop := startLoop(t)
	serverA, clientA := loopSocketPair(t)
	serverB, clientB := loopSocketPair(t)

	// Make both descriptors readable before either is registered, so
	// one epoll batch reports both.
	if _, err := unix.Write(clientA, []byte("a")); err != nil {
		t.Fatalf("write a: %v", err)
	}
	if _, err := unix.Write(clientB, []byte("b")); err != nil {
		t.Fatalf("write b: %v", err)
	}

	fired := 0
	drain := func(fd int) {
		buf := make([]byte, 8)
		unix.Read(fd, buf)
	}
	post(t, loop, func() {
		if err := loop.AddFD(serverA, Readable, func(Readiness) {
			drain(serverA)
			fired++
			loop.RemoveFD(serverB)
		}); err != nil {
			t.Errorf("AddFD a: %v", err)
		}
		if err := loop.AddFD(serverB, Readable, func(Readiness) {
			drain(serverB)
			fired++
			loop.RemoveFD(serverA)
		}); err != nil {
			t.Errorf("AddFD b: %v", err)
		}
	})

	// Two settles: registration task, then the dispatch batch.
	for range 2 {
		settled := make(chan struct{})
		post(t, loop, func() { close(settled) })
		testutil.RequireClosed(t, settled, 5*time.Second, "settle")
	}

	got := make(chan int, 1)
	post(t, loop, func() { got <- fired })
	if n := testutil.RequireReceive(t, got, 5*time.Second, "fired count"); n != 1 {
		t.Errorf("callbacks fired %d times, want 1 (removal mid-batch must suppress the sibling)", n)
	}
}

func TestRemoveFDIsIdempotent(t *testing.T) {
	t.Parallel()

	loop := startLoop(t)
	server, _ := loopSocketPair(t)

	done := make(chan struct{})
	post(t, loop, func() {
		defer close(done)
		if err := loop.AddFD(server, Readable, func(Readiness) {}); err != nil {
			t.Errorf("AddFD: %v", err)
			return
		}
		loop.RemoveFD(server)
		loop.RemoveFD(server)
		loop.RemoveFD(12345)

		// The slot is free again.
		if err := loop.AddFD(server, Readable, func(Readiness) {}); err != nil {
			t.Errorf("AddFD after removal: %v", err)
		}
	})
	testutil.RequireClosed(t, done, 5*time.Second, "removal sequence")
}

func TestAddFDRejectsDuplicate(t *testing.T) {
	t.Parallel()

	loop := startLoop(t)
	server, _ := loopSocketPair(t)

	done := make(chan error, 1)
	post(t, loop, func() {
		if err := loop.AddFD(server, Readable, func(Readiness) {}); err != nil {
			done <- err
			return
		}
		done <- loop.AddFD(server, Readable, func(Readiness) {})
	})

	err := testutil.RequireReceive(t, done, 5*time.Second, "duplicate AddFD")
	if err == nil {
		t.Fatal("duplicate AddFD succeeded, want error")
	}
}

func TestCloseStopsRun(t *testing.T) {
	t.Parallel()

	loop, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	runErr := make(chan error, 1)
	go func() { runErr <- loop.Run(context.Background()) }()

	if err := loop.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := testutil.RequireReceive(t, runErr, 5*time.Second, "run exit"); err != nil {
		t.Errorf("Run after Close: %v", err)
	}
	testutil.RequireClosed(t, loop.Done(), 5*time.Second, "loop done")
	if err := loop.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
}

func TestRunStopsOnContextCancel(t *testing.T) {
	t.Parallel()

	loop, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	runErr := make(chan error, 1)
	go func() { runErr <- loop.Run(ctx) }()

	cancel()
	err = testutil.RequireReceive(t, runErr, 5*time.Second, "run exit")
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Run: err = %v, want context.Canceled", err)
	}
}

func TestPostAfterCloseFails(t *testing.T) {
	t.Parallel()

	loop, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := loop.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if err := loop.Post(func() {}); !errors.Is(err, ErrClosed) {
		t.Errorf("Post after Close: err = %v, want ErrClosed", err)
	}
	if err := loop.Run(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("Run after Close: err = %v, want ErrClosed", err)
	}
}
