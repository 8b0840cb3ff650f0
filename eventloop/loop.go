// Copyright 2026 The Ember Authors
// SPDX-License-Identifier: Apache-2.0

package eventloop

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/eapache/queue"
	"golang.org/x/sys/unix"
)

// ErrClosed reports that the loop has been closed and accepts no more
// work.
var ErrClosed = errors.New("event loop closed")

// Readiness is the set of conditions a registered descriptor reported.
type Readiness uint8

const (
	// Readable: a read will not block. Set on incoming data and on
	// EOF, since a read observing the peer's close returns without
	// blocking too.
	Readable Readiness = 1 << iota

	// Writable: a write will accept at least one byte.
	Writable

	// Broken: the kernel reported an error or hangup on the
	// descriptor. Buffered data may still be readable; beyond that the
	// descriptor is dead.
	Broken
)

// Callback handles a readiness report for one registered descriptor.
// It runs on the loop goroutine.
type Callback func(Readiness)

// maxEventsPerWait bounds how many descriptor events one epoll_wait
// returns. Level-triggered epoll re-reports anything left over, so the
// bound trades a little latency under load for a small fixed buffer.
const maxEventsPerWait = 64

// fdSource is the registration record for one descriptor. The removed
// flag keeps a dispatch batch from firing a callback whose source was
// removed earlier in the same batch.
type fdSource struct {
	fd       int
	callback Callback
	interest Readiness
	removed  bool
}

// Loop is a single-goroutine event loop over epoll. One Loop serves
// the whole bridge; every session's descriptor is registered with it
// and all protocol and session state is mutated only from its
// goroutine.
//
// The zero value is not usable; call New.
type Loop struct {
	// Logger receives loop diagnostics. Nil means slog.Default().
	Logger *slog.Logger

	epollFD int
	wakeFD  int

	mu       sync.Mutex
	tasks    *queue.Queue
	closing  bool
	running  bool
	released bool

	sources map[int]*fdSource

	// Scratch buffers reused across iterations; only the loop
	// goroutine touches them.
	events []unix.EpollEvent
	batch  []readySource

	done        chan struct{}
	releaseOnce sync.Once
	releaseErr  error
}

type readySource struct {
	source *fdSource
	ready  Readiness
}

// New creates a Loop with its epoll instance and wakeup descriptor.
// The caller runs it with Run.
func New() (*Loop, error) {
	epollFD, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("creating epoll instance: %w", err)
	}

	wakeFD, err := unix.Eventfd(0, unix.EFD_CLOEXEC|unix.EFD_NONBLOCK)
	if err != nil {
		unix.Close(epollFD)
		return nil, fmt.Errorf("creating wakeup eventfd: %w", err)
	}

	event := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(wakeFD)}
	if err := unix.EpollCtl(epollFD, unix.EPOLL_CTL_ADD, wakeFD, &event); err != nil {
		unix.Close(wakeFD)
		unix.Close(epollFD)
		return nil, fmt.Errorf("registering wakeup eventfd: %w", err)
	}

	return &Loop{
		epollFD: epollFD,
		wakeFD:  wakeFD,
		tasks:   queue.New(),
		sources: make(map[int]*fdSource),
		events:  make([]unix.EpollEvent, maxEventsPerWait),
		done:    make(chan struct{}),
	}, nil
}

// Done is closed once the loop has released its resources and will run
// no further tasks. Callers waiting on a posted task's reply select on
// Done to avoid blocking past the loop's death.
func (l *Loop) Done() <-chan struct{} { return l.done }

func (l *Loop) logger() *slog.Logger {
	if l.Logger != nil {
		return l.Logger
	}
	return slog.Default()
}

// Post queues fn to run on the loop goroutine and wakes the loop. Safe
// to call from any goroutine, including from within a task or callback
// (the task runs in a later batch). Tasks run in post order. Fails
// with ErrClosed once the loop is closed; the task will never run.
func (l *Loop) Post(fn func()) error {
	l.mu.Lock()
	if l.closing {
		l.mu.Unlock()
		return ErrClosed
	}
	l.tasks.Add(fn)
	l.mu.Unlock()

	l.wake()
	return nil
}

// wake makes a blocked epoll_wait return by bumping the eventfd
// counter. Writing to an already-signaled eventfd is harmless. The
// write happens under the mutex so it cannot race the descriptor
// release and land in a reused descriptor number.
func (l *Loop) wake() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.released {
		return
	}
	var buf [8]byte
	binary.NativeEndian.PutUint64(buf[:], 1)
	if _, err := unix.Write(l.wakeFD, buf[:]); err != nil && err != unix.EAGAIN {
		l.logger().Debug("event loop wakeup failed", "error", err)
	}
}

// AddFD registers a descriptor with the loop. The callback fires
// whenever the descriptor reports a condition in interest (Broken is
// always reported). Level-triggered: a condition that is not consumed
// fires again on the next wait.
//
// Must be called on the loop goroutine. The descriptor must stay open
// until RemoveFD; remove it before closing it.
func (l *Loop) AddFD(fd int, interest Readiness, callback Callback) error {
	if fd < 0 {
		return fmt.Errorf("registering fd %d: negative descriptor", fd)
	}
	if callback == nil {
		return fmt.Errorf("registering fd %d: nil callback", fd)
	}
	if _, exists := l.sources[fd]; exists {
		return fmt.Errorf("registering fd %d: already registered", fd)
	}

	event := unix.EpollEvent{Events: epollEvents(interest), Fd: int32(fd)}
	if err := unix.EpollCtl(l.epollFD, unix.EPOLL_CTL_ADD, fd, &event); err != nil {
		return fmt.Errorf("registering fd %d: %w", fd, err)
	}

	l.sources[fd] = &fdSource{fd: fd, callback: callback, interest: interest}
	return nil
}

// SetWriteInterest includes or excludes Writable in a registered
// descriptor's interest. A no-op when the interest already matches.
// Must be called on the loop goroutine.
func (l *Loop) SetWriteInterest(fd int, enabled bool) error {
	source, ok := l.sources[fd]
	if !ok {
		return fmt.Errorf("setting write interest on fd %d: not registered", fd)
	}

	interest := source.interest &^ Writable
	if enabled {
		interest |= Writable
	}
	if interest == source.interest {
		return nil
	}

	event := unix.EpollEvent{Events: epollEvents(interest), Fd: int32(fd)}
	if err := unix.EpollCtl(l.epollFD, unix.EPOLL_CTL_MOD, fd, &event); err != nil {
		return fmt.Errorf("setting write interest on fd %d: %w", fd, err)
	}
	source.interest = interest
	return nil
}

// RemoveFD deregisters a descriptor. Idempotent: removing an unknown
// descriptor is a no-op. Safe to call from a readiness callback, even
// the removed descriptor's own; the source fires no further callbacks
// once RemoveFD returns. Must be called on the loop goroutine.
func (l *Loop) RemoveFD(fd int) {
	source, ok := l.sources[fd]
	if !ok {
		return
	}
	source.removed = true
	delete(l.sources, fd)

	if err := unix.EpollCtl(l.epollFD, unix.EPOLL_CTL_DEL, fd, nil); err != nil {
		// The descriptor may already be gone; the map removal above is
		// what guarantees no further dispatch.
		l.logger().Debug("epoll deregistration failed", "fd", fd, "error", err)
	}
}

// Run runs the loop until ctx is done or Close is called, then
// releases the loop's descriptors. Returns nil on Close, the context
// error on cancellation. A Loop runs at most once.
func (l *Loop) Run(ctx context.Context) error {
	l.mu.Lock()
	if l.closing {
		l.mu.Unlock()
		return ErrClosed
	}
	if l.running {
		l.mu.Unlock()
		return errors.New("event loop already running")
	}
	l.running = true
	l.mu.Unlock()

	defer l.release()

	// Wake the loop when the context is canceled so epoll_wait does
	// not block past the deadline.
	watchDone := make(chan struct{})
	defer close(watchDone)
	go func() {
		select {
		case <-ctx.Done():
			l.wake()
		case <-watchDone:
		}
	}()

	for {
		l.mu.Lock()
		closing := l.closing
		pending := l.tasks.Length() > 0
		l.mu.Unlock()

		if closing {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		timeout := -1
		if pending {
			timeout = 0
		}

		n, err := unix.EpollWait(l.epollFD, l.events, timeout)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return fmt.Errorf("epoll wait: %w", err)
		}

		l.dispatch(n)
		l.runTasks()
	}
}

// dispatch fires callbacks for one epoll batch. Sources are resolved
// before any callback runs, so a callback that removes a source (or
// registers a new one on a reused descriptor number) cannot cause a
// misdelivery within the batch.
func (l *Loop) dispatch(n int) {
	l.batch = l.batch[:0]
	for i := 0; i < n; i++ {
		event := l.events[i]
		fd := int(event.Fd)
		if fd == l.wakeFD {
			l.drainWake()
			continue
		}
		source, ok := l.sources[fd]
		if !ok {
			continue
		}
		l.batch = append(l.batch, readySource{source: source, ready: readiness(event.Events)})
	}

	for _, entry := range l.batch {
		if entry.source.removed {
			continue
		}
		entry.source.callback(entry.ready)
	}
}

// runTasks runs the tasks queued at entry. Tasks posted while the
// batch runs wait for the next iteration, so a task that re-posts
// cannot starve descriptor dispatch; the loop polls again immediately
// while tasks remain.
func (l *Loop) runTasks() {
	l.mu.Lock()
	n := l.tasks.Length()
	l.mu.Unlock()

	for i := 0; i < n; i++ {
		l.mu.Lock()
		if l.tasks.Length() == 0 {
			l.mu.Unlock()
			return
		}
		task := l.tasks.Remove().(func())
		l.mu.Unlock()

		task()
	}
}

func (l *Loop) drainWake() {
	var buf [8]byte
	if _, err := unix.Read(l.wakeFD, buf[:]); err != nil && err != unix.EAGAIN {
		l.logger().Debug("draining wakeup eventfd failed", "error", err)
	}
}

// Close stops the loop. Tasks already queued are discarded; a running
// Run returns nil. Idempotent. Safe to call from any goroutine,
// including the loop's own.
func (l *Loop) Close() error {
	l.mu.Lock()
	if l.closing {
		l.mu.Unlock()
		return nil
	}
	l.closing = true
	running := l.running
	l.mu.Unlock()

	if running {
		l.wake()
		return nil
	}
	return l.release()
}

// release closes the loop descriptors exactly once. Closing the epoll
// instance detaches every remaining registration; the registered
// descriptors themselves belong to their owners.
func (l *Loop) release() error {
	l.releaseOnce.Do(func() {
		l.mu.Lock()
		l.closing = true
		l.running = false
		l.released = true
		wakeErr := unix.Close(l.wakeFD)
		epollErr := unix.Close(l.epollFD)
		l.mu.Unlock()

		if wakeErr != nil {
			l.releaseErr = fmt.Errorf("closing wakeup eventfd: %w", wakeErr)
		}
		if epollErr != nil && l.releaseErr == nil {
			l.releaseErr = fmt.Errorf("closing epoll instance: %w", epollErr)
		}
		close(l.done)
	})
	return l.releaseErr
}

func epollEvents(interest Readiness) uint32 {
	var events uint32
	if interest&Readable != 0 {
		events |= unix.EPOLLIN
	}
	if interest&Writable != 0 {
		events |= unix.EPOLLOUT
	}
	return events
}

func readiness(events uint32) Readiness {
	var ready Readiness
	if events&unix.EPOLLIN != 0 {
		ready |= Readable
	}
	if events&unix.EPOLLOUT != 0 {
		ready |= Writable
	}
	if events&(unix.EPOLLERR|unix.EPOLLHUP) != 0 {
		ready |= Broken
	}
	return ready
}
