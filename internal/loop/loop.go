// Package loop provides the single-threaded executor every caption and video
// component runs on. Work arriving from other goroutines (audio callbacks,
// socket readers) is handed in with Post; timers deliver their callbacks back
// onto the same goroutine, so component state needs no locking.
package loop

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Timer is a pending callback. Stop reports whether the callback was
// prevented from running.
type Timer interface {
	Stop() bool
}

// Executor is the scheduling surface components depend on.
type Executor interface {
	Now() time.Time
	Post(f func())
	AfterFunc(d time.Duration, f func()) Timer
}

// Loop runs posted tasks one at a time on the goroutine that calls Run.
// The queue is unbounded, so Post never blocks: tasks posted from the loop
// itself (timer callbacks, session teardown) cannot stall it.
type Loop struct {
	mu    sync.Mutex
	tasks []func()
	wake  chan struct{}
	quit  chan struct{}
	once  sync.Once
}

// New creates a loop with room for queue tasks before the queue grows.
func New(queue int) *Loop {
	if queue <= 0 {
		queue = 256
	}
	return &Loop{
		tasks: make([]func(), 0, queue),
		wake:  make(chan struct{}, 1),
		quit:  make(chan struct{}),
	}
}

// Run executes tasks until ctx is done or Close is called.
func (l *Loop) Run(ctx context.Context) error {
	var batch []func()
	for {
		select {
		case <-l.wake:
		case <-l.quit:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}

		l.mu.Lock()
		batch, l.tasks = l.tasks, batch[:0]
		l.mu.Unlock()

		for i, f := range batch {
			select {
			case <-l.quit:
				return nil
			default:
			}
			f()
			batch[i] = nil
		}
	}
}

// Close stops Run. Tasks still queued are discarded.
func (l *Loop) Close() {
	l.once.Do(func() { close(l.quit) })
}

// Now returns the wall clock.
func (l *Loop) Now() time.Time { return time.Now() }

// Post queues f for the loop goroutine. It never blocks and drops f once the
// loop is closed.
func (l *Loop) Post(f func()) {
	select {
	case <-l.quit:
		return
	default:
	}

	l.mu.Lock()
	l.tasks = append(l.tasks, f)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// Do runs f on the loop and waits for it to finish.
func (l *Loop) Do(f func()) {
	done := make(chan struct{})
	l.Post(func() {
		defer close(done)
		f()
	})
	select {
	case <-done:
	case <-l.quit:
	}
}

// AfterFunc runs f on the loop after d. A timer stopped from the loop never
// runs, even when its task was already queued.
func (l *Loop) AfterFunc(d time.Duration, f func()) Timer {
	t := &loopTimer{}
	t.t = time.AfterFunc(max(d, 0), func() {
		l.Post(func() {
			if t.stopped.Swap(true) {
				return
			}
			f()
		})
	})
	return t
}

type loopTimer struct {
	t       *time.Timer
	stopped atomic.Bool
}

func (t *loopTimer) Stop() bool {
	t.t.Stop()
	return !t.stopped.Swap(true)
}
