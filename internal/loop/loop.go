// Package loop provides the single-threaded executor the call core runs on.
//
// Every piece of session state is owned by one goroutine. Device and network
// work runs elsewhere and hands a continuation back to the loop, so state is
// only ever mutated from callbacks the loop executes in order.
package loop

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

var ErrClosed = errors.New("loop closed")

// Timer is a cancellable callback scheduled on a Scheduler.
type Timer interface {
	// Stop prevents the callback from running. It reports whether the call
	// stopped the timer before it fired.
	Stop() bool
}

// Scheduler is what loop-confined components depend on.
type Scheduler interface {
	// Post queues f to run on the loop.
	Post(f func())

	// AfterFunc runs f on the loop once d has elapsed.
	AfterFunc(d time.Duration, f func()) Timer

	// Go runs work off the loop; the continuation it returns (if any) runs
	// on the loop.
	Go(work func() func())

	Now() time.Time
}

// Runner is a Scheduler that callers outside the loop can also use to run
// work on it and wait for the result.
type Runner interface {
	Scheduler
	Do(ctx context.Context, f func()) error
}

// Loop is the goroutine-backed Scheduler used at runtime.
type Loop struct {
	mu     sync.Mutex
	queue  []func()
	closed bool

	wake      chan struct{}
	quit      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// New creates a loop. Nothing runs until Run is called.
func New() *Loop {
	return &Loop{
		wake: make(chan struct{}, 1),
		quit: make(chan struct{}),
		done: make(chan struct{}),
	}
}

// Run processes queued callbacks until ctx is done or Close is called.
func (l *Loop) Run(ctx context.Context) error {
	defer l.shutdown()

	for {
		batch := l.take()
		for _, f := range batch {
			f()
		}
		if len(batch) > 0 {
			continue
		}

		select {
		case <-l.wake:
		case <-l.quit:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (l *Loop) take() []func() {
	l.mu.Lock()
	defer l.mu.Unlock()
	batch := l.queue
	l.queue = nil
	return batch
}

func (l *Loop) shutdown() {
	l.mu.Lock()
	l.closed = true
	l.queue = nil
	l.mu.Unlock()
	close(l.done)
}

// Post queues f. Calls after the loop has stopped are dropped.
func (l *Loop) Post(f func()) {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.queue = append(l.queue, f)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// Do runs f on the loop and waits for it. It must not be called from the
// loop itself.
func (l *Loop) Do(ctx context.Context, f func()) error {
	finished := make(chan struct{})
	l.Post(func() {
		defer close(finished)
		f()
	})

	select {
	case <-finished:
		return nil
	case <-l.done:
		select {
		case <-finished:
			return nil
		default:
			return ErrClosed
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *Loop) AfterFunc(d time.Duration, f func()) Timer {
	t := &loopTimer{}
	t.timer = time.AfterFunc(d, func() {
		l.Post(func() {
			if t.stopped.Load() {
				return
			}
			f()
		})
	})
	return t
}

func (l *Loop) Go(work func() func()) {
	go func() {
		if cont := work(); cont != nil {
			l.Post(cont)
		}
	}()
}

func (l *Loop) Now() time.Time {
	return time.Now()
}

// Close stops Run. Pending callbacks are discarded.
func (l *Loop) Close() {
	l.closeOnce.Do(func() {
		close(l.quit)
	})
}

// Done is closed once Run has returned.
func (l *Loop) Done() <-chan struct{} {
	return l.done
}

type loopTimer struct {
	timer   *time.Timer
	stopped atomic.Bool
}

func (t *loopTimer) Stop() bool {
	if t.stopped.Swap(true) {
		return false
	}
	return t.timer.Stop()
}
