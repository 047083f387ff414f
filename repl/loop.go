package repl

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrLoopStopped is returned by Call once Run has returned.
var ErrLoopStopped = errors.New("repl: loop stopped")

// Scheduler runs callbacks one at a time on a single logical thread.
// Connection state is only ever touched from callbacks run by its Scheduler.
type Scheduler interface {
	// Post queues fn to run on the scheduler. It never blocks.
	Post(fn func())

	// AfterFunc runs fn on the scheduler once d has elapsed.
	AfterFunc(d time.Duration, fn func()) Timer
}

// Timer is a pending AfterFunc callback.
type Timer interface {
	// Stop prevents the callback from running. Called from the scheduler's
	// own thread it is exact: it reports false only if the callback has
	// already run.
	Stop() bool
}

// Loop is a Scheduler backed by one goroutine, the one calling Run.
type Loop struct {
	mu      sync.Mutex
	queue   []func()
	stopped bool
	wake    chan struct{}
	done    chan struct{}
}

// NewLoop returns a Loop. Nothing runs until Run is called.
func NewLoop() *Loop {
	return &Loop{wake: make(chan struct{}, 1), done: make(chan struct{})}
}

// Post queues fn. The queue is unbounded so Post is safe from inside a
// callback.
// Callbacks posted after Run has returned are dropped.
func (l *Loop) Post(fn func()) {
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		return
	}
	l.queue = append(l.queue, fn)
	l.mu.Unlock()
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// Run executes queued callbacks in order until ctx is done. A Loop runs
// once: callbacks still queued when Run returns are discarded.
func (l *Loop) Run(ctx context.Context) error {
	defer l.stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.wake:
		}
		for {
			l.mu.Lock()
			if len(l.queue) == 0 {
				l.mu.Unlock()
				break
			}
			fn := l.queue[0]
			l.queue[0] = nil
			l.queue = l.queue[1:]
			l.mu.Unlock()
			fn()
			if ctx.Err() != nil {
				return ctx.Err()
			}
		}
	}
}

func (l *Loop) stop() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.stopped {
		return
	}
	l.stopped = true
	l.queue = nil
	close(l.done)
}

// Call runs fn on the loop and waits for its result. It must not be used
// from inside a loop callback. If Run returns before fn has run, Call
// returns ErrLoopStopped.
func (l *Loop) Call(ctx context.Context, fn func() error) error {
	res := make(chan error, 1)
	l.Post(func() { res <- fn() })
	select {
	case err := <-res:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-l.done:
		select {
		case err := <-res:
			return err
		default:
			return ErrLoopStopped
		}
	}
}

// AfterFunc schedules fn on the loop after d.
func (l *Loop) AfterFunc(d time.Duration, fn func()) Timer {
	t := &loopTimer{}
	t.t = time.AfterFunc(d, func() {
		l.Post(func() {
			if t.stopped {
				return
			}
			t.fired = true
			fn()
		})
	})
	return t
}

// loopTimer flags are only touched on the loop goroutine.
type loopTimer struct {
	t       *time.Timer
	stopped bool
	fired   bool
}

func (t *loopTimer) Stop() bool {
	t.t.Stop()
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}
