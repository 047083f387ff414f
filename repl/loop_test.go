package repl

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func runLoop(t *testing.T) (*Loop, context.Context) {
	t.Helper()
	loop := NewLoop()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		loop.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return loop, ctx
}

func TestLoop_PostRunsInOrder(t *testing.T) {
	loop, ctx := runLoop(t)

	var got []int
	for i := 0; i < 100; i++ {
		i := i
		loop.Post(func() { got = append(got, i) })
	}
	require.NoError(t, loop.Call(ctx, func() error { return nil }))
	require.Len(t, got, 100)
	for i, v := range got {
		require.Equal(t, i, v)
	}
}

func TestLoop_PostFromCallback(t *testing.T) {
	loop, ctx := runLoop(t)

	done := make(chan int, 1)
	loop.Post(func() {
		n := 0
		var step func()
		step = func() {
			n++
			if n == 1000 {
				done <- n
				return
			}
			loop.Post(step)
		}
		step()
	})
	select {
	case n := <-done:
		require.Equal(t, 1000, n)
	case <-ctx.Done():
		t.Fatal("loop stopped")
	case <-time.After(time.Second):
		t.Fatal("timeout")
	}
}

func TestLoop_CallReturnsError(t *testing.T) {
	loop, ctx := runLoop(t)

	boom := errors.New("boom")
	require.ErrorIs(t, loop.Call(ctx, func() error { return boom }), boom)
}

func TestLoop_CallHonoursContext(t *testing.T) {
	loop := NewLoop() // never run
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	err := loop.Call(ctx, func() error { return nil })
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestLoop_AfterFunc(t *testing.T) {
	loop, ctx := runLoop(t)

	fired := make(chan time.Duration, 1)
	start := time.Now()
	loop.Post(func() {
		loop.AfterFunc(20*time.Millisecond, func() { fired <- time.Since(start) })
	})
	select {
	case d := <-fired:
		require.GreaterOrEqual(t, d, 20*time.Millisecond)
	case <-time.After(time.Second):
		t.Fatal("timer did not fire")
	}
	require.NoError(t, loop.Call(ctx, func() error { return nil }))
}

func TestLoop_TimerStop(t *testing.T) {
	loop, ctx := runLoop(t)

	fired := make(chan struct{}, 1)
	var stopped bool
	require.NoError(t, loop.Call(ctx, func() error {
		tm := loop.AfterFunc(5*time.Millisecond, func() { fired <- struct{}{} })
		stopped = tm.Stop()
		return nil
	}))
	require.True(t, stopped)

	select {
	case <-fired:
		t.Fatal("stopped timer fired")
	case <-time.After(50 * time.Millisecond):
	}
}

// A timer that expires while the loop is busy is still cancelled by a Stop
// that runs before its callback is dequeued.
func TestLoop_TimerStopAfterExpiry(t *testing.T) {
	loop, ctx := runLoop(t)

	fired := make(chan struct{}, 1)
	var stopped bool
	require.NoError(t, loop.Call(ctx, func() error {
		tm := loop.AfterFunc(time.Millisecond, func() { fired <- struct{}{} })
		time.Sleep(20 * time.Millisecond)
		stopped = tm.Stop()
		return nil
	}))
	require.True(t, stopped)
	require.NoError(t, loop.Call(ctx, func() error { return nil }))

	select {
	case <-fired:
		t.Fatal("stopped timer fired")
	default:
	}
}

func TestLoop_RunStopsOnCancel(t *testing.T) {
	loop := NewLoop()
	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- loop.Run(ctx) }()
	cancel()

	select {
	case err := <-errc:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Run did not return")
	}
}

func TestLoop_CallAfterRunReturns(t *testing.T) {
	loop := NewLoop()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, loop.Run(ctx), context.Canceled)

	ran := false
	err := loop.Call(context.Background(), func() error {
		ran = true
		return nil
	})
	require.ErrorIs(t, err, ErrLoopStopped)
	require.False(t, ran)
}

// A Call already queued when the loop stops is released too.
func TestLoop_CallQueuedWhenRunReturns(t *testing.T) {
	loop := NewLoop()
	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- loop.Run(ctx) }()

	block := make(chan struct{})
	loop.Post(func() {
		cancel()
		<-block
	})
	called := make(chan error, 1)
	go func() { called <- loop.Call(context.Background(), func() error { return nil }) }()
	time.Sleep(10 * time.Millisecond)
	close(block)

	require.ErrorIs(t, <-errc, context.Canceled)
	select {
	case err := <-called:
		require.ErrorIs(t, err, ErrLoopStopped)
	case <-time.After(time.Second):
		t.Fatal("Call blocked after the loop stopped")
	}
}
