package repl

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	serial "github.com/luhtfiimanal/go-serial-repl"
)

// fakeChannel is an in-memory serial.Channel. onWrite lets a test play the
// device.
type fakeChannel struct {
	isOpen   bool
	openErr  error
	writeErr error
	baud     int
	bauds    []int
	writes   [][]byte
	rx       []byte
	onData   func()
	onErr    func(error)
	onWrite  func(p []byte)
	closes   int
}

func (f *fakeChannel) Name() string  { return "fake0" }
func (f *fakeChannel) BaudRate() int { return f.baud }

func (f *fakeChannel) Open() error {
	if f.openErr != nil {
		return f.openErr
	}
	f.isOpen = true
	return nil
}

func (f *fakeChannel) Close() error {
	if f.isOpen {
		f.closes++
	}
	f.isOpen = false
	return nil
}

func (f *fakeChannel) SetBaudRate(rate int) error {
	f.bauds = append(f.bauds, rate)
	f.baud = rate
	return nil
}

func (f *fakeChannel) Write(p []byte) error {
	if !f.isOpen {
		return serial.ErrClosed
	}
	if f.writeErr != nil {
		return f.writeErr
	}
	f.writes = append(f.writes, append([]byte(nil), p...))
	if f.onWrite != nil {
		f.onWrite(p)
	}
	return nil
}

func (f *fakeChannel) ReadAvailable() []byte {
	p := f.rx
	f.rx = nil
	return p
}

func (f *fakeChannel) OnDataAvailable(fn func()) { f.onData = fn }
func (f *fakeChannel) OnError(fn func(error))    { f.onErr = fn }

// inject simulates bytes arriving from the device.
func (f *fakeChannel) inject(p []byte) {
	f.rx = append(f.rx, p...)
	f.onData()
}

func (f *fakeChannel) wire() []byte { return bytes.Join(f.writes, nil) }

func (f *fakeChannel) resetWrites() { f.writes = nil }

// fakeScheduler runs posted callbacks and timers against a virtual clock.
type fakeScheduler struct {
	now    time.Duration
	queue  []func()
	timers []*fakeTimer
}

type fakeTimer struct {
	at      time.Duration
	fn      func()
	stopped bool
	fired   bool
}

func (t *fakeTimer) Stop() bool {
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}

func (s *fakeScheduler) Post(fn func()) { s.queue = append(s.queue, fn) }

func (s *fakeScheduler) AfterFunc(d time.Duration, fn func()) Timer {
	t := &fakeTimer{at: s.now + d, fn: fn}
	s.timers = append(s.timers, t)
	return t
}

// run executes posted callbacks until the queue is empty.
func (s *fakeScheduler) run() {
	for len(s.queue) > 0 {
		fn := s.queue[0]
		s.queue = s.queue[1:]
		fn()
	}
}

// advance moves the clock forward by d, firing due timers in order.
func (s *fakeScheduler) advance(d time.Duration) {
	target := s.now + d
	for {
		s.run()
		var next *fakeTimer
		for _, t := range s.timers {
			if t.stopped || t.fired || t.at > target {
				continue
			}
			if next == nil || t.at < next.at {
				next = t
			}
		}
		if next == nil {
			break
		}
		s.now = next.at
		next.fired = true
		next.fn()
	}
	s.now = target
	s.run()
}

func (s *fakeScheduler) activeTimers() int {
	n := 0
	for _, t := range s.timers {
		if !t.stopped && !t.fired {
			n++
		}
	}
	return n
}

type harness struct {
	conn   *Connection
	ch     *fakeChannel
	sched  *fakeScheduler
	events [][]byte
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	h := &harness{ch: &fakeChannel{baud: DefaultBaudRate}, sched: &fakeScheduler{}}
	conn, err := New(h.ch, h.sched, cfg)
	require.NoError(t, err)
	h.conn = conn
	conn.Subscribe(func(p []byte) { h.events = append(h.events, append([]byte{}, p...)) })
	return h
}

// flow returns the FlowControlled state.
func (h *harness) flow() *flowControl { return h.conn.v.(*flowControl) }

// openReady opens a flow-controlled connection whose device answers the
// first autobaud probe, and clears the probe traffic.
func (h *harness) openReady(t *testing.T) {
	t.Helper()
	h.ch.onWrite = func(p []byte) {
		if bytes.Equal(p, []byte{DC4}) {
			h.ch.inject([]byte{DC4})
		}
	}
	require.NoError(t, h.conn.Open())
	h.sched.run()
	require.True(t, h.conn.Ready())
	h.ch.onWrite = nil
	h.ch.resetWrites()
	h.events = nil
}

// inject delivers p from the device and runs the scheduler.
func (h *harness) inject(p []byte) {
	h.ch.inject(p)
	h.sched.run()
}
