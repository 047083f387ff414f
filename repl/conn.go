package repl

import (
	"fmt"
	"time"

	serial "github.com/luhtfiimanal/go-serial-repl"
	"github.com/luhtfiimanal/go-serial-repl/internal/logutil"
)

var logger = logutil.GetLogger("[repl] ")

// ErrNotOpen is returned when writing to a Direct connection that is closed.
var ErrNotOpen = fmt.Errorf("repl: connection not open: %w", serial.ErrClosed)

// variant is the behaviour that differs between Direct and FlowControlled.
type variant interface {
	open(c *Connection) error
	close(c *Connection)
	write(c *Connection, p []byte) error
	sendInterrupt(c *Connection) error
	received(c *Connection, p []byte) ([]byte, error)
	ready(c *Connection) bool
	idle() bool
}

// Connection is a REPL session over a serial.Channel. It owns the channel
// exclusively.
//
// A Connection is not safe for concurrent use. All methods, and all
// callbacks it invokes, run on the goroutine of its Scheduler; other
// goroutines should go through Loop.Call.
type Connection struct {
	ch    serial.Channel
	sched Scheduler
	cfg   Config
	v     variant

	isOpen bool
	// session is bumped on every Open and Close so that events queued by an
	// earlier session are dropped.
	session uint64

	subscribers  []*subscriber
	onDisconnect []func(error)
	onReady      []func()
}

type subscriber struct {
	fn        func([]byte)
	cancelled bool
}

// New returns a closed Connection over ch. The variant is chosen by
// cfg.Variant.
func New(ch serial.Channel, sched Scheduler, cfg Config) (*Connection, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	c := &Connection{ch: ch, sched: sched, cfg: cfg}
	switch cfg.Variant {
	case Direct:
		c.v = direct{}
	case FlowControlled:
		c.v = newFlowControl(cfg)
	}
	return c, nil
}

// Config returns the effective configuration.
func (c *Connection) Config() Config { return c.cfg }

// Port returns the name of the underlying port.
func (c *Connection) Port() string { return c.ch.Name() }

// IsOpen reports whether the channel is open.
func (c *Connection) IsOpen() bool { return c.isOpen }

// Ready reports whether writes go to the wire rather than being queued.
func (c *Connection) Ready() bool { return c.v.ready(c) }

// Idle reports whether every write so far has been handed to the channel
// and no chunk is waiting for an ACK.
func (c *Connection) Idle() bool { return c.v.idle() }

// Subscribe registers fn to receive inbound data. Each inbound batch is
// delivered exactly once, in order, after control bytes have been removed;
// fn must not retain or modify the slice. The returned function cancels the
// subscription.
func (c *Connection) Subscribe(fn func([]byte)) (cancel func()) {
	s := &subscriber{fn: fn}
	c.subscribers = append(c.subscribers, s)
	return func() {
		s.cancelled = true
		for i, x := range c.subscribers {
			if x == s {
				c.subscribers = append(c.subscribers[:i:i], c.subscribers[i+1:]...)
				return
			}
		}
	}
}

// OnDisconnect registers fn to be called when the connection closes itself
// because of an I/O failure.
func (c *Connection) OnDisconnect(fn func(error)) {
	c.onDisconnect = append(c.onDisconnect, fn)
}

// OnReady registers fn to be called each time the connection becomes ready.
func (c *Connection) OnReady(fn func()) {
	c.onReady = append(c.onReady, fn)
}

// Open opens the channel and starts the readiness sequence. If it fails the
// connection is left closed and Open may be retried.
func (c *Connection) Open() error {
	if c.isOpen {
		return nil
	}
	c.session++
	session := c.session
	c.ch.OnDataAvailable(func() {
		c.sched.Post(func() { c.dataAvailable(session) })
	})
	c.ch.OnError(func(err error) {
		c.sched.Post(func() {
			if c.current(session) {
				c.fail(err)
			}
		})
	})
	if err := c.ch.Open(); err != nil {
		logger.Printf("open %s: %v", c.ch.Name(), err)
		return err
	}
	c.isOpen = true
	logger.Printf("%s open (%s)", c.ch.Name(), c.cfg.Variant)
	if err := c.v.open(c); err != nil {
		c.Close()
		return err
	}
	return nil
}

// Close closes the channel. Anything not yet on the wire, including a
// partly sent chunk, is abandoned. Data queued before readiness is kept for
// the next Open.
func (c *Connection) Close() error {
	if !c.isOpen {
		return nil
	}
	c.isOpen = false
	c.session++
	c.v.close(c)
	err := c.ch.Close()
	logger.Printf("%s closed", c.ch.Name())
	return err
}

// Write sends p to the device, or queues it if the connection is not ready.
func (c *Connection) Write(p []byte) error {
	return c.v.write(c, p)
}

// SendInterrupt asks the device to leave paste mode and stop the running
// program.
func (c *Connection) SendInterrupt() error {
	return c.v.sendInterrupt(c)
}

func (c *Connection) current(session uint64) bool {
	return c.isOpen && session == c.session
}

func (c *Connection) dataAvailable(session uint64) {
	if !c.current(session) {
		return
	}
	p := c.ch.ReadAvailable()
	if len(p) == 0 {
		return
	}
	out, err := c.v.received(c, p)
	c.emit(out)
	if err != nil && c.current(session) {
		c.fail(err)
	}
}

func (c *Connection) emit(p []byte) {
	subs := append([]*subscriber(nil), c.subscribers...)
	for _, s := range subs {
		if !s.cancelled {
			s.fn(p)
		}
	}
}

func (c *Connection) becameReady() {
	logger.Printf("%s ready at %d baud", c.ch.Name(), c.ch.BaudRate())
	for _, fn := range c.onReady {
		fn()
	}
}

// fail closes the connection after an asynchronous I/O error.
func (c *Connection) fail(err error) {
	logger.Printf("%s: %v", c.ch.Name(), err)
	c.Close()
	for _, fn := range c.onDisconnect {
		fn(err)
	}
}

// after runs fn on the scheduler after d unless the session has ended.
func (c *Connection) after(d time.Duration, fn func() error) Timer {
	session := c.session
	return c.sched.AfterFunc(d, func() {
		if !c.current(session) {
			return
		}
		if err := fn(); err != nil {
			c.fail(err)
		}
	})
}

// post runs fn on the scheduler unless the session has ended.
func (c *Connection) post(fn func() error) {
	session := c.session
	c.sched.Post(func() {
		if !c.current(session) {
			return
		}
		if err := fn(); err != nil {
			c.fail(err)
		}
	})
}

// direct relays bytes unchanged.
type direct struct{}

func (direct) open(c *Connection) error {
	c.becameReady()
	return nil
}

func (direct) close(*Connection) {}

func (direct) write(c *Connection, p []byte) error {
	if !c.isOpen {
		return ErrNotOpen
	}
	return c.ch.Write(p)
}

// sendInterrupt bypasses any buffering: the sequence goes straight to the
// channel.
func (d direct) sendInterrupt(c *Connection) error {
	return d.write(c, interruptSequence)
}

func (direct) received(_ *Connection, p []byte) ([]byte, error) { return p, nil }
func (direct) ready(c *Connection) bool                         { return c.isOpen }
func (direct) idle() bool                                       { return true }
