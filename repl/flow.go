package repl

import "bytes"

// flowControl is the FlowControlled variant. Until the link is ready writes
// are queued in pending. Once ready, with flow control on, outbound data is
// sent in chunks of at most ChunkSize bytes and the device must ACK an ENQ
// before the next chunk goes out, so at most one chunk is ever unacknowledged.
type flowControl struct {
	cfg Config

	sent          int    // bytes of the current chunk on the wire, <= ChunkSize
	outbound      []byte // waiting for chunked transmission
	pending       []byte // written before the link was ready
	waitingForACK bool
	isReady       bool

	seenAutobaudResponse bool
	probe                *autobaud

	awaitingData bool
	waitTimer    Timer
	debounce     Timer
}

func newFlowControl(cfg Config) *flowControl {
	return &flowControl{cfg: cfg}
}

func (f *flowControl) ready(*Connection) bool { return f.isReady }

func (f *flowControl) idle() bool {
	return len(f.pending) == 0 && len(f.outbound) == 0 && !f.waitingForACK
}

func (f *flowControl) open(c *Connection) error {
	f.reset()
	if f.cfg.WaitForIncomingData {
		f.awaitingData = true
		f.waitTimer = c.after(f.cfg.WaitForDataTimeout, func() error {
			f.waitTimer = nil
			return f.setReady(c)
		})
		return nil
	}
	return f.setReady(c)
}

func (f *flowControl) close(*Connection) {
	f.reset()
}

// reset returns everything but pending to its initial state.
func (f *flowControl) reset() {
	f.stopTimers()
	f.isReady = false
	f.sent = 0
	f.outbound = nil
	f.waitingForACK = false
	f.seenAutobaudResponse = false
	f.awaitingData = false
}

func (f *flowControl) stopTimers() {
	if f.waitTimer != nil {
		f.waitTimer.Stop()
		f.waitTimer = nil
	}
	if f.debounce != nil {
		f.debounce.Stop()
		f.debounce = nil
	}
	if f.probe != nil {
		f.probe.cancel()
		f.probe = nil
	}
}

// setReady makes the link ready, probing for the baud rate first when flow
// control is on. It does nothing if the link is ready or being probed.
func (f *flowControl) setReady(c *Connection) error {
	if f.isReady || f.probe != nil {
		return nil
	}
	f.stopTimers()
	f.awaitingData = false
	if f.cfg.FlowControl {
		f.probe = &autobaud{f: f, c: c}
		return f.probe.start()
	}
	return f.becomeReady(c)
}

// becomeReady flushes everything written so far, in order, through write.
func (f *flowControl) becomeReady(c *Connection) error {
	f.probe = nil
	f.isReady = true
	pending := f.pending
	f.pending = nil
	if len(pending) > 0 {
		if err := f.write(c, pending); err != nil {
			return err
		}
	}
	c.becameReady()
	return nil
}

func (f *flowControl) write(c *Connection, p []byte) error {
	if !f.isReady {
		f.pending = append(f.pending, p...)
		return nil
	}
	if !f.cfg.FlowControl {
		return c.ch.Write(p)
	}
	if bytes.IndexByte(p, CtrlC) >= 0 {
		// An interrupt supersedes whatever was queued and restarts the
		// chunk accounting.
		f.outbound = append([]byte(nil), p...)
		f.sent = 0
		f.waitingForACK = false
	} else {
		f.outbound = append(f.outbound, p...)
	}
	return f.sendData(c)
}

// sendInterrupt goes through write, so it is queued before readiness and
// sequenced with outstanding chunks like any other payload.
func (f *flowControl) sendInterrupt(c *Connection) error {
	return c.Write(interruptSequence)
}

// sendData moves the next piece of outbound onto the wire, unless a chunk is
// still waiting for its ACK.
func (f *flowControl) sendData(c *Connection) error {
	if len(f.outbound) == 0 || f.waitingForACK {
		return nil
	}
	if f.sent >= f.cfg.ChunkSize {
		return f.sendENQ(c)
	}
	n := min(f.cfg.ChunkSize-f.sent, len(f.outbound))
	if err := c.ch.Write(f.outbound[:n]); err != nil {
		return err
	}
	f.outbound = f.outbound[n:]
	if len(f.outbound) == 0 {
		f.outbound = nil
	}
	f.sent += n
	if f.sent >= f.cfg.ChunkSize && len(f.outbound) > 0 {
		return f.sendENQ(c)
	}
	return nil
}

func (f *flowControl) sendENQ(c *Connection) error {
	if err := c.ch.Write([]byte{ENQ}); err != nil {
		return err
	}
	f.waitingForACK = true
	return nil
}

func (f *flowControl) recvACK(c *Connection) error {
	f.sent = 0
	f.waitingForACK = false
	return f.sendData(c)
}

// received handles control bytes in an inbound batch and returns the batch
// with them removed.
func (f *flowControl) received(c *Connection, p []byte) ([]byte, error) {
	var err error
	if bytes.IndexByte(p, ACK) >= 0 {
		if !f.waitingForACK {
			logger.Printf("%s: ACK while no chunk outstanding", c.ch.Name())
		}
		err = f.recvACK(c)
		p = stripByte(p, ACK)
	}
	if bytes.IndexByte(p, DC4) >= 0 {
		f.seenAutobaudResponse = true
		p = stripByte(p, DC4)
		if f.probe != nil {
			if perr := f.probe.responded(); err == nil {
				err = perr
			}
		} else if f.isReady {
			logger.Printf("%s: DC4 after autobaud", c.ch.Name())
		}
	}
	if bytes.IndexByte(p, ENQ) >= 0 {
		p = stripByte(p, ENQ)
	}
	if !f.isReady && f.debounce == nil && bytes.IndexByte(p, readyMarker) >= 0 {
		f.debounce = c.after(f.cfg.ReadyDebounce, func() error {
			f.debounce = nil
			return f.setReady(c)
		})
	}
	if f.awaitingData && !f.isReady {
		f.awaitingData = false
		c.post(func() error { return f.setReady(c) })
	}
	return p, err
}

func stripByte(p []byte, b byte) []byte {
	out := make([]byte, 0, len(p))
	for _, x := range p {
		if x != b {
			out = append(out, x)
		}
	}
	return out
}
