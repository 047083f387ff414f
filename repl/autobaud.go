package repl

// autobaud probes the candidate rates in order. At each rate it sends DC4
// and waits ProbeTimeout for the device to echo a DC4. The first rate that
// gets an answer is kept; if none does, the nominal rate is restored. Either
// way the link then becomes ready.
type autobaud struct {
	f     *flowControl
	c     *Connection
	next  int
	timer Timer
}

func (a *autobaud) start() error {
	a.f.seenAutobaudResponse = false
	return a.probeNext()
}

func (a *autobaud) probeNext() error {
	a.timer = nil
	if a.f.seenAutobaudResponse {
		return a.finish()
	}
	candidates := a.f.cfg.BaudRateCandidates
	if a.next >= len(candidates) {
		logger.Printf("%s: no autobaud response, using %d", a.c.ch.Name(), a.f.cfg.BaudRate)
		if err := a.c.ch.SetBaudRate(a.f.cfg.BaudRate); err != nil {
			return err
		}
		return a.f.becomeReady(a.c)
	}
	rate := candidates[a.next]
	a.next++
	if err := a.c.ch.SetBaudRate(rate); err != nil {
		return err
	}
	if err := a.c.ch.Write([]byte{DC4}); err != nil {
		return err
	}
	a.timer = a.c.after(a.f.cfg.ProbeTimeout, a.probeNext)
	return nil
}

// responded is called when a DC4 arrives during probing.
func (a *autobaud) responded() error {
	a.cancel()
	return a.finish()
}

func (a *autobaud) finish() error {
	logger.Printf("%s: autobaud answered at %d", a.c.ch.Name(), a.c.ch.BaudRate())
	return a.f.becomeReady(a.c)
}

func (a *autobaud) cancel() {
	if a.timer != nil {
		a.timer.Stop()
		a.timer = nil
	}
}
