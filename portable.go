package serial

import (
	"fmt"
	"io"

	bugst "go.bug.st/serial"
)

// openBugst is replaced in tests.
var openBugst = func(name string, mode *bugst.Mode) (bugst.Port, error) { return bugst.Open(name, mode) }

// PortableChannel is a Channel backed by go.bug.st/serial. It works on every
// OS that library supports and switches baud rate with SetMode.
type PortableChannel struct {
	config Config
	baud   int
	rx     rxBuffer

	port   bugst.Port
	done   chan struct{}
	exited chan struct{}
}

// NewPortable returns a closed PortableChannel for cfg.Device.
func NewPortable(cfg Config) *PortableChannel {
	cfg = cfg.withDefaults()
	return &PortableChannel{config: cfg, baud: cfg.BaudRate}
}

func (c *PortableChannel) mode(rate int) *bugst.Mode {
	return &bugst.Mode{
		BaudRate: rate,
		DataBits: 8,
		Parity:   bugst.NoParity,
		StopBits: bugst.OneStopBit,
	}
}

func (c *PortableChannel) Name() string  { return c.config.Device }
func (c *PortableChannel) BaudRate() int { return c.baud }

func (c *PortableChannel) Open() error {
	if c.port != nil {
		return nil
	}
	port, err := openBugst(c.config.Device, c.mode(c.baud))
	if err != nil {
		return openError(c.config.Device, err)
	}
	if err := port.SetReadTimeout(c.config.ReadTimeout); err != nil {
		port.Close()
		return openError(c.config.Device, fmt.Errorf("set read timeout: %w", err))
	}
	c.port = port
	c.done = make(chan struct{})
	c.exited = make(chan struct{})
	c.rx.reset()
	go c.readLoop(port, c.done, c.exited)
	logger.Printf("opened %s at %d baud (portable)", c.config.Device, c.baud)
	return nil
}

func (c *PortableChannel) readLoop(port bugst.Port, done, exited chan struct{}) {
	defer close(exited)
	buf := make([]byte, 1024)
	for {
		n, err := port.Read(buf)
		select {
		case <-done:
			return
		default:
		}
		if err != nil {
			c.rx.fail(ioError(c.config.Device, "read", err))
			return
		}
		c.rx.push(buf[:n])
	}
}

func (c *PortableChannel) SetBaudRate(rate int) error {
	if !IsStandardBaudRate(rate) {
		return fmt.Errorf("%w: %d", ErrUnsupportedBaudRate, rate)
	}
	if c.port != nil {
		if err := c.port.SetMode(c.mode(rate)); err != nil {
			return ioError(c.config.Device, "set mode", err)
		}
		logger.Printf("%s: baud rate %d", c.config.Device, rate)
	}
	c.baud = rate
	return nil
}

func (c *PortableChannel) Write(p []byte) error {
	if c.port == nil {
		return ErrClosed
	}
	for len(p) > 0 {
		n, err := c.port.Write(p)
		if err != nil {
			return ioError(c.config.Device, "write", err)
		}
		if n == 0 {
			return ioError(c.config.Device, "write", io.ErrShortWrite)
		}
		p = p[n:]
	}
	return nil
}

func (c *PortableChannel) ReadAvailable() []byte     { return c.rx.drain() }
func (c *PortableChannel) OnDataAvailable(fn func()) { c.rx.setDataHandler(fn) }
func (c *PortableChannel) OnError(fn func(error))    { c.rx.setErrorHandler(fn) }

func (c *PortableChannel) Close() error {
	if c.port == nil {
		return nil
	}
	port := c.port
	c.port = nil
	close(c.done)
	err := port.Close()
	<-c.exited
	logger.Printf("closed %s", c.config.Device)
	return err
}
