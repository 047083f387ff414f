package serial

import (
	"errors"
	"fmt"
	"io"

	tarm "github.com/tarm/serial"
)

// openTarm is replaced in tests.
var openTarm = func(cfg *tarm.Config) (io.ReadWriteCloser, error) { return tarm.OpenPort(cfg) }

// TarmChannel is a Channel backed by github.com/tarm/serial. That library
// cannot change the speed of an open port, so SetBaudRate reopens it; bytes
// in flight during the switch are lost.
type TarmChannel struct {
	config Config
	baud   int
	rx     rxBuffer

	port   io.ReadWriteCloser
	done   chan struct{}
	exited chan struct{}
}

// NewTarm returns a closed TarmChannel for cfg.Device.
func NewTarm(cfg Config) *TarmChannel {
	cfg = cfg.withDefaults()
	return &TarmChannel{config: cfg, baud: cfg.BaudRate}
}

func (c *TarmChannel) Name() string  { return c.config.Device }
func (c *TarmChannel) BaudRate() int { return c.baud }

func (c *TarmChannel) Open() error {
	if c.port != nil {
		return nil
	}
	if err := c.start(c.baud); err != nil {
		return openError(c.config.Device, err)
	}
	logger.Printf("opened %s at %d baud (tarm)", c.config.Device, c.baud)
	return nil
}

func (c *TarmChannel) start(rate int) error {
	port, err := openTarm(&tarm.Config{
		Name:        c.config.Device,
		Baud:        rate,
		ReadTimeout: c.config.ReadTimeout,
	})
	if err != nil {
		return err
	}
	c.port = port
	c.done = make(chan struct{})
	c.exited = make(chan struct{})
	c.rx.reset()
	go c.readLoop(port, c.done, c.exited)
	return nil
}

func (c *TarmChannel) stop() error {
	port := c.port
	c.port = nil
	close(c.done)
	err := port.Close()
	<-c.exited
	return err
}

func (c *TarmChannel) readLoop(port io.Reader, done, exited chan struct{}) {
	defer close(exited)
	buf := make([]byte, 1024)
	for {
		n, err := port.Read(buf)
		select {
		case <-done:
			return
		default:
		}
		// A read timeout surfaces as io.EOF on posix.
		if err != nil && !errors.Is(err, io.EOF) {
			c.rx.fail(ioError(c.config.Device, "read", err))
			return
		}
		c.rx.push(buf[:n])
	}
}

func (c *TarmChannel) SetBaudRate(rate int) error {
	if !IsStandardBaudRate(rate) {
		return fmt.Errorf("%w: %d", ErrUnsupportedBaudRate, rate)
	}
	if c.port != nil && rate != c.baud {
		stopErr := c.stop()
		if stopErr != nil {
			logger.Printf("%s: close before reopen: %v", c.config.Device, stopErr)
		}
		if err := c.start(rate); err != nil {
			return ioError(c.config.Device, "reopen", errors.Join(stopErr, err))
		}
		logger.Printf("%s: reopened at %d baud", c.config.Device, rate)
	}
	c.baud = rate
	return nil
}

func (c *TarmChannel) Write(p []byte) error {
	if c.port == nil {
		return ErrClosed
	}
	if _, err := c.port.Write(p); err != nil {
		return ioError(c.config.Device, "write", err)
	}
	return nil
}

func (c *TarmChannel) ReadAvailable() []byte     { return c.rx.drain() }
func (c *TarmChannel) OnDataAvailable(fn func()) { c.rx.setDataHandler(fn) }
func (c *TarmChannel) OnError(fn func(error))    { c.rx.setErrorHandler(fn) }

func (c *TarmChannel) Close() error {
	if c.port == nil {
		return nil
	}
	err := c.stop()
	logger.Printf("closed %s", c.config.Device)
	return err
}
