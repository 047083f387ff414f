//go:build !linux

package serial

import "errors"

var errNoTermios = errors.New("termios backend is only available on linux")

// Port is the termios Channel. Outside Linux it cannot be opened; use
// BackendPortable instead.
type Port struct {
	config Config
	baud   int
	rx     rxBuffer
}

// New returns a closed Port for cfg.Device.
func New(cfg Config) *Port {
	cfg = cfg.withDefaults()
	return &Port{config: cfg, baud: cfg.BaudRate}
}

// Open always fails outside Linux.
func Open(cfg Config) (*Port, error) {
	return nil, New(cfg).Open()
}

func (p *Port) Name() string               { return p.config.Device }
func (p *Port) BaudRate() int              { return p.baud }
func (p *Port) Open() error                { return openError(p.config.Device, errNoTermios) }
func (p *Port) Close() error               { return nil }
func (p *Port) Write([]byte) error         { return ErrClosed }
func (p *Port) ReadAvailable() []byte      { return p.rx.drain() }
func (p *Port) OnDataAvailable(fn func())  { p.rx.setDataHandler(fn) }
func (p *Port) OnError(fn func(error))     { p.rx.setErrorHandler(fn) }
func (p *Port) SetBaudRate(rate int) error { p.baud = rate; return nil }
