package serial

import (
	"errors"
	"fmt"
	"runtime"
	"time"

	"github.com/luhtfiimanal/go-serial-repl/internal/logutil"
)

var logger = logutil.GetLogger("[serial] ")

var (
	// ErrConnection is returned when a port cannot be opened: it does not
	// exist, access is denied or it is already in use.
	ErrConnection = errors.New("serial: cannot open port")

	// ErrIO is returned when reading or writing an open port fails.
	ErrIO = errors.New("serial: i/o error")

	// ErrClosed is returned by operations on a port that is not open.
	ErrClosed = fmt.Errorf("%w: port not open", ErrIO)

	// ErrUnsupportedBaudRate is returned for rates the backend cannot set.
	ErrUnsupportedBaudRate = errors.New("serial: unsupported baud rate")
)

// Channel is a raw duplex byte link bound to a named serial port.
//
// Open, Close, SetBaudRate, Write and ReadAvailable are meant to be called
// from one goroutine. The data-available and error callbacks are invoked from
// the backend's reader goroutine; they must not block and should hand the
// notification over to the goroutine that owns the Channel.
type Channel interface {
	// Name returns the port identifier.
	Name() string

	// Open opens the port at the current baud rate. Failures wrap
	// ErrConnection and leave the channel closed and retryable.
	Open() error

	// Close releases the port. It is idempotent.
	Close() error

	// BaudRate returns the active rate.
	BaudRate() int

	// SetBaudRate changes the rate. On an open channel the change applies
	// immediately, without closing the port.
	SetBaudRate(rate int) error

	// Write writes p in full. Failures wrap ErrIO.
	Write(p []byte) error

	// ReadAvailable drains and returns whatever has been received so far.
	// It never blocks and returns nil when nothing is buffered.
	ReadAvailable() []byte

	// OnDataAvailable registers fn to be called whenever new bytes arrive.
	OnDataAvailable(fn func())

	// OnError registers fn to be called once when the reader fails.
	OnError(fn func(error))
}

// Backend selects the driver behind a Channel.
type Backend string

const (
	// BackendTermios drives the port directly through Linux termios ioctls.
	BackendTermios Backend = "termios"
	// BackendPortable uses go.bug.st/serial.
	BackendPortable Backend = "portable"
	// BackendTarm uses github.com/tarm/serial. Baud changes reopen the port.
	BackendTarm Backend = "tarm"
)

// DefaultBackend is the backend used when Config.Backend is empty.
func DefaultBackend() Backend {
	if runtime.GOOS == "linux" {
		return BackendTermios
	}
	return BackendPortable
}

// Config holds configuration parameters for a serial channel.
type Config struct {
	Device      string        `yaml:"device"`
	BaudRate    int           `yaml:"baud_rate"`
	Backend     Backend       `yaml:"backend"`
	ReadTimeout time.Duration `yaml:"read_timeout"` // poll interval for the portable and tarm backends
}

// DefaultConfig returns a configuration for device at 115200 baud.
func DefaultConfig(device string) Config {
	return Config{
		Device:      device,
		BaudRate:    115200,
		Backend:     DefaultBackend(),
		ReadTimeout: 50 * time.Millisecond,
	}
}

func (cfg Config) withDefaults() Config {
	d := DefaultConfig(cfg.Device)
	if cfg.BaudRate == 0 {
		cfg.BaudRate = d.BaudRate
	}
	if cfg.Backend == "" {
		cfg.Backend = d.Backend
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = d.ReadTimeout
	}
	return cfg
}

// NewChannel returns a closed Channel for cfg.Device using cfg.Backend.
func NewChannel(cfg Config) (Channel, error) {
	if cfg.Device == "" {
		return nil, fmt.Errorf("%w: no device given", ErrConnection)
	}
	cfg = cfg.withDefaults()
	switch cfg.Backend {
	case BackendTermios:
		return New(cfg), nil
	case BackendPortable:
		return NewPortable(cfg), nil
	case BackendTarm:
		return NewTarm(cfg), nil
	default:
		return nil, fmt.Errorf("serial: unknown backend %q", cfg.Backend)
	}
}

func openError(device string, err error) error {
	return fmt.Errorf("%w %s: %w", ErrConnection, device, err)
}

func ioError(device, op string, err error) error {
	return fmt.Errorf("%w: %s %s: %w", ErrIO, op, device, err)
}
