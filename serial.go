//go:build linux

package serial

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"syscall"

	"golang.org/x/sys/unix"
)

// Port is a Channel that drives a Linux tty directly through termios.
// The port is configured for raw, low-latency, non-buffered operation.
type Port struct {
	config Config
	baud   int
	rx     rxBuffer
	s      *session
}

// session holds the OS handles of one Open..Close cycle.
type session struct {
	fd        int
	file      *os.File
	done      chan struct{}
	exited    chan struct{}
	closeOnce sync.Once
	pipeR     int // self-pipe read fd
	pipeW     int // self-pipe write fd
}

// New returns a closed Port for cfg.Device.
func New(cfg Config) *Port {
	cfg = cfg.withDefaults()
	return &Port{config: cfg, baud: cfg.BaudRate}
}

// Open returns a Port for cfg.Device that is already open.
func Open(cfg Config) (*Port, error) {
	p := New(cfg)
	if err := p.Open(); err != nil {
		return nil, err
	}
	return p, nil
}

// Name returns the device path.
func (p *Port) Name() string { return p.config.Device }

// BaudRate returns the active rate.
func (p *Port) BaudRate() int { return p.baud }

// Open opens the device and starts the reader goroutine. Calling Open on an
// open Port does nothing.
func (p *Port) Open() error {
	if p.s != nil {
		return nil
	}
	speed, err := baudToUnix(p.baud)
	if err != nil {
		return openError(p.config.Device, err)
	}

	fd, err := syscall.Open(p.config.Device, syscall.O_RDWR|syscall.O_NOCTTY|syscall.O_NONBLOCK, 0666)
	if err != nil {
		return openError(p.config.Device, err)
	}

	if err := makeRaw(fd, speed); err != nil {
		syscall.Close(fd)
		return openError(p.config.Device, err)
	}

	// Turn back into blocking mode now that config is done
	if err := syscall.SetNonblock(fd, false); err != nil {
		syscall.Close(fd)
		return openError(p.config.Device, err)
	}

	// Create self-pipe for killability
	pipeFds := make([]int, 2)
	if err := unix.Pipe(pipeFds); err != nil {
		syscall.Close(fd)
		return openError(p.config.Device, fmt.Errorf("pipe: %w", err))
	}

	s := &session{
		fd:     fd,
		file:   os.NewFile(uintptr(fd), p.config.Device),
		done:   make(chan struct{}),
		exited: make(chan struct{}),
		pipeR:  pipeFds[0],
		pipeW:  pipeFds[1],
	}
	p.rx.reset()
	p.s = s
	go p.readLoop(s)
	logger.Printf("opened %s at %d baud", p.config.Device, p.baud)
	return nil
}

func makeRaw(fd int, speed uint32) error {
	termios, err := unix.IoctlGetTermios(fd, unix.TCGETS)
	if err != nil {
		return fmt.Errorf("get termios: %w", err)
	}

	termios.Iflag &^= unix.IGNBRK | unix.BRKINT | unix.PARMRK | unix.ISTRIP | unix.INLCR | unix.IGNCR | unix.ICRNL | unix.IXON
	termios.Oflag &^= unix.OPOST
	termios.Lflag &^= unix.ECHO | unix.ECHONL | unix.ICANON | unix.ISIG | unix.IEXTEN
	termios.Cflag &^= unix.CSIZE | unix.PARENB
	termios.Cflag |= unix.CS8 | unix.CREAD | unix.CLOCAL

	termios.Cflag &^= unix.CBAUD
	termios.Cflag |= speed

	// VMIN=1, VTIME=0: a read returns as soon as one byte is there
	termios.Cc[unix.VMIN] = 1
	termios.Cc[unix.VTIME] = 0

	if err := unix.IoctlSetTermios(fd, unix.TCSETS, termios); err != nil {
		return fmt.Errorf("set termios: %w", err)
	}
	return nil
}

// SetBaudRate switches the line speed. An open port is reconfigured in
// place; a closed one uses the rate on the next Open.
func (p *Port) SetBaudRate(rate int) error {
	speed, err := baudToUnix(rate)
	if err != nil {
		return err
	}
	if p.s != nil {
		termios, err := unix.IoctlGetTermios(p.s.fd, unix.TCGETS)
		if err != nil {
			return ioError(p.config.Device, "get termios", err)
		}
		termios.Cflag &^= unix.CBAUD
		termios.Cflag |= speed
		if err := unix.IoctlSetTermios(p.s.fd, unix.TCSETS, termios); err != nil {
			return ioError(p.config.Device, "set termios", err)
		}
		logger.Printf("%s: baud rate %d", p.config.Device, rate)
	}
	p.baud = rate
	return nil
}

// Write writes b to the port.
func (p *Port) Write(b []byte) error {
	if p.s == nil {
		return ErrClosed
	}
	if _, err := p.s.file.Write(b); err != nil {
		return ioError(p.config.Device, "write", err)
	}
	return nil
}

// ReadAvailable returns the bytes received since the last call.
func (p *Port) ReadAvailable() []byte { return p.rx.drain() }

// OnDataAvailable registers the data-available callback.
func (p *Port) OnDataAvailable(fn func()) { p.rx.setDataHandler(fn) }

// OnError registers the read error callback.
func (p *Port) OnError(fn func(error)) { p.rx.setErrorHandler(fn) }

// readLoop waits on the tty and the self-pipe with poll and pushes whatever
// the tty delivers into the receive buffer.
func (p *Port) readLoop(s *session) {
	defer close(s.exited)
	buf := make([]byte, 4096)
	for {
		pfd := []unix.PollFd{
			{Fd: int32(s.fd), Events: unix.POLLIN},
			{Fd: int32(s.pipeR), Events: unix.POLLIN},
		}
		_, err := unix.Poll(pfd, -1)
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if err != nil {
			p.rx.fail(ioError(p.config.Device, "poll", err))
			return
		}
		select {
		case <-s.done:
			return
		default:
		}
		if pfd[1].Revents&unix.POLLIN != 0 {
			return
		}
		if pfd[0].Revents&(unix.POLLIN|unix.POLLHUP|unix.POLLERR) != 0 {
			n, err := s.file.Read(buf)
			if err != nil {
				select {
				case <-s.done:
				default:
					p.rx.fail(ioError(p.config.Device, "read", err))
				}
				return
			}
			p.rx.push(buf[:n])
		}
	}
}

// Close closes the port and stops the reader goroutine.
// Safe to call multiple times; subsequent calls are no-ops.
func (p *Port) Close() error {
	s := p.s
	if s == nil {
		return nil
	}
	p.s = nil
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		// Wake up poll using self-pipe
		unix.Write(s.pipeW, []byte{1})
		<-s.exited
		err = s.file.Close()
		unix.Close(s.pipeR)
		unix.Close(s.pipeW)
	})
	logger.Printf("closed %s", p.config.Device)
	return err
}

func baudToUnix(baud int) (uint32, error) {
	switch baud {
	case 1200:
		return unix.B1200, nil
	case 2400:
		return unix.B2400, nil
	case 4800:
		return unix.B4800, nil
	case 9600:
		return unix.B9600, nil
	case 19200:
		return unix.B19200, nil
	case 38400:
		return unix.B38400, nil
	case 57600:
		return unix.B57600, nil
	case 115200:
		return unix.B115200, nil
	case 230400:
		return unix.B230400, nil
	case 460800:
		return unix.B460800, nil
	case 921600:
		return unix.B921600, nil
	default:
		return 0, fmt.Errorf("%w: %d", ErrUnsupportedBaudRate, baud)
	}
}
