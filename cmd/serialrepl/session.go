package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/mattn/go-isatty"
	"golang.org/x/term"

	serial "github.com/luhtfiimanal/go-serial-repl"
	"github.com/luhtfiimanal/go-serial-repl/repl"
	"github.com/luhtfiimanal/go-serial-repl/snek"
)

const (
	// escapeByte (Ctrl-]) ends a terminal session.
	escapeByte = 0x1D

	putTimeout = 30 * time.Second
	getTimeout = 5 * time.Second
	pollIdle   = 20 * time.Millisecond
)

// session is an open connection driven from outside its loop. Everything
// that touches conn goes through loop.
type session struct {
	loop *repl.Loop
	conn *repl.Connection
	lost chan error
}

func openSession(ctx context.Context, loop *repl.Loop, ch serial.Channel, p repl.Profile) (*session, error) {
	conn, err := repl.New(ch, loop, p.REPL)
	if err != nil {
		return nil, err
	}
	s := &session{loop: loop, conn: conn, lost: make(chan error, 1)}
	err = loop.Call(ctx, func() error {
		conn.OnDisconnect(s.disconnected)
		if err := conn.Open(); err != nil {
			return err
		}
		if p.Interrupt {
			if err := conn.SendInterrupt(); err != nil {
				conn.Close()
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (s *session) disconnected(err error) {
	select {
	case s.lost <- err:
	default:
	}
}

func (s *session) lostError(err error) error {
	return fmt.Errorf("connection to %s lost: %w", s.conn.Port(), err)
}

func (s *session) close() error {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	return s.loop.Call(ctx, s.conn.Close)
}

// write hands p to the connection from any goroutine.
func (s *session) write(p []byte) {
	p = append([]byte(nil), p...)
	s.loop.Post(func() {
		if err := s.conn.Write(p); err != nil {
			logger.Printf("write: %v", err)
			s.disconnected(err)
		}
	})
}

// waitIdle returns once everything written has been handed to the port.
func (s *session) waitIdle(ctx context.Context) error {
	tick := time.NewTicker(pollIdle)
	defer tick.Stop()
	for {
		var idle bool
		err := s.loop.Call(ctx, func() error {
			idle = s.conn.Idle()
			return nil
		})
		if err != nil {
			return err
		}
		if idle {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-s.lost:
			return s.lostError(err)
		case <-tick.C:
		}
	}
}

// term bridges stdin and stdout to the REPL until Ctrl-], end of input or a
// lost connection.
func (s *session) term(ctx context.Context, stdin io.Reader, stdout io.Writer) error {
	if f, ok := stdin.(*os.File); ok && isatty.IsTerminal(f.Fd()) {
		old, err := term.MakeRaw(int(f.Fd()))
		if err != nil {
			return err
		}
		defer term.Restore(int(f.Fd()), old)
	}

	var unsubscribe func()
	err := s.loop.Call(ctx, func() error {
		unsubscribe = s.conn.Subscribe(func(p []byte) { stdout.Write(p) })
		return nil
	})
	if err != nil {
		return err
	}
	defer s.loop.Post(func() { unsubscribe() })

	done := make(chan error, 1)
	go func() { done <- s.pump(stdin) }()
	select {
	case err := <-done:
		if err == io.EOF {
			// Let piped input reach the board before closing.
			return s.waitIdle(ctx)
		}
		return err
	case err := <-s.lost:
		return s.lostError(err)
	case <-ctx.Done():
		return nil
	}
}

// pump copies stdin to the connection. It returns nil at the escape byte and
// io.EOF at end of input.
func (s *session) pump(stdin io.Reader) error {
	buf := make([]byte, 256)
	for {
		n, err := stdin.Read(buf)
		if n > 0 {
			p, esc := splitEscape(buf[:n])
			if len(p) > 0 {
				s.write(p)
			}
			if esc {
				return nil
			}
		}
		if err != nil {
			return err
		}
	}
}

// splitEscape returns the bytes before the escape byte and whether it was
// present.
func splitEscape(p []byte) ([]byte, bool) {
	if i := bytes.IndexByte(p, escapeByte); i >= 0 {
		return p[:i], true
	}
	return p, false
}

// put stores the program in file in the board's eeprom.
func (s *session) put(ctx context.Context, file string) error {
	program, err := os.ReadFile(file)
	if err != nil {
		return err
	}
	err = s.loop.Call(ctx, func() error {
		return snek.Put(s.conn, strings.TrimRight(string(program), "\r\n"))
	})
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, putTimeout)
	defer cancel()
	return s.waitIdle(ctx)
}

// get writes the program stored in the board's eeprom to stdout.
func (s *session) get(ctx context.Context, stdout io.Writer) error {
	ctx, cancel := context.WithTimeout(ctx, getTimeout)
	defer cancel()

	result := make(chan string, 1)
	var stop func()
	err := s.loop.Call(ctx, func() (err error) {
		stop, err = snek.Get(s.conn, func(program string) { result <- program })
		return err
	})
	if err != nil {
		return err
	}
	select {
	case program := <-result:
		_, err := io.WriteString(stdout, program)
		return err
	case err := <-s.lost:
		return s.lostError(err)
	case <-ctx.Done():
		s.loop.Post(stop)
		return fmt.Errorf("no program received from %s: %w", s.conn.Port(), ctx.Err())
	}
}
