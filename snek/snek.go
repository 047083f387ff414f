// Package snek stores and fetches the program kept in a Snek board's
// eeprom, over an open REPL connection.
package snek

import (
	"bytes"
	"fmt"
)

const (
	// STX and ETX frame the program printed by GetCommand.
	STX = 0x02
	ETX = 0x03

	// GetCommand makes the board print its stored program between STX and
	// ETX.
	GetCommand = "eeprom.show(1)\n"

	eot = "\x04"
)

// Writer is the write side of a REPL connection.
type Writer interface {
	Write(p []byte) error
}

// Conn is a REPL connection that can be written to and listened on.
type Conn interface {
	Writer
	Subscribe(fn func([]byte)) (cancel func())
}

// PutCommand returns the input that replaces the stored program with program
// and restarts the board. The eeprom is written up to the EOT byte.
func PutCommand(program string) string {
	return "eeprom.write()\n" + program + "\n" + eot + "reset()\n"
}

// Put sends PutCommand(program) through w.
func Put(w Writer, program string) error {
	if err := w.Write([]byte(PutCommand(program))); err != nil {
		return fmt.Errorf("snek put: %w", err)
	}
	return nil
}

// Capture picks the STX/ETX framed program out of a stream of REPL output.
// Anything outside the frame, such as the echoed command, is dropped.
type Capture struct {
	started bool
	buf     []byte
}

// Feed adds p to the capture. Once the closing ETX has been seen it returns
// the program and true; later calls start a new capture.
func (c *Capture) Feed(p []byte) (string, bool) {
	for len(p) > 0 {
		if !c.started {
			i := bytes.IndexByte(p, STX)
			if i < 0 {
				return "", false
			}
			c.started = true
			c.buf = c.buf[:0]
			p = p[i+1:]
			continue
		}
		if i := bytes.IndexByte(p, ETX); i >= 0 {
			c.buf = append(c.buf, p[:i]...)
			c.started = false
			return string(c.buf), true
		}
		c.buf = append(c.buf, p...)
		return "", false
	}
	return "", false
}

// Get asks the board for its stored program and calls done with it once it
// has arrived. The returned cancel stops listening; it is also called
// automatically before done. Get and done run on the connection's scheduler.
func Get(conn Conn, done func(program string)) (cancel func(), err error) {
	var (
		capture  Capture
		finished bool
		stop     func()
	)
	stop = conn.Subscribe(func(p []byte) {
		if finished {
			return
		}
		if program, ok := capture.Feed(p); ok {
			finished = true
			stop()
			done(program)
		}
	})
	if err := conn.Write([]byte(GetCommand)); err != nil {
		stop()
		return nil, fmt.Errorf("snek get: %w", err)
	}
	return stop, nil
}
