// Package serial provides the byte channel under a microcontroller REPL
// connection: a duplex link bound to a named serial port whose baud rate can
// be changed while it is open.
//
// Three backends implement Channel:
//   - Port drives a Linux tty through termios ioctls, with a poll and
//     self-pipe reader that Close can always interrupt
//   - PortableChannel uses go.bug.st/serial
//   - TarmChannel uses github.com/tarm/serial and reopens the port to change speed
//
// Reads are push-then-pull: the backend's reader goroutine buffers incoming
// bytes and fires the OnDataAvailable callback, and the owner drains the
// buffer with ReadAvailable from its own goroutine.
//
// Example usage:
//
//	ch, err := serial.NewChannel(serial.DefaultConfig("/dev/ttyUSB0"))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	ch.OnDataAvailable(func() { notify <- struct{}{} })
//	if err := ch.Open(); err != nil {
//	    log.Fatal(err) // wraps serial.ErrConnection
//	}
//	defer ch.Close()
//
//	for range notify {
//	    fmt.Printf("%q\n", ch.ReadAvailable())
//	}
//
// Package repl builds the REPL session and flow control on top of a Channel.
package serial
