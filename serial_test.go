//go:build linux

package serial

import (
	"errors"
	"testing"
	"time"

	"github.com/creack/pty"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func openPTY(t *testing.T) (*Port, *ptyPair) {
	t.Helper()
	master, slave, err := pty.Open()
	require.NoError(t, err)
	t.Cleanup(func() { master.Close(); slave.Close() })

	port := New(Config{Device: slave.Name(), BaudRate: 115200})
	pair := &ptyPair{slave: slave.Fd(), notify: make(chan struct{}, 64), errs: make(chan error, 1)}
	port.OnDataAvailable(func() {
		select {
		case pair.notify <- struct{}{}:
		default:
		}
	})
	port.OnError(func(err error) { pair.errs <- err })
	require.NoError(t, port.Open())
	t.Cleanup(func() { port.Close() })
	pair.closeMaster = master.Close
	pair.writeMaster = func(b []byte) error { _, err := master.Write(b); return err }
	pair.readMaster = master.Read
	return port, pair
}

type ptyPair struct {
	slave       uintptr
	notify      chan struct{}
	errs        chan error
	closeMaster func() error
	writeMaster func([]byte) error
	readMaster  func([]byte) (int, error)
}

// readN drains the port until n bytes have been collected.
func readN(t *testing.T, port *Port, pair *ptyPair, n int) []byte {
	t.Helper()
	var got []byte
	deadline := time.After(time.Second)
	for len(got) < n {
		select {
		case <-pair.notify:
			got = append(got, port.ReadAvailable()...)
		case err := <-pair.errs:
			t.Fatalf("unexpected error: %v", err)
		case <-deadline:
			t.Fatalf("timeout: got %q, want %d bytes", got, n)
		}
	}
	return got
}

func TestPort_ReadAvailable(t *testing.T) {
	port, pair := openPTY(t)

	require.NoError(t, pair.writeMaster([]byte("hello\x06")))
	require.Equal(t, []byte("hello\x06"), readN(t, port, pair, 6))
	require.Nil(t, port.ReadAvailable())
}

func TestPort_Write(t *testing.T) {
	port, pair := openPTY(t)

	require.NoError(t, port.Write([]byte("ping\x05")))

	buf := make([]byte, 5)
	n, err := pair.readMaster(buf)
	require.NoError(t, err)
	require.Equal(t, "ping\x05", string(buf[:n]))
}

func TestPort_SetBaudRateWhileOpen(t *testing.T) {
	port, pair := openPTY(t)

	require.NoError(t, port.SetBaudRate(57600))
	require.Equal(t, 57600, port.BaudRate())

	termios, err := unix.IoctlGetTermios(int(pair.slave), unix.TCGETS)
	require.NoError(t, err)
	require.Equal(t, uint32(unix.B57600), termios.Cflag&unix.CBAUD)
}

func TestPort_SetBaudRateUnsupported(t *testing.T) {
	port, _ := openPTY(t)

	err := port.SetBaudRate(12345)
	require.True(t, errors.Is(err, ErrUnsupportedBaudRate))
	require.Equal(t, 115200, port.BaudRate())
}

func TestPort_OpenMissingDevice(t *testing.T) {
	port := New(Config{Device: "/dev/does-not-exist-repl", BaudRate: 115200})

	err := port.Open()
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrConnection))

	// still closed and retryable
	require.True(t, errors.Is(port.Write([]byte("x")), ErrClosed))
	require.True(t, errors.Is(port.Open(), ErrConnection))
}

func TestPort_CloseIsIdempotentAndReopens(t *testing.T) {
	port, pair := openPTY(t)

	require.NoError(t, port.Close())
	require.NoError(t, port.Close())

	err := port.Write([]byte("x"))
	require.True(t, errors.Is(err, ErrClosed))
	require.True(t, errors.Is(err, ErrIO))

	require.NoError(t, port.Open())
	require.NoError(t, pair.writeMaster([]byte("again")))
	require.Equal(t, []byte("again"), readN(t, port, pair, 5))
}

func TestPort_ErrorPropagation(t *testing.T) {
	_, pair := openPTY(t)

	// Simulate device disconnect by closing master
	require.NoError(t, pair.closeMaster())

	select {
	case err := <-pair.errs:
		require.True(t, errors.Is(err, ErrIO))
	case <-time.After(500 * time.Millisecond):
		t.Fatal("timeout waiting for error after device disconnect")
	}
}
