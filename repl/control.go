package repl

import "time"

// Wire-level control bytes understood by MicroPython and Snek firmware.
const (
	CtrlC byte = 0x03 // interrupt the running program
	ENQ   byte = 0x05 // ask the device to confirm it can take the next chunk
	ACK   byte = 0x06 // device accepted the previous chunk
	CtrlO byte = 0x0F // leave paste mode; always sent paired with CtrlC
	DC4   byte = 0x14 // autobaud acknowledgement, also used as the probe byte

	// readyMarker in the device's startup output means its REPL is up.
	readyMarker byte = 'W'
)

// interruptSequence abandons paste mode and interrupts the running program.
var interruptSequence = []byte{CtrlO, CtrlC}

// Defaults.
const (
	DefaultBaudRate           = 115200
	DefaultChunkSize          = 16
	DefaultProbeTimeout       = 100 * time.Millisecond
	DefaultReadyDebounce      = 200 * time.Millisecond
	DefaultWaitForDataTimeout = 3000 * time.Millisecond
)

// DefaultBaudRateCandidates is the autobaud probing order.
var DefaultBaudRateCandidates = []int{115200, 57600, 38400, 19200, 9600}
