// Package logutil provides loggers that share one swappable output.
package logutil

import (
	"io"
	"log"
	"os"
	"sync"
)

var (
	out     = &sink{w: io.Discard}
	outFile *os.File
	fileMu  sync.Mutex
)

type sink struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *sink) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}

// GetLogger returns a logger with the given prefix. All loggers returned by
// GetLogger write to the output set by SetOutput, discarding by default.
func GetLogger(prefix string) *log.Logger {
	return log.New(out, prefix, log.Lmicroseconds)
}

// SetOutput redirects all loggers to w.
func SetOutput(w io.Writer) {
	out.mu.Lock()
	out.w = w
	out.mu.Unlock()
}

// SetOutputFile redirects all loggers to the named file, appending to it.
// An empty name turns logging off.
func SetOutputFile(name string) error {
	fileMu.Lock()
	defer fileMu.Unlock()
	if name == "" {
		SetOutput(io.Discard)
		return closeOutFile()
	}
	f, err := os.OpenFile(name, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return err
	}
	SetOutput(f)
	closeOutFile()
	outFile = f
	return nil
}

func closeOutFile() error {
	if outFile == nil {
		return nil
	}
	err := outFile.Close()
	outFile = nil
	return err
}
