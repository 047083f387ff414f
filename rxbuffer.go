package serial

import "sync"

// rxBuffer collects bytes from a backend's reader goroutine until the owner
// drains them with ReadAvailable.
type rxBuffer struct {
	mu      sync.Mutex
	data    []byte
	onData  func()
	onError func(error)
	failed  bool
}

func (b *rxBuffer) setDataHandler(fn func()) {
	b.mu.Lock()
	b.onData = fn
	b.mu.Unlock()
}

func (b *rxBuffer) setErrorHandler(fn func(error)) {
	b.mu.Lock()
	b.onError = fn
	b.mu.Unlock()
}

// reset clears buffered data and re-arms error reporting for a new session.
func (b *rxBuffer) reset() {
	b.mu.Lock()
	b.data = nil
	b.failed = false
	b.mu.Unlock()
}

func (b *rxBuffer) push(p []byte) {
	if len(p) == 0 {
		return
	}
	b.mu.Lock()
	b.data = append(b.data, p...)
	fn := b.onData
	b.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func (b *rxBuffer) drain() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.data) == 0 {
		return nil
	}
	p := b.data
	b.data = nil
	return p
}

// fail reports err once per session.
func (b *rxBuffer) fail(err error) {
	b.mu.Lock()
	if b.failed {
		b.mu.Unlock()
		return
	}
	b.failed = true
	fn := b.onError
	b.mu.Unlock()
	if fn != nil {
		fn(err)
	}
}
