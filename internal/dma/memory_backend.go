package dma

import "sync"

// MemoryBackend is an in-memory Backend for tests and for simulation builds
// without the malgo build tag: Transfer always succeeds immediately and
// Drained reports true once the last Transfer has been observed.
type MemoryBackend struct {
	mu      sync.Mutex
	written [][]byte
	stuck   bool
}

// NewMemoryBackend creates a Backend that always drains immediately.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{}
}

// StickDrain makes Drained() return false until Reset is called, so tests
// can exercise Channel.Stop's timeout-and-reset path.
func (m *MemoryBackend) StickDrain() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stuck = true
}

func (m *MemoryBackend) Transfer(buf []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]byte, len(buf))
	copy(cp, buf)
	m.written = append(m.written, cp)
	return len(buf), nil
}

func (m *MemoryBackend) Drained() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return !m.stuck
}

func (m *MemoryBackend) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stuck = false
}

// Written returns every buffer Transfer has received, for test assertions.
func (m *MemoryBackend) Written() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.written
}
