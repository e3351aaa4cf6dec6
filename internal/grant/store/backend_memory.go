package store

import (
	"context"
	"fmt"
	"sync"

	"rolegate/pkg/platform/sentinel"
)

// MemoryBackend keeps the document in process. It counts writes and can be
// told to fail, which makes it the backend of choice for tests.
type MemoryBackend struct {
	mu      sync.Mutex
	data    []byte
	present bool
	writes  int
	failErr error
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{}
}

// NewMemoryBackendWith starts with data as the stored document.
func NewMemoryBackendWith(data []byte) *MemoryBackend {
	return &MemoryBackend{data: append([]byte(nil), data...), present: true}
}

func (b *MemoryBackend) Name() string { return "memory" }

func (b *MemoryBackend) Read(_ context.Context) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.present {
		return nil, fmt.Errorf("grant document: %w", sentinel.ErrNotFound)
	}
	return append([]byte(nil), b.data...), nil
}

func (b *MemoryBackend) Write(_ context.Context, data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failErr != nil {
		return b.failErr
	}
	b.data = append([]byte(nil), data...)
	b.present = true
	b.writes++
	return nil
}

// Writes returns the number of successful writes.
func (b *MemoryBackend) Writes() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.writes
}

// Bytes returns the current document.
func (b *MemoryBackend) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]byte(nil), b.data...)
}

// FailWith makes subsequent writes return err. Pass nil to recover.
func (b *MemoryBackend) FailWith(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failErr = err
}
