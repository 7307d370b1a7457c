package cytoqc

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
)

// ErrBackendFull is returned when a write would exceed a memory backend's
// byte budget.
var ErrBackendFull = errors.New("memory backend full")

// MemoryBackend keeps report blobs in memory, optionally bounded by a total
// byte budget. Keys follow the same rules as FileBackend keys, so a store can
// move between the two without renaming reports.
type MemoryBackend struct {
	mu       sync.RWMutex
	blobs    map[string][]byte
	used     int64
	maxBytes int64
}

// NewMemoryBackend creates an unbounded in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return NewBoundedMemoryBackend(0)
}

// NewBoundedMemoryBackend creates a backend holding at most maxBytes of blob
// data. A maxBytes of 0 or less means no limit.
func NewBoundedMemoryBackend(maxBytes int64) *MemoryBackend {
	return &MemoryBackend{blobs: make(map[string][]byte), maxBytes: maxBytes}
}

// checkMemoryKey rejects keys that FileBackend would refuse: empty or
// absolute keys, backslashes and parent references.
func checkMemoryKey(key string) error {
	if key == "" || strings.HasPrefix(key, "/") || strings.Contains(key, `\`) {
		return fmt.Errorf("invalid key %q", key)
	}
	for _, part := range strings.Split(key, "/") {
		if part == ".." {
			return fmt.Errorf("invalid key %q: parent reference", key)
		}
	}
	return nil
}

func (m *MemoryBackend) Read(_ context.Context, key string) ([]byte, error) {
	if err := checkMemoryKey(key); err != nil {
		return nil, err
	}
	m.mu.RLock()
	blob, ok := m.blobs[key]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("memory blob %s: %w", key, ErrBlobNotFound)
	}
	return slices.Clone(blob), nil
}

// Write stores a copy of data. Replacing a blob only charges the size
// difference against the budget.
func (m *MemoryBackend) Write(_ context.Context, key string, data []byte) error {
	if err := checkMemoryKey(key); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	used := m.used - int64(len(m.blobs[key])) + int64(len(data))
	if m.maxBytes > 0 && used > m.maxBytes {
		return fmt.Errorf("write %s (%d bytes, %d of %d in use): %w",
			key, len(data), m.used, m.maxBytes, ErrBackendFull)
	}
	m.blobs[key] = slices.Clone(data)
	m.used = used
	return nil
}

func (m *MemoryBackend) Delete(_ context.Context, key string) error {
	if err := checkMemoryKey(key); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if blob, ok := m.blobs[key]; ok {
		m.used -= int64(len(blob))
		delete(m.blobs, key)
	}
	return nil
}

// List returns the keys under prefix in lexical order.
func (m *MemoryBackend) List(_ context.Context, prefix string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var keys []string
	for k := range m.blobs {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	slices.Sort(keys)
	return keys, nil
}

func (m *MemoryBackend) Exists(_ context.Context, key string) (bool, error) {
	if err := checkMemoryKey(key); err != nil {
		return false, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.blobs[key]
	return ok, nil
}

// Close drops every blob.
func (m *MemoryBackend) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	clear(m.blobs)
	m.used = 0
	return nil
}

// Size returns the number of stored blobs.
func (m *MemoryBackend) Size() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.blobs)
}

// BytesUsed returns the total size of the stored blobs.
func (m *MemoryBackend) BytesUsed() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.used
}
