// Package storage provides the content-addressed stores that envelopes are
// written to. Every backend keys objects by skylink.FromEnvelope of their
// bytes and verifies that digest again on read.
package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/i5heu/ouroboros-indfile/pkg/skylink"
)

var (
	// ErrNotFound is returned by Get when no object is stored under the address.
	ErrNotFound = errors.New("object not found")
	// ErrCorrupted is returned by Get when the stored bytes no longer hash to
	// the address and cannot be repaired.
	ErrCorrupted = errors.New("stored object is corrupted")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("store is closed")
)

// Store is a content-addressed object store.
//
// Put is idempotent and returns skylink.FromEnvelope(data). Stored objects
// are immutable. Get returns ErrNotFound for unknown addresses and
// ErrCorrupted when the bytes it would return do not match the address.
// Implementations are safe for concurrent use.
type Store interface {
	Put(ctx context.Context, data []byte) (skylink.Address, error)
	Get(ctx context.Context, addr skylink.Address) ([]byte, error)
	Close() error
}

// MemoryStore keeps objects in a map. It is meant for tests and embedding.
type MemoryStore struct {
	mu      sync.RWMutex
	objects map[skylink.Address][]byte
	closed  bool
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{objects: make(map[skylink.Address][]byte)}
}

func (m *MemoryStore) Put(ctx context.Context, data []byte) (skylink.Address, error) {
	if err := ctx.Err(); err != nil {
		return skylink.Address{}, err
	}
	addr := skylink.FromEnvelope(data)

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return skylink.Address{}, ErrClosed
	}
	if _, ok := m.objects[addr]; !ok {
		m.objects[addr] = append([]byte{}, data...)
	}
	return addr, nil
}

func (m *MemoryStore) Get(ctx context.Context, addr skylink.Address) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	data, ok := m.objects[addr]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, addr)
	}
	if !addr.Matches(data) {
		return nil, fmt.Errorf("%w: %s", ErrCorrupted, addr)
	}
	return append([]byte{}, data...), nil
}

// Len returns the number of stored objects.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.objects)
}

// Mutate applies fn to the stored bytes of addr in place. It exists so
// tamper detection can be exercised; it reports whether addr was present.
func (m *MemoryStore) Mutate(addr skylink.Address, fn func([]byte) []byte) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[addr]
	if !ok {
		return false
	}
	m.objects[addr] = fn(data)
	return true
}

func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.objects = nil
	return nil
}
