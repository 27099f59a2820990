// Package storage implements the local cache store: the last successful
// forecast with a TTL, the last location, recent searches, favorites and the
// unit preference, persisted through a pluggable key-value substrate.
package storage

import (
	"errors"
	"maps"
	"sync"
)

// Batch is a set of writes that a substrate applies all-or-nothing.
type Batch struct {
	Set    map[string]string
	Delete []string
}

func (b Batch) empty() bool {
	return len(b.Set) == 0 && len(b.Delete) == 0
}

// Substrate is a durable string key-value store.
type Substrate interface {
	// Name identifies the backend in logs and metrics.
	Name() string
	// Get returns the stored value; ok is false when the key is absent.
	Get(key string) (value string, ok bool, err error)
	// Apply commits every write in b or none of them.
	Apply(b Batch) error
	Close() error
}

// ErrClosed is returned by substrates used after Close.
var ErrClosed = errors.New("storage: substrate closed")

// Memory is an in-process substrate. Nothing survives the process.
type Memory struct {
	mu     sync.RWMutex
	data   map[string]string
	closed bool
}

func NewMemory() *Memory {
	return &Memory{data: make(map[string]string)}
}

func (m *Memory) Name() string { return "memory" }

func (m *Memory) Get(key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return "", false, ErrClosed
	}
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *Memory) Apply(b Batch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	maps.Copy(m.data, b.Set)
	for _, k := range b.Delete {
		delete(m.data, k)
	}
	return nil
}

func (m *Memory) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}

// applyTo returns a copy of data with b applied.
func applyTo(data map[string]string, b Batch) map[string]string {
	next := maps.Clone(data)
	if next == nil {
		next = make(map[string]string, len(b.Set))
	}
	maps.Copy(next, b.Set)
	for _, k := range b.Delete {
		delete(next, k)
	}
	return next
}
