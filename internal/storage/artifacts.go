package storage

import (
	"context"
	"sync"

	"github.com/dharsanguruparan/nexuspass/internal/model"
)

// MemoryArtifacts is a bucket-less blob store keyed by object key.
type MemoryArtifacts struct {
	mu       sync.RWMutex
	objects  map[string][]byte
	puts     int
	failWith error
}

// NewMemoryArtifacts constructs an empty store.
func NewMemoryArtifacts() *MemoryArtifacts {
	return &MemoryArtifacts{objects: make(map[string][]byte)}
}

// Fail makes subsequent calls return err. Pass nil to recover.
func (m *MemoryArtifacts) Fail(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failWith = err
}

// Put stores data under key and returns a memory:// locator.
func (m *MemoryArtifacts) Put(_ context.Context, key string, data []byte) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return "", m.failWith
	}
	buf := make([]byte, len(data))
	copy(buf, data)
	m.objects[key] = buf
	m.puts++
	return "memory://" + key, nil
}

// Exists reports whether key was stored.
func (m *MemoryArtifacts) Exists(_ context.Context, key string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.failWith != nil {
		return false, m.failWith
	}
	_, ok := m.objects[key]
	return ok, nil
}

// Get returns a copy of the stored bytes.
func (m *MemoryArtifacts) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.failWith != nil {
		return nil, m.failWith
	}
	data, ok := m.objects[key]
	if !ok {
		return nil, model.ErrArtifactNotFound
	}
	buf := make([]byte, len(data))
	copy(buf, data)
	return buf, nil
}

// Puts returns how many writes were accepted.
func (m *MemoryArtifacts) Puts() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.puts
}
