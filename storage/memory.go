package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/ruteri/sealed-keymaster/interfaces"
)

// MemoryBackend keeps artifacts in a map. Several parties in one process can
// share it to run the protocols end to end.
type MemoryBackend struct {
	mu    sync.RWMutex
	files map[string][]byte
}

// NewMemoryBackend returns an empty in-memory store.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{files: make(map[string][]byte)}
}

func memoryKey(folder, name string) (string, error) {
	if err := validateSegment(folder); err != nil {
		return "", err
	}
	if err := validateSegment(name); err != nil {
		return "", err
	}
	return folder + "/" + name, nil
}

func (m *MemoryBackend) Exists(ctx context.Context, folder, name string) (bool, error) {
	key, err := memoryKey(folder, name)
	if err != nil {
		return false, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.files[key]
	return ok, nil
}

func (m *MemoryBackend) Read(ctx context.Context, folder, name string) ([]byte, error) {
	key, err := memoryKey(folder, name)
	if err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.files[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", interfaces.ErrNotFound, key)
	}
	return append([]byte(nil), data...), nil
}

func (m *MemoryBackend) Write(ctx context.Context, folder, name string, data []byte) error {
	key, err := memoryKey(folder, name)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.files[key] = append([]byte(nil), data...)
	return nil
}

func (m *MemoryBackend) Delete(ctx context.Context, folder, name string) error {
	key, err := memoryKey(folder, name)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.files, key)
	return nil
}

func (m *MemoryBackend) Available(ctx context.Context) bool { return true }

func (m *MemoryBackend) Name() string { return "memory" }

func (m *MemoryBackend) LocationURI() string { return "memory:" }

// Keys lists every stored "folder/name", sorted.
func (m *MemoryBackend) Keys() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	keys := make([]string, 0, len(m.files))
	for key := range m.files {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
