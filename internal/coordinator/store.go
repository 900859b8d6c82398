package coordinator

import (
	"context"
	"sync"
)

// Store persists overlays.
type Store interface {
	Get(ctx context.Context, key Key) (Overlay, bool, error)
	Put(ctx context.Context, key Key, overlay Overlay) error
	Delete(ctx context.Context, key Key) error
	// Keys lists the overlays held for one driver.
	Keys(ctx context.Context, driver string) ([]Key, error)
	Close() error
}

// MemoryStore keeps overlays for the lifetime of the process.
type MemoryStore struct {
	mu       sync.RWMutex
	overlays map[Key]Overlay
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{overlays: map[Key]Overlay{}}
}

func (m *MemoryStore) Get(_ context.Context, key Key) (Overlay, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	o, ok := m.overlays[key]

	return o, ok, nil
}

func (m *MemoryStore) Put(_ context.Context, key Key, overlay Overlay) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.overlays[key] = overlay

	return nil
}

func (m *MemoryStore) Delete(_ context.Context, key Key) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.overlays, key)

	return nil
}

func (m *MemoryStore) Keys(_ context.Context, driver string) ([]Key, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	keys := []Key{}

	for k := range m.overlays {
		if k.Driver == driver {
			keys = append(keys, k)
		}
	}

	return keys, nil
}

func (m *MemoryStore) Close() error {
	return nil
}
