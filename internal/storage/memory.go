package storage

import (
	"context"
	"sync"

	"crypto-sentinel/internal/listing"
)

// MemoryStore keeps entries in process memory only.
type MemoryStore struct {
	mu       sync.RWMutex
	entries  []listing.Entry
	index    map[string]int
	revision uint64
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{index: make(map[string]int)}
}

func (m *MemoryStore) GetAll(ctx context.Context) []listing.Entry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]listing.Entry, len(m.entries))
	copy(out, m.entries)
	return out
}

func (m *MemoryStore) Upsert(ctx context.Context, entries []listing.Entry) error {
	if len(entries) == 0 {
		return nil
	}
	if err := validateBatch(entries); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	merged, index, changed := merge(m.entries, m.index, entries)
	if !changed {
		return nil
	}
	m.entries, m.index = merged, index
	m.revision++
	return nil
}

func (m *MemoryStore) Clear(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.entries) == 0 {
		return nil
	}
	m.entries = nil
	m.index = make(map[string]int)
	m.revision++
	return nil
}

func (m *MemoryStore) Count(ctx context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries), nil
}

func (m *MemoryStore) Revision(ctx context.Context) uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.revision
}

func (m *MemoryStore) Close() {}

var _ EntryStore = (*MemoryStore)(nil)
