package storage

import (
	"sync"

	"github.com/linkpeek/linkpeek/pkg/models"
)

// MemoryStore is a process-local ExpansionStore
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]models.ExpansionEntry
}

// NewMemoryStore creates an empty MemoryStore
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]models.ExpansionEntry)}
}

func (m *MemoryStore) Lookup(shortURL string) (models.LookupStatus, *models.ExpansionEntry, error) {
	m.mu.RLock()
	e, ok := m.entries[shortURL]
	m.mu.RUnlock()
	if !ok {
		return models.LookupMiss, nil, nil
	}
	return e.Status(), &e, nil
}

func (m *MemoryStore) Save(shortURL string, entry models.ExpansionEntry) error {
	m.mu.Lock()
	m.entries[shortURL] = entry
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Clear() error {
	m.mu.Lock()
	m.entries = make(map[string]models.ExpansionEntry)
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

func (m *MemoryStore) Close() error { return nil }
