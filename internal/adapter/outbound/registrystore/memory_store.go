// Package registrystore provides persistence adapters for the Registry
// Guard's tool table.
package registrystore

import (
	"sync"

	"github.com/Sentinel-Gate/Sentinelgate/internal/domain/registry"
)

// MemoryStore implements registry.Store with an in-memory map. Thread-safe
// for concurrent access. For development and testing; production
// deployments use SQLiteStore.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]registry.RegisteredTool
}

// NewMemoryStore creates a new in-memory registry store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]registry.RegisteredTool)}
}

// Register inserts a new record. Returns registry.ErrAlreadyRegistered if
// the name already exists.
func (s *MemoryStore) Register(t registry.RegisteredTool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[t.Name]; ok {
		return registry.ErrAlreadyRegistered
	}
	s.records[t.Name] = t
	return nil
}

// Update replaces an existing record. Returns registry.ErrNotFound if the
// name does not exist.
func (s *MemoryStore) Update(t registry.RegisteredTool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[t.Name]; !ok {
		return registry.ErrNotFound
	}
	s.records[t.Name] = t
	return nil
}

// Remove deletes a record. Returns registry.ErrNotFound if the name does
// not exist.
func (s *MemoryStore) Remove(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[name]; !ok {
		return registry.ErrNotFound
	}
	delete(s.records, name)
	return nil
}

// Lookup returns the record for name, or ok=false if absent.
func (s *MemoryStore) Lookup(name string) (registry.RegisteredTool, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.records[name]
	return t, ok
}

// All returns every registered record, in no particular order.
func (s *MemoryStore) All() []registry.RegisteredTool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]registry.RegisteredTool, 0, len(s.records))
	for _, t := range s.records {
		out = append(out, t)
	}
	return out
}

// Compile-time interface verification.
var _ registry.Store = (*MemoryStore)(nil)
