package tenant

import (
	"context"
	"sync"
)

// MemoryStore provides an in-memory implementation of the Store interface,
// intended for development and testing scenarios.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*Record
}

// NewMemoryStore initialises the store with the provided records.
func NewMemoryStore(records ...*Record) *MemoryStore {
	store := &MemoryStore{records: make(map[string]*Record, len(records))}
	for _, record := range records {
		if record == nil || record.ID == "" {
			continue
		}
		store.records[record.ID] = record
	}
	return store
}

// Put upserts a record.
func (s *MemoryStore) Put(record *Record) {
	if record == nil || record.ID == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[record.ID] = record
}

// Lookup returns a copy of the record for id.
func (s *MemoryStore) Lookup(_ context.Context, id string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if record, ok := s.records[id]; ok {
		clone := *record
		return &clone, nil
	}
	return nil, ErrNotFound
}

// Close implements the Store interface.
func (s *MemoryStore) Close() error { return nil }
