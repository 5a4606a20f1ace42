package repository

import (
	"context"
	"errors"
	"sync"

	"github.com/protrace/protrace/internal/registry/model"
)

var (
	// ErrNotFound is returned when no entry has the requested identifier.
	ErrNotFound = errors.New("fingerprint not found")
	// ErrDuplicateIdentifier is returned when an identifier is already registered.
	ErrDuplicateIdentifier = errors.New("identifier already registered")
)

// MemoryStore is an in-process fingerprint registry. It is safe for concurrent use.
type MemoryStore struct {
	mu      sync.RWMutex
	entries []model.Entry
	byID    map[string]int
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byID: make(map[string]int)}
}

// List returns a copy of all entries in insertion order.
func (s *MemoryStore) List(_ context.Context) ([]model.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Entry, len(s.entries))
	copy(out, s.entries)
	return out, nil
}

// Append stores e.
func (s *MemoryStore) Append(_ context.Context, e model.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[e.Identifier]; ok {
		return ErrDuplicateIdentifier
	}
	s.byID[e.Identifier] = len(s.entries)
	s.entries = append(s.entries, e)
	return nil
}

// Get returns the entry with the given identifier.
func (s *MemoryStore) Get(_ context.Context, identifier string) (*model.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i, ok := s.byID[identifier]
	if !ok {
		return nil, ErrNotFound
	}
	e := s.entries[i]
	return &e, nil
}

// Count returns the number of entries.
func (s *MemoryStore) Count(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries), nil
}
