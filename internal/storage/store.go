package storage

import (
	"errors"
	"maps"
	"sync"
)

var (
	ErrKeyExists   = errors.New("key already exists")
	ErrKeyNotFound = errors.New("key not found")
)

// Store defines the local storage primitive.
type Store interface {
	// Create inserts key. Fails with ErrKeyExists if key is present.
	Create(key, value string) error
	// Read returns the value for key, or ErrKeyNotFound.
	Read(key string) (string, error)
	// Update replaces the value of an existing key, or fails with ErrKeyNotFound.
	Update(key, value string) error
	// Delete removes an existing key, or fails with ErrKeyNotFound.
	Delete(key string) error
	// Snapshot returns a copy of every stored pair.
	Snapshot() map[string]string
	// Clear removes every key.
	Clear()
	// Len returns the number of stored keys.
	Len() int
}

// InMemoryStore is a map-backed Store. It is safe for concurrent use so a
// node served over a real network can be inspected while it runs.
type InMemoryStore struct {
	mu   sync.RWMutex
	data map[string]string
}

// NewInMemoryStore creates an empty store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		data: make(map[string]string),
	}
}

func (s *InMemoryStore) Create(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[key]; exists {
		return ErrKeyExists
	}
	s.data[key] = value
	return nil
}

func (s *InMemoryStore) Read(key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	value, exists := s.data[key]
	if !exists {
		return "", ErrKeyNotFound
	}
	return value, nil
}

func (s *InMemoryStore) Update(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[key]; !exists {
		return ErrKeyNotFound
	}
	s.data[key] = value
	return nil
}

func (s *InMemoryStore) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[key]; !exists {
		return ErrKeyNotFound
	}
	delete(s.data, key)
	return nil
}

func (s *InMemoryStore) Snapshot() map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return maps.Clone(s.data)
}

func (s *InMemoryStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	clear(s.data)
}

func (s *InMemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.data)
}
