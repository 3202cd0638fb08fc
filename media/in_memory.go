// Package media provides MediaStore implementations for the audio/image blobs
// referenced by events and replies.
package media

import (
	"errors"
	"sync"
)

// ErrNotFound is returned when the requested media blob does not exist.
var ErrNotFound = errors.New("media not found")

// InMemoryStore is a trivial in-process core.MediaStore useful for tests,
// examples and single-process prototypes. It keeps all blobs in a nested map
// guarded by an RWMutex; data is copied on save and retrieval to avoid
// accidental external mutation of internal buffers.
//
// Layout: sessionKey -> mediaID -> raw bytes
//
// Intentionally minimal: no retention limits, size quotas or eviction. For
// production, prefer a durable implementation (object storage, database) that
// survives process restarts.
type InMemoryStore struct {
	mu    sync.RWMutex
	blobs map[string]map[string][]byte
}

// NewInMemoryStore returns an empty in-memory media store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{blobs: make(map[string]map[string][]byte)}
}

// Save stores (or overwrites) the media bytes for the given session and id.
// The input slice is copied before storage.
func (s *InMemoryStore) Save(sessionKey, id string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.blobs[sessionKey]; !ok {
		s.blobs[sessionKey] = make(map[string][]byte)
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	s.blobs[sessionKey][id] = cp
	return nil
}

// Get returns a copy of the stored bytes or ErrNotFound.
func (s *InMemoryStore) Get(sessionKey, id string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.blobs[sessionKey]
	if !ok {
		return nil, ErrNotFound
	}
	data, ok := m[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	return cp, nil
}

// List returns the media ids stored for the session.
func (s *InMemoryStore) List(sessionKey string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.blobs[sessionKey]
	if !ok {
		return []string{}, nil
	}
	ids := make([]string, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	return ids, nil
}

// Delete removes the blob if present. Unknown ids are not an error.
func (s *InMemoryStore) Delete(sessionKey, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m, ok := s.blobs[sessionKey]; ok {
		delete(m, id)
	}
	return nil
}
