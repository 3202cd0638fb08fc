// Package session provides SessionStore implementations. The in-memory store
// suits tests and single-process deployments; durable stores live behind the
// same core.SessionStore contract.
package session

import (
	"sync"

	"github.com/lumabot/lumabot/core"
)

// InMemoryOptions configure lazily created sessions.
type InMemoryOptions struct {
	// Persona seeds new sessions' system prompt reference.
	Persona string
	// MaxTurns bounds new sessions' history length. Zero means unbounded.
	MaxTurns int
}

// InMemoryStore is a volatile SessionStore keeping sessions in a process
// local map. It is safe for concurrent access. Unlike snapshot-based stores,
// it hands out the live *core.Session: the pipeline engine serializes all
// access per session key, and core.Session guards its own turn slice, so a
// shared instance is safe and keeps appends visible across events.
type InMemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*core.Session
	opts     InMemoryOptions
}

// NewInMemoryStore constructs an empty in-memory session store.
func NewInMemoryStore(optFns ...func(o *InMemoryOptions)) *InMemoryStore {
	opts := InMemoryOptions{}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &InMemoryStore{sessions: make(map[string]*core.Session), opts: opts}
}

// Load returns the session for key, creating it lazily with the store's
// persona and history bound defaults.
func (s *InMemoryStore) Load(key string) (*core.Session, error) {
	s.mu.RLock()
	sess, ok := s.sessions[key]
	s.mu.RUnlock()
	if ok {
		return sess, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[key]; ok { // lost the race
		return sess, nil
	}
	sess = core.NewSession(key)
	sess.Persona = s.opts.Persona
	sess.MaxTurns = s.opts.MaxTurns
	s.sessions[key] = sess
	return sess, nil
}

// Append adds a turn to the session history, creating the session if needed.
func (s *InMemoryStore) Append(key string, turn core.Turn) error {
	sess, err := s.Load(key)
	if err != nil {
		return err
	}
	sess.AppendTurn(turn)
	return nil
}

// Trim bounds the session history to max turns retaining system turns.
func (s *InMemoryStore) Trim(key string, max int) error {
	sess, err := s.Load(key)
	if err != nil {
		return err
	}
	sess.Trim(max)
	return nil
}

// Reset drops the session for key, discarding all history.
func (s *InMemoryStore) Reset(key string) error {
	s.mu.Lock()
	delete(s.sessions, key)
	s.mu.Unlock()
	return nil
}

// Len returns the number of live sessions, for diagnostics.
func (s *InMemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}
