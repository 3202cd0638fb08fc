package core

import (
	"sync"
	"time"
)

// Session is the per-conversation state container tracking an ordered turn
// history plus persona metadata. It is safe for concurrent access.
//
// Contract:
//   - Turn sequence is append-only and monotonically time-ordered
//   - Trim drops the oldest non-system turns first; the persona/system turn
//     is always retained
//   - Turns returns a defensive copy to avoid external mutation
//   - Clone performs deep copies for safe divergence
type Session struct {
	Key          string    `json:"key"`
	Persona      string    `json:"persona,omitempty"`
	MaxTurns     int       `json:"max_turns,omitempty"` // 0 means unbounded
	LTMSummaryID string    `json:"ltm_summary_id,omitempty"`
	Turns        []Turn    `json:"turns"`
	Created      time.Time `json:"created"`
	Updated      time.Time `json:"updated"`
	mu           sync.RWMutex
}

// NewSession creates an empty session for the given key.
func NewSession(key string) *Session {
	now := time.Now()
	return &Session{Key: key, Turns: []Turn{}, Created: now, Updated: now}
}

// AppendTurn appends a turn to the history updating the Updated timestamp.
func (s *Session) AppendTurn(t Turn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Turns = append(s.Turns, t)
	s.Updated = time.Now()
}

// GetTurns returns a defensive copy of the full turn slice.
func (s *Session) GetTurns() []Turn {
	s.mu.RLock()
	defer s.mu.RUnlock()
	turns := make([]Turn, len(s.Turns))
	copy(turns, s.Turns)
	return turns
}

// Len returns the number of turns currently held.
func (s *Session) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.Turns)
}

// History returns up to max most recent conversational turns (user, assistant,
// tool) as model contents. The persona/system turn is not included; callers
// assemble instructions separately. max <= 0 means no bound.
func (s *Session) History(max int) []Content {
	s.mu.RLock()
	defer s.mu.RUnlock()
	contents := make([]Content, 0, len(s.Turns))
	for _, t := range s.Turns {
		if t.IsSystem() {
			continue
		}
		contents = append(contents, t.Content)
	}
	if max > 0 && len(contents) > max {
		contents = contents[len(contents)-max:]
	}
	return contents
}

// Trim drops the oldest non-system turns until at most max turns remain.
// System turns are never dropped. max <= 0 is a no-op.
func (s *Session) Trim(max int) {
	if max <= 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for len(s.Turns) > max {
		dropped := false
		for i, t := range s.Turns {
			if !t.IsSystem() {
				s.Turns = append(s.Turns[:i], s.Turns[i+1:]...)
				dropped = true
				break
			}
		}
		if !dropped { // only system turns left
			return
		}
	}
}

// Clone returns a deep copy of the session safe for independent mutation.
func (s *Session) Clone() *Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	clone := &Session{
		Key:          s.Key,
		Persona:      s.Persona,
		MaxTurns:     s.MaxTurns,
		LTMSummaryID: s.LTMSummaryID,
		Turns:        make([]Turn, len(s.Turns)),
		Created:      s.Created,
		Updated:      s.Updated,
	}
	copy(clone.Turns, s.Turns)
	return clone
}

// SessionStore persists sessions and their evolving turn history. The
// pipeline engine serializes access per session key, so implementations only
// need to be safe for concurrent access across different keys (though the
// in-memory store is fully thread-safe).
type SessionStore interface {
	// Load returns the session for key, creating it lazily if absent.
	Load(key string) (*Session, error)

	// Append adds a turn to the session history.
	Append(key string, turn Turn) error

	// Trim bounds the history to at most max turns, retaining system turns.
	Trim(key string, max int) error
}
