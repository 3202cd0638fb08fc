// Package memory provides long-term memory (LTM) store implementations used
// by the retrieval stage and the memory_search tool.
package memory

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/lumabot/lumabot/core"
)

type storedSnippet struct {
	id       string
	content  string
	metadata map[string]any
	seq      int
}

// InMemoryStore is a naive process-local core.MemoryStore. Search is a
// case-insensitive token overlap scan: the score is the fraction of query
// tokens present in the snippet. Suitable for tests and small deployments;
// swap for a vector index for semantic retrieval.
//
// Concurrency: protected by RWMutex.
type InMemoryStore struct {
	mu       sync.RWMutex
	snippets map[string][]storedSnippet // sessionKey -> ordered snippets
	nextSeq  int
}

// NewInMemoryStore creates an empty in-memory LTM store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{snippets: make(map[string][]storedSnippet)}
}

// Store appends a snippet with optional metadata.
func (m *InMemoryStore) Store(sessionKey, content string, metadata map[string]any) error {
	if strings.TrimSpace(content) == "" {
		return fmt.Errorf("empty memory content")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextSeq++
	m.snippets[sessionKey] = append(m.snippets[sessionKey], storedSnippet{
		id:       fmt.Sprintf("mem_%d", m.nextSeq),
		content:  content,
		metadata: metadata,
		seq:      m.nextSeq,
	})
	return nil
}

// Search returns up to limit snippets ranked by token overlap with the
// query, best first; ties break on recency (newest first). An empty query
// returns the most recent snippets.
func (m *InMemoryStore) Search(sessionKey, query string, limit int) ([]core.MemoryHit, error) {
	if limit <= 0 {
		limit = 5
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	stored := m.snippets[sessionKey]
	tokens := strings.Fields(strings.ToLower(query))

	type scored struct {
		snippet storedSnippet
		score   float64
	}
	var hits []scored
	for _, s := range stored {
		score := overlap(strings.ToLower(s.content), tokens)
		if score > 0 || len(tokens) == 0 {
			hits = append(hits, scored{snippet: s, score: score})
		}
	}
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].score != hits[j].score {
			return hits[i].score > hits[j].score
		}
		return hits[i].snippet.seq > hits[j].snippet.seq
	})
	if len(hits) > limit {
		hits = hits[:limit]
	}

	out := make([]core.MemoryHit, 0, len(hits))
	for _, h := range hits {
		md := make(map[string]any, len(h.snippet.metadata))
		for k, v := range h.snippet.metadata {
			md[k] = v
		}
		out = append(out, core.MemoryHit{ID: h.snippet.id, Content: h.snippet.content, Score: h.score, Metadata: md})
	}
	return out, nil
}

func overlap(content string, tokens []string) float64 {
	if len(tokens) == 0 {
		return 0
	}
	matched := 0
	for _, tok := range tokens {
		if strings.Contains(content, tok) {
			matched++
		}
	}
	return float64(matched) / float64(len(tokens))
}

// Delete removes a stored snippet by id.
func (m *InMemoryStore) Delete(sessionKey, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored := m.snippets[sessionKey]
	for i, s := range stored {
		if s.id == id {
			m.snippets[sessionKey] = append(stored[:i], stored[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("memory %s not found", id)
}
