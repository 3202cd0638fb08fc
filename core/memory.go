package core

// MemoryHit is one long-term memory retrieval result.
type MemoryHit struct {
	ID       string         `json:"id"`
	Content  string         `json:"content"`
	Score    float64        `json:"score"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// MemoryStore defines persistence and retrieval for long-term conversational
// memory snippets. Implementations can back search with embeddings, keywords
// or any heuristic; the runtime only depends on the ranking order.
type MemoryStore interface {
	// Search returns up to limit snippets relevant to query, best first.
	Search(sessionKey, query string, limit int) ([]MemoryHit, error)

	// Store appends a snippet with optional metadata.
	Store(sessionKey, content string, metadata map[string]any) error

	// Delete removes a stored snippet by id.
	Delete(sessionKey, id string) error
}
