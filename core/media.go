package core

// MediaRef identifies stored media bytes plus their MIME type. The zero value
// means "no media".
type MediaRef struct {
	ID       string `json:"id,omitempty"`
	MimeType string `json:"mime_type,omitempty"`
}

// IsZero reports whether the reference points at nothing.
func (m MediaRef) IsZero() bool { return m.ID == "" }

// MediaStore persists opaque media blobs (voice messages, images, synthesized
// speech) referenced from events and replies. Implementations must be safe
// for concurrent use.
type MediaStore interface {
	// Save stores data under a session-scoped id.
	Save(sessionKey, id string, data []byte) error

	// Get retrieves previously stored bytes.
	Get(sessionKey, id string) ([]byte, error)

	// List returns the media ids stored for a session.
	List(sessionKey string) ([]string, error)

	// Delete removes a stored blob. Deleting an unknown id is not an error.
	Delete(sessionKey, id string) error
}
