package core

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// PayloadKind discriminates the inbound payload variants.
type PayloadKind string

const (
	// PayloadText is a plain text message.
	PayloadText PayloadKind = "text"
	// PayloadAudio references a stored voice message.
	PayloadAudio PayloadKind = "audio"
	// PayloadImage references a stored image.
	PayloadImage PayloadKind = "image"
)

// Payload carries the content of an inbound event. Exactly one of Text or
// Media is meaningful depending on Kind.
type Payload struct {
	Kind  PayloadKind `json:"kind"`
	Text  string      `json:"text,omitempty"`
	Media MediaRef    `json:"media,omitempty"`
}

// Event is one inbound platform message instance. Events are immutable once
// created; stages communicate derived data through the PipelineContext
// instead of mutating the event.
type Event struct {
	ID         string    `json:"id"`
	Platform   string    `json:"platform"`
	UserID     string    `json:"user_id"`
	GroupID    string    `json:"group_id,omitempty"` // empty for direct messages
	SessionKey string    `json:"session_key"`
	Payload    Payload   `json:"payload"`
	Timestamp  time.Time `json:"timestamp"`
}

// IsGroup reports whether the event originated in a group conversation.
func (e Event) IsGroup() bool { return e.GroupID != "" }

// Identity returns the rate limiting / whitelist identity of the sender.
func (e Event) Identity() string { return e.Platform + ":" + e.UserID }

// IsolationMode controls how session keys are derived for group messages.
type IsolationMode string

const (
	// IsolateByUser gives every user a private session even inside groups.
	IsolateByUser IsolationMode = "user"
	// IsolateByGroup shares one session among all members of a group.
	IsolateByGroup IsolationMode = "group"
)

// SessionKeyFor derives the session key for a sender per isolation mode.
// Direct messages always map to the user-scoped key.
func SessionKeyFor(platform, userID, groupID string, mode IsolationMode) string {
	if groupID != "" && mode == IsolateByGroup {
		return fmt.Sprintf("%s:group:%s", platform, groupID)
	}
	return fmt.Sprintf("%s:user:%s", platform, userID)
}

// NewTextEvent constructs a text event with a fresh id and UTC timestamp.
// The session key is derived with the given isolation mode.
func NewTextEvent(platform, userID, groupID, text string, mode IsolationMode) Event {
	return Event{
		ID:         NewID(),
		Platform:   platform,
		UserID:     userID,
		GroupID:    groupID,
		SessionKey: SessionKeyFor(platform, userID, groupID, mode),
		Payload:    Payload{Kind: PayloadText, Text: text},
		Timestamp:  time.Now().UTC(),
	}
}

// NewMediaEvent constructs an audio or image event referencing stored media.
func NewMediaEvent(platform, userID, groupID string, kind PayloadKind, media MediaRef, mode IsolationMode) Event {
	return Event{
		ID:         NewID(),
		Platform:   platform,
		UserID:     userID,
		GroupID:    groupID,
		SessionKey: SessionKeyFor(platform, userID, groupID, mode),
		Payload:    Payload{Kind: kind, Media: media},
		Timestamp:  time.Now().UTC(),
	}
}

// NewID generates a new unique identifier for events, turns and agent steps.
func NewID() string { return uuid.NewString() }
