package core

import "time"

// Turn is one role-tagged entry in session history. Turns are append-only;
// history is trimmed from the oldest end, never rewritten.
type Turn struct {
	ID        string    `json:"id"`
	Role      string    `json:"role"`
	Content   Content   `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// NewTurn creates a turn with a fresh id and UTC timestamp.
func NewTurn(role string, content Content) Turn {
	return Turn{ID: NewID(), Role: role, Content: content, Timestamp: time.Now().UTC()}
}

// NewUserTurn creates a user text turn.
func NewUserTurn(text string) Turn {
	return NewTurn(RoleUser, TextContent(RoleUser, text))
}

// NewAssistantTurn creates an assistant turn from model output content.
func NewAssistantTurn(content Content) Turn {
	content.Role = RoleAssistant
	return NewTurn(RoleAssistant, content)
}

// NewSystemTurn creates the persona/system turn anchoring a session.
func NewSystemTurn(persona string) Turn {
	return NewTurn(RoleSystem, TextContent(RoleSystem, persona))
}

// NewToolTurn records the completion result (or error) of a tool invocation.
func NewToolTurn(callID, name string, result any, err error) Turn {
	fr := FunctionResponse{ID: callID, Name: name, Response: result}
	if err != nil {
		fr.Error = err.Error()
	}
	return NewTurn(RoleTool, Content{Role: RoleTool, Parts: []Part{FunctionResponsePart{FunctionResponse: fr}}})
}

// IsSystem reports whether this is the persona/system turn.
func (t Turn) IsSystem() bool { return t.Role == RoleSystem }
