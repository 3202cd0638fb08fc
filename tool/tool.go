// Package tool implements the tool calling subsystem that lets the agent core
// invoke structured capabilities (APIs, computations, side effects) with
// schema validated arguments, consistent error handling and rich metadata for
// LLM guidance. Tools come from two origins: local implementations registered
// in-process and remote tool servers discovered over a transport.
package tool

import (
	"context"
	"fmt"

	"github.com/lumabot/lumabot/core"
	"github.com/lumabot/lumabot/logging"
)

// OriginLocal marks tools implemented in-process; remote tools carry their
// server id as origin.
const OriginLocal = "local"

// Tool is the contract every callable capability implements.
//
// Implementations should:
//   - Provide clear, descriptive names (snake_case recommended) and
//     descriptions the model can act on
//   - Define a proper JSON schema for parameters
//   - Be safe for concurrent use
type Tool interface {
	// Name returns the unique identifier for this tool.
	Name() string

	// Description returns a human-readable description shown to the model.
	Description() string

	// Parameters returns a JSON schema describing the expected arguments.
	Parameters() map[string]any

	// Call executes the tool with parsed arguments. The Context carries
	// session identity and backing services.
	Call(ctx context.Context, tctx *Context, args map[string]any) (any, error)
}

// Context provides a constrained surface for tool implementations: session
// identity, the originating event, the function call id for correlation, and
// the backing stores tools may consult.
type Context struct {
	SessionKey string
	Event      core.Event
	CallID     string
	Memory     core.MemoryStore
	Media      core.MediaStore
	Logger     logging.Logger
}

// NewContext builds a tool context; a nil logger is substituted with a no-op.
func NewContext(sessionKey string, event core.Event, callID string) *Context {
	return &Context{SessionKey: sessionKey, Event: event, CallID: callID, Logger: logging.NoOpLogger{}}
}

// Error codes used across the subsystem.
const (
	// CodeValidation marks schema/argument mismatches (fatal to the call).
	CodeValidation = "VALIDATION_ERROR"
	// CodeExecution marks failures inside the tool implementation; these
	// surface to the model as a tool-result explaining the failure.
	CodeExecution = "EXECUTION_ERROR"
	// CodeSchemaMismatch marks remote invocations the server rejected as
	// structurally invalid (fatal to the call).
	CodeSchemaMismatch = "SCHEMA_MISMATCH"
	// CodeConnectionLost marks a dropped tool-server connection; retryable
	// once per call.
	CodeConnectionLost = "CONNECTION_LOST"
	// CodeTimeout marks a tool call that exceeded its deadline.
	CodeTimeout = "TIMEOUT"
	// CodeUnknownTool marks an invocation of a name absent from the catalog.
	CodeUnknownTool = "UNKNOWN_TOOL"
)

// Error represents failures in the tool subsystem with a code for
// categorization.
type Error struct {
	Tool    string `json:"tool"`
	Message string `json:"message"`
	Code    string `json:"code"`
	Details any    `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("tool error [%s] in %s: %s", e.Code, e.Tool, e.Message)
	}
	return fmt.Sprintf("tool error in %s: %s", e.Tool, e.Message)
}

// NewError creates an Error with the specified details.
func NewError(tool, message, code string) *Error {
	return &Error{Tool: tool, Message: message, Code: code}
}

// Descriptor describes one callable tool to catalog consumers and the model.
type Descriptor struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
	Origin      string         `json:"origin"` // OriginLocal or a server id
}
