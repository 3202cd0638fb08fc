package core

import "github.com/lumabot/lumabot/logging"

// SafetyVerdict records the result of a content safety check.
type SafetyVerdict struct {
	Flagged bool   `json:"flagged"`
	Reason  string `json:"reason,omitempty"`
}

// AgentStep is one iteration record of the agent loop: the model output for
// that step plus the tool call/result pair when the model requested one.
type AgentStep struct {
	Index      int               `json:"index"`
	Output     Content           `json:"output"`
	ToolCall   *FunctionCall     `json:"tool_call,omitempty"`
	ToolResult *FunctionResponse `json:"tool_result,omitempty"`
}

// AgentResult is the terminal output of one agent run. Turns holds the
// assistant/tool turns produced along the way in order, ready for history
// persistence on the delivered path.
type AgentResult struct {
	Reply    Content     `json:"reply"`
	Steps    []AgentStep `json:"steps"`
	Turns    []Turn      `json:"turns"`
	Degraded bool        `json:"degraded"` // true when the step limit was hit
}

// PipelineContext is the per-event mutable scratch record threaded through
// pipeline stages. It carries the immutable Event, the session view held
// exclusively for the duration of this event, and fields that stages fill in
// as processing advances. It is created per event and discarded after the
// outcome is routed.
//
// Stages communicate exclusively through this struct; no stage holds state
// across events.
type PipelineContext struct {
	Event   Event
	Session *Session

	// InputText is the effective text of the event: the raw text payload,
	// or the transcript/caption produced by the STT/caption stages.
	InputText string

	// Safety verdicts for input and output, set by the safety stages.
	InputVerdict  *SafetyVerdict
	OutputVerdict *SafetyVerdict

	// Snippets holds knowledge retrieved by the LTM stage, injected into
	// the agent prompt.
	Snippets []string

	// Agent holds the agent core result once that stage has run.
	Agent *AgentResult

	// Reply is the formatted response produced by the formatter stage.
	Reply *Reply

	Logger logging.Logger
}

// NewPipelineContext builds a context for one event against its locked
// session view. A nil logger is substituted with a no-op logger.
func NewPipelineContext(event Event, session *Session, logger logging.Logger) *PipelineContext {
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	return &PipelineContext{Event: event, Session: session, Logger: logger}
}

// EffectiveText returns the best available textual form of the input.
func (p *PipelineContext) EffectiveText() string {
	if p.InputText != "" {
		return p.InputText
	}
	return p.Event.Payload.Text
}
