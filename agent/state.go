package agent

// State is the agent loop's explicit execution state. Transitions:
//
//	Init -> Prompting
//	Prompting -> Done                 (plain reply)
//	Prompting -> AwaitingToolResult   (model requested tool calls)
//	Prompting -> Errored              (model call failed)
//	AwaitingToolResult -> Prompting   (results fed back)
//	Prompting -> StepLimitExceeded    (budget exhausted before Done)
type State int

const (
	StateInit State = iota
	StatePrompting
	StateAwaitingToolResult
	StateDone
	StateStepLimitExceeded
	StateErrored
)

// String returns the lowercase state name used in logs.
func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StatePrompting:
		return "prompting"
	case StateAwaitingToolResult:
		return "awaiting_tool_result"
	case StateDone:
		return "done"
	case StateStepLimitExceeded:
		return "step_limit_exceeded"
	case StateErrored:
		return "errored"
	default:
		return "unknown"
	}
}

// Terminal reports whether the state ends the run.
func (s State) Terminal() bool {
	return s == StateDone || s == StateStepLimitExceeded || s == StateErrored
}
