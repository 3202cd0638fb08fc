package core

// RejectReason identifies the policy that short-circuited an event.
type RejectReason string

const (
	// RejectWhitelist means the sender is not on the access list.
	RejectWhitelist RejectReason = "whitelist"
	// RejectRateLimited means the sender exceeded the admission quota.
	RejectRateLimited RejectReason = "rate_limited"
	// RejectWakeWord means a group message did not address the bot.
	RejectWakeWord RejectReason = "wake_word"
	// RejectUnsafeInput means the input was flagged by content safety.
	RejectUnsafeInput RejectReason = "unsafe_input"
	// RejectUnsafeOutput means the generated reply was flagged by content safety.
	RejectUnsafeOutput RejectReason = "unsafe_output"
)

// Reply is the formatted response handed to the platform adapter. Text is
// always present on the delivered path; Voice is set when speech synthesis
// is enabled.
type Reply struct {
	Text  string   `json:"text"`
	Voice MediaRef `json:"voice,omitempty"`
	// Notice marks fixed policy notices (e.g. rate limit message) that
	// adapters may render differently from agent output.
	Notice bool `json:"notice,omitempty"`
}

// OutcomeKind enumerates terminal results of processing one event.
type OutcomeKind int

const (
	// OutcomeDelivered means a reply was produced and should be sent.
	OutcomeDelivered OutcomeKind = iota
	// OutcomeRejected means a policy stage short-circuited the event.
	OutcomeRejected
	// OutcomeFailed means processing aborted with an error.
	OutcomeFailed
)

// String returns a human readable kind label.
func (k OutcomeKind) String() string {
	switch k {
	case OutcomeDelivered:
		return "delivered"
	case OutcomeRejected:
		return "rejected"
	case OutcomeFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Outcome is the terminal result of Process for one event. Exactly one of
// Reply, Reason or Err is meaningful depending on Kind.
type Outcome struct {
	Kind   OutcomeKind  `json:"kind"`
	Reply  *Reply       `json:"reply,omitempty"`
	Reason RejectReason `json:"reason,omitempty"`
	Err    error        `json:"-"`
}

// Delivered constructs a delivered outcome carrying the formatted reply.
func Delivered(reply *Reply) Outcome {
	return Outcome{Kind: OutcomeDelivered, Reply: reply}
}

// Rejected constructs a policy rejection outcome. The optional notice reply
// is delivered to the user when the policy configures one.
func Rejected(reason RejectReason, notice *Reply) Outcome {
	return Outcome{Kind: OutcomeRejected, Reason: reason, Reply: notice}
}

// Failed constructs a failure outcome wrapping err.
func Failed(err error) Outcome {
	return Outcome{Kind: OutcomeFailed, Err: err}
}
