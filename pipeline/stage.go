// Package pipeline implements the ordered-stage event processor. An event
// flows through a fixed sequence of stages (access control, rate limiting,
// safety, transcription, memory retrieval, the agent core, synthesis,
// formatting); any stage may short-circuit with a terminal outcome. Plugins
// insert additional stages before or after named built-ins. The engine
// serializes events per session and runs sessions in parallel.
package pipeline

import (
	"context"

	"github.com/lumabot/lumabot/core"
)

// Built-in stage names, usable as hook anchor points.
const (
	StageWhitelist = "whitelist"
	StageRateLimit = "ratelimit"
	StageWakeWord  = "wakeword"
	StageSafetyIn  = "safety_in"
	StageSTT       = "stt"
	StageCaption   = "caption"
	StageLTM       = "ltm_retrieval"
	StageAgent     = "agent"
	StageSafetyOut = "safety_out"
	StageTTS       = "tts"
	StageFormatter = "formatter"
)

// Stage is one step in the pipeline. Inspect examines (and may enrich) the
// per-event context, then either lets processing continue or short-circuits
// with a terminal outcome. Stages hold no per-event state; everything flows
// through the PipelineContext.
type Stage interface {
	// Name identifies the stage in logs and as a hook anchor.
	Name() string

	// Inspect processes the event. A returned error aborts the event with a
	// Failed outcome (hooks may be configured to skip instead).
	Inspect(ctx context.Context, pctx *core.PipelineContext) (Decision, error)
}

// Decision is a stage's verdict: continue down the pipeline or halt with a
// terminal outcome.
type Decision struct {
	halt    bool
	outcome core.Outcome
}

// Continue lets the event proceed to the next stage.
func Continue() Decision { return Decision{} }

// Halt short-circuits the pipeline with the given outcome; remaining stages
// do not run.
func Halt(outcome core.Outcome) Decision { return Decision{halt: true, outcome: outcome} }

// Halted reports whether this decision ends processing.
func (d Decision) Halted() bool { return d.halt }

// Outcome returns the terminal outcome of a halting decision.
func (d Decision) Outcome() core.Outcome { return d.outcome }

// Func adapts a plain function into a Stage; the usual shape for plugin hooks.
type Func struct {
	StageName string
	Fn        func(ctx context.Context, pctx *core.PipelineContext) (Decision, error)
}

// Name implements Stage.
func (f Func) Name() string { return f.StageName }

// Inspect implements Stage.
func (f Func) Inspect(ctx context.Context, pctx *core.PipelineContext) (Decision, error) {
	return f.Fn(ctx, pctx)
}
