package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/lumabot/lumabot/core"
	"github.com/lumabot/lumabot/logging"
)

// HookFailMode controls how a failing or panicking plugin hook affects the
// current event.
type HookFailMode string

const (
	// HookSkip logs the failure and continues with the next stage.
	HookSkip HookFailMode = "skip"
	// HookFail turns the failure into a Failed outcome for the event.
	HookFail HookFailMode = "fail"
)

// HookPosition anchors a plugin hook before or after a named built-in stage.
type HookPosition struct {
	Before bool
	Stage  string
}

// Before anchors a hook immediately before the named stage.
func Before(stage string) HookPosition { return HookPosition{Before: true, Stage: stage} }

// After anchors a hook immediately after the named stage.
func After(stage string) HookPosition { return HookPosition{Stage: stage} }

// EngineOptions configure the pipeline engine.
type EngineOptions struct {
	// QueueSize bounds each per-session worker queue; a full queue rejects
	// submission with core.ErrSessionBusy.
	QueueSize int

	// WorkerIdleTTL retires a session worker after this much inactivity.
	WorkerIdleTTL time.Duration

	// Deadline bounds whole-event processing. Zero disables the bound.
	Deadline time.Duration

	// MaxTurns trims session history after each delivery. Zero keeps the
	// session's own bound (or unbounded).
	MaxTurns int

	// HookFailure selects failure isolation for plugin hooks.
	HookFailure HookFailMode

	// AuditRejected persists the inbound turn even when the event is
	// rejected by policy. Off by default: rejected content is not kept.
	AuditRejected bool

	// Logger receives engine and stage records.
	Logger logging.Logger
}

// entry is one slot in the composed stage order.
type entry struct {
	stage  Stage
	isHook bool
	active func() bool // nil means always active
}

// Engine executes the composed stage order for each event with per-session
// serialization.
//
// Contract:
//   - Events of one session run in submission order, one at a time
//   - Different sessions run in parallel on independent workers
//   - Side effects (history append, memory write) happen only on Delivered
//   - Hook failures are contained per HookFailure; built-in failures abort
//     the event with Failed
type Engine struct {
	sessions core.SessionStore
	memory   core.MemoryStore

	stageMu sync.RWMutex
	entries []entry

	workerMu sync.Mutex
	workers  map[string]*worker
	closed   bool
	closeCh  chan struct{}
	wg       sync.WaitGroup

	queueSize     int
	idleTTL       time.Duration
	deadline      time.Duration
	maxTurns      int
	hookFailure   HookFailMode
	auditRejected bool
	logger        logging.Logger
}

// NewEngine composes an engine over the given stages in order. Memory may be
// nil; delivered conversations are then not written to long-term memory.
func NewEngine(sessions core.SessionStore, memory core.MemoryStore, stages []Stage, optFns ...func(o *EngineOptions)) *Engine {
	opts := EngineOptions{
		QueueSize:     16,
		WorkerIdleTTL: time.Minute,
		HookFailure:   HookSkip,
		Logger:        logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	entries := make([]entry, 0, len(stages))
	for _, s := range stages {
		entries = append(entries, entry{stage: s})
	}
	return &Engine{
		sessions:      sessions,
		memory:        memory,
		entries:       entries,
		workers:       make(map[string]*worker),
		closeCh:       make(chan struct{}),
		queueSize:     opts.QueueSize,
		idleTTL:       opts.WorkerIdleTTL,
		deadline:      opts.Deadline,
		maxTurns:      opts.MaxTurns,
		hookFailure:   opts.HookFailure,
		auditRejected: opts.AuditRejected,
		logger:        opts.Logger,
	}
}

// HasStage reports whether a built-in stage with the given name exists as a
// hook anchor. Hooks themselves are not anchors.
func (e *Engine) HasStage(name string) bool {
	e.stageMu.RLock()
	defer e.stageMu.RUnlock()
	for _, en := range e.entries {
		if !en.isHook && en.stage.Name() == name {
			return true
		}
	}
	return false
}

// InsertHook places a plugin stage at the given position. Hooks at the same
// position keep registration order. active gates the hook per toggle without
// mutating the stage order; nil means always active.
func (e *Engine) InsertHook(pos HookPosition, s Stage, active func() bool) error {
	e.stageMu.Lock()
	defer e.stageMu.Unlock()

	anchor := -1
	for i, en := range e.entries {
		if !en.isHook && en.stage.Name() == pos.Stage {
			anchor = i
			break
		}
	}
	if anchor < 0 {
		return fmt.Errorf("unknown anchor stage %q", pos.Stage)
	}

	at := anchor // before: directly at the anchor, after earlier before-hooks
	if !pos.Before {
		at = anchor + 1
		for at < len(e.entries) && e.entries[at].isHook {
			at++
		}
	}
	hook := entry{stage: s, isHook: true, active: active}
	e.entries = append(e.entries[:at], append([]entry{hook}, e.entries[at:]...)...)
	e.logger.Info("pipeline.hook.inserted", "hook", s.Name(), "anchor", pos.Stage, "before", pos.Before)
	return nil
}

type job struct {
	ctx    context.Context
	event  core.Event
	result chan core.Outcome
}

type worker struct {
	key   string
	queue chan job
}

// Process runs one event through the pipeline, blocking until its terminal
// outcome. Events sharing a session key are processed strictly in submission
// order; a full session queue fails fast with core.ErrSessionBusy.
func (e *Engine) Process(ctx context.Context, event core.Event) core.Outcome {
	j := job{ctx: ctx, event: event, result: make(chan core.Outcome, 1)}
	if err := e.submit(j); err != nil {
		return core.Failed(err)
	}
	select {
	case out := <-j.result:
		return out
	case <-ctx.Done():
		return core.Failed(ctx.Err())
	}
}

func (e *Engine) submit(j job) error {
	e.workerMu.Lock()
	defer e.workerMu.Unlock()
	if e.closed {
		return core.ErrEngineClosed
	}
	key := j.event.SessionKey
	w, ok := e.workers[key]
	if !ok {
		w = &worker{key: key, queue: make(chan job, e.queueSize)}
		e.workers[key] = w
		e.wg.Add(1)
		go e.workerLoop(w)
	}
	select {
	case w.queue <- j:
		return nil
	default:
		return fmt.Errorf("%w: session %s queue full", core.ErrSessionBusy, key)
	}
}

// workerLoop drains one session's queue in order, retiring after idleTTL with
// no work. Retirement races with submission are settled under workerMu: a
// worker only removes itself while its queue is observed empty.
func (e *Engine) workerLoop(w *worker) {
	defer e.wg.Done()
	idle := time.NewTimer(e.idleTTL)
	defer idle.Stop()
	for {
		select {
		case j := <-w.queue:
			e.runJob(j)
			if !idle.Stop() {
				select {
				case <-idle.C:
				default:
				}
			}
			idle.Reset(e.idleTTL)
		case <-idle.C:
			e.workerMu.Lock()
			if len(w.queue) == 0 {
				delete(e.workers, w.key)
				e.workerMu.Unlock()
				return
			}
			e.workerMu.Unlock()
			idle.Reset(e.idleTTL)
		case <-e.closeCh:
			for {
				select {
				case j := <-w.queue:
					e.runJob(j)
				default:
					e.workerMu.Lock()
					delete(e.workers, w.key)
					e.workerMu.Unlock()
					return
				}
			}
		}
	}
}

// Close stops accepting events, drains queued work and waits for workers to
// finish.
func (e *Engine) Close() {
	e.workerMu.Lock()
	if e.closed {
		e.workerMu.Unlock()
		return
	}
	e.closed = true
	close(e.closeCh)
	e.workerMu.Unlock()
	e.wg.Wait()
}

func (e *Engine) runJob(j job) {
	ctx := j.ctx
	if e.deadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.deadline)
		defer cancel()
	}
	j.result <- e.processEvent(ctx, j.event)
}

func (e *Engine) processEvent(ctx context.Context, event core.Event) core.Outcome {
	start := time.Now()
	session, err := e.sessions.Load(event.SessionKey)
	if err != nil {
		return core.Failed(fmt.Errorf("load session %s: %w", event.SessionKey, err))
	}
	pctx := core.NewPipelineContext(event, session, e.logger)

	e.stageMu.RLock()
	entries := make([]entry, len(e.entries))
	copy(entries, e.entries)
	e.stageMu.RUnlock()

	outcome := core.Outcome{Kind: core.OutcomeDelivered}
	halted := false
	for _, en := range entries {
		if en.active != nil && !en.active() {
			continue
		}
		if ctx.Err() != nil {
			outcome = core.Failed(ctx.Err())
			halted = true
			break
		}
		decision, err := e.inspect(ctx, en, pctx)
		if err != nil {
			if en.isHook && e.hookFailure == HookSkip {
				e.logger.Warn("pipeline.hook.skipped", "hook", en.stage.Name(), "error", err.Error())
				continue
			}
			outcome = core.Failed(fmt.Errorf("stage %s: %w", en.stage.Name(), err))
			halted = true
			break
		}
		if decision.Halted() {
			outcome = decision.Outcome()
			halted = true
			e.logger.Debug("pipeline.stage.halted", "stage", en.stage.Name(), "outcome", outcome.Kind.String())
			break
		}
	}
	if !halted {
		outcome = core.Delivered(pctx.Reply)
	}

	e.applySideEffects(pctx, outcome)
	e.logger.Info("pipeline.event.processed",
		"event_id", event.ID,
		"session", event.SessionKey,
		"outcome", outcome.Kind.String(),
		"duration_ms", time.Since(start).Milliseconds())
	return outcome
}

// inspect runs one stage with panic containment. A panicking built-in fails
// the event; a panicking hook follows the configured hook failure mode.
func (e *Engine) inspect(ctx context.Context, en entry, pctx *core.PipelineContext) (decision Decision, err error) {
	defer func() {
		if r := recover(); r != nil {
			decision = Continue()
			err = fmt.Errorf("stage %s panicked: %v", en.stage.Name(), r)
		}
	}()
	return en.stage.Inspect(ctx, pctx)
}

// applySideEffects persists history and long-term memory for delivered
// events. Rejected events leave no trace unless audit persistence is on;
// failed events never mutate state.
func (e *Engine) applySideEffects(pctx *core.PipelineContext, outcome core.Outcome) {
	key := pctx.Event.SessionKey
	switch outcome.Kind {
	case core.OutcomeDelivered:
		if outcome.Reply != nil && outcome.Reply.Notice {
			return // notices (command output etc.) stay out of history
		}
		if err := e.sessions.Append(key, core.NewUserTurn(pctx.EffectiveText())); err != nil {
			e.logger.Error("pipeline.history.append_failed", "error", err.Error())
			return
		}
		if pctx.Agent != nil {
			for _, t := range pctx.Agent.Turns {
				if err := e.sessions.Append(key, t); err != nil {
					e.logger.Error("pipeline.history.append_failed", "error", err.Error())
					return
				}
			}
		} else if outcome.Reply != nil && outcome.Reply.Text != "" {
			_ = e.sessions.Append(key, core.NewAssistantTurn(core.TextContent(core.RoleAssistant, outcome.Reply.Text)))
		}
		if max := e.trimBound(pctx.Session); max > 0 {
			if err := e.sessions.Trim(key, max); err != nil {
				e.logger.Error("pipeline.history.trim_failed", "error", err.Error())
			}
		}
		e.writeMemory(pctx, outcome)
	case core.OutcomeRejected:
		if e.auditRejected {
			_ = e.sessions.Append(key, core.NewUserTurn(pctx.EffectiveText()))
		}
	}
}

func (e *Engine) trimBound(session *core.Session) int {
	if session.MaxTurns > 0 {
		return session.MaxTurns
	}
	return e.maxTurns
}

// writeMemory records a delivered group exchange into long-term memory so
// later retrieval can surface it.
func (e *Engine) writeMemory(pctx *core.PipelineContext, outcome core.Outcome) {
	if e.memory == nil || !pctx.Event.IsGroup() || outcome.Reply == nil || outcome.Reply.Text == "" {
		return
	}
	snippet := fmt.Sprintf("%s asked: %s / answered: %s", pctx.Event.UserID, pctx.EffectiveText(), outcome.Reply.Text)
	if err := e.memory.Store(pctx.Event.SessionKey, snippet, map[string]any{"event_id": pctx.Event.ID}); err != nil {
		e.logger.Warn("pipeline.ltm.store_failed", "error", err.Error())
	}
}
