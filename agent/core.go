package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lumabot/lumabot/core"
	"github.com/lumabot/lumabot/internal/prompt"
	"github.com/lumabot/lumabot/logging"
	"github.com/lumabot/lumabot/provider"
	"github.com/lumabot/lumabot/tool"
)

// DefaultPersona anchors sessions that have no configured persona.
const DefaultPersona = "You are a helpful assistant. Answer concisely and use tools when they help."

// Options configure the agent core.
type Options struct {
	// MaxSteps bounds model invocations per run. Each prompt of the model
	// consumes one step; exhausting the budget ends the run degraded.
	MaxSteps int

	// ToolCallTimeout bounds each tool invocation. A timed-out call becomes a
	// synthetic failure result fed back to the model; the run continues.
	ToolCallTimeout time.Duration

	// MaxContextTurns caps how much session history enters the prompt.
	MaxContextTurns int

	// DegradedReply is the user-visible text when the step budget runs out.
	DegradedReply string

	// Logger receives per-step structured records.
	Logger logging.Logger
}

// Core drives the bounded reasoning loop against the bound chat model and the
// tool catalog. A Core is stateless across runs and safe for concurrent use;
// all per-run state lives in the run struct.
type Core struct {
	registry *provider.Registry
	catalog  *tool.Catalog
	memory   core.MemoryStore
	media    core.MediaStore
	opts     Options
}

// New constructs an agent core. Memory and media stores may be nil; tools that
// need them fail their individual calls instead.
func New(registry *provider.Registry, catalog *tool.Catalog, memory core.MemoryStore, media core.MediaStore, optFns ...func(o *Options)) *Core {
	opts := Options{
		MaxSteps:        8,
		ToolCallTimeout: 30 * time.Second,
		MaxContextTurns: 40,
		DegradedReply:   "I couldn't finish working through that request. Could you simplify it or try again?",
		Logger:          logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Core{registry: registry, catalog: catalog, memory: memory, media: media, opts: opts}
}

// run is the per-invocation state of one agent loop.
type run struct {
	state    State
	contents []core.Content
	steps    []core.AgentStep
	turns    []core.Turn
	tools    []provider.ToolDefinition
}

// Run executes one bounded loop for the event in pctx. The returned result
// carries the reply plus the assistant/tool turns produced along the way;
// callers persist those only on the delivered path. Run never mutates the
// session.
func (c *Core) Run(ctx context.Context, pctx *core.PipelineContext) (*core.AgentResult, error) {
	logger := pctx.Logger
	instructions, err := c.instructions(pctx)
	if err != nil {
		return nil, fmt.Errorf("render persona: %w", err)
	}

	r := &run{
		state:    StateInit,
		contents: append(pctx.Session.History(c.opts.MaxContextTurns), core.TextContent(core.RoleUser, pctx.EffectiveText())),
		tools:    c.toolDefinitions(pctx.Session.Key),
	}

	tctx := tool.NewContext(pctx.Session.Key, pctx.Event, "")
	tctx.Memory = c.memory
	tctx.Media = c.media
	tctx.Logger = logger

	for len(r.steps) < c.opts.MaxSteps {
		r.state = StatePrompting
		resp, err := c.promptModel(ctx, instructions, r)
		if err != nil {
			r.state = StateErrored
			return nil, err
		}

		step := core.AgentStep{Index: len(r.steps), Output: resp.Content}
		r.contents = append(r.contents, resp.Content)
		r.turns = append(r.turns, core.NewAssistantTurn(resp.Content))

		calls := resp.Content.FunctionCalls()
		if len(calls) == 0 {
			r.steps = append(r.steps, step)
			r.state = StateDone
			logger.Info("agent.done", "steps", len(r.steps))
			return &core.AgentResult{Reply: resp.Content, Steps: r.steps, Turns: r.turns}, nil
		}

		r.state = StateAwaitingToolResult
		for i, call := range calls {
			fr := c.executeCall(ctx, tctx, call, logger)
			if i == 0 {
				step.ToolCall = &calls[0]
				step.ToolResult = &fr
			}
			r.turns = append(r.turns, core.NewTurn(core.RoleTool, responseContent(fr)))
			r.contents = append(r.contents, responseContent(fr))
		}
		r.steps = append(r.steps, step)
	}

	r.state = StateStepLimitExceeded
	logger.Warn("agent.step_limit_exceeded", "steps", len(r.steps), "max_steps", c.opts.MaxSteps)
	reply := core.TextContent(core.RoleAssistant, c.opts.DegradedReply)
	r.turns = append(r.turns, core.NewAssistantTurn(reply))
	return &core.AgentResult{Reply: reply, Steps: r.steps, Turns: r.turns, Degraded: true}, nil
}

// promptModel calls the bound chat model through the registry's retry wrapper.
func (c *Core) promptModel(ctx context.Context, instructions string, r *run) (*provider.ChatResponse, error) {
	model, id, err := c.registry.Chat()
	if err != nil {
		return nil, err
	}
	req := provider.ChatRequest{Instructions: instructions, Contents: r.contents, Tools: r.tools}

	var resp *provider.ChatResponse
	callErr := c.registry.Call(ctx, provider.CapabilityChat, func(ctx context.Context) error {
		var e error
		resp, e = model.Chat(ctx, req)
		return e
	})
	if callErr != nil {
		return nil, fmt.Errorf("chat provider %s: %w", id, callErr)
	}
	return resp, nil
}

// executeCall runs one tool call under the tool-call timeout. All failures
// fold into the FunctionResponse error field so the model sees them as
// results and can recover; a failed tool never aborts the run.
func (c *Core) executeCall(ctx context.Context, tctx *tool.Context, call core.FunctionCall, logger logging.Logger) core.FunctionResponse {
	callCtx, cancel := context.WithTimeout(ctx, c.opts.ToolCallTimeout)
	defer cancel()

	ctctx := *tctx
	ctctx.CallID = call.ID

	start := time.Now()
	result, err := c.catalog.Invoke(callCtx, &ctctx, call.Name, call.Arguments)
	if err != nil {
		if timedOut(err) {
			logger.Warn("agent.tool.timeout", "tool", call.Name, "timeout", c.opts.ToolCallTimeout.String())
			err = errors.New("tool failed: timeout")
		} else {
			logger.Warn("agent.tool.failed", "tool", call.Name, "error", err.Error())
		}
		fr := core.FunctionResponse{ID: call.ID, Name: call.Name, Error: err.Error()}
		return fr
	}
	logger.Info("agent.tool.executed", "tool", call.Name, "duration_ms", time.Since(start).Milliseconds())
	return core.FunctionResponse{ID: call.ID, Name: call.Name, Response: result}
}

func timedOut(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var toolErr *tool.Error
	return errors.As(err, &toolErr) && toolErr.Code == tool.CodeTimeout
}

// instructions renders the session persona template and appends retrieved
// knowledge snippets.
func (c *Core) instructions(pctx *core.PipelineContext) (string, error) {
	persona := pctx.Session.Persona
	if persona == "" {
		persona = DefaultPersona
	}
	rendered, err := prompt.Render(persona, map[string]any{
		"User":     pctx.Event.UserID,
		"Platform": pctx.Event.Platform,
		"Group":    pctx.Event.GroupID,
	})
	if err != nil {
		return "", err
	}
	if len(pctx.Snippets) == 0 {
		return rendered, nil
	}
	var sb strings.Builder
	sb.WriteString(rendered)
	sb.WriteString("\n\nRelevant knowledge from earlier conversations:\n")
	for _, s := range pctx.Snippets {
		sb.WriteString("- ")
		sb.WriteString(s)
		sb.WriteString("\n")
	}
	return sb.String(), nil
}

func (c *Core) toolDefinitions(sessionKey string) []provider.ToolDefinition {
	descriptors := c.catalog.List(sessionKey)
	defs := make([]provider.ToolDefinition, 0, len(descriptors))
	for _, d := range descriptors {
		defs = append(defs, provider.ToolDefinition{
			Name:        d.Name,
			Description: d.Description,
			Parameters:  d.Parameters,
		})
	}
	return defs
}

func responseContent(fr core.FunctionResponse) core.Content {
	return core.Content{Role: core.RoleTool, Parts: []core.Part{core.FunctionResponsePart{FunctionResponse: fr}}}
}
