package pipeline

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lumabot/lumabot/agent"
	"github.com/lumabot/lumabot/core"
	"github.com/lumabot/lumabot/media"
	"github.com/lumabot/lumabot/memory"
	"github.com/lumabot/lumabot/provider"
	"github.com/lumabot/lumabot/ratelimit"
	"github.com/lumabot/lumabot/session"
	"github.com/lumabot/lumabot/tool"
)

// testEnv assembles a full pipeline around a mock chat model.
type testEnv struct {
	model    *provider.MockChatModel
	registry *provider.Registry
	sessions *session.InMemoryStore
	memory   *memory.InMemoryStore
	engine   *Engine
}

type envConfig struct {
	whitelist  []string
	wakeWords  []string
	quota      int
	window     time.Duration
	safety     []string // flagged keywords; empty leaves safety unbound
	engineOpts []func(o *EngineOptions)
}

func newTestEnv(t *testing.T, cfg envConfig) *testEnv {
	t.Helper()
	model := provider.NewMockChatModel("m")
	registry := provider.NewRegistry(func(o *provider.RegistryOptions) {
		o.RetryBackoff = time.Millisecond
	})
	require.NoError(t, registry.Bind(provider.CapabilityChat, "mock", model))
	if len(cfg.safety) > 0 {
		require.NoError(t, registry.Bind(provider.CapabilitySafety, "keyword", &provider.KeywordSafety{Keywords: cfg.safety}))
	}

	sessions := session.NewInMemoryStore()
	mem := memory.NewInMemoryStore()
	med := media.NewInMemoryStore()
	catalog := tool.NewCatalog(nil)
	agentCore := agent.New(registry, catalog, mem, med)

	window := cfg.window
	if window == 0 {
		window = time.Minute
	}
	stages := []Stage{
		NewWhitelistStage(cfg.whitelist),
		NewRateLimitStage(ratelimit.NewLimiter(cfg.quota, window), "Slow down.", false),
		NewWakeWordStage(cfg.wakeWords),
		NewSafetyInStage(registry, ""),
		NewSTTStage(registry, med),
		NewCaptionStage(registry, med),
		NewLTMStage(mem, true, 3),
		NewAgentStage(agentCore),
		NewSafetyOutStage(registry, "I can't repeat that."),
		NewTTSStage(registry, med),
		NewFormatterStage(),
	}
	engine := NewEngine(sessions, mem, stages, cfg.engineOpts...)
	t.Cleanup(engine.Close)
	return &testEnv{model: model, registry: registry, sessions: sessions, memory: mem, engine: engine}
}

func textEvent(user, group, text string) core.Event {
	return core.NewTextEvent("test", user, group, text, core.IsolateByUser)
}

func TestProcessHelloDelivered(t *testing.T) {
	env := newTestEnv(t, envConfig{})
	env.model.AddResponse("hello", "hi alice")

	outcome := env.engine.Process(context.Background(), textEvent("alice", "", "hello"))

	require.Equal(t, core.OutcomeDelivered, outcome.Kind)
	require.NotNil(t, outcome.Reply)
	assert.Equal(t, "hi alice", outcome.Reply.Text)

	// One model invocation for a plain answer.
	assert.Equal(t, 1, env.model.Calls())

	// Delivered path persists the exchange.
	sess, err := env.sessions.Load("test:user:alice")
	require.NoError(t, err)
	turns := sess.GetTurns()
	require.Len(t, turns, 2)
	assert.Equal(t, core.RoleUser, turns[0].Role)
	assert.Equal(t, "hello", turns[0].Content.Text())
	assert.Equal(t, core.RoleAssistant, turns[1].Role)
}

func TestProcessWhitelistRejectsSilently(t *testing.T) {
	env := newTestEnv(t, envConfig{whitelist: []string{"test:alice"}})
	env.model.AddResponse("hello", "hi")

	outcome := env.engine.Process(context.Background(), textEvent("mallory", "", "hello"))
	require.Equal(t, core.OutcomeRejected, outcome.Kind)
	assert.Equal(t, core.RejectWhitelist, outcome.Reason)
	assert.Nil(t, outcome.Reply)

	outcome = env.engine.Process(context.Background(), textEvent("alice", "", "hello"))
	assert.Equal(t, core.OutcomeDelivered, outcome.Kind)
}

func TestProcessRateLimitNotice(t *testing.T) {
	env := newTestEnv(t, envConfig{quota: 2})

	for i := 0; i < 2; i++ {
		outcome := env.engine.Process(context.Background(), textEvent("alice", "", "hello"))
		require.Equal(t, core.OutcomeDelivered, outcome.Kind)
	}
	outcome := env.engine.Process(context.Background(), textEvent("alice", "", "hello"))
	require.Equal(t, core.OutcomeRejected, outcome.Kind)
	assert.Equal(t, core.RejectRateLimited, outcome.Reason)
	require.NotNil(t, outcome.Reply)
	assert.Equal(t, "Slow down.", outcome.Reply.Text)
	assert.True(t, outcome.Reply.Notice)
}

func TestProcessWakeWordGate(t *testing.T) {
	env := newTestEnv(t, envConfig{wakeWords: []string{"luma"}})
	env.model.AddResponse("what time is it", "noon")

	// Group message without the wake word is dropped silently.
	outcome := env.engine.Process(context.Background(), textEvent("alice", "g1", "what time is it"))
	require.Equal(t, core.OutcomeRejected, outcome.Kind)
	assert.Equal(t, core.RejectWakeWord, outcome.Reason)

	// With the wake word, the prefix is stripped before the agent sees it.
	outcome = env.engine.Process(context.Background(), textEvent("alice", "g1", "luma, what time is it"))
	require.Equal(t, core.OutcomeDelivered, outcome.Kind)
	assert.Equal(t, "noon", outcome.Reply.Text)

	// Direct messages need no wake word.
	outcome = env.engine.Process(context.Background(), textEvent("alice", "", "what time is it"))
	assert.Equal(t, core.OutcomeDelivered, outcome.Kind)
}

func TestProcessUnsafeInputLeavesNoTrace(t *testing.T) {
	env := newTestEnv(t, envConfig{safety: []string{"forbidden"}})

	outcome := env.engine.Process(context.Background(), textEvent("alice", "", "something forbidden"))
	require.Equal(t, core.OutcomeRejected, outcome.Kind)
	assert.Equal(t, core.RejectUnsafeInput, outcome.Reason)

	// The agent never ran and nothing was appended to history.
	assert.Equal(t, 0, env.model.Calls())
	sess, err := env.sessions.Load("test:user:alice")
	require.NoError(t, err)
	assert.Equal(t, 0, sess.Len())
}

func TestProcessUnsafeOutputRejected(t *testing.T) {
	env := newTestEnv(t, envConfig{safety: []string{"slur"}})
	env.model.AddResponse("provoke", "here is a slur")

	outcome := env.engine.Process(context.Background(), textEvent("alice", "", "provoke"))
	require.Equal(t, core.OutcomeRejected, outcome.Kind)
	assert.Equal(t, core.RejectUnsafeOutput, outcome.Reason)
	require.NotNil(t, outcome.Reply)
	assert.True(t, outcome.Reply.Notice)

	// The flagged exchange is not persisted.
	sess, err := env.sessions.Load("test:user:alice")
	require.NoError(t, err)
	assert.Equal(t, 0, sess.Len())
}

func TestProcessAuditRejectedPersistsInput(t *testing.T) {
	env := newTestEnv(t, envConfig{
		safety:     []string{"forbidden"},
		engineOpts: []func(o *EngineOptions){func(o *EngineOptions) { o.AuditRejected = true }},
	})

	outcome := env.engine.Process(context.Background(), textEvent("alice", "", "something forbidden"))
	require.Equal(t, core.OutcomeRejected, outcome.Kind)

	sess, err := env.sessions.Load("test:user:alice")
	require.NoError(t, err)
	require.Equal(t, 1, sess.Len())
	assert.Equal(t, core.RoleUser, sess.GetTurns()[0].Role)
}

func TestProcessGroupDeliveryWritesMemory(t *testing.T) {
	env := newTestEnv(t, envConfig{})
	env.model.AddResponse("remember the launch is friday", "Noted.")

	outcome := env.engine.Process(context.Background(), textEvent("alice", "g1", "remember the launch is friday"))
	require.Equal(t, core.OutcomeDelivered, outcome.Kind)

	hits, err := env.memory.Search("test:user:alice", "launch friday", 3)
	require.NoError(t, err)
	assert.NotEmpty(t, hits, "delivered group exchanges are written to long-term memory")
}

// serializationStage records concurrent entries per session; any overlap for
// the same session is a serialization violation.
type serializationStage struct {
	mu       sync.Mutex
	inFlight map[string]int
	overlap  atomic.Bool
	order    map[string][]string
}

func (s *serializationStage) Name() string { return "probe" }

func (s *serializationStage) Inspect(_ context.Context, pctx *core.PipelineContext) (Decision, error) {
	key := pctx.Event.SessionKey
	s.mu.Lock()
	s.inFlight[key]++
	if s.inFlight[key] > 1 {
		s.overlap.Store(true)
	}
	s.order[key] = append(s.order[key], pctx.Event.Payload.Text)
	s.mu.Unlock()

	time.Sleep(2 * time.Millisecond)

	s.mu.Lock()
	s.inFlight[key]--
	s.mu.Unlock()
	return Halt(core.Rejected(core.RejectWakeWord, nil)), nil
}

func TestPerSessionSerialization(t *testing.T) {
	probe := &serializationStage{inFlight: map[string]int{}, order: map[string][]string{}}
	engine := NewEngine(session.NewInMemoryStore(), nil, []Stage{probe}, func(o *EngineOptions) {
		o.QueueSize = 64
	})
	defer engine.Close()

	var wg sync.WaitGroup
	users := []string{"alice", "bob", "carol"}
	for _, user := range users {
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func(user string) {
				defer wg.Done()
				engine.Process(context.Background(), textEvent(user, "", "msg"))
			}(user)
		}
	}
	wg.Wait()

	assert.False(t, probe.overlap.Load(), "two events of one session must never run concurrently")
	for _, user := range users {
		assert.Len(t, probe.order["test:user:"+user], 10)
	}
}

func TestPerSessionSubmissionOrder(t *testing.T) {
	probe := &serializationStage{inFlight: map[string]int{}, order: map[string][]string{}}
	engine := NewEngine(session.NewInMemoryStore(), nil, []Stage{probe}, func(o *EngineOptions) {
		o.QueueSize = 64
	})
	defer engine.Close()

	// Stagger submissions so arrival order is deterministic while earlier
	// events are still processing.
	var wg sync.WaitGroup
	labels := []string{"one", "two", "three", "four", "five"}
	for _, label := range labels {
		wg.Add(1)
		go func(label string) {
			defer wg.Done()
			engine.Process(context.Background(), textEvent("alice", "", label))
		}(label)
		time.Sleep(10 * time.Millisecond)
	}
	wg.Wait()

	assert.Equal(t, labels, probe.order["test:user:alice"])
}

func TestHookBeforeAgentShortCircuits(t *testing.T) {
	env := newTestEnv(t, envConfig{})
	hook := Func{
		StageName: "short_circuit",
		Fn: func(_ context.Context, pctx *core.PipelineContext) (Decision, error) {
			return Halt(core.Delivered(&core.Reply{Text: "intercepted", Notice: true})), nil
		},
	}
	require.NoError(t, env.engine.InsertHook(Before(StageAgent), hook, nil))

	outcome := env.engine.Process(context.Background(), textEvent("alice", "", "hello"))
	require.Equal(t, core.OutcomeDelivered, outcome.Kind)
	assert.Equal(t, "intercepted", outcome.Reply.Text)
	assert.Equal(t, 0, env.model.Calls())
}

func TestHookInactiveIsSkipped(t *testing.T) {
	env := newTestEnv(t, envConfig{})
	env.model.AddResponse("hello", "hi")
	active := false
	hook := Func{
		StageName: "toggled",
		Fn: func(context.Context, *core.PipelineContext) (Decision, error) {
			return Halt(core.Failed(errors.New("should not run"))), nil
		},
	}
	require.NoError(t, env.engine.InsertHook(Before(StageAgent), hook, func() bool { return active }))

	outcome := env.engine.Process(context.Background(), textEvent("alice", "", "hello"))
	assert.Equal(t, core.OutcomeDelivered, outcome.Kind)

	active = true
	outcome = env.engine.Process(context.Background(), textEvent("alice", "", "hello"))
	assert.Equal(t, core.OutcomeFailed, outcome.Kind)
}

func TestPanickingHookSkippedByDefault(t *testing.T) {
	env := newTestEnv(t, envConfig{})
	env.model.AddResponse("hello", "hi")
	hook := Func{
		StageName: "panicky",
		Fn: func(context.Context, *core.PipelineContext) (Decision, error) {
			panic("plugin bug")
		},
	}
	require.NoError(t, env.engine.InsertHook(Before(StageAgent), hook, nil))

	outcome := env.engine.Process(context.Background(), textEvent("alice", "", "hello"))
	assert.Equal(t, core.OutcomeDelivered, outcome.Kind, "a panicking hook is isolated to skip")
}

func TestPanickingHookFailModeFailsEvent(t *testing.T) {
	env := newTestEnv(t, envConfig{
		engineOpts: []func(o *EngineOptions){func(o *EngineOptions) { o.HookFailure = HookFail }},
	})
	hook := Func{
		StageName: "panicky",
		Fn: func(context.Context, *core.PipelineContext) (Decision, error) {
			panic("plugin bug")
		},
	}
	require.NoError(t, env.engine.InsertHook(Before(StageAgent), hook, nil))

	outcome := env.engine.Process(context.Background(), textEvent("alice", "", "hello"))
	require.Equal(t, core.OutcomeFailed, outcome.Kind)
	assert.Contains(t, outcome.Err.Error(), "panicked")
}

func TestInsertHookUnknownAnchor(t *testing.T) {
	env := newTestEnv(t, envConfig{})
	hook := Func{StageName: "h", Fn: func(context.Context, *core.PipelineContext) (Decision, error) {
		return Continue(), nil
	}}
	assert.Error(t, env.engine.InsertHook(Before("no_such_stage"), hook, nil))
	assert.True(t, env.engine.HasStage(StageAgent))
	assert.False(t, env.engine.HasStage("no_such_stage"))
}

func TestProcessDeadline(t *testing.T) {
	slow := Func{StageName: "slow", Fn: func(ctx context.Context, _ *core.PipelineContext) (Decision, error) {
		select {
		case <-ctx.Done():
			return Continue(), ctx.Err()
		case <-time.After(time.Second):
			return Continue(), nil
		}
	}}
	engine := NewEngine(session.NewInMemoryStore(), nil, []Stage{slow}, func(o *EngineOptions) {
		o.Deadline = 20 * time.Millisecond
	})
	defer engine.Close()

	outcome := engine.Process(context.Background(), textEvent("alice", "", "hi"))
	require.Equal(t, core.OutcomeFailed, outcome.Kind)
	assert.ErrorIs(t, outcome.Err, context.DeadlineExceeded)
}

func TestProcessAfterCloseFails(t *testing.T) {
	engine := NewEngine(session.NewInMemoryStore(), nil, nil)
	engine.Close()

	outcome := engine.Process(context.Background(), textEvent("alice", "", "hi"))
	require.Equal(t, core.OutcomeFailed, outcome.Kind)
	assert.ErrorIs(t, outcome.Err, core.ErrEngineClosed)
}

func TestDeliveredHistoryTrimmed(t *testing.T) {
	env := newTestEnv(t, envConfig{
		engineOpts: []func(o *EngineOptions){func(o *EngineOptions) { o.MaxTurns = 4 }},
	})

	for i := 0; i < 5; i++ {
		outcome := env.engine.Process(context.Background(), textEvent("alice", "", "hello"))
		require.Equal(t, core.OutcomeDelivered, outcome.Kind)
	}

	sess, err := env.sessions.Load("test:user:alice")
	require.NoError(t, err)
	assert.LessOrEqual(t, sess.Len(), 4)
}
