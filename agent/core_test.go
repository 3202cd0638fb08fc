package agent

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lumabot/lumabot/core"
	"github.com/lumabot/lumabot/provider"
	"github.com/lumabot/lumabot/tool"
)

func newTestCore(t *testing.T, model provider.ChatModel, catalog *tool.Catalog, optFns ...func(o *Options)) *Core {
	t.Helper()
	registry := provider.NewRegistry(func(o *provider.RegistryOptions) {
		o.RetryBackoff = time.Millisecond
	})
	require.NoError(t, registry.Bind(provider.CapabilityChat, "mock", model))
	if catalog == nil {
		catalog = tool.NewCatalog(nil)
	}
	return New(registry, catalog, nil, nil, optFns...)
}

func newPctx(text string) *core.PipelineContext {
	event := core.NewTextEvent("test", "alice", "", text, core.IsolateByUser)
	session := core.NewSession(event.SessionKey)
	return core.NewPipelineContext(event, session, nil)
}

func TestRunSingleStep(t *testing.T) {
	model := provider.NewMockChatModel("m")
	model.AddResponse("hello", "hi there")
	c := newTestCore(t, model, nil)

	result, err := c.Run(context.Background(), newPctx("hello"))
	require.NoError(t, err)

	assert.Equal(t, "hi there", result.Reply.Text())
	assert.Len(t, result.Steps, 1)
	assert.False(t, result.Degraded)
	require.Len(t, result.Turns, 1)
	assert.Equal(t, core.RoleAssistant, result.Turns[0].Role)
}

func TestRunToolCallThenAnswer(t *testing.T) {
	catalog := tool.NewCatalog(nil)
	require.NoError(t, catalog.Register(tool.MustFunctionTool(
		"lookup", "looks things up",
		map[string]any{"type": "object", "properties": map[string]any{"q": map[string]any{"type": "string"}}},
		func(_ context.Context, _ *tool.Context, args map[string]any) (any, error) {
			return "42", nil
		},
	), nil))

	model := provider.NewMockChatModel("m")
	model.Script(
		provider.ToolCallResponse("c1", "lookup", `{"q":"answer"}`),
		provider.TextResponse("the answer is 42"),
	)
	c := newTestCore(t, model, catalog)

	result, err := c.Run(context.Background(), newPctx("what is the answer?"))
	require.NoError(t, err)

	assert.Equal(t, "the answer is 42", result.Reply.Text())
	require.Len(t, result.Steps, 2)
	require.NotNil(t, result.Steps[0].ToolCall)
	assert.Equal(t, "lookup", result.Steps[0].ToolCall.Name)
	require.NotNil(t, result.Steps[0].ToolResult)
	assert.Equal(t, "42", result.Steps[0].ToolResult.Response)

	// assistant(call) + tool(result) + assistant(final)
	require.Len(t, result.Turns, 3)
	assert.Equal(t, core.RoleAssistant, result.Turns[0].Role)
	assert.Equal(t, core.RoleTool, result.Turns[1].Role)
	assert.Equal(t, core.RoleAssistant, result.Turns[2].Role)
}

func TestRunStepLimitExceeded(t *testing.T) {
	catalog := tool.NewCatalog(nil)
	require.NoError(t, catalog.Register(tool.MustFunctionTool(
		"lookup", "looks things up",
		map[string]any{"type": "object"},
		func(context.Context, *tool.Context, map[string]any) (any, error) { return "more", nil },
	), nil))

	model := provider.NewMockChatModel("m")
	// The model keeps asking for tools and never answers.
	for i := 0; i < 10; i++ {
		model.Script(provider.ToolCallResponse("c", "lookup", "{}"))
	}
	c := newTestCore(t, model, catalog, func(o *Options) { o.MaxSteps = 3 })

	result, err := c.Run(context.Background(), newPctx("loop forever"))
	require.NoError(t, err)

	assert.True(t, result.Degraded)
	assert.Len(t, result.Steps, 3, "the loop runs exactly MaxSteps steps")
	assert.Equal(t, 3, model.Calls())
	assert.NotEmpty(t, result.Reply.Text())
}

func TestRunToolTimeoutProducesSyntheticFailure(t *testing.T) {
	catalog := tool.NewCatalog(nil)
	require.NoError(t, catalog.Register(tool.MustFunctionTool(
		"slow", "never finishes in time",
		map[string]any{"type": "object"},
		func(ctx context.Context, _ *tool.Context, _ map[string]any) (any, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	), nil))

	model := provider.NewMockChatModel("m")
	model.Script(
		provider.ToolCallResponse("c1", "slow", "{}"),
		provider.TextResponse("worked around it"),
	)
	c := newTestCore(t, model, catalog, func(o *Options) {
		o.ToolCallTimeout = 20 * time.Millisecond
	})

	result, err := c.Run(context.Background(), newPctx("do the slow thing"))
	require.NoError(t, err, "a timed-out tool must not abort the run")

	require.Len(t, result.Steps, 2)
	require.NotNil(t, result.Steps[0].ToolResult)
	assert.Equal(t, "tool failed: timeout", result.Steps[0].ToolResult.Error)
	assert.Equal(t, "worked around it", result.Reply.Text())

	// The synthetic failure is recorded as a tool turn for persistence.
	require.Len(t, result.Turns, 3)
	frs := result.Turns[1].Content.FunctionResponses()
	require.Len(t, frs, 1)
	assert.Equal(t, "tool failed: timeout", frs[0].Error)
}

func TestRunUnknownToolSurfacesToModel(t *testing.T) {
	model := provider.NewMockChatModel("m")
	model.Script(
		provider.ToolCallResponse("c1", "missing_tool", "{}"),
		provider.TextResponse("never mind"),
	)
	c := newTestCore(t, model, nil)

	result, err := c.Run(context.Background(), newPctx("hi"))
	require.NoError(t, err)
	require.NotNil(t, result.Steps[0].ToolResult)
	assert.NotEmpty(t, result.Steps[0].ToolResult.Error)
	assert.Equal(t, "never mind", result.Reply.Text())
}

type capturingModel struct {
	lastReq provider.ChatRequest
}

func (m *capturingModel) Chat(ctx context.Context, req provider.ChatRequest) (*provider.ChatResponse, error) {
	m.lastReq = req
	resp := provider.TextResponse("ok")
	return &resp, nil
}

func (m *capturingModel) Info() provider.Info {
	return provider.Info{Name: "capture", Vendor: "mock", SupportsTools: true}
}

func TestRunRendersPersonaAndSnippets(t *testing.T) {
	model := &capturingModel{}
	c := newTestCore(t, model, nil)

	pctx := newPctx("hi")
	pctx.Session.Persona = "You are helping {{.User}}."
	pctx.Snippets = []string{"alice prefers short answers"}

	_, err := c.Run(context.Background(), pctx)
	require.NoError(t, err)

	assert.Contains(t, model.lastReq.Instructions, "You are helping alice.")
	assert.Contains(t, model.lastReq.Instructions, "alice prefers short answers")
}

func TestRunModelErrorAborts(t *testing.T) {
	model := &failingModel{err: errors.New("invalid api key")}
	c := newTestCore(t, model, nil)

	_, err := c.Run(context.Background(), newPctx("hi"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid api key")
}

type failingModel struct{ err error }

func (m *failingModel) Chat(context.Context, provider.ChatRequest) (*provider.ChatResponse, error) {
	return nil, m.err
}

func (m *failingModel) Info() provider.Info {
	return provider.Info{Name: "failing", Vendor: "mock"}
}
