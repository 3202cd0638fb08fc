package lumabot

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lumabot/lumabot/config"
	"github.com/lumabot/lumabot/core"
	"github.com/lumabot/lumabot/plugin"
	"github.com/lumabot/lumabot/provider"
	"github.com/lumabot/lumabot/tool"
)

func newTestBot(t *testing.T, cfg *config.Config) (*Bot, *provider.MockChatModel) {
	t.Helper()
	model := provider.NewMockChatModel("mock")
	bot, err := New(cfg, func(o *Options) {
		o.ChatModel = model
	})
	require.NoError(t, err)
	t.Cleanup(bot.Close)
	return bot, model
}

func TestBotProcessText(t *testing.T) {
	bot, model := newTestBot(t, nil)
	model.AddResponse("hello", "hi there")

	outcome := bot.ProcessText(context.Background(), "console", "alice", "", "hello")
	require.Equal(t, core.OutcomeDelivered, outcome.Kind)
	assert.Equal(t, "hi there", outcome.Reply.Text)
}

func TestBotPersonaFlowsIntoSessions(t *testing.T) {
	cfg := config.Default()
	cfg.Persona = "You are a terse assistant."
	bot, model := newTestBot(t, cfg)
	model.AddResponse("hello", "hi")

	outcome := bot.ProcessText(context.Background(), "console", "alice", "", "hello")
	require.Equal(t, core.OutcomeDelivered, outcome.Kind)

	sess, err := bot.sessions.Load("console:user:alice")
	require.NoError(t, err)
	assert.Equal(t, "You are a terse assistant.", sess.Persona)
}

func TestBotBuiltinToolsRegistered(t *testing.T) {
	bot, _ := newTestBot(t, nil)

	names := make(map[string]bool)
	for _, d := range bot.Catalog().List("console:user:alice") {
		names[d.Name] = true
	}
	assert.True(t, names["memory_search"], "memory search is always available")
	assert.False(t, names["web_search"], "web search stays hidden until a searcher is bound")
}

func TestBotRegisterPluginActivates(t *testing.T) {
	bot, model := newTestBot(t, nil)
	model.AddResponse("hello", "hi")

	p := &echoPlugin{Base: plugin.Base{PluginName: "echo"}}
	require.NoError(t, bot.RegisterPlugin(p))
	assert.True(t, bot.Host().Active("echo"))

	outcome := bot.ProcessText(context.Background(), "console", "alice", "", "/echo ping")
	require.Equal(t, core.OutcomeDelivered, outcome.Kind)
	assert.Equal(t, "ping", outcome.Reply.Text)
}

type echoPlugin struct{ plugin.Base }

func (p *echoPlugin) Commands() []plugin.Command {
	return []plugin.Command{{
		Name:        "echo",
		Description: "Repeats the arguments",
		Handler: func(_ context.Context, _ *core.PipelineContext, args string) (string, error) {
			return args, nil
		},
	}}
}

func TestBotRejectsInvalidConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Isolation = "tenant"
	_, err := New(cfg)
	assert.Error(t, err)
}

func TestBotIsolationModeGroupsSessions(t *testing.T) {
	cfg := config.Default()
	cfg.Isolation = "group"
	bot, model := newTestBot(t, cfg)
	model.AddResponse("hello", "hi")

	outcome := bot.ProcessText(context.Background(), "console", "alice", "room1", "hello")
	require.Equal(t, core.OutcomeDelivered, outcome.Kind)

	sess, err := bot.sessions.Load("console:group:room1")
	require.NoError(t, err)
	assert.Positive(t, sess.Len(), "group isolation shares one session per room")
}

func TestBotCustomToolReachableByAgent(t *testing.T) {
	bot, model := newTestBot(t, nil)
	require.NoError(t, bot.Catalog().Register(tool.MustFunctionTool(
		"get_time", "Returns the current time",
		map[string]any{"type": "object"},
		func(context.Context, *tool.Context, map[string]any) (any, error) {
			return "12:00", nil
		},
	), nil))

	model.Script(
		provider.ToolCallResponse("c1", "get_time", "{}"),
		provider.TextResponse("It is noon."),
	)

	outcome := bot.ProcessText(context.Background(), "console", "alice", "", "what time is it?")
	require.Equal(t, core.OutcomeDelivered, outcome.Kind)
	assert.Equal(t, "It is noon.", outcome.Reply.Text)
}
