package pipeline

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lumabot/lumabot/core"
	"github.com/lumabot/lumabot/media"
	"github.com/lumabot/lumabot/provider"
)

func mediaEvent(t *testing.T, store core.MediaStore, kind core.PayloadKind, mime string) core.Event {
	t.Helper()
	ref := core.MediaRef{ID: core.NewID(), MimeType: mime}
	require.NoError(t, store.Save("test:user:alice", ref.ID, []byte("payload")))
	return core.NewMediaEvent("test", "alice", "", kind, ref, core.IsolateByUser)
}

func TestSTTStageTranscribesAudio(t *testing.T) {
	env := newTestEnv(t, envConfig{})
	store := media.NewInMemoryStore()
	require.NoError(t, env.registry.Bind(provider.CapabilitySTT, "static", &provider.StaticTranscriber{Transcript: "hello from voice"}))
	env.model.AddResponse("hello from voice", "heard you")

	stage := NewSTTStage(env.registry, store)
	event := mediaEvent(t, store, core.PayloadAudio, "audio/ogg")
	pctx := core.NewPipelineContext(event, core.NewSession(event.SessionKey), nil)

	decision, err := stage.Inspect(context.Background(), pctx)
	require.NoError(t, err)
	assert.False(t, decision.Halted())
	assert.Equal(t, "hello from voice", pctx.EffectiveText())
}

func TestSTTStageFailsWithoutTranscriber(t *testing.T) {
	env := newTestEnv(t, envConfig{})
	store := media.NewInMemoryStore()
	stage := NewSTTStage(env.registry, store)
	event := mediaEvent(t, store, core.PayloadAudio, "audio/ogg")
	pctx := core.NewPipelineContext(event, core.NewSession(event.SessionKey), nil)

	_, err := stage.Inspect(context.Background(), pctx)
	assert.ErrorIs(t, err, core.ErrNoBinding, "audio without a transcriber is a configuration failure")
}

func TestSTTStageIgnoresText(t *testing.T) {
	env := newTestEnv(t, envConfig{})
	stage := NewSTTStage(env.registry, media.NewInMemoryStore())
	event := textEvent("alice", "", "plain text")
	pctx := core.NewPipelineContext(event, core.NewSession(event.SessionKey), nil)

	decision, err := stage.Inspect(context.Background(), pctx)
	require.NoError(t, err)
	assert.False(t, decision.Halted())
	assert.Equal(t, "plain text", pctx.EffectiveText())
}

func TestCaptionStageDescribesImage(t *testing.T) {
	env := newTestEnv(t, envConfig{})
	store := media.NewInMemoryStore()
	require.NoError(t, env.registry.Bind(provider.CapabilityCaption, "static", &provider.StaticCaptioner{Text: "a cat on a keyboard"}))

	stage := NewCaptionStage(env.registry, store)
	event := mediaEvent(t, store, core.PayloadImage, "image/png")
	pctx := core.NewPipelineContext(event, core.NewSession(event.SessionKey), nil)

	decision, err := stage.Inspect(context.Background(), pctx)
	require.NoError(t, err)
	assert.False(t, decision.Halted())
	assert.Equal(t, "The user sent an image: a cat on a keyboard", pctx.EffectiveText())
}

func TestTTSStageAttachesVoice(t *testing.T) {
	env := newTestEnv(t, envConfig{})
	store := media.NewInMemoryStore()
	require.NoError(t, env.registry.Bind(provider.CapabilityTTS, "silent", provider.SilentSynthesizer{}))

	stage := NewTTSStage(env.registry, store)
	event := textEvent("alice", "", "say something")
	pctx := core.NewPipelineContext(event, core.NewSession(event.SessionKey), nil)
	pctx.Agent = &core.AgentResult{Reply: core.TextContent(core.RoleAssistant, "spoken reply")}

	decision, err := stage.Inspect(context.Background(), pctx)
	require.NoError(t, err)
	assert.False(t, decision.Halted())
	require.NotNil(t, pctx.Reply)
	assert.False(t, pctx.Reply.Voice.IsZero())

	audio, err := store.Get(event.SessionKey, pctx.Reply.Voice.ID)
	require.NoError(t, err)
	assert.Equal(t, []byte("spoken reply"), audio)
}

func TestTTSStageSkippedWhenUnbound(t *testing.T) {
	env := newTestEnv(t, envConfig{})
	stage := NewTTSStage(env.registry, media.NewInMemoryStore())
	event := textEvent("alice", "", "say something")
	pctx := core.NewPipelineContext(event, core.NewSession(event.SessionKey), nil)
	pctx.Agent = &core.AgentResult{Reply: core.TextContent(core.RoleAssistant, "text only")}

	decision, err := stage.Inspect(context.Background(), pctx)
	require.NoError(t, err)
	assert.False(t, decision.Halted())
	assert.Nil(t, pctx.Reply, "no synthesizer means a text-only reply")
}

func TestLTMStageInjectsSnippets(t *testing.T) {
	env := newTestEnv(t, envConfig{})
	require.NoError(t, env.memory.Store("test:group:g1", "alice asked about the launch date", nil))

	stage := NewLTMStage(env.memory, true, 3)
	event := core.NewTextEvent("test", "alice", "g1", "when is the launch?", core.IsolateByGroup)
	pctx := core.NewPipelineContext(event, core.NewSession(event.SessionKey), nil)

	decision, err := stage.Inspect(context.Background(), pctx)
	require.NoError(t, err)
	assert.False(t, decision.Halted())
	require.NotEmpty(t, pctx.Snippets)
	assert.Contains(t, pctx.Snippets[0], "launch")
}

func TestLTMStageGroupOnlySkipsDirect(t *testing.T) {
	env := newTestEnv(t, envConfig{})
	require.NoError(t, env.memory.Store("test:user:alice", "remembered detail", nil))

	stage := NewLTMStage(env.memory, true, 3)
	event := textEvent("alice", "", "remembered detail")
	pctx := core.NewPipelineContext(event, core.NewSession(event.SessionKey), nil)

	_, err := stage.Inspect(context.Background(), pctx)
	require.NoError(t, err)
	assert.Empty(t, pctx.Snippets)
}
