package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/lumabot/lumabot/agent"
	"github.com/lumabot/lumabot/core"
	"github.com/lumabot/lumabot/provider"
	"github.com/lumabot/lumabot/ratelimit"
)

// WhitelistStage rejects events from identities not on the access list. An
// empty list admits everyone. Rejections are silent; uninvited senders get no
// feedback that a bot is present.
type WhitelistStage struct {
	allowed map[string]struct{}
}

// NewWhitelistStage builds the stage from a list of "platform:user" identities.
func NewWhitelistStage(identities []string) *WhitelistStage {
	s := &WhitelistStage{}
	if len(identities) > 0 {
		s.allowed = make(map[string]struct{}, len(identities))
		for _, id := range identities {
			s.allowed[id] = struct{}{}
		}
	}
	return s
}

// Name implements Stage.
func (s *WhitelistStage) Name() string { return StageWhitelist }

// Inspect implements Stage.
func (s *WhitelistStage) Inspect(_ context.Context, pctx *core.PipelineContext) (Decision, error) {
	if s.allowed == nil {
		return Continue(), nil
	}
	if _, ok := s.allowed[pctx.Event.Identity()]; !ok {
		return Halt(core.Rejected(core.RejectWhitelist, nil)), nil
	}
	return Continue(), nil
}

// RateLimitStage rejects events from identities over their admission quota.
// A non-empty notice text turns the rejection into a fixed user-visible
// notice; otherwise the denial is silent.
type RateLimitStage struct {
	limiter    *ratelimit.Limiter
	noticeText string
	bySession  bool
}

// NewRateLimitStage builds the stage. bySession keys the counter by session
// instead of by sender identity.
func NewRateLimitStage(limiter *ratelimit.Limiter, noticeText string, bySession bool) *RateLimitStage {
	return &RateLimitStage{limiter: limiter, noticeText: noticeText, bySession: bySession}
}

// Name implements Stage.
func (s *RateLimitStage) Name() string { return StageRateLimit }

// Inspect implements Stage.
func (s *RateLimitStage) Inspect(_ context.Context, pctx *core.PipelineContext) (Decision, error) {
	identity := pctx.Event.Identity()
	if s.bySession {
		identity = pctx.Event.SessionKey
	}
	if s.limiter.Admit(identity) {
		return Continue(), nil
	}
	var notice *core.Reply
	if s.noticeText != "" {
		notice = &core.Reply{Text: s.noticeText, Notice: true}
	}
	return Halt(core.Rejected(core.RejectRateLimited, notice)), nil
}

// WakeWordStage gates group messages on an addressing prefix. Direct messages
// always pass. A matched wake word is stripped from the effective input so
// the agent never sees the addressing syntax. Non-text group payloads pass
// unchecked; transcription happens later in the pipeline.
type WakeWordStage struct {
	words []string
}

// NewWakeWordStage builds the stage; words are matched case-insensitively at
// the start of the message. An empty word list passes everything.
func NewWakeWordStage(words []string) *WakeWordStage {
	return &WakeWordStage{words: words}
}

// Name implements Stage.
func (s *WakeWordStage) Name() string { return StageWakeWord }

// Inspect implements Stage.
func (s *WakeWordStage) Inspect(_ context.Context, pctx *core.PipelineContext) (Decision, error) {
	if !pctx.Event.IsGroup() || len(s.words) == 0 {
		return Continue(), nil
	}
	if pctx.Event.Payload.Kind != core.PayloadText {
		return Continue(), nil
	}
	text := strings.TrimSpace(pctx.EffectiveText())
	lower := strings.ToLower(text)
	for _, w := range s.words {
		prefix := strings.ToLower(w)
		if strings.HasPrefix(lower, prefix) {
			stripped := strings.TrimSpace(text[len(prefix):])
			stripped = strings.TrimLeft(stripped, ",:;")
			pctx.InputText = strings.TrimSpace(stripped)
			return Continue(), nil
		}
	}
	return Halt(core.Rejected(core.RejectWakeWord, nil)), nil
}

// SafetyInStage checks the inbound text against the bound safety backend.
// With no safety binding the stage is a pass-through.
type SafetyInStage struct {
	registry   *provider.Registry
	noticeText string
}

// NewSafetyInStage builds the stage. noticeText, when non-empty, is returned
// to the user on a flagged input; empty means silent rejection.
func NewSafetyInStage(registry *provider.Registry, noticeText string) *SafetyInStage {
	return &SafetyInStage{registry: registry, noticeText: noticeText}
}

// Name implements Stage.
func (s *SafetyInStage) Name() string { return StageSafetyIn }

// Inspect implements Stage.
func (s *SafetyInStage) Inspect(ctx context.Context, pctx *core.PipelineContext) (Decision, error) {
	if !s.registry.Bound(provider.CapabilitySafety) {
		return Continue(), nil
	}
	text := pctx.EffectiveText()
	if text == "" {
		return Continue(), nil
	}
	verdict, err := checkSafety(ctx, s.registry, text)
	if err != nil {
		return Continue(), fmt.Errorf("input safety check: %w", err)
	}
	pctx.InputVerdict = &verdict
	if verdict.Flagged {
		pctx.Logger.Warn("pipeline.safety.input_flagged", "reason", verdict.Reason)
		var notice *core.Reply
		if s.noticeText != "" {
			notice = &core.Reply{Text: s.noticeText, Notice: true}
		}
		return Halt(core.Rejected(core.RejectUnsafeInput, notice)), nil
	}
	return Continue(), nil
}

// STTStage transcribes audio payloads into the effective input text. An audio
// event with no bound transcriber is a configuration failure.
type STTStage struct {
	registry *provider.Registry
	media    core.MediaStore
}

// NewSTTStage builds the stage.
func NewSTTStage(registry *provider.Registry, media core.MediaStore) *STTStage {
	return &STTStage{registry: registry, media: media}
}

// Name implements Stage.
func (s *STTStage) Name() string { return StageSTT }

// Inspect implements Stage.
func (s *STTStage) Inspect(ctx context.Context, pctx *core.PipelineContext) (Decision, error) {
	if pctx.Event.Payload.Kind != core.PayloadAudio {
		return Continue(), nil
	}
	transcriber, id, err := s.registry.Transcriber()
	if err != nil {
		return Continue(), err
	}
	ref := pctx.Event.Payload.Media
	audio, err := s.media.Get(pctx.Event.SessionKey, ref.ID)
	if err != nil {
		return Continue(), fmt.Errorf("load audio %s: %w", ref.ID, err)
	}
	var transcript string
	err = s.registry.Call(ctx, provider.CapabilitySTT, func(ctx context.Context) error {
		var e error
		transcript, e = transcriber.Transcribe(ctx, audio, ref.MimeType)
		return e
	})
	if err != nil {
		return Continue(), fmt.Errorf("stt provider %s: %w", id, err)
	}
	pctx.InputText = transcript
	pctx.Logger.Debug("pipeline.stt.transcribed", "chars", len(transcript))
	return Continue(), nil
}

// CaptionStage describes image payloads so the agent can reason about them as
// text. An image event with no bound captioner is a configuration failure.
type CaptionStage struct {
	registry *provider.Registry
	media    core.MediaStore
}

// NewCaptionStage builds the stage.
func NewCaptionStage(registry *provider.Registry, media core.MediaStore) *CaptionStage {
	return &CaptionStage{registry: registry, media: media}
}

// Name implements Stage.
func (s *CaptionStage) Name() string { return StageCaption }

// Inspect implements Stage.
func (s *CaptionStage) Inspect(ctx context.Context, pctx *core.PipelineContext) (Decision, error) {
	if pctx.Event.Payload.Kind != core.PayloadImage {
		return Continue(), nil
	}
	captioner, id, err := s.registry.Captioner()
	if err != nil {
		return Continue(), err
	}
	ref := pctx.Event.Payload.Media
	image, err := s.media.Get(pctx.Event.SessionKey, ref.ID)
	if err != nil {
		return Continue(), fmt.Errorf("load image %s: %w", ref.ID, err)
	}
	var caption string
	err = s.registry.Call(ctx, provider.CapabilityCaption, func(ctx context.Context) error {
		var e error
		caption, e = captioner.Caption(ctx, image, ref.MimeType)
		return e
	})
	if err != nil {
		return Continue(), fmt.Errorf("caption provider %s: %w", id, err)
	}
	pctx.InputText = "The user sent an image: " + caption
	return Continue(), nil
}

// LTMStage retrieves long-term memory snippets relevant to the input and
// stashes them for prompt injection. Retrieval failures degrade to an empty
// snippet set rather than failing the event.
type LTMStage struct {
	memory    core.MemoryStore
	groupOnly bool
	limit     int
}

// NewLTMStage builds the stage. groupOnly restricts retrieval to group
// conversations; limit caps the snippets injected (defaults to 3 when <= 0).
func NewLTMStage(memory core.MemoryStore, groupOnly bool, limit int) *LTMStage {
	if limit <= 0 {
		limit = 3
	}
	return &LTMStage{memory: memory, groupOnly: groupOnly, limit: limit}
}

// Name implements Stage.
func (s *LTMStage) Name() string { return StageLTM }

// Inspect implements Stage.
func (s *LTMStage) Inspect(_ context.Context, pctx *core.PipelineContext) (Decision, error) {
	if s.memory == nil {
		return Continue(), nil
	}
	if s.groupOnly && !pctx.Event.IsGroup() {
		return Continue(), nil
	}
	hits, err := s.memory.Search(pctx.Event.SessionKey, pctx.EffectiveText(), s.limit)
	if err != nil {
		pctx.Logger.Warn("pipeline.ltm.search_failed", "error", err.Error())
		return Continue(), nil
	}
	for _, h := range hits {
		pctx.Snippets = append(pctx.Snippets, h.Content)
	}
	return Continue(), nil
}

// AgentStage runs the bounded reasoning loop.
type AgentStage struct {
	core *agent.Core
}

// NewAgentStage builds the stage.
func NewAgentStage(c *agent.Core) *AgentStage {
	return &AgentStage{core: c}
}

// Name implements Stage.
func (s *AgentStage) Name() string { return StageAgent }

// Inspect implements Stage.
func (s *AgentStage) Inspect(ctx context.Context, pctx *core.PipelineContext) (Decision, error) {
	result, err := s.core.Run(ctx, pctx)
	if err != nil {
		return Continue(), err
	}
	pctx.Agent = result
	return Continue(), nil
}

// SafetyOutStage checks the generated reply before it leaves the pipeline.
// With no safety binding the stage is a pass-through.
type SafetyOutStage struct {
	registry   *provider.Registry
	noticeText string
}

// NewSafetyOutStage builds the stage.
func NewSafetyOutStage(registry *provider.Registry, noticeText string) *SafetyOutStage {
	return &SafetyOutStage{registry: registry, noticeText: noticeText}
}

// Name implements Stage.
func (s *SafetyOutStage) Name() string { return StageSafetyOut }

// Inspect implements Stage.
func (s *SafetyOutStage) Inspect(ctx context.Context, pctx *core.PipelineContext) (Decision, error) {
	if !s.registry.Bound(provider.CapabilitySafety) || pctx.Agent == nil {
		return Continue(), nil
	}
	text := pctx.Agent.Reply.Text()
	if text == "" {
		return Continue(), nil
	}
	verdict, err := checkSafety(ctx, s.registry, text)
	if err != nil {
		return Continue(), fmt.Errorf("output safety check: %w", err)
	}
	pctx.OutputVerdict = &verdict
	if verdict.Flagged {
		pctx.Logger.Warn("pipeline.safety.output_flagged", "reason", verdict.Reason)
		var notice *core.Reply
		if s.noticeText != "" {
			notice = &core.Reply{Text: s.noticeText, Notice: true}
		}
		return Halt(core.Rejected(core.RejectUnsafeOutput, notice)), nil
	}
	return Continue(), nil
}

// TTSStage synthesizes speech for the reply when a synthesizer is bound.
// Synthesis failures degrade to a text-only reply.
type TTSStage struct {
	registry *provider.Registry
	media    core.MediaStore
}

// NewTTSStage builds the stage.
func NewTTSStage(registry *provider.Registry, media core.MediaStore) *TTSStage {
	return &TTSStage{registry: registry, media: media}
}

// Name implements Stage.
func (s *TTSStage) Name() string { return StageTTS }

// Inspect implements Stage.
func (s *TTSStage) Inspect(ctx context.Context, pctx *core.PipelineContext) (Decision, error) {
	if !s.registry.Bound(provider.CapabilityTTS) || pctx.Agent == nil {
		return Continue(), nil
	}
	text := pctx.Agent.Reply.Text()
	if text == "" {
		return Continue(), nil
	}
	synth, id, err := s.registry.Synthesizer()
	if err != nil {
		return Continue(), nil
	}
	var audio []byte
	var mime string
	err = s.registry.Call(ctx, provider.CapabilityTTS, func(ctx context.Context) error {
		var e error
		audio, mime, e = synth.Synthesize(ctx, text)
		return e
	})
	if err != nil {
		pctx.Logger.Warn("pipeline.tts.failed", "provider", id, "error", err.Error())
		return Continue(), nil
	}
	mediaID := core.NewID()
	if err := s.media.Save(pctx.Event.SessionKey, mediaID, audio); err != nil {
		pctx.Logger.Warn("pipeline.tts.save_failed", "error", err.Error())
		return Continue(), nil
	}
	pctx.Reply = &core.Reply{Voice: core.MediaRef{ID: mediaID, MimeType: mime}}
	return Continue(), nil
}

// FormatterStage turns the agent result into the final reply, preserving any
// voice attachment the TTS stage produced.
type FormatterStage struct{}

// NewFormatterStage builds the stage.
func NewFormatterStage() *FormatterStage { return &FormatterStage{} }

// Name implements Stage.
func (s *FormatterStage) Name() string { return StageFormatter }

// Inspect implements Stage.
func (s *FormatterStage) Inspect(_ context.Context, pctx *core.PipelineContext) (Decision, error) {
	if pctx.Agent == nil {
		return Continue(), fmt.Errorf("no agent result to format")
	}
	if pctx.Reply == nil {
		pctx.Reply = &core.Reply{}
	}
	pctx.Reply.Text = strings.TrimSpace(pctx.Agent.Reply.Text())
	return Continue(), nil
}

func checkSafety(ctx context.Context, registry *provider.Registry, text string) (core.SafetyVerdict, error) {
	checker, id, err := registry.SafetyChecker()
	if err != nil {
		return core.SafetyVerdict{}, err
	}
	var verdict core.SafetyVerdict
	err = registry.Call(ctx, provider.CapabilitySafety, func(ctx context.Context) error {
		var e error
		verdict, e = checker.Check(ctx, text)
		return e
	})
	if err != nil {
		return core.SafetyVerdict{}, fmt.Errorf("safety provider %s: %w", id, err)
	}
	return verdict, nil
}
