// Package lumabot assembles the message pipeline, agent core, provider
// registry, tool catalog and plugin host into one runnable bot. The façade
// builds everything from a config.Config; embedding applications swap stores,
// bind extra capabilities or register plugins through the exposed accessors.
package lumabot

import (
	"context"
	"errors"
	"fmt"

	openaisdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"

	"github.com/lumabot/lumabot/agent"
	"github.com/lumabot/lumabot/config"
	"github.com/lumabot/lumabot/core"
	"github.com/lumabot/lumabot/logging"
	"github.com/lumabot/lumabot/media"
	"github.com/lumabot/lumabot/memory"
	"github.com/lumabot/lumabot/pipeline"
	"github.com/lumabot/lumabot/platform"
	"github.com/lumabot/lumabot/plugin"
	"github.com/lumabot/lumabot/provider"
	"github.com/lumabot/lumabot/provider/anthropic"
	"github.com/lumabot/lumabot/provider/openai"
	"github.com/lumabot/lumabot/ratelimit"
	"github.com/lumabot/lumabot/session"
	"github.com/lumabot/lumabot/tool"
	"github.com/lumabot/lumabot/tool/remote"
)

// Options override the façade's default wiring.
type Options struct {
	// Logger replaces the logger built from the config's logging section.
	Logger logging.Logger

	// ChatModel overrides the configured chat vendor; used by tests and by
	// applications bringing their own backend.
	ChatModel provider.ChatModel

	// Sessions, Memory and Media replace the in-memory default stores.
	Sessions core.SessionStore
	Memory   core.MemoryStore
	Media    core.MediaStore
}

// Bot is the assembled runtime.
type Bot struct {
	cfg      *config.Config
	logger   logging.Logger
	sessions core.SessionStore
	memory   core.MemoryStore
	media    core.MediaStore
	registry *provider.Registry
	catalog  *tool.Catalog
	engine   *pipeline.Engine
	host     *plugin.Host
	servers  []*remote.Client
}

// New assembles a bot from the configuration. The bot is ready to Process
// events; call Start first when tool servers are configured.
func New(cfg *config.Config, optFns ...func(o *Options)) (*Bot, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	var opts Options
	for _, fn := range optFns {
		fn(&opts)
	}

	logger := opts.Logger
	if logger == nil {
		logger = logging.NewLogger(&logging.LoggerConfig{
			Level:  parseLevel(cfg.Logging.Level),
			Format: cfg.Logging.Format,
		})
	}

	sessions := opts.Sessions
	if sessions == nil {
		sessions = session.NewInMemoryStore(func(o *session.InMemoryOptions) {
			o.Persona = cfg.Persona
			o.MaxTurns = cfg.Pipeline.MaxTurns
		})
	}
	mem := opts.Memory
	if mem == nil {
		mem = memory.NewInMemoryStore()
	}
	med := opts.Media
	if med == nil {
		med = media.NewInMemoryStore()
	}

	registry := provider.NewRegistry(func(o *provider.RegistryOptions) {
		o.CallTimeout = cfg.Providers.CallTimeout
		o.MaxRetries = cfg.Providers.MaxRetries
		o.Logger = logger
	})
	chat, chatID, err := buildChatModel(cfg, opts.ChatModel)
	if err != nil {
		return nil, err
	}
	if err := registry.Bind(provider.CapabilityChat, chatID, chat); err != nil {
		return nil, err
	}

	catalog := tool.NewCatalog(logger)
	if err := catalog.Register(tool.NewMemorySearchTool(), nil); err != nil {
		return nil, err
	}
	webSearchVisible := func(string) bool { return registry.Bound(provider.CapabilityWebSearch) }
	if err := catalog.Register(tool.NewWebSearchTool(registry), webSearchVisible); err != nil {
		return nil, err
	}

	var servers []*remote.Client
	for _, sc := range cfg.ToolServers {
		client, err := remote.NewClient(sc, logger)
		if err != nil {
			return nil, err
		}
		if err := catalog.AddServer(client); err != nil {
			return nil, err
		}
		servers = append(servers, client)
	}

	agentCore := agent.New(registry, catalog, mem, med, func(o *agent.Options) {
		o.MaxSteps = cfg.Agent.MaxSteps
		o.ToolCallTimeout = cfg.Agent.ToolCallTimeout
		o.MaxContextTurns = cfg.Agent.MaxContextTurns
		if cfg.Agent.DegradedReply != "" {
			o.DegradedReply = cfg.Agent.DegradedReply
		}
		o.Logger = logger
	})

	var ltmStore core.MemoryStore
	if cfg.Pipeline.LTM.Enabled {
		ltmStore = mem
	}
	limiter := ratelimit.NewLimiter(cfg.RateLimit.Quota, cfg.RateLimit.Window)
	stages := []pipeline.Stage{
		pipeline.NewWhitelistStage(cfg.Whitelist),
		pipeline.NewRateLimitStage(limiter, cfg.RateLimit.Notice, cfg.RateLimit.BySession),
		pipeline.NewWakeWordStage(cfg.WakeWords),
		pipeline.NewSafetyInStage(registry, cfg.Pipeline.SafetyInNotice),
		pipeline.NewSTTStage(registry, med),
		pipeline.NewCaptionStage(registry, med),
		pipeline.NewLTMStage(ltmStore, cfg.Pipeline.LTM.GroupOnly, cfg.Pipeline.LTM.Limit),
		pipeline.NewAgentStage(agentCore),
		pipeline.NewSafetyOutStage(registry, cfg.Pipeline.SafetyOutNotice),
		pipeline.NewTTSStage(registry, med),
		pipeline.NewFormatterStage(),
	}
	engine := pipeline.NewEngine(sessions, ltmStore, stages, func(o *pipeline.EngineOptions) {
		o.QueueSize = cfg.Pipeline.QueueSize
		o.Deadline = cfg.Pipeline.Deadline
		o.MaxTurns = cfg.Pipeline.MaxTurns
		o.HookFailure = pipeline.HookFailMode(cfg.Pipeline.HookFailure)
		o.AuditRejected = cfg.Pipeline.AuditRejected
		o.Logger = logger
	})

	host, err := plugin.NewHost(engine, catalog, sessions, logger)
	if err != nil {
		return nil, err
	}

	return &Bot{
		cfg:      cfg,
		logger:   logger,
		sessions: sessions,
		memory:   mem,
		media:    med,
		registry: registry,
		catalog:  catalog,
		engine:   engine,
		host:     host,
		servers:  servers,
	}, nil
}

func buildChatModel(cfg *config.Config, override provider.ChatModel) (provider.ChatModel, string, error) {
	if override != nil {
		return override, override.Info().Name, nil
	}
	pc := cfg.Providers.Chat
	switch pc.Vendor {
	case "openai":
		var client openaisdk.Client
		if pc.APIKey != "" {
			client = openaisdk.NewClient(option.WithAPIKey(pc.APIKey))
		} else {
			client = openaisdk.NewClient()
		}
		return openai.NewFromClient(&client, func(o *openai.Options) {
			if pc.Model != "" {
				o.Model = pc.Model
			}
			if pc.Temperature > 0 {
				o.Temperature = pc.Temperature
			}
			if pc.MaxTokens > 0 {
				o.MaxCompletionTokens = int64(pc.MaxTokens)
			}
		}), "openai", nil
	case "anthropic":
		return anthropic.New(func(o *anthropic.Options) {
			o.APIKey = pc.APIKey
			if pc.Model != "" {
				o.Model = anthropicsdk.Model(pc.Model)
			}
			if pc.Temperature > 0 {
				o.Temperature = pc.Temperature
			}
			if pc.MaxTokens > 0 {
				o.MaxTokens = int64(pc.MaxTokens)
			}
		}), "anthropic", nil
	default:
		return nil, "", fmt.Errorf("unknown chat vendor %q", pc.Vendor)
	}
}

// Start connects configured tool servers and discovers their tools. Failing
// servers are reported but do not prevent startup; their tools appear on a
// later Refresh once they recover.
func (b *Bot) Start(ctx context.Context) error {
	var errs []error
	for _, s := range b.servers {
		if err := s.Connect(ctx); err != nil {
			b.logger.Warn("bot.toolserver.connect_failed", "server", s.ID(), "error", err.Error())
			errs = append(errs, err)
		}
	}
	if err := b.catalog.Refresh(ctx); err != nil {
		b.logger.Warn("bot.catalog.refresh_incomplete", "error", err.Error())
	}
	return errors.Join(errs...)
}

// Process runs one event through the pipeline to its terminal outcome.
func (b *Bot) Process(ctx context.Context, event core.Event) core.Outcome {
	return b.engine.Process(ctx, event)
}

// ProcessText is a convenience wrapper building a text event per the
// configured isolation mode.
func (b *Bot) ProcessText(ctx context.Context, platformName, userID, groupID, text string) core.Outcome {
	event := core.NewTextEvent(platformName, userID, groupID, text, core.IsolationMode(b.cfg.Isolation))
	return b.Process(ctx, event)
}

// RegisterPlugin registers and activates a plugin in one call.
func (b *Bot) RegisterPlugin(p plugin.Plugin) error {
	if err := b.host.Register(p); err != nil {
		return err
	}
	return b.host.Activate(p.Name())
}

// Serve runs platform adapters against the pipeline until ctx is cancelled.
func (b *Bot) Serve(ctx context.Context, adapters ...platform.Adapter) error {
	d := platform.NewDispatcher(b.engine, adapters, core.IsolationMode(b.cfg.Isolation), b.logger)
	return d.Run(ctx)
}

// Registry exposes the provider registry for binding additional capabilities
// (speech, captioning, web search, safety).
func (b *Bot) Registry() *provider.Registry { return b.registry }

// Catalog exposes the tool catalog for direct tool registration.
func (b *Bot) Catalog() *tool.Catalog { return b.catalog }

// Host exposes the plugin host for fine-grained plugin control.
func (b *Bot) Host() *plugin.Host { return b.host }

// Engine exposes the pipeline engine.
func (b *Bot) Engine() *pipeline.Engine { return b.engine }

// Close drains in-flight events and disconnects tool servers.
func (b *Bot) Close() {
	b.engine.Close()
	for _, s := range b.servers {
		if err := s.Close(); err != nil {
			b.logger.Warn("bot.toolserver.close_failed", "server", s.ID(), "error", err.Error())
		}
	}
}

func parseLevel(level string) logging.LogLevel {
	switch level {
	case "debug":
		return logging.LogLevelDebug
	case "warn":
		return logging.LogLevelWarn
	case "error":
		return logging.LogLevelError
	default:
		return logging.LogLevelInfo
	}
}
