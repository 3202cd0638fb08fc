// Package config loads and validates the runtime configuration from YAML.
// Zero values fall back to safe defaults so a minimal file (or none at all)
// yields a working text-only bot.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/lumabot/lumabot/core"
	"github.com/lumabot/lumabot/tool/remote"
)

// Config is the root configuration document.
type Config struct {
	// Persona is the system prompt template anchoring every session. It may
	// use template variables ({{.User}}, {{.Platform}}, {{.Group}}).
	Persona string `yaml:"persona"`

	// Isolation selects session scoping for group messages: "user" gives
	// every member a private session, "group" shares one session.
	Isolation string `yaml:"isolation"`

	// Whitelist lists admitted "platform:user" identities; empty admits all.
	Whitelist []string `yaml:"whitelist"`

	// WakeWords gate group messages; empty disables the gate.
	WakeWords []string `yaml:"wake_words"`

	RateLimit   RateLimitConfig       `yaml:"rate_limit"`
	Agent       AgentConfig           `yaml:"agent"`
	Pipeline    PipelineConfig        `yaml:"pipeline"`
	Providers   ProvidersConfig       `yaml:"providers"`
	ToolServers []remote.ServerConfig `yaml:"tool_servers"`
	Logging     LoggingConfig         `yaml:"logging"`
}

// RateLimitConfig bounds event admission per identity.
type RateLimitConfig struct {
	// Quota is the number of events admitted per window. <= 0 disables.
	Quota int `yaml:"quota"`
	// Window is the fixed window duration.
	Window time.Duration `yaml:"window"`
	// BySession keys the counter by session instead of sender identity.
	BySession bool `yaml:"by_session"`
	// Notice, when set, is replied on denial; empty denies silently.
	Notice string `yaml:"notice"`
}

// AgentConfig bounds the reasoning loop.
type AgentConfig struct {
	MaxSteps        int           `yaml:"max_steps"`
	ToolCallTimeout time.Duration `yaml:"tool_call_timeout"`
	MaxContextTurns int           `yaml:"max_context_turns"`
	DegradedReply   string        `yaml:"degraded_reply"`
}

// LTMConfig controls long-term memory retrieval.
type LTMConfig struct {
	Enabled   bool `yaml:"enabled"`
	GroupOnly bool `yaml:"group_only"`
	Limit     int  `yaml:"limit"`
}

// PipelineConfig tunes engine behavior.
type PipelineConfig struct {
	// Deadline bounds whole-event processing; zero disables.
	Deadline time.Duration `yaml:"deadline"`
	// MaxTurns trims session history after delivery; zero keeps unbounded.
	MaxTurns int `yaml:"max_turns"`
	// QueueSize bounds each per-session worker queue.
	QueueSize int `yaml:"queue_size"`
	// HookFailure is "skip" or "fail" for failing plugin hooks.
	HookFailure string `yaml:"hook_failure"`
	// AuditRejected persists rejected inputs into history for audit.
	AuditRejected bool `yaml:"audit_rejected"`
	// SafetyInNotice / SafetyOutNotice are replied on flagged content;
	// empty rejects silently.
	SafetyInNotice  string    `yaml:"safety_in_notice"`
	SafetyOutNotice string    `yaml:"safety_out_notice"`
	LTM             LTMConfig `yaml:"ltm"`
}

// ChatProviderConfig selects and parameterizes the chat backend.
type ChatProviderConfig struct {
	// Vendor is "openai" or "anthropic".
	Vendor string `yaml:"vendor"`
	// APIKey falls back to the vendor's environment variable when empty.
	APIKey      string  `yaml:"api_key"`
	Model       string  `yaml:"model"`
	Temperature float64 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`
}

// ProvidersConfig holds per-capability provider settings. Capabilities other
// than chat are bound programmatically by the embedding application.
type ProvidersConfig struct {
	Chat ChatProviderConfig `yaml:"chat"`
	// CallTimeout bounds each outbound provider call.
	CallTimeout time.Duration `yaml:"call_timeout"`
	// MaxRetries caps transient-failure retries.
	MaxRetries int `yaml:"max_retries"`
}

// LoggingConfig configures the structured logger.
type LoggingConfig struct {
	// Level is debug, info, warn or error.
	Level string `yaml:"level"`
	// Format is json or text.
	Format string `yaml:"format"`
}

// Default returns the baseline configuration.
func Default() *Config {
	return &Config{
		Isolation: string(core.IsolateByUser),
		RateLimit: RateLimitConfig{Quota: 20, Window: time.Minute},
		Agent: AgentConfig{
			MaxSteps:        8,
			ToolCallTimeout: 30 * time.Second,
			MaxContextTurns: 40,
		},
		Pipeline: PipelineConfig{
			MaxTurns:    100,
			QueueSize:   16,
			HookFailure: "skip",
			LTM:         LTMConfig{Enabled: true, GroupOnly: true, Limit: 3},
		},
		Providers: ProvidersConfig{
			Chat:        ChatProviderConfig{Vendor: "openai"},
			CallTimeout: 60 * time.Second,
			MaxRetries:  2,
		},
		Logging: LoggingConfig{Level: "info", Format: "json"},
	}
}

// Load reads a YAML config file, fills defaults and validates. An empty path
// returns the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.fillDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// fillDefaults restores defaults for fields an explicit file zeroed out.
func (c *Config) fillDefaults() {
	d := Default()
	if c.Isolation == "" {
		c.Isolation = d.Isolation
	}
	if c.Agent.MaxSteps <= 0 {
		c.Agent.MaxSteps = d.Agent.MaxSteps
	}
	if c.Agent.ToolCallTimeout <= 0 {
		c.Agent.ToolCallTimeout = d.Agent.ToolCallTimeout
	}
	if c.Agent.MaxContextTurns <= 0 {
		c.Agent.MaxContextTurns = d.Agent.MaxContextTurns
	}
	if c.Pipeline.QueueSize <= 0 {
		c.Pipeline.QueueSize = d.Pipeline.QueueSize
	}
	if c.Pipeline.HookFailure == "" {
		c.Pipeline.HookFailure = d.Pipeline.HookFailure
	}
	if c.Pipeline.LTM.Limit <= 0 {
		c.Pipeline.LTM.Limit = d.Pipeline.LTM.Limit
	}
	if c.Providers.Chat.Vendor == "" {
		c.Providers.Chat.Vendor = d.Providers.Chat.Vendor
	}
	if c.Providers.CallTimeout <= 0 {
		c.Providers.CallTimeout = d.Providers.CallTimeout
	}
	if c.Providers.MaxRetries < 0 {
		c.Providers.MaxRetries = d.Providers.MaxRetries
	}
	if c.Logging.Level == "" {
		c.Logging.Level = d.Logging.Level
	}
	if c.Logging.Format == "" {
		c.Logging.Format = d.Logging.Format
	}
}

// Validate rejects configurations that cannot be wired.
func (c *Config) Validate() error {
	switch core.IsolationMode(c.Isolation) {
	case core.IsolateByUser, core.IsolateByGroup:
	default:
		return fmt.Errorf("isolation must be %q or %q, got %q", core.IsolateByUser, core.IsolateByGroup, c.Isolation)
	}
	switch c.Providers.Chat.Vendor {
	case "openai", "anthropic":
	default:
		return fmt.Errorf("providers.chat.vendor must be openai or anthropic, got %q", c.Providers.Chat.Vendor)
	}
	switch c.Pipeline.HookFailure {
	case "skip", "fail":
	default:
		return fmt.Errorf("pipeline.hook_failure must be skip or fail, got %q", c.Pipeline.HookFailure)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be debug, info, warn or error, got %q", c.Logging.Level)
	}
	if c.RateLimit.Quota > 0 && c.RateLimit.Window <= 0 {
		return fmt.Errorf("rate_limit.window must be positive when a quota is set")
	}
	for i := range c.ToolServers {
		if err := c.ToolServers[i].Validate(); err != nil {
			return fmt.Errorf("tool_servers[%d]: %w", i, err)
		}
	}
	return nil
}
