package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lumabot/lumabot/tool/remote"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "user", cfg.Isolation)
	assert.Equal(t, 20, cfg.RateLimit.Quota)
	assert.Equal(t, time.Minute, cfg.RateLimit.Window)
	assert.Equal(t, 8, cfg.Agent.MaxSteps)
	assert.Equal(t, 30*time.Second, cfg.Agent.ToolCallTimeout)
	assert.Equal(t, "skip", cfg.Pipeline.HookFailure)
	assert.True(t, cfg.Pipeline.LTM.Enabled)
	assert.Equal(t, "openai", cfg.Providers.Chat.Vendor)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoadEmptyPathReturnsDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoadFile(t *testing.T) {
	doc := `
persona: "You are Luma."
isolation: group
whitelist: ["tg:alice", "tg:bob"]
wake_words: ["luma"]
rate_limit:
  quota: 5
  window: 30s
  notice: "Slow down."
agent:
  max_steps: 4
  degraded_reply: "I could not finish that."
pipeline:
  deadline: 45s
  hook_failure: fail
  ltm:
    enabled: true
    group_only: false
    limit: 5
providers:
  chat:
    vendor: anthropic
    model: claude-sonnet-4-20250514
tool_servers:
  - id: files
    transport: stdio
    command: mcp-files
logging:
  level: debug
  format: text
`
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "You are Luma.", cfg.Persona)
	assert.Equal(t, "group", cfg.Isolation)
	assert.Equal(t, []string{"tg:alice", "tg:bob"}, cfg.Whitelist)
	assert.Equal(t, []string{"luma"}, cfg.WakeWords)
	assert.Equal(t, 5, cfg.RateLimit.Quota)
	assert.Equal(t, 30*time.Second, cfg.RateLimit.Window)
	assert.Equal(t, 4, cfg.Agent.MaxSteps)
	assert.Equal(t, 45*time.Second, cfg.Pipeline.Deadline)
	assert.Equal(t, "fail", cfg.Pipeline.HookFailure)
	assert.False(t, cfg.Pipeline.LTM.GroupOnly)
	assert.Equal(t, 5, cfg.Pipeline.LTM.Limit)
	assert.Equal(t, "anthropic", cfg.Providers.Chat.Vendor)
	require.Len(t, cfg.ToolServers, 1)
	assert.Equal(t, remote.TransportStdio, cfg.ToolServers[0].Transport)

	// Untouched fields keep their defaults.
	assert.Equal(t, 30*time.Second, cfg.Agent.ToolCallTimeout)
	assert.Equal(t, 16, cfg.Pipeline.QueueSize)
	assert.Equal(t, 2, cfg.Providers.MaxRetries)
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("persona: [unclosed"), 0o600))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestValidateRejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"bad isolation", func(c *Config) { c.Isolation = "tenant" }},
		{"bad vendor", func(c *Config) { c.Providers.Chat.Vendor = "acme" }},
		{"bad hook failure", func(c *Config) { c.Pipeline.HookFailure = "retry" }},
		{"bad log level", func(c *Config) { c.Logging.Level = "verbose" }},
		{"quota without window", func(c *Config) { c.RateLimit.Window = 0 }},
		{"stdio server without command", func(c *Config) {
			c.ToolServers = []remote.ServerConfig{{ID: "s", Transport: remote.TransportStdio}}
		}},
		{"http server without url", func(c *Config) {
			c.ToolServers = []remote.ServerConfig{{ID: "s", Transport: remote.TransportHTTP}}
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestZeroedFieldsAreRestored(t *testing.T) {
	doc := `
agent:
  max_steps: 0
pipeline:
  queue_size: 0
`
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 8, cfg.Agent.MaxSteps)
	assert.Equal(t, 16, cfg.Pipeline.QueueSize)
}
