// Package plugin implements the host through which extensions contribute
// pipeline hooks, tools and slash commands. Registration validates every
// contribution up front; activation is a visibility toggle, so enabling or
// disabling a plugin never mutates the stage order or the tool catalog while
// events are in flight.
package plugin

import (
	"context"
	"strings"

	"github.com/lumabot/lumabot/core"
	"github.com/lumabot/lumabot/pipeline"
	"github.com/lumabot/lumabot/tool"
)

// Hook is one pipeline stage contribution anchored at a built-in stage.
type Hook struct {
	Position pipeline.HookPosition
	Stage    pipeline.Stage
}

// CommandFunc handles one slash command invocation. args is the text after
// the command name, trimmed. The returned string is delivered to the user.
type CommandFunc func(ctx context.Context, pctx *core.PipelineContext, args string) (string, error)

// Command is a slash command contribution. Name is matched without the
// leading slash.
type Command struct {
	Name        string
	Description string
	Handler     CommandFunc
}

// Plugin is the contract an extension implements to contribute behavior.
// All three methods may return empty sets; a plugin contributing nothing is
// valid but pointless.
type Plugin interface {
	// Name uniquely identifies the plugin.
	Name() string

	// Hooks returns the pipeline stages this plugin contributes.
	Hooks() []Hook

	// Tools returns the tools this plugin contributes to the catalog.
	Tools() []tool.Tool

	// Commands returns the slash commands this plugin contributes.
	Commands() []Command
}

// Base is a zero-value Plugin implementation to embed so plugins only
// implement the methods they need.
type Base struct{ PluginName string }

// Name implements Plugin.
func (b Base) Name() string { return b.PluginName }

// Hooks implements Plugin.
func (Base) Hooks() []Hook { return nil }

// Tools implements Plugin.
func (Base) Tools() []tool.Tool { return nil }

// Commands implements Plugin.
func (Base) Commands() []Command { return nil }

// normalizeCommand lowercases and strips one leading slash.
func normalizeCommand(name string) string {
	return strings.ToLower(strings.TrimPrefix(name, "/"))
}
