package plugin

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/lumabot/lumabot/core"
	"github.com/lumabot/lumabot/logging"
	"github.com/lumabot/lumabot/pipeline"
	"github.com/lumabot/lumabot/tool"
)

// SessionResetter is implemented by session stores that support wiping a
// session's history. The built-in /reset command uses it when available.
type SessionResetter interface {
	Reset(key string) error
}

type registration struct {
	plugin Plugin
	active atomic.Bool
	tools  []string
}

type boundCommand struct {
	command Command
	reg     *registration // nil for host built-ins
}

// Host wires plugin contributions into the engine and the tool catalog.
//
// Contract:
//   - Register validates everything before any contribution becomes active
//   - Activate/Deactivate flip a visibility flag; the composed stage order
//     and the catalog are never mutated by a toggle
//   - A matched slash command short-circuits the pipeline with a Delivered
//     reply before the agent stage runs
type Host struct {
	engine   *pipeline.Engine
	catalog  *tool.Catalog
	sessions core.SessionStore
	logger   logging.Logger

	mu       sync.RWMutex
	plugins  map[string]*registration
	commands map[string]boundCommand
}

// NewHost creates a host and installs its command stage ahead of the agent
// stage. The built-in /help and /reset commands are always available.
func NewHost(engine *pipeline.Engine, catalog *tool.Catalog, sessions core.SessionStore, logger logging.Logger) (*Host, error) {
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	h := &Host{
		engine:   engine,
		catalog:  catalog,
		sessions: sessions,
		logger:   logger,
		plugins:  make(map[string]*registration),
		commands: make(map[string]boundCommand),
	}
	h.commands["help"] = boundCommand{command: Command{
		Name:        "help",
		Description: "List available commands",
		Handler:     h.helpCommand,
	}}
	h.commands["reset"] = boundCommand{command: Command{
		Name:        "reset",
		Description: "Clear this conversation's history",
		Handler:     h.resetCommand,
	}}
	if err := engine.InsertHook(pipeline.Before(pipeline.StageAgent), h.commandStage(), nil); err != nil {
		return nil, fmt.Errorf("install command stage: %w", err)
	}
	return h, nil
}

// Register validates and wires a plugin's contributions. The plugin starts
// deactivated; call Activate to make its hooks, tools and commands visible.
func (h *Host) Register(p Plugin) error {
	name := p.Name()
	if name == "" {
		return fmt.Errorf("plugin name must not be empty")
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if _, taken := h.plugins[name]; taken {
		return fmt.Errorf("plugin %q already registered", name)
	}

	hooks := p.Hooks()
	for _, hk := range hooks {
		if hk.Stage == nil {
			return fmt.Errorf("plugin %s: nil hook stage", name)
		}
		if !h.engine.HasStage(hk.Position.Stage) {
			return fmt.Errorf("plugin %s: hook %s anchors unknown stage %q", name, hk.Stage.Name(), hk.Position.Stage)
		}
	}
	commands := p.Commands()
	for _, c := range commands {
		cname := normalizeCommand(c.Name)
		if cname == "" || c.Handler == nil {
			return fmt.Errorf("plugin %s: command needs a name and a handler", name)
		}
		if _, taken := h.commands[cname]; taken {
			return fmt.Errorf("plugin %s: command /%s already registered", name, cname)
		}
	}

	reg := &registration{plugin: p}
	visible := func(string) bool { return reg.active.Load() }

	var registered []string
	for _, t := range p.Tools() {
		if err := h.catalog.Register(t, visible); err != nil {
			for _, rname := range registered {
				h.catalog.Unregister(rname)
			}
			return fmt.Errorf("plugin %s: %w", name, err)
		}
		registered = append(registered, t.Name())
	}
	reg.tools = registered

	for _, hk := range hooks {
		if err := h.engine.InsertHook(hk.Position, hk.Stage, func() bool { return reg.active.Load() }); err != nil {
			// Anchors were pre-validated; an error here is a host bug.
			for _, rname := range registered {
				h.catalog.Unregister(rname)
			}
			return fmt.Errorf("plugin %s: %w", name, err)
		}
	}
	for _, c := range commands {
		h.commands[normalizeCommand(c.Name)] = boundCommand{command: c, reg: reg}
	}

	h.plugins[name] = reg
	h.logger.Info("plugin.registered", "plugin", name,
		"hooks", len(hooks), "tools", len(registered), "commands", len(commands))
	return nil
}

// Activate makes a registered plugin's contributions visible.
func (h *Host) Activate(name string) error { return h.setActive(name, true) }

// Deactivate hides a plugin's contributions without unregistering them.
func (h *Host) Deactivate(name string) error { return h.setActive(name, false) }

// Active reports whether the named plugin is currently active.
func (h *Host) Active(name string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	reg, ok := h.plugins[name]
	return ok && reg.active.Load()
}

func (h *Host) setActive(name string, active bool) error {
	h.mu.RLock()
	reg, ok := h.plugins[name]
	h.mu.RUnlock()
	if !ok {
		return fmt.Errorf("plugin %q not registered", name)
	}
	reg.active.Store(active)
	h.logger.Info("plugin.toggled", "plugin", name, "active", active)
	return nil
}

// commandStage matches slash commands ahead of the agent. A matched command
// short-circuits with a Delivered reply; anything else passes through.
func (h *Host) commandStage() pipeline.Stage {
	return pipeline.Func{
		StageName: "commands",
		Fn: func(ctx context.Context, pctx *core.PipelineContext) (pipeline.Decision, error) {
			text := strings.TrimSpace(pctx.EffectiveText())
			if !strings.HasPrefix(text, "/") {
				return pipeline.Continue(), nil
			}
			name, args, _ := strings.Cut(text[1:], " ")
			h.mu.RLock()
			bc, ok := h.commands[strings.ToLower(name)]
			h.mu.RUnlock()
			if !ok || (bc.reg != nil && !bc.reg.active.Load()) {
				return pipeline.Continue(), nil
			}
			reply, err := bc.command.Handler(ctx, pctx, strings.TrimSpace(args))
			if err != nil {
				return pipeline.Continue(), fmt.Errorf("command /%s: %w", name, err)
			}
			// Notice marks the reply as command output; the engine keeps
			// notices out of conversation history.
			return pipeline.Halt(core.Delivered(&core.Reply{Text: reply, Notice: true})), nil
		},
	}
}

func (h *Host) helpCommand(_ context.Context, _ *core.PipelineContext, _ string) (string, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	names := make([]string, 0, len(h.commands))
	for name := range h.commands {
		names = append(names, name)
	}
	sort.Strings(names)
	var sb strings.Builder
	sb.WriteString("Available commands:\n")
	for _, name := range names {
		bc := h.commands[name]
		if bc.reg != nil && !bc.reg.active.Load() {
			continue
		}
		fmt.Fprintf(&sb, "/%s - %s\n", name, bc.command.Description)
	}
	return strings.TrimRight(sb.String(), "\n"), nil
}

func (h *Host) resetCommand(_ context.Context, pctx *core.PipelineContext, _ string) (string, error) {
	resetter, ok := h.sessions.(SessionResetter)
	if !ok {
		return "This deployment does not support resetting conversations.", nil
	}
	if err := resetter.Reset(pctx.Event.SessionKey); err != nil {
		return "", err
	}
	return "Conversation history cleared.", nil
}
