package tool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/lumabot/lumabot/logging"
)

// ServerClient is the narrow contract a remote tool server client satisfies.
// Implementations live in tool/remote; the catalog never depends on a
// concrete transport.
type ServerClient interface {
	// ID returns the configured server identifier, used as tool origin.
	ID() string

	// Tools lists the tools the server currently exposes.
	Tools(ctx context.Context) ([]Descriptor, error)

	// Call invokes a named tool on the server.
	Call(ctx context.Context, name string, args map[string]any) (any, error)

	// Reconnect re-establishes a dropped connection.
	Reconnect(ctx context.Context) error
}

// VisibilityFunc gates a registered tool per session; nil means always
// visible. The plugin host uses this to toggle plugin tools without
// mutating the catalog during live events.
type VisibilityFunc func(sessionKey string) bool

type localEntry struct {
	tool    Tool
	visible VisibilityFunc
}

type remoteEntry struct {
	descriptor Descriptor
	server     ServerClient
}

// snapshot is an immutable view of the discovered remote tool set. Refresh
// builds a new snapshot and swaps the pointer, so in-flight invocations keep
// using the snapshot they resolved against.
type snapshot struct {
	remote map[string]remoteEntry
}

// Catalog aggregates callable tools from local registrations and remote tool
// servers behind one uniform invoke contract.
//
// Contract:
//   - Tool names are unique across the active set; later registrations of a
//     taken name are rejected
//   - Remote discovery is explicit (Refresh), not continuous polling
//   - Invocation errors distinguish connection-lost (one reconnect retry per
//     call), schema-mismatch (fatal to the call) and execution errors
//     (surfaced to the model as a tool-result)
type Catalog struct {
	mu      sync.RWMutex
	locals  map[string]localEntry
	servers map[string]ServerClient
	snap    *snapshot
	logger  logging.Logger
}

// NewCatalog creates an empty catalog.
func NewCatalog(logger logging.Logger) *Catalog {
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	return &Catalog{
		locals:  make(map[string]localEntry),
		servers: make(map[string]ServerClient),
		snap:    &snapshot{remote: map[string]remoteEntry{}},
		logger:  logger,
	}
}

// Register adds a local tool. The name must be free across local and
// currently discovered remote tools.
func (c *Catalog) Register(t Tool, visible VisibilityFunc) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	name := t.Name()
	if name == "" {
		return fmt.Errorf("tool name must not be empty")
	}
	if _, taken := c.locals[name]; taken {
		return fmt.Errorf("tool %q already registered", name)
	}
	if _, taken := c.snap.remote[name]; taken {
		return fmt.Errorf("tool %q already provided by a tool server", name)
	}
	c.locals[name] = localEntry{tool: t, visible: visible}
	c.logger.Info("catalog.tool.registered", "tool", name, "origin", OriginLocal)
	return nil
}

// Unregister removes a local tool by name.
func (c *Catalog) Unregister(name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.locals[name]; !ok {
		return false
	}
	delete(c.locals, name)
	return true
}

// AddServer attaches a remote tool server. Its tools become visible after
// the next Refresh.
func (c *Catalog) AddServer(s ServerClient) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, taken := c.servers[s.ID()]; taken {
		return fmt.Errorf("tool server %q already attached", s.ID())
	}
	c.servers[s.ID()] = s
	return nil
}

// Refresh re-discovers remote tools and swaps the catalog snapshot. Servers
// that fail discovery keep their previous entries; the error aggregates all
// per-server failures. In-flight invocations continue against the previous
// snapshot.
func (c *Catalog) Refresh(ctx context.Context) error {
	c.mu.RLock()
	servers := make([]ServerClient, 0, len(c.servers))
	for _, s := range c.servers {
		servers = append(servers, s)
	}
	prev := c.snap
	c.mu.RUnlock()

	next := &snapshot{remote: map[string]remoteEntry{}}
	var errs []error
	for _, s := range servers {
		descriptors, err := s.Tools(ctx)
		if err != nil {
			errs = append(errs, fmt.Errorf("server %s: %w", s.ID(), err))
			for name, entry := range prev.remote {
				if entry.server.ID() == s.ID() {
					next.remote[name] = entry
				}
			}
			continue
		}
		for _, d := range descriptors {
			d.Origin = s.ID()
			if _, taken := next.remote[d.Name]; taken {
				c.logger.Warn("catalog.tool.name_conflict", "tool", d.Name, "server", s.ID())
				continue
			}
			next.remote[d.Name] = remoteEntry{descriptor: d, server: s}
		}
	}

	c.mu.Lock()
	c.snap = next
	c.mu.Unlock()
	c.logger.Info("catalog.refreshed", "remote_tools", len(next.remote), "servers", len(servers))
	return errors.Join(errs...)
}

// List returns the descriptors of the session's active tool set: visible
// local tools plus the current remote snapshot.
func (c *Catalog) List(sessionKey string) []Descriptor {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Descriptor, 0, len(c.locals)+len(c.snap.remote))
	for name, entry := range c.locals {
		if entry.visible != nil && !entry.visible(sessionKey) {
			continue
		}
		out = append(out, Descriptor{
			Name:        name,
			Description: entry.tool.Description(),
			Parameters:  entry.tool.Parameters(),
			Origin:      OriginLocal,
		})
	}
	for _, entry := range c.snap.remote {
		out = append(out, entry.descriptor)
	}
	return out
}

// Invoke executes a tool by name with JSON-encoded arguments. Remote
// connection loss is retried once after a reconnect; all other failures map
// to coded *Error values per the catalog contract.
func (c *Catalog) Invoke(ctx context.Context, tctx *Context, name, rawArgs string) (any, error) {
	args, err := decodeArgs(rawArgs)
	if err != nil {
		return nil, &Error{Tool: name, Message: err.Error(), Code: CodeValidation}
	}

	c.mu.RLock()
	local, isLocal := c.locals[name]
	snap := c.snap
	c.mu.RUnlock()

	if isLocal {
		if local.visible != nil && !local.visible(tctx.SessionKey) {
			return nil, &Error{Tool: name, Message: "tool not in active set", Code: CodeUnknownTool}
		}
		return local.tool.Call(ctx, tctx, args)
	}

	entry, ok := snap.remote[name]
	if !ok {
		return nil, &Error{Tool: name, Message: "not found in catalog", Code: CodeUnknownTool}
	}
	result, err := entry.server.Call(ctx, name, args)
	if err == nil {
		return result, nil
	}
	var toolErr *Error
	if errors.As(err, &toolErr) && toolErr.Code == CodeConnectionLost {
		c.logger.Warn("catalog.invoke.reconnect", "tool", name, "server", entry.server.ID())
		if rerr := entry.server.Reconnect(ctx); rerr != nil {
			return nil, &Error{Tool: name, Message: rerr.Error(), Code: CodeConnectionLost}
		}
		return entry.server.Call(ctx, name, args)
	}
	return nil, err
}

func decodeArgs(rawArgs string) (map[string]any, error) {
	if rawArgs == "" {
		return map[string]any{}, nil
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(rawArgs), &args); err != nil {
		return nil, fmt.Errorf("arguments are not a JSON object: %w", err)
	}
	return args, nil
}
