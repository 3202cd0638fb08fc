package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/lumabot/lumabot/logging"
	"github.com/lumabot/lumabot/tool"
)

// protocolVersion is the handshake version this client speaks. Servers reply
// with their own version; mismatches are logged but tolerated as long as the
// server answers tools/list.
const protocolVersion = "2024-11-05"

// Client connects one configured tool server to the catalog. It performs the
// initialize handshake, lists the server's tools and forwards invocations,
// translating failures into coded tool errors:
//
//	transport down or I/O failure -> CONNECTION_LOST (catalog retries once)
//	server rejects the arguments  -> SCHEMA_MISMATCH (fatal to the call)
//	server reports a method gap   -> UNKNOWN_TOOL
//	any other server error        -> EXECUTION_ERROR
type Client struct {
	cfg    ServerConfig
	tr     transport
	logger logging.Logger
}

// NewClient validates the configuration and builds an unconnected client.
func NewClient(cfg ServerConfig, logger logging.Logger) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	tr, err := newTransport(cfg)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	return &Client{cfg: cfg, tr: tr, logger: logger}, nil
}

// ID returns the configured server identifier.
func (c *Client) ID() string { return c.cfg.ID }

// Connect establishes the transport and runs the initialize handshake.
func (c *Client) Connect(ctx context.Context) error {
	if err := c.tr.connect(ctx); err != nil {
		return err
	}
	if err := c.handshake(ctx); err != nil {
		_ = c.tr.close()
		return err
	}
	c.logger.Info("toolserver.connected", "server", c.cfg.ID, "transport", string(c.cfg.Transport))
	return nil
}

func (c *Client) handshake(ctx context.Context) error {
	result, err := c.tr.call(ctx, "initialize", map[string]any{
		"protocolVersion": protocolVersion,
		"clientInfo": map[string]any{
			"name":    "lumabot",
			"version": "1.0",
		},
	})
	if err != nil {
		return fmt.Errorf("server %s: handshake: %w", c.cfg.ID, err)
	}
	var info struct {
		ProtocolVersion string `json:"protocolVersion"`
		ServerInfo      struct {
			Name    string `json:"name"`
			Version string `json:"version"`
		} `json:"serverInfo"`
	}
	if err := json.Unmarshal(result, &info); err == nil && info.ProtocolVersion != "" && info.ProtocolVersion != protocolVersion {
		c.logger.Warn("toolserver.version_skew",
			"server", c.cfg.ID, "server_version", info.ProtocolVersion, "client_version", protocolVersion)
	}
	return nil
}

// Tools lists the tools the server currently exposes.
func (c *Client) Tools(ctx context.Context) ([]tool.Descriptor, error) {
	result, err := c.tr.call(ctx, "tools/list", nil)
	if err != nil {
		return nil, c.mapError("tools/list", err)
	}
	var payload struct {
		Tools []struct {
			Name        string         `json:"name"`
			Description string         `json:"description"`
			InputSchema map[string]any `json:"inputSchema"`
		} `json:"tools"`
	}
	if err := json.Unmarshal(result, &payload); err != nil {
		return nil, fmt.Errorf("server %s: decode tool list: %w", c.cfg.ID, err)
	}
	descriptors := make([]tool.Descriptor, 0, len(payload.Tools))
	for _, t := range payload.Tools {
		params := t.InputSchema
		if params == nil {
			params = map[string]any{"type": "object"}
		}
		descriptors = append(descriptors, tool.Descriptor{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  params,
			Origin:      c.cfg.ID,
		})
	}
	return descriptors, nil
}

// Call invokes a named tool on the server and returns its decoded result.
func (c *Client) Call(ctx context.Context, name string, args map[string]any) (any, error) {
	result, err := c.tr.call(ctx, "tools/call", map[string]any{
		"name":      name,
		"arguments": args,
	})
	if err != nil {
		return nil, c.mapError(name, err)
	}

	// Servers either wrap text output in a content list or return a bare
	// value; accept both.
	var wrapped struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
		IsError bool `json:"isError"`
	}
	if err := json.Unmarshal(result, &wrapped); err == nil && len(wrapped.Content) > 0 {
		text := ""
		for _, block := range wrapped.Content {
			if block.Type == "text" {
				text += block.Text
			}
		}
		if wrapped.IsError {
			return nil, &tool.Error{Tool: name, Message: text, Code: tool.CodeExecution}
		}
		return text, nil
	}
	var value any
	if err := json.Unmarshal(result, &value); err != nil {
		return nil, fmt.Errorf("server %s: decode result: %w", c.cfg.ID, err)
	}
	return value, nil
}

// Reconnect tears down and re-establishes the connection, re-running the
// handshake. The catalog calls this once per invocation after CONNECTION_LOST.
func (c *Client) Reconnect(ctx context.Context) error {
	_ = c.tr.close()
	return c.Connect(ctx)
}

// Close shuts the transport down.
func (c *Client) Close() error { return c.tr.close() }

func (c *Client) mapError(name string, err error) error {
	var rpc *rpcError
	if errors.As(err, &rpc) {
		switch rpc.Code {
		case codeInvalidParams:
			return &tool.Error{Tool: name, Message: rpc.Message, Code: tool.CodeSchemaMismatch, Details: string(rpc.Data)}
		case codeMethodMissing:
			return &tool.Error{Tool: name, Message: rpc.Message, Code: tool.CodeUnknownTool}
		default:
			return &tool.Error{Tool: name, Message: rpc.Message, Code: tool.CodeExecution, Details: string(rpc.Data)}
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &tool.Error{Tool: name, Message: "tool server call timed out", Code: tool.CodeTimeout}
	}
	if errors.Is(err, errNotConnected) || !c.tr.connected() {
		return &tool.Error{Tool: name, Message: err.Error(), Code: tool.CodeConnectionLost}
	}
	return &tool.Error{Tool: name, Message: err.Error(), Code: tool.CodeExecution}
}
