// Package remote implements the client side of remote tool servers: a
// JSON-RPC contract (handshake, tools/list, tools/call) carried over one of
// three transports (local subprocess stdio, HTTP request/response, WebSocket
// streaming). Discovered tools plug into the tool.Catalog through the
// tool.ServerClient contract.
package remote

import (
	"fmt"
	"strings"
	"time"
)

// TransportKind selects the wire transport for a tool server.
type TransportKind string

const (
	// TransportStdio talks to a local subprocess over stdin/stdout.
	TransportStdio TransportKind = "stdio"
	// TransportHTTP posts each call as an HTTP request.
	TransportHTTP TransportKind = "http"
	// TransportWebSocket multiplexes calls over one WebSocket connection.
	TransportWebSocket TransportKind = "websocket"
)

// ServerConfig describes one remote tool server.
type ServerConfig struct {
	ID        string        `yaml:"id" json:"id"`
	Name      string        `yaml:"name" json:"name,omitempty"`
	Transport TransportKind `yaml:"transport" json:"transport"`

	// Stdio transport options.
	Command string            `yaml:"command,omitempty" json:"command,omitempty"`
	Args    []string          `yaml:"args,omitempty" json:"args,omitempty"`
	Env     map[string]string `yaml:"env,omitempty" json:"env,omitempty"`

	// HTTP / WebSocket transport options.
	URL     string            `yaml:"url,omitempty" json:"url,omitempty"`
	Headers map[string]string `yaml:"headers,omitempty" json:"headers,omitempty"`

	// Timeout bounds each request on the transport. Zero defaults to 30s.
	Timeout time.Duration `yaml:"timeout,omitempty" json:"timeout,omitempty"`
}

// Validate checks the configuration before any connection attempt.
func (c *ServerConfig) Validate() error {
	if c.ID == "" {
		return fmt.Errorf("tool server id is required")
	}
	switch c.Transport {
	case TransportStdio:
		if c.Command == "" {
			return fmt.Errorf("tool server %s: command is required for stdio transport", c.ID)
		}
	case TransportHTTP:
		if !strings.HasPrefix(c.URL, "http://") && !strings.HasPrefix(c.URL, "https://") {
			return fmt.Errorf("tool server %s: url must start with http:// or https://", c.ID)
		}
	case TransportWebSocket:
		if !strings.HasPrefix(c.URL, "ws://") && !strings.HasPrefix(c.URL, "wss://") {
			return fmt.Errorf("tool server %s: url must start with ws:// or wss://", c.ID)
		}
	default:
		return fmt.Errorf("tool server %s: unknown transport %q", c.ID, c.Transport)
	}
	return nil
}

func (c *ServerConfig) timeout() time.Duration {
	if c.Timeout > 0 {
		return c.Timeout
	}
	return 30 * time.Second
}
