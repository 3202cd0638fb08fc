package remote

import (
	"context"
	"encoding/json"
	"errors"
)

// errNotConnected reports a call attempted on a closed or dropped transport.
// The client maps it (and any transport I/O failure) to CONNECTION_LOST so
// the catalog can reconnect and retry once.
var errNotConnected = errors.New("transport not connected")

// transport carries JSON-RPC request/response pairs to a tool server. All
// implementations are safe for concurrent calls.
type transport interface {
	// connect establishes the connection. Calling connect on an already
	// connected transport is an error; close first.
	connect(ctx context.Context) error

	// call sends one request and waits for the matching response. A non-nil
	// *rpcError return means the server answered with an error object; any
	// other error means the transport itself failed.
	call(ctx context.Context, method string, params any) (json.RawMessage, error)

	// close tears the connection down and fails all pending calls.
	close() error

	// connected reports whether the transport is currently usable.
	connected() bool
}

func newTransport(cfg ServerConfig) (transport, error) {
	switch cfg.Transport {
	case TransportStdio:
		return newStdioTransport(cfg), nil
	case TransportHTTP:
		return newHTTPTransport(cfg), nil
	case TransportWebSocket:
		return newWebSocketTransport(cfg), nil
	default:
		return nil, errors.New("unknown transport " + string(cfg.Transport))
	}
}
