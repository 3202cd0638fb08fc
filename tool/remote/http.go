package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
)

// httpTransport posts each JSON-RPC request as its own HTTP request. There is
// no persistent connection to lose, so connect only flips the usable flag;
// network failures on individual calls still surface as connection loss so the
// shared retry path applies.
type httpTransport struct {
	cfg    ServerConfig
	client *http.Client
	nextID atomic.Int64
	up     atomic.Bool
}

func newHTTPTransport(cfg ServerConfig) *httpTransport {
	return &httpTransport{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.timeout()},
	}
}

func (t *httpTransport) connect(ctx context.Context) error {
	if t.up.Load() {
		return fmt.Errorf("server %s: already connected", t.cfg.ID)
	}
	t.up.Store(true)
	return nil
}

func (t *httpTransport) call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	if !t.up.Load() {
		return nil, errNotConnected
	}

	raw, err := marshalParams(params)
	if err != nil {
		return nil, err
	}
	body, err := json.Marshal(rpcRequest{JSONRPC: "2.0", ID: t.nextID.Add(1), Method: method, Params: raw})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range t.cfg.Headers {
		req.Header.Set(k, v)
	}

	httpResp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errNotConnected, err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("server %s: unexpected status %d", t.cfg.ID, httpResp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(httpResp.Body, 8<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", errNotConnected, err)
	}
	var resp rpcResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("server %s: decode response: %w", t.cfg.ID, err)
	}
	if resp.Error != nil {
		return nil, resp.Error
	}
	return resp.Result, nil
}

func (t *httpTransport) close() error {
	t.up.Store(false)
	t.client.CloseIdleConnections()
	return nil
}

func (t *httpTransport) connected() bool { return t.up.Load() }
