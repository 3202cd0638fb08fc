package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"
)

// wsTransport multiplexes JSON-RPC calls over one WebSocket connection. Each
// call is a text frame; responses are matched to callers by request id, so the
// server may answer out of order.
type wsTransport struct {
	cfg ServerConfig

	mu      sync.Mutex
	conn    *websocket.Conn
	pending map[int64]chan *rpcResponse

	writeMu sync.Mutex
	nextID  atomic.Int64
	up      atomic.Bool
}

func newWebSocketTransport(cfg ServerConfig) *wsTransport {
	return &wsTransport{cfg: cfg, pending: make(map[int64]chan *rpcResponse)}
}

func (t *wsTransport) connect(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.up.Load() {
		return fmt.Errorf("server %s: already connected", t.cfg.ID)
	}

	header := http.Header{}
	for k, v := range t.cfg.Headers {
		header.Set(k, v)
	}
	dialer := websocket.Dialer{HandshakeTimeout: t.cfg.timeout()}
	conn, _, err := dialer.DialContext(ctx, t.cfg.URL, header)
	if err != nil {
		return fmt.Errorf("server %s: dial %s: %w", t.cfg.ID, t.cfg.URL, err)
	}

	t.conn = conn
	t.up.Store(true)
	go t.readLoop(conn)
	return nil
}

func (t *wsTransport) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		var resp rpcResponse
		if err := json.Unmarshal(data, &resp); err != nil {
			continue
		}
		t.mu.Lock()
		ch, ok := t.pending[resp.ID]
		if ok {
			delete(t.pending, resp.ID)
		}
		t.mu.Unlock()
		if ok {
			ch <- &resp
		}
	}
	t.up.Store(false)
	t.failPending()
}

func (t *wsTransport) failPending() {
	t.mu.Lock()
	pending := t.pending
	t.pending = make(map[int64]chan *rpcResponse)
	t.mu.Unlock()
	for _, ch := range pending {
		close(ch)
	}
}

func (t *wsTransport) call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	if !t.up.Load() {
		return nil, errNotConnected
	}

	id := t.nextID.Add(1)
	raw, err := marshalParams(params)
	if err != nil {
		return nil, err
	}
	frame, err := json.Marshal(rpcRequest{JSONRPC: "2.0", ID: id, Method: method, Params: raw})
	if err != nil {
		return nil, err
	}

	ch := make(chan *rpcResponse, 1)
	t.mu.Lock()
	t.pending[id] = ch
	conn := t.conn
	t.mu.Unlock()

	t.writeMu.Lock()
	err = conn.WriteMessage(websocket.TextMessage, frame)
	t.writeMu.Unlock()
	if err != nil {
		t.mu.Lock()
		delete(t.pending, id)
		t.mu.Unlock()
		return nil, fmt.Errorf("%w: write: %v", errNotConnected, err)
	}

	ctx, cancel := context.WithTimeout(ctx, t.cfg.timeout())
	defer cancel()

	select {
	case resp, ok := <-ch:
		if !ok {
			return nil, errNotConnected
		}
		if resp.Error != nil {
			return nil, resp.Error
		}
		return resp.Result, nil
	case <-ctx.Done():
		t.mu.Lock()
		delete(t.pending, id)
		t.mu.Unlock()
		return nil, ctx.Err()
	}
}

func (t *wsTransport) close() error {
	t.mu.Lock()
	conn := t.conn
	t.conn = nil
	t.mu.Unlock()

	t.up.Store(false)
	t.failPending()
	if conn != nil {
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		return conn.Close()
	}
	return nil
}

func (t *wsTransport) connected() bool { return t.up.Load() }
