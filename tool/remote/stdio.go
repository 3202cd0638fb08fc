package remote

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
)

// stdioTransport runs the tool server as a local subprocess and exchanges
// newline-delimited JSON-RPC frames over its stdin/stdout. stderr is passed
// through to the host process for operator visibility.
type stdioTransport struct {
	cfg ServerConfig

	mu      sync.Mutex
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	cancel  context.CancelFunc
	pending map[int64]chan *rpcResponse

	nextID atomic.Int64
	up     atomic.Bool
}

func newStdioTransport(cfg ServerConfig) *stdioTransport {
	return &stdioTransport{cfg: cfg, pending: make(map[int64]chan *rpcResponse)}
}

func (t *stdioTransport) connect(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.up.Load() {
		return fmt.Errorf("server %s: already connected", t.cfg.ID)
	}

	procCtx, cancel := context.WithCancel(context.Background())
	cmd := exec.CommandContext(procCtx, t.cfg.Command, t.cfg.Args...)
	cmd.Env = os.Environ()
	for k, v := range t.cfg.Env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}
	cmd.Stderr = os.Stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		cancel()
		return fmt.Errorf("server %s: stdin pipe: %w", t.cfg.ID, err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return fmt.Errorf("server %s: stdout pipe: %w", t.cfg.ID, err)
	}
	if err := cmd.Start(); err != nil {
		cancel()
		return fmt.Errorf("server %s: start %s: %w", t.cfg.ID, t.cfg.Command, err)
	}

	t.cmd = cmd
	t.stdin = stdin
	t.cancel = cancel
	t.up.Store(true)

	go t.readLoop(stdout)
	return nil
}

// readLoop dispatches responses to pending calls until stdout closes, then
// marks the transport down and fails everything still in flight.
func (t *stdioTransport) readLoop(stdout io.Reader) {
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var resp rpcResponse
		if err := json.Unmarshal(line, &resp); err != nil {
			continue // not a response frame; ignore server chatter
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

func (t *stdioTransport) failPending() {
	t.mu.Lock()
	pending := t.pending
	t.pending = make(map[int64]chan *rpcResponse)
	t.mu.Unlock()
	for _, ch := range pending {
		close(ch)
	}
}

func (t *stdioTransport) call(ctx context.Context, method string, params any) (json.RawMessage, error) {
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
	stdin := t.stdin
	t.mu.Unlock()

	if _, err := stdin.Write(append(frame, '\n')); err != nil {
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

func (t *stdioTransport) close() error {
	t.mu.Lock()
	cancel := t.cancel
	cmd := t.cmd
	stdin := t.stdin
	t.cmd, t.stdin, t.cancel = nil, nil, nil
	t.mu.Unlock()

	t.up.Store(false)
	t.failPending()

	if stdin != nil {
		_ = stdin.Close()
	}
	if cancel != nil {
		cancel()
	}
	if cmd != nil {
		_ = cmd.Wait()
	}
	return nil
}

func (t *stdioTransport) connected() bool { return t.up.Load() }

func marshalParams(params any) (json.RawMessage, error) {
	if params == nil {
		return nil, nil
	}
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("encode params: %w", err)
	}
	return raw, nil
}
