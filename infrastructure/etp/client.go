// Package etp manages connections to external tool servers: subprocesses
// speaking JSON-RPC over stdin/stdout, discovered tools namespaced into the
// agent's registry.
package etp

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dbpilot/dbpilot/infrastructure/logging"
)

// protocolVersion is the handshake version sent during initialize.
const protocolVersion = "2024-11-05"

// Client errors.
var (
	// ErrNotConnected is returned when calling a client before Connect or
	// after Close.
	ErrNotConnected = errors.New("server not connected")
	// ErrServerClosed is returned when the server process ends while a
	// request is in flight.
	ErrServerClosed = errors.New("server closed connection")
)

// ServerConfig describes how to launch an external tool server.
type ServerConfig struct {
	Name    string            `json:"name" yaml:"name"`
	Command string            `json:"command" yaml:"command"`
	Args    []string          `json:"args,omitempty" yaml:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty" yaml:"env,omitempty"`
	Enabled bool              `json:"enabled" yaml:"enabled"`

	// RequestTimeout bounds individual RPC calls. Zero means 30s.
	RequestTimeout time.Duration `json:"-" yaml:"-"`
}

// ToolDef is a tool as advertised by a server, before namespacing.
type ToolDef struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"inputSchema"`
}

// ContentBlock is one unit of a tool call response.
type ContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
	Data string `json:"data,omitempty"`
}

// CallResult is the raw outcome of a server-side tool call.
type CallResult struct {
	Content []ContentBlock `json:"content"`
	IsError bool           `json:"isError"`
}

// Text flattens the result content blocks into a single string.
func (r *CallResult) Text() string {
	parts := make([]string, 0, len(r.Content))
	for _, block := range r.Content {
		switch {
		case block.Text != "":
			parts = append(parts, block.Text)
		case block.Data != "":
			parts = append(parts, block.Data)
		}
	}
	return strings.Join(parts, "\n")
}

// rpcRequest is a JSON-RPC 2.0 request or notification.
type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      *int64 `json:"id,omitempty"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

// rpcResponse is a JSON-RPC 2.0 response.
type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int64           `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// Client is a connection to one external tool server subprocess. A single
// reader goroutine owns stdout and routes responses to waiting callers.
type Client struct {
	config ServerConfig

	mu        sync.Mutex
	cmd       *exec.Cmd
	stdin     io.WriteCloser
	connected bool

	// writeMu serializes frames onto stdin; concurrent callers would
	// otherwise interleave frames larger than the pipe buffer.
	writeMu sync.Mutex

	reqID     atomic.Int64
	respMu    sync.Mutex
	responses map[int64]chan *rpcResponse

	done chan struct{}
}

// NewClient creates a client for the given server. Call Connect before use.
func NewClient(config ServerConfig) *Client {
	if config.RequestTimeout <= 0 {
		config.RequestTimeout = 30 * time.Second
	}
	return &Client{
		config:    config,
		responses: make(map[int64]chan *rpcResponse),
	}
}

// Name returns the configured server name.
func (c *Client) Name() string { return c.config.Name }

// Connected reports whether the subprocess is up and initialized.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Connect starts the subprocess and performs the initialize handshake.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.connected {
		c.mu.Unlock()
		return nil
	}

	cmd := exec.Command(c.config.Command, c.config.Args...)
	cmd.Env = os.Environ()
	for k, v := range c.config.Env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}
	cmd.Stderr = os.Stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		c.mu.Unlock()
		return fmt.Errorf("open stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		c.mu.Unlock()
		return fmt.Errorf("open stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		c.mu.Unlock()
		return fmt.Errorf("start server %s: %w", c.config.Name, err)
	}

	c.cmd = cmd
	c.stdin = stdin
	c.done = make(chan struct{})
	c.connected = true
	c.mu.Unlock()

	go c.readResponses(stdout)

	if err := c.initialize(ctx); err != nil {
		_ = c.Close()
		return fmt.Errorf("initialize server %s: %w", c.config.Name, err)
	}
	return nil
}

// initialize performs the handshake and sends the initialized notification.
func (c *Client) initialize(ctx context.Context) error {
	params := map[string]any{
		"protocolVersion": protocolVersion,
		"clientInfo": map[string]string{
			"name":    "dbpilot",
			"version": "0.1.0",
		},
		"capabilities": map[string]any{},
	}
	if _, err := c.call(ctx, "initialize", params); err != nil {
		return err
	}
	return c.notify("notifications/initialized", nil)
}

// ListTools queries the server's tool catalog.
func (c *Client) ListTools(ctx context.Context) ([]ToolDef, error) {
	raw, err := c.call(ctx, "tools/list", map[string]any{})
	if err != nil {
		return nil, err
	}
	var result struct {
		Tools []ToolDef `json:"tools"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("decode tools/list result: %w", err)
	}
	return result.Tools, nil
}

// CallTool invokes a server-side tool by its unnamespaced name.
func (c *Client) CallTool(ctx context.Context, name string, args map[string]any) (*CallResult, error) {
	params := map[string]any{
		"name":      name,
		"arguments": args,
	}
	raw, err := c.call(ctx, "tools/call", params)
	if err != nil {
		return nil, err
	}
	var result CallResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("decode tools/call result: %w", err)
	}
	return &result, nil
}

// Close terminates the subprocess. A close request is sent best-effort
// before the pipes are torn down.
func (c *Client) Close() error {
	c.mu.Lock()
	if !c.connected {
		c.mu.Unlock()
		return nil
	}
	c.connected = false
	stdin := c.stdin
	cmd := c.cmd
	done := c.done
	c.mu.Unlock()

	_ = c.send(stdin, rpcRequest{JSONRPC: "2.0", Method: "close"})
	_ = stdin.Close()

	// Give the process a moment to exit before killing it.
	exited := make(chan error, 1)
	go func() { exited <- cmd.Wait() }()
	select {
	case <-exited:
	case <-time.After(3 * time.Second):
		_ = cmd.Process.Kill()
		<-exited
	}
	<-done

	c.failPending()
	return nil
}

// call sends a request and waits for the matching response.
func (c *Client) call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	c.mu.Lock()
	if !c.connected {
		c.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrNotConnected, c.config.Name)
	}
	stdin := c.stdin
	c.mu.Unlock()

	id := c.reqID.Add(1)
	ch := make(chan *rpcResponse, 1)
	c.respMu.Lock()
	c.responses[id] = ch
	c.respMu.Unlock()
	defer func() {
		c.respMu.Lock()
		delete(c.responses, id)
		c.respMu.Unlock()
	}()

	req := rpcRequest{JSONRPC: "2.0", ID: &id, Method: method, Params: params}
	if err := c.send(stdin, req); err != nil {
		return nil, fmt.Errorf("send %s: %w", method, err)
	}

	timeout := time.NewTimer(c.config.RequestTimeout)
	defer timeout.Stop()
	select {
	case resp := <-ch:
		if resp == nil {
			return nil, fmt.Errorf("%w: %s", ErrServerClosed, c.config.Name)
		}
		if resp.Error != nil {
			return nil, resp.Error
		}
		return resp.Result, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timeout.C:
		return nil, fmt.Errorf("%s request to %s timed out", method, c.config.Name)
	}
}

// notify sends a notification (no response expected).
func (c *Client) notify(method string, params any) error {
	c.mu.Lock()
	stdin := c.stdin
	connected := c.connected
	c.mu.Unlock()
	if !connected {
		return fmt.Errorf("%w: %s", ErrNotConnected, c.config.Name)
	}
	return c.send(stdin, rpcRequest{JSONRPC: "2.0", Method: method, Params: params})
}

// send writes one frame under the write lock.
func (c *Client) send(w io.Writer, v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return writeFrame(w, v)
}

// readResponses is the single reader of the server's stdout. It routes
// responses by ID and fails all pending calls when the pipe closes.
func (c *Client) readResponses(stdout io.Reader) {
	defer close(c.done)

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var resp rpcResponse
		if err := json.Unmarshal(line, &resp); err != nil {
			logging.Warn().
				Add(logging.Server(c.config.Name)).
				Add(logging.ErrorField(err)).
				Msg("malformed server response")
			continue
		}
		c.respMu.Lock()
		ch, ok := c.responses[resp.ID]
		c.respMu.Unlock()
		if ok {
			ch <- &resp
		}
	}

	c.mu.Lock()
	c.connected = false
	c.mu.Unlock()
	c.failPending()
}

// failPending unblocks all waiting callers after the connection dies. A nil
// response on the channel signals ErrServerClosed to the caller.
func (c *Client) failPending() {
	c.respMu.Lock()
	defer c.respMu.Unlock()
	for id, ch := range c.responses {
		select {
		case ch <- nil:
		default:
		}
		delete(c.responses, id)
	}
}

// writeFrame writes one newline-delimited JSON message.
func writeFrame(w io.Writer, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	raw = append(raw, '\n')
	_, err = w.Write(raw)
	return err
}
