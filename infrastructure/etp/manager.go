package etp

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/felixgeelhaar/fortify/retry"

	"github.com/dbpilot/dbpilot/domain/tool"
	"github.com/dbpilot/dbpilot/infrastructure/logging"
)

// ToolPrefix namespaces external tools as ext_<server>_<tool>.
const ToolPrefix = "ext_"

// conn is the subset of Client the manager depends on. Tests substitute a
// fake to avoid spawning subprocesses.
type conn interface {
	Name() string
	Connect(ctx context.Context) error
	ListTools(ctx context.Context) ([]ToolDef, error)
	CallTool(ctx context.Context, name string, args map[string]any) (*CallResult, error)
	Connected() bool
	Close() error
}

// ServerStatus is a snapshot of one managed server.
type ServerStatus struct {
	Name      string `json:"name"`
	Connected bool   `json:"connected"`
	ToolCount int    `json:"tool_count"`
}

// Manager owns the set of external tool server connections and presents
// their tools under namespaced names. All methods are safe for concurrent
// use; tool calls never return Go errors, only structured results.
type Manager struct {
	mu      sync.RWMutex
	conns   map[string]conn
	schemas map[string][]tool.Schema // server -> namespaced schemas
	owner   map[string]string        // namespaced tool name -> server

	dial func(ServerConfig) conn
}

// NewManager creates an empty manager.
func NewManager() *Manager {
	return &Manager{
		conns:   make(map[string]conn),
		schemas: make(map[string][]tool.Schema),
		owner:   make(map[string]string),
		dial:    func(cfg ServerConfig) conn { return NewClient(cfg) },
	}
}

// AddServer connects to a server and registers its tools. Failures are
// logged and reported through the return value; they never abort the caller.
// Connecting is retried with backoff since servers need a moment to start.
func (m *Manager) AddServer(ctx context.Context, cfg ServerConfig) bool {
	if cfg.Name == "" || cfg.Command == "" {
		logging.Warn().
			Add(logging.Component("etp")).
			Add(logging.Server(cfg.Name)).
			Msg("server config missing name or command")
		return false
	}

	m.mu.Lock()
	if old, exists := m.conns[cfg.Name]; exists {
		_ = old.Close()
		m.removeLocked(cfg.Name)
	}
	c := m.dial(cfg)
	m.mu.Unlock()

	connector := retry.New[struct{}](retry.Config{
		MaxAttempts:   3,
		InitialDelay:  200 * time.Millisecond,
		BackoffPolicy: retry.BackoffExponential,
		Multiplier:    2.0,
	})
	if _, err := connector.Do(ctx, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, c.Connect(ctx)
	}); err != nil {
		logging.Warn().
			Add(logging.Component("etp")).
			Add(logging.Server(cfg.Name)).
			Add(logging.ErrorField(err)).
			Msg("server connect failed")
		return false
	}

	defs, err := c.ListTools(ctx)
	if err != nil {
		logging.Warn().
			Add(logging.Component("etp")).
			Add(logging.Server(cfg.Name)).
			Add(logging.ErrorField(err)).
			Msg("tool discovery failed")
		_ = c.Close()
		return false
	}

	m.mu.Lock()
	m.conns[cfg.Name] = c
	for _, def := range defs {
		full := ToolPrefix + cfg.Name + "_" + def.Name
		m.schemas[cfg.Name] = append(m.schemas[cfg.Name], tool.Schema{
			Name:        full,
			Description: def.Description,
			Parameters:  def.InputSchema,
		})
		m.owner[full] = cfg.Name
	}
	count := len(m.schemas[cfg.Name])
	m.mu.Unlock()

	logging.Info().
		Add(logging.Component("etp")).
		Add(logging.Server(cfg.Name)).
		Add(logging.Count(count)).
		Msg("server connected")
	return true
}

// RemoveServer disconnects a server and drops its tools.
func (m *Manager) RemoveServer(name string) bool {
	m.mu.Lock()
	c, ok := m.conns[name]
	if ok {
		m.removeLocked(name)
	}
	m.mu.Unlock()
	if !ok {
		return false
	}
	_ = c.Close()
	logging.Info().
		Add(logging.Component("etp")).
		Add(logging.Server(name)).
		Msg("server removed")
	return true
}

// removeLocked drops the server's registration. Caller holds m.mu.
func (m *Manager) removeLocked(name string) {
	delete(m.conns, name)
	delete(m.schemas, name)
	for full, owner := range m.owner {
		if owner == name {
			delete(m.owner, full)
		}
	}
}

// Owns reports whether the namespaced tool name routes to a managed server.
func (m *Manager) Owns(name string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.owner[name]
	return ok
}

// Tools returns a snapshot of all namespaced tool schemas.
func (m *Manager) Tools() []tool.Schema {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []tool.Schema
	for _, schemas := range m.schemas {
		out = append(out, schemas...)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Status returns a snapshot of every managed server.
func (m *Manager) Status() []ServerStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]ServerStatus, 0, len(m.conns))
	for name, c := range m.conns {
		out = append(out, ServerStatus{
			Name:      name,
			Connected: c.Connected(),
			ToolCount: len(m.schemas[name]),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// CallTool routes a namespaced tool call to its server. Every failure is a
// structured error result; this method never panics and never returns a Go
// error to the dispatch loop.
func (m *Manager) CallTool(ctx context.Context, fullName string, args map[string]any) tool.Result {
	if !strings.HasPrefix(fullName, ToolPrefix) {
		return tool.Errorf("invalid external tool name: %s", fullName)
	}

	m.mu.RLock()
	server, ok := m.owner[fullName]
	var c conn
	if ok {
		c = m.conns[server]
	}
	m.mu.RUnlock()
	if !ok || c == nil {
		return tool.Errorf("unknown external tool: %s", fullName)
	}
	if !c.Connected() {
		return tool.Errorf("server %s is not connected", server)
	}

	short := strings.TrimPrefix(fullName, ToolPrefix+server+"_")
	start := time.Now()
	res, err := c.CallTool(ctx, short, args)
	if err != nil {
		logging.Warn().
			Add(logging.Component("etp")).
			Add(logging.Server(server)).
			Add(logging.ToolName(fullName)).
			Add(logging.ErrorField(err)).
			Msg("tool call failed")
		return tool.Errorf("call %s on server %s: %v", short, server, err)
	}
	logging.Debug().
		Add(logging.Component("etp")).
		Add(logging.Server(server)).
		Add(logging.ToolName(fullName)).
		Add(logging.Duration(time.Since(start))).
		Msg("tool call complete")

	text := res.Text()
	if res.IsError {
		return tool.Result{Status: tool.StatusError, Error: text}
	}
	return tool.Result{Status: tool.StatusSuccess, Message: text}
}

// CloseAll disconnects every server.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	conns := make([]conn, 0, len(m.conns))
	for name, c := range m.conns {
		conns = append(conns, c)
		m.removeLocked(name)
	}
	m.mu.Unlock()
	for _, c := range conns {
		_ = c.Close()
	}
}
