// Package mcp connects stdio MCP servers and routes their tools.
//
// Tool names are namespaced mcp__<server>__<tool>; the runtime advertises
// them next to the builtin tools and sends executions back through CallTool.
package mcp

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	mcpclient "github.com/mark3labs/mcp-go/client"
	"golang.org/x/sync/errgroup"

	"github.com/nextlevelbuilder/agentgate/internal/config"
	"github.com/nextlevelbuilder/agentgate/internal/providers"
)

const (
	connectTimeout       = 30 * time.Second
	callTimeout          = 60 * time.Second
	healthCheckInterval  = 30 * time.Second
	initialBackoff       = 2 * time.Second
	maxBackoff           = 60 * time.Second
	maxReconnectAttempts = 10
)

// ToolPrefix namespaces MCP tools so they can't shadow builtins.
const ToolPrefix = "mcp__"

// ServerStatus reports one server's connection state.
type ServerStatus struct {
	Name      string `json:"name"`
	Connected bool   `json:"connected"`
	ToolCount int    `json:"tool_count"`
	Error     string `json:"error,omitempty"`
}

// remoteTool is one tool discovered from a server, schema pre-converted to
// the provider's wire shape.
type remoteTool struct {
	name        string // original name on the server
	description string
	schema      map[string]any
}

// serverState tracks a single connection.
type serverState struct {
	name      string
	client    *mcpclient.Client
	connected atomic.Bool
	tools     []remoteTool
	cancel    context.CancelFunc

	mu             sync.Mutex
	reconnAttempts int
	lastErr        string
}

// Manager owns all MCP server connections for the process.
type Manager struct {
	mu      sync.RWMutex
	servers map[string]*serverState
	configs map[string]config.MCPServerConfig
}

func NewManager(configs map[string]config.MCPServerConfig) *Manager {
	return &Manager{
		servers: make(map[string]*serverState),
		configs: configs,
	}
}

// Start connects every configured server in parallel. Failures are logged
// and skipped: a dead MCP server must not stop the gateway from serving.
func (m *Manager) Start(ctx context.Context) error {
	if len(m.configs) == 0 {
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	for name, cfg := range m.configs {
		g.Go(func() error {
			cctx, cancel := context.WithTimeout(gctx, connectTimeout)
			defer cancel()
			if err := m.connectServer(cctx, name, cfg); err != nil {
				slog.Warn("mcp server connect failed", "server", name, "error", err)
			}
			return nil
		})
	}
	return g.Wait()
}

// Close shuts down every connection and health loop.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for name, ss := range m.servers {
		if ss.cancel != nil {
			ss.cancel()
		}
		if ss.client != nil {
			if err := ss.client.Close(); err != nil {
				slog.Debug("mcp server close error", "server", name, "error", err)
			}
		}
	}
	m.servers = make(map[string]*serverState)
}

// AllowedToolNames returns the namespaced names of every discovered tool,
// sorted; these extend the turn's allowed-tool list.
func (m *Manager) AllowedToolNames() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var names []string
	for server, ss := range m.servers {
		for _, t := range ss.tools {
			names = append(names, qualify(server, t.name))
		}
	}
	sort.Strings(names)
	return names
}

// Schemas returns provider-shaped tool declarations for every discovered
// tool, namespaced.
func (m *Manager) Schemas() []providers.ToolSchema {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []providers.ToolSchema
	for server, ss := range m.servers {
		for _, t := range ss.tools {
			schema := t.schema
			if schema == nil {
				schema = map[string]any{"type": "object"}
			}
			out = append(out, providers.ToolSchema{
				Name:        qualify(server, t.name),
				Description: t.description,
				InputSchema: schema,
			})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// ServerStatus returns the state of every server, sorted by name.
func (m *Manager) ServerStatus() []ServerStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()

	statuses := make([]ServerStatus, 0, len(m.servers))
	for _, ss := range m.servers {
		ss.mu.Lock()
		lastErr := ss.lastErr
		ss.mu.Unlock()
		statuses = append(statuses, ServerStatus{
			Name:      ss.name,
			Connected: ss.connected.Load(),
			ToolCount: len(ss.tools),
			Error:     lastErr,
		})
	}
	sort.Slice(statuses, func(i, j int) bool { return statuses[i].Name < statuses[j].Name })
	return statuses
}

// Routes reports whether the name carries the MCP prefix.
func Routes(name string) bool { return strings.HasPrefix(name, ToolPrefix) }

// CallTool executes a namespaced tool call. Implements runtime.MCPRouter.
func (m *Manager) CallTool(ctx context.Context, name string, input map[string]any) (string, error) {
	server, tool, err := split(name)
	if err != nil {
		return "", err
	}

	m.mu.RLock()
	ss, ok := m.servers[server]
	m.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("mcp server %q not connected", server)
	}
	if !ss.connected.Load() {
		return "", fmt.Errorf("mcp server %q is unhealthy", server)
	}

	cctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()
	return ss.call(cctx, tool, input)
}

func qualify(server, tool string) string {
	return ToolPrefix + server + "__" + tool
}

func split(name string) (server, tool string, err error) {
	rest, ok := strings.CutPrefix(name, ToolPrefix)
	if !ok {
		return "", "", fmt.Errorf("not an mcp tool: %q", name)
	}
	server, tool, ok = strings.Cut(rest, "__")
	if !ok || server == "" || tool == "" {
		return "", "", fmt.Errorf("malformed mcp tool name: %q", name)
	}
	return server, tool, nil
}
