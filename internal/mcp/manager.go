package mcp

import (
	"context"
	"log/slog"
	"sync"

	"github.com/Mateus-rgb/Lim-Code-sub001/internal/tools"
)

// Manager owns the configured MCP server connections and keeps their tools
// registered in the shared registry.
type Manager struct {
	mu       sync.RWMutex
	clients  map[string]*Client
	registry *tools.Registry
	log      *slog.Logger
}

func NewManager(registry *tools.Registry, log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{
		clients:  make(map[string]*Client),
		registry: registry,
		log:      log,
	}
}

// StartAll connects the enabled servers and registers their tools. A server
// that fails to start is logged and skipped; the rest keep working.
func (m *Manager) StartAll(ctx context.Context, servers map[string]ServerConfig) {
	for name, cfg := range servers {
		if !cfg.Enabled {
			continue
		}
		client := NewClient(name, cfg)
		if err := client.Start(ctx); err != nil {
			m.log.Warn("MCP server failed to start", "server", name, "error", err)
			continue
		}

		m.mu.Lock()
		m.clients[name] = client
		m.mu.Unlock()

		for _, spec := range client.Tools() {
			m.registry.Register(newProxiedTool(client, spec))
		}
		m.log.Debug("MCP server started", "server", name, "tools", len(client.Tools()))
	}
}

// StopAll disconnects every server and unregisters its tools.
func (m *Manager) StopAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for name, client := range m.clients {
		for _, spec := range client.Tools() {
			m.registry.Unregister(tools.ProxiedName(name, spec.Name))
		}
		if err := client.Stop(); err != nil {
			m.log.Warn("MCP server stop failed", "server", name, "error", err)
		}
		delete(m.clients, name)
	}
}

// Client returns the connection for a server name.
func (m *Manager) Client(name string) (*Client, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.clients[name]
	return c, ok
}
