package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"sync"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/aisopod/aisopod/pkg/logger"
)

// MCPServerConfig describes one external MCP server to bridge into the
// tool registry as a set of ordinary Tools.
type MCPServerConfig struct {
	Name    string
	Command string
	Args    []string
	Env     []string
}

// mcpServerConn is one connected MCP server session, kept around so
// CallTool can be re-dispatched against it after discovery.
type mcpServerConn struct {
	name    string
	session *mcp.ClientSession
}

// MCPManager owns the set of connected MCP server sessions the subagent
// and tool layers can bridge tools from. One manager per process;
// sessions are connected once at startup and torn down at shutdown.
type MCPManager struct {
	mu      sync.RWMutex
	conns   map[string]*mcpServerConn
	impl    *mcp.Implementation
}

// NewMCPManager creates an empty manager identifying itself to MCP
// servers with the given client name/version.
func NewMCPManager(clientName, clientVersion string) *MCPManager {
	return &MCPManager{
		conns: make(map[string]*mcpServerConn),
		impl:  &mcp.Implementation{Name: clientName, Version: clientVersion},
	}
}

// Connect launches (or attaches to) the configured MCP server over stdio
// and keeps the session open for later ListTools/CallTool calls.
func (m *MCPManager) Connect(ctx context.Context, cfg MCPServerConfig) error {
	cmd := exec.Command(cfg.Command, cfg.Args...)
	if len(cfg.Env) > 0 {
		cmd.Env = cfg.Env
	}

	client := mcp.NewClient(m.impl, nil)
	session, err := client.Connect(ctx, &mcp.CommandTransport{Command: cmd}, nil)
	if err != nil {
		return fmt.Errorf("mcp: connect to %q: %w", cfg.Name, err)
	}

	m.mu.Lock()
	m.conns[cfg.Name] = &mcpServerConn{name: cfg.Name, session: session}
	m.mu.Unlock()

	logger.InfoCF("mcp", "connected to MCP server", map[string]any{"server": cfg.Name})
	return nil
}

// Close shuts down every connected session. Errors are logged, not
// propagated, since this only runs during process teardown.
func (m *MCPManager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for name, c := range m.conns {
		if err := c.session.Close(); err != nil {
			logger.WarnCF("mcp", "error closing MCP session", map[string]any{"server": name, "error": err.Error()})
		}
	}
	m.conns = make(map[string]*mcpServerConn)
}

// discoveredTool pairs a remote MCP tool definition with the server it
// came from.
type discoveredTool struct {
	server      string
	name        string
	description string
	inputSchema map[string]any
}

// discover lists every tool exposed by every connected server.
func (m *MCPManager) discover(ctx context.Context) ([]discoveredTool, error) {
	m.mu.RLock()
	conns := make([]*mcpServerConn, 0, len(m.conns))
	for _, c := range m.conns {
		conns = append(conns, c)
	}
	m.mu.RUnlock()

	var out []discoveredTool
	for _, c := range conns {
		res, err := c.session.ListTools(ctx, nil)
		if err != nil {
			logger.WarnCF("mcp", "list tools failed", map[string]any{"server": c.name, "error": err.Error()})
			continue
		}
		for _, t := range res.Tools {
			var schema map[string]any
			if t.InputSchema != nil {
				if raw, err := json.Marshal(t.InputSchema); err == nil {
					_ = json.Unmarshal(raw, &schema)
				}
			}
			out = append(out, discoveredTool{
				server:      c.name,
				name:        t.Name,
				description: t.Description,
				inputSchema: schema,
			})
		}
	}
	return out, nil
}

// callTool invokes one remote tool and flattens its content blocks into a
// single string for the calling ToolResult.
func (m *MCPManager) callTool(ctx context.Context, server, name string, args map[string]any) (string, bool, error) {
	m.mu.RLock()
	conn, ok := m.conns[server]
	m.mu.RUnlock()
	if !ok {
		return "", true, fmt.Errorf("mcp: server %q not connected", server)
	}

	res, err := conn.session.CallTool(ctx, &mcp.CallToolParams{Name: name, Arguments: args})
	if err != nil {
		return "", true, err
	}

	var sb []byte
	for _, block := range res.Content {
		if tc, ok := block.(*mcp.TextContent); ok {
			if len(sb) > 0 {
				sb = append(sb, '\n')
			}
			sb = append(sb, []byte(tc.Text)...)
		}
	}
	return string(sb), res.IsError, nil
}

// MCPBridgeTool adapts a single remote MCP tool into the local Tool
// contract so it flows through the same registry, dispatch, and
// provider-schema rendering as every built-in tool.
type MCPBridgeTool struct {
	manager     *MCPManager
	server      string
	toolName    string
	description string
	schema      map[string]any
}

func (t *MCPBridgeTool) Name() string {
	return fmt.Sprintf("mcp_%s_%s", t.server, t.toolName)
}

func (t *MCPBridgeTool) Description() string {
	return fmt.Sprintf("[MCP:%s] %s", t.server, t.description)
}

func (t *MCPBridgeTool) Parameters() map[string]any {
	if t.schema != nil {
		return t.schema
	}
	return map[string]any{"type": "object", "properties": map[string]any{}}
}

func (t *MCPBridgeTool) Execute(ctx context.Context, args map[string]any) *ToolResult {
	content, isError, err := t.manager.callTool(ctx, t.server, t.toolName, args)
	if err != nil {
		return ErrorResult(fmt.Sprintf("mcp tool %s/%s error: %v", t.server, t.toolName, err))
	}
	if isError {
		return ErrorResult(content)
	}
	return SilentResult(content)
}

// RegisterMCPTools discovers every tool exposed by the manager's
// connected servers and installs a bridge tool for each into registry.
// Returns the number of tools registered.
func RegisterMCPTools(ctx context.Context, manager *MCPManager, registry *ToolRegistry) int {
	discovered, err := manager.discover(ctx)
	if err != nil {
		logger.WarnCF("mcp", "tool discovery failed", map[string]any{"error": err.Error()})
		return 0
	}
	for _, d := range discovered {
		registry.Register(&MCPBridgeTool{
			manager:     manager,
			server:      d.server,
			toolName:    d.name,
			description: d.description,
			schema:      d.inputSchema,
		})
	}
	return len(discovered)
}
