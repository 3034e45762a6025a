// Package mcp bridges out-of-process MCP tool servers into the tool
// registry. Tools are addressed as "server/tool"; bare names are
// resolved by scanning connected servers.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	mcpclient "github.com/mark3labs/mcp-go/client"
	mcpgo "github.com/mark3labs/mcp-go/mcp"

	"github.com/nextlevelbuilder/sovereignclaw/internal/core"
	"github.com/nextlevelbuilder/sovereignclaw/internal/providers"
	"github.com/nextlevelbuilder/sovereignclaw/internal/tools"
)

// ServerConfig describes one MCP server connection.
type ServerConfig struct {
	Name       string            `json:"name"`
	Transport  string            `json:"transport"` // "stdio", "sse", "streamable-http"
	Command    string            `json:"command,omitempty"`
	Args       []string          `json:"args,omitempty"`
	Env        map[string]string `json:"env,omitempty"`
	URL        string            `json:"url,omitempty"`
	TimeoutSec int               `json:"timeout_sec,omitempty"`
	// Capabilities advertised for server selection scoring.
	Capabilities []string `json:"capabilities,omitempty"`
	Description  string   `json:"description,omitempty"`
}

type remoteTool struct {
	server      string
	name        string // original name on the server
	description string
	schema      map[string]interface{}
}

type serverState struct {
	cfg       ServerConfig
	client    *mcpclient.Client
	connected bool
	tools     []remoteTool
}

// Registry implements tools.Registry over connected MCP servers.
type Registry struct {
	mu      sync.RWMutex
	servers map[string]*serverState
	order   []string
}

func NewRegistry() *Registry {
	return &Registry{servers: make(map[string]*serverState)}
}

// Connect starts a client for the server, performs the MCP handshake,
// and discovers its tools.
func (r *Registry) Connect(ctx context.Context, cfg ServerConfig) error {
	client, err := createClient(cfg)
	if err != nil {
		return core.McpAdapter("create client for %s: %v", cfg.Name, err)
	}

	if cfg.Transport != "stdio" {
		if err := client.Start(ctx); err != nil {
			_ = client.Close()
			return core.McpAdapter("start transport for %s: %v", cfg.Name, err)
		}
	}

	initReq := mcpgo.InitializeRequest{}
	initReq.Params.ProtocolVersion = mcpgo.LATEST_PROTOCOL_VERSION
	initReq.Params.ClientInfo = mcpgo.Implementation{Name: "sovereignclaw", Version: "1.0.0"}
	if _, err := client.Initialize(ctx, initReq); err != nil {
		_ = client.Close()
		return core.McpAdapter("initialize %s: %v", cfg.Name, err)
	}

	listResult, err := client.ListTools(ctx, mcpgo.ListToolsRequest{})
	if err != nil {
		_ = client.Close()
		return core.McpAdapter("list tools on %s: %v", cfg.Name, err)
	}

	state := &serverState{cfg: cfg, client: client, connected: true}
	for _, t := range listResult.Tools {
		var schema map[string]interface{}
		if raw, err := json.Marshal(t.InputSchema); err == nil {
			_ = json.Unmarshal(raw, &schema)
		}
		state.tools = append(state.tools, remoteTool{
			server:      cfg.Name,
			name:        t.Name,
			description: t.Description,
			schema:      schema,
		})
	}

	r.mu.Lock()
	if _, exists := r.servers[cfg.Name]; !exists {
		r.order = append(r.order, cfg.Name)
	}
	r.servers[cfg.Name] = state
	r.mu.Unlock()

	slog.Info("mcp server connected", "server", cfg.Name, "transport", cfg.Transport, "tools", len(state.tools))
	return nil
}

// Disconnect closes a server and removes its tools.
func (r *Registry) Disconnect(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	state, ok := r.servers[name]
	if !ok {
		return
	}
	if state.client != nil {
		_ = state.client.Close()
	}
	delete(r.servers, name)
	kept := r.order[:0]
	for _, n := range r.order {
		if n != name {
			kept = append(kept, n)
		}
	}
	r.order = kept
}

// Close disconnects every server.
func (r *Registry) Close() {
	r.mu.Lock()
	names := make([]string, len(r.order))
	copy(names, r.order)
	r.mu.Unlock()
	for _, name := range names {
		r.Disconnect(name)
	}
}

// resolve maps a registry-facing name to (server, original tool name).
// "server/tool" addresses directly; bare names scan connected servers
// in connection order.
func (r *Registry) resolve(name string) (*serverState, string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if server, tool, ok := strings.Cut(name, "/"); ok {
		if state, exists := r.servers[server]; exists && state.connected {
			for _, t := range state.tools {
				if t.name == tool {
					return state, tool, true
				}
			}
		}
		return nil, "", false
	}

	for _, serverName := range r.order {
		state := r.servers[serverName]
		if state == nil || !state.connected {
			continue
		}
		for _, t := range state.tools {
			if t.name == name {
				return state, name, true
			}
		}
	}
	return nil, "", false
}

func (r *Registry) Owns(name string) bool {
	_, _, ok := r.resolve(name)
	return ok
}

func (r *Registry) Execute(ctx context.Context, name string, args map[string]interface{}) (*tools.Output, error) {
	state, toolName, ok := r.resolve(name)
	if !ok {
		return nil, &core.ToolNotFoundError{Name: name}
	}

	timeout := time.Duration(state.cfg.TimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req := mcpgo.CallToolRequest{}
	req.Params.Name = toolName
	req.Params.Arguments = args

	result, err := state.client.CallTool(callCtx, req)
	if err != nil {
		return nil, core.McpAdapter("call %s on %s: %v", toolName, state.cfg.Name, err)
	}

	var b strings.Builder
	for _, content := range result.Content {
		if text, ok := mcpgo.AsTextContent(content); ok {
			b.WriteString(text.Text)
		}
	}
	if result.IsError {
		return tools.Fail(b.String()), nil
	}
	return tools.Ok(b.String()), nil
}

// List returns every remote tool as "server/tool".
func (r *Registry) List() []providers.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var defs []providers.ToolDefinition
	for _, serverName := range r.order {
		state := r.servers[serverName]
		if state == nil || !state.connected {
			continue
		}
		for _, t := range state.tools {
			defs = append(defs, providers.ToolDefinition{
				Name:        fmt.Sprintf("%s/%s", t.server, t.name),
				Description: t.description,
				Parameters:  t.schema,
			})
		}
	}
	return defs
}

func (r *Registry) Definition(name string) (providers.ToolDefinition, bool) {
	state, toolName, ok := r.resolve(name)
	if !ok {
		return providers.ToolDefinition{}, false
	}
	for _, t := range state.tools {
		if t.name == toolName {
			return providers.ToolDefinition{
				Name:        fmt.Sprintf("%s/%s", t.server, t.name),
				Description: t.description,
				Parameters:  t.schema,
			}, true
		}
	}
	return providers.ToolDefinition{}, false
}

// Servers lists connected server names.
func (r *Registry) Servers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

func createClient(cfg ServerConfig) (*mcpclient.Client, error) {
	switch cfg.Transport {
	case "stdio", "":
		env := make([]string, 0, len(cfg.Env))
		for k, v := range cfg.Env {
			env = append(env, k+"="+v)
		}
		return mcpclient.NewStdioMCPClient(cfg.Command, env, cfg.Args...)
	case "sse":
		return mcpclient.NewSSEMCPClient(cfg.URL)
	case "streamable-http":
		return mcpclient.NewStreamableHttpClient(cfg.URL)
	default:
		return nil, fmt.Errorf("unknown MCP transport: %s", cfg.Transport)
	}
}
