// Package mcp implements a Model Context Protocol client over stdio
// transport. Configured servers are spawned as child processes and their
// tools exposed to the model through the mcp_call operation.
package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"milo/internal/config"
	"milo/internal/logging"
)

const (
	protocolVersion = "2024-11-05"
	callTimeout     = 30 * time.Second
	stopTimeout     = 5 * time.Second
)

// ToolSchema is an MCP tool definition advertised by a server.
type ToolSchema struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"inputSchema"`
}

// ContentBlock is one piece of a tool call result.
type ContentBlock struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	Data     string `json:"data,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
}

// ToolCallResult is the server's answer to tools/call.
type ToolCallResult struct {
	Content []ContentBlock `json:"content"`
	IsError bool           `json:"isError,omitempty"`
}

type serverInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

type initializeResult struct {
	ProtocolVersion string     `json:"protocolVersion"`
	ServerInfo      serverInfo `json:"serverInfo"`
}

// Client talks to a single MCP server over newline-delimited JSON-RPC.
type Client struct {
	serverName string
	proc       *process
	ids        idGenerator
	log        logging.Logger

	mu          sync.RWMutex
	pending     map[any]chan *response
	initialized bool
	server      serverInfo
}

// NewClient creates a client for one configured server. Start must be called
// before any tool operation.
func NewClient(serverName string, cfg config.MCPServerConfig) *Client {
	log := logging.NewComponentLogger(fmt.Sprintf("mcp[%s]", serverName))
	return &Client{
		serverName: serverName,
		proc:       newProcess(cfg.Command, cfg.Args, cfg.Env, log),
		log:        log,
		pending:    make(map[any]chan *response),
	}
}

// Start spawns the server process and performs the initialize handshake.
func (c *Client) Start(ctx context.Context) error {
	if err := c.proc.start(ctx); err != nil {
		return fmt.Errorf("start %s: %w", c.serverName, err)
	}
	go c.readLoop()

	result, err := c.call(ctx, "initialize", map[string]any{
		"protocolVersion": protocolVersion,
		"clientInfo":      map[string]any{"name": "milo", "version": "0.1.0"},
	})
	if err != nil {
		_ = c.proc.stop(stopTimeout)
		return fmt.Errorf("initialize %s: %w", c.serverName, err)
	}

	var init initializeResult
	if err := json.Unmarshal(result, &init); err != nil {
		_ = c.proc.stop(stopTimeout)
		return fmt.Errorf("parse initialize result: %w", err)
	}
	if init.ProtocolVersion != protocolVersion {
		c.log.Warn("protocol version mismatch: client=%s server=%s", protocolVersion, init.ProtocolVersion)
	}

	c.mu.Lock()
	c.server = init.ServerInfo
	c.initialized = true
	c.mu.Unlock()

	if err := c.notify("notifications/initialized", nil); err != nil {
		c.log.Warn("initialized notification failed: %v", err)
	}
	c.log.Info("connected to %s v%s", init.ServerInfo.Name, init.ServerInfo.Version)
	return nil
}

// Stop shuts down the server process.
func (c *Client) Stop() error {
	return c.proc.stop(stopTimeout)
}

// ListTools retrieves the server's tool catalog.
func (c *Client) ListTools(ctx context.Context) ([]ToolSchema, error) {
	if !c.ready() {
		return nil, fmt.Errorf("mcp client %s not initialized", c.serverName)
	}
	result, err := c.call(ctx, "tools/list", nil)
	if err != nil {
		return nil, fmt.Errorf("tools/list: %w", err)
	}
	var parsed struct {
		Tools []ToolSchema `json:"tools"`
	}
	if err := json.Unmarshal(result, &parsed); err != nil {
		return nil, fmt.Errorf("parse tools list: %w", err)
	}
	return parsed.Tools, nil
}

// CallTool executes a named tool and returns its text content joined with
// newlines. Server-declared errors surface as Go errors.
func (c *Client) CallTool(ctx context.Context, name string, arguments map[string]any) (string, error) {
	if !c.ready() {
		return "", fmt.Errorf("mcp client %s not initialized", c.serverName)
	}
	result, err := c.call(ctx, "tools/call", map[string]any{
		"name":      name,
		"arguments": arguments,
	})
	if err != nil {
		return "", fmt.Errorf("tools/call %s: %w", name, err)
	}
	var parsed ToolCallResult
	if err := json.Unmarshal(result, &parsed); err != nil {
		return "", fmt.Errorf("parse tool result: %w", err)
	}
	var texts []string
	for _, block := range parsed.Content {
		if block.Type == "text" && block.Text != "" {
			texts = append(texts, block.Text)
		}
	}
	joined := strings.Join(texts, "\n")
	if parsed.IsError {
		return "", fmt.Errorf("tool %s reported an error: %s", name, joined)
	}
	return joined, nil
}

func (c *Client) ready() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.initialized
}

func (c *Client) call(ctx context.Context, method string, params map[string]any) (json.RawMessage, error) {
	id := c.ids.next()
	data, err := json.Marshal(newRequest(id, method, params))
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	data = append(data, '\n')

	ch := make(chan *response, 1)
	c.mu.Lock()
	c.pending[id] = ch
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	if err := c.proc.write(data); err != nil {
		return nil, fmt.Errorf("write request: %w", err)
	}

	select {
	case resp := <-ch:
		if resp.Error != nil {
			return nil, resp.Error
		}
		return resp.Result, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("request cancelled: %w", ctx.Err())
	case <-time.After(callTimeout):
		return nil, fmt.Errorf("%s timed out after %v", method, callTimeout)
	}
}

func (c *Client) notify(method string, params map[string]any) error {
	data, err := json.Marshal(newNotification(method, params))
	if err != nil {
		return err
	}
	return c.proc.write(append(data, '\n'))
}

func (c *Client) readLoop() {
	scanner := bufio.NewScanner(c.proc.stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		resp, err := decodeResponse(scanner.Bytes())
		if err != nil {
			c.log.Error("bad response: %v", err)
			continue
		}
		c.mu.RLock()
		ch, ok := c.pending[resp.ID]
		c.mu.RUnlock()
		if !ok {
			c.log.Warn("no pending call for response id=%v", resp.ID)
			continue
		}
		select {
		case ch <- resp:
		default:
		}
	}
	if err := scanner.Err(); err != nil {
		c.log.Error("read loop: %v", err)
	}
}

// Registry holds one client per configured server and routes mcp_call
// operations as server.tool names.
type Registry struct {
	mu      sync.Mutex
	clients map[string]*Client
	log     logging.Logger
}

// NewRegistry builds clients for every configured server without starting
// them; servers start lazily on first use.
func NewRegistry(servers map[string]config.MCPServerConfig) *Registry {
	r := &Registry{
		clients: make(map[string]*Client, len(servers)),
		log:     logging.NewComponentLogger("mcp"),
	}
	for name, cfg := range servers {
		r.clients[name] = NewClient(name, cfg)
	}
	return r
}

// Call routes a qualified "server.tool" name to the owning client, starting
// the server process on first use.
func (r *Registry) Call(ctx context.Context, qualified string, arguments map[string]any) (string, error) {
	serverName, toolName, ok := strings.Cut(qualified, ".")
	if !ok {
		return "", fmt.Errorf("mcp tool name %q must be server.tool", qualified)
	}
	r.mu.Lock()
	client, exists := r.clients[serverName]
	r.mu.Unlock()
	if !exists {
		return "", fmt.Errorf("unknown mcp server %q", serverName)
	}
	if !client.ready() {
		if err := client.Start(ctx); err != nil {
			return "", err
		}
	}
	return client.CallTool(ctx, toolName, arguments)
}

// Shutdown stops every started server.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for name, client := range r.clients {
		if client.ready() {
			if err := client.Stop(); err != nil {
				r.log.Warn("stop %s: %v", name, err)
			}
		}
	}
}
