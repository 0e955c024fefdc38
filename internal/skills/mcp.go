package skills

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"
)

// MCPServerConfig mirrors one entry of the "mcpServers" config object.
type MCPServerConfig struct {
	Command string            `json:"command,omitempty"`
	Args    []string          `json:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
	URL     string            `json:"url,omitempty"`
	// Transport selects "sse" (default) or "streamable" for URL servers.
	Transport string `json:"transport,omitempty"`
}

// MCPSkill exposes one tool of a connected MCP server as a Skill.
type MCPSkill struct {
	server  string
	tool    *mcp.Tool
	params  map[string]any
	session *mcp.ClientSession
}

func (s *MCPSkill) Name() string               { return s.tool.Name }
func (s *MCPSkill) Description() string        { return s.tool.Description }
func (s *MCPSkill) Parameters() map[string]any { return s.params }

// Server names the MCP server the tool came from.
func (s *MCPSkill) Server() string { return s.server }

func (s *MCPSkill) Execute(ctx context.Context, args map[string]any) (string, error) {
	res, err := s.session.CallTool(ctx, &mcp.CallToolParams{Name: s.tool.Name, Arguments: args})
	if err != nil {
		return "", err
	}
	text := contentText(res.Content)
	if res.IsError {
		if text == "" {
			text = "tool reported an error"
		}
		return "", errors.New(text)
	}
	return text, nil
}

func contentText(content []mcp.Content) string {
	parts := make([]string, 0, len(content))
	for _, c := range content {
		switch v := c.(type) {
		case *mcp.TextContent:
			parts = append(parts, v.Text)
		default:
			if b, err := json.Marshal(v); err == nil {
				parts = append(parts, string(b))
			}
		}
	}
	return strings.Join(parts, "\n")
}

// MCPClient owns the sessions opened by LoadMCP.
type MCPClient struct {
	client   *mcp.Client
	sessions map[string]*mcp.ClientSession
	logger   *zap.Logger
}

func NewMCPClient(version string, logger *zap.Logger) *MCPClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MCPClient{
		client:   mcp.NewClient(&mcp.Implementation{Name: "relay", Version: version}, nil),
		sessions: make(map[string]*mcp.ClientSession),
		logger:   logger,
	}
}

// Connect opens a session to one server and returns its tools as skills.
func (c *MCPClient) Connect(ctx context.Context, name string, transport mcp.Transport) ([]Skill, error) {
	session, err := c.client.Connect(ctx, transport, nil)
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", name, err)
	}
	resp, err := session.ListTools(ctx, nil)
	if err != nil {
		_ = session.Close()
		return nil, fmt.Errorf("list tools for %s: %w", name, err)
	}
	c.sessions[name] = session

	out := make([]Skill, 0, len(resp.Tools))
	for _, tl := range resp.Tools {
		params, err := schemaMap(tl.InputSchema)
		if err != nil {
			c.logger.Warn("skipping mcp tool", zap.String("server", name), zap.String("tool", tl.Name), zap.Error(err))
			continue
		}
		out = append(out, &MCPSkill{server: name, tool: tl, params: params, session: session})
	}
	c.logger.Info("mcp server connected", zap.String("server", name), zap.Int("tools", len(out)))
	return out, nil
}

// Load reads an mcpServers file and connects to every server in it.
// Servers that fail to connect are logged and skipped.
func (c *MCPClient) Load(ctx context.Context, path string) ([]Skill, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg struct {
		Servers map[string]MCPServerConfig `json:"mcpServers"`
	}
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	names := make([]string, 0, len(cfg.Servers))
	for name := range cfg.Servers {
		names = append(names, name)
	}
	sort.Strings(names)

	var out []Skill
	for _, name := range names {
		tp := transportFor(cfg.Servers[name])
		if tp == nil {
			c.logger.Warn("mcp server has neither command nor url", zap.String("server", name))
			continue
		}
		list, err := c.Connect(ctx, name, tp)
		if err != nil {
			c.logger.Warn("mcp server unavailable", zap.String("server", name), zap.Error(err))
			continue
		}
		out = append(out, list...)
	}
	return out, nil
}

func (c *MCPClient) Close() error {
	var errs []error
	for name, s := range c.sessions {
		if err := s.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", name, err))
		}
		delete(c.sessions, name)
	}
	return errors.Join(errs...)
}

func transportFor(sc MCPServerConfig) mcp.Transport {
	switch {
	case sc.Command != "":
		cmd := exec.Command(sc.Command, sc.Args...)
		if len(sc.Env) > 0 {
			cmd.Env = os.Environ()
			for k, v := range sc.Env {
				cmd.Env = append(cmd.Env, k+"="+v)
			}
		}
		return &mcp.CommandTransport{Command: cmd}
	case sc.URL != "" && sc.Transport == "streamable":
		return &mcp.StreamableClientTransport{Endpoint: sc.URL}
	case sc.URL != "":
		return &mcp.SSEClientTransport{Endpoint: sc.URL}
	}
	return nil
}

func schemaMap(schema any) (map[string]any, error) {
	if schema == nil {
		return map[string]any{"type": "object", "properties": map[string]any{}}, nil
	}
	if m, ok := schema.(map[string]any); ok {
		return m, nil
	}
	b, err := json.Marshal(schema)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, err
	}
	return m, nil
}
