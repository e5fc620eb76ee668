// Package mcp exposes the tools of external MCP servers as tool declarations.
package mcp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/nstogner/forge/pkg/domain"
	"github.com/nstogner/forge/pkg/tool"
)

// Separator joins the server name and the tool name. Provider tool names
// only allow [a-zA-Z0-9_-].
const Separator = "__"

// ServerConfig describes a stdio MCP server.
type ServerConfig struct {
	Name    string            `toml:"name"`
	Command string            `toml:"command"`
	Args    []string          `toml:"args"`
	Env     map[string]string `toml:"env"`
}

// session is the part of an MCP client the toolset uses.
type session interface {
	ListTools(ctx context.Context, req mcp.ListToolsRequest) (*mcp.ListToolsResult, error)
	CallTool(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error)
	Close() error
}

// Toolset holds connections to MCP servers and the tools they offer.
type Toolset struct {
	sessions map[string]session
	decls    []tool.Declaration
}

// Connect starts every configured server, performs the MCP handshake and
// lists its tools. A server that fails to start is logged and skipped.
func Connect(ctx context.Context, servers []ServerConfig) (*Toolset, error) {
	ts := &Toolset{sessions: make(map[string]session)}
	for _, cfg := range servers {
		if cfg.Name == "" || cfg.Command == "" {
			return nil, fmt.Errorf("mcp server needs a name and a command: %+v", cfg)
		}
		if strings.Contains(cfg.Name, Separator) {
			return nil, fmt.Errorf("mcp server name %q must not contain %q", cfg.Name, Separator)
		}

		c, err := start(ctx, cfg)
		if err != nil {
			slog.Error("Failed to start MCP server", "server", cfg.Name, "error", err)
			continue
		}
		if err := ts.add(ctx, cfg.Name, c); err != nil {
			c.Close()
			slog.Error("Failed to list MCP tools", "server", cfg.Name, "error", err)
			continue
		}
	}
	return ts, nil
}

func start(ctx context.Context, cfg ServerConfig) (*client.Client, error) {
	env := os.Environ()
	keys := make([]string, 0, len(cfg.Env))
	for k := range cfg.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		env = append(env, k+"="+cfg.Env[k])
	}

	c, err := client.NewStdioMCPClient(cfg.Command, env, cfg.Args...)
	if err != nil {
		return nil, fmt.Errorf("starting %s: %w", cfg.Command, err)
	}

	_, err = c.Initialize(ctx, mcp.InitializeRequest{
		Params: mcp.InitializeParams{
			ProtocolVersion: mcp.LATEST_PROTOCOL_VERSION,
			ClientInfo:      mcp.Implementation{Name: "forge", Version: "0.1.0"},
		},
	})
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("initializing: %w", err)
	}
	return c, nil
}

func (ts *Toolset) add(ctx context.Context, server string, s session) error {
	res, err := s.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		return err
	}
	ts.sessions[server] = s
	for _, t := range res.Tools {
		ts.decls = append(ts.decls, declaration(server, s, t))
	}
	slog.Info("Connected MCP server", "server", server, "tools", len(res.Tools))
	return nil
}

func declaration(server string, s session, t mcp.Tool) tool.Declaration {
	remote := t.Name
	return tool.Declaration{
		Name:        server + Separator + remote,
		Description: t.Description,
		Parameters:  inputSchema(t.InputSchema),
		Execute: func(ctx context.Context, args tool.Args) (string, error) {
			res, err := s.CallTool(ctx, mcp.CallToolRequest{
				Params: mcp.CallToolParams{Name: remote, Arguments: map[string]any(args)},
			})
			if err != nil {
				return "", fmt.Errorf("calling %s on %s: %w", remote, server, err)
			}
			text := resultText(res)
			if res.IsError {
				return "", fmt.Errorf("%s on %s failed: %s", remote, server, text)
			}
			return text, nil
		},
	}
}

// Declarations returns the tools of all connected servers.
func (ts *Toolset) Declarations() []tool.Declaration {
	return append([]tool.Declaration(nil), ts.decls...)
}

// Close shuts down every server connection.
func (ts *Toolset) Close() error {
	var errs []error
	for name, s := range ts.sessions {
		if err := s.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing %s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

func resultText(res *mcp.CallToolResult) string {
	var parts []string
	for _, c := range res.Content {
		switch tc := c.(type) {
		case mcp.TextContent:
			parts = append(parts, tc.Text)
		case *mcp.TextContent:
			parts = append(parts, tc.Text)
		}
	}
	return strings.Join(parts, "\n")
}

func inputSchema(in mcp.ToolInputSchema) *domain.Schema {
	s := &domain.Schema{Type: domain.TypeObject, Required: in.Required}
	if len(in.Properties) > 0 {
		s.Properties = make(map[string]*domain.Schema, len(in.Properties))
		for name, p := range in.Properties {
			s.Properties[name] = schemaFromAny(p)
		}
	}
	return s
}

func schemaFromAny(v any) *domain.Schema {
	m, ok := v.(map[string]any)
	if !ok {
		return &domain.Schema{}
	}
	s := &domain.Schema{}
	switch t := m["type"].(type) {
	case string:
		s.Type = t
	case []any:
		// Nullable types come as ["string", "null"].
		for _, x := range t {
			if str, ok := x.(string); ok && str != "null" {
				s.Type = str
				break
			}
		}
	}
	s.Description, _ = m["description"].(string)
	s.Required = stringList(m["required"])
	s.Enum = stringList(m["enum"])
	if n, ok := m["minLength"].(float64); ok {
		s.MinLength = int(n)
	}
	if items, ok := m["items"]; ok {
		s.Items = schemaFromAny(items)
	}
	if props, ok := m["properties"].(map[string]any); ok {
		s.Properties = make(map[string]*domain.Schema, len(props))
		for name, p := range props {
			s.Properties[name] = schemaFromAny(p)
		}
	}
	return s
}

func stringList(v any) []string {
	switch l := v.(type) {
	case []string:
		return l
	case []any:
		out := make([]string, 0, len(l))
		for _, x := range l {
			if s, ok := x.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
