package mcp

import (
	"context"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nstogner/forge/pkg/domain"
	"github.com/nstogner/forge/pkg/tool"
)

type fakeSession struct {
	tools  []mcp.Tool
	result *mcp.CallToolResult
	got    mcp.CallToolRequest
	closed bool
}

func (f *fakeSession) ListTools(ctx context.Context, req mcp.ListToolsRequest) (*mcp.ListToolsResult, error) {
	return &mcp.ListToolsResult{Tools: f.tools}, nil
}

func (f *fakeSession) CallTool(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	f.got = req
	return f.result, nil
}

func (f *fakeSession) Close() error {
	f.closed = true
	return nil
}

func searchTool() mcp.Tool {
	return mcp.Tool{
		Name:        "search",
		Description: "Search the docs.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]any{
				"query": map[string]any{"type": "string", "minLength": float64(1)},
				"limit": map[string]any{"type": []any{"integer", "null"}},
			},
			Required: []string{"query"},
		},
	}
}

func TestToolsetDeclarations(t *testing.T) {
	fake := &fakeSession{
		tools: []mcp.Tool{searchTool()},
		result: &mcp.CallToolResult{Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: "first"},
			mcp.TextContent{Type: "text", Text: "second"},
		}},
	}
	ts := &Toolset{sessions: map[string]session{}}
	require.NoError(t, ts.add(context.Background(), "laravel", fake))

	decls := ts.Declarations()
	require.Len(t, decls, 1)
	d := decls[0]
	assert.Equal(t, "laravel__search", d.Name)
	assert.Equal(t, []string{"query"}, d.Parameters.Required)
	assert.Equal(t, domain.TypeString, d.Parameters.Properties["query"].Type)
	assert.Equal(t, 1, d.Parameters.Properties["query"].MinLength)
	assert.Equal(t, domain.TypeInteger, d.Parameters.Properties["limit"].Type)

	reg, err := tool.NewRegistry(decls...)
	require.NoError(t, err)
	out, err := reg.Invoke(context.Background(), domain.ToolCall{
		Name:  "laravel__search",
		Input: map[string]any{"query": "routing"},
	})
	require.NoError(t, err)
	assert.Equal(t, "first\nsecond", out)
	assert.Equal(t, "search", fake.got.Params.Name)
	assert.Equal(t, map[string]any{"query": "routing"}, fake.got.Params.Arguments)

	require.NoError(t, ts.Close())
	assert.True(t, fake.closed)
}

func TestToolsetErrorResult(t *testing.T) {
	fake := &fakeSession{
		tools: []mcp.Tool{searchTool()},
		result: &mcp.CallToolResult{
			IsError: true,
			Content: []mcp.Content{mcp.TextContent{Type: "text", Text: "index missing"}},
		},
	}
	ts := &Toolset{sessions: map[string]session{}}
	require.NoError(t, ts.add(context.Background(), "docs", fake))

	_, err := ts.Declarations()[0].Execute(context.Background(), tool.Args{"query": "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "index missing")
}

func TestConnectRejectsBadConfig(t *testing.T) {
	_, err := Connect(context.Background(), []ServerConfig{{Name: "a__b", Command: "x"}})
	assert.Error(t, err)

	_, err = Connect(context.Background(), []ServerConfig{{Name: "docs"}})
	assert.Error(t, err)
}
