package sandbox_test

import (
	"context"
	"testing"

	"github.com/nstogner/forge/pkg/domain"
	"github.com/nstogner/forge/pkg/sandbox"
	"github.com/nstogner/forge/pkg/sandbox/sandboxtest"
	"github.com/nstogner/forge/pkg/tool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTools(t *testing.T) {
	mgr := sandboxtest.New()
	mgr.Create(context.Background(), "p1")
	mgr.ExecFunc = func(projectID, command string) (*sandbox.Result, error) {
		if command == "php artisan missing" {
			return &sandbox.Result{Output: "Command not defined", ExitCode: 1}, nil
		}
		return &sandbox.Result{Output: "out:" + command}, nil
	}

	reg, err := tool.NewRegistry(sandbox.Tools(mgr, "p1")...)
	require.NoError(t, err)

	out, err := reg.Invoke(context.Background(), domain.ToolCall{Name: sandbox.ToolNameRunShell, Input: map[string]any{"command": "ls"}})
	require.NoError(t, err)
	assert.Equal(t, "out:ls", out)

	out, err = reg.Invoke(context.Background(), domain.ToolCall{Name: sandbox.ToolNameRunShell, Input: map[string]any{"command": "php artisan missing"}})
	require.NoError(t, err)
	assert.Equal(t, "Command not defined\n(exit code 1)", out)

	out, err = reg.Invoke(context.Background(), domain.ToolCall{Name: sandbox.ToolNameProjectStructure, Input: map[string]any{}})
	require.NoError(t, err)
	assert.Contains(t, out, "tree -L 3")

	_, err = reg.Invoke(context.Background(), domain.ToolCall{Name: sandbox.ToolNameRunShell, Input: map[string]any{"command": ""}})
	assert.True(t, tool.IsValidation(err))
	assert.Len(t, mgr.Commands("p1"), 3)
}

func TestToolsWithoutSandbox(t *testing.T) {
	reg, err := tool.NewRegistry(sandbox.Tools(sandboxtest.New(), "nope")...)
	require.NoError(t, err)

	_, err = reg.Invoke(context.Background(), domain.ToolCall{Name: sandbox.ToolNameRunShell, Input: map[string]any{"command": "ls"}})
	assert.ErrorIs(t, err, sandbox.ErrNotRunning)
}
