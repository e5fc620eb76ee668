package anthropic

import (
	"testing"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nstogner/forge/pkg/domain"
	"github.com/nstogner/forge/pkg/model"
)

func TestBuildMessages(t *testing.T) {
	msgs, err := buildMessages([]model.Message{
		model.TextMessage(domain.RoleSystem, "ignored"),
		model.TextMessage(domain.RoleUser, "hi"),
		{Role: domain.RoleAssistant, Content: []model.Content{
			{Type: model.ContentTypeToolCall, ToolCall: &domain.ToolCall{ID: "c1", Name: "think"}},
		}},
		{Role: domain.RoleTool, Content: []model.Content{
			{Type: model.ContentTypeToolResult, ToolResult: &domain.ToolResult{ToolCallID: "c1", Content: "plan"}},
		}},
	})
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, anthropic.MessageParamRoleUser, msgs[0].Role)
	assert.Equal(t, anthropic.MessageParamRoleAssistant, msgs[1].Role)
	require.NotNil(t, msgs[1].Content[0].OfToolUse)
	assert.Equal(t, "think", msgs[1].Content[0].OfToolUse.Name)
	assert.Equal(t, anthropic.MessageParamRoleUser, msgs[2].Role)
	require.NotNil(t, msgs[2].Content[0].OfToolResult)
	assert.Equal(t, "c1", msgs[2].Content[0].OfToolResult.ToolUseID)
}

func TestBuildMessagesUnknownRole(t *testing.T) {
	_, err := buildMessages([]model.Message{model.TextMessage(domain.Role("narrator"), "x")})
	assert.Error(t, err)
}

func TestBuildTools(t *testing.T) {
	assert.Nil(t, buildTools(nil))

	tools := buildTools([]domain.ToolSpec{{
		Name:        "run_shell",
		Description: "Run a command.",
		Parameters: &domain.Schema{
			Type:       domain.TypeObject,
			Required:   []string{"command"},
			Properties: map[string]*domain.Schema{"command": {Type: domain.TypeString}},
		},
	}})
	require.Len(t, tools, 1)
	require.NotNil(t, tools[0].OfTool)
	assert.Equal(t, "run_shell", tools[0].OfTool.Name)
	assert.Equal(t, []string{"command"}, tools[0].OfTool.InputSchema.Required)
}
