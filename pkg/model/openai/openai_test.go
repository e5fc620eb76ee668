package openai

import (
	"testing"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nstogner/forge/pkg/domain"
	"github.com/nstogner/forge/pkg/model"
)

func intPtr(i int) *int { return &i }

func TestCallBuilderJoinsFragments(t *testing.T) {
	b := newCallBuilder()
	b.add(openai.ToolCall{Index: intPtr(0), ID: "call_1", Function: openai.FunctionCall{Name: "think", Arguments: `{"mess`}})
	b.add(openai.ToolCall{Index: intPtr(1), ID: "call_2", Function: openai.FunctionCall{Name: "run_shell", Arguments: `{}`}})
	b.add(openai.ToolCall{Index: intPtr(0), Function: openai.FunctionCall{Arguments: `age":"plan"}`}})

	calls, err := b.build()
	require.NoError(t, err)
	require.Len(t, calls, 2)
	assert.Equal(t, domain.ToolCall{ID: "call_1", Name: "think", Input: map[string]any{"message": "plan"}}, calls[0])
	assert.Equal(t, "run_shell", calls[1].Name)
	assert.Empty(t, calls[1].Input)
}

func TestCallBuilderBadJSON(t *testing.T) {
	b := newCallBuilder()
	b.add(openai.ToolCall{Index: intPtr(0), ID: "x", Function: openai.FunctionCall{Name: "think", Arguments: `{`}})
	_, err := b.build()
	assert.Error(t, err)
}

func TestBuildMessages(t *testing.T) {
	msgs := buildMessages("sys", []model.Message{
		model.TextMessage(domain.RoleUser, "hi"),
		{Role: domain.RoleAssistant, Content: []model.Content{
			{Type: model.ContentTypeText, Text: "let me think"},
			{Type: model.ContentTypeToolCall, ToolCall: &domain.ToolCall{ID: "c1", Name: "think", Input: map[string]any{"message": "x"}}},
		}},
		{Role: domain.RoleTool, Content: []model.Content{
			{Type: model.ContentTypeToolResult, ToolResult: &domain.ToolResult{ToolCallID: "c1", Name: "think", Content: "done"}},
		}},
	})

	require.Len(t, msgs, 4)
	assert.Equal(t, openai.ChatMessageRoleSystem, msgs[0].Role)
	assert.Equal(t, "hi", msgs[1].Content)
	require.Len(t, msgs[2].ToolCalls, 1)
	assert.JSONEq(t, `{"message":"x"}`, msgs[2].ToolCalls[0].Function.Arguments)
	assert.Equal(t, openai.ChatMessageRoleTool, msgs[3].Role)
	assert.Equal(t, "c1", msgs[3].ToolCallID)
}
