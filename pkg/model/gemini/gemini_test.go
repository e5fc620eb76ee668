package gemini

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"

	"github.com/nstogner/forge/pkg/domain"
	"github.com/nstogner/forge/pkg/model"
)

func TestBuildContents(t *testing.T) {
	contents := buildContents([]model.Message{
		model.TextMessage(domain.RoleSystem, "ignored"),
		model.TextMessage(domain.RoleUser, "make a blog"),
		{Role: domain.RoleAssistant, Content: []model.Content{
			{Type: model.ContentTypeToolCall, ToolCall: &domain.ToolCall{ID: "c1", Name: "run_shell", Input: map[string]any{"command": "ls"}, Signature: []byte("sig")}},
		}},
		{Role: domain.RoleTool, Content: []model.Content{
			{Type: model.ContentTypeToolResult, ToolResult: &domain.ToolResult{ToolCallID: "c1", Name: "run_shell", Content: "boom", IsError: true}},
		}},
		model.TextMessage(domain.RoleUser, ""),
	})

	require.Len(t, contents, 3)
	assert.Equal(t, genai.RoleUser, contents[0].Role)
	assert.Equal(t, "make a blog", contents[0].Parts[0].Text)

	assert.Equal(t, genai.RoleModel, contents[1].Role)
	fc := contents[1].Parts[0].FunctionCall
	require.NotNil(t, fc)
	assert.Equal(t, "run_shell", fc.Name)
	assert.Equal(t, []byte("sig"), contents[1].Parts[0].ThoughtSignature)

	assert.Equal(t, genai.RoleUser, contents[2].Role)
	fr := contents[2].Parts[0].FunctionResponse
	require.NotNil(t, fr)
	assert.Equal(t, map[string]any{"error": "boom"}, fr.Response)
}

func TestConvertSchema(t *testing.T) {
	s := convertSchema(&domain.Schema{
		Type:     domain.TypeObject,
		Required: []string{"message"},
		Properties: map[string]*domain.Schema{
			"message": {Type: domain.TypeString, MinLength: 1},
			"tags":    {Type: domain.TypeArray, Items: &domain.Schema{Type: domain.TypeString}},
		},
	})

	assert.Equal(t, genai.TypeObject, s.Type)
	assert.Equal(t, []string{"message"}, s.Required)
	require.NotNil(t, s.Properties["message"].MinLength)
	assert.Equal(t, int64(1), *s.Properties["message"].MinLength)
	assert.Equal(t, genai.TypeString, s.Properties["tags"].Items.Type)
	assert.Nil(t, convertSchema(nil))
}

func TestEmitPart(t *testing.T) {
	var events []model.Event
	emit := func(e model.Event) bool {
		events = append(events, e)
		return true
	}

	emitPart(&genai.Part{Text: "hidden reasoning", Thought: true}, emit)
	emitPart(&genai.Part{Text: "visible"}, emit)
	emitPart(&genai.Part{FunctionCall: &genai.FunctionCall{Name: "think", Args: map[string]any{"message": "x"}}}, emit)

	require.Len(t, events, 2)
	assert.Equal(t, "visible", events[0].Text)
	require.NotNil(t, events[1].ToolCall)
	assert.Equal(t, "think", events[1].ToolCall.Name)
	assert.True(t, strings.HasPrefix(events[1].ToolCall.ID, "call-"))
}

func TestRedact(t *testing.T) {
	dump := "POST /v1beta HTTP/1.1\r\nX-Goog-Api-Key: secret\r\nContent-Type: application/json\r\n"
	out := redact(dump)
	assert.NotContains(t, out, "secret")
	assert.Contains(t, out, "Content-Type: application/json")
}

func TestIntegrationStream(t *testing.T) {
	apiKey := os.Getenv("GEMINI_API_KEY")
	if apiKey == "" {
		t.Skip("GEMINI_API_KEY not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	p, err := New(ctx, apiKey)
	require.NoError(t, err)

	stream, err := p.Stream(ctx, model.Request{
		Model:    "gemini-2.5-flash",
		Messages: []model.Message{model.TextMessage(domain.RoleUser, "Reply with the single word: ready")},
	})
	require.NoError(t, err)
	defer stream.Close()

	msg, err := stream.FullMessage()
	require.NoError(t, err)
	assert.Contains(t, strings.ToLower(msg.Text()), "ready")
}
