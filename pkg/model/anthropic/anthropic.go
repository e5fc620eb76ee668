package anthropic

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/nstogner/forge/pkg/domain"
	"github.com/nstogner/forge/pkg/model"
)

// DefaultMaxTokens is used when a request does not set one; the Messages API
// requires it.
const DefaultMaxTokens = 4096

// Provider implements model.Provider using the Anthropic Messages API.
type Provider struct {
	client anthropic.Client
}

var _ model.Provider = (*Provider)(nil)

// New creates a new Anthropic provider. baseURL may be empty.
func New(apiKey, baseURL string) (*Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("anthropic API key is required")
	}
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &Provider{client: anthropic.NewClient(opts...)}, nil
}

// Name returns the provider identifier.
func (p *Provider) Name() string { return "anthropic" }

// List returns a curated list of Claude models.
func (p *Provider) List(ctx context.Context) ([]domain.Model, error) {
	models := []anthropic.Model{
		anthropic.Model("claude-haiku-4-5"),
		anthropic.ModelClaudeSonnet4_5_20250929,
		anthropic.ModelClaude3_5Haiku20241022,
		anthropic.ModelClaude_3_Opus_20240229,
	}
	out := make([]domain.Model, 0, len(models))
	for _, m := range models {
		out = append(out, domain.Model{ID: string(m), Name: string(m), Provider: "anthropic"})
	}
	return out, nil
}

// Stream sends a conversation context to Claude and returns a stream.
func (p *Provider) Stream(ctx context.Context, req model.Request) (model.ModelStream, error) {
	slog.Debug("Anthropic.Stream", "model", req.Model, "messageCount", len(req.Messages), "tools", len(req.Tools))

	messages, err := buildMessages(req.Messages)
	if err != nil {
		return nil, err
	}

	maxTokens := int64(req.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Model),
		MaxTokens: maxTokens,
		Messages:  messages,
		Tools:     buildTools(req.Tools),
	}
	if req.Instructions != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.Instructions}}
	}

	return model.NewStream(ctx, func(ctx context.Context, emit model.Emit) error {
		stream := p.client.Messages.NewStreaming(ctx, params)
		defer stream.Close()

		msg := anthropic.Message{}
		for stream.Next() {
			event := stream.Current()
			if err := msg.Accumulate(event); err != nil {
				return fmt.Errorf("accumulating message: %w", err)
			}

			if delta, ok := event.AsAny().(anthropic.ContentBlockDeltaEvent); ok {
				if text, ok := delta.Delta.AsAny().(anthropic.TextDelta); ok && text.Text != "" {
					if !emit(model.Event{Type: model.EventTextDelta, Text: text.Text}) {
						return ctx.Err()
					}
				}
			}
		}
		if err := stream.Err(); err != nil {
			return fmt.Errorf("anthropic streaming error: %w", err)
		}

		// Tool input arrives as partial JSON; only the accumulated block is usable.
		for _, block := range msg.Content {
			toolUse, ok := block.AsAny().(anthropic.ToolUseBlock)
			if !ok {
				continue
			}
			input := map[string]any{}
			if len(toolUse.Input) > 0 {
				if err := json.Unmarshal(toolUse.Input, &input); err != nil {
					return fmt.Errorf("decoding input of tool %q: %w", toolUse.Name, err)
				}
			}
			if !emit(model.Event{
				Type:     model.EventToolCall,
				ToolCall: &domain.ToolCall{ID: toolUse.ID, Name: toolUse.Name, Input: input},
			}) {
				return ctx.Err()
			}
		}
		return nil
	}), nil
}

func buildMessages(messages []model.Message) ([]anthropic.MessageParam, error) {
	out := make([]anthropic.MessageParam, 0, len(messages))
	for _, msg := range messages {
		if msg.Role == domain.RoleSystem {
			continue
		}

		var blocks []anthropic.ContentBlockParamUnion
		for _, c := range msg.Content {
			switch c.Type {
			case model.ContentTypeText:
				if c.Text != "" {
					blocks = append(blocks, anthropic.NewTextBlock(c.Text))
				}
			case model.ContentTypeToolCall:
				if c.ToolCall != nil {
					input := c.ToolCall.Input
					if input == nil {
						input = map[string]any{}
					}
					blocks = append(blocks, anthropic.NewToolUseBlock(c.ToolCall.ID, input, c.ToolCall.Name))
				}
			case model.ContentTypeToolResult:
				if r := c.ToolResult; r != nil {
					blocks = append(blocks, anthropic.NewToolResultBlock(r.ToolCallID, r.Content, r.IsError))
				}
			}
		}
		if len(blocks) == 0 {
			continue
		}

		switch msg.Role {
		case domain.RoleAssistant:
			out = append(out, anthropic.NewAssistantMessage(blocks...))
		case domain.RoleUser, domain.RoleTool:
			// Tool results are sent back as user turns.
			out = append(out, anthropic.NewUserMessage(blocks...))
		default:
			return nil, fmt.Errorf("unsupported role %q", msg.Role)
		}
	}
	return out, nil
}

func buildTools(specs []domain.ToolSpec) []anthropic.ToolUnionParam {
	if len(specs) == 0 {
		return nil
	}
	tools := make([]anthropic.ToolUnionParam, 0, len(specs))
	for _, s := range specs {
		schema := anthropic.ToolInputSchemaParam{}
		if s.Parameters != nil {
			m := s.Parameters.Map()
			schema.Properties = m["properties"]
			schema.Required = s.Parameters.Required
		}
		tool := anthropic.ToolUnionParamOfTool(schema, s.Name)
		if tool.OfTool != nil {
			tool.OfTool.Description = anthropic.String(s.Description)
		}
		tools = append(tools, tool)
	}
	return tools
}
