package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"

	"github.com/google/uuid"
	openai "github.com/sashabaranov/go-openai"

	"github.com/nstogner/forge/pkg/domain"
	"github.com/nstogner/forge/pkg/model"
)

// Provider implements model.Provider against any OpenAI-compatible chat
// completions endpoint.
type Provider struct {
	client *openai.Client
}

var _ model.Provider = (*Provider)(nil)

// New creates a new OpenAI provider. baseURL may be empty.
func New(apiKey, baseURL string) *Provider {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &Provider{client: openai.NewClientWithConfig(cfg)}
}

// Name returns the provider identifier.
func (p *Provider) Name() string { return "openai" }

// List returns the models served by the endpoint.
func (p *Provider) List(ctx context.Context) ([]domain.Model, error) {
	resp, err := p.client.ListModels(ctx)
	if err != nil {
		return nil, err
	}
	models := make([]domain.Model, 0, len(resp.Models))
	for _, m := range resp.Models {
		models = append(models, domain.Model{ID: m.ID, Name: m.ID, Provider: "openai"})
	}
	sort.Slice(models, func(i, j int) bool { return models[i].ID < models[j].ID })
	return models, nil
}

// Stream sends a conversation context to the endpoint and returns a stream.
func (p *Provider) Stream(ctx context.Context, req model.Request) (model.ModelStream, error) {
	slog.Debug("OpenAI.Stream", "model", req.Model, "messageCount", len(req.Messages), "tools", len(req.Tools))

	creq := openai.ChatCompletionRequest{
		Model:               req.Model,
		Messages:            buildMessages(req.Instructions, req.Messages),
		Tools:               buildTools(req.Tools),
		MaxCompletionTokens: req.MaxTokens,
		Stream:              true,
	}

	return model.NewStream(ctx, func(ctx context.Context, emit model.Emit) error {
		stream, err := p.client.CreateChatCompletionStream(ctx, creq)
		if err != nil {
			return fmt.Errorf("creating chat completion stream: %w", err)
		}
		defer stream.Close()

		calls := newCallBuilder()
		for {
			resp, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				return err
			}
			if len(resp.Choices) == 0 {
				continue
			}
			delta := resp.Choices[0].Delta
			if delta.Content != "" {
				if !emit(model.Event{Type: model.EventTextDelta, Text: delta.Content}) {
					return ctx.Err()
				}
			}
			for _, tc := range delta.ToolCalls {
				calls.add(tc)
			}
		}

		built, err := calls.build()
		if err != nil {
			return err
		}
		for i := range built {
			if !emit(model.Event{Type: model.EventToolCall, ToolCall: &built[i]}) {
				return ctx.Err()
			}
		}
		return nil
	}), nil
}

// callBuilder reassembles tool calls whose arguments arrive in fragments.
type callBuilder struct {
	order []int
	calls map[int]*partialCall
}

type partialCall struct {
	id   string
	name string
	args strings.Builder
}

func newCallBuilder() *callBuilder {
	return &callBuilder{calls: make(map[int]*partialCall)}
}

func (b *callBuilder) add(tc openai.ToolCall) {
	idx := len(b.order)
	if tc.Index != nil {
		idx = *tc.Index
	}
	pc, ok := b.calls[idx]
	if !ok {
		pc = &partialCall{}
		b.calls[idx] = pc
		b.order = append(b.order, idx)
	}
	if tc.ID != "" {
		pc.id = tc.ID
	}
	if tc.Function.Name != "" {
		pc.name = tc.Function.Name
	}
	pc.args.WriteString(tc.Function.Arguments)
}

func (b *callBuilder) build() ([]domain.ToolCall, error) {
	out := make([]domain.ToolCall, 0, len(b.order))
	for _, idx := range b.order {
		pc := b.calls[idx]
		input := map[string]any{}
		if raw := strings.TrimSpace(pc.args.String()); raw != "" {
			if err := json.Unmarshal([]byte(raw), &input); err != nil {
				return nil, fmt.Errorf("decoding arguments of tool %q: %w", pc.name, err)
			}
		}
		id := pc.id
		if id == "" {
			id = "call-" + uuid.New().String()
		}
		out = append(out, domain.ToolCall{ID: id, Name: pc.name, Input: input})
	}
	return out, nil
}

func buildMessages(instructions string, messages []model.Message) []openai.ChatCompletionMessage {
	var out []openai.ChatCompletionMessage
	if instructions != "" {
		out = append(out, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: instructions})
	}

	for _, msg := range messages {
		switch msg.Role {
		case domain.RoleSystem:
			continue
		case domain.RoleAssistant:
			m := openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: msg.Text()}
			for _, tc := range msg.ToolCalls() {
				args, _ := json.Marshal(tc.Input)
				m.ToolCalls = append(m.ToolCalls, openai.ToolCall{
					ID:       tc.ID,
					Type:     openai.ToolTypeFunction,
					Function: openai.FunctionCall{Name: tc.Name, Arguments: string(args)},
				})
			}
			out = append(out, m)
		default:
			// Each tool result is its own message.
			for _, c := range msg.Content {
				if c.Type == model.ContentTypeToolResult && c.ToolResult != nil {
					out = append(out, openai.ChatCompletionMessage{
						Role:       openai.ChatMessageRoleTool,
						Content:    c.ToolResult.Content,
						Name:       c.ToolResult.Name,
						ToolCallID: c.ToolResult.ToolCallID,
					})
				}
			}
			if text := msg.Text(); text != "" {
				out = append(out, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: text})
			}
		}
	}
	return out
}

func buildTools(specs []domain.ToolSpec) []openai.Tool {
	if len(specs) == 0 {
		return nil
	}
	tools := make([]openai.Tool, 0, len(specs))
	for _, s := range specs {
		tools = append(tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        s.Name,
				Description: s.Description,
				Parameters:  s.Parameters.Map(),
			},
		})
	}
	return tools
}
