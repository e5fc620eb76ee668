package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/nstogner/forge/pkg/domain"
	"github.com/nstogner/forge/pkg/eventbus"
	"github.com/nstogner/forge/pkg/model"
	"github.com/nstogner/forge/pkg/tool"
)

// ThinkToolName is the name the reasoning sub-call is declared under.
const ThinkToolName = "think"

// DefaultThinkMaxTokens bounds the length of one reasoning sub-call.
const DefaultThinkMaxTokens = 2048

// Thinker runs the reasoning sub-call: a single streaming completion without
// tools whose output is published live on an event bus channel.
type Thinker struct {
	provider  model.Provider
	bus       *eventbus.Bus
	model     string
	maxTokens int
}

// NewThinker creates a Thinker. maxTokens <= 0 uses DefaultThinkMaxTokens.
func NewThinker(provider model.Provider, bus *eventbus.Bus, modelName string, maxTokens int) *Thinker {
	if maxTokens <= 0 {
		maxTokens = DefaultThinkMaxTokens
	}
	return &Thinker{provider: provider, bus: bus, model: modelName, maxTokens: maxTokens}
}

// Think reasons about task, publishing every chunk on channel as it arrives,
// and returns the accumulated text.
func (t *Thinker) Think(ctx context.Context, channel, task string) (string, error) {
	if strings.TrimSpace(task) == "" {
		return "", &tool.ValidationError{Tool: ThinkToolName, Field: "message", Reason: "must not be empty"}
	}

	stream, err := t.provider.Stream(ctx, model.Request{
		Model:        t.model,
		Instructions: thinkInstructions,
		Messages:     []model.Message{model.TextMessage(domain.RoleUser, task)},
		MaxTokens:    t.maxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("starting reasoning: %w", err)
	}
	defer stream.Close()

	msg, err := model.Collect(stream.Events(), func(chunk string) {
		t.bus.Publish(channel, chunk)
	})
	if err == nil {
		err = ctx.Err()
	}
	if err != nil {
		return "", fmt.Errorf("reasoning: %w", err)
	}
	return msg.Text(), nil
}

// Declaration exposes Think as a tool publishing on channel.
func (t *Thinker) Declaration(channel string) tool.Declaration {
	return tool.Declaration{
		Name:        ThinkToolName,
		Description: "Allows you to think about your given task.",
		Parameters: &domain.Schema{
			Type: domain.TypeObject,
			Properties: map[string]*domain.Schema{
				"message": {
					Type:        domain.TypeString,
					Description: "The task to think about.",
					MinLength:   1,
				},
			},
			Required: []string{"message"},
		},
		Execute: func(ctx context.Context, args tool.Args) (string, error) {
			return t.Think(ctx, channel, args.String("message"))
		},
	}
}
