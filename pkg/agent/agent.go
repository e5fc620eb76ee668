// Package agent runs completion exchanges: a bounded loop of provider calls
// and tool invocations, with a reasoning sub-call streamed over an event bus.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/nstogner/forge/pkg/domain"
	"github.com/nstogner/forge/pkg/eventbus"
	"github.com/nstogner/forge/pkg/model"
	"github.com/nstogner/forge/pkg/tool"
)

const (
	DefaultStepBound     = 3
	DefaultHistoryWindow = 10
)

// ErrGenerationFailed is the only error an exchange reports once it has
// started. The underlying cause is logged.
var ErrGenerationFailed = errors.New("failed to generate a response, please retry")

// ErrEmptyMessage is returned when an exchange is started without a message.
var ErrEmptyMessage = errors.New("message must not be empty")

// exhaustedNotice is the exchange text when the step bound is reached before
// the model produced any text.
const exhaustedNotice = "I ran out of steps before I could finish. Send another message to let me continue."

// Config controls the completion loop.
type Config struct {
	// Model is the outer model name.
	Model string
	// StepBound caps the provider calls of one exchange.
	StepBound int
	// HistoryWindow is how many of the most recent history messages are sent.
	HistoryWindow int
	// MaxTokens caps each outer response. Zero uses the provider default.
	MaxTokens int
	// Instructions are appended to the built-in system prompt.
	Instructions string
}

func (c Config) withDefaults() Config {
	if c.StepBound <= 0 {
		c.StepBound = DefaultStepBound
	}
	if c.HistoryWindow <= 0 {
		c.HistoryWindow = DefaultHistoryWindow
	}
	return c
}

// Agent runs exchanges against a single provider.
type Agent struct {
	cfg      Config
	provider model.Provider
	thinker  *Thinker
	bus      *eventbus.Bus
}

// New creates an Agent. The thinker's output is published on bus.
func New(cfg Config, provider model.Provider, thinker *Thinker, bus *eventbus.Bus) *Agent {
	return &Agent{
		cfg:      cfg.withDefaults(),
		provider: provider,
		thinker:  thinker,
		bus:      bus,
	}
}

// Bus returns the bus reasoning output is published on.
func (a *Agent) Bus() *eventbus.Bus { return a.bus }

// ExchangeRequest is the input of one exchange.
type ExchangeRequest struct {
	// Message is the new user message.
	Message string
	// History is the prior conversation, oldest first.
	History []domain.Message
	// ContextToken identifies what the exchange works on, e.g. a project ID.
	ContextToken string
	// ExtraTools are offered alongside think.
	ExtraTools []tool.Declaration
	// ExchangeID is generated when empty.
	ExchangeID string
	// ThinkingChannel defaults to eventbus.ThinkingChannel(ExchangeID).
	// Subscribe to it before calling RunExchange to see every chunk.
	ThinkingChannel string
}

// Result is the outcome of a finished exchange.
type Result struct {
	// Text is all text the model produced, across steps.
	Text string
	// Trace has one entry per provider call that requested tools.
	Trace []domain.Step
	// Exhausted is set when the step bound ended the exchange.
	Exhausted bool
}

// RunExchange validates req and starts the exchange in the background.
func (a *Agent) RunExchange(ctx context.Context, req ExchangeRequest) (*Exchange, error) {
	if strings.TrimSpace(req.Message) == "" {
		return nil, ErrEmptyMessage
	}
	if req.ExchangeID == "" {
		req.ExchangeID = uuid.New().String()
	}
	if req.ThinkingChannel == "" {
		req.ThinkingChannel = eventbus.ThinkingChannel(req.ExchangeID)
	}

	decls := append([]tool.Declaration{a.thinker.Declaration(req.ThinkingChannel)}, req.ExtraTools...)
	registry, err := tool.NewRegistry(decls...)
	if err != nil {
		return nil, fmt.Errorf("registering tools: %w", err)
	}

	ex := newExchange(ctx, req.ExchangeID, req.ThinkingChannel)
	go func() {
		res, err := a.loop(ctx, ex, registry, req)
		if err != nil {
			slog.Error("Exchange failed", "exchangeID", ex.id, "context", req.ContextToken, "error", err)
			err = ErrGenerationFailed
		}
		ex.finish(res, err)
	}()
	return ex, nil
}

func (a *Agent) loop(ctx context.Context, ex *Exchange, registry *tool.Registry, req ExchangeRequest) (Result, error) {
	var (
		res  Result
		text strings.Builder
	)
	instructions := buildInstructions(req.ContextToken, a.cfg.Instructions)
	messages := a.buildMessages(req.History, req.Message)

	for step := 1; ; step++ {
		slog.Debug("Calling model", "exchangeID", ex.id, "step", step, "model", a.cfg.Model, "messages", len(messages))
		stream, err := a.provider.Stream(ctx, model.Request{
			Model:        a.cfg.Model,
			Instructions: instructions,
			Messages:     messages,
			Tools:        registry.Specs(),
			MaxTokens:    a.cfg.MaxTokens,
		})
		if err != nil {
			return res, fmt.Errorf("step %d: starting model stream: %w", step, err)
		}
		msg, err := model.Collect(stream.Events(), func(delta string) {
			text.WriteString(delta)
			ex.text.push(delta)
		})
		stream.Close()
		if err == nil {
			err = ctx.Err()
		}
		if err != nil {
			return res, fmt.Errorf("step %d: reading model stream: %w", step, err)
		}

		calls := msg.ToolCalls()
		if len(calls) == 0 {
			break
		}

		trace := domain.Step{Index: step}
		results := make([]model.Content, 0, len(calls))
		for _, call := range calls {
			slog.Debug("Invoking tool", "exchangeID", ex.id, "step", step, "tool", call.Name)
			out, err := registry.Invoke(ctx, call)
			if err != nil {
				return res, fmt.Errorf("step %d: tool %s: %w", step, call.Name, err)
			}
			r := domain.ToolResult{ToolCallID: call.ID, Name: call.Name, Content: out}
			trace.Invocations = append(trace.Invocations, domain.Invocation{Call: call, Result: r})
			results = append(results, model.Content{Type: model.ContentTypeToolResult, ToolResult: &r})
		}
		res.Trace = append(res.Trace, trace)
		messages = append(messages, msg, model.Message{Role: domain.RoleTool, Content: results})

		if step >= a.cfg.StepBound {
			slog.Warn("Step bound reached", "exchangeID", ex.id, "steps", step)
			res.Exhausted = true
			break
		}
	}

	if text.Len() == 0 && res.Exhausted {
		text.WriteString(exhaustedNotice)
		ex.text.push(exhaustedNotice)
	}
	res.Text = text.String()
	return res, nil
}

// buildMessages returns the most recent history window followed by the new
// user message. System messages in history are dropped; the system prompt is
// sent as instructions.
func (a *Agent) buildMessages(history []domain.Message, message string) []model.Message {
	var kept []domain.Message
	for _, m := range history {
		if m.Role != domain.RoleSystem {
			kept = append(kept, m)
		}
	}
	if len(kept) > a.cfg.HistoryWindow {
		kept = kept[len(kept)-a.cfg.HistoryWindow:]
	}

	messages := make([]model.Message, 0, len(kept)+1)
	for _, m := range kept {
		messages = append(messages, model.TextMessage(m.Role, m.Content))
	}
	return append(messages, model.TextMessage(domain.RoleUser, message))
}
