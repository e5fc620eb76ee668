// Package mock provides a scripted model.Provider for tests and for running
// forge without an LLM.
package mock

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/nstogner/forge/pkg/domain"
	"github.com/nstogner/forge/pkg/model"
)

// Response is one scripted completion.
type Response struct {
	// Chunks are emitted as separate text deltas.
	Chunks []string
	// ToolCalls are emitted after the text.
	ToolCalls []domain.ToolCall
	// Err fails the stream after the chunks have been emitted.
	Err error
}

// Text is a response made of a single chunk.
func Text(s string) Response { return Response{Chunks: []string{s}} }

// Call is a response requesting a single tool call.
func Call(id, name string, input map[string]any) Response {
	return Response{ToolCalls: []domain.ToolCall{{ID: id, Name: name, Input: input}}}
}

// Provider replays scripted responses in order. When the script runs out it
// falls back to Default, or to echoing the last user message.
type Provider struct {
	Default *Response

	mu       sync.Mutex
	script   []Response
	requests []model.Request
}

var _ model.Provider = (*Provider)(nil)

// New creates a Provider that replays responses in order.
func New(responses ...Response) *Provider {
	return &Provider{script: responses}
}

// Name implements model.Provider.
func (p *Provider) Name() string { return "mock" }

// List implements model.Provider.
func (p *Provider) List(ctx context.Context) ([]domain.Model, error) {
	return []domain.Model{{ID: "mock-model", Name: "Mock", Provider: "mock"}}, nil
}

// Requests returns every request received so far.
func (p *Provider) Requests() []model.Request {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]model.Request(nil), p.requests...)
}

// Stream implements model.Provider.
func (p *Provider) Stream(ctx context.Context, req model.Request) (model.ModelStream, error) {
	p.mu.Lock()
	p.requests = append(p.requests, req)
	var resp Response
	switch {
	case len(p.script) > 0:
		resp = p.script[0]
		p.script = p.script[1:]
	case p.Default != nil:
		resp = *p.Default
	default:
		resp = Text(echo(req))
	}
	p.mu.Unlock()

	return model.NewStream(ctx, func(ctx context.Context, emit model.Emit) error {
		for _, c := range resp.Chunks {
			if !emit(model.Event{Type: model.EventTextDelta, Text: c}) {
				return ctx.Err()
			}
		}
		if resp.Err != nil {
			return resp.Err
		}
		for i := range resp.ToolCalls {
			tc := resp.ToolCalls[i]
			if !emit(model.Event{Type: model.EventToolCall, ToolCall: &tc}) {
				return ctx.Err()
			}
		}
		return nil
	}), nil
}

func echo(req model.Request) string {
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if m := req.Messages[i]; m.Role == domain.RoleUser {
			return fmt.Sprintf("Echo from %s: %s", req.Model, strings.TrimSpace(m.Text()))
		}
	}
	return "Echo from " + req.Model
}
