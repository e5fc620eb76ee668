package model

import (
	"context"
	"strings"

	"github.com/nstogner/forge/pkg/domain"
)

// Content types of a message part.
const (
	ContentTypeText       = "text"
	ContentTypeToolCall   = "tool_call"
	ContentTypeToolResult = "tool_result"
)

// Message represents a message in the model's conversation context.
type Message struct {
	// Role indicates the sender (user, assistant, tool).
	Role domain.Role
	// Content holds the message parts.
	Content []Content
}

// Content represents a single component of a message.
type Content struct {
	Type string // "text", "tool_call", "tool_result"

	// Text content (when Type == "text").
	Text string `json:"text,omitempty"`

	// Tool call (when Type == "tool_call").
	ToolCall *domain.ToolCall `json:"tool_call,omitempty"`

	// Tool result (when Type == "tool_result").
	ToolResult *domain.ToolResult `json:"tool_result,omitempty"`
}

// TextMessage builds a single-part text message.
func TextMessage(role domain.Role, text string) Message {
	return Message{Role: role, Content: []Content{{Type: ContentTypeText, Text: text}}}
}

// Text returns the concatenated text parts of the message.
func (m Message) Text() string {
	var b strings.Builder
	for _, c := range m.Content {
		if c.Type == ContentTypeText {
			b.WriteString(c.Text)
		}
	}
	return b.String()
}

// ToolCalls returns the tool calls requested in the message, in order.
func (m Message) ToolCalls() []domain.ToolCall {
	var calls []domain.ToolCall
	for _, c := range m.Content {
		if c.Type == ContentTypeToolCall && c.ToolCall != nil {
			calls = append(calls, *c.ToolCall)
		}
	}
	return calls
}

// Request is a single completion request.
type Request struct {
	// Model identifies which model to use (e.g. "gemini-2.5-flash").
	Model string
	// Instructions is the system prompt.
	Instructions string
	// Messages is the conversation context, oldest first.
	Messages []Message
	// Tools declares the tools the model may call. Empty disables tool use.
	Tools []domain.ToolSpec
	// MaxTokens caps the response length. Zero uses the provider default.
	MaxTokens int
}

// Provider represents a service that provides LLMs (e.g. Gemini, Claude).
type Provider interface {
	// Name returns the provider's identifier (e.g. "gemini", "anthropic").
	Name() string

	// List returns the available models from this provider.
	List(ctx context.Context) ([]domain.Model, error)

	// Stream starts a completion and returns a stream of its output.
	Stream(ctx context.Context, req Request) (ModelStream, error)
}

// ModelStream abstracts the stream of responses from the model.
type ModelStream interface {
	// Events delivers text deltas and tool calls as they are produced. The
	// producer closes the channel when the response is complete. A failure is
	// delivered as a final event with Err set.
	Events() <-chan Event

	// FullMessage blocks until the complete response is available and returns it.
	FullMessage() (Message, error)

	// Close releases resources associated with this stream.
	Close() error
}
