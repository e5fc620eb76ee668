package model

import (
	"context"
	"strings"
	"sync"

	"github.com/nstogner/forge/pkg/domain"
)

// EventType distinguishes stream events.
type EventType string

const (
	EventTextDelta EventType = "text_delta"
	EventToolCall  EventType = "tool_call"
	EventError     EventType = "error"
)

// Event is one item produced by a ModelStream.
type Event struct {
	Type     EventType
	Text     string
	ToolCall *domain.ToolCall
	Err      error
}

// Emit hands an event to the stream consumer. It returns false once the
// stream has been closed, at which point the producer should stop.
type Emit func(Event) bool

// ProduceFunc generates the events of one response.
type ProduceFunc func(ctx context.Context, emit Emit) error

// Stream is the ModelStream every provider is built on. The producer runs in
// its own goroutine and the events channel is closed when it returns.
type Stream struct {
	events chan Event
	cancel context.CancelFunc

	once sync.Once
	msg  Message
	err  error
}

var _ ModelStream = (*Stream)(nil)

// NewStream starts produce and returns the stream carrying its events.
func NewStream(ctx context.Context, produce ProduceFunc) *Stream {
	ctx, cancel := context.WithCancel(ctx)
	s := &Stream{
		events: make(chan Event),
		cancel: cancel,
	}

	go func() {
		defer close(s.events)
		emit := func(e Event) bool {
			select {
			case s.events <- e:
				return true
			case <-ctx.Done():
				return false
			}
		}
		if err := produce(ctx, emit); err != nil {
			emit(Event{Type: EventError, Err: err})
		}
	}()

	return s
}

// Events implements ModelStream.
func (s *Stream) Events() <-chan Event { return s.events }

// FullMessage implements ModelStream. It must not be combined with reading
// Events directly.
func (s *Stream) FullMessage() (Message, error) {
	s.once.Do(func() {
		s.msg, s.err = Collect(s.events, nil)
	})
	return s.msg, s.err
}

// Close implements ModelStream. It stops the producer and waits for it to exit.
func (s *Stream) Close() error {
	s.cancel()
	for range s.events {
	}
	return nil
}

// Collect drains events into an assistant message. onText, if set, observes
// every text delta as it arrives.
func Collect(events <-chan Event, onText func(string)) (Message, error) {
	var (
		text  strings.Builder
		calls []Content
	)
	for e := range events {
		switch e.Type {
		case EventTextDelta:
			text.WriteString(e.Text)
			if onText != nil {
				onText(e.Text)
			}
		case EventToolCall:
			if e.ToolCall != nil {
				calls = append(calls, Content{Type: ContentTypeToolCall, ToolCall: e.ToolCall})
			}
		case EventError:
			// Keep draining so the producer can exit.
			for range events {
			}
			return Message{}, e.Err
		}
	}

	var content []Content
	if text.Len() > 0 {
		content = append(content, Content{Type: ContentTypeText, Text: text.String()})
	}
	content = append(content, calls...)
	return Message{Role: domain.RoleAssistant, Content: content}, nil
}
