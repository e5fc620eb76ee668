package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/nstogner/forge/pkg/action"
	"github.com/nstogner/forge/pkg/agent"
	"github.com/nstogner/forge/pkg/domain"
	"github.com/nstogner/forge/pkg/eventbus"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Frame types sent on the chat websocket.
const (
	FrameThinking = "thinking"
	FrameText     = "text"
	FrameSegments = "segments"
	FrameDone     = "done"
	FrameError    = "error"
)

// Frame is one server-to-client websocket message.
type Frame struct {
	Type       string                `json:"type"`
	ExchangeID string                `json:"exchange_id,omitempty"`
	Content    string                `json:"content,omitempty"`
	Segments   []action.Segment      `json:"segments,omitempty"`
	Message    *domain.StoredMessage `json:"message,omitempty"`
	Error      string                `json:"error,omitempty"`
}

// ChatRequest is a client-to-server websocket message.
type ChatRequest struct {
	Content string `json:"content"`
}

func (s *Server) handleChatWebSocket(w http.ResponseWriter, r *http.Request) {
	projectID := r.PathValue("id")
	if projectID == "" {
		http.Error(w, "Missing project ID", http.StatusBadRequest)
		return
	}

	// Verify the project exists.
	if _, err := s.projects.GetProject(r.Context(), projectID); err != nil {
		http.Error(w, "Project not found", http.StatusNotFound)
		return
	}

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("Failed to upgrade websocket", "error", err)
		return
	}
	defer ws.Close()

	ctx, cancel := context.WithCancel(r.Context())
	done := make(chan struct{})
	frames := make(chan Frame, 64)

	send := func(f Frame) {
		select {
		case frames <- f:
		case <-done:
		}
	}

	var wg sync.WaitGroup
	wg.Add(1)

	// Writer goroutine: the only writer on the connection.
	go func() {
		defer wg.Done()
		defer ws.Close()

		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()

		for {
			select {
			case <-done:
				return
			case f := <-frames:
				if err := ws.WriteJSON(f); err != nil {
					slog.Error("WebSocket write error", "error", err)
					cancel()
					return
				}
			case <-ticker.C:
				// Keepalive
				if err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
					cancel()
					return
				}
			}
		}
	}()

	// One exchange at a time per connection.
	busy := make(chan struct{}, 1)

	// Reader loop: receives user messages.
	for {
		var msg ChatRequest
		if err := ws.ReadJSON(&msg); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				slog.Error("WebSocket read error", "error", err)
			}
			break
		}

		select {
		case busy <- struct{}{}:
		default:
			send(Frame{Type: FrameError, Error: "an exchange is already running"})
			continue
		}

		wg.Add(1)
		go func(content string) {
			defer wg.Done()
			defer func() { <-busy }()
			s.runChat(ctx, projectID, content, send)
		}(msg.Content)
	}

	cancel()
	close(done)
	wg.Wait()
}

// runChat runs one exchange, streaming thinking, text and partial segments,
// then the authoritative segments once the answer is saved.
func (s *Server) runChat(ctx context.Context, projectID, content string, send func(Frame)) {
	exchangeID := uuid.New().String()

	unsubscribe := s.agent.Bus().Subscribe(eventbus.ThinkingChannel(exchangeID), func(chunk string) {
		send(Frame{Type: FrameThinking, ExchangeID: exchangeID, Content: chunk})
	})
	defer unsubscribe()

	ex, err := s.startExchange(ctx, projectID, content, exchangeID)
	if err != nil {
		slog.Error("Failed to start exchange", "projectID", projectID, "error", err)
		reason := agent.ErrGenerationFailed.Error()
		if errors.Is(err, agent.ErrEmptyMessage) {
			reason = err.Error()
		}
		send(Frame{Type: FrameError, ExchangeID: exchangeID, Error: reason})
		return
	}

	var text strings.Builder
	for chunk := range ex.Text() {
		text.WriteString(chunk)
		send(Frame{Type: FrameText, ExchangeID: exchangeID, Content: chunk})
		send(Frame{Type: FrameSegments, ExchangeID: exchangeID, Segments: action.Tokenize(text.String())})
	}

	msg, err := s.finishExchange(ctx, projectID, ex)
	if err != nil {
		send(Frame{Type: FrameError, ExchangeID: exchangeID, Error: err.Error()})
		return
	}
	send(Frame{
		Type:       FrameDone,
		ExchangeID: exchangeID,
		Content:    msg.Content,
		Segments:   action.TokenizeComplete(msg.Content),
		Message:    msg,
	})
}
