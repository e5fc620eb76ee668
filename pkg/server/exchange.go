package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/nstogner/forge/pkg/agent"
	"github.com/nstogner/forge/pkg/domain"
	"github.com/nstogner/forge/pkg/sandbox"
	"github.com/nstogner/forge/pkg/store"
	"github.com/nstogner/forge/pkg/tool"
)

// errSaveFailed is reported when the answer was generated but not stored.
var errSaveFailed = errors.New("failed to save the response, please retry")

// startExchange saves the user message and starts an exchange over the
// project's prior conversation.
func (s *Server) startExchange(ctx context.Context, projectID, content, exchangeID string) (*agent.Exchange, error) {
	if strings.TrimSpace(content) == "" {
		return nil, agent.ErrEmptyMessage
	}
	prior, err := s.messages.ListMessages(ctx, projectID, HistoryLimit)
	if err != nil {
		return nil, fmt.Errorf("loading history: %w", err)
	}

	if err := s.messages.AppendMessage(ctx, &domain.StoredMessage{
		ProjectID: projectID,
		Role:      domain.RoleUser,
		Content:   content,
	}); err != nil {
		return nil, fmt.Errorf("saving user message: %w", err)
	}

	return s.agent.RunExchange(ctx, agent.ExchangeRequest{
		Message:      content,
		History:      store.History(prior),
		ContextToken: projectID,
		ExtraTools:   s.exchangeTools(projectID),
		ExchangeID:   exchangeID,
	})
}

func (s *Server) exchangeTools(projectID string) []tool.Declaration {
	var tools []tool.Declaration
	if s.sandbox != nil {
		tools = append(tools, sandbox.Tools(s.sandbox, projectID)...)
	}
	return append(tools, s.tools...)
}

// finishExchange waits for the exchange and saves the assistant message.
// Errors are safe to show to users.
func (s *Server) finishExchange(ctx context.Context, projectID string, ex *agent.Exchange) (*domain.StoredMessage, error) {
	res, err := ex.Wait()
	if err != nil {
		return nil, err
	}

	msg := &domain.StoredMessage{
		ProjectID: projectID,
		Role:      domain.RoleAssistant,
		Content:   res.Text,
		Steps:     res.Trace,
	}
	if err := s.messages.AppendMessage(ctx, msg); err != nil {
		slog.Error("Failed to save assistant message", "projectID", projectID, "exchangeID", ex.ID(), "error", err)
		return nil, errSaveFailed
	}
	return msg, nil
}
