// Package store defines persistence for projects and their conversations.
package store

import (
	"context"
	"errors"

	"github.com/nstogner/forge/pkg/domain"
)

// ErrNotFound is wrapped by errors for missing records.
var ErrNotFound = errors.New("not found")

// ProjectStore manages the persistence of projects.
type ProjectStore interface {
	// CreateProject persists a new project. The ID field must be set by the caller.
	CreateProject(ctx context.Context, p *domain.Project) error

	// GetProject retrieves a project by its unique ID.
	// Returns an error wrapping ErrNotFound if the project does not exist.
	GetProject(ctx context.Context, id string) (*domain.Project, error)

	// ListProjects returns all projects, ordered by creation time descending.
	ListProjects(ctx context.Context) ([]domain.Project, error)

	// DeleteProject removes a project and its messages.
	DeleteProject(ctx context.Context, id string) error

	// ListIDs returns just the IDs of all projects (used by sandbox reconciliation).
	ListIDs(ctx context.Context) ([]string, error)
}

// MessageStore manages the append-only conversation of each project.
type MessageStore interface {
	// AppendMessage adds a message to the end of the project's conversation.
	// ID and CreatedAt are set when empty.
	AppendMessage(ctx context.Context, msg *domain.StoredMessage) error

	// GetMessage retrieves a single message of a project.
	GetMessage(ctx context.Context, projectID, id string) (*domain.StoredMessage, error)

	// ListMessages returns the project's messages in chronological order. If
	// limit > 0, only the most recent limit messages are returned.
	ListMessages(ctx context.Context, projectID string, limit int) ([]domain.StoredMessage, error)
}

// History converts stored messages to the context handed to a model.
func History(msgs []domain.StoredMessage) []domain.Message {
	out := make([]domain.Message, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, domain.Message{Role: m.Role, Content: m.Content})
	}
	return out
}
