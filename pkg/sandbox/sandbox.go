// Package sandbox defines the per-project execution environment that action
// segments are dispatched to.
package sandbox

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
)

// Status values reported by Manager.Status.
const (
	StatusRunning = "running"
	StatusStopped = "stopped"
	StatusUnknown = "unknown"
)

// ErrNotRunning is returned when an operation needs a running sandbox.
var ErrNotRunning = errors.New("sandbox not running")

// Result represents the output of a command run in a sandbox.
type Result struct {
	// Output is the combined stdout and stderr.
	Output string `json:"output"`
	// ExitCode is the command's exit status.
	ExitCode int `json:"exit_code"`
}

// ProjectLister lists project IDs for sandbox reconciliation.
// This is a minimal interface to avoid importing the store package.
type ProjectLister interface {
	ListIDs(ctx context.Context) ([]string, error)
}

// Manager defines the interface for managing project sandboxes.
// Each project gets its own container serving the application.
type Manager interface {
	// Create ensures the project's sandbox exists and is running and returns
	// the host port its application is published on.
	Create(ctx context.Context, projectID string) (string, error)

	// Exec runs a shell command in the project's working directory.
	Exec(ctx context.Context, projectID, command string) (*Result, error)

	// ReadFile returns the content of a file relative to the project root.
	ReadFile(ctx context.Context, projectID, path string) ([]byte, error)

	// WriteFile creates or replaces a file relative to the project root.
	WriteFile(ctx context.Context, projectID, path string, data []byte) error

	// HostPort returns the host port of a running sandbox.
	HostPort(ctx context.Context, projectID string) (string, error)

	// Status returns one of StatusRunning, StatusStopped, StatusUnknown.
	Status(ctx context.Context, projectID string) (string, error)

	// Remove stops and deletes the project's sandbox.
	Remove(ctx context.Context, projectID string) error

	// Run starts a long-running reconciliation loop that keeps sandboxes in
	// sync with known projects. Blocks until ctx is cancelled.
	Run(ctx context.Context, projects ProjectLister) error

	// Close releases any resources held by the manager (e.g. docker client).
	Close() error
}

// ResolvePath joins a project-relative path onto workdir. Paths that would
// leave workdir are rejected.
func ResolvePath(workdir, p string) (string, error) {
	if strings.TrimSpace(p) == "" {
		return "", errors.New("path is required")
	}
	full := path.Clean(path.Join(workdir, p))
	root := path.Clean(workdir)
	if full != root && !strings.HasPrefix(full, root+"/") {
		return "", fmt.Errorf("path %q is outside %s", p, root)
	}
	return full, nil
}
