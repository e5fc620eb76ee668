// Package sandboxtest provides an in-memory sandbox.Manager for tests.
package sandboxtest

import (
	"context"
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/nstogner/forge/pkg/sandbox"
)

// ExecFunc scripts the result of a command.
type ExecFunc func(projectID, command string) (*sandbox.Result, error)

// Manager keeps files in memory and records commands instead of running them.
type Manager struct {
	// ExecFunc, if set, produces command results. By default every command
	// succeeds with empty output.
	ExecFunc ExecFunc

	mu       sync.Mutex
	projects map[string]*project
	nextPort int
}

type project struct {
	port     string
	files    map[string][]byte
	commands []string
}

var _ sandbox.Manager = (*Manager)(nil)

// New creates an empty Manager.
func New() *Manager {
	return &Manager{projects: make(map[string]*project), nextPort: 49152}
}

func (m *Manager) get(projectID string) (*project, error) {
	p, ok := m.projects[projectID]
	if !ok {
		return nil, fmt.Errorf("project %s: %w", projectID, sandbox.ErrNotRunning)
	}
	return p, nil
}

// Create implements sandbox.Manager.
func (m *Manager) Create(ctx context.Context, projectID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.projects[projectID]; ok {
		return p.port, nil
	}
	p := &project{port: fmt.Sprint(m.nextPort), files: make(map[string][]byte)}
	m.nextPort++
	m.projects[projectID] = p
	return p.port, nil
}

// Exec implements sandbox.Manager.
func (m *Manager) Exec(ctx context.Context, projectID, command string) (*sandbox.Result, error) {
	m.mu.Lock()
	p, err := m.get(projectID)
	if err != nil {
		m.mu.Unlock()
		return nil, err
	}
	p.commands = append(p.commands, command)
	fn := m.ExecFunc
	m.mu.Unlock()

	if fn == nil {
		return &sandbox.Result{}, nil
	}
	return fn(projectID, command)
}

// ReadFile implements sandbox.Manager.
func (m *Manager) ReadFile(ctx context.Context, projectID, path string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, err := m.get(projectID)
	if err != nil {
		return nil, err
	}
	data, ok := p.files[path]
	if !ok {
		return nil, fmt.Errorf("%s: %w", path, os.ErrNotExist)
	}
	return append([]byte(nil), data...), nil
}

// WriteFile implements sandbox.Manager.
func (m *Manager) WriteFile(ctx context.Context, projectID, path string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, err := m.get(projectID)
	if err != nil {
		return err
	}
	p.files[path] = append([]byte(nil), data...)
	return nil
}

// HostPort implements sandbox.Manager.
func (m *Manager) HostPort(ctx context.Context, projectID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, err := m.get(projectID)
	if err != nil {
		return "", err
	}
	return p.port, nil
}

// Status implements sandbox.Manager.
func (m *Manager) Status(ctx context.Context, projectID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.projects[projectID]; ok {
		return sandbox.StatusRunning, nil
	}
	return sandbox.StatusStopped, nil
}

// Remove implements sandbox.Manager.
func (m *Manager) Remove(ctx context.Context, projectID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.projects, projectID)
	return nil
}

// Run implements sandbox.Manager. It creates sandboxes for the listed
// projects once and then waits for ctx.
func (m *Manager) Run(ctx context.Context, projects sandbox.ProjectLister) error {
	ids, err := projects.ListIDs(ctx)
	if err != nil {
		return err
	}
	for _, id := range ids {
		m.Create(ctx, id)
	}
	<-ctx.Done()
	return ctx.Err()
}

// Close implements sandbox.Manager.
func (m *Manager) Close() error { return nil }

// SetFile seeds a file, creating the project if needed.
func (m *Manager) SetFile(projectID, path, content string) {
	m.Create(context.Background(), projectID)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.projects[projectID].files[path] = []byte(content)
}

// File returns a file's content and whether it exists.
func (m *Manager) File(projectID, path string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.projects[projectID]
	if !ok {
		return "", false
	}
	data, ok := p.files[path]
	return string(data), ok
}

// Files returns the sorted paths of a project's files.
func (m *Manager) Files(projectID string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.projects[projectID]
	if !ok {
		return nil
	}
	var paths []string
	for path := range p.files {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	return paths
}

// Commands returns the commands run in a project, in order.
func (m *Manager) Commands(projectID string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.projects[projectID]
	if !ok {
		return nil
	}
	return append([]string(nil), p.commands...)
}
