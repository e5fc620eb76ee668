// Package tool holds the typed tool registry used by a completion exchange.
package tool

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/nstogner/forge/pkg/domain"
)

// Args are the decoded, validated arguments of a tool call.
type Args map[string]any

// String returns the string argument name, or "" if absent.
func (a Args) String(name string) string {
	s, _ := a[name].(string)
	return s
}

// Executor runs a tool and returns its textual result.
type Executor func(ctx context.Context, args Args) (string, error)

// Declaration describes a tool and how to run it.
type Declaration struct {
	Name        string
	Description string
	Parameters  *domain.Schema
	Execute     Executor
}

// Spec returns the part of the declaration a model sees.
func (d Declaration) Spec() domain.ToolSpec {
	return domain.ToolSpec{Name: d.Name, Description: d.Description, Parameters: d.Parameters}
}

// ValidationError reports arguments that do not satisfy a tool's schema.
// It is returned before the executor is called.
type ValidationError struct {
	Tool   string
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("invalid arguments for tool %s: %s", e.Tool, e.Reason)
	}
	return fmt.Sprintf("invalid argument %q for tool %s: %s", e.Field, e.Tool, e.Reason)
}

// IsValidation reports whether err is or wraps a *ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// ErrUnknownTool is returned when a call names a tool that is not registered.
var ErrUnknownTool = errors.New("unknown tool")

// Registry maps tool names to declarations. Declarations are fixed once
// registered.
type Registry struct {
	mu    sync.RWMutex
	order []string
	tools map[string]Declaration
}

// NewRegistry creates a registry holding decls.
func NewRegistry(decls ...Declaration) (*Registry, error) {
	r := &Registry{tools: make(map[string]Declaration)}
	for _, d := range decls {
		if err := r.Register(d); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds d. Names must be unique.
func (r *Registry) Register(d Declaration) error {
	if d.Name == "" {
		return errors.New("tool name is required")
	}
	if d.Execute == nil {
		return fmt.Errorf("tool %s has no executor", d.Name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tools[d.Name]; ok {
		return fmt.Errorf("tool %s already registered", d.Name)
	}
	r.tools[d.Name] = d
	r.order = append(r.order, d.Name)
	return nil
}

// Specs returns the model-facing declarations in registration order.
func (r *Registry) Specs() []domain.ToolSpec {
	r.mu.RLock()
	defer r.mu.RUnlock()
	specs := make([]domain.ToolSpec, 0, len(r.order))
	for _, name := range r.order {
		specs = append(specs, r.tools[name].Spec())
	}
	return specs
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// Invoke validates the call's input against the tool schema and runs it.
func (r *Registry) Invoke(ctx context.Context, call domain.ToolCall) (string, error) {
	r.mu.RLock()
	d, ok := r.tools[call.Name]
	r.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownTool, call.Name)
	}

	args := Args(call.Input)
	if args == nil {
		args = Args{}
	}
	if err := Validate(d.Name, d.Parameters, args); err != nil {
		return "", err
	}
	return d.Execute(ctx, args)
}
