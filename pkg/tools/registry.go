// Package tools exposes the expense engine, the clock and web search as
// named tools an agent can call with JSON arguments.
package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrUnknownTool is returned when a call names a tool that is not registered.
var ErrUnknownTool = errors.New("unknown tool")

// Tool is one capability offered to the agent.
type Tool interface {
	// Name is how the model refers to the tool.
	Name() string
	// Description tells the model when to use the tool.
	Description() string
	// Schema is the JSON schema of the arguments object.
	Schema() map[string]any
	// Call runs the tool. The result is encoded as JSON for the model.
	Call(ctx context.Context, args json.RawMessage) (any, error)
}

// Registry holds tools in registration order.
type Registry struct {
	tools map[string]Tool
	order []string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds a tool.
func (r *Registry) Register(t Tool) error {
	name := t.Name()
	if _, exists := r.tools[name]; exists {
		return fmt.Errorf("tool %q already registered", name)
	}
	r.tools[name] = t
	r.order = append(r.order, name)
	return nil
}

// Get returns a tool by name.
func (r *Registry) Get(name string) (Tool, error) {
	t, exists := r.tools[name]
	if !exists {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTool, name)
	}
	return t, nil
}

// List returns every tool in registration order.
func (r *Registry) List() []Tool {
	list := make([]Tool, 0, len(r.order))
	for _, name := range r.order {
		list = append(list, r.tools[name])
	}
	return list
}

// Call runs the named tool and returns its result as JSON text.
func (r *Registry) Call(ctx context.Context, name string, args json.RawMessage) (string, error) {
	t, err := r.Get(name)
	if err != nil {
		return "", err
	}

	result, err := t.Call(ctx, args)
	if err != nil {
		return "", fmt.Errorf("calling %s: %w", name, err)
	}

	if s, ok := result.(string); ok {
		return s, nil
	}
	b, err := json.Marshal(result)
	if err != nil {
		return "", fmt.Errorf("encoding %s result: %w", name, err)
	}
	return string(b), nil
}

type funcTool[A any] struct {
	name        string
	description string
	schema      map[string]any
	fn          func(ctx context.Context, args A) (any, error)
}

// New builds a Tool whose arguments object is decoded into A.
func New[A any](name, description string, schema map[string]any, fn func(ctx context.Context, args A) (any, error)) Tool {
	return &funcTool[A]{name: name, description: description, schema: schema, fn: fn}
}

func (t *funcTool[A]) Name() string           { return t.name }
func (t *funcTool[A]) Description() string    { return t.description }
func (t *funcTool[A]) Schema() map[string]any { return t.schema }

func (t *funcTool[A]) Call(ctx context.Context, raw json.RawMessage) (any, error) {
	var args A
	if trimmed := bytes.TrimSpace(raw); len(trimmed) > 0 && !bytes.Equal(trimmed, []byte("null")) {
		if err := json.Unmarshal(trimmed, &args); err != nil {
			return nil, fmt.Errorf("decoding arguments: %w", err)
		}
	}
	return t.fn(ctx, args)
}
