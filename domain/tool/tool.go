// Package tool defines the core tool abstractions for the agent.
package tool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// Common tool errors.
var (
	// ErrToolExists is returned when registering a tool with a duplicate name.
	ErrToolExists = errors.New("tool already exists")
	// ErrToolNotFound is returned when a tool is not in the registry.
	ErrToolNotFound = errors.New("tool not found")
	// ErrInvalidName is returned when a tool name is empty or malformed.
	ErrInvalidName = errors.New("invalid tool name")
	// ErrNoHandler is returned when a tool is built without a handler.
	ErrNoHandler = errors.New("tool has no handler")
)

// Handler executes a tool with the given arguments. Handlers never return a
// Go error: every failure is encoded in the Result so the model can read it.
type Handler func(ctx context.Context, args map[string]any) Result

// ConfirmGater is an optional interface for tools whose confirmation
// requirement depends on the arguments of a specific call (for example, a SQL
// executor that only gates mutating statements). Static requirements belong
// in Annotations.
type ConfirmGater interface {
	ConfirmRequired(args map[string]any) bool
}

// Tool is an executable capability exposed to the model.
type Tool interface {
	// Name returns the unique tool name.
	Name() string
	// Description returns the human/model readable description.
	Description() string
	// Parameters returns the JSON Schema for the tool arguments.
	Parameters() json.RawMessage
	// Annotations returns the tool's behavioral annotations.
	Annotations() Annotations
	// Execute runs the tool. It never panics and never returns a Go error;
	// failures are reported through the Result status.
	Execute(ctx context.Context, args map[string]any) Result
}

// Schema is the transport-level description of a tool, handed to model
// providers when building a request.
type Schema struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

// SchemaOf builds the provider-facing schema for a tool.
func SchemaOf(t Tool) Schema {
	params := t.Parameters()
	if len(params) == 0 {
		params = json.RawMessage(`{"type":"object","properties":{}}`)
	}
	return Schema{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters:  params,
	}
}

// basicTool is the standard Tool implementation produced by Builder.
type basicTool struct {
	name        string
	description string
	parameters  json.RawMessage
	annotations Annotations
	handler     Handler
	gate        func(args map[string]any) bool
}

func (t *basicTool) Name() string                { return t.name }
func (t *basicTool) Description() string         { return t.description }
func (t *basicTool) Parameters() json.RawMessage { return t.parameters }
func (t *basicTool) Annotations() Annotations    { return t.annotations }

func (t *basicTool) Execute(ctx context.Context, args map[string]any) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			res = Errorf("tool %s panicked: %v", t.name, r)
		}
	}()
	return t.handler(ctx, args)
}

func (t *basicTool) ConfirmRequired(args map[string]any) bool {
	if t.annotations.RequiresConfirmation {
		return true
	}
	if t.gate != nil {
		return t.gate(args)
	}
	return false
}

// Builder constructs tools fluently.
type Builder struct {
	tool *basicTool
	err  error
}

// NewBuilder creates a tool builder with the given name.
func NewBuilder(name string) *Builder {
	b := &Builder{tool: &basicTool{name: name, annotations: DefaultAnnotations()}}
	if name == "" {
		b.err = ErrInvalidName
	}
	return b
}

// WithDescription sets the tool description.
func (b *Builder) WithDescription(desc string) *Builder {
	b.tool.description = desc
	return b
}

// WithParameters sets the JSON Schema for the tool arguments.
func (b *Builder) WithParameters(schema json.RawMessage) *Builder {
	b.tool.parameters = schema
	return b
}

// ReadOnly marks the tool as read-only and idempotent.
func (b *Builder) ReadOnly() *Builder {
	b.tool.annotations.ReadOnly = true
	b.tool.annotations.Idempotent = true
	return b
}

// Mutating marks the tool as one that changes external state.
func (b *Builder) Mutating() *Builder {
	b.tool.annotations.ReadOnly = false
	b.tool.annotations.Idempotent = false
	return b
}

// RequiresConfirmation marks every call to the tool as needing explicit user
// approval before execution.
func (b *Builder) RequiresConfirmation() *Builder {
	b.tool.annotations.RequiresConfirmation = true
	b.tool.annotations.ReadOnly = false
	return b
}

// WithConfirmGate installs a per-call confirmation predicate.
func (b *Builder) WithConfirmGate(gate func(args map[string]any) bool) *Builder {
	b.tool.gate = gate
	return b
}

// WithHandler sets the execution handler.
func (b *Builder) WithHandler(h Handler) *Builder {
	b.tool.handler = h
	return b
}

// Build validates and returns the tool.
func (b *Builder) Build() (Tool, error) {
	if b.err != nil {
		return nil, b.err
	}
	if b.tool.handler == nil {
		return nil, fmt.Errorf("%w: %s", ErrNoHandler, b.tool.name)
	}
	return b.tool, nil
}

// MustBuild builds the tool and panics on error. Intended for static tool
// definitions at startup.
func (b *Builder) MustBuild() Tool {
	t, err := b.Build()
	if err != nil {
		panic(err)
	}
	return t
}
