// Package tools implements the Tool Registry and Batched Dispatcher from
// SPEC_FULL.md §4.3: a thread-safe catalog of available tools plus the
// confirmation/scheduling/execution pipeline that turns a batch of pending
// ToolCall messages into ToolResult messages.
//
// Grounded on the teacher's internal/agent/tool_registry.go (registration,
// lookup, size limits) and internal/agent/executor.go/tool_exec.go
// (semaphore-based concurrency, per-call timeout), generalized to the
// spec's confirm -> schedule -> execute -> cancel pipeline and the
// read-only/mutating partitioning SPEC_FULL.md §4.3 requires.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/wireloop/agentplane/pkg/models"
)

// Tool parameter limits, carried over from the teacher's ToolRegistry to
// prevent resource exhaustion on pathological input.
const (
	MaxToolNameLength = 256
	MaxToolInputBytes = 10 << 20
)

// Tool is the contract every registered capability satisfies.
type Tool interface {
	// Descriptor returns the tool's static shape, including its JSON Schema.
	Descriptor() models.ToolDescriptor

	// ShouldConfirm inspects input and reports whether this particular call
	// needs user confirmation before running, the confirmation kind, and a
	// human-readable message for the confirmation prompt.
	ShouldConfirm(input json.RawMessage) (bool, models.ConfirmationKind, string)

	// Execute runs the tool. ctx carries the batch's cancellation signal.
	Execute(ctx context.Context, input json.RawMessage) (models.ToolResult, error)
}

// DuplicateToolError is returned by Register when a tool name collides.
type DuplicateToolError struct{ Name string }

func (e *DuplicateToolError) Error() string {
	return fmt.Sprintf("tool already registered: %s", e.Name)
}

// UnknownToolError is returned when a call names a tool not in the registry.
type UnknownToolError struct{ Name string }

func (e *UnknownToolError) Error() string {
	return fmt.Sprintf("unknown tool: %s", e.Name)
}

// Registry is a thread-safe catalog of Tools, keyed by unique name.
type Registry struct {
	mu      sync.RWMutex
	tools   map[string]Tool
	schemas map[string]*jsonschema.Schema
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		tools:   make(map[string]Tool),
		schemas: make(map[string]*jsonschema.Schema),
	}
}

// Register adds tool under its descriptor's name, compiling its input
// schema. Returns *DuplicateToolError if the name is already registered.
func (r *Registry) Register(tool Tool) error {
	desc := tool.Descriptor()
	if len(desc.Name) == 0 || len(desc.Name) > MaxToolNameLength {
		return fmt.Errorf("tool name %q invalid: must be 1-%d characters", desc.Name, MaxToolNameLength)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[desc.Name]; exists {
		return &DuplicateToolError{Name: desc.Name}
	}

	var compiled *jsonschema.Schema
	if len(desc.InputSchema) > 0 {
		c := jsonschema.NewCompiler()
		schemaURL := "mem://" + desc.Name + ".json"
		if err := c.AddResource(schemaURL, jsonSchemaResource(desc.InputSchema)); err != nil {
			return fmt.Errorf("compiling input schema for %s: %w", desc.Name, err)
		}
		schema, err := c.Compile(schemaURL)
		if err != nil {
			return fmt.Errorf("compiling input schema for %s: %w", desc.Name, err)
		}
		compiled = schema
	}

	r.tools[desc.Name] = tool
	if compiled != nil {
		r.schemas[desc.Name] = compiled
	}
	return nil
}

// Unregister removes a tool by name. A no-op if the name isn't registered.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tools, name)
	delete(r.schemas, name)
}

// Get returns the tool registered under name, if any.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Descriptors returns the static shape of every registered tool, for
// publishing to the model.
func (r *Registry) Descriptors() []models.ToolDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]models.ToolDescriptor, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, t.Descriptor())
	}
	return out
}

// Validate checks input against name's compiled JSON Schema. Returns
// *UnknownToolError if name isn't registered; a validation error otherwise
// if the schema rejects input. A tool with no schema always validates.
func (r *Registry) Validate(name string, input json.RawMessage) error {
	if len(input) > MaxToolInputBytes {
		return fmt.Errorf("tool input for %s exceeds %d bytes", name, MaxToolInputBytes)
	}
	r.mu.RLock()
	_, ok := r.tools[name]
	schema := r.schemas[name]
	r.mu.RUnlock()
	if !ok {
		return &UnknownToolError{Name: name}
	}
	if schema == nil {
		return nil
	}
	var v any
	if len(input) == 0 {
		v = map[string]any{}
	} else if err := json.Unmarshal(input, &v); err != nil {
		return fmt.Errorf("tool input for %s is not valid JSON: %w", name, err)
	}
	if err := schema.Validate(v); err != nil {
		return fmt.Errorf("tool input for %s failed schema validation: %w", name, err)
	}
	return nil
}

func jsonSchemaResource(raw json.RawMessage) any {
	var v any
	_ = json.Unmarshal(raw, &v)
	return v
}
