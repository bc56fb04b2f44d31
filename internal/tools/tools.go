// Package tools defines the tools available to the agent: the response
// envelope, the typed registry, the concurrent dispatcher and the task,
// points and utility tools themselves.
package tools

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/Arthur-Ziegler/tatake-backend-251020-sub001/internal/llm"
)

// Handler executes a tool with schema-validated arguments. Handlers
// classify their own failures into envelopes and never see history.
type Handler func(ctx context.Context, args map[string]any) Envelope

// Tool represents a callable tool.
type Tool struct {
	Name        string
	Description string
	Schema      *jsonschema.Schema
	Handler     Handler

	// schemaErr records a schema inference failure from Typed; Register
	// reports it.
	schemaErr error

	resolved   *jsonschema.Resolved
	parameters map[string]any
}

// Typed builds a tool whose parameter schema is inferred from T. Field
// descriptions come from `jsonschema:"..."` tags; fields without
// omitempty are required. The handler receives the decoded arguments.
func Typed[T any](name, description string, handler func(ctx context.Context, args T) Envelope) *Tool {
	schema, err := jsonschema.For[T](nil)
	t := &Tool{
		Name:        name,
		Description: description,
		Schema:      schema,
		schemaErr:   err,
	}
	if handler == nil {
		return t
	}
	t.Handler = func(ctx context.Context, raw map[string]any) Envelope {
		var args T
		b, err := json.Marshal(raw)
		if err == nil {
			err = json.Unmarshal(b, &args)
		}
		if err != nil {
			return Failf(CodeValidation, "invalid arguments for %s: %v", name, err)
		}
		return handler(ctx, args)
	}
	return t
}

// SetEnum restricts a top-level string property to values. It must be
// called before Register.
func (t *Tool) SetEnum(property string, values ...string) *Tool {
	if t.Schema == nil {
		return t
	}
	if p, ok := t.Schema.Properties[property]; ok {
		p.Enum = make([]any, len(values))
		for i, v := range values {
			p.Enum[i] = v
		}
	}
	return t
}

// Registry holds available tools. Tools are registered explicitly at
// startup; lookups are safe for concurrent use.
type Registry struct {
	mu     sync.RWMutex
	tools  map[string]*Tool
	logger *slog.Logger
}

// NewRegistry creates an empty tool registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		tools:  make(map[string]*Tool),
		logger: logger.With("component", "tools"),
	}
}

// Register adds a tool to the registry. Nil tools, empty names, missing
// handlers, duplicate names and schemas that do not resolve are rejected.
func (r *Registry) Register(t *Tool) error {
	if t == nil {
		return errors.New("register: nil tool")
	}
	if t.Name == "" {
		return errors.New("register: tool name is required")
	}
	if t.Handler == nil {
		return fmt.Errorf("register %s: handler is required", t.Name)
	}
	if t.schemaErr != nil {
		return fmt.Errorf("register %s: infer schema: %w", t.Name, t.schemaErr)
	}
	if t.Schema == nil {
		t.Schema = &jsonschema.Schema{Type: "object"}
	}

	resolved, err := t.Schema.Resolve(nil)
	if err != nil {
		return fmt.Errorf("register %s: resolve schema: %w", t.Name, err)
	}
	params, err := schemaToMap(t.Schema)
	if err != nil {
		return fmt.Errorf("register %s: %w", t.Name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[t.Name]; exists {
		return fmt.Errorf("register %s: duplicate tool name", t.Name)
	}
	t.resolved = resolved
	t.parameters = params
	r.tools[t.Name] = t
	return nil
}

// Lookup retrieves a tool by name.
func (r *Registry) Lookup(name string) (*Tool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	if !ok {
		return nil, &ErrToolUnavailable{ToolName: name}
	}
	return t, nil
}

// Names returns the registered tool names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Require reports every name that is not registered.
func (r *Registry) Require(names ...string) error {
	var errs []error
	for _, name := range names {
		if _, err := r.Lookup(name); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Definitions returns the tool descriptions sent to the model, sorted by
// name so requests are stable.
func (r *Registry) Definitions() []llm.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]llm.ToolDefinition, 0, len(r.tools))
	for _, t := range r.tools {
		defs = append(defs, llm.ToolDefinition{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  t.parameters,
		})
	}
	slices.SortFunc(defs, func(a, b llm.ToolDefinition) int {
		if a.Name < b.Name {
			return -1
		}
		if a.Name > b.Name {
			return 1
		}
		return 0
	})
	return defs
}

// Execute validates args against the tool's schema and runs its handler.
// Unknown names and schema violations become failed envelopes.
func (r *Registry) Execute(ctx context.Context, name string, args map[string]any) Envelope {
	t, err := r.Lookup(name)
	if err != nil {
		r.logger.Warn("model requested unknown tool",
			"tool", name,
			"tool_call_id", ToolCallIDFromContext(ctx),
			"thread", ThreadIDFromContext(ctx),
		)
		return Failf(CodeUnknownTool, "unknown tool %q; available tools: %v", name, r.Names())
	}

	if raw, ok := args["_raw"]; ok && len(args) == 1 {
		return Failf(CodeValidation, "arguments are not a valid JSON object: %v", raw)
	}
	if args == nil {
		args = map[string]any{}
	}
	if err := t.resolved.Validate(args); err != nil {
		return Failf(CodeValidation, "invalid arguments for %s: %v", name, err)
	}

	return t.Handler(ctx, args)
}

func schemaToMap(s *jsonschema.Schema) (map[string]any, error) {
	b, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("unmarshal schema: %w", err)
	}
	return m, nil
}
