// ABOUTME: Thread-safe registry of tools available to the model
// ABOUTME: Compiles each tool's parameter schema at registration for argument validation

package packs

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// ErrToolCollision indicates a tool name is already registered.
var ErrToolCollision = errors.New("tool name collision")

// ErrEmptyName indicates a tool was registered without a name.
var ErrEmptyName = errors.New("tool name is empty")

// ErrToolNotFound indicates the requested tool is not registered.
var ErrToolNotFound = errors.New("tool not found")

type entry struct {
	tool   *Tool
	schema *jsonschema.Schema
}

// Registry holds the tools a session may offer to the model.
type Registry struct {
	mu     sync.RWMutex
	tools  map[string]*entry
	logger *slog.Logger
}

// NewRegistry creates an empty Registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		tools:  make(map[string]*entry),
		logger: logger.With("component", "packs"),
	}
}

// Register adds tools to the registry. Either all tools are registered or
// none are.
func (r *Registry) Register(tools ...*Tool) error {
	compiled := make([]*entry, 0, len(tools))
	seen := make(map[string]struct{}, len(tools))

	for _, t := range tools {
		name := t.Spec.Name
		if name == "" {
			return ErrEmptyName
		}
		if _, dup := seen[name]; dup {
			return fmt.Errorf("%w: tool '%s' listed twice", ErrToolCollision, name)
		}
		seen[name] = struct{}{}

		e := &entry{tool: t}
		if len(t.Spec.Parameters) > 0 {
			schema, err := jsonschema.CompileString(name+".schema.json", string(t.Spec.Parameters))
			if err != nil {
				return fmt.Errorf("compiling schema for tool '%s': %w", name, err)
			}
			e.schema = schema
		}
		compiled = append(compiled, e)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, e := range compiled {
		if _, exists := r.tools[e.tool.Spec.Name]; exists {
			return fmt.Errorf("%w: tool '%s' already registered", ErrToolCollision, e.tool.Spec.Name)
		}
	}
	for _, e := range compiled {
		r.tools[e.tool.Spec.Name] = e
	}

	r.logger.Info("=== TOOLS REGISTERED ===",
		"tool_count", len(compiled),
		"total_tools", len(r.tools),
	)
	return nil
}

// Get returns the tool with the given name, or nil.
func (r *Registry) Get(name string) *Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if e, ok := r.tools[name]; ok {
		return e.tool
	}
	return nil
}

// Specs returns the specs of all registered tools sorted by name.
func (r *Registry) Specs() []Spec {
	r.mu.RLock()
	defer r.mu.RUnlock()

	specs := make([]Spec, 0, len(r.tools))
	for _, e := range r.tools {
		specs = append(specs, e.tool.Spec)
	}
	sort.Slice(specs, func(i, j int) bool { return specs[i].Name < specs[j].Name })
	return specs
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

// Validate checks args against the named tool's schema.
func (r *Registry) Validate(name string, args json.RawMessage) error {
	r.mu.RLock()
	e, ok := r.tools[name]
	r.mu.RUnlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrToolNotFound, name)
	}
	if e.schema == nil {
		return nil
	}

	var payload any
	if len(args) == 0 {
		payload = map[string]any{}
	} else if err := json.Unmarshal(args, &payload); err != nil {
		return fmt.Errorf("invalid input: %w", err)
	}
	if err := e.schema.Validate(payload); err != nil {
		return fmt.Errorf("invalid input: %w", err)
	}
	return nil
}
