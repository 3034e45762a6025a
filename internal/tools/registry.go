package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/nextlevelbuilder/sovereignclaw/internal/core"
	"github.com/nextlevelbuilder/sovereignclaw/internal/providers"
)

// Registry is the lookup-and-execute contract shared by the local
// registry, the MCP registry, and the composite.
type Registry interface {
	Owns(name string) bool
	Execute(ctx context.Context, name string, args map[string]interface{}) (*Output, error)
	List() []providers.ToolDefinition
	Definition(name string) (providers.ToolDefinition, bool)
}

// LocalRegistry stores owned tool objects keyed by globally unique name.
// Arguments are validated against the tool's JSON schema before
// execution.
type LocalRegistry struct {
	mu      sync.RWMutex
	tools   map[string]Tool
	schemas map[string]*jsonschema.Schema
	order   []string
}

func NewLocalRegistry() *LocalRegistry {
	return &LocalRegistry{
		tools:   make(map[string]Tool),
		schemas: make(map[string]*jsonschema.Schema),
	}
}

// Register adds a tool; duplicate names are an error.
func (r *LocalRegistry) Register(t Tool) error {
	name := t.Name()
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[name]; exists {
		return fmt.Errorf("tool %q is already registered", name)
	}

	schema, err := compileSchema(name, t.Parameters())
	if err != nil {
		return fmt.Errorf("tool %q has invalid parameter schema: %w", name, err)
	}

	r.tools[name] = t
	r.schemas[name] = schema
	r.order = append(r.order, name)
	slog.Debug("tool registered", "tool", name)
	return nil
}

func (r *LocalRegistry) Owns(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.tools[name]
	return ok
}

func (r *LocalRegistry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

func (r *LocalRegistry) Execute(ctx context.Context, name string, args map[string]interface{}) (*Output, error) {
	r.mu.RLock()
	t, ok := r.tools[name]
	schema := r.schemas[name]
	r.mu.RUnlock()

	if !ok {
		return nil, &core.ToolNotFoundError{Name: name}
	}
	if args == nil {
		args = map[string]interface{}{}
	}
	if schema != nil {
		if err := schema.Validate(normalizeForSchema(args)); err != nil {
			return Fail(fmt.Sprintf("invalid arguments for %s: %v", name, err)), nil
		}
	}
	return t.Execute(ctx, args)
}

func (r *LocalRegistry) List() []providers.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]providers.ToolDefinition, 0, len(r.order))
	for _, name := range r.order {
		defs = append(defs, Definition(r.tools[name]))
	}
	return defs
}

func (r *LocalRegistry) Definition(name string) (providers.ToolDefinition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	if !ok {
		return providers.ToolDefinition{}, false
	}
	return Definition(t), true
}

// Names lists registered tool names sorted for stable output.
func (r *LocalRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, len(r.order))
	copy(names, r.order)
	sort.Strings(names)
	return names
}

// CompositeRegistry consults children in order; the first child that
// owns a name executes it. Registering into the composite itself is an
// error.
type CompositeRegistry struct {
	mu       sync.RWMutex
	children []Registry
}

func NewCompositeRegistry(children ...Registry) *CompositeRegistry {
	return &CompositeRegistry{children: children}
}

// AddChild appends a registry to the lookup order.
func (c *CompositeRegistry) AddChild(r Registry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.children = append(c.children, r)
}

// Register always fails: tools belong to child registries.
func (c *CompositeRegistry) Register(Tool) error {
	return fmt.Errorf("cannot register tools directly on the composite registry; register on a child instead")
}

func (c *CompositeRegistry) snapshot() []Registry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Registry, len(c.children))
	copy(out, c.children)
	return out
}

func (c *CompositeRegistry) Owns(name string) bool {
	for _, child := range c.snapshot() {
		if child.Owns(name) {
			return true
		}
	}
	return false
}

func (c *CompositeRegistry) Execute(ctx context.Context, name string, args map[string]interface{}) (*Output, error) {
	for _, child := range c.snapshot() {
		if child.Owns(name) {
			return child.Execute(ctx, name, args)
		}
	}
	return nil, &core.ToolNotFoundError{Name: name}
}

// List returns the ordered union of child listings.
func (c *CompositeRegistry) List() []providers.ToolDefinition {
	var defs []providers.ToolDefinition
	seen := make(map[string]bool)
	for _, child := range c.snapshot() {
		for _, def := range child.List() {
			if !seen[def.Name] {
				seen[def.Name] = true
				defs = append(defs, def)
			}
		}
	}
	return defs
}

func (c *CompositeRegistry) Definition(name string) (providers.ToolDefinition, bool) {
	for _, child := range c.snapshot() {
		if def, ok := child.Definition(name); ok {
			return def, true
		}
	}
	return providers.ToolDefinition{}, false
}

func compileSchema(name string, params map[string]interface{}) (*jsonschema.Schema, error) {
	if params == nil {
		return nil, nil
	}
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, err
	}
	compiler := jsonschema.NewCompiler()
	url := "inline://" + name + ".json"
	if err := compiler.AddResource(url, bytes.NewReader(raw)); err != nil {
		return nil, err
	}
	return compiler.Compile(url)
}

// normalizeForSchema round-trips args through JSON so numbers become
// json.Number-free float64s the validator understands.
func normalizeForSchema(args map[string]interface{}) interface{} {
	raw, err := json.Marshal(args)
	if err != nil {
		return args
	}
	var out interface{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return args
	}
	return out
}
