// Package tools provides the tool framework and the host capabilities the agent can call.
package tools

import (
	"context"
	"sort"
	"sync"
)

// Tool is the interface that all agent tools must implement.
type Tool interface {
	// Name returns the tool identifier used in proposed actions.
	Name() string
	// Description returns a human-readable description for the resolver.
	Description() string
	// Schema returns the typed argument schema.
	Schema() Schema
	// Execute runs the capability with already validated arguments.
	// A non-nil error marks the call as failed; the returned text is still
	// surfaced as payload when it is not empty.
	Execute(ctx context.Context, args map[string]any) (string, error)
}

// TieredTool is an optional interface for tools that declare a risk tier.
// Tier 0: read-only fact gathering
// Tier 1: controlled writes
// Tier 2: host-changing or arbitrary execution
type TieredTool interface {
	Tool
	Tier() int
}

// Risk tier constants.
const (
	TierReadOnly = 0
	TierWrite    = 1
	TierHighRisk = 2
)

// ToolTier returns the risk tier for a tool.
// Tools that do not implement TieredTool are treated as high risk so that an
// unclassified capability never slips through an allow-list by accident.
func ToolTier(t Tool) int {
	if tt, ok := t.(TieredTool); ok {
		return tt.Tier()
	}
	return TierHighRisk
}

// Definition is the catalogue entry handed to the intent resolver.
type Definition struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Tier        int    `json:"tier"`
	Schema      Schema `json:"parameters"`
}

// Registry manages tool registration and lookup. It is filled once at
// startup and only read afterwards, so concurrent runs can share it.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
	order []string
}

// NewRegistry creates a new tool registry.
func NewRegistry() *Registry {
	return &Registry{
		tools: make(map[string]Tool),
	}
}

// Register adds a tool to the registry.
func (r *Registry) Register(tool Tool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	name := tool.Name()
	if _, exists := r.tools[name]; exists {
		return &DuplicateToolError{Name: name}
	}
	r.tools[name] = tool
	r.order = append(r.order, name)
	return nil
}

// RegisterAll registers tools in order and stops at the first failure.
func (r *Registry) RegisterAll(tools ...Tool) error {
	for _, t := range tools {
		if err := r.Register(t); err != nil {
			return err
		}
	}
	return nil
}

// Get returns a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.tools[name]
	return tool, ok
}

// Resolve returns the named tool or an UnknownToolError listing what exists.
func (r *Registry) Resolve(name string) (Tool, error) {
	if tool, ok := r.Get(name); ok {
		return tool, nil
	}
	return nil, &UnknownToolError{Name: name, Available: r.Names()}
}

// Validate resolves the tool and checks args against its schema.
func (r *Registry) Validate(name string, args map[string]any) (Tool, error) {
	tool, err := r.Resolve(name)
	if err != nil {
		return nil, err
	}
	if err := tool.Schema().Validate(name, args); err != nil {
		return tool, err
	}
	return tool, nil
}

// Names returns registered tool names sorted alphabetically.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// List returns all registered tools in registration order.
func (r *Registry) List() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make([]Tool, 0, len(r.order))
	for _, name := range r.order {
		result = append(result, r.tools[name])
	}
	return result
}

// Definitions returns the tool catalogue in registration order.
func (r *Registry) Definitions() []Definition {
	list := r.List()
	result := make([]Definition, 0, len(list))
	for _, tool := range list {
		result = append(result, Definition{
			Name:        tool.Name(),
			Description: tool.Description(),
			Tier:        ToolTier(tool),
			Schema:      tool.Schema(),
		})
	}
	return result
}
