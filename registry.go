package agenticrag

import (
	"iter"
	"sync"
)

// Registry holds the closed set of capabilities the analyzer may choose
// from. Registration happens once at process start; enable/disable is a
// rare administrative operation. Lookup is safe for concurrent use, and
// dispatch works against a point-in-time snapshot so an administrative
// toggle cannot race an in-flight batch.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*registryEntry
	order   []string
}

type registryEntry struct {
	tool    Tool
	enabled bool
}

// NewRegistry creates an empty tool registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]*registryEntry)}
}

// Register adds a tool, enabled by default. It fails with DUPLICATE_TOOL if
// the name is already taken.
func (r *Registry) Register(tool Tool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := tool.Name()
	if _, exists := r.entries[name]; exists {
		return NewDuplicateToolError(name)
	}
	r.entries[name] = &registryEntry{tool: tool, enabled: true}
	r.order = append(r.order, name)
	return nil
}

// Lookup returns the tool regardless of its enabled state.
func (r *Registry) Lookup(name string) (Tool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, exists := r.entries[name]
	if !exists {
		return nil, NewToolNotFoundError("registry", name)
	}
	return entry.tool, nil
}

// SetEnabled toggles a tool's availability to the analyzer and dispatcher.
// In-flight batches keep the snapshot they started with.
func (r *Registry) SetEnabled(name string, enabled bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, exists := r.entries[name]
	if !exists {
		return NewToolNotFoundError("registry", name)
	}
	entry.enabled = enabled
	return nil
}

// Enabled returns the currently enabled tools as a lazy, restartable
// sequence in registration order. Order matters only for display.
func (r *Registry) Enabled() iter.Seq[Tool] {
	return func(yield func(Tool) bool) {
		for _, tool := range r.enabledSlice() {
			if !yield(tool) {
				return
			}
		}
	}
}

func (r *Registry) enabledSlice() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tools := make([]Tool, 0, len(r.order))
	for _, name := range r.order {
		if entry := r.entries[name]; entry.enabled {
			tools = append(tools, entry.tool)
		}
	}
	return tools
}

// Snapshot returns the enabled set as an immutable map for one dispatch
// batch.
func (r *Registry) Snapshot() map[string]Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	snapshot := make(map[string]Tool, len(r.entries))
	for name, entry := range r.entries {
		if entry.enabled {
			snapshot[name] = entry.tool
		}
	}
	return snapshot
}

// Schemas returns the schemas of the enabled tools only. Disabled tools are
// never exposed to the analyzer.
func (r *Registry) Schemas() map[string]map[string]interface{} {
	schemas := make(map[string]map[string]interface{})
	for tool := range r.Enabled() {
		schemas[tool.Name()] = tool.Schema()
	}
	return schemas
}

// Names returns all registered tool names in registration order, including
// disabled ones.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, len(r.order))
	copy(names, r.order)
	return names
}
