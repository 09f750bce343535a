package tool

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"mcpreview/internal/domain"
)

// Registry is the fixed set of tools known to the process.
// Tools are registered at startup; after that the registry is only read.
type Registry struct {
	mu     sync.RWMutex
	tools  map[string]domain.Tool
	names  []string // sorted, for deterministic catalogs
	logger *slog.Logger
}

func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		tools:  make(map[string]domain.Tool),
		logger: logger,
	}
}

// Register adds a tool. Names are stable identifiers, so a duplicate is an error.
func (r *Registry) Register(t domain.Tool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	name := t.Name()
	if name == "" {
		return fmt.Errorf("tool has empty name")
	}
	if _, exists := r.tools[name]; exists {
		return fmt.Errorf("tool %q already registered", name)
	}
	r.tools[name] = t
	idx, _ := slices.BinarySearch(r.names, name)
	r.names = slices.Insert(r.names, idx, name)
	r.logger.Debug("registered tool", "name", name, "capabilities", t.RequiredCapabilities())
	return nil
}

// MustRegister is Register for startup wiring where a duplicate is a programming error.
func (r *Registry) MustRegister(tools ...domain.Tool) {
	for _, t := range tools {
		if err := r.Register(t); err != nil {
			panic(err)
		}
	}
}

// Lookup returns the registered tool instance for name.
func (r *Registry) Lookup(name string) (domain.Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Names returns all registered tool names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.names)
}

// Catalog returns the schema-only view of every tool that is currently available,
// sorted by name. Schemas are copies; editing them does not change what the
// tools validate against.
func (r *Registry) Catalog(ctx context.Context) []domain.ToolSchema {
	r.mu.RLock()
	tools := make([]domain.Tool, 0, len(r.names))
	for _, n := range r.names {
		tools = append(tools, r.tools[n])
	}
	r.mu.RUnlock()

	catalog := make([]domain.ToolSchema, 0, len(tools))
	for _, t := range tools {
		if !t.Available(ctx) {
			r.logger.Debug("tool unavailable, omitted from catalog", "tool", t.Name())
			continue
		}
		catalog = append(catalog, domain.ToolSchema{
			Name:        t.Name(),
			Description: t.Description(),
			InputSchema: CloneSchema(t.InputSchema()),
		})
	}
	return catalog
}
