// Package toolset manages named bundles of callable tools. A catalog groups
// tools into toolsets; a per-task Manager tracks which toolsets are currently
// fetched and which are available, and hands out the callable bundles.
package toolset

import (
	"context"
	"fmt"
	"sort"
)

// Handler executes one tool call with parsed arguments.
type Handler func(ctx context.Context, args map[string]interface{}) (string, error)

// Tool is a single callable function inside a toolset.
type Tool struct {
	Name        string
	Description string
	Handler     Handler
}

// Catalog is the registry of known toolsets. It is built once at startup and
// read-only afterwards, so it can be shared across tasks.
type Catalog struct {
	sets map[string][]Tool
}

// NewCatalog creates an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{sets: make(map[string][]Tool)}
}

// Register adds a named toolset. It fails on duplicate names, empty bundles,
// and tools without a handler.
func (c *Catalog) Register(name string, tools []Tool) error {
	if name == "" {
		return fmt.Errorf("toolset name is required")
	}
	if _, exists := c.sets[name]; exists {
		return fmt.Errorf("toolset %q already registered", name)
	}
	if len(tools) == 0 {
		return fmt.Errorf("toolset %q has no tools", name)
	}
	for _, t := range tools {
		if t.Name == "" {
			return fmt.Errorf("toolset %q contains a tool without a name", name)
		}
		if t.Handler == nil {
			return fmt.Errorf("tool %s in toolset %q has no handler", t.Name, name)
		}
	}
	bundle := make([]Tool, len(tools))
	copy(bundle, tools)
	c.sets[name] = bundle
	return nil
}

// Names returns all registered toolset names, sorted.
func (c *Catalog) Names() []string {
	names := make([]string, 0, len(c.sets))
	for n := range c.sets {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Bundle returns the tools of a toolset.
func (c *Catalog) Bundle(name string) ([]Tool, bool) {
	b, ok := c.sets[name]
	if !ok {
		return nil, false
	}
	out := make([]Tool, len(b))
	copy(out, b)
	return out, true
}

// Len reports the number of registered toolsets.
func (c *Catalog) Len() int { return len(c.sets) }
