package toolset

import (
	"errors"
	"fmt"
	"sort"
)

var (
	// ErrAlreadyFetched is returned by Fetch for a toolset already held.
	ErrAlreadyFetched = errors.New("toolset already fetched")
	// ErrNotFetched is returned by Drop for a toolset not currently held.
	ErrNotFetched = errors.New("toolset not fetched")
	// ErrUnknownToolset is returned for a name the catalog does not know.
	// Unlike the other two, this indicates a malformed plan and is fatal to
	// the step that requested it.
	ErrUnknownToolset = errors.New("unknown toolset")
	// ErrUnresolved marks a tool failure caused by an input reference the
	// tool could not resolve (a name, key or identifier with no entry).
	// Handlers wrap it so the executor can classify the failure.
	ErrUnresolved = errors.New("unresolved reference")
)

// Manager tracks the fetched/available partition of the catalog's toolset
// names for the lifetime of one task. The two sets are always disjoint and
// their union is the full known set. A Manager is owned by a single task and
// mutated only by its step executor; it needs no locking.
type Manager struct {
	catalog *Catalog
	fetched map[string]bool
}

// NewManager creates a manager with every known toolset available.
func NewManager(catalog *Catalog) *Manager {
	return &Manager{catalog: catalog, fetched: make(map[string]bool)}
}

// Fetch moves a toolset from available to fetched and returns its callable
// bundle for the executor to attach to the next inference call.
func (m *Manager) Fetch(name string) ([]Tool, error) {
	if m.fetched[name] {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyFetched, name)
	}
	bundle, ok := m.catalog.Bundle(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownToolset, name)
	}
	m.fetched[name] = true
	return bundle, nil
}

// Drop moves the given toolsets back to available. It fails, without
// mutating anything, if any name is not currently fetched.
func (m *Manager) Drop(names []string) error {
	for _, name := range names {
		if !m.fetched[name] {
			return fmt.Errorf("%w: %s", ErrNotFetched, name)
		}
	}
	for _, name := range names {
		delete(m.fetched, name)
	}
	return nil
}

// Snapshot returns the current fetched and available name sets, each sorted.
func (m *Manager) Snapshot() (fetched, available []string) {
	for _, name := range m.catalog.Names() {
		if m.fetched[name] {
			fetched = append(fetched, name)
		} else {
			available = append(available, name)
		}
	}
	sort.Strings(fetched)
	sort.Strings(available)
	return fetched, available
}

// Tools returns the callable tools of every fetched toolset, ordered by
// toolset name. This is the bundle the executor attaches to inference calls.
func (m *Manager) Tools() []Tool {
	fetched, _ := m.Snapshot()
	var out []Tool
	for _, name := range fetched {
		bundle, ok := m.catalog.Bundle(name)
		if !ok {
			continue
		}
		out = append(out, bundle...)
	}
	return out
}

// Fetched reports whether the named toolset is currently held.
func (m *Manager) Fetched(name string) bool { return m.fetched[name] }
