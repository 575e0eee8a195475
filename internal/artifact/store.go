// Package artifact stores the named values plan steps produce. Each artifact
// is written once by exactly one step; later steps that discover an earlier
// value was wrong apply an explicit correction rather than writing a new
// artifact, and every correction is kept in an ordered log.
package artifact

import (
	"errors"
	"fmt"
	"sort"
)

var (
	// ErrDuplicate is returned when a second step writes an artifact name
	// that already exists. Corrections are the only sanctioned overwrite.
	ErrDuplicate = errors.New("artifact already written")
	// ErrUnknown is returned when reading or correcting a name never written.
	ErrUnknown = errors.New("unknown artifact")
)

// Correction records one explicit rewrite of an artifact value.
type Correction struct {
	OldValue interface{} `json:"old_value"`
	NewValue interface{} `json:"new_value"`
	StepID   string      `json:"step_id"`
	Reason   string      `json:"reason"`
}

// Artifact is a named output value plus its correction history.
type Artifact struct {
	Name             string       `json:"name"`
	Value            interface{}  `json:"value"`
	LastWriterStepID string       `json:"last_writer_step_id"`
	Corrections      []Correction `json:"corrections,omitempty"`
}

// Store holds the artifacts of one task. It is owned by a single task's
// executor and mutated only between external calls, so it needs no locking.
type Store struct {
	byName map[string]*Artifact
	order  []string
}

// NewStore creates an empty artifact store.
func NewStore() *Store {
	return &Store{byName: make(map[string]*Artifact)}
}

// Put writes a new artifact. Writing an existing name fails; use Correct.
func (s *Store) Put(name string, value interface{}, stepID string) error {
	if name == "" {
		return fmt.Errorf("artifact name is required")
	}
	if _, exists := s.byName[name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicate, name)
	}
	s.byName[name] = &Artifact{Name: name, Value: value, LastWriterStepID: stepID}
	s.order = append(s.order, name)
	return nil
}

// Correct rewrites an existing artifact, appending to its correction history.
// Later readers always observe the corrected value.
func (s *Store) Correct(name string, newValue interface{}, stepID, reason string) error {
	a, ok := s.byName[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknown, name)
	}
	a.Corrections = append(a.Corrections, Correction{
		OldValue: a.Value,
		NewValue: newValue,
		StepID:   stepID,
		Reason:   reason,
	})
	a.Value = newValue
	a.LastWriterStepID = stepID
	return nil
}

// Get returns the current value of an artifact.
func (s *Store) Get(name string) (interface{}, error) {
	a, ok := s.byName[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknown, name)
	}
	return a.Value, nil
}

// Has reports whether an artifact exists.
func (s *Store) Has(name string) bool {
	_, ok := s.byName[name]
	return ok
}

// History returns the correction log for an artifact.
func (s *Store) History(name string) ([]Correction, error) {
	a, ok := s.byName[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknown, name)
	}
	out := make([]Correction, len(a.Corrections))
	copy(out, a.Corrections)
	return out, nil
}

// Snapshot returns name -> current value for all artifacts, for inclusion in
// step prompts and final results.
func (s *Store) Snapshot() map[string]interface{} {
	out := make(map[string]interface{}, len(s.byName))
	for name, a := range s.byName {
		out[name] = a.Value
	}
	return out
}

// All returns every artifact in write order.
func (s *Store) All() []Artifact {
	out := make([]Artifact, 0, len(s.order))
	for _, name := range s.order {
		a := s.byName[name]
		cp := *a
		cp.Corrections = make([]Correction, len(a.Corrections))
		copy(cp.Corrections, a.Corrections)
		out = append(out, cp)
	}
	return out
}

// Names returns all artifact names, sorted.
func (s *Store) Names() []string {
	names := make([]string, 0, len(s.byName))
	for n := range s.byName {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
