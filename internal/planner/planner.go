// Package planner defines the plan data model and the planning collaborator
// contract. A plan is created once, is immutable in structure, and only step
// status, attempt counts, and artifacts mutate during execution.
package planner

import (
	"fmt"
	"strings"
)

// Status is the execution state of one step.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusNeedsHelp Status = "needs_help"
	StatusBlocked   Status = "blocked"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Terminal reports whether a status ends the step at the plan level.
// NeedsHelp and Blocked end the step but not the task: they trigger
// replanning rather than retry of the same step text.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusNeedsHelp, StatusBlocked, StatusFailed:
		return true
	}
	return false
}

// Step is one atomic unit of a plan. Exactly one artifact name per step.
type Step struct {
	ID               string   `json:"id"`
	Description      string   `json:"description"`
	RequiredToolsets []string `json:"required_toolsets,omitempty"`
	ProducedArtifact string   `json:"produced_artifact"`
	Status           Status   `json:"status"`
	AttemptCount     int      `json:"attempt_count"`
}

// Plan is an ordered list of steps toward one goal.
type Plan struct {
	ID    string  `json:"id"`
	Goal  string  `json:"goal"`
	Steps []*Step `json:"steps"`
}

// Step returns the step with the given id.
func (p *Plan) Step(id string) (*Step, bool) {
	for _, s := range p.Steps {
		if s.ID == id {
			return s, true
		}
	}
	return nil, false
}

// Escalation is the structured failure reason carried from a step that could
// not complete to the replanning collaborator. It satisfies error so it can
// surface through normal error paths without being swallowed.
type Escalation struct {
	StepID      string   `json:"step_id"`
	Status      Status   `json:"status"` // needs_help or blocked
	Reason      string   `json:"reason"`
	FailedInput string   `json:"failed_input,omitempty"`
	Attempts    []string `json:"attempts,omitempty"`
}

func (e *Escalation) Error() string {
	return fmt.Sprintf("step %s escalated (%s): %s", e.StepID, e.Status, e.Reason)
}

// Validate checks the structural invariants of a freshly created plan:
// non-empty ordered steps, unique step ids, exactly one produced artifact per
// step, and no artifact name claimed by more than one step.
func Validate(p *Plan) error {
	if p == nil || len(p.Steps) == 0 {
		return fmt.Errorf("plan has no steps")
	}
	stepIDs := make(map[string]bool, len(p.Steps))
	artifacts := make(map[string]string, len(p.Steps))
	for i, s := range p.Steps {
		if s == nil {
			return fmt.Errorf("step %d is nil", i)
		}
		if strings.TrimSpace(s.ID) == "" {
			return fmt.Errorf("step %d has no id", i)
		}
		if stepIDs[s.ID] {
			return fmt.Errorf("duplicate step id %q", s.ID)
		}
		stepIDs[s.ID] = true
		if strings.TrimSpace(s.Description) == "" {
			return fmt.Errorf("step %s has no description", s.ID)
		}
		if strings.TrimSpace(s.ProducedArtifact) == "" {
			return fmt.Errorf("step %s produces no artifact", s.ID)
		}
		if owner, taken := artifacts[s.ProducedArtifact]; taken {
			return fmt.Errorf("artifact %q produced by both %s and %s", s.ProducedArtifact, owner, s.ID)
		}
		artifacts[s.ProducedArtifact] = s.ID
		if s.Status == "" {
			s.Status = StatusPending
		}
		if s.Status != StatusPending {
			return fmt.Errorf("step %s starts in state %s, want %s", s.ID, s.Status, StatusPending)
		}
	}
	return nil
}
