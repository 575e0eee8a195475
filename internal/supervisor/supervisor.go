// Package supervisor runs one task end to end: plan, execute each step,
// replan on escalation, and finalize. It owns the per-task stores and
// enforces the finalization invariant that no toolset is still fetched when
// the result is produced.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/taskwright/taskwright/internal/artifact"
	"github.com/taskwright/taskwright/internal/compact"
	"github.com/taskwright/taskwright/internal/executor"
	"github.com/taskwright/taskwright/internal/history"
	"github.com/taskwright/taskwright/internal/inference"
	"github.com/taskwright/taskwright/internal/planner"
	"github.com/taskwright/taskwright/internal/telemetry"
	"github.com/taskwright/taskwright/internal/toolset"
)

// DefaultMaxReplans bounds how many replacement plans one task may consume.
const DefaultMaxReplans = 2

var (
	// ErrCleanupViolation means toolsets were still fetched at finalization.
	ErrCleanupViolation = errors.New("fetched toolsets remain at finalization")
	// ErrVerbatimReplan means a replacement plan restated the failing step
	// unchanged instead of taking a different approach.
	ErrVerbatimReplan = errors.New("replan restates the failing step verbatim")
)

// Task is one unit of work submitted to the control core.
type Task struct {
	ID   string `json:"id"`
	Goal string `json:"goal"`
}

// Outcome values carried on Result.
const (
	OutcomeCompleted = "completed"
	OutcomeFailed    = "failed"
)

// Result is what a finished task leaves behind: its artifacts in write
// order, the full conversation log, and the last plan with final statuses.
type Result struct {
	TaskID    string              `json:"task_id"`
	Goal      string              `json:"goal"`
	Outcome   string              `json:"outcome"`
	Reason    string              `json:"reason,omitempty"`
	Artifacts []artifact.Artifact `json:"artifacts,omitempty"`
	Plan      *planner.Plan       `json:"plan,omitempty"`
	History   []history.Turn      `json:"-"`
	Replans   int                 `json:"replans"`
	Duration  time.Duration       `json:"duration_ns"`
}

// Supervisor builds per-task stores and drives tasks. It is safe to share
// across worker goroutines; all mutable state is per Run call.
type Supervisor struct {
	catalog   *toolset.Catalog
	source    planner.Source
	provider  inference.Provider
	clarifier inference.Clarifier
	policy    compact.Policy
	tel       *telemetry.Telemetry
	logger    *log.Logger

	execCfg    executor.Config
	maxReplans int

	// preFinalize runs after cleanup and before the invariant check.
	preFinalize func(*toolset.Manager)
}

// Config carries the supervisor tunables.
type Config struct {
	MaxReplans int
	Executor   executor.Config
}

// New creates a supervisor. clarifier may be nil.
func New(
	catalog *toolset.Catalog,
	source planner.Source,
	provider inference.Provider,
	clarifier inference.Clarifier,
	policy compact.Policy,
	tel *telemetry.Telemetry,
	cfg Config,
) *Supervisor {
	if cfg.MaxReplans < 0 {
		cfg.MaxReplans = 0
	} else if cfg.MaxReplans == 0 {
		cfg.MaxReplans = DefaultMaxReplans
	}
	if tel == nil {
		tel = telemetry.NewNop()
	}
	return &Supervisor{
		catalog:    catalog,
		source:     source,
		provider:   provider,
		clarifier:  clarifier,
		policy:     policy,
		tel:        tel,
		logger:     telemetry.NewLogger("SUPERVISOR"),
		execCfg:    cfg.Executor,
		maxReplans: cfg.MaxReplans,
	}
}

// Run executes one task to completion or failure. The returned Result is
// non-nil whenever the error is nil or a task-level failure; only context
// cancellation and invariant violations return a nil Result.
func (s *Supervisor) Run(ctx context.Context, task Task) (*Result, error) {
	start := time.Now()
	hist := history.NewStore()
	arts := artifact.NewStore()
	mgr := toolset.NewManager(s.catalog)

	if err := hist.Append(history.Turn{
		Kind:         history.KindRequest,
		Instructions: "You are executing one step of a plan toward the stated goal.",
		Parts:        []history.Part{history.UserPromptPart{Content: task.Goal, Timestamp: time.Now().UTC()}},
	}); err != nil {
		return nil, err
	}

	_, available := mgr.Snapshot()
	plan, err := s.source.Plan(ctx, task.Goal, available)
	if err != nil {
		return s.finalize(ctx, task, nil, hist, arts, mgr, start, 0, fmt.Errorf("planning: %w", err))
	}
	s.logger.Printf("task %s planned with %d steps", task.ID, len(plan.Steps))

	replans := 0
	for {
		esc, runErr := s.runPlan(ctx, plan, mgr, arts, hist)
		if runErr != nil {
			return s.finalize(ctx, task, plan, hist, arts, mgr, start, replans, runErr)
		}
		if esc == nil {
			return s.finalize(ctx, task, plan, hist, arts, mgr, start, replans, nil)
		}
		if replans >= s.maxReplans {
			return s.finalize(ctx, task, plan, hist, arts, mgr, start, replans,
				fmt.Errorf("replan budget exhausted: %w", esc))
		}

		failed, _ := plan.Step(esc.StepID)
		next, err := s.source.Replan(ctx, task.Goal, available, plan, esc)
		if err != nil {
			return s.finalize(ctx, task, plan, hist, arts, mgr, start, replans, fmt.Errorf("replanning: %w", err))
		}
		if failed != nil {
			if v := verbatimStep(next, failed); v != "" {
				return s.finalize(ctx, task, plan, hist, arts, mgr, start, replans,
					fmt.Errorf("%w: step %s", ErrVerbatimReplan, v))
			}
		}
		replans++
		s.tel.ReplansTotal.Inc()
		s.logger.Printf("task %s replanned (%d/%d) after step %s: %s",
			task.ID, replans, s.maxReplans, esc.StepID, esc.Status)
		plan = next
	}
}

// runPlan executes a plan's steps in order. It returns the escalation of
// the first step that could not complete, or a non-nil error for fatal
// failures (unknown toolset, cancellation).
func (s *Supervisor) runPlan(ctx context.Context, plan *planner.Plan, mgr *toolset.Manager, arts *artifact.Store, hist *history.Store) (*planner.Escalation, error) {
	exec := executor.New(mgr, arts, hist, s.policy, s.provider, s.clarifier, s.tel, s.execCfg)
	for _, step := range plan.Steps {
		if step.Status == planner.StatusCompleted {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		err := exec.RunStep(ctx, step)
		if err == nil {
			continue
		}
		var esc *planner.Escalation
		if errors.As(err, &esc) {
			return esc, nil
		}
		return nil, err
	}
	return nil, nil
}

// finalize drops every fetched toolset, checks the cleanup invariant, and
// assembles the Result. A cleanup violation is fatal regardless of how the
// task itself went.
func (s *Supervisor) finalize(ctx context.Context, task Task, plan *planner.Plan, hist *history.Store, arts *artifact.Store, mgr *toolset.Manager, start time.Time, replans int, taskErr error) (*Result, error) {
	fetched, _ := mgr.Snapshot()
	if len(fetched) > 0 {
		if err := mgr.Drop(fetched); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCleanupViolation, err)
		}
		s.logger.Printf("task %s dropped %d toolset(s) at finalization", task.ID, len(fetched))
	}
	if s.preFinalize != nil {
		s.preFinalize(mgr)
	}
	if fetched, _ := mgr.Snapshot(); len(fetched) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrCleanupViolation, strings.Join(fetched, ", "))
	}

	if taskErr != nil && ctx.Err() != nil && errors.Is(taskErr, ctx.Err()) {
		return nil, taskErr
	}

	res := &Result{
		TaskID:    task.ID,
		Goal:      task.Goal,
		Outcome:   OutcomeCompleted,
		Artifacts: arts.All(),
		Plan:      plan,
		History:   hist.Turns(),
		Replans:   replans,
		Duration:  time.Since(start),
	}
	if taskErr != nil {
		res.Outcome = OutcomeFailed
		res.Reason = taskErr.Error()
	}
	s.tel.RecordTask(res.Outcome)
	s.logger.Printf("task %s finished %s in %v (%d artifacts, %d replans)",
		task.ID, res.Outcome, res.Duration.Round(time.Millisecond), len(res.Artifacts), replans)
	return res, nil
}

// verbatimStep returns the id of a step in next whose description matches
// the failed step's description unchanged, or "" when none does.
func verbatimStep(next *planner.Plan, failed *planner.Step) string {
	want := strings.TrimSpace(strings.ToLower(failed.Description))
	for _, st := range next.Steps {
		if strings.TrimSpace(strings.ToLower(st.Description)) == want {
			return st.ID
		}
	}
	return ""
}
