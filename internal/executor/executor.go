// Package executor drives a single plan step from Pending to a terminal
// status. It owns the attempt loop: fetch the step's toolsets, compact the
// conversation log, call the inference collaborator, execute requested tools,
// and commit the step's artifact. Recoverable failures are retried with
// varied input; exhausted retries escalate instead of failing the task.
package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/taskwright/taskwright/internal/artifact"
	"github.com/taskwright/taskwright/internal/compact"
	"github.com/taskwright/taskwright/internal/history"
	"github.com/taskwright/taskwright/internal/inference"
	"github.com/taskwright/taskwright/internal/planner"
	"github.com/taskwright/taskwright/internal/telemetry"
	"github.com/taskwright/taskwright/internal/toolset"
)

const (
	// DefaultMaxAttempts bounds retries of one step before escalation.
	DefaultMaxAttempts = 3
	// DefaultCallTimeout bounds one inference or tool handler call.
	DefaultCallTimeout = 120 * time.Second
	// maxToolRounds bounds tool_call round trips inside one attempt so a
	// model that keeps requesting tools cannot spin forever.
	maxToolRounds = 16
)

// Executor runs steps against one task's stores. It is owned by a single
// task supervisor and is not safe for concurrent use.
type Executor struct {
	toolsets  *toolset.Manager
	artifacts *artifact.Store
	log       *history.Store
	policy    compact.Policy
	provider  inference.Provider
	clarifier inference.Clarifier
	tel       *telemetry.Telemetry
	logger    *log.Logger

	maxAttempts int
	callTimeout time.Duration

	clarified bool
}

// Config carries the tunables callers commonly set. Zero values fall back
// to the defaults above.
type Config struct {
	MaxAttempts int
	CallTimeout time.Duration
}

// New creates a step executor. clarifier may be nil when no human channel
// exists; the executor then escalates directly after exhausting retries.
func New(
	mgr *toolset.Manager,
	arts *artifact.Store,
	hist *history.Store,
	policy compact.Policy,
	provider inference.Provider,
	clarifier inference.Clarifier,
	tel *telemetry.Telemetry,
	cfg Config,
) *Executor {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = DefaultCallTimeout
	}
	if tel == nil {
		tel = telemetry.NewNop()
	}
	return &Executor{
		toolsets:    mgr,
		artifacts:   arts,
		log:         hist,
		policy:      policy,
		provider:    provider,
		clarifier:   clarifier,
		tel:         tel,
		logger:      telemetry.NewLogger("EXECUTOR"),
		maxAttempts: cfg.MaxAttempts,
		callTimeout: cfg.CallTimeout,
	}
}

// attemptError is a recoverable failure of one attempt. The class decides
// the escalation status once retries are exhausted: unresolved references
// block the step, everything else asks for help.
type attemptError struct {
	class string
	err   error
}

const (
	classUnresolved = "unresolved_reference"
	classTool       = "tool_failure"
	classInference  = "inference_failure"
	classDecision   = "malformed_decision"
)

func (a *attemptError) Error() string { return a.err.Error() }
func (a *attemptError) Unwrap() error { return a.err }

func classify(class string, err error) *attemptError {
	if errors.Is(err, toolset.ErrUnresolved) {
		class = classUnresolved
	}
	return &attemptError{class: class, err: err}
}

// RunStep drives one step to a terminal status. It returns nil when the
// step completed, a *planner.Escalation when it ended NeedsHelp or Blocked,
// and a plain error (wrapping toolset.ErrUnknownToolset) when the plan
// referenced a toolset that does not exist; only that last case marks the
// step Failed.
func (e *Executor) RunStep(ctx context.Context, step *planner.Step) error {
	step.Status = planner.StatusRunning
	e.logger.Printf("step %s running: %s", step.ID, truncate(step.Description, 120))

	if err := e.fetchRequired(step); err != nil {
		step.Status = planner.StatusFailed
		e.tel.RecordStep(string(step.Status))
		return err
	}
	tools := e.toolsets.Tools()

	var attempts []string
	var lastErr *attemptError
	for attempt := 1; attempt <= e.maxAttempts; attempt++ {
		step.AttemptCount++
		if attempt > 1 {
			e.tel.StepRetriesTotal.Inc()
		}
		input := e.stepPrompt(step, attempt, lastErr)
		attempts = append(attempts, input)

		err := e.runAttempt(ctx, step, tools, input)
		if err == nil {
			step.Status = planner.StatusCompleted
			e.tel.RecordStep(string(step.Status))
			e.logger.Printf("step %s completed after %d attempt(s)", step.ID, step.AttemptCount)
			return nil
		}
		var ae *attemptError
		if !errors.As(err, &ae) {
			// Context cancellation and store corruption are not retried.
			step.Status = planner.StatusFailed
			e.tel.RecordStep(string(step.Status))
			return err
		}
		lastErr = ae
		e.logger.Printf("step %s attempt %d failed (%s): %v", step.ID, attempt, ae.class, ae.err)
	}

	if e.clarifier != nil && !e.clarified {
		e.clarified = true
		e.tel.ClarificationsTotal.Inc()
		input, err := e.askClarification(ctx, step, lastErr)
		if err != nil {
			e.logger.Printf("step %s clarification unavailable: %v", step.ID, err)
		} else {
			step.AttemptCount++
			attempts = append(attempts, input)
			runErr := e.runAttempt(ctx, step, tools, input)
			if runErr == nil {
				step.Status = planner.StatusCompleted
				e.tel.RecordStep(string(step.Status))
				return nil
			}
			if !errors.As(runErr, &lastErr) {
				step.Status = planner.StatusFailed
				e.tel.RecordStep(string(step.Status))
				return runErr
			}
			e.logger.Printf("step %s clarified attempt failed: %v", step.ID, lastErr.err)
		}
	}

	status := planner.StatusNeedsHelp
	if lastErr != nil && lastErr.class == classUnresolved {
		status = planner.StatusBlocked
	}
	step.Status = status
	e.tel.RecordStep(string(status))
	esc := &planner.Escalation{
		StepID:   step.ID,
		Status:   status,
		Reason:   fmt.Sprintf("%s: %v", lastErr.class, lastErr.err),
		Attempts: attempts,
	}
	if len(attempts) > 0 {
		esc.FailedInput = attempts[len(attempts)-1]
	}
	e.logger.Printf("step %s escalated as %s: %s", step.ID, status, esc.Reason)
	return esc
}

// fetchRequired fetches the step's toolsets. Already holding one is fine;
// an unknown name is fatal to the step.
func (e *Executor) fetchRequired(step *planner.Step) error {
	for _, name := range step.RequiredToolsets {
		if _, err := e.toolsets.Fetch(name); err != nil {
			if errors.Is(err, toolset.ErrAlreadyFetched) {
				continue
			}
			return fmt.Errorf("step %s: %w", step.ID, err)
		}
		e.logger.Printf("step %s fetched toolset %s", step.ID, name)
	}
	return nil
}

// runAttempt appends the attempt's request turn, then loops inference and
// tool execution until the model produces a result. A nil return means the
// step's artifact has been committed.
func (e *Executor) runAttempt(ctx context.Context, step *planner.Step, tools []toolset.Tool, input string) error {
	if err := e.log.Append(history.Turn{
		Kind:  history.KindRequest,
		Parts: []history.Part{history.UserPromptPart{Content: input, Timestamp: time.Now().UTC()}},
	}); err != nil {
		return err
	}

	for round := 0; round < maxToolRounds; round++ {
		dec, err := e.infer(ctx, tools)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return classify(classInference, err)
		}

		switch dec.Kind {
		case inference.DecisionToolCall:
			if err := e.executeToolCall(ctx, tools, dec.ToolCall); err != nil {
				return err
			}
		case inference.DecisionStepResult:
			return e.commitResult(step, dec.Result)
		case inference.DecisionFinal:
			return e.commitResult(step, &inference.StepResult{Value: dec.Text})
		default:
			return classify(classDecision, fmt.Errorf("unsupported decision kind %q", dec.Kind))
		}
	}
	return classify(classDecision, fmt.Errorf("no result after %d tool rounds", maxToolRounds))
}

// infer compacts the canonical log into the call's view and sends it to the
// provider. The canonical log itself is never mutated by compaction.
func (e *Executor) infer(ctx context.Context, tools []toolset.Tool) (inference.Decision, error) {
	full := e.log.Turns()
	compacted := compact.Compact(full, e.policy)
	e.tel.RecordCompaction(
		compact.PartCount(full)-compact.PartCount(compacted),
		compact.TextSize(full)-compact.TextSize(compacted),
	)

	callCtx, cancel := context.WithTimeout(ctx, e.callTimeout)
	defer cancel()
	start := time.Now()
	dec, err := e.provider.Infer(callCtx, compacted, tools)
	e.tel.ObserveInference(time.Since(start))
	return dec, err
}

// executeToolCall records the model's call, runs the handler, and records
// the return so the evidence that the call happened stays in the log even
// when the return content is later compacted away.
func (e *Executor) executeToolCall(ctx context.Context, tools []toolset.Tool, call *inference.ToolCallRequest) error {
	if call == nil || call.ToolName == "" {
		return classify(classDecision, fmt.Errorf("tool call without a tool name"))
	}
	callID := call.CallID
	if callID == "" {
		callID = uuid.NewString()
	}
	if err := e.log.Append(history.Turn{
		Kind: history.KindResponse,
		Parts: []history.Part{history.ToolCallPart{
			ToolName: call.ToolName,
			Args:     call.Args,
			CallID:   callID,
		}},
	}); err != nil {
		return err
	}

	var handler toolset.Handler
	for _, t := range tools {
		if t.Name == call.ToolName {
			handler = t.Handler
			break
		}
	}
	if handler == nil {
		err := fmt.Errorf("tool %q is not in any fetched toolset", call.ToolName)
		if appendErr := e.appendToolReturn(call.ToolName, "error: "+err.Error(), callID); appendErr != nil {
			return appendErr
		}
		return classify(classTool, err)
	}

	callCtx, cancel := context.WithTimeout(ctx, e.callTimeout)
	defer cancel()
	start := time.Now()
	content, err := handler(callCtx, call.Args)
	e.tel.ObserveToolCall(time.Since(start))
	if err != nil {
		content = "error: " + err.Error()
	}
	if appendErr := e.appendToolReturn(call.ToolName, content, callID); appendErr != nil {
		return appendErr
	}
	if err != nil {
		return classify(classTool, fmt.Errorf("tool %s: %w", call.ToolName, err))
	}
	return nil
}

func (e *Executor) appendToolReturn(toolName, content, callID string) error {
	return e.log.Append(history.Turn{
		Kind: history.KindRequest,
		Parts: []history.Part{history.ToolReturnPart{
			ToolName:  toolName,
			Content:   content,
			CallID:    callID,
			Timestamp: time.Now().UTC(),
		}},
	})
}

// commitResult applies the step result atomically: every artifact update is
// validated before any write, so a half-valid result changes nothing.
func (e *Executor) commitResult(step *planner.Step, res *inference.StepResult) error {
	if res == nil {
		return classify(classDecision, fmt.Errorf("step result is empty"))
	}
	for name := range res.ArtifactUpdates {
		if name == step.ProducedArtifact {
			return classify(classDecision, fmt.Errorf("artifact %q is this step's own output, not an update", name))
		}
		if !e.artifacts.Has(name) {
			return classify(classDecision, fmt.Errorf("artifact update references unknown artifact %q", name))
		}
	}
	for name, value := range res.ArtifactUpdates {
		if err := e.artifacts.Correct(name, value, step.ID, "corrected by later step"); err != nil {
			return err
		}
		e.logger.Printf("step %s corrected artifact %s", step.ID, name)
	}
	if step.ProducedArtifact != "" {
		// A replacement plan may reuse an artifact name a discarded plan
		// already wrote; that lands as a correction, keeping both values
		// in the artifact's history.
		if e.artifacts.Has(step.ProducedArtifact) {
			if err := e.artifacts.Correct(step.ProducedArtifact, res.Value, step.ID, "replanned"); err != nil {
				return err
			}
		} else if err := e.artifacts.Put(step.ProducedArtifact, res.Value, step.ID); err != nil {
			return err
		}
	}

	summary := fmt.Sprintf("produced %s", step.ProducedArtifact)
	if v, ok := res.Value.(string); ok && v != "" {
		summary = fmt.Sprintf("produced %s: %s", step.ProducedArtifact, truncate(v, 200))
	}
	return e.log.Append(history.Turn{
		Kind:  history.KindResponse,
		Parts: []history.Part{history.TextPart{Content: summary}},
	})
}

// stepPrompt builds the request text for one attempt. Retries carry a
// variation hint and the previous failure so identical input is not replayed.
func (e *Executor) stepPrompt(step *planner.Step, attempt int, prev *attemptError) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Step %s: %s\n", step.ID, step.Description)
	if step.ProducedArtifact != "" {
		fmt.Fprintf(&b, "Record your answer as artifact %q.\n", step.ProducedArtifact)
	}
	if snap := e.artifacts.Snapshot(); len(snap) > 0 {
		if enc, err := json.Marshal(snap); err == nil {
			fmt.Fprintf(&b, "Artifacts so far: %s\n", enc)
		}
	}
	if attempt > 1 && prev != nil {
		fmt.Fprintf(&b, "Previous attempt failed: %s\n%s\n", truncate(prev.Error(), 200), variationHint(attempt))
	}
	return strings.TrimRight(b.String(), "\n")
}

// askClarification asks the human channel one question about the stuck step
// and returns the follow-up attempt input carrying the answer.
func (e *Executor) askClarification(ctx context.Context, step *planner.Step, lastErr *attemptError) (string, error) {
	question := fmt.Sprintf("Step %q keeps failing (%s). Can you provide the missing detail or a corrected input?",
		truncate(step.Description, 120), lastErr.Error())
	callCtx, cancel := context.WithTimeout(ctx, e.callTimeout)
	defer cancel()
	answer, err := e.clarifier.Ask(callCtx, question)
	if err != nil {
		return "", err
	}
	e.logger.Printf("step %s clarified: %s", step.ID, truncate(answer, 120))
	return fmt.Sprintf("%s\nClarification from the operator: %s", e.stepPrompt(step, 1, nil), answer), nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
