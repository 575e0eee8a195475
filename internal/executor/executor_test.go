package executor

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/taskwright/taskwright/internal/artifact"
	"github.com/taskwright/taskwright/internal/history"
	"github.com/taskwright/taskwright/internal/inference"
	"github.com/taskwright/taskwright/internal/planner"
	"github.com/taskwright/taskwright/internal/toolset"
)

type fixture struct {
	exec      *Executor
	toolsets  *toolset.Manager
	artifacts *artifact.Store
	log       *history.Store
}

func newFixture(t *testing.T, provider inference.Provider, clarifier inference.Clarifier, cfg Config) *fixture {
	t.Helper()
	mgr := toolset.NewManager(toolset.BuiltinCatalog())
	arts := artifact.NewStore()
	hist := history.NewStore()
	return &fixture{
		exec:      New(mgr, arts, hist, nil, provider, clarifier, nil, cfg),
		toolsets:  mgr,
		artifacts: arts,
		log:       hist,
	}
}

func toolCall(name string, args map[string]interface{}, callID string) inference.ScriptStep {
	return inference.ScriptStep{Decision: inference.Decision{
		Kind:     inference.DecisionToolCall,
		ToolCall: &inference.ToolCallRequest{ToolName: name, Args: args, CallID: callID},
	}}
}

func stepResult(value interface{}, updates map[string]interface{}) inference.ScriptStep {
	return inference.ScriptStep{Decision: inference.Decision{
		Kind:   inference.DecisionStepResult,
		Result: &inference.StepResult{Value: value, ArtifactUpdates: updates},
	}}
}

func prompts(t *testing.T, hist *history.Store) []string {
	t.Helper()
	var out []string
	for _, turn := range hist.Turns() {
		for _, p := range turn.Parts {
			if up, ok := p.(history.UserPromptPart); ok {
				out = append(out, up.Content)
			}
		}
	}
	return out
}

func TestRunStep_ToolCallThenResult(t *testing.T) {
	script := inference.NewScript(
		toolCall("lookup", map[string]interface{}{"key": "capital:France"}, "c1"),
		stepResult("Paris", nil),
	)
	f := newFixture(t, script, nil, Config{})
	step := &planner.Step{ID: "s1", Description: "find the capital of France", RequiredToolsets: []string{"reference"}, ProducedArtifact: "capital"}

	if err := f.exec.RunStep(context.Background(), step); err != nil {
		t.Fatalf("RunStep: %v", err)
	}
	if step.Status != planner.StatusCompleted {
		t.Fatalf("status = %s, want %s", step.Status, planner.StatusCompleted)
	}
	if step.AttemptCount != 1 {
		t.Fatalf("attempts = %d, want 1", step.AttemptCount)
	}
	got, err := f.artifacts.Get("capital")
	if err != nil || got != "Paris" {
		t.Fatalf("artifact capital = %v, %v", got, err)
	}
	if !f.toolsets.Fetched("reference") {
		t.Fatalf("reference toolset should remain fetched after the step")
	}

	var sawCall, sawReturn bool
	for _, turn := range f.log.Turns() {
		for _, p := range turn.Parts {
			switch pp := p.(type) {
			case history.ToolCallPart:
				sawCall = pp.ToolName == "lookup"
			case history.ToolReturnPart:
				sawReturn = pp.Content == "Paris"
			}
		}
	}
	if !sawCall || !sawReturn {
		t.Fatalf("log missing tool evidence: call=%v return=%v", sawCall, sawReturn)
	}
}

func TestRunStep_UnknownToolsetFailsStep(t *testing.T) {
	f := newFixture(t, inference.NewScript(), nil, Config{})
	step := &planner.Step{ID: "s1", Description: "use a toolset nobody registered", RequiredToolsets: []string{"warp-drive"}, ProducedArtifact: "out"}

	err := f.exec.RunStep(context.Background(), step)
	if !errors.Is(err, toolset.ErrUnknownToolset) {
		t.Fatalf("err = %v, want ErrUnknownToolset", err)
	}
	if step.Status != planner.StatusFailed {
		t.Fatalf("status = %s, want %s", step.Status, planner.StatusFailed)
	}
}

func TestRunStep_RetryCarriesVariation(t *testing.T) {
	script := inference.NewScript(
		toolCall("lookup", map[string]interface{}{"key": "capital:france"}, "c1"),
		stepResult("Paris", nil),
	)
	f := newFixture(t, script, nil, Config{MaxAttempts: 3})
	step := &planner.Step{ID: "s1", Description: "find the capital", RequiredToolsets: []string{"reference"}, ProducedArtifact: "capital"}

	if err := f.exec.RunStep(context.Background(), step); err != nil {
		t.Fatalf("RunStep: %v", err)
	}
	if step.AttemptCount != 2 {
		t.Fatalf("attempts = %d, want 2", step.AttemptCount)
	}
	ps := prompts(t, f.log)
	if len(ps) != 2 {
		t.Fatalf("got %d request prompts, want 2", len(ps))
	}
	if ps[0] == ps[1] {
		t.Fatalf("retry replayed identical input")
	}
	if !strings.Contains(ps[1], "capitalization") {
		t.Fatalf("retry prompt missing variation hint: %q", ps[1])
	}
}

func TestRunStep_UnresolvedReferenceBlocks(t *testing.T) {
	script := inference.NewScript(
		toolCall("lookup", map[string]interface{}{"key": "capital:Atlantis"}, "c1"),
		toolCall("lookup", map[string]interface{}{"key": "capital:ATLANTIS"}, "c2"),
	)
	f := newFixture(t, script, nil, Config{MaxAttempts: 2})
	step := &planner.Step{ID: "s1", Description: "find the capital of Atlantis", RequiredToolsets: []string{"reference"}, ProducedArtifact: "capital"}

	err := f.exec.RunStep(context.Background(), step)
	var esc *planner.Escalation
	if !errors.As(err, &esc) {
		t.Fatalf("err = %v, want escalation", err)
	}
	if esc.Status != planner.StatusBlocked || step.Status != planner.StatusBlocked {
		t.Fatalf("status = %s/%s, want blocked", esc.Status, step.Status)
	}
	if len(esc.Attempts) != 2 || esc.Attempts[0] == esc.Attempts[1] {
		t.Fatalf("escalation should record two distinct attempt inputs, got %d", len(esc.Attempts))
	}
	if esc.FailedInput == "" || !strings.Contains(esc.Reason, "no entry") {
		t.Fatalf("escalation lacks failure detail: %+v", esc)
	}
}

func TestRunStep_InferenceFailureNeedsHelp(t *testing.T) {
	script := inference.NewScript(
		inference.ScriptStep{Err: errors.New("upstream 500")},
		inference.ScriptStep{Err: errors.New("upstream 500")},
	)
	f := newFixture(t, script, nil, Config{MaxAttempts: 2})
	step := &planner.Step{ID: "s1", Description: "anything", ProducedArtifact: "out"}

	err := f.exec.RunStep(context.Background(), step)
	var esc *planner.Escalation
	if !errors.As(err, &esc) {
		t.Fatalf("err = %v, want escalation", err)
	}
	if esc.Status != planner.StatusNeedsHelp {
		t.Fatalf("status = %s, want %s", esc.Status, planner.StatusNeedsHelp)
	}
}

type stubClarifier struct {
	answer   string
	question string
	calls    int
}

func (s *stubClarifier) Ask(ctx context.Context, question string) (string, error) {
	s.calls++
	s.question = question
	return s.answer, nil
}

func TestRunStep_ClarificationRescuesStep(t *testing.T) {
	script := inference.NewScript(
		inference.ScriptStep{Err: errors.New("ambiguous request")},
		stepResult("42", nil),
	)
	cl := &stubClarifier{answer: "the user means the 2024 figure"}
	f := newFixture(t, script, cl, Config{MaxAttempts: 1})
	step := &planner.Step{ID: "s1", Description: "find the figure", ProducedArtifact: "figure"}

	if err := f.exec.RunStep(context.Background(), step); err != nil {
		t.Fatalf("RunStep: %v", err)
	}
	if cl.calls != 1 {
		t.Fatalf("clarifier called %d times, want 1", cl.calls)
	}
	if !strings.Contains(cl.question, "find the figure") {
		t.Fatalf("clarification question missing step context: %q", cl.question)
	}
	ps := prompts(t, f.log)
	last := ps[len(ps)-1]
	if !strings.Contains(last, "Clarification from the operator") || !strings.Contains(last, cl.answer) {
		t.Fatalf("clarified prompt missing the answer: %q", last)
	}
	if step.Status != planner.StatusCompleted {
		t.Fatalf("status = %s, want completed", step.Status)
	}
}

func TestRunStep_ResultCommitsCorrections(t *testing.T) {
	script := inference.NewScript(
		stepResult("Lyon is wrong, it is Paris", map[string]interface{}{"city": "Paris"}),
	)
	f := newFixture(t, script, nil, Config{})
	if err := f.artifacts.Put("city", "Lyon", "s1"); err != nil {
		t.Fatalf("seed artifact: %v", err)
	}
	step := &planner.Step{ID: "s2", Description: "verify the city", ProducedArtifact: "verdict"}

	if err := f.exec.RunStep(context.Background(), step); err != nil {
		t.Fatalf("RunStep: %v", err)
	}
	got, _ := f.artifacts.Get("city")
	if got != "Paris" {
		t.Fatalf("city = %v, want Paris", got)
	}
	hist, err := f.artifacts.History("city")
	if err != nil || len(hist) != 1 {
		t.Fatalf("history = %v, %v, want one correction", hist, err)
	}
	if hist[0].StepID != "s2" || hist[0].OldValue != "Lyon" {
		t.Fatalf("correction = %+v", hist[0])
	}
}

func TestRunStep_InvalidUpdateWritesNothing(t *testing.T) {
	script := inference.NewScript(
		stepResult("done", map[string]interface{}{"missing": "x"}),
	)
	f := newFixture(t, script, nil, Config{MaxAttempts: 1})
	step := &planner.Step{ID: "s1", Description: "produce output", ProducedArtifact: "out"}

	err := f.exec.RunStep(context.Background(), step)
	var esc *planner.Escalation
	if !errors.As(err, &esc) {
		t.Fatalf("err = %v, want escalation", err)
	}
	if f.artifacts.Has("out") {
		t.Fatalf("half-valid result must not write the step artifact")
	}
}
