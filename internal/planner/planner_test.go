package planner

import (
	"context"
	"strings"
	"testing"

	"github.com/taskwright/taskwright/internal/inference"
)

func validPlan() *Plan {
	return &Plan{
		ID:   "p1",
		Goal: "demo",
		Steps: []*Step{
			{ID: "s1", Description: "look up the capital", RequiredToolsets: []string{"reference"}, ProducedArtifact: "loc"},
			{ID: "s2", Description: "write the report", ProducedArtifact: "report"},
		},
	}
}

func TestValidateAcceptsGoodPlan(t *testing.T) {
	if err := Validate(validPlan()); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestValidateRejections(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Plan)
		want   string
	}{
		{"no steps", func(p *Plan) { p.Steps = nil }, "no steps"},
		{"duplicate step id", func(p *Plan) { p.Steps[1].ID = "s1" }, "duplicate step id"},
		{"missing description", func(p *Plan) { p.Steps[0].Description = " " }, "no description"},
		{"missing artifact", func(p *Plan) { p.Steps[0].ProducedArtifact = "" }, "produces no artifact"},
		{"duplicate artifact", func(p *Plan) { p.Steps[1].ProducedArtifact = "loc" }, "produced by both"},
		{"bad initial status", func(p *Plan) { p.Steps[0].Status = StatusRunning }, "starts in state"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := validPlan()
			tc.mutate(p)
			err := Validate(p)
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error containing %q, got %v", tc.want, err)
			}
		})
	}
}

func TestParsePlanExtractsJSONFromProse(t *testing.T) {
	response := `Here is the plan you asked for:
{"steps":[
  {"id":"s1","description":"find it","required_toolsets":["reference"],"produced_artifact":"loc"},
  {"id":"s2","description":"sum it","required_toolsets":["calc"],"produced_artifact":"total"}
]}
Good luck!`
	plan, err := ParsePlan(response)
	if err != nil {
		t.Fatalf("ParsePlan: %v", err)
	}
	if len(plan.Steps) != 2 {
		t.Fatalf("expected 2 steps, got %d", len(plan.Steps))
	}
	if plan.Steps[0].ProducedArtifact != "loc" || plan.Steps[0].RequiredToolsets[0] != "reference" {
		t.Fatalf("unexpected first step: %+v", plan.Steps[0])
	}
	if plan.Steps[1].Status != StatusPending {
		t.Fatalf("parsed steps must start pending, got %s", plan.Steps[1].Status)
	}
}

func TestParsePlanRejectsNoJSON(t *testing.T) {
	if _, err := ParsePlan("sorry, I cannot plan this"); err == nil {
		t.Fatal("expected error when no JSON object present")
	}
}

func TestLLMSourcePlan(t *testing.T) {
	provider := inference.NewScript(inference.ScriptStep{
		Decision: inference.Decision{
			Kind: inference.DecisionFinal,
			Text: `{"steps":[{"id":"s1","description":"do it","produced_artifact":"out"}]}`,
		},
	})
	src := NewLLMSource(provider)
	plan, err := src.Plan(context.Background(), "demo goal", []string{"clock"})
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if plan.Goal != "demo goal" || plan.ID == "" || len(plan.Steps) != 1 {
		t.Fatalf("unexpected plan: %+v", plan)
	}
}

func TestLLMSourceRejectsInvalidPlan(t *testing.T) {
	provider := inference.NewScript(inference.ScriptStep{
		Decision: inference.Decision{
			Kind: inference.DecisionFinal,
			Text: `{"steps":[{"id":"s1","description":"a","produced_artifact":"x"},{"id":"s2","description":"b","produced_artifact":"x"}]}`,
		},
	})
	src := NewLLMSource(provider)
	if _, err := src.Plan(context.Background(), "demo", nil); err == nil || !strings.Contains(err.Error(), "validation") {
		t.Fatalf("expected validation failure, got %v", err)
	}
}

func TestEscalationIsAnError(t *testing.T) {
	esc := &Escalation{StepID: "s1", Status: StatusNeedsHelp, Reason: "lookup unresolvable"}
	var err error = esc
	if !strings.Contains(err.Error(), "s1") || !strings.Contains(err.Error(), "needs_help") {
		t.Fatalf("unexpected escalation message: %s", err.Error())
	}
}

func TestTerminalStatuses(t *testing.T) {
	for s, want := range map[Status]bool{
		StatusPending:   false,
		StatusRunning:   false,
		StatusCompleted: true,
		StatusNeedsHelp: true,
		StatusBlocked:   true,
		StatusFailed:    true,
	} {
		if s.Terminal() != want {
			t.Fatalf("Terminal(%s) = %v, want %v", s, !want, want)
		}
	}
}
