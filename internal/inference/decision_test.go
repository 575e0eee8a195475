package inference

import (
	"testing"
)

func TestParseToolCallDecision(t *testing.T) {
	d, err := ParseDecision(`I'll look that up. {"decision":"tool_call","tool_name":"reference.lookup","args":{"key":"capital:France"},"call_id":"c1"}`)
	if err != nil {
		t.Fatalf("ParseDecision: %v", err)
	}
	if d.Kind != DecisionToolCall || d.ToolCall == nil {
		t.Fatalf("expected tool call decision, got %+v", d)
	}
	if d.ToolCall.ToolName != "reference.lookup" || d.ToolCall.Args["key"] != "capital:France" || d.ToolCall.CallID != "c1" {
		t.Fatalf("unexpected tool call: %+v", d.ToolCall)
	}
}

func TestParseStepResultDecision(t *testing.T) {
	d, err := ParseDecision(`{"decision":"step_result","result":"Paris","artifact_updates":{"loc":"Paris"}}`)
	if err != nil {
		t.Fatalf("ParseDecision: %v", err)
	}
	if d.Kind != DecisionStepResult || d.Result == nil {
		t.Fatalf("expected step result decision, got %+v", d)
	}
	if d.Result.Value != "Paris" || d.Result.ArtifactUpdates["loc"] != "Paris" {
		t.Fatalf("unexpected result: %+v", d.Result)
	}
}

func TestParseFinalDecision(t *testing.T) {
	d, err := ParseDecision(`{"decision":"final","content":"done"}`)
	if err != nil {
		t.Fatalf("ParseDecision: %v", err)
	}
	if d.Kind != DecisionFinal || d.Text != "done" {
		t.Fatalf("expected final decision, got %+v", d)
	}
}

func TestParsePlainTextFallsBackToFinal(t *testing.T) {
	d, err := ParseDecision("just some prose with no JSON at all")
	if err != nil {
		t.Fatalf("ParseDecision: %v", err)
	}
	if d.Kind != DecisionFinal || d.Text == "" {
		t.Fatalf("expected final fallback, got %+v", d)
	}
}

func TestParseRejectsMalformed(t *testing.T) {
	if _, err := ParseDecision(`{"decision":"tool_call"}`); err == nil {
		t.Fatal("expected error for tool_call without tool_name")
	}
	if _, err := ParseDecision(`{"decision":"teleport"}`); err == nil {
		t.Fatal("expected error for unknown decision kind")
	}
	if _, err := ParseDecision(`{"decision":`); err != nil {
		// unbalanced braces mean no JSON object is found; plain-text fallback
		t.Fatalf("unbalanced JSON should fall back to final text, got %v", err)
	}
}
