package planner

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/taskwright/taskwright/internal/history"
	"github.com/taskwright/taskwright/internal/inference"
)

// Source is the external planning collaborator.
type Source interface {
	// Plan creates the initial plan for a goal, given the toolset names the
	// catalog knows about.
	Plan(ctx context.Context, goal string, toolsets []string) (*Plan, error)
	// Replan creates a replacement plan after an escalation. The new plan
	// must address the specific failure rather than repeat the failing step;
	// the supervisor rejects verbatim replans.
	Replan(ctx context.Context, goal string, toolsets []string, prior *Plan, esc *Escalation) (*Plan, error)
}

// LLMSource plans by prompting the inference collaborator and parsing the
// JSON plan out of its reply.
type LLMSource struct {
	provider inference.Provider
	logger   *log.Logger
}

// NewLLMSource builds a planning source on top of an inference provider.
func NewLLMSource(provider inference.Provider) *LLMSource {
	return &LLMSource{
		provider: provider,
		logger:   log.New(log.Writer(), "[PLANNER] ", log.LstdFlags),
	}
}

func (s *LLMSource) Plan(ctx context.Context, goal string, toolsets []string) (*Plan, error) {
	start := time.Now()
	prompt := planningPrompt(goal, toolsets, nil, nil)
	plan, err := s.generate(ctx, goal, prompt)
	if err != nil {
		return nil, err
	}
	s.logger.Printf("planned %d steps for goal %q in %v", len(plan.Steps), truncate(goal, 60), time.Since(start))
	return plan, nil
}

func (s *LLMSource) Replan(ctx context.Context, goal string, toolsets []string, prior *Plan, esc *Escalation) (*Plan, error) {
	start := time.Now()
	prompt := planningPrompt(goal, toolsets, prior, esc)
	plan, err := s.generate(ctx, goal, prompt)
	if err != nil {
		return nil, err
	}
	s.logger.Printf("replanned %d steps after escalation on step %s in %v", len(plan.Steps), esc.StepID, time.Since(start))
	return plan, nil
}

func (s *LLMSource) generate(ctx context.Context, goal, prompt string) (*Plan, error) {
	turns := []history.Turn{{
		Kind:  history.KindRequest,
		Parts: []history.Part{history.UserPromptPart{Content: prompt, Timestamp: time.Now()}},
	}}
	decision, err := s.provider.Infer(ctx, turns, nil)
	if err != nil {
		return nil, fmt.Errorf("planning inference failed: %w", err)
	}
	if decision.Kind != inference.DecisionFinal {
		return nil, fmt.Errorf("planning call returned %s, want final text", decision.Kind)
	}
	plan, err := ParsePlan(decision.Text)
	if err != nil {
		return nil, fmt.Errorf("parse plan: %w", err)
	}
	plan.Goal = goal
	if plan.ID == "" {
		plan.ID = uuid.NewString()
	}
	if err := Validate(plan); err != nil {
		return nil, fmt.Errorf("plan validation failed: %w", err)
	}
	return plan, nil
}

func planningPrompt(goal string, toolsets []string, prior *Plan, esc *Escalation) string {
	var b strings.Builder
	b.WriteString("You are a planning agent. Break the goal into an ordered list of atomic steps.\n\n")
	fmt.Fprintf(&b, "GOAL: %s\n\n", goal)
	fmt.Fprintf(&b, "AVAILABLE TOOLSETS: %s\n\n", strings.Join(toolsets, ", "))
	b.WriteString("REQUIREMENTS:\n")
	b.WriteString("1. Each step produces exactly one named artifact; no two steps may produce the same artifact name.\n")
	b.WriteString("2. List only required_toolsets the step actually needs, from the available toolsets.\n")
	b.WriteString("3. Later steps may read artifacts produced by earlier steps; order steps accordingly.\n")
	b.WriteString("4. Keep the plan small and concrete.\n")

	if prior != nil && esc != nil {
		priorJSON, _ := json.Marshal(prior)
		b.WriteString("\nA PREVIOUS PLAN FAILED. Prior plan:\n")
		b.Write(priorJSON)
		fmt.Fprintf(&b, "\n\nFAILURE: step %s ended in state %s.\nReason: %s\n", esc.StepID, esc.Status, esc.Reason)
		if esc.FailedInput != "" {
			fmt.Fprintf(&b, "Failing input: %s\n", esc.FailedInput)
		}
		if len(esc.Attempts) > 0 {
			fmt.Fprintf(&b, "Already tried: %s\n", strings.Join(esc.Attempts, "; "))
		}
		b.WriteString("The new plan MUST take a different approach to the failed step, ")
		b.WriteString("for example asking the user for an alternative instead of repeating an unresolvable lookup. ")
		b.WriteString("Do not restate the failing step verbatim.\n")
	}

	b.WriteString("\nOUTPUT FORMAT (JSON):\n")
	b.WriteString(`{"steps":[{"id":"step-1","description":"...","required_toolsets":["..."],"produced_artifact":"..."}]}` + "\n")
	return b.String()
}

// ParsePlan extracts a plan from raw model output using balanced-brace JSON
// extraction, tolerating prose around the object.
func ParsePlan(response string) (*Plan, error) {
	jsonStr := ""
	start := -1
	depth := 0
	for i, ch := range response {
		if ch == '{' {
			if depth == 0 {
				start = i
			}
			depth++
		} else if ch == '}' {
			if depth > 0 {
				depth--
			}
			if depth == 0 && start != -1 {
				jsonStr = response[start : i+1]
				break
			}
		}
	}
	if jsonStr == "" {
		return nil, fmt.Errorf("no JSON found in planning response")
	}
	if err := ValidatePlanJSON([]byte(jsonStr)); err != nil {
		return nil, err
	}

	var raw struct {
		ID    string `json:"id"`
		Steps []struct {
			ID               string   `json:"id"`
			Description      string   `json:"description"`
			RequiredToolsets []string `json:"required_toolsets"`
			ProducedArtifact string   `json:"produced_artifact"`
		} `json:"steps"`
	}
	if err := json.Unmarshal([]byte(jsonStr), &raw); err != nil {
		return nil, fmt.Errorf("unmarshal plan: %w", err)
	}

	plan := &Plan{ID: raw.ID}
	for _, s := range raw.Steps {
		plan.Steps = append(plan.Steps, &Step{
			ID:               s.ID,
			Description:      s.Description,
			RequiredToolsets: s.RequiredToolsets,
			ProducedArtifact: s.ProducedArtifact,
			Status:           StatusPending,
		})
	}
	return plan, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
