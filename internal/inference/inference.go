// Package inference defines the contract between the control core and the
// language-model collaborator. The core sends a (compacted) conversation log
// plus the currently fetched tools and receives back a Decision; it never
// prescribes the prompt format.
package inference

import (
	"context"

	"github.com/taskwright/taskwright/internal/history"
	"github.com/taskwright/taskwright/internal/toolset"
)

// DecisionKind discriminates what the model decided to do.
type DecisionKind string

const (
	// DecisionToolCall asks the executor to invoke a tool and report back.
	DecisionToolCall DecisionKind = "tool_call"
	// DecisionFinal carries free text that concludes the current step.
	DecisionFinal DecisionKind = "final"
	// DecisionStepResult is the structured "this is the final answer" marker:
	// the step's output plus optional corrections to earlier artifacts.
	DecisionStepResult DecisionKind = "step_result"
)

// ToolCallRequest is the model's request to invoke one tool.
type ToolCallRequest struct {
	ToolName string                 `json:"tool_name"`
	Args     map[string]interface{} `json:"args,omitempty"`
	CallID   string                 `json:"call_id,omitempty"`
}

// StepResult reports a step's own output and, in the same atomic call, any
// corrections to artifacts produced by earlier steps.
type StepResult struct {
	Value           interface{}            `json:"result"`
	ArtifactUpdates map[string]interface{} `json:"artifact_updates,omitempty"`
}

// Decision is the structured outcome of one inference call.
type Decision struct {
	Kind     DecisionKind
	ToolCall *ToolCallRequest
	Text     string
	Result   *StepResult
}

// Provider is the external inference collaborator. Implementations must
// honour the context deadline; the executor treats a timeout like any other
// recoverable input error.
type Provider interface {
	Infer(ctx context.Context, turns []history.Turn, tools []toolset.Tool) (Decision, error)
}

// Clarifier is the optional human clarification collaborator.
type Clarifier interface {
	Ask(ctx context.Context, question string) (string, error)
}
