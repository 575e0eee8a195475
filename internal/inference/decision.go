package inference

import (
	"encoding/json"
	"fmt"
)

// ParseDecision extracts a Decision from raw model output. The model is
// expected to answer with a JSON object carrying a "decision" discriminator;
// output with no JSON object at all is treated as a final free-text answer.
func ParseDecision(response string) (Decision, error) {
	jsonStr := extractJSON(response)
	if jsonStr == "" {
		return Decision{Kind: DecisionFinal, Text: response}, nil
	}

	var raw struct {
		Decision        string                 `json:"decision"`
		ToolName        string                 `json:"tool_name"`
		Args            map[string]interface{} `json:"args"`
		CallID          string                 `json:"call_id"`
		Content         string                 `json:"content"`
		Result          interface{}            `json:"result"`
		ArtifactUpdates map[string]interface{} `json:"artifact_updates"`
	}
	if err := json.Unmarshal([]byte(jsonStr), &raw); err != nil {
		return Decision{}, fmt.Errorf("decision JSON invalid: %w", err)
	}

	switch raw.Decision {
	case string(DecisionToolCall):
		if raw.ToolName == "" {
			return Decision{}, fmt.Errorf("tool_call decision missing tool_name")
		}
		return Decision{Kind: DecisionToolCall, ToolCall: &ToolCallRequest{
			ToolName: raw.ToolName,
			Args:     raw.Args,
			CallID:   raw.CallID,
		}}, nil
	case string(DecisionFinal):
		return Decision{Kind: DecisionFinal, Text: raw.Content}, nil
	case string(DecisionStepResult):
		return Decision{Kind: DecisionStepResult, Result: &StepResult{
			Value:           raw.Result,
			ArtifactUpdates: raw.ArtifactUpdates,
		}}, nil
	case "":
		// JSON present but no discriminator: treat as final text
		return Decision{Kind: DecisionFinal, Text: response}, nil
	default:
		return Decision{}, fmt.Errorf("unknown decision kind %q", raw.Decision)
	}
}

// extractJSON finds the first balanced JSON object in a response, tolerating
// prose around it.
func extractJSON(response string) string {
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
				return response[start : i+1]
			}
		}
	}
	return ""
}
