package history

import (
	"encoding/json"
	"fmt"
	"time"
)

// Wire format for persisted histories: an ordered JSON array of turn objects,
// each part carrying a part_kind discriminator. This format is stable so
// archived runs can be replayed and inspected offline.

type wireTurn struct {
	Kind         string     `json:"kind"`
	Parts        []wirePart `json:"parts"`
	Instructions string     `json:"instructions,omitempty"`
}

type wirePart struct {
	PartKind  string                 `json:"part_kind"`
	Content   string                 `json:"content,omitempty"`
	ToolName  string                 `json:"tool_name,omitempty"`
	Args      map[string]interface{} `json:"args,omitempty"`
	CallID    string                 `json:"call_id,omitempty"`
	Timestamp *time.Time             `json:"timestamp,omitempty"`
}

// MarshalLog encodes a log into the persisted history format.
func MarshalLog(turns []Turn) ([]byte, error) {
	out := make([]wireTurn, 0, len(turns))
	for i, t := range turns {
		wt := wireTurn{Kind: string(t.Kind), Instructions: t.Instructions}
		for _, p := range t.Parts {
			wp, err := encodePart(p)
			if err != nil {
				return nil, fmt.Errorf("turn %d: %w", i, err)
			}
			wt.Parts = append(wt.Parts, wp)
		}
		out = append(out, wt)
	}
	return json.Marshal(out)
}

// UnmarshalLog decodes the persisted history format back into a log.
func UnmarshalLog(data []byte) ([]Turn, error) {
	var raw []wireTurn
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("unmarshal history: %w", err)
	}
	turns := make([]Turn, 0, len(raw))
	for i, wt := range raw {
		t := Turn{Kind: Kind(wt.Kind), Instructions: wt.Instructions}
		if t.Kind != KindRequest && t.Kind != KindResponse {
			return nil, fmt.Errorf("turn %d: unknown kind %q", i, wt.Kind)
		}
		for _, wp := range wt.Parts {
			p, err := decodePart(wp)
			if err != nil {
				return nil, fmt.Errorf("turn %d: %w", i, err)
			}
			t.Parts = append(t.Parts, p)
		}
		turns = append(turns, t)
	}
	return turns, nil
}

func encodePart(p Part) (wirePart, error) {
	switch v := p.(type) {
	case UserPromptPart:
		ts := v.Timestamp
		return wirePart{PartKind: PartKindUserPrompt, Content: v.Content, Timestamp: tsPtr(ts)}, nil
	case ToolCallPart:
		return wirePart{PartKind: PartKindToolCall, ToolName: v.ToolName, Args: v.Args, CallID: v.CallID}, nil
	case ToolReturnPart:
		return wirePart{PartKind: PartKindToolReturn, ToolName: v.ToolName, Content: v.Content, CallID: v.CallID, Timestamp: tsPtr(v.Timestamp)}, nil
	case TextPart:
		return wirePart{PartKind: PartKindText, Content: v.Content}, nil
	default:
		return wirePart{}, fmt.Errorf("unknown part type %T", p)
	}
}

func decodePart(wp wirePart) (Part, error) {
	switch wp.PartKind {
	case PartKindUserPrompt:
		return UserPromptPart{Content: wp.Content, Timestamp: tsVal(wp.Timestamp)}, nil
	case PartKindToolCall:
		return ToolCallPart{ToolName: wp.ToolName, Args: wp.Args, CallID: wp.CallID}, nil
	case PartKindToolReturn:
		return ToolReturnPart{ToolName: wp.ToolName, Content: wp.Content, CallID: wp.CallID, Timestamp: tsVal(wp.Timestamp)}, nil
	case PartKindText:
		return TextPart{Content: wp.Content}, nil
	default:
		return nil, fmt.Errorf("unknown part_kind %q", wp.PartKind)
	}
}

func tsPtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func tsVal(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}
