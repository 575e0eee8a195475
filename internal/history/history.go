// Package history holds the conversation log for one task: an append-only,
// ordered sequence of request/response turns, each made of typed parts.
package history

import (
	"fmt"
	"time"
)

// Kind identifies the direction of a turn.
type Kind string

const (
	KindRequest  Kind = "request"
	KindResponse Kind = "response"
)

// Part is one atomic item within a turn: a user prompt, a tool call, a tool
// return, or plain text.
type Part interface {
	PartKind() string
}

const (
	PartKindUserPrompt = "user-prompt"
	PartKindToolCall   = "tool-call"
	PartKindToolReturn = "tool-return"
	PartKindText       = "text"
)

// UserPromptPart carries user-authored input.
type UserPromptPart struct {
	Content   string
	Timestamp time.Time
}

// ToolCallPart records that a tool was invoked with the given arguments.
type ToolCallPart struct {
	ToolName string
	Args     map[string]interface{}
	CallID   string
}

// ToolReturnPart carries the content a tool produced for an earlier call.
// CallID always matches exactly one earlier ToolCallPart in the log.
type ToolReturnPart struct {
	ToolName  string
	Content   string
	CallID    string
	Timestamp time.Time
}

// TextPart carries model-authored free text.
type TextPart struct {
	Content string
}

func (UserPromptPart) PartKind() string { return PartKindUserPrompt }
func (ToolCallPart) PartKind() string   { return PartKindToolCall }
func (ToolReturnPart) PartKind() string { return PartKindToolReturn }
func (TextPart) PartKind() string       { return PartKindText }

// Turn is one request or response unit in the conversation log.
type Turn struct {
	Kind         Kind
	Parts        []Part
	Instructions string
}

// ClonePart returns a deep copy of a part so callers can edit it without
// aliasing the original log.
func ClonePart(p Part) Part {
	switch v := p.(type) {
	case ToolCallPart:
		if v.Args != nil {
			args := make(map[string]interface{}, len(v.Args))
			for k, val := range v.Args {
				args[k] = val
			}
			v.Args = args
		}
		return v
	default:
		return p
	}
}

// CloneTurn returns a deep copy of a turn.
func CloneTurn(t Turn) Turn {
	out := t
	out.Parts = make([]Part, len(t.Parts))
	for i, p := range t.Parts {
		out.Parts[i] = ClonePart(p)
	}
	return out
}

// CloneLog returns a deep copy of a whole log.
func CloneLog(turns []Turn) []Turn {
	out := make([]Turn, len(turns))
	for i, t := range turns {
		out[i] = CloneTurn(t)
	}
	return out
}

// Store is the append-only message store for one task. It grows monotonically
// and is discarded at task end; it is never shared across tasks.
type Store struct {
	turns   []Turn
	callIDs map[string]bool
}

// NewStore creates an empty message store.
func NewStore() *Store {
	return &Store{callIDs: make(map[string]bool)}
}

// Append adds a turn to the end of the log. A turn must have at least one
// part, and every tool return must reference a call id already present in
// the log (in this turn or an earlier one).
func (s *Store) Append(t Turn) error {
	if len(t.Parts) == 0 {
		return fmt.Errorf("history: refusing to append empty turn")
	}
	if t.Kind != KindRequest && t.Kind != KindResponse {
		return fmt.Errorf("history: unknown turn kind %q", t.Kind)
	}
	seen := make(map[string]bool)
	for _, p := range t.Parts {
		switch v := p.(type) {
		case ToolCallPart:
			seen[v.CallID] = true
		case ToolReturnPart:
			if !s.callIDs[v.CallID] && !seen[v.CallID] {
				return fmt.Errorf("history: tool return %q for tool %s has no matching call", v.CallID, v.ToolName)
			}
		}
	}
	s.turns = append(s.turns, CloneTurn(t))
	for id := range seen {
		s.callIDs[id] = true
	}
	return nil
}

// Turns returns a deep copy of the log in chronological order.
func (s *Store) Turns() []Turn {
	return CloneLog(s.turns)
}

// Len reports the number of turns in the log.
func (s *Store) Len() int { return len(s.turns) }
