// Package compact bounds the context fed to inference calls by rewriting
// aged tool interactions in a conversation log. Compaction is a pure function
// over a caller-owned log: it shares no state and is safe to run from any
// number of tasks concurrently.
package compact

import (
	"math"

	"github.com/taskwright/taskwright/internal/history"
)

// EditFunc rewrites a single part. Returning ok=false drops the part from the
// log. By convention an edit function leaves tool-call parts unchanged, so the
// log keeps evidence that the tool was invoked even after its return content
// has been rewritten away.
type EditFunc func(history.Part) (history.Part, bool)

// Lifespan is the age threshold, counted in turns from the end of the log,
// beyond which a tool's returns become eligible for editing. A fractional
// lifespan is resolved against the log length once per compaction pass.
type Lifespan struct {
	turns    int
	fraction float64
}

// Turns builds an absolute lifespan of n turns from the end.
func Turns(n int) Lifespan { return Lifespan{turns: n} }

// Fraction builds a lifespan as a fraction in (0,1) of the log length.
func Fraction(f float64) Lifespan { return Lifespan{fraction: f} }

func (l Lifespan) resolve(logLen int) int {
	if l.fraction > 0 {
		return int(math.Round(float64(logLen) * l.fraction))
	}
	return l.turns
}

// Rule binds a tool name to an edit function and a lifespan.
type Rule struct {
	Tool     string
	Edit     EditFunc
	Lifespan Lifespan
}

// Policy is the edit-policy table for one compaction pass.
type Policy []Rule

// Compact returns a rewritten copy of the log. It scans turns newest-first:
// once a tool's return is seen at reverse index >= its lifespan, that tool's
// edit function becomes active and stays active for all older turns in the
// pass. Turns left with zero parts are removed. The result is returned in
// chronological order. Compact is deterministic and idempotent as long as
// edited content never exceeds its own edit threshold again.
func Compact(log []history.Turn, policy Policy) []history.Turn {
	if len(log) == 0 || len(policy) == 0 {
		return history.CloneLog(log)
	}

	lifespans := make(map[string]int, len(policy))
	edits := make(map[string]EditFunc, len(policy))
	for _, r := range policy {
		lifespans[r.Tool] = r.Lifespan.resolve(len(log))
		edits[r.Tool] = r.Edit
	}

	active := make(map[string]EditFunc)
	out := make([]history.Turn, 0, len(log))

	for i := 0; i < len(log); i++ {
		turn := history.CloneTurn(log[len(log)-1-i])
		kept := turn.Parts[:0]
		for _, part := range turn.Parts {
			if ret, ok := part.(history.ToolReturnPart); ok {
				if _, known := lifespans[ret.ToolName]; known && i >= lifespans[ret.ToolName] {
					active[ret.ToolName] = edits[ret.ToolName]
				}
			}
			edit, ok := active[toolName(part)]
			if !ok {
				kept = append(kept, part)
				continue
			}
			if edited, keep := edit(part); keep {
				kept = append(kept, edited)
			}
		}
		if len(kept) == 0 {
			continue
		}
		turn.Parts = kept
		out = append(out, turn)
	}

	// restore chronological order
	for l, r := 0, len(out)-1; l < r; l, r = l+1, r-1 {
		out[l], out[r] = out[r], out[l]
	}
	return out
}

func toolName(p history.Part) string {
	switch v := p.(type) {
	case history.ToolCallPart:
		return v.ToolName
	case history.ToolReturnPart:
		return v.ToolName
	default:
		return ""
	}
}

// TruncateReturns builds an edit function that replaces tool-return content
// with a placeholder once it reaches minChars. Shorter returns are left
// untouched even though the rule is active. The placeholder should invite the
// model to re-invoke the tool if the information becomes relevant again.
func TruncateReturns(placeholder string, minChars int) EditFunc {
	return func(p history.Part) (history.Part, bool) {
		ret, ok := p.(history.ToolReturnPart)
		if !ok {
			return p, true
		}
		if len(ret.Content) < minChars {
			return p, true
		}
		ret.Content = placeholder
		return ret, true
	}
}

// DropReturns builds an edit function that deletes tool returns of at least
// minChars outright, keeping the matching tool calls as evidence.
func DropReturns(minChars int) EditFunc {
	return func(p history.Part) (history.Part, bool) {
		ret, ok := p.(history.ToolReturnPart)
		if !ok {
			return p, true
		}
		if len(ret.Content) < minChars {
			return p, true
		}
		return nil, false
	}
}

// PartCount reports the total number of parts across all turns.
func PartCount(log []history.Turn) int {
	n := 0
	for _, t := range log {
		n += len(t.Parts)
	}
	return n
}

// TextSize reports the total content bytes carried by prompt, return, and
// text parts. Used to measure how much a compaction pass saved.
func TextSize(log []history.Turn) int {
	n := 0
	for _, t := range log {
		for _, p := range t.Parts {
			switch v := p.(type) {
			case history.UserPromptPart:
				n += len(v.Content)
			case history.ToolReturnPart:
				n += len(v.Content)
			case history.TextPart:
				n += len(v.Content)
			}
		}
	}
	return n
}
