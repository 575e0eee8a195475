package inference

import (
	"context"
	"fmt"
	"sync"

	"github.com/taskwright/taskwright/internal/history"
	"github.com/taskwright/taskwright/internal/toolset"
)

// ScriptStep is one pre-recorded inference outcome.
type ScriptStep struct {
	Decision Decision
	Err      error
}

// Script is a Provider that replays pre-recorded decisions in order. It backs
// tests and the offline demo mode of the CLI.
type Script struct {
	mu    sync.Mutex
	steps []ScriptStep
	calls int
}

// NewScript builds a scripted provider.
func NewScript(steps ...ScriptStep) *Script {
	return &Script{steps: steps}
}

// Infer pops the next scripted outcome.
func (s *Script) Infer(ctx context.Context, turns []history.Turn, tools []toolset.Tool) (Decision, error) {
	if err := ctx.Err(); err != nil {
		return Decision{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.calls >= len(s.steps) {
		return Decision{}, fmt.Errorf("script exhausted after %d calls", s.calls)
	}
	step := s.steps[s.calls]
	s.calls++
	return step.Decision, step.Err
}

// Calls reports how many times Infer was invoked.
func (s *Script) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}
