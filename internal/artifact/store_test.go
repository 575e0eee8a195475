package artifact

import (
	"errors"
	"testing"
)

func TestSingleWriterWithCorrection(t *testing.T) {
	s := NewStore()
	if err := s.Put("loc", "Lyon", "step-3"); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := s.Correct("loc", "Paris", "step-5", "lookup used the wrong key"); err != nil {
		t.Fatalf("correct: %v", err)
	}

	// a later step reads the corrected value, not the stale one
	got, err := s.Get("loc")
	if err != nil || got != "Paris" {
		t.Fatalf("expected corrected value Paris, got %v (%v)", got, err)
	}

	hist, err := s.History("loc")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(hist) != 1 {
		t.Fatalf("expected exactly one correction, got %d", len(hist))
	}
	c := hist[0]
	if c.OldValue != "Lyon" || c.NewValue != "Paris" || c.StepID != "step-5" {
		t.Fatalf("correction does not record the prior value: %+v", c)
	}
}

func TestDuplicateWriteRejected(t *testing.T) {
	s := NewStore()
	if err := s.Put("report", "v1", "step-1"); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := s.Put("report", "v2", "step-2"); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}
	if got, _ := s.Get("report"); got != "v1" {
		t.Fatalf("failed write must not change the value, got %v", got)
	}
}

func TestUnknownArtifact(t *testing.T) {
	s := NewStore()
	if _, err := s.Get("nope"); !errors.Is(err, ErrUnknown) {
		t.Fatalf("expected ErrUnknown, got %v", err)
	}
	if err := s.Correct("nope", "x", "step-1", "r"); !errors.Is(err, ErrUnknown) {
		t.Fatalf("expected ErrUnknown on correct, got %v", err)
	}
}

func TestSnapshotAndOrder(t *testing.T) {
	s := NewStore()
	_ = s.Put("a", 1, "s1")
	_ = s.Put("b", 2, "s2")
	_ = s.Correct("a", 3, "s3", "recount")

	snap := s.Snapshot()
	if snap["a"] != 3 || snap["b"] != 2 {
		t.Fatalf("unexpected snapshot: %v", snap)
	}

	all := s.All()
	if len(all) != 2 || all[0].Name != "a" || all[1].Name != "b" {
		t.Fatalf("expected write order a,b: %+v", all)
	}
	if all[0].LastWriterStepID != "s3" {
		t.Fatalf("last writer not updated by correction: %+v", all[0])
	}
}
