package archive

import (
	"testing"

	"github.com/taskwright/taskwright/internal/artifact"
	"github.com/taskwright/taskwright/internal/supervisor"
)

func TestSearchIndex_FindsTasksByContent(t *testing.T) {
	idx, err := NewMemSearchIndex()
	if err != nil {
		t.Fatalf("NewMemSearchIndex: %v", err)
	}
	defer idx.Close()

	results := []*supervisor.Result{
		{
			TaskID:  "t1",
			Goal:    "summarize the capital of France",
			Outcome: supervisor.OutcomeCompleted,
			Artifacts: []artifact.Artifact{
				{Name: "capital", Value: "Paris"},
			},
		},
		{
			TaskID:  "t2",
			Goal:    "compute quarterly totals",
			Outcome: supervisor.OutcomeFailed,
			Reason:  "replan budget exhausted",
		},
	}
	for _, res := range results {
		if err := idx.IndexResult(res); err != nil {
			t.Fatalf("IndexResult(%s): %v", res.TaskID, err)
		}
	}

	hits, err := idx.Search("Paris", 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) != 1 || hits[0].TaskID != "t1" {
		t.Fatalf("hits = %+v, want only t1", hits)
	}
	if hits[0].Goal != "summarize the capital of France" {
		t.Fatalf("hit fields = %+v", hits[0])
	}

	hits, err = idx.Search("quarterly", 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) != 1 || hits[0].TaskID != "t2" {
		t.Fatalf("hits = %+v, want only t2", hits)
	}
}

func TestSearchIndex_RejectsEmptyQuery(t *testing.T) {
	idx, err := NewMemSearchIndex()
	if err != nil {
		t.Fatalf("NewMemSearchIndex: %v", err)
	}
	defer idx.Close()
	if _, err := idx.Search("   ", 5); err == nil {
		t.Fatalf("blank query should be rejected")
	}
}
