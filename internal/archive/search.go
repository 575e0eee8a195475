package archive

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/blevesearch/bleve"

	"github.com/taskwright/taskwright/internal/supervisor"
)

// SearchIndex is a full-text index over finished tasks, so operators can
// find past work by goal, artifact content, or failure reason.
type SearchIndex struct {
	mu  sync.Mutex
	idx bleve.Index
}

// taskDoc is the indexed shape of one finished task.
type taskDoc struct {
	Goal      string `json:"goal"`
	Outcome   string `json:"outcome"`
	Reason    string `json:"reason"`
	Artifacts string `json:"artifacts"`
}

// OpenSearchIndex opens the on-disk index at path, creating it on first use.
func OpenSearchIndex(path string) (*SearchIndex, error) {
	idx, err := bleve.Open(path)
	if err != nil {
		if _, statErr := os.Stat(path); statErr == nil {
			return nil, fmt.Errorf("open search index: %w", err)
		}
		idx, err = bleve.New(path, bleve.NewIndexMapping())
		if err != nil {
			return nil, fmt.Errorf("create search index: %w", err)
		}
	}
	return &SearchIndex{idx: idx}, nil
}

// NewMemSearchIndex creates an in-memory index, for tests and one-shot runs.
func NewMemSearchIndex() (*SearchIndex, error) {
	idx, err := bleve.NewMemOnly(bleve.NewIndexMapping())
	if err != nil {
		return nil, err
	}
	return &SearchIndex{idx: idx}, nil
}

// IndexResult adds or replaces a finished task in the index.
func (s *SearchIndex) IndexResult(res *supervisor.Result) error {
	if res == nil || res.TaskID == "" {
		return fmt.Errorf("result has no task id")
	}
	var parts []string
	for _, a := range res.Artifacts {
		parts = append(parts, a.Name, fmt.Sprint(a.Value))
	}
	doc := taskDoc{
		Goal:      res.Goal,
		Outcome:   res.Outcome,
		Reason:    res.Reason,
		Artifacts: strings.Join(parts, " "),
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.idx.Index(res.TaskID, doc)
}

// TaskHit is one search result.
type TaskHit struct {
	TaskID  string  `json:"task_id"`
	Goal    string  `json:"goal"`
	Outcome string  `json:"outcome"`
	Score   float64 `json:"score"`
}

// Search runs a query-string search and returns at most limit hits.
func (s *SearchIndex) Search(q string, limit int) ([]TaskHit, error) {
	if strings.TrimSpace(q) == "" {
		return nil, fmt.Errorf("query is required")
	}
	if limit <= 0 {
		limit = 10
	}
	req := bleve.NewSearchRequestOptions(bleve.NewQueryStringQuery(q), limit, 0, false)
	req.Fields = []string{"goal", "outcome"}

	s.mu.Lock()
	res, err := s.idx.Search(req)
	s.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}
	var out []TaskHit
	for _, hit := range res.Hits {
		h := TaskHit{TaskID: hit.ID, Score: hit.Score}
		if v, ok := hit.Fields["goal"].(string); ok {
			h.Goal = v
		}
		if v, ok := hit.Fields["outcome"].(string); ok {
			h.Outcome = v
		}
		out = append(out, h)
	}
	return out, nil
}

// Close releases the index.
func (s *SearchIndex) Close() error { return s.idx.Close() }
