package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/taskwright/taskwright/internal/archive"
	"github.com/taskwright/taskwright/internal/history"
	"github.com/taskwright/taskwright/internal/queue"
)

type stubTaskStore struct {
	created   []string
	tasks     map[string]archive.TaskRecord
	histories map[string][]history.Turn
}

func (s *stubTaskStore) CreateTask(ctx context.Context, userID, goal string) (string, error) {
	s.created = append(s.created, goal)
	return "task-1", nil
}

func (s *stubTaskStore) GetTask(ctx context.Context, id string) (archive.TaskRecord, error) {
	rec, ok := s.tasks[id]
	if !ok {
		return archive.TaskRecord{}, errors.New("not found")
	}
	return rec, nil
}

func (s *stubTaskStore) GetTaskHistory(ctx context.Context, id string) ([]history.Turn, error) {
	turns, ok := s.histories[id]
	if !ok {
		return nil, errors.New("no history")
	}
	return turns, nil
}

func (s *stubTaskStore) ListTasksByUser(ctx context.Context, userID string, limit int) ([]archive.TaskRecord, error) {
	var out []archive.TaskRecord
	for _, rec := range s.tasks {
		if rec.UserID == userID {
			out = append(out, rec)
		}
	}
	return out, nil
}

type stubEnqueuer struct {
	streams  []string
	payloads []interface{}
	err      error
}

func (s *stubEnqueuer) PublishPayload(ctx context.Context, stream, eventType string, payload interface{}, opts ...queue.PublishOption) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	s.streams = append(s.streams, stream)
	s.payloads = append(s.payloads, payload)
	return "1-0", nil
}

type stubSearcher struct {
	hits []archive.TaskHit
	q    string
}

func (s *stubSearcher) Search(q string, limit int) ([]archive.TaskHit, error) {
	s.q = q
	return s.hits, nil
}

func authedContext(e *echo.Echo, req *http.Request, rec *httptest.ResponseRecorder, userID string) echo.Context {
	c := e.NewContext(req, rec)
	c.Set("user_id", userID)
	return c
}

func TestSubmit(t *testing.T) {
	e := echo.New()
	st := &stubTaskStore{}
	pub := &stubEnqueuer{}
	h := &TasksHandler{Store: st, Queue: pub}

	rec := httptest.NewRecorder()
	c := authedContext(e, jsonRequest(http.MethodPost, "/api/tasks", `{"goal":"summarize the report"}`), rec, "u1")
	if err := h.submit(c); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp SubmitTaskResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.TaskID != "task-1" {
		t.Fatalf("task_id = %q", resp.TaskID)
	}
	if len(st.created) != 1 || st.created[0] != "summarize the report" {
		t.Fatalf("created = %v", st.created)
	}
	if len(pub.streams) != 1 || pub.streams[0] != queue.StreamTaskEnqueued {
		t.Fatalf("streams = %v", pub.streams)
	}
	payload, ok := pub.payloads[0].(queue.TaskEnqueuedPayload)
	if !ok || payload.TaskID != "task-1" || payload.UserID != "u1" {
		t.Fatalf("payload = %#v", pub.payloads[0])
	}
}

func TestSubmit_RequiresGoal(t *testing.T) {
	e := echo.New()
	h := &TasksHandler{Store: &stubTaskStore{}, Queue: &stubEnqueuer{}}
	c := authedContext(e, jsonRequest(http.MethodPost, "/api/tasks", `{}`), httptest.NewRecorder(), "u1")
	err := h.submit(c)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusBadRequest {
		t.Fatalf("err = %v", err)
	}
}

func TestSubmit_PublishFailure(t *testing.T) {
	e := echo.New()
	h := &TasksHandler{Store: &stubTaskStore{}, Queue: &stubEnqueuer{err: errors.New("redis down")}}
	c := authedContext(e, jsonRequest(http.MethodPost, "/api/tasks", `{"goal":"g"}`), httptest.NewRecorder(), "u1")
	err := h.submit(c)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusInternalServerError {
		t.Fatalf("err = %v", err)
	}
}

func TestGet_EnforcesOwnership(t *testing.T) {
	e := echo.New()
	st := &stubTaskStore{tasks: map[string]archive.TaskRecord{
		"t1": {ID: "t1", UserID: "other", Goal: "g", Status: archive.TaskStatusQueued},
	}}
	h := &TasksHandler{Store: st}

	req := httptest.NewRequest(http.MethodGet, "/api/tasks/t1", nil)
	c := authedContext(e, req, httptest.NewRecorder(), "u1")
	c.SetParamNames("id")
	c.SetParamValues("t1")
	err := h.get(c)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusNotFound {
		t.Fatalf("foreign task err = %v", err)
	}
}

func TestGetHistory(t *testing.T) {
	e := echo.New()
	turns := []history.Turn{{
		Kind:  history.KindRequest,
		Parts: []history.Part{history.UserPromptPart{Content: "find the capital of France"}},
	}}
	st := &stubTaskStore{
		tasks:     map[string]archive.TaskRecord{"t1": {ID: "t1", UserID: "u1"}},
		histories: map[string][]history.Turn{"t1": turns},
	}
	h := &TasksHandler{Store: st}

	rec := httptest.NewRecorder()
	c := authedContext(e, httptest.NewRequest(http.MethodGet, "/api/tasks/t1/history", nil), rec, "u1")
	c.SetParamNames("id")
	c.SetParamValues("t1")
	if err := h.getHistory(c); err != nil {
		t.Fatalf("getHistory: %v", err)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "user-prompt") || !strings.Contains(body, "capital of France") {
		t.Fatalf("body = %s", body)
	}
}

func TestSearch(t *testing.T) {
	e := echo.New()
	s := &stubSearcher{hits: []archive.TaskHit{{TaskID: "t1", Goal: "find Paris", Outcome: "completed"}}}
	h := &TasksHandler{Search: s}

	rec := httptest.NewRecorder()
	c := authedContext(e, httptest.NewRequest(http.MethodGet, "/api/tasks/search?q=Paris", nil), rec, "u1")
	if err := h.search(c); err != nil {
		t.Fatalf("search: %v", err)
	}
	if s.q != "Paris" {
		t.Fatalf("query = %q", s.q)
	}
	if !strings.Contains(rec.Body.String(), "t1") {
		t.Fatalf("body = %s", rec.Body.String())
	}

	c = authedContext(e, httptest.NewRequest(http.MethodGet, "/api/tasks/search", nil), httptest.NewRecorder(), "u1")
	err := h.search(c)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusBadRequest {
		t.Fatalf("missing q err = %v", err)
	}
}
