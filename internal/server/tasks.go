package server

import (
	"context"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/taskwright/taskwright/internal/archive"
	"github.com/taskwright/taskwright/internal/history"
	"github.com/taskwright/taskwright/internal/queue"
)

// TaskStore captures the archive methods the task endpoints need.
type TaskStore interface {
	CreateTask(ctx context.Context, userID, goal string) (string, error)
	GetTask(ctx context.Context, id string) (archive.TaskRecord, error)
	GetTaskHistory(ctx context.Context, id string) ([]history.Turn, error)
	ListTasksByUser(ctx context.Context, userID string, limit int) ([]archive.TaskRecord, error)
}

// Searcher captures the search index surface.
type Searcher interface {
	Search(q string, limit int) ([]archive.TaskHit, error)
}

// Enqueuer captures the queue publisher surface.
type Enqueuer interface {
	PublishPayload(ctx context.Context, stream, eventType string, payload interface{}, opts ...queue.PublishOption) (string, error)
}

// TasksHandler serves task submission, lookup, and search.
type TasksHandler struct {
	Store  TaskStore
	Search Searcher
	Queue  Enqueuer
}

func (h *TasksHandler) Register(g *echo.Group, secret []byte) {
	g.Use(func(next echo.HandlerFunc) echo.HandlerFunc { return withAuth(next, secret) })
	g.POST("", h.submit)
	g.GET("", h.list)
	g.GET("/search", h.search)
	g.GET("/:id", h.get)
	g.GET("/:id/history", h.getHistory)
}

func (h *TasksHandler) submit(c echo.Context) error {
	var req SubmitTaskRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Goal == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "goal is required")
	}
	userID, _ := c.Get("user_id").(string)
	ctx := c.Request().Context()

	id, err := h.Store.CreateTask(ctx, userID, req.Goal)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	payload := queue.TaskEnqueuedPayload{TaskID: id, Goal: req.Goal, UserID: userID}
	if _, err := h.Queue.PublishPayload(ctx, queue.StreamTaskEnqueued, queue.EventTaskEnqueued, payload); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusAccepted, SubmitTaskResponse{TaskID: id})
}

func (h *TasksHandler) list(c echo.Context) error {
	userID, _ := c.Get("user_id").(string)
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	recs, err := h.Store.ListTasksByUser(c.Request().Context(), userID, limit)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	out := make([]TaskResponse, 0, len(recs))
	for _, rec := range recs {
		out = append(out, taskResponse(rec))
	}
	return c.JSON(http.StatusOK, out)
}

func (h *TasksHandler) get(c echo.Context) error {
	rec, err := h.loadOwned(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, taskResponse(rec))
}

// getHistory returns the task's conversation log in its persisted JSON
// format.
func (h *TasksHandler) getHistory(c echo.Context) error {
	rec, err := h.loadOwned(c)
	if err != nil {
		return err
	}
	turns, err := h.Store.GetTaskHistory(c.Request().Context(), rec.ID)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "no history for task")
	}
	raw, err := history.MarshalLog(turns)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSONBlob(http.StatusOK, raw)
}

func (h *TasksHandler) search(c echo.Context) error {
	q := c.QueryParam("q")
	if q == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "q is required")
	}
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	hits, err := h.Search.Search(q, limit)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, hits)
}

func (h *TasksHandler) loadOwned(c echo.Context) (archive.TaskRecord, error) {
	rec, err := h.Store.GetTask(c.Request().Context(), c.Param("id"))
	if err != nil {
		return archive.TaskRecord{}, echo.NewHTTPError(http.StatusNotFound, "task not found")
	}
	userID, _ := c.Get("user_id").(string)
	if rec.UserID != "" && rec.UserID != userID {
		return archive.TaskRecord{}, echo.NewHTTPError(http.StatusNotFound, "task not found")
	}
	return rec, nil
}

func taskResponse(rec archive.TaskRecord) TaskResponse {
	return TaskResponse{
		ID:         rec.ID,
		Goal:       rec.Goal,
		Status:     rec.Status,
		Outcome:    rec.Outcome,
		Reason:     rec.Reason,
		Replans:    rec.Replans,
		Artifacts:  rec.Artifacts,
		CreatedAt:  rec.CreatedAt,
		FinishedAt: rec.FinishedAt,
	}
}
