package server

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/gorhill/cronexpr"
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"

	"github.com/taskwright/taskwright/internal/archive"
	"github.com/taskwright/taskwright/internal/queue"
	"github.com/taskwright/taskwright/internal/telemetry"
)

// SchedulesHandler serves the recurring-goal endpoints.
type SchedulesHandler struct {
	Store *archive.Store
}

func (h *SchedulesHandler) Register(g *echo.Group, secret []byte) {
	g.Use(func(next echo.HandlerFunc) echo.HandlerFunc { return withAuth(next, secret) })
	g.POST("", h.create)
	g.GET("", h.list)
}

func (h *SchedulesHandler) create(c echo.Context) error {
	var req CreateScheduleRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Goal == "" || req.CronSpec == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "goal and cron_spec are required")
	}
	if req.CronSpec != "@daily" && req.CronSpec != "@hourly" {
		if _, err := cronexpr.Parse(req.CronSpec); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid cron_spec")
		}
	}
	userID, _ := c.Get("user_id").(string)
	id, err := h.Store.CreateSchedule(c.Request().Context(), userID, req.Goal, req.CronSpec)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusCreated, map[string]string{"id": id})
}

func (h *SchedulesHandler) list(c echo.Context) error {
	recs, err := h.Store.ListSchedules(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	userID, _ := c.Get("user_id").(string)
	out := make([]ScheduleResponse, 0, len(recs))
	for _, rec := range recs {
		if rec.UserID != "" && rec.UserID != userID {
			continue
		}
		out = append(out, ScheduleResponse{
			ID:             rec.ID,
			Goal:           rec.Goal,
			CronSpec:       rec.CronSpec,
			LastEnqueuedAt: rec.LastEnqueuedAt,
			CreatedAt:      rec.CreatedAt,
		})
	}
	return c.JSON(http.StatusOK, out)
}

// ScheduleStore captures the archive methods the scheduler needs.
type ScheduleStore interface {
	ListSchedules(ctx context.Context) ([]archive.ScheduleRecord, error)
	CreateTask(ctx context.Context, userID, goal string) (string, error)
	TouchSchedule(ctx context.Context, id string, at time.Time) error
}

// Scheduler enqueues tasks for due schedules. The Redis lock keeps multiple
// server replicas from enqueuing the same schedule in the same window.
type Scheduler struct {
	Store  ScheduleStore
	Queue  Enqueuer
	Rdb    *redis.Client
	Stop   chan struct{}
	logger *log.Logger
}

// Start launches the ticking loop.
func (s *Scheduler) Start() {
	if s.logger == nil {
		s.logger = telemetry.NewLogger("SCHED")
	}
	ticker := time.NewTicker(time.Minute)
	go func() {
		for {
			select {
			case <-s.Stop:
				ticker.Stop()
				return
			case <-ticker.C:
				s.tick()
			}
		}
	}()
}

func (s *Scheduler) tick() {
	ctx := context.Background()
	schedules, err := s.Store.ListSchedules(ctx)
	if err != nil {
		s.logger.Printf("warn: list schedules: %v", err)
		return
	}
	for _, sched := range schedules {
		if !isDue(sched.CronSpec, sched.LastEnqueuedAt) {
			continue
		}
		if s.Rdb != nil {
			lockKey := "sched:lock:" + sched.ID
			ok, _ := s.Rdb.SetNX(ctx, lockKey, "1", 2*time.Minute).Result()
			if !ok {
				continue
			}
		}
		taskID, err := s.Store.CreateTask(ctx, sched.UserID, sched.Goal)
		if err != nil {
			s.logger.Printf("warn: create task for schedule %s: %v", sched.ID, err)
			continue
		}
		payload := queue.TaskEnqueuedPayload{TaskID: taskID, Goal: sched.Goal, UserID: sched.UserID}
		if _, err := s.Queue.PublishPayload(ctx, queue.StreamTaskEnqueued, queue.EventTaskEnqueued, payload); err != nil {
			s.logger.Printf("warn: enqueue schedule %s: %v", sched.ID, err)
			continue
		}
		if err := s.Store.TouchSchedule(ctx, sched.ID, time.Now().UTC()); err != nil {
			s.logger.Printf("warn: touch schedule %s: %v", sched.ID, err)
		}
		s.logger.Printf("schedule %s enqueued task %s", sched.ID, taskID)
	}
}

// isDue reports whether a schedule should fire now given its last firing.
// Supports "@daily", "@hourly", and standard cron expressions; a spec that
// fails to parse falls back to @daily.
func isDue(cronSpec string, last *time.Time) bool {
	now := time.Now()
	switch cronSpec {
	case "@daily":
		return last == nil || now.Sub(*last) >= 24*time.Hour
	case "@hourly":
		return last == nil || now.Sub(*last) >= time.Hour
	default:
		expr, err := cronexpr.Parse(cronSpec)
		if err != nil {
			return last == nil || now.Sub(*last) >= 24*time.Hour
		}
		if last == nil {
			return true
		}
		return !expr.Next(*last).After(now)
	}
}
