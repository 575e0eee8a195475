// Package server exposes the HTTP API: auth, task submission and lookup,
// schedules, and full-text search over finished tasks.
package server

import (
	"context"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/taskwright/taskwright/config"
	"github.com/taskwright/taskwright/internal/archive"
	"github.com/taskwright/taskwright/internal/queue"
	"github.com/taskwright/taskwright/internal/telemetry"
)

// Run wires the full API server from configuration and blocks serving it.
func Run(cfg *config.Config) error {
	ctx := context.Background()

	dsn, err := cfg.Storage.Postgres.DSN()
	if err != nil {
		return err
	}
	if err := archive.Migrate("file://migrations", dsn, "up", 0); err != nil {
		logger := telemetry.NewLogger("SERVER")
		logger.Printf("warn: migrate: %v", err)
	}
	st, err := archive.NewWithDSN(ctx, dsn)
	if err != nil {
		return err
	}

	if cfg.Storage.Redis.Host == "" {
		return fmt.Errorf("redis not configured (storage.redis.host)")
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Storage.Redis.Addr(),
		Password: cfg.Storage.Redis.Password,
		DB:       cfg.Storage.Redis.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis connection failed (%s): %w", cfg.Storage.Redis.Addr(), err)
	}

	search, err := archive.OpenSearchIndex(cfg.Search.IndexPath)
	if err != nil {
		return err
	}

	if cfg.Server.JWTSecret == "" {
		return fmt.Errorf("jwt secret not configured (server.jwt_secret)")
	}

	pub := queue.NewPublisher(rdb)
	e := New(st, search, pub, rdb, []byte(cfg.Server.JWTSecret))

	sched := &Scheduler{Store: st, Queue: pub, Rdb: rdb, Stop: make(chan struct{})}
	sched.Start()
	defer close(sched.Stop)

	return e.Start(cfg.Server.Address)
}

// New assembles the echo instance with all routes and middleware. Callers
// that need partial wiring (tests) can pass nil for unused collaborators.
func New(st *archive.Store, search Searcher, pub Enqueuer, rdb *redis.Client, jwtSecret []byte) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())

	logger := telemetry.NewLogger("HTTP")
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		code := http.StatusInternalServerError
		msg := err.Error()
		if he, ok := err.(*echo.HTTPError); ok {
			code = he.Code
			if he.Message != nil {
				msg = fmt.Sprint(he.Message)
			}
		}
		req := c.Request()
		logger.Printf("%d %s %s from %s: %v", code, req.Method, req.URL.Path, c.RealIP(), err)
		if !c.Response().Committed {
			_ = c.JSON(code, map[string]interface{}{"error": msg})
		}
	}
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "Cookie"},
		AllowCredentials: true,
	}))

	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	api := e.Group("/api")

	auth := &AuthHandler{Store: st, Secret: jwtSecret}
	auth.Register(api.Group("/auth"))

	th := &TasksHandler{Store: st, Search: search, Queue: pub}
	th.Register(api.Group("/tasks"), jwtSecret)

	sh := &SchedulesHandler{Store: st}
	sh.Register(api.Group("/schedules"), jwtSecret)

	return e
}
