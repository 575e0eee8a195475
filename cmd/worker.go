package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/taskwright/taskwright/config"
	"github.com/taskwright/taskwright/internal/archive"
	"github.com/taskwright/taskwright/internal/executor"
	"github.com/taskwright/taskwright/internal/inference"
	"github.com/taskwright/taskwright/internal/planner"
	"github.com/taskwright/taskwright/internal/queue"
	"github.com/taskwright/taskwright/internal/supervisor"
	"github.com/taskwright/taskwright/internal/telemetry"
	"github.com/taskwright/taskwright/internal/toolset"
	"github.com/taskwright/taskwright/internal/worker"
)

func workerCMD() *cobra.Command {
	var cfgPath string
	var cmd = &cobra.Command{
		Use:   "worker",
		Short: "Consume enqueued tasks and run them",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(cfgPath)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			dsn, err := cfg.Storage.Postgres.DSN()
			if err != nil {
				return err
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
			if err := queue.EnsureGroup(ctx, rdb, queue.StreamTaskEnqueued, cfg.Worker.Group); err != nil {
				return err
			}
			name := cfg.Worker.Name
			if name == "" {
				name, _ = os.Hostname()
			}
			consumer := queue.NewConsumer(rdb, cfg.Worker.Group, name)
			publisher := queue.NewPublisher(rdb)

			search, err := archive.OpenSearchIndex(cfg.Search.IndexPath)
			if err != nil {
				return err
			}
			defer search.Close()

			policy, err := cfg.Compaction.Policy()
			if err != nil {
				return err
			}
			provider := inference.NewOpenAIClient(
				cfg.LLM.BaseURL, cfg.LLM.APIKey, cfg.LLM.Model,
				cfg.LLM.Temperature, cfg.LLM.MaxTokens, cfg.LLM.Timeout,
			)
			tel := telemetry.New(prometheus.DefaultRegisterer)
			sup := supervisor.New(
				toolset.BuiltinCatalog(),
				planner.NewLLMSource(provider),
				provider,
				nil,
				policy,
				tel,
				supervisor.Config{
					MaxReplans: cfg.Supervisor.MaxReplans,
					Executor: executor.Config{
						MaxAttempts: cfg.Executor.MaxAttempts,
						CallTimeout: cfg.Executor.CallTimeout,
					},
				},
			)

			proc := worker.NewProcessor(st, sup, consumer, publisher, search, queue.StreamTaskEnqueued)
			return proc.Start(ctx)
		},
	}
	cmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default is .)")

	return cmd
}
