package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/taskwright/taskwright/config"
	"github.com/taskwright/taskwright/internal/executor"
	"github.com/taskwright/taskwright/internal/inference"
	"github.com/taskwright/taskwright/internal/planner"
	"github.com/taskwright/taskwright/internal/supervisor"
	"github.com/taskwright/taskwright/internal/toolset"
)

// stdinClarifier prints the executor's question and reads one line back.
type stdinClarifier struct {
	in *bufio.Reader
}

func (c *stdinClarifier) Ask(ctx context.Context, question string) (string, error) {
	fmt.Printf("\n%s\n> ", question)
	line, err := c.in.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

func runCMD() *cobra.Command {
	var cfgPath string
	var interactive bool
	var cmd = &cobra.Command{
		Use:   "run [goal]",
		Short: "Run a single goal in the foreground and print the artifacts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(cfgPath)
			if err != nil {
				return err
			}
			policy, err := cfg.Compaction.Policy()
			if err != nil {
				return err
			}
			provider := inference.NewOpenAIClient(
				cfg.LLM.BaseURL, cfg.LLM.APIKey, cfg.LLM.Model,
				cfg.LLM.Temperature, cfg.LLM.MaxTokens, cfg.LLM.Timeout,
			)
			var clarifier inference.Clarifier
			if interactive {
				clarifier = &stdinClarifier{in: bufio.NewReader(os.Stdin)}
			}
			sup := supervisor.New(
				toolset.BuiltinCatalog(),
				planner.NewLLMSource(provider),
				provider,
				clarifier,
				policy,
				nil,
				supervisor.Config{
					MaxReplans: cfg.Supervisor.MaxReplans,
					Executor: executor.Config{
						MaxAttempts: cfg.Executor.MaxAttempts,
						CallTimeout: cfg.Executor.CallTimeout,
					},
				},
			)

			res, err := sup.Run(cmd.Context(), supervisor.Task{ID: uuid.NewString(), Goal: args[0]})
			if err != nil {
				return err
			}
			fmt.Printf("outcome: %s", res.Outcome)
			if res.Reason != "" {
				fmt.Printf(" (%s)", res.Reason)
			}
			fmt.Printf("  replans: %d  duration: %s\n", res.Replans, res.Duration.Round(time.Millisecond))
			out, err := json.MarshalIndent(res.Artifacts, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(out))
			return nil
		},
	}
	cmd.Flags().BoolVar(&interactive, "interactive", false, "answer clarification questions on stdin")
	cmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default is .)")

	return cmd
}
