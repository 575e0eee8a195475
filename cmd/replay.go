package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/taskwright/taskwright/config"
	"github.com/taskwright/taskwright/internal/archive"
	"github.com/taskwright/taskwright/internal/compact"
	"github.com/taskwright/taskwright/internal/history"
)

func replayCMD() *cobra.Command {
	var cfgPath string
	var fromFile string
	var compacted bool
	var cmd = &cobra.Command{
		Use:   "replay [task-id]",
		Short: "Print an archived conversation log, optionally after compaction",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(cfgPath)
			if err != nil {
				return err
			}

			var turns []history.Turn
			switch {
			case fromFile != "":
				raw, err := os.ReadFile(fromFile)
				if err != nil {
					return err
				}
				turns, err = history.UnmarshalLog(raw)
				if err != nil {
					return err
				}
			case len(args) == 1:
				dsn, err := cfg.Storage.Postgres.DSN()
				if err != nil {
					return err
				}
				st, err := archive.NewWithDSN(context.Background(), dsn)
				if err != nil {
					return err
				}
				turns, err = st.GetTaskHistory(context.Background(), args[0])
				if err != nil {
					return err
				}
			default:
				return fmt.Errorf("pass a task id or --file")
			}

			if compacted {
				policy, err := cfg.Compaction.Policy()
				if err != nil {
					return err
				}
				before := compact.TextSize(turns)
				turns = compact.Compact(turns, policy)
				fmt.Fprintf(os.Stderr, "compacted %d -> %d bytes of text across %d parts\n",
					before, compact.TextSize(turns), compact.PartCount(turns))
			}

			raw, err := history.MarshalLog(turns)
			if err != nil {
				return err
			}
			fmt.Println(string(raw))
			return nil
		},
	}
	cmd.Flags().StringVar(&fromFile, "file", "", "read the log from a JSON file instead of the archive")
	cmd.Flags().BoolVar(&compacted, "compacted", false, "apply the configured compaction policy before printing")
	cmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default is .)")

	return cmd
}
