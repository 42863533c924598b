package main

import (
	"context"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"github.com/groundlink/missionwatch/pkg/client"
	"github.com/groundlink/missionwatch/pkg/models"
)

func newRunsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "runs",
		Short: "List runs known to the engine",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			engine := client.NewHTTPEngineClient(cfg.Engine.BaseURL)
			runs, err := engine.ListRuns(context.Background())
			if err != nil {
				return err
			}
			if len(runs) == 0 {
				fmt.Println("no runs")
				return nil
			}
			for _, run := range runs {
				started := "-"
				if run.StartedAt != nil {
					started = run.StartedAt.Format(time.RFC3339)
				}
				fmt.Printf("%s  %-9s  mission=%s  started=%s  nodes=%d\n",
					run.ID, run.Status, run.MissionID, started, len(run.NodeStates))
			}
			return nil
		},
	}
}

func newStartCmd() *cobra.Command {
	var watch bool

	cmd := &cobra.Command{
		Use:   "start <mission-id>",
		Short: "Start a new run of a mission",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			engine := client.NewHTTPEngineClient(cfg.Engine.BaseURL)
			run, err := engine.StartRun(context.Background(), args[0])
			if err != nil {
				return err
			}
			fmt.Printf("run %s started (mission %s)\n", run.ID, run.MissionID)
			if watch {
				return runWatch(run.ID, false, false, "warn", "")
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&watch, "watch", false, "Attach to the run after starting it")
	return cmd
}

func newAbortCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "abort <run-id>",
		Short: "Abort a run",
		Long:  `Send the abort command frame for a run over the engine's event stream.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, _, err := websocket.DefaultDialer.Dial(cfg.Engine.StreamURL, nil)
			if err != nil {
				return fmt.Errorf("dial stream: %w", err)
			}
			defer conn.Close()

			conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteJSON(models.AbortCommand(args[0])); err != nil {
				return fmt.Errorf("send abort: %w", err)
			}
			fmt.Printf("abort requested for run %s\n", args[0])
			return nil
		},
	}
}
