package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/groundlink/missionwatch/pkg/client"
	"github.com/groundlink/missionwatch/pkg/eventlog"
	"github.com/groundlink/missionwatch/pkg/ingest"
	"github.com/groundlink/missionwatch/pkg/logging"
	"github.com/groundlink/missionwatch/pkg/metrics"
	"github.com/groundlink/missionwatch/pkg/models"
	"github.com/groundlink/missionwatch/pkg/session"
)

func newWatchCmd() *cobra.Command {
	var (
		autoRetry   bool
		follow      bool
		logLevel    string
		metricsAddr string
	)

	cmd := &cobra.Command{
		Use:   "watch [run-id]",
		Short: "Attach to a run and tail its transmission log",
		Long: `Attach to a run's live event stream and print transmission log entries as
they arrive. With no run id, the first active run announced by the stream is
adopted. When the run fails, --auto-retry issues one retry batch for the
root-failed nodes.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			runID := ""
			if len(args) == 1 {
				runID = args[0]
			}
			return runWatch(runID, autoRetry, follow, logLevel, metricsAddr)
		},
	}

	cmd.Flags().BoolVar(&autoRetry, "auto-retry", false, "Issue one retry batch when the run fails")
	cmd.Flags().BoolVar(&follow, "follow", false, "Keep watching after the run concludes")
	cmd.Flags().StringVar(&logLevel, "log-level", "warn", "Minimum diagnostic log level")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (e.g. :9190)")
	return cmd
}

func runWatch(runID string, autoRetry, follow bool, logLevel, metricsAddr string) error {
	engine := client.NewHTTPEngineClient(cfg.Engine.BaseURL)
	if cfg.Engine.Timeout > 0 {
		engine.SetTimeout(cfg.Engine.Timeout)
	}

	var meter *metrics.Collector
	if metricsAddr != "" {
		registry := prometheus.NewRegistry()
		meter = metrics.NewCollector(registry)
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
		go func() {
			if err := http.ListenAndServe(metricsAddr, mux); err != nil {
				fmt.Fprintln(os.Stderr, "metrics server failed:", err)
			}
		}()
	}

	// Following past conclusion accumulates more history than a single run.
	capacity := cfg.Watch.LogCapacity
	if follow && capacity < eventlog.ExtendedCapacity {
		capacity = eventlog.ExtendedCapacity
	}

	concluded := make(chan models.RunStatus, 1)
	sess, err := session.New(session.Config{
		StreamURL:         cfg.Engine.StreamURL,
		Engine:            engine,
		LogCapacity:       capacity,
		ReconnectDelay:    cfg.Watch.ReconnectDelay,
		ReconcileSchedule: cfg.Watch.ReconcileSchedule,
		Logger:            logging.New(os.Stderr, logging.ParseLevel(logLevel)),
		Meter:             meter,
		Hooks: ingest.Hooks{
			OnRunConcluded: func(outcome models.RunStatus) {
				select {
				case concluded <- outcome:
				default:
				}
			},
		},
	})
	if err != nil {
		return err
	}
	defer sess.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := sess.Start(ctx, runID); err != nil {
		return err
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()

	var printed uint64
	for {
		select {
		case <-ticker.C:
			printed = printNewEntries(sess, printed)
		case outcome := <-concluded:
			printed = printNewEntries(sess, printed)
			fmt.Printf("run %s: %s\n", sess.Snapshot().RunID, outcome)
			if outcome == models.RunStatusFailed && autoRetry {
				plan, err := sess.RetryFailed(ctx)
				if err != nil {
					fmt.Fprintln(os.Stderr, "retry batch failed:", err)
				} else {
					fmt.Printf("retry batch issued for %d node(s): %v\n", len(plan), plan)
					continue
				}
			} else if outcome == models.RunStatusFailed {
				if failed := sess.Store().FailedNodes(); len(failed) > 0 {
					fmt.Printf("failed nodes: %v\n", failed)
				}
				if plan := sess.PlanRetry(); len(plan) > 0 {
					fmt.Printf("root-failed nodes: %v (re-run with --auto-retry)\n", plan)
				}
			}
			if !follow {
				return nil
			}
		case <-stop:
			printNewEntries(sess, printed)
			return nil
		}
	}
}

// printNewEntries writes entries appended since the last call and returns
// the new high-water mark.
func printNewEntries(sess *session.Session, printed uint64) uint64 {
	log := sess.Log()
	total := log.TotalAppended()
	if total == printed {
		return printed
	}
	entries := log.Entries()
	fresh := total - printed
	if fresh > uint64(len(entries)) {
		// Older entries were evicted before we saw them.
		fresh = uint64(len(entries))
	}
	for _, e := range entries[uint64(len(entries))-fresh:] {
		label := e.NodeLabel
		if label != "" {
			label = " [" + label + "]"
		}
		fmt.Printf("%s %-5s%s %s\n", e.Timestamp.Format("15:04:05"), e.Type, label, e.Message)
	}
	return total
}
