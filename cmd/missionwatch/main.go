// Package main is the missionwatch CLI: attach to a mission run, tail its
// transmission log, and drive retries or aborts.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/groundlink/missionwatch/pkg/config"
)

var (
	cfgPath   string
	engineURL string
	streamURL string

	cfg *config.Config
)

func main() {
	_ = godotenv.Load()

	root := &cobra.Command{
		Use:   "missionwatch",
		Short: "Watch mission run execution in real time",
		Long: `missionwatch attaches to a mission execution engine, follows the live
event stream for a run, and drives selective retry of failed work.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			cfg, err = config.Load(cfgPath)
			if err != nil {
				return err
			}
			if engineURL != "" {
				cfg.Engine.BaseURL = engineURL
			}
			if streamURL != "" {
				cfg.Engine.StreamURL = streamURL
			}
			return nil
		},
	}

	root.PersistentFlags().StringVar(&cfgPath, "config", "", "Path to config file")
	root.PersistentFlags().StringVar(&engineURL, "engine-url", "", "Engine REST base URL")
	root.PersistentFlags().StringVar(&streamURL, "stream-url", "", "Engine event stream URL")

	root.AddCommand(newWatchCmd())
	root.AddCommand(newRunsCmd())
	root.AddCommand(newStartCmd())
	root.AddCommand(newAbortCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
