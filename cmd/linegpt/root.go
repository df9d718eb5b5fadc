package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/bdobrica/linegpt/internal/linegpt/config"
	"github.com/bdobrica/linegpt/internal/linegpt/observability"
)

func Execute() {
	root := newRootCmd()
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:           "linegpt",
		Short:         "LINE chat bot backed by an LLM",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	cmd.PersistentFlags().StringVar(&configPath, "config", "", "YAML config file (overrides LINEGPT_CONFIG).")
	cmd.PersistentPreRunE = func(_ *cobra.Command, _ []string) error {
		if configPath != "" {
			return os.Setenv("LINEGPT_CONFIG", configPath)
		}
		return nil
	}

	cmd.AddCommand(newServeCmd("serve", "Run the webhook receiver and the worker in one process", true, true))
	cmd.AddCommand(newServeCmd("webhook", "Run the LINE webhook receiver", true, false))
	cmd.AddCommand(newServeCmd("worker", "Run the queue worker", false, true))
	cmd.AddCommand(newHistoryCmd())
	cmd.AddCommand(newMigrateCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// loadConfig reads the configuration and sets up logging from it.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	observability.Setup(cfg.Log.Level, cfg.Log.Format)
	return cfg, nil
}
