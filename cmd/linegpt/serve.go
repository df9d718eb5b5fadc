package main

import (
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/bdobrica/linegpt/common/version"
	"github.com/bdobrica/linegpt/internal/linegpt/app"
)

func newServeCmd(use, short string, webhook, worker bool) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			slog.Info("starting linegpt", "mode", use, "version", version.Version, "commit", version.GitCommit)

			a, err := app.New(cfg, app.Components{Webhook: webhook, Worker: worker})
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return a.Run(ctx)
		},
	}
}

