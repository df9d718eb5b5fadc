package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bdobrica/linegpt/internal/linegpt/store"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or upgrade the database schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			st, err := store.New(cfg.DatabasePath)
			if err != nil {
				return err
			}
			defer st.Close()

			v, err := st.SchemaVersion(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: schema version %d\n", cfg.DatabasePath, v)
			return nil
		},
	}
}
