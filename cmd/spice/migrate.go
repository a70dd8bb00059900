package main

import (
	"github.com/Veraticus/the-spice-must-match/internal/cli"
	"github.com/Veraticus/the-spice-must-match/internal/common"
	"github.com/spf13/cobra"
)

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
		Long: `Initialize or update the database schema to the latest version.

Every other command migrates on startup too; this one only migrates.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			common.LogInfo("Running database migrations", common.Fields{"database": cfg.Database.Path})

			store, err := openStorage(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			say(cmd, cli.FormatSuccess("Database is up to date: " + cfg.Database.Path))
			return nil
		},
	}
}
