package main

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/MikeSquared-Agency/scribe/internal/store"
)

var migrateCmd = &cobra.Command{
	Use:       "migrate [up|down|version]",
	Short:     "Manage the Postgres schema",
	Args:      cobra.MaximumNArgs(1),
	ValidArgs: []string{"up", "down", "version"},
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg.DatabaseURL == "" {
			return errors.New("DATABASE_URL is required")
		}
		action := "up"
		if len(args) == 1 {
			action = args[0]
		}

		switch action {
		case "up":
			if err := store.Migrate(cfg.DatabaseURL); err != nil {
				return err
			}
		case "down":
			if err := store.Rollback(cfg.DatabaseURL); err != nil {
				return err
			}
		case "version":
		default:
			return fmt.Errorf("unknown migrate action %q", action)
		}

		version, dirty, err := store.MigrationVersion(cfg.DatabaseURL)
		if err != nil {
			return err
		}
		slog.Info("schema version", "version", version, "dirty", dirty)
		return nil
	},
}
