package main

import (
	"errors"
	"log/slog"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/open-sspm/integration-hub/db/migrations"
	"github.com/open-sspm/integration-hub/internal/config"
	"github.com/spf13/cobra"
)

var migrateDown bool

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Run database migrations",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		src, err := iofs.New(migrations.FS, ".")
		if err != nil {
			return err
		}
		m, err := migrate.NewWithSourceInstance("iofs", src, cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer m.Close()

		run := m.Up
		if migrateDown {
			run = m.Down
		}
		if err := run(); err != nil {
			if errors.Is(err, migrate.ErrNoChange) {
				slog.Info("no changes to apply")
				return nil
			}
			return err
		}

		slog.Info("migrations applied successfully", "down", migrateDown)
		return nil
	},
}

func init() {
	migrateCmd.Flags().BoolVar(&migrateDown, "down", false, "roll back every migration")
}
