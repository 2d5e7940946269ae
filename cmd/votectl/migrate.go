package main

import (
	"fmt"
	"io/fs"
	"os"

	"github.com/spf13/cobra"

	"featurevotes/internal/config"
	"featurevotes/internal/store"
)

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the vote ledger schema",
		Long: `Apply the vote ledger migrations to DATABASE_URL.

Migrations are embedded in the binary. Set MIGRATIONS_DIR to apply a
directory of .sql files instead. Every migration is safe to re-run.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig()
			if err != nil {
				return err
			}
			if cfg.DBDataSourceName == "" {
				return fmt.Errorf("%w: DATABASE_URL is not configured", config.ErrConfiguration)
			}

			db, err := store.ConnectDB(cfg.DBDriver, cfg.DBDataSourceName)
			if err != nil {
				return err
			}
			defer db.Close()

			var migrations fs.FS
			if cfg.MigrationsDir != "" {
				migrations = os.DirFS(cfg.MigrationsDir)
			} else if migrations, err = store.MigrationsFor(cfg.DBDriver); err != nil {
				return err
			}

			if err := store.RunMigrations(db, migrations); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Migrations applied (%s)\n", cfg.DBDriver)
			return nil
		},
	}
}
