package main

import (
	"fmt"

	"github.com/smallbiznis/scanledger/internal/config"
	"github.com/smallbiznis/scanledger/internal/migration"
	"github.com/smallbiznis/scanledger/pkg/db"
	"github.com/spf13/cobra"
)

func migrateCmd() *cobra.Command {
	var down int

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		Long: `Apply database migrations and exit.

Postgres runs the embedded SQL migrations. Other dialects use the
model-driven schema sync. --down rolls back the given number of SQL
migrations and is only supported on postgres.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			conn, err := db.Open(db.FromAppConfig(cfg))
			if err != nil {
				return err
			}
			sqlDB, err := conn.DB()
			if err != nil {
				return err
			}
			defer sqlDB.Close()

			if down > 0 {
				if cfg.DBType != "postgres" {
					return fmt.Errorf("rollback is not supported for %s", cfg.DBType)
				}
				if err := migration.Rollback(sqlDB, down); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "rolled back %d migration(s)\n", down)
				return nil
			}

			if err := migration.Apply(conn, cfg.DBType); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
			return nil
		},
	}

	cmd.Flags().IntVar(&down, "down", 0, "number of migrations to roll back")
	return cmd
}
