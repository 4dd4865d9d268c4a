package cmd

import (
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/spf13/cobra"

	"github.com/JakeFAU/tcg-catalog-crawler/internal/config"
	pgstore "github.com/JakeFAU/tcg-catalog-crawler/internal/storage/postgres"
)

func newMigrateCmd() *cobra.Command {
	var down bool
	cmd := &cobra.Command{
		Use:         "migrate",
		Short:       "Applies the embedded schema migrations to db.dsn",
		Args:        cobra.NoArgs,
		Annotations: map[string]string{skipApp: "true"},
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := resolveConfig(cmd.Context())
			if err != nil {
				return err
			}
			if cfg.DB.Driver != config.DriverPostgres {
				return fmt.Errorf("migrate needs db.driver postgres, got %q", cfg.DB.Driver)
			}
			if !down {
				if err := pgstore.RunMigrations(cfg.DB.DSN); err != nil {
					return err
				}
			} else {
				m, err := pgstore.NewMigrator(cfg.DB.DSN)
				if err != nil {
					return err
				}
				defer m.Close() //nolint:errcheck // close errors are not actionable
				if err := m.Down(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
					return fmt.Errorf("migrate down: %w", err)
				}
			}
			fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
			return nil
		},
	}
	cmd.Flags().BoolVar(&down, "down", false, "roll every migration back instead")
	return cmd
}
