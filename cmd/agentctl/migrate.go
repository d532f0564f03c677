package main

import (
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/mentorlink/study-agent/internal/infrastructure/persistence/postgres"
)

func newMigrateCommand(e *env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the database schema",
		Args:  cobra.NoArgs,
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply pending migrations",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return e.withMigrator(cmd, func(m *postgres.Migrator) error {
					n, err := m.Migrate(cmd.Context())
					if err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "applied %d migration(s)\n", n)
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "down",
			Short: "Roll back the latest migration",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return e.withMigrator(cmd, func(m *postgres.Migrator) error {
					if err := m.Rollback(cmd.Context()); err != nil {
						return err
					}
					fmt.Fprintln(cmd.OutOrStdout(), "rolled back 1 migration")
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "status",
			Short: "List migrations and whether they are applied",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return e.withMigrator(cmd, func(m *postgres.Migrator) error {
					migrations, err := m.Status(cmd.Context())
					if err != nil {
						return err
					}
					tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
					fmt.Fprintln(tw, "VERSION\tNAME\tAPPLIED")
					for _, mg := range migrations {
						applied := "no"
						if mg.IsApplied {
							applied = mg.AppliedAt.Format("2006-01-02 15:04:05")
						}
						fmt.Fprintf(tw, "%d\t%s\t%s\n", mg.Version, mg.Name, applied)
					}
					return tw.Flush()
				})
			},
		},
	)
	return cmd
}

func (e *env) withMigrator(cmd *cobra.Command, fn func(m *postgres.Migrator) error) error {
	cfg, err := e.loadConfig()
	if err != nil {
		return err
	}
	if cfg.Database.URL == "" {
		return errors.New("DATABASE_URL is not set")
	}
	pgCfg := postgres.DefaultConfig()
	pgCfg.URL = cfg.Database.URL
	conn, err := postgres.NewConnection(cmd.Context(), pgCfg)
	if err != nil {
		return err
	}
	defer conn.Close()
	return fn(postgres.NewMigrator(conn))
}
