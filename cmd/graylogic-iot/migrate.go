package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nerrad567/gray-logic-iot/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-iot/internal/infrastructure/database"
)

func newMigrateCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the database schema",
	}

	open := func() (*database.DB, error) {
		cfg, err := opts.loadConfig()
		if err != nil {
			return nil, fmt.Errorf("loading config: %w", err)
		}
		return openRaw(cfg)
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply all pending migrations",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				db, err := open()
				if err != nil {
					return err
				}
				defer db.Close() //nolint:errcheck // CLI exit

				_, pending, err := db.GetMigrationStatus(cmd.Context())
				if err != nil {
					return err
				}
				if err := db.Migrate(cmd.Context()); err != nil {
					return fmt.Errorf("running migrations: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Applied %d migration(s).\n", len(pending))
				return nil
			},
		},
		&cobra.Command{
			Use:   "down",
			Short: "Roll back the most recent migration",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				db, err := open()
				if err != nil {
					return err
				}
				defer db.Close() //nolint:errcheck // CLI exit

				applied, _, err := db.GetMigrationStatus(cmd.Context())
				if err != nil {
					return err
				}
				if len(applied) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "Nothing to roll back.")
					return nil
				}
				if err := db.MigrateDown(cmd.Context()); err != nil {
					return fmt.Errorf("rolling back: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Rolled back %s.\n", applied[len(applied)-1].Version)
				return nil
			},
		},
		&cobra.Command{
			Use:   "status",
			Short: "List applied and pending migrations",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				db, err := open()
				if err != nil {
					return err
				}
				defer db.Close() //nolint:errcheck // CLI exit

				applied, pending, err := db.GetMigrationStatus(cmd.Context())
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				for _, r := range applied {
					fmt.Fprintf(out, "applied  %s  %s\n", r.Version, r.AppliedAt.Format("2006-01-02 15:04:05"))
				}
				for _, m := range pending {
					fmt.Fprintf(out, "pending  %s  %s\n", m.Version, m.Name)
				}
				return nil
			},
		},
	)
	return cmd
}

// openRaw opens the database without touching the schema.
func openRaw(cfg *config.Config) (*database.DB, error) {
	db, err := database.Open(database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	return db, nil
}
