package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
	"github.com/stemsi/cbt-backend/internal/database"
)

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply or inspect the embedded schema migrations",
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply all pending migrations",
			Args:  cobra.NoArgs,
			RunE: withMigrator(func(cmd *cobra.Command, m *database.Migrator) error {
				if err := m.Up(); err != nil {
					return fmt.Errorf("migrate up: %w", err)
				}
				cmd.Println("Migrated up successfully")
				return nil
			}),
		},
		&cobra.Command{
			Use:   "down",
			Short: "Roll back every migration",
			Args:  cobra.NoArgs,
			RunE: withMigrator(func(cmd *cobra.Command, m *database.Migrator) error {
				if err := m.Down(); err != nil {
					return fmt.Errorf("migrate down: %w", err)
				}
				cmd.Println("Migrated down successfully")
				return nil
			}),
		},
		&cobra.Command{
			Use:   "version",
			Short: "Print the current schema version",
			Args:  cobra.NoArgs,
			RunE: withMigrator(func(cmd *cobra.Command, m *database.Migrator) error {
				version, dirty, err := m.Version()
				if err != nil {
					return fmt.Errorf("read version: %w", err)
				}
				cmd.Printf("Version: %d, Dirty: %t\n", version, dirty)
				return nil
			}),
		},
		&cobra.Command{
			Use:   "force VERSION",
			Short: "Mark VERSION as applied and clear the dirty flag",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				version, err := strconv.Atoi(args[0])
				if err != nil {
					return fmt.Errorf("invalid version %q: %w", args[0], err)
				}
				return withMigrator(func(cmd *cobra.Command, m *database.Migrator) error {
					if err := m.Force(version); err != nil {
						return fmt.Errorf("force version: %w", err)
					}
					cmd.Printf("Forced version %d\n", version)
					return nil
				})(cmd, args)
			},
		},
	)
	return cmd
}

func withMigrator(fn func(*cobra.Command, *database.Migrator) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, _ []string) error {
		e := loadEnv()
		m, err := database.NewMigrator(e.cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer func() {
			if err := m.Close(); err != nil {
				e.log.Warn().Err(err).Msg("Closing migrator")
			}
		}()
		return fn(cmd, m)
	}
}
