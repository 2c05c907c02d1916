package main

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/ireside/ireside/internal/platform/database"
	"github.com/spf13/cobra"
)

func newMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply or revert database migrations",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.Database.URL == "" {
				return errors.New("database.url is required")
			}
			if err := database.RunMigrations(cfg.Database.URL, migrationsURL(cfg)); err != nil {
				return err
			}
			return printVersion(cmd, cfg.Database.URL, migrationsURL(cfg))
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "down [steps]",
		Short: "Revert migrations, one step unless steps is given (0 reverts everything)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			steps := 1
			if len(args) == 1 {
				n, err := strconv.Atoi(args[0])
				if err != nil || n < 0 {
					return fmt.Errorf("invalid steps %q", args[0])
				}
				steps = n
			}

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.Database.URL == "" {
				return errors.New("database.url is required")
			}
			if err := database.RollbackMigrations(cfg.Database.URL, migrationsURL(cfg), steps); err != nil {
				return err
			}
			return printVersion(cmd, cfg.Database.URL, migrationsURL(cfg))
		},
	})

	return cmd
}

func printVersion(cmd *cobra.Command, databaseURL, sourceURL string) error {
	v, dirty, err := database.MigrationVersion(databaseURL, sourceURL)
	if err != nil {
		return err
	}
	if dirty {
		cmd.Printf("schema version %d (dirty)\n", v)
		return nil
	}
	cmd.Printf("schema version %d\n", v)
	return nil
}
