package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/ireside/ireside/internal/concierge"
	"github.com/ireside/ireside/internal/platform/database"
	"github.com/spf13/cobra"
)

func newKBCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "kb",
		Short: "Manage concierge knowledge bases",
	}

	importCmd := &cobra.Command{
		Use:   "import <property-id> <file.yaml>",
		Short: "Create or update a property's knowledge base entries from YAML",
		Long: `Import knowledge base entries for one property. Entries are matched by
title: existing titles are updated, new titles are created. The file format is

  entries:
    - category: amenities
      title: Laundry room
      content: Basement level, open 7am to 10pm.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			propertyID := args[0]
			if _, err := uuid.Parse(propertyID); err != nil {
				return fmt.Errorf("invalid property id %q", propertyID)
			}
			entries, err := readKnowledgeBase(args[1])
			if err != nil {
				return err
			}

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.Database.URL == "" {
				return errors.New("database.url is required")
			}
			ctx := cmd.Context()
			pool, err := database.Connect(ctx, cfg.Database.URL, 2)
			if err != nil {
				return fmt.Errorf("connecting to database: %w", err)
			}
			defer pool.Close()

			created, updated, err := importKnowledgeBase(ctx, pool, propertyID, entries)
			if err != nil {
				return err
			}
			cmd.Printf("imported %d entries (%d created, %d updated)\n", created+updated, created, updated)
			return nil
		},
	}
	cmd.AddCommand(importCmd)
	return cmd
}

func readKnowledgeBase(path string) ([]concierge.EntryInput, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	entries, err := concierge.ParseKnowledgeBaseYAML(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return entries, nil
}

// importKnowledgeBase upserts entries in one transaction as the system
// session.
func importKnowledgeBase(ctx context.Context, pool *database.Pool, propertyID string, entries []concierge.EntryInput) (created, updated int, err error) {
	store := concierge.NewStore()
	err = database.WithSessionTx(ctx, pool, database.System(), func(ctx context.Context, q database.Querier) error {
		var err error
		created, updated, err = store.Import(ctx, q, propertyID, entries)
		return err
	})
	return created, updated, err
}
