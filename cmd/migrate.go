package cmd

import (
	"fmt"
	"log"

	"github.com/spf13/cobra"

	"github.com/nabilgpt/samia-tarot-refactor-sub016/internal/config"
	"github.com/nabilgpt/samia-tarot-refactor-sub016/internal/database"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate [create <name>]",
	Short: "Run pending SQL migrations (or create a new migration pair)",
	RunE:  runMigrate,
}

func runMigrate(cmd *cobra.Command, args []string) error {
	if len(args) > 0 && args[0] == "create" {
		if len(args) < 2 {
			log.Fatal("migration name required")
		}
		return database.CreateMigration(args[1])
	}
	return runMigrateUp(cmd, nil)
}

func runMigrateUp(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return database.MigrateUp(cfg.DatabaseURL())
}
