package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/xcord/hub/pkg/config"
	"github.com/xcord/hub/pkg/log"
	"github.com/xcord/hub/pkg/storage"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply control-plane schema migrations",
	Long: `Apply pending schema migrations to the hub control-plane
database and print the resulting schema version.

'hubd run' also migrates on boot; this command is for operators who
migrate ahead of rolling the daemon.`,
	RunE: runMigrate,
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}

func runMigrate(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	log.Init(log.Config{Level: log.Level(cfg.Log.Level), JSONOutput: cfg.Log.JSON})

	ctx := cmd.Context()
	store, err := storage.NewPostgresStore(ctx, cfg.Database.URL)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer store.Close()

	if err := storage.RunMigrations(ctx, store.DB().DB); err != nil {
		return err
	}

	version, err := storage.MigrationStatus(ctx, store.DB().DB)
	if err != nil {
		return err
	}
	fmt.Printf("✓ Schema up to date (version %d)\n", version)
	return nil
}
