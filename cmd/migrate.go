package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"recsignal/internal/config"
	"recsignal/internal/logging"
)

type migrateOptions struct {
	Seed bool
}

func migrateCmd() *cobra.Command {
	var opts migrateOptions
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "create the Postgres schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrate(cmd.Context(), opts)
		},
	}
	fs := cmd.Flags()
	fs.BoolVar(&opts.Seed, "seed", false, "insert the default thresholds that are missing")
	return cmd
}

func runMigrate(ctx context.Context, opts migrateOptions) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config load failed: %w", err)
	}
	if cfg.Store.Backend != "postgres" {
		return fmt.Errorf("migrate needs STORE_BACKEND=postgres, got %s", cfg.Store.Backend)
	}

	logger, err := logging.New(cfg.Logging.Dir, cfg.Logging.Level)
	if err != nil {
		return fmt.Errorf("logger init failed: %w", err)
	}
	defer logger.Close()

	dbConn, err := connectDB(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer dbConn.Close()

	if err := dbConn.Migrate(ctx); err != nil {
		return err
	}
	logger.Info("Schema is up to date")

	cfg.Store.Seed = opts.Seed
	return seed(ctx, cfg, dbConn, logger)
}
