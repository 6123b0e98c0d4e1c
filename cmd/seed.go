package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"procodus.dev/sewer-monitor/internal/store"
)

var seedCmd = &cobra.Command{
	Use:   "seed <fixture.yaml>",
	Short: "Load sensors, thresholds and users into the database",
	Long: `Load a YAML fixture into PostgreSQL. Existing sensors are updated,
thresholds and users are upserted, so the command can be run repeatedly.
Database settings are shared with the server command.`,
	Args: cobra.ExactArgs(1),
	RunE: runSeed,
}

func init() {
	rootCmd.AddCommand(seedCmd)
}

func runSeed(cmd *cobra.Command, args []string) error {
	logger, closeLog := GetLogger()
	defer closeLog()

	file, err := os.Open(args[0])
	if err != nil {
		return fmt.Errorf("open fixture: %w", err)
	}
	defer file.Close()

	fixture, err := store.LoadFixture(file)
	if err != nil {
		return err
	}

	cfg := dbConfig()
	cfg.Logger = logger

	db, err := store.NewDB(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	st, err := store.NewGormStore(db, logger)
	if err != nil {
		_ = store.CloseDB(db, logger)
		return err
	}
	defer st.Close()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	res, err := fixture.Apply(ctx, st)
	if err != nil {
		return fmt.Errorf("apply fixture: %w", err)
	}

	logger.Info("fixture loaded",
		"file", args[0],
		"sensors_created", res.SensorsCreated,
		"sensors_updated", res.SensorsUpdated,
		"thresholds", res.Thresholds,
		"users", res.Users,
	)
	return nil
}
