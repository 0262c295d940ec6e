package commands

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/ckcm0210/watchdog-monitoring/internal/baseline"
	"github.com/ckcm0210/watchdog-monitoring/internal/config"
)

// NewMigrateCommand creates the migrate command: re-encode every
// stored baseline with a different codec.
func NewMigrateCommand() *cobra.Command {
	var (
		configPath string
		target     string
	)

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Re-encode stored baselines with a different codec",
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, loadErr := config.LoadConfig(configPath)
			if loadErr != nil {
				return loadErr
			}

			return runMigrate(cfg, target)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "config file path")
	cmd.Flags().StringVarP(&target, "to", "t", "lz4", "target codec (gzip or lz4)")

	return cmd
}

func runMigrate(cfg *config.Config, target string) error {
	logger := buildLogger(cfg.Logging)

	targetCodec, codecErr := baseline.CodecByName(target)
	if codecErr != nil {
		return codecErr
	}

	store, storeErr := baseline.NewStore(baseline.StoreConfig{
		Dir:         cfg.Baseline.Directory,
		Codec:       targetCodec,
		MaxAttempts: cfg.Baseline.MaxAttempts,
		RetryBase:   cfg.Baseline.RetryBase,
		Logger:      logger,
	})
	if storeErr != nil {
		return fmt.Errorf("open baseline store: %w", storeErr)
	}

	keys, keysErr := store.Keys()
	if keysErr != nil {
		return fmt.Errorf("list baselines: %w", keysErr)
	}

	migrated := 0

	for _, key := range keys {
		migrateErr := store.Migrate(key, targetCodec)
		if migrateErr != nil {
			logger.Warn("migration failed",
				slog.String("file", key),
				slog.String("error", migrateErr.Error()),
			)

			continue
		}

		migrated++
	}

	logger.Info("migration complete",
		slog.Int("migrated", migrated),
		slog.Int("total", len(keys)),
		slog.String("codec", targetCodec.Name()),
	)

	return nil
}
