package commands

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ckcm0210/watchdog-monitoring/internal/config"
)

// ErrNoSeedDirs is returned when neither arguments nor configuration
// name a directory to seed.
var ErrNoSeedDirs = errors.New("no directories to seed: pass paths or set watch.directories")

// NewSeedCommand creates the seed command: build initial baselines for
// every supported workbook under the given directories.
func NewSeedCommand() *cobra.Command {
	var (
		configPath string
		noResume   bool
	)

	cmd := &cobra.Command{
		Use:   "seed [directories...]",
		Short: "Build initial baselines for existing workbooks",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, loadErr := config.LoadConfig(configPath)
			if loadErr != nil {
				return loadErr
			}

			if noResume {
				cfg.Batch.Resume = false
			}

			dirs := args
			if len(dirs) == 0 {
				dirs = cfg.Watch.Directories
			}

			if len(dirs) == 0 {
				return ErrNoSeedDirs
			}

			return runSeed(cmd.Context(), cfg, dirs)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "config file path")
	cmd.Flags().BoolVar(&noResume, "no-resume", false, "ignore saved progress and start over")

	return cmd
}

func runSeed(parent context.Context, cfg *config.Config, dirs []string) error {
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	p, buildErr := buildPipeline(ctx, cfg)
	if buildErr != nil {
		return buildErr
	}

	files, collectErr := collectWorkbooks(dirs, cfg.Watch.Extensions)
	if collectErr != nil {
		return collectErr
	}

	if len(files) == 0 {
		p.logger.Info("no workbooks found", slog.Int("directories", len(dirs)))

		return nil
	}

	summary, runErr := p.seeder.Run(ctx, files)

	p.logger.Info("seed finished",
		slog.Int("seeded", summary.Seeded),
		slog.Int("skipped", summary.Skipped),
		slog.Int("failed", summary.Failed),
	)

	return runErr
}

// collectWorkbooks walks dirs and returns every supported workbook in
// a stable order, so interrupted runs can resume by index.
func collectWorkbooks(dirs, extensions []string) ([]string, error) {
	exts := map[string]bool{}

	if len(extensions) == 0 {
		extensions = []string{".xlsx", ".xlsm"}
	}

	for _, ext := range extensions {
		exts[strings.ToLower(ext)] = true
	}

	var files []string

	for _, dir := range dirs {
		walkErr := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}

			if d.IsDir() {
				return nil
			}

			base := filepath.Base(path)
			if strings.HasPrefix(base, "~$") {
				return nil
			}

			if exts[strings.ToLower(filepath.Ext(base))] {
				files = append(files, path)
			}

			return nil
		})
		if walkErr != nil {
			return nil, fmt.Errorf("walk %s: %w", dir, walkErr)
		}
	}

	sort.Strings(files)

	return files, nil
}
