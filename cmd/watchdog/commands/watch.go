package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/ckcm0210/watchdog-monitoring/internal/config"
	"github.com/ckcm0210/watchdog-monitoring/internal/detect"
	"github.com/ckcm0210/watchdog-monitoring/internal/poll"
	"github.com/ckcm0210/watchdog-monitoring/internal/watch"
)

// metricsShutdownTimeout bounds the scrape server drain at exit.
const metricsShutdownTimeout = 5 * time.Second

// NewWatchCommand creates the watch command: the long-running monitor.
func NewWatchCommand() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Watch directories and record every cell change",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, loadErr := config.LoadConfig(configPath)
			if loadErr != nil {
				return loadErr
			}

			validateErr := config.ValidateWatch(cfg)
			if validateErr != nil {
				return validateErr
			}

			return runWatch(cmd.Context(), cfg)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "config file path")

	return cmd
}

func runWatch(parent context.Context, cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	p, buildErr := buildPipeline(ctx, cfg)
	if buildErr != nil {
		return buildErr
	}

	scheduler := poll.NewScheduler(poll.Config{
		Runner:         p.detector,
		DenseInterval:  cfg.Polling.DenseInterval,
		DenseBudget:    cfg.Polling.DenseBudget,
		SparseInterval: cfg.Polling.SparseInterval,
		SizeThreshold:  cfg.Polling.SizeThreshold,
		Metrics:        p.metrics,
		Logger:         p.logger,
	})
	defer scheduler.Stop()

	dispatcher := watch.NewDispatcher(watch.Config{
		Detector:    p.detector,
		Seeder:      p.seeder,
		Scheduler:   scheduler,
		Baselines:   p.store,
		NoBaseline:  detect.ErrNoBaseline,
		Extensions:  cfg.Watch.Extensions,
		Debounce:    cfg.Watch.Debounce,
		CreateGrace: cfg.Watch.CreateGrace,
		Logger:      p.logger,
	})

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return dispatcher.Run(gCtx, cfg.Watch.Directories)
	})

	if cfg.Metrics.Enabled {
		server := &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Metrics.Port),
			Handler:           p.metrics.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		}

		g.Go(func() error {
			p.logger.Info("metrics endpoint listening", slog.Int("port", cfg.Metrics.Port))

			serveErr := server.ListenAndServe()
			if errors.Is(serveErr, http.ErrServerClosed) {
				return nil
			}

			return serveErr
		})

		g.Go(func() error {
			<-gCtx.Done()

			shutdownCtx, cancel := context.WithTimeout(context.Background(), metricsShutdownTimeout)
			defer cancel()

			return server.Shutdown(shutdownCtx)
		})
	}

	p.logger.Info("watchdog started",
		slog.Int("directories", len(cfg.Watch.Directories)),
		slog.String("baseline_dir", cfg.Baseline.Directory),
	)

	waitErr := g.Wait()

	p.sess.Stop()

	if waitErr != nil && !errors.Is(waitErr, context.Canceled) {
		return waitErr
	}

	p.logger.Info("watchdog stopped")

	return nil
}
