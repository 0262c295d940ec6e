// Package commands implements CLI command handlers for watchdog.
package commands

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/ckcm0210/watchdog-monitoring/internal/audit"
	"github.com/ckcm0210/watchdog-monitoring/internal/baseline"
	"github.com/ckcm0210/watchdog-monitoring/internal/config"
	"github.com/ckcm0210/watchdog-monitoring/internal/detect"
	"github.com/ckcm0210/watchdog-monitoring/internal/extract"
	"github.com/ckcm0210/watchdog-monitoring/internal/memguard"
	"github.com/ckcm0210/watchdog-monitoring/internal/mirror"
	"github.com/ckcm0210/watchdog-monitoring/internal/observability"
	"github.com/ckcm0210/watchdog-monitoring/internal/progress"
	"github.com/ckcm0210/watchdog-monitoring/internal/session"
	"github.com/ckcm0210/watchdog-monitoring/internal/workbook"
)

// pipeline bundles the wired monitoring components a command needs.
type pipeline struct {
	cfg       *config.Config
	logger    *slog.Logger
	metrics   *observability.Metrics
	store     *baseline.Store
	extractor *extract.Excel
	sess      *session.Session
	guard     *memguard.Guard
	tracker   *progress.Tracker
	detector  *detect.Detector
	seeder    *detect.Seeder
	renderer  *audit.Renderer
	sink      *audit.CSVSink
}

// buildLogger constructs the process logger from the logging section.
func buildLogger(cfg config.LoggingConfig) *slog.Logger {
	var out io.Writer

	switch cfg.Output {
	case "stderr":
		out = os.Stderr
	default:
		out = os.Stdout
	}

	var level slog.Level

	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(out, opts)
	} else {
		handler = slog.NewTextHandler(out, opts)
	}

	return slog.New(handler)
}

// buildPipeline wires every component the monitor runs on.
func buildPipeline(ctx context.Context, cfg *config.Config) (*pipeline, error) {
	logger := buildLogger(cfg.Logging)
	metrics := observability.NewMetrics()

	codec, codecErr := baseline.CodecByName(cfg.Baseline.Codec)
	if codecErr != nil {
		return nil, codecErr
	}

	store, storeErr := baseline.NewStore(baseline.StoreConfig{
		Dir:         cfg.Baseline.Directory,
		Codec:       codec,
		MaxAttempts: cfg.Baseline.MaxAttempts,
		RetryBase:   cfg.Baseline.RetryBase,
		OnRetry:     metrics.SaveRetries.Inc,
		Logger:      logger,
	})
	if storeErr != nil {
		return nil, fmt.Errorf("open baseline store: %w", storeErr)
	}

	sess := session.New(ctx)

	cache := mirror.New(mirror.Config{
		Dir:     cfg.Cache.Directory,
		Enabled: cfg.Cache.Enabled,
		Logger:  logger,
	})

	extractor := extract.NewExcel(extract.Config{
		Timeout:        cfg.Extract.Timeout,
		OpenRetries:    cfg.Extract.OpenRetries,
		OpenRetryDelay: cfg.Extract.RetryDelay,
		Mirror:         cache,
		Session:        sess,
		Logger:         logger,
	})

	guard := memguard.New(cfg.Memory.LimitMB, logger)
	tracker := progress.NewTracker(cfg.Batch.ProgressFile)
	sink := audit.NewCSVSink(cfg.Audit.Directory)

	var renderer *audit.Renderer
	if cfg.Audit.Console {
		renderer = audit.NewRenderer(os.Stdout)
	}

	filter := detect.DefaultFilter()
	if cfg.Audit.ReportIndirect {
		filter[workbook.IndirectChanged] = true
	}

	detector := detect.New(detect.Config{
		Store:                   store,
		Extractor:               extractor,
		Sink:                    sink,
		Renderer:                renderer,
		Filter:                  filter,
		RefreshAuthorOnNoChange: cfg.Extract.RefreshAuthor,
		Metrics:                 metrics,
		Logger:                  logger,
	})

	seeder := detect.NewSeeder(detect.SeederConfig{
		Store:       store,
		Extractor:   extractor,
		Progress:    tracker,
		Guard:       guard,
		Resume:      cfg.Batch.Resume,
		MemoryPause: cfg.Batch.MemoryPause,
		Logger:      logger,
	})

	return &pipeline{
		cfg:       cfg,
		logger:    logger,
		metrics:   metrics,
		store:     store,
		extractor: extractor,
		sess:      sess,
		guard:     guard,
		tracker:   tracker,
		detector:  detector,
		seeder:    seeder,
		renderer:  renderer,
		sink:      sink,
	}, nil
}
