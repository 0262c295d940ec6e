package detect

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/ckcm0210/watchdog-monitoring/internal/baseline"
	"github.com/ckcm0210/watchdog-monitoring/internal/extract"
	"github.com/ckcm0210/watchdog-monitoring/internal/memguard"
	"github.com/ckcm0210/watchdog-monitoring/internal/progress"
	"github.com/ckcm0210/watchdog-monitoring/internal/workbook"
)

// DefaultMemoryPause is how long a batch run pauses before re-checking
// a memory limit breach.
const DefaultMemoryPause = 10 * time.Second

// SeederConfig holds the batch seeder's collaborators.
type SeederConfig struct {
	Store     *baseline.Store
	Extractor Extractor
	Progress  *progress.Tracker
	Guard     *memguard.Guard

	// Resume continues from the last saved progress record.
	Resume bool

	// MemoryPause overrides DefaultMemoryPause (shortened in tests).
	MemoryPause time.Duration

	Logger *slog.Logger
}

// Seeder builds initial baselines for a batch of files, resumable
// across interruptions.
type Seeder struct {
	store       *baseline.Store
	extractor   Extractor
	progress    *progress.Tracker
	guard       *memguard.Guard
	resume      bool
	memoryPause time.Duration
	logger      *slog.Logger
}

// Summary reports the outcome of one batch run.
type Summary struct {
	Seeded  int
	Skipped int
	Failed  int
}

// NewSeeder creates a batch seeder.
func NewSeeder(cfg SeederConfig) *Seeder {
	pause := cfg.MemoryPause
	if pause <= 0 {
		pause = DefaultMemoryPause
	}

	lg := cfg.Logger
	if lg == nil {
		lg = slog.Default()
	}

	return &Seeder{
		store:       cfg.Store,
		extractor:   cfg.Extractor,
		progress:    cfg.Progress,
		guard:       cfg.Guard,
		resume:      cfg.Resume,
		memoryPause: pause,
		logger:      lg,
	}
}

// Run seeds baselines for every file in order. Files whose fingerprint
// matches their existing baseline are skipped; per-file failures are
// counted and the run continues. The run halts early when the context
// is canceled or memory stays over limit after a reclaim pass, after
// durably saving progress so a later run can resume.
func (s *Seeder) Run(ctx context.Context, files []string) (Summary, error) {
	var summary Summary

	total := len(files)
	if total == 0 {
		return summary, nil
	}

	start := s.resumeIndex(total)

	s.logger.Info("baseline batch starting",
		slog.Int("files", total),
		slog.Int("start_index", start),
	)

	for i := start; i < total; i++ {
		if ctx.Err() != nil {
			s.saveProgress(i, total)

			return summary, ctx.Err()
		}

		if s.guard != nil && s.guard.CheckAndReclaim() {
			time.Sleep(s.memoryPause)

			if s.guard.CheckAndReclaim() {
				s.saveProgress(i, total)

				return summary, fmt.Errorf("halting batch at %d/%d: %w", i, total, memguard.ErrOverLimit)
			}
		}

		s.seedOne(ctx, files[i], &summary)
		s.saveProgress(i+1, total)
	}

	if s.progress != nil {
		clearErr := s.progress.Clear()
		if clearErr != nil {
			s.logger.Warn("failed to clear progress record", slog.String("error", clearErr.Error()))
		}
	}

	s.logger.Info("baseline batch complete",
		slog.Int("seeded", summary.Seeded),
		slog.Int("skipped", summary.Skipped),
		slog.Int("failed", summary.Failed),
	)

	return summary, nil
}

// SeedFile seeds one file outside a batch (used by the event
// dispatcher for newly created files).
func (s *Seeder) SeedFile(ctx context.Context, path string) error {
	var summary Summary

	s.seedOne(ctx, path, &summary)

	if summary.Failed > 0 {
		return fmt.Errorf("seed %s failed", filepath.Base(path))
	}

	return nil
}

func (s *Seeder) seedOne(ctx context.Context, path string, summary *Summary) {
	fileKey := filepath.Base(path)

	priorHash := ""

	prior, loadErr := s.store.Load(fileKey)
	if loadErr == nil {
		priorHash = prior.ContentHash
	} else if !errors.Is(loadErr, baseline.ErrNotFound) {
		s.logger.Warn("existing baseline unreadable, reseeding",
			slog.String("file", fileKey),
			slog.String("error", loadErr.Error()),
		)
	}

	snapshot, extractErr := s.extractor.Extract(ctx, path)
	if extractErr != nil {
		s.logger.Warn("seed extraction failed",
			slog.String("file", fileKey),
			slog.String("error", extractErr.Error()),
		)

		summary.Failed++

		return
	}

	hash := workbook.Fingerprint(snapshot)
	if hash == priorHash {
		summary.Skipped++

		return
	}

	author, authorErr := s.extractor.LastAuthor(path)
	if authorErr != nil {
		author = extract.UnknownAuthor
	}

	saveErr := s.store.Save(fileKey, &workbook.Baseline{
		ContentHash: hash,
		LastAuthor:  author,
		Cells:       snapshot,
	})
	if saveErr != nil {
		s.logger.Warn("seed save failed",
			slog.String("file", fileKey),
			slog.String("error", saveErr.Error()),
		)

		summary.Failed++

		return
	}

	summary.Seeded++
}

func (s *Seeder) resumeIndex(total int) int {
	if !s.resume || s.progress == nil {
		return 0
	}

	rec, loadErr := s.progress.Load()
	if loadErr != nil || rec == nil {
		return 0
	}

	if rec.Total != total || rec.Completed < 0 || rec.Completed >= total {
		return 0
	}

	s.logger.Info("resuming baseline batch",
		slog.Int("completed", rec.Completed),
		slog.Int("total", rec.Total),
	)

	return rec.Completed
}

func (s *Seeder) saveProgress(completed, total int) {
	if s.progress == nil {
		return
	}

	saveErr := s.progress.Save(completed, total)
	if saveErr != nil {
		s.logger.Warn("failed to save progress", slog.String("error", saveErr.Error()))
	}
}
