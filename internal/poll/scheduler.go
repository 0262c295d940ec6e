// Package poll keeps a just-edited file under observation for follow-up
// saves. Editors emit several filesystem events per logical save, so
// instead of running the detector on every raw event, the dispatcher
// hands the path to a scheduler that polls it on a fixed interval until
// the file goes quiet.
package poll

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/ckcm0210/watchdog-monitoring/internal/observability"
)

// Mode selects the polling cadence for a file.
type Mode int

const (
	// Dense polls small files on a short interval with a bounded
	// observation window.
	Dense Mode = iota

	// Sparse polls large files on a longer interval and keeps going
	// for as long as every tick still sees activity.
	Sparse
)

// String implements fmt.Stringer, matching the metric label values.
func (m Mode) String() string {
	if m == Sparse {
		return "sparse"
	}

	return "dense"
}

// Default cadence values.
const (
	DefaultDenseInterval  = 5 * time.Second
	DefaultDenseBudget    = 15 * time.Second
	DefaultSparseInterval = 15 * time.Second

	// DefaultSizeThreshold is the file size at which polling switches
	// from dense to sparse (10 MiB).
	DefaultSizeThreshold int64 = 10 << 20
)

// Runner executes one detection cycle and reports whether any
// difference was found.
type Runner interface {
	Run(ctx context.Context, path string) (bool, error)
}

// Config holds the scheduler's collaborators and cadence overrides.
type Config struct {
	Runner Runner

	DenseInterval  time.Duration
	DenseBudget    time.Duration
	SparseInterval time.Duration
	SizeThreshold  int64

	Metrics *observability.Metrics
	Logger  *slog.Logger
}

// task is one live observation window for a path. generation guards a
// fired timer against the task having been replaced while its tick was
// in flight.
type task struct {
	mode       Mode
	remaining  time.Duration
	timer      *time.Timer
	generation uint64
	ctx        context.Context
}

// Scheduler maintains at most one live polling task per path. All task
// table mutation happens under one lock; the lock is never held across
// a detector cycle.
type Scheduler struct {
	runner         Runner
	denseInterval  time.Duration
	denseBudget    time.Duration
	sparseInterval time.Duration
	sizeThreshold  int64
	metrics        *observability.Metrics
	logger         *slog.Logger

	mu      sync.Mutex
	tasks   map[string]*task
	nextGen uint64
	stopped bool
}

// NewScheduler creates a scheduler. Zero cadence fields take defaults.
func NewScheduler(cfg Config) *Scheduler {
	s := &Scheduler{
		runner:         cfg.Runner,
		denseInterval:  cfg.DenseInterval,
		denseBudget:    cfg.DenseBudget,
		sparseInterval: cfg.SparseInterval,
		sizeThreshold:  cfg.SizeThreshold,
		metrics:        cfg.Metrics,
		logger:         cfg.Logger,
		tasks:          map[string]*task{},
	}

	if s.denseInterval <= 0 {
		s.denseInterval = DefaultDenseInterval
	}

	if s.denseBudget <= 0 {
		s.denseBudget = DefaultDenseBudget
	}

	if s.sparseInterval <= 0 {
		s.sparseInterval = DefaultSparseInterval
	}

	if s.sizeThreshold <= 0 {
		s.sizeThreshold = DefaultSizeThreshold
	}

	if s.logger == nil {
		s.logger = slog.Default()
	}

	return s
}

// Observe starts (or restarts) the observation window for path. A live
// task for the same path has its timer canceled first, so rapid
// successive edits keep exactly one window open. ctx bounds every
// detector cycle the task will run.
func (s *Scheduler) Observe(ctx context.Context, path string) {
	mode := s.classify(path)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return
	}

	prior, live := s.tasks[path]
	if live {
		prior.timer.Stop()
	}

	s.nextGen++

	t := &task{
		mode:       mode,
		remaining:  s.denseBudget,
		generation: s.nextGen,
		ctx:        ctx,
	}

	gen := t.generation
	t.timer = time.AfterFunc(s.interval(mode), func() {
		s.tick(path, gen)
	})

	s.tasks[path] = t

	if s.metrics != nil {
		s.metrics.TasksStarted.Inc()
		s.metrics.ActiveTasks.Set(float64(len(s.tasks)))
	}

	s.logger.Debug("polling task started",
		slog.String("file", path),
		slog.String("mode", mode.String()),
	)
}

// Forget cancels the task for path, if any. Used when the file is
// deleted or renamed away while under observation.
func (s *Scheduler) Forget(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, live := s.tasks[path]
	if !live {
		return
	}

	t.timer.Stop()
	s.remove(path)
}

// Stop cancels every timer and clears the table. In-flight detector
// cycles finish; their completion handlers see the cleared table and
// do not reschedule.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopped = true

	for path, t := range s.tasks {
		t.timer.Stop()
		delete(s.tasks, path)
	}

	if s.metrics != nil {
		s.metrics.ActiveTasks.Set(0)
	}
}

// ActiveCount returns the number of live tasks.
func (s *Scheduler) ActiveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.tasks)
}

// tick runs one detector cycle for path, then reschedules or retires
// the task. The table lock is taken only before and after the cycle.
func (s *Scheduler) tick(path string, generation uint64) {
	s.mu.Lock()

	t, live := s.tasks[path]
	if !live || t.generation != generation {
		s.mu.Unlock()

		return
	}

	mode := t.mode
	ctx := t.ctx
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.PollTicks.WithLabelValues(mode.String()).Inc()
	}

	changed, runErr := s.runner.Run(ctx, path)
	if runErr != nil {
		s.logger.Warn("polling cycle failed",
			slog.String("file", path),
			slog.String("error", runErr.Error()),
		)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	t, live = s.tasks[path]
	if !live || t.generation != generation {
		// Replaced or canceled while the cycle ran.
		return
	}

	switch mode {
	case Sparse:
		if !changed {
			s.retire(path, mode)

			return
		}

	default:
		if changed {
			t.remaining = s.denseBudget
		} else {
			t.remaining -= s.denseInterval
		}

		if t.remaining <= 0 {
			s.retire(path, mode)

			return
		}
	}

	t.timer = time.AfterFunc(s.interval(mode), func() {
		s.tick(path, generation)
	})
}

// retire removes a task whose observation window has closed. Caller
// holds the lock.
func (s *Scheduler) retire(path string, mode Mode) {
	s.remove(path)

	if s.metrics != nil {
		s.metrics.TasksRetired.Inc()
	}

	s.logger.Debug("polling task retired",
		slog.String("file", path),
		slog.String("mode", mode.String()),
	)
}

// remove drops the table entry and updates the gauge. Caller holds the
// lock.
func (s *Scheduler) remove(path string) {
	delete(s.tasks, path)

	if s.metrics != nil {
		s.metrics.ActiveTasks.Set(float64(len(s.tasks)))
	}
}

func (s *Scheduler) interval(mode Mode) time.Duration {
	if mode == Sparse {
		return s.sparseInterval
	}

	return s.denseInterval
}

// classify picks the mode by file size. An unreadable size falls back
// to dense, whose bounded window is the safer default.
func (s *Scheduler) classify(path string) Mode {
	info, err := os.Stat(path)
	if err != nil {
		return Dense
	}

	if info.Size() >= s.sizeThreshold {
		return Sparse
	}

	return Dense
}
