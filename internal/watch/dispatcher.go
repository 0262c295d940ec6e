// Package watch turns raw filesystem notifications into monitoring
// actions: seed newly created workbooks, run the change detector on
// saves, keep baselines in lock-step with renames. Raw events are
// noisy (editors emit several per logical save, and a move arrives as
// a rename plus a create), so the dispatcher debounces, filters, and
// correlates before anything downstream runs.
package watch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Event kinds after raw-event correlation.
const (
	// Created is a new workbook appearing in a watched directory.
	Created = EventKind(iota)

	// Modified is a save to an existing workbook.
	Modified

	// MovedTo is a workbook arriving under a new name; OldPath holds
	// the name it left behind.
	MovedTo
)

// EventKind classifies a dispatched event.
type EventKind int

// Event is one correlated filesystem event for a supported workbook.
type Event struct {
	Kind    EventKind
	Path    string
	OldPath string
}

// Timing defaults.
const (
	// DefaultDebounce suppresses repeat save events per path.
	DefaultDebounce = 2 * time.Second

	// DefaultCreateGrace is how long to wait after a create before
	// re-checking that the file still exists. Editors that save via
	// rename produce short-lived temp files.
	DefaultCreateGrace = 100 * time.Millisecond

	// DefaultRenameWindow is how long a rename-away stays in the
	// journal waiting for its matching create.
	DefaultRenameWindow = 2 * time.Second
)

// lockFilePrefix marks Office owner lock files, never content.
const lockFilePrefix = "~$"

// Detector runs one change-detection cycle.
type Detector interface {
	Run(ctx context.Context, path string) (bool, error)
}

// Seeder builds an initial baseline for one file.
type Seeder interface {
	SeedFile(ctx context.Context, path string) error
}

// Scheduler keeps a path under adaptive polling.
type Scheduler interface {
	Observe(ctx context.Context, path string)
	Forget(path string)
}

// BaselineTable is the slice of the baseline store the dispatcher
// needs to follow renames.
type BaselineTable interface {
	Has(fileKey string) bool
	Rename(oldKey, newKey string) error
}

// Config holds the dispatcher's collaborators and timing overrides.
type Config struct {
	Detector  Detector
	Seeder    Seeder
	Scheduler Scheduler
	Baselines BaselineTable

	// NoBaseline is the detector's first-seen sentinel; a modify that
	// hits it is rerouted to seeding.
	NoBaseline error

	// Extensions lists supported workbook extensions (with dot),
	// lowercase. Defaults to .xlsx and .xlsm.
	Extensions []string

	Debounce     time.Duration
	CreateGrace  time.Duration
	RenameWindow time.Duration

	Logger *slog.Logger
}

// renameEntry is one rename-away waiting for its matching create.
type renameEntry struct {
	path string
	at   time.Time
}

// Dispatcher correlates raw filesystem events and drives the seeding,
// detection, and polling pipeline.
type Dispatcher struct {
	detector   Detector
	seeder     Seeder
	scheduler  Scheduler
	baselines  BaselineTable
	noBaseline error

	exts         map[string]bool
	debounce     time.Duration
	createGrace  time.Duration
	renameWindow time.Duration
	logger       *slog.Logger

	// now is swapped for a fake clock in tests.
	now func() time.Time

	mu       sync.Mutex
	lastSeen map[string]time.Time
	renames  []renameEntry
}

// NewDispatcher creates a dispatcher. Zero timing fields take defaults.
func NewDispatcher(cfg Config) *Dispatcher {
	exts := map[string]bool{}

	if len(cfg.Extensions) == 0 {
		exts[".xlsx"] = true
		exts[".xlsm"] = true
	} else {
		for _, ext := range cfg.Extensions {
			exts[strings.ToLower(ext)] = true
		}
	}

	d := &Dispatcher{
		detector:     cfg.Detector,
		seeder:       cfg.Seeder,
		scheduler:    cfg.Scheduler,
		baselines:    cfg.Baselines,
		noBaseline:   cfg.NoBaseline,
		exts:         exts,
		debounce:     cfg.Debounce,
		createGrace:  cfg.CreateGrace,
		renameWindow: cfg.RenameWindow,
		logger:       cfg.Logger,
		now:          time.Now,
		lastSeen:     map[string]time.Time{},
	}

	if d.debounce <= 0 {
		d.debounce = DefaultDebounce
	}

	if d.createGrace <= 0 {
		d.createGrace = DefaultCreateGrace
	}

	if d.renameWindow <= 0 {
		d.renameWindow = DefaultRenameWindow
	}

	if d.logger == nil {
		d.logger = slog.Default()
	}

	return d
}

// Supported reports whether path is a workbook the monitor tracks.
// Office lock files share the workbook extension but carry a marker
// prefix.
func (d *Dispatcher) Supported(path string) bool {
	base := filepath.Base(path)
	if strings.HasPrefix(base, lockFilePrefix) {
		return false
	}

	return d.exts[strings.ToLower(filepath.Ext(base))]
}

// Dispatch executes one correlated event.
func (d *Dispatcher) Dispatch(ctx context.Context, ev Event) error {
	switch ev.Kind {
	case Created:
		return d.seed(ctx, ev.Path)

	case Modified:
		return d.modified(ctx, ev.Path)

	case MovedTo:
		return d.movedTo(ctx, ev)

	default:
		return fmt.Errorf("unknown event kind %d", ev.Kind)
	}
}

// HandleRaw filters, debounces, and correlates one raw fsnotify event,
// then dispatches the result. Unsupported paths and suppressed repeats
// return nil without side effects.
func (d *Dispatcher) HandleRaw(ctx context.Context, path string, op fsnotify.Op) error {
	if !d.Supported(path) {
		return nil
	}

	switch {
	case op.Has(fsnotify.Create):
		return d.rawCreate(ctx, path)

	case op.Has(fsnotify.Write):
		if !d.acceptWrite(path) {
			return nil
		}

		return d.Dispatch(ctx, Event{Kind: Modified, Path: path})

	case op.Has(fsnotify.Rename):
		d.journalRename(path)
		d.scheduler.Forget(path)

		return nil

	case op.Has(fsnotify.Remove):
		d.scheduler.Forget(path)

		return nil
	}

	return nil
}

// Run watches dirs until ctx is canceled. Create events carry a grace
// wait, so they are handled off the event loop.
func (d *Dispatcher) Run(ctx context.Context, dirs []string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	for _, dir := range dirs {
		addErr := watcher.Add(dir)
		if addErr != nil {
			return fmt.Errorf("watch %s: %w", dir, addErr)
		}

		d.logger.Info("watching directory", slog.String("dir", dir))
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}

			if ev.Op.Has(fsnotify.Create) {
				go d.handleAsync(ctx, ev)
			} else {
				d.handleAsync(ctx, ev)
			}

		case watchErr, ok := <-watcher.Errors:
			if !ok {
				return nil
			}

			d.logger.Warn("watcher error", slog.String("error", watchErr.Error()))
		}
	}
}

func (d *Dispatcher) handleAsync(ctx context.Context, ev fsnotify.Event) {
	handleErr := d.HandleRaw(ctx, ev.Name, ev.Op)
	if handleErr != nil && !errors.Is(handleErr, context.Canceled) {
		d.logger.Warn("event handling failed",
			slog.String("file", ev.Name),
			slog.String("error", handleErr.Error()),
		)
	}
}

// rawCreate waits out the grace period, re-checks the file still
// exists, then resolves the create against the rename journal.
func (d *Dispatcher) rawCreate(ctx context.Context, path string) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d.createGrace):
	}

	_, statErr := os.Stat(path)
	if statErr != nil {
		// Vanished during the grace wait: a transient save artifact.
		return nil
	}

	if old, moved := d.consumeRename(path); moved {
		return d.Dispatch(ctx, Event{Kind: MovedTo, Path: path, OldPath: old})
	}

	return d.Dispatch(ctx, Event{Kind: Created, Path: path})
}

// acceptWrite applies the per-path debounce. The accepted event stamps
// the window; repeats inside it are dropped.
func (d *Dispatcher) acceptWrite(path string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()

	last, seen := d.lastSeen[path]
	if seen && now.Sub(last) < d.debounce {
		return false
	}

	d.lastSeen[path] = now

	return true
}

// journalRename records a rename-away so a following create can be
// recognized as the destination of a move. Expired entries are pruned
// here too, so repeated renames with no follow-up create do not
// accumulate.
func (d *Dispatcher) journalRename(path string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.pruneJournalLocked()
	d.renames = append(d.renames, renameEntry{path: path, at: d.now()})
}

// consumeRename pops the journal entry that best matches the created
// path: a move keeps its extension, so only same-extension entries
// qualify, and among those one from the same directory wins over a
// more recent one elsewhere. An unrelated create of a different file
// type never pairs with a pending rename.
func (d *Dispatcher) consumeRename(path string) (string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.pruneJournalLocked()

	ext := strings.ToLower(filepath.Ext(path))
	dir := filepath.Dir(path)

	best := -1
	bestSameDir := false

	for i, entry := range d.renames {
		if strings.ToLower(filepath.Ext(entry.path)) != ext {
			continue
		}

		sameDir := filepath.Dir(entry.path) == dir
		if bestSameDir && !sameDir {
			continue
		}

		// Later entries win within the same preference tier.
		if best < 0 || sameDir || !bestSameDir {
			best = i
			bestSameDir = sameDir
		}
	}

	if best < 0 {
		return "", false
	}

	matched := d.renames[best].path
	d.renames = append(d.renames[:best], d.renames[best+1:]...)

	return matched, true
}

// pruneJournalLocked drops entries past the rename window. Caller
// holds the lock.
func (d *Dispatcher) pruneJournalLocked() {
	cutoff := d.now().Add(-d.renameWindow)

	live := d.renames[:0]
	for _, entry := range d.renames {
		if entry.at.After(cutoff) {
			live = append(live, entry)
		}
	}

	d.renames = live
}

func (d *Dispatcher) seed(ctx context.Context, path string) error {
	d.logger.Info("new workbook detected", slog.String("file", path))

	seedErr := d.seeder.SeedFile(ctx, path)
	if seedErr != nil {
		return fmt.Errorf("seed new workbook: %w", seedErr)
	}

	return nil
}

// modified runs one immediate detector cycle, then opens the polling
// window regardless of the cycle's outcome: the save that triggered the
// event may be the first of several.
func (d *Dispatcher) modified(ctx context.Context, path string) error {
	_, runErr := d.detector.Run(ctx, path)
	if runErr != nil {
		if d.noBaseline != nil && errors.Is(runErr, d.noBaseline) {
			// First seen via a save rather than a create.
			runErr = d.seeder.SeedFile(ctx, path)
		}

		if runErr != nil {
			d.scheduler.Observe(ctx, path)

			return fmt.Errorf("detect on save: %w", runErr)
		}
	}

	d.scheduler.Observe(ctx, path)

	return nil
}

// movedTo renames the baseline alongside the file when the source had
// one; otherwise the destination is new content and gets seeded.
func (d *Dispatcher) movedTo(ctx context.Context, ev Event) error {
	oldKey := filepath.Base(ev.OldPath)
	newKey := filepath.Base(ev.Path)

	if oldKey == newKey {
		// Moved across directories: the baseline key is unchanged.
		return nil
	}

	if !d.baselines.Has(oldKey) {
		return d.seed(ctx, ev.Path)
	}

	renameErr := d.baselines.Rename(oldKey, newKey)
	if renameErr != nil {
		return fmt.Errorf("rename baseline %s -> %s: %w", oldKey, newKey, renameErr)
	}

	d.logger.Info("baseline followed rename",
		slog.String("from", oldKey),
		slog.String("to", newKey),
	)

	return nil
}
