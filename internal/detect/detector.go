// Package detect orchestrates one change-detection cycle per file:
// load baseline, extract current state, diff, emit audit rows, persist
// the updated baseline. It also hosts the batch seeder that builds
// initial baselines for a directory tree.
package detect

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/ckcm0210/watchdog-monitoring/internal/audit"
	"github.com/ckcm0210/watchdog-monitoring/internal/baseline"
	"github.com/ckcm0210/watchdog-monitoring/internal/extract"
	"github.com/ckcm0210/watchdog-monitoring/internal/observability"
	"github.com/ckcm0210/watchdog-monitoring/internal/workbook"
)

// ErrNoBaseline is returned when a file has no persisted baseline yet.
// First-seen files must go through seeding, not detection.
var ErrNoBaseline = errors.New("no baseline for file")

// displayTimeLayout formats timestamps in the console diff table.
const displayTimeLayout = "2006-01-02 15:04:05"

// Extractor reads current cell state out of a spreadsheet file.
type Extractor interface {
	Extract(ctx context.Context, path string) (workbook.WorkbookSnapshot, error)
	LastAuthor(path string) (string, error)
}

// Filter selects which change kinds become audit rows. Kinds outside
// the filter still count as activity for the polling scheduler.
type Filter map[workbook.ChangeKind]bool

// DefaultFilter reports every kind except IndirectChanged, whose value
// ripples carry no direct edit and tend to flood the audit log.
func DefaultFilter() Filter {
	return Filter{
		workbook.Added:              true,
		workbook.Deleted:            true,
		workbook.FormulaChanged:     true,
		workbook.DirectValueChanged: true,
		workbook.ExternalRefUpdated: true,
	}
}

// Reportable returns true when the kind should reach the audit sink.
func (f Filter) Reportable(kind workbook.ChangeKind) bool {
	return f[kind]
}

// Config holds the detector's collaborators and policy knobs.
type Config struct {
	Store     *baseline.Store
	Extractor Extractor
	Sink      audit.Sink
	Renderer  *audit.Renderer

	// Filter selects reportable change kinds. Defaults to DefaultFilter.
	Filter Filter

	// RefreshAuthorOnNoChange re-reads last-author metadata on the
	// fingerprint fast path and persists it even when cells are
	// unchanged. Off by default.
	RefreshAuthorOnNoChange bool

	Metrics *observability.Metrics
	Logger  *slog.Logger
}

// Detector performs one detection cycle per invocation. It keeps no
// per-file state between invocations; the baseline store is the truth.
type Detector struct {
	store     *baseline.Store
	extractor Extractor
	sink      audit.Sink
	renderer  *audit.Renderer
	filter    Filter
	refresh   bool
	metrics   *observability.Metrics
	logger    *slog.Logger
}

// New creates a detector.
func New(cfg Config) *Detector {
	filter := cfg.Filter
	if filter == nil {
		filter = DefaultFilter()
	}

	lg := cfg.Logger
	if lg == nil {
		lg = slog.Default()
	}

	return &Detector{
		store:     cfg.Store,
		extractor: cfg.Extractor,
		sink:      cfg.Sink,
		renderer:  cfg.Renderer,
		filter:    filter,
		refresh:   cfg.RefreshAuthorOnNoChange,
		metrics:   cfg.Metrics,
		logger:    lg,
	}
}

// Run executes one detection cycle for path. It returns whether any
// cell-level difference was found; the polling scheduler uses this to
// extend or collapse its observation window. Extraction or persistence
// failures leave the existing baseline untouched and are returned so
// the caller can retry on its next natural trigger.
func (d *Detector) Run(ctx context.Context, path string) (bool, error) {
	fileKey := filepath.Base(path)

	prior, loadErr := d.store.Load(fileKey)
	if loadErr != nil {
		if errors.Is(loadErr, baseline.ErrNotFound) {
			d.countCycle(observability.OutcomeError)

			return false, fmt.Errorf("%w: %s", ErrNoBaseline, fileKey)
		}

		d.countCycle(observability.OutcomeError)

		return false, loadErr
	}

	current, extractErr := d.extractor.Extract(ctx, path)
	if extractErr != nil {
		d.countExtractionFailure(extractErr)
		d.countCycle(observability.OutcomeError)

		return false, fmt.Errorf("extract current state: %w", extractErr)
	}

	currentHash := workbook.Fingerprint(current)
	if currentHash == prior.ContentHash {
		d.handleUnchanged(fileKey, path, prior)

		return false, nil
	}

	changes := workbook.Diff(prior.Cells, current)
	if len(changes) == 0 {
		// Hash differs but no cell-level delta (hash of prior predates
		// a formula normalization change, for example). Re-persist so
		// the fast path works next cycle.
		persistErr := d.persist(fileKey, path, current, currentHash)
		d.countCycle(observability.OutcomeUnchanged)

		return false, persistErr
	}

	emitErr := d.emit(fileKey, path, prior, changes)
	if emitErr != nil {
		d.countCycle(observability.OutcomeError)

		return true, emitErr
	}

	persistErr := d.persist(fileKey, path, current, currentHash)
	if persistErr != nil {
		d.countCycle(observability.OutcomeError)

		return true, persistErr
	}

	d.countCycle(observability.OutcomeChanged)

	d.logger.Info("changes detected",
		slog.String("file", fileKey),
		slog.Int("cells", len(changes)),
	)

	return true, nil
}

// handleUnchanged covers the fingerprint fast path. Optionally
// refreshes last-author metadata without touching cells.
func (d *Detector) handleUnchanged(fileKey, path string, prior *workbook.Baseline) {
	d.countCycle(observability.OutcomeUnchanged)

	if !d.refresh {
		return
	}

	author, authorErr := d.extractor.LastAuthor(path)
	if authorErr != nil || author == prior.LastAuthor {
		return
	}

	prior.LastAuthor = author

	saveErr := d.store.Save(fileKey, prior)
	if saveErr != nil {
		d.logger.Warn("author refresh save failed",
			slog.String("file", fileKey),
			slog.String("error", saveErr.Error()),
		)
	}
}

// emit sends every reportable change of the cycle to the audit sink and
// console. All rows are emitted before the baseline is persisted, so
// emission and persistence never interleave per cell.
func (d *Detector) emit(fileKey, path string, prior *workbook.Baseline, changes []workbook.CellChange) error {
	reportable := make([]workbook.CellChange, 0, len(changes))
	for _, ch := range changes {
		if d.filter.Reportable(ch.Kind) {
			reportable = append(reportable, ch)
		}
	}

	if len(reportable) == 0 {
		return nil
	}

	d.renderTables(fileKey, path, prior, reportable)

	entries := audit.EntriesFromChanges(fileKey, prior.LastAuthor, time.Now(), reportable)

	writeErr := d.sink.WriteAll(entries)
	if writeErr != nil {
		return fmt.Errorf("write audit rows: %w", writeErr)
	}

	if d.metrics != nil {
		d.metrics.AuditRows.Add(float64(len(entries)))
	}

	return nil
}

// renderTables prints one console table per worksheet with changes.
func (d *Detector) renderTables(fileKey, path string, prior *workbook.Baseline, changes []workbook.CellChange) {
	if d.renderer == nil {
		return
	}

	refs, refsErr := extract.ExternalRefs(path)
	if refsErr != nil {
		refs = nil
	}

	baselineTime := formatDisplayTime(prior.Timestamp)
	currentTime := fileModTime(path)

	byWorksheet := map[string][]workbook.CellChange{}

	var order []string

	for _, ch := range changes {
		if _, seen := byWorksheet[ch.Worksheet]; !seen {
			order = append(order, ch.Worksheet)
		}

		byWorksheet[ch.Worksheet] = append(byWorksheet[ch.Worksheet], ch)
	}

	for _, ws := range order {
		d.renderer.RenderChanges(fileKey, ws, baselineTime, currentTime, byWorksheet[ws], refs, extract.PrettyFormula)
	}
}

// persist captures the new snapshot as the baseline: fresh fingerprint,
// freshly-read author metadata, current timestamp.
func (d *Detector) persist(fileKey, path string, current workbook.WorkbookSnapshot, hash string) error {
	author, authorErr := d.extractor.LastAuthor(path)
	if authorErr != nil {
		author = extract.UnknownAuthor
	}

	saveErr := d.store.Save(fileKey, &workbook.Baseline{
		ContentHash: hash,
		LastAuthor:  author,
		Cells:       current,
	})
	if saveErr != nil {
		if d.metrics != nil {
			d.metrics.SaveFailures.Inc()
		}

		return fmt.Errorf("persist baseline: %w", saveErr)
	}

	return nil
}

func (d *Detector) countCycle(outcome string) {
	if d.metrics != nil {
		d.metrics.DetectorCycles.WithLabelValues(outcome).Inc()
	}
}

func (d *Detector) countExtractionFailure(err error) {
	if d.metrics == nil {
		return
	}

	class := "other"

	switch {
	case errors.Is(err, extract.ErrTimeout):
		class = "timeout"
	case errors.Is(err, extract.ErrLocked):
		class = "locked"
	case errors.Is(err, extract.ErrCorrupt):
		class = "corrupt"
	case errors.Is(err, extract.ErrNotFound):
		class = "not_found"
	}

	d.metrics.ExtractionFailures.WithLabelValues(class).Inc()
}

func formatDisplayTime(rfc3339 string) string {
	ts, err := time.Parse(time.RFC3339, rfc3339)
	if err != nil {
		return rfc3339
	}

	return ts.Format(displayTimeLayout)
}

func fileModTime(path string) string {
	info, err := os.Stat(path)
	if err != nil {
		return "N/A"
	}

	return info.ModTime().Format(displayTimeLayout)
}
