// Package extract reads cell-level content out of spreadsheet files. It
// tolerates files held open by other processes, bounds every read with
// a timeout, and reports failures in a form the change detector can
// classify.
package extract

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/ckcm0210/watchdog-monitoring/internal/mirror"
	"github.com/ckcm0210/watchdog-monitoring/internal/session"
	"github.com/ckcm0210/watchdog-monitoring/internal/workbook"
)

// Sentinel errors for extraction failures.
var (
	// ErrNotFound means the source file does not exist.
	ErrNotFound = errors.New("spreadsheet file not found")

	// ErrLocked means the file is locked or permission-restricted.
	// Recoverable: retry on the next cycle.
	ErrLocked = errors.New("spreadsheet file locked")

	// ErrCorrupt means the file could not be parsed as a spreadsheet.
	ErrCorrupt = errors.New("spreadsheet file corrupt")

	// ErrTimeout means extraction exceeded its time budget. The cycle
	// is abandoned, not treated as a change.
	ErrTimeout = errors.New("spreadsheet extraction timed out")
)

// Defaults for open retries and the per-file read budget.
const (
	DefaultTimeout        = 120 * time.Second
	DefaultOpenRetries    = 5
	DefaultOpenRetryDelay = 500 * time.Millisecond
)

// UnknownAuthor is reported when file metadata carries no author.
const UnknownAuthor = "Unknown"

// Config holds parameters for creating an Excel extractor.
type Config struct {
	// Timeout bounds one extraction. Defaults to DefaultTimeout.
	Timeout time.Duration

	// OpenRetries is how many times a locked file open is retried.
	OpenRetries int

	// OpenRetryDelay is the pause between open retries.
	OpenRetryDelay time.Duration

	// Mirror, when set, serves reads from a local cache copy.
	Mirror *mirror.Mirror

	// Session receives the currently-processing marker around reads.
	Session *session.Session

	Logger *slog.Logger
}

// Excel extracts workbook snapshots from .xlsx/.xlsm files via excelize.
type Excel struct {
	timeout    time.Duration
	retries    int
	retryDelay time.Duration
	mirror     *mirror.Mirror
	sess       *session.Session
	logger     *slog.Logger
}

// NewExcel creates an extractor.
func NewExcel(cfg Config) *Excel {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	retries := cfg.OpenRetries
	if retries <= 0 {
		retries = DefaultOpenRetries
	}

	delay := cfg.OpenRetryDelay
	if delay <= 0 {
		delay = DefaultOpenRetryDelay
	}

	lg := cfg.Logger
	if lg == nil {
		lg = slog.Default()
	}

	return &Excel{
		timeout:    timeout,
		retries:    retries,
		retryDelay: delay,
		mirror:     cfg.Mirror,
		sess:       cfg.Session,
		logger:     lg,
	}
}

// Extract reads all non-empty cells across all sheets of the file at
// path. The read happens against a local mirror copy when one is
// configured and honors both the context and the configured timeout.
func (e *Excel) Extract(ctx context.Context, path string) (workbook.WorkbookSnapshot, error) {
	if e.sess != nil {
		e.sess.BeginProcessing(path)
		defer e.sess.EndProcessing()
	}

	localPath := path

	if e.mirror != nil {
		local, err := e.mirror.EnsureLocalCopy(path)
		if err != nil {
			return nil, classifyFSError(err, path)
		}

		localPath = local
	}

	type result struct {
		snap workbook.WorkbookSnapshot
		err  error
	}

	done := make(chan result, 1)

	go func() {
		snap, err := e.readSnapshot(localPath)
		done <- result{snap: snap, err: err}
	}()

	select {
	case res := <-done:
		return res.snap, res.err
	case <-ctx.Done():
		// Cancellation is shutdown, not an extraction stall.
		return nil, fmt.Errorf("extraction canceled: %s: %w", filepath.Base(path), ctx.Err())
	case <-time.After(e.timeout):
		// The reader goroutine is abandoned; it discards its result.
		return nil, fmt.Errorf("%w: %s after %s", ErrTimeout, filepath.Base(path), e.timeout)
	}
}

// readSnapshot walks every worksheet collecting cells that have a value
// or a formula.
func (e *Excel) readSnapshot(path string) (workbook.WorkbookSnapshot, error) {
	f, err := e.openWithRetry(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	snap := workbook.WorkbookSnapshot{}

	for _, sheet := range f.GetSheetList() {
		cells, sheetErr := readSheet(f, sheet)
		if sheetErr != nil {
			return nil, fmt.Errorf("%w: sheet %q: %v", ErrCorrupt, sheet, sheetErr)
		}

		if len(cells) > 0 {
			snap[sheet] = cells
		}
	}

	return snap, nil
}

func readSheet(f *excelize.File, sheet string) (workbook.WorksheetMap, error) {
	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, err
	}

	cells := workbook.WorksheetMap{}

	for rowIdx, row := range rows {
		for colIdx, value := range row {
			addr, addrErr := excelize.CoordinatesToCellName(colIdx+1, rowIdx+1)
			if addrErr != nil {
				return nil, addrErr
			}

			formula, _ := f.GetCellFormula(sheet, addr)

			if value == "" && formula == "" {
				continue
			}

			cell := workbook.CellRecord{}
			if value != "" {
				v := value
				cell.Value = &v
			}

			if formula != "" {
				fl := normalizeFormula(formula)
				cell.Formula = &fl
			}

			cells[addr] = cell
		}
	}

	return cells, nil
}

// normalizeFormula gives formulas a leading "=" so baseline comparisons
// are stable across readers that strip it.
func normalizeFormula(formula string) string {
	if strings.HasPrefix(formula, "=") {
		return formula
	}

	return "=" + formula
}

// openWithRetry opens a workbook, retrying transiently locked files.
func (e *Excel) openWithRetry(path string) (*excelize.File, error) {
	var lastErr error

	for attempt := 0; attempt < e.retries; attempt++ {
		f, err := excelize.OpenFile(path)
		if err == nil {
			return f, nil
		}

		lastErr = err

		if !isLockedError(err) {
			break
		}

		e.logger.Debug("spreadsheet open retry",
			slog.String("file", filepath.Base(path)),
			slog.Int("attempt", attempt+1),
		)
		time.Sleep(e.retryDelay)
	}

	return nil, classifyFSError(lastErr, path)
}

// LastAuthor returns the last-modified-by metadata of the file, or
// UnknownAuthor when metadata is missing or unreadable.
func (e *Excel) LastAuthor(path string) (string, error) {
	f, err := e.openWithRetry(path)
	if err != nil {
		return UnknownAuthor, err
	}
	defer f.Close()

	props, propsErr := f.GetDocProps()
	if propsErr != nil {
		return UnknownAuthor, fmt.Errorf("read document properties: %w", propsErr)
	}

	if props.LastModifiedBy == "" {
		return UnknownAuthor, nil
	}

	return props.LastModifiedBy, nil
}

// classifyFSError maps filesystem and parser errors onto the package
// error taxonomy.
func classifyFSError(err error, path string) error {
	base := filepath.Base(path)

	switch {
	case err == nil:
		return nil
	case errors.Is(err, fs.ErrNotExist):
		return fmt.Errorf("%w: %s", ErrNotFound, base)
	case isLockedError(err):
		return fmt.Errorf("%w: %s: %v", ErrLocked, base, err)
	default:
		return fmt.Errorf("%w: %s: %v", ErrCorrupt, base, err)
	}
}

func isLockedError(err error) bool {
	if errors.Is(err, fs.ErrPermission) {
		return true
	}

	var pathErr *os.PathError

	return errors.As(err, &pathErr) && strings.Contains(strings.ToLower(pathErr.Err.Error()), "used by another process")
}
