// Package audit turns detected cell changes into an append-only record:
// one CSV row per reportable change, plus an aligned console table for
// operators watching the monitor.
package audit

import (
	"compress/gzip"
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ckcm0210/watchdog-monitoring/internal/workbook"
)

// Entry is one append-only audit row for a single cell change.
type Entry struct {
	Timestamp  time.Time
	Filename   string
	Worksheet  string
	Address    string
	OldValue   string
	NewValue   string
	OldFormula string
	NewFormula string
	LastAuthor string
	Kind       workbook.ChangeKind
}

// Sink receives audit rows for detected changes.
type Sink interface {
	// WriteAll appends all entries of one detection cycle.
	WriteAll(entries []Entry) error
}

// csvHeader is written once when a log file is created.
var csvHeader = []string{
	"Timestamp", "Filename", "Worksheet", "Cell",
	"Old_Value", "New_Value", "Old_Formula", "New_Formula",
	"Last_Author", "Change_Type",
}

// timestampLayout is the audit row time format.
const timestampLayout = "2006-01-02 15:04:05"

// CSVSink appends gzip-compressed CSV rows to a per-day log file.
// Each WriteAll call appends one gzip member; concatenated members
// decode as a single stream.
type CSVSink struct {
	mu  sync.Mutex
	dir string
}

// NewCSVSink creates a sink writing under dir.
func NewCSVSink(dir string) *CSVSink {
	return &CSVSink{dir: dir}
}

// LogPath returns the file the sink is currently appending to.
func (s *CSVSink) LogPath() string {
	name := fmt.Sprintf("excel_change_log_%s.csv.gz", time.Now().Format("20060102"))

	return filepath.Join(s.dir, name)
}

// WriteAll implements Sink. All rows of a cycle are appended in one
// open/close so emission is not interleaved per cell.
func (s *CSVSink) WriteAll(entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	mkdirErr := os.MkdirAll(s.dir, 0o755)
	if mkdirErr != nil {
		return fmt.Errorf("create audit log dir: %w", mkdirErr)
	}

	path := s.LogPath()

	_, statErr := os.Stat(path)
	writeHeader := errors.Is(statErr, os.ErrNotExist)

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open audit log: %w", err)
	}

	zw := gzip.NewWriter(file)
	cw := csv.NewWriter(zw)

	if writeHeader {
		writeErr := cw.Write(csvHeader)
		if writeErr != nil {
			file.Close()

			return fmt.Errorf("write audit header: %w", writeErr)
		}
	}

	for _, entry := range entries {
		writeErr := cw.Write(entry.row())
		if writeErr != nil {
			file.Close()

			return fmt.Errorf("write audit row: %w", writeErr)
		}
	}

	cw.Flush()

	flushErr := cw.Error()
	zwErr := zw.Close()
	closeErr := file.Close()

	if flushErr != nil || zwErr != nil || closeErr != nil {
		return fmt.Errorf("flush audit log: %w", errors.Join(flushErr, zwErr, closeErr))
	}

	return nil
}

func (e Entry) row() []string {
	return []string{
		e.Timestamp.Format(timestampLayout),
		e.Filename,
		e.Worksheet,
		e.Address,
		e.OldValue,
		e.NewValue,
		e.OldFormula,
		e.NewFormula,
		e.LastAuthor,
		e.Kind.String(),
	}
}

// EntriesFromChanges builds audit rows from classified diffs.
func EntriesFromChanges(filename, lastAuthor string, now time.Time, changes []workbook.CellChange) []Entry {
	entries := make([]Entry, 0, len(changes))

	for _, ch := range changes {
		entry := Entry{
			Timestamp:  now,
			Filename:   filename,
			Worksheet:  ch.Worksheet,
			Address:    ch.Address,
			LastAuthor: lastAuthor,
			Kind:       ch.Kind,
		}

		if ch.Old != nil {
			entry.OldValue = strOrEmpty(ch.Old.Value)
			entry.OldFormula = strOrEmpty(ch.Old.Formula)
		}

		if ch.New != nil {
			entry.NewValue = strOrEmpty(ch.New.Value)
			entry.NewFormula = strOrEmpty(ch.New.Formula)
		}

		entries = append(entries, entry)
	}

	return entries
}

func strOrEmpty(s *string) string {
	if s == nil {
		return ""
	}

	return *s
}
