// Package workbook defines the cell-level data model for monitored
// spreadsheet files: cell records, per-file snapshots, persisted
// baselines, content fingerprinting and structural diffing.
package workbook

import (
	"errors"
	"fmt"
	"sort"
)

// ErrInvalidCell is returned when a cell record carries neither a value
// nor a formula. Such records must never be produced or persisted; an
// empty cell is represented by absence from the worksheet map.
var ErrInvalidCell = errors.New("cell record has neither value nor formula")

// CellRecord holds the extracted content of a single non-empty cell.
// At least one of Value or Formula is non-nil.
type CellRecord struct {
	Value   *string `json:"value,omitempty"`
	Formula *string `json:"formula,omitempty"`
}

// Equal reports whether two cell records have identical content.
func (c CellRecord) Equal(other CellRecord) bool {
	return strPtrEqual(c.Value, other.Value) && strPtrEqual(c.Formula, other.Formula)
}

// WorksheetMap maps cell addresses (e.g. "A1") to their records.
// Absence of an address means the cell is empty.
type WorksheetMap map[string]CellRecord

// WorkbookSnapshot maps worksheet names to their cell maps. It
// represents all non-empty cells across all sheets of a file at one
// point in time.
type WorkbookSnapshot map[string]WorksheetMap

// Validate checks the snapshot invariant: every present cell record has
// at least one of value/formula set.
func (s WorkbookSnapshot) Validate() error {
	for sheet, cells := range s {
		for addr, cell := range cells {
			if cell.Value == nil && cell.Formula == nil {
				return fmt.Errorf("%w: %s!%s", ErrInvalidCell, sheet, addr)
			}
		}
	}

	return nil
}

// CellCount returns the total number of non-empty cells in the snapshot.
func (s WorkbookSnapshot) CellCount() int {
	total := 0
	for _, cells := range s {
		total += len(cells)
	}

	return total
}

// Baseline is the last known persisted cell state of one monitored
// file. It is mutated only by atomic replacement, never in place.
type Baseline struct {
	ContentHash string           `json:"content_hash"`
	LastAuthor  string           `json:"last_author,omitempty"`
	Cells       WorkbookSnapshot `json:"cells"`
	Timestamp   string           `json:"timestamp"`
}

// Validate checks the decoded baseline for structural soundness.
func (b *Baseline) Validate() error {
	if b.ContentHash == "" {
		return errors.New("baseline has empty content hash")
	}

	return b.Cells.Validate()
}

// StringValue returns a CellRecord holding only a value.
func StringValue(v string) CellRecord {
	return CellRecord{Value: &v}
}

// FormulaCell returns a CellRecord holding a formula and its cached value.
func FormulaCell(formula, value string) CellRecord {
	return CellRecord{Formula: &formula, Value: &value}
}

// sortedKeys returns map keys in ascending order. Used wherever
// deterministic iteration matters (fingerprinting, diff output).
func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	return keys
}

func strPtrEqual(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}

	return *a == *b
}
