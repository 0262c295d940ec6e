package workbook

import (
	"regexp"
	"sort"
)

// ChangeKind classifies a single cell-level change between two snapshots.
type ChangeKind int

// Change classifications, evaluated per address per worksheet.
const (
	// Added means the cell is absent in the old snapshot and present in the new.
	Added ChangeKind = iota

	// Deleted means the cell is present in the old snapshot and absent in the new.
	Deleted

	// FormulaChanged means the formula text differs, regardless of value.
	FormulaChanged

	// DirectValueChanged means neither side has a formula and the values differ.
	DirectValueChanged

	// ExternalRefUpdated means the shared formula references another
	// workbook and its cached value changed without a formula edit.
	ExternalRefUpdated

	// IndirectChanged means the shared formula has no external reference
	// but its cached value changed (recalculation ripple from elsewhere
	// in the same workbook).
	IndirectChanged
)

// String returns the audit-log label for the change kind.
func (k ChangeKind) String() string {
	switch k {
	case Added:
		return "ADD"
	case Deleted:
		return "DEL"
	case FormulaChanged:
		return "FORMULA"
	case DirectValueChanged:
		return "VALUE"
	case ExternalRefUpdated:
		return "EXTERNAL_REF"
	case IndirectChanged:
		return "INDIRECT"
	default:
		return "UNKNOWN"
	}
}

// CellChange describes one classified difference between two snapshots
// of the same file.
type CellChange struct {
	Worksheet string
	Address   string
	Old       *CellRecord
	New       *CellRecord
	Kind      ChangeKind
}

// externalRefPattern matches formula terms that point at a different
// workbook: a bracketed numeric link index ("[2]Sheet1!A1") or a quoted
// sheet reference whose text embeds a bracketed workbook name
// ("'C:\data\[book.xlsx]Sheet1'!A1").
var externalRefPattern = regexp.MustCompile(`\[\d+\][A-Za-z0-9_]+!|'[^']*\[[^']+\][^']*'!`)

// HasExternalRef reports whether the formula text references another
// workbook file.
func HasExternalRef(formula string) bool {
	return externalRefPattern.MatchString(formula)
}

// Diff computes the classified cell-level differences between two
// snapshots. Worksheets present on only one side are diffed against an
// empty map. Results are ordered by worksheet then address.
func Diff(oldSnap, newSnap WorkbookSnapshot) []CellChange {
	sheets := unionKeys(oldSnap, newSnap)

	var changes []CellChange

	for _, sheet := range sheets {
		oldWS := oldSnap[sheet]
		newWS := newSnap[sheet]

		for _, addr := range unionKeys(oldWS, newWS) {
			oldCell, oldOK := oldWS[addr]
			newCell, newOK := newWS[addr]

			kind, ok := classify(oldCell, newCell, oldOK, newOK)
			if !ok {
				continue
			}

			change := CellChange{Worksheet: sheet, Address: addr, Kind: kind}
			if oldOK {
				c := oldCell
				change.Old = &c
			}

			if newOK {
				c := newCell
				change.New = &c
			}

			changes = append(changes, change)
		}
	}

	return changes
}

// classify determines the change kind for one address. The second
// return value is false for no-ops.
func classify(oldCell, newCell CellRecord, oldOK, newOK bool) (ChangeKind, bool) {
	switch {
	case !oldOK && newOK:
		return Added, true
	case oldOK && !newOK:
		return Deleted, true
	case !oldOK && !newOK:
		return 0, false
	}

	if !strPtrEqual(oldCell.Formula, newCell.Formula) {
		return FormulaChanged, true
	}

	if strPtrEqual(oldCell.Value, newCell.Value) {
		return 0, false
	}

	if oldCell.Formula == nil {
		return DirectValueChanged, true
	}

	if HasExternalRef(*oldCell.Formula) {
		return ExternalRefUpdated, true
	}

	return IndirectChanged, true
}

func unionKeys[V any](a, b map[string]V) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	for k := range a {
		seen[k] = struct{}{}
	}

	for k := range b {
		seen[k] = struct{}{}
	}

	keys := make([]string, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	return keys
}
