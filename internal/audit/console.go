package audit

import (
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/sergi/go-diff/diffmatchpatch"

	"github.com/ckcm0210/watchdog-monitoring/internal/workbook"
)

// Console markers for change kinds.
var (
	addMarker = color.New(color.FgGreen).Sprint("[ADD]")
	delMarker = color.New(color.FgRed).Sprint("[DEL]")
	modMarker = color.New(color.FgYellow).Sprint("[MOD]")
)

// Renderer prints a three-column diff table per worksheet: address,
// baseline content, current content.
type Renderer struct {
	out io.Writer
	dmp *diffmatchpatch.DiffMatchPatch
}

// NewRenderer creates a console renderer. A nil writer defaults to
// stdout.
func NewRenderer(out io.Writer) *Renderer {
	if out == nil {
		out = os.Stdout
	}

	return &Renderer{out: out, dmp: diffmatchpatch.New()}
}

// RenderChanges prints one table for the given worksheet's changes.
// refs, when non-nil, resolves bracketed external references in
// formulas to their source paths.
func (r *Renderer) RenderChanges(filename, worksheet, baselineTime, currentTime string, changes []workbook.CellChange, refs map[int]string, pretty func(string, map[int]string) string) {
	if len(changes) == 0 {
		return
	}

	tw := table.NewWriter()
	tw.SetOutputMirror(r.out)
	tw.SetStyle(table.StyleLight)
	tw.SetTitle("%s [Worksheet: %s]", filename, worksheet)
	tw.AppendHeader(table.Row{
		"Address",
		fmt.Sprintf("Baseline (%s)", baselineTime),
		fmt.Sprintf("Current (%s)", currentTime),
	})

	for _, ch := range changes {
		tw.AppendRow(table.Row{
			ch.Address,
			r.oldColumn(ch, refs, pretty),
			r.newColumn(ch, refs, pretty),
		})
	}

	tw.Render()
}

func (r *Renderer) oldColumn(ch workbook.CellChange, refs map[int]string, pretty func(string, map[int]string) string) string {
	if ch.Old == nil {
		return "(Empty)"
	}

	return cellText(*ch.Old, refs, pretty)
}

func (r *Renderer) newColumn(ch workbook.CellChange, refs map[int]string, pretty func(string, map[int]string) string) string {
	switch ch.Kind {
	case workbook.Added:
		return addMarker + " " + cellText(*ch.New, refs, pretty)
	case workbook.Deleted:
		return delMarker + " (Deleted)"
	case workbook.FormulaChanged:
		return modMarker + " " + r.formulaDiff(ch)
	default:
		return modMarker + " " + cellText(*ch.New, refs, pretty)
	}
}

// formulaDiff highlights the edited portion of a changed formula.
func (r *Renderer) formulaDiff(ch workbook.CellChange) string {
	oldFormula := strOrEmpty(ch.Old.Formula)
	newFormula := strOrEmpty(ch.New.Formula)

	diffs := r.dmp.DiffMain(oldFormula, newFormula, false)

	out := ""

	for _, d := range diffs {
		switch d.Type {
		case diffmatchpatch.DiffInsert:
			out += color.GreenString(d.Text)
		case diffmatchpatch.DiffDelete:
			out += color.New(color.FgRed, color.CrossedOut).Sprint(d.Text)
		default:
			out += d.Text
		}
	}

	if value := strOrEmpty(ch.New.Value); value != "" {
		out += " = '" + value + "'"
	}

	return out
}

// cellText formats a cell for display: formula first when present,
// then the cached value.
func cellText(cell workbook.CellRecord, refs map[int]string, pretty func(string, map[int]string) string) string {
	if cell.Formula != nil {
		formula := *cell.Formula
		if pretty != nil {
			formula = pretty(formula, refs)
		}

		if cell.Value != nil {
			return fmt.Sprintf("%s = '%s'", formula, *cell.Value)
		}

		return formula
	}

	return "'" + strOrEmpty(cell.Value) + "'"
}
