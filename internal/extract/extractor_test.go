package extract

import (
	"archive/zip"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/ckcm0210/watchdog-monitoring/internal/session"
)

// writeWorkbook builds a real xlsx fixture with excelize.
func writeWorkbook(t *testing.T, dir string) string {
	t.Helper()

	f := excelize.NewFile()
	require.NoError(t, f.SetCellValue("Sheet1", "A1", 100))
	require.NoError(t, f.SetCellValue("Sheet1", "B2", "hello"))
	require.NoError(t, f.SetCellFormula("Sheet1", "C3", "=A1*2"))

	_, err := f.NewSheet("Data")
	require.NoError(t, err)
	require.NoError(t, f.SetCellValue("Data", "A1", "x"))

	path := filepath.Join(dir, "fixture.xlsx")
	require.NoError(t, f.SaveAs(path))
	require.NoError(t, f.Close())

	return path
}

func TestExcel_Extract_CollectsNonEmptyCells(t *testing.T) {
	t.Parallel()

	path := writeWorkbook(t, t.TempDir())
	e := NewExcel(Config{})

	snap, err := e.Extract(context.Background(), path)
	require.NoError(t, err)

	require.Contains(t, snap, "Sheet1")
	require.Contains(t, snap, "Data")

	sheet1 := snap["Sheet1"]
	require.Contains(t, sheet1, "A1")
	assert.Equal(t, "100", *sheet1["A1"].Value)
	assert.Nil(t, sheet1["A1"].Formula)

	require.Contains(t, sheet1, "C3")
	require.NotNil(t, sheet1["C3"].Formula)
	assert.Equal(t, "=A1*2", *sheet1["C3"].Formula)

	// Empty cells are absent, not present with null fields.
	assert.NotContains(t, sheet1, "A2")
	assert.NoError(t, snap.Validate())
}

func TestExcel_Extract_MissingFile(t *testing.T) {
	t.Parallel()

	e := NewExcel(Config{OpenRetries: 1, OpenRetryDelay: time.Millisecond})

	_, err := e.Extract(context.Background(), filepath.Join(t.TempDir(), "ghost.xlsx"))

	assert.ErrorIs(t, err, ErrNotFound)
}

func TestExcel_Extract_CorruptFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "broken.xlsx")
	require.NoError(t, os.WriteFile(path, []byte("this is not a zip"), 0o644))

	e := NewExcel(Config{OpenRetries: 1, OpenRetryDelay: time.Millisecond})

	_, err := e.Extract(context.Background(), path)

	assert.ErrorIs(t, err, ErrCorrupt)
}

func TestExcel_Extract_SetsProcessingMarkerTransiently(t *testing.T) {
	t.Parallel()

	path := writeWorkbook(t, t.TempDir())
	sess := session.New(context.Background())
	e := NewExcel(Config{Session: sess})

	_, err := e.Extract(context.Background(), path)
	require.NoError(t, err)

	_, _, ok := sess.Processing()
	assert.False(t, ok)
}

func TestExcel_LastAuthor_UnknownWhenUnset(t *testing.T) {
	t.Parallel()

	path := writeWorkbook(t, t.TempDir())
	e := NewExcel(Config{})

	author, err := e.LastAuthor(path)
	require.NoError(t, err)

	assert.Equal(t, UnknownAuthor, author)
}

func TestExternalRefs_NoLinks(t *testing.T) {
	t.Parallel()

	path := writeWorkbook(t, t.TempDir())

	refs, err := ExternalRefs(path)
	require.NoError(t, err)

	assert.Empty(t, refs)
}

func TestExternalRefs_ParsesLinkParts(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "linked.xlsx")
	writeZipFixture(t, path, map[string]string{
		"xl/_rels/workbook.xml.rels": `<?xml version="1.0"?>
<Relationships xmlns="http://schemas.openxmlformats.org/package/2006/relationships">
  <Relationship Id="rId1" Type="http://schemas.openxmlformats.org/officeDocument/2006/relationships/externalLink" Target="externalLinks/externalLink1.xml"/>
  <Relationship Id="rId2" Type="http://schemas.openxmlformats.org/officeDocument/2006/relationships/worksheet" Target="worksheets/sheet1.xml"/>
</Relationships>`,
		"xl/externalLinks/externalLink1.xml": `<?xml version="1.0"?>
<externalLink xmlns="http://schemas.openxmlformats.org/spreadsheetml/2006/main">
  <externalBookPr href="\\fileserver\shared\rates.xlsx"/>
</externalLink>`,
	})

	refs, err := ExternalRefs(path)
	require.NoError(t, err)

	assert.Equal(t, map[int]string{1: `\\fileserver\shared\rates.xlsx`}, refs)
}

func TestPrettyFormula_ResolvesIndexedReference(t *testing.T) {
	t.Parallel()

	refs := map[int]string{2: `\\srv\rates.xlsx`}

	pretty := PrettyFormula("=[2]Rates!B4*10", refs)

	assert.Equal(t, `=[\\srv\rates.xlsx]Rates!B4*10`, pretty)
}

func TestPrettyFormula_UnresolvedIndexLeftAlone(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "=[3]Rates!B4", PrettyFormula("=[3]Rates!B4", map[int]string{1: "x"}))
	assert.Equal(t, "=SUM(A:A)", PrettyFormula("=SUM(A:A)", nil))
}

func writeZipFixture(t *testing.T, path string, parts map[string]string) {
	t.Helper()

	out, err := os.Create(path)
	require.NoError(t, err)

	zw := zip.NewWriter(out)

	for name, content := range parts {
		w, createErr := zw.Create(name)
		require.NoError(t, createErr)

		_, writeErr := w.Write([]byte(content))
		require.NoError(t, writeErr)
	}

	require.NoError(t, zw.Close())
	require.NoError(t, out.Close())
}

func TestExcel_Extract_TimeoutReported(t *testing.T) {
	t.Parallel()

	path := writeWorkbook(t, t.TempDir())

	// A nanosecond deadline expires long before any workbook read
	// completes.
	e := NewExcel(Config{Timeout: time.Nanosecond})

	_, err := e.Extract(context.Background(), path)

	assert.ErrorIs(t, err, ErrTimeout)
}

func TestExcel_Extract_CanceledContextIsNotATimeout(t *testing.T) {
	t.Parallel()

	path := writeWorkbook(t, t.TempDir())
	e := NewExcel(Config{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := e.Extract(ctx, path)

	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, ErrTimeout)
}
