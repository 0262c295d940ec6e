package baseline

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ckcm0210/watchdog-monitoring/internal/observability"
	"github.com/ckcm0210/watchdog-monitoring/internal/workbook"
)

func testStore(t *testing.T, codec Codec) *Store {
	t.Helper()

	store, err := NewStore(StoreConfig{
		Dir:       t.TempDir(),
		Codec:     codec,
		RetryBase: time.Millisecond,
	})
	require.NoError(t, err)

	return store
}

func baselineFixture() *workbook.Baseline {
	snap := workbook.WorkbookSnapshot{
		"Sheet1": workbook.WorksheetMap{
			"A1": workbook.StringValue("100"),
			"B2": workbook.FormulaCell("=A1*2", "200"),
		},
	}

	return &workbook.Baseline{
		ContentHash: workbook.Fingerprint(snap),
		LastAuthor:  "alice",
		Cells:       snap,
	}
}

func TestStore_SaveLoad_RoundTrip(t *testing.T) {
	t.Parallel()

	store := testStore(t, nil)
	original := baselineFixture()

	require.NoError(t, store.Save("report.xlsx", original))

	loaded, err := store.Load("report.xlsx")
	require.NoError(t, err)

	assert.Equal(t, original.ContentHash, loaded.ContentHash)
	assert.Equal(t, original.LastAuthor, loaded.LastAuthor)
	assert.Equal(t, original.Cells, loaded.Cells)
	assert.NotEmpty(t, loaded.Timestamp)
}

func TestStore_Load_NotFound(t *testing.T) {
	t.Parallel()

	store := testStore(t, nil)

	_, err := store.Load("missing.xlsx")

	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_Load_CorruptArtifact(t *testing.T) {
	t.Parallel()

	store := testStore(t, nil)
	path := filepath.Join(store.Dir(), "bad.xlsx"+gzipExtension)

	require.NoError(t, os.WriteFile(path, []byte("not gzip at all"), 0o644))

	_, err := store.Load("bad.xlsx")

	assert.ErrorIs(t, err, ErrCorrupt)
}

func TestStore_Load_ProbesAllCodecExtensions(t *testing.T) {
	t.Parallel()

	// Write with lz4 while the store default is gzip: load must still
	// resolve the artifact.
	lz4Store := testStore(t, NewLZ4JSONCodec())
	require.NoError(t, lz4Store.Save("report.xlsx", baselineFixture()))

	gzStore, err := NewStore(StoreConfig{Dir: lz4Store.Dir()})
	require.NoError(t, err)

	loaded, loadErr := gzStore.Load("report.xlsx")
	require.NoError(t, loadErr)

	assert.Equal(t, "alice", loaded.LastAuthor)
}

func TestStore_Save_RemovesStaleOtherCodecArtifact(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	lz4Store, err := NewStore(StoreConfig{Dir: dir, Codec: NewLZ4JSONCodec(), RetryBase: time.Millisecond})
	require.NoError(t, err)
	require.NoError(t, lz4Store.Save("report.xlsx", baselineFixture()))

	gzStore, err := NewStore(StoreConfig{Dir: dir, RetryBase: time.Millisecond})
	require.NoError(t, err)
	require.NoError(t, gzStore.Save("report.xlsx", baselineFixture()))

	assert.NoFileExists(t, filepath.Join(dir, "report.xlsx"+lz4Extension))
	assert.FileExists(t, filepath.Join(dir, "report.xlsx"+gzipExtension))
}

func TestStore_Save_PriorArtifactSurvivesAbandonedTemp(t *testing.T) {
	t.Parallel()

	store := testStore(t, nil)
	require.NoError(t, store.Save("report.xlsx", baselineFixture()))

	loaded, err := store.Load("report.xlsx")
	require.NoError(t, err)

	// Simulate a crash after the temp file was written but before the
	// move: a stray temp must not affect the persisted artifact.
	stray := filepath.Join(store.Dir(), "baseline_stray.tmp")
	require.NoError(t, os.WriteFile(stray, []byte("partial write"), 0o644))

	again, err := store.Load("report.xlsx")
	require.NoError(t, err)
	assert.Equal(t, loaded.ContentHash, again.ContentHash)
	assert.Equal(t, loaded.Cells, again.Cells)
}

func TestStore_Save_ReplacesExisting(t *testing.T) {
	t.Parallel()

	store := testStore(t, nil)
	require.NoError(t, store.Save("report.xlsx", baselineFixture()))

	updated := baselineFixture()
	updated.LastAuthor = "bob"
	updated.Cells["Sheet1"]["A1"] = workbook.StringValue("999")
	updated.ContentHash = workbook.Fingerprint(updated.Cells)

	require.NoError(t, store.Save("report.xlsx", updated))

	loaded, err := store.Load("report.xlsx")
	require.NoError(t, err)
	assert.Equal(t, "bob", loaded.LastAuthor)
	assert.Equal(t, "999", *loaded.Cells["Sheet1"]["A1"].Value)

	// No backup or temp residue after a successful replace.
	entries, readErr := os.ReadDir(store.Dir())
	require.NoError(t, readErr)
	require.Len(t, entries, 1)
}

func TestStore_Migrate_ToLZ4(t *testing.T) {
	t.Parallel()

	store := testStore(t, nil)
	require.NoError(t, store.Save("report.xlsx", baselineFixture()))

	require.NoError(t, store.Migrate("report.xlsx", NewLZ4JSONCodec()))

	assert.NoFileExists(t, filepath.Join(store.Dir(), "report.xlsx"+gzipExtension))
	assert.FileExists(t, filepath.Join(store.Dir(), "report.xlsx"+lz4Extension))

	loaded, err := store.Load("report.xlsx")
	require.NoError(t, err)
	assert.Equal(t, "alice", loaded.LastAuthor)
}

func TestStore_Migrate_SameCodecNoop(t *testing.T) {
	t.Parallel()

	store := testStore(t, nil)
	require.NoError(t, store.Save("report.xlsx", baselineFixture()))

	require.NoError(t, store.Migrate("report.xlsx", NewGzipJSONCodec()))

	assert.FileExists(t, filepath.Join(store.Dir(), "report.xlsx"+gzipExtension))
}

func TestStore_Rename_MovesArtifact(t *testing.T) {
	t.Parallel()

	store := testStore(t, nil)
	require.NoError(t, store.Save("old.xlsx", baselineFixture()))

	require.NoError(t, store.Rename("old.xlsx", "new.xlsx"))

	assert.False(t, store.Has("old.xlsx"))

	loaded, err := store.Load("new.xlsx")
	require.NoError(t, err)
	assert.Equal(t, "alice", loaded.LastAuthor)
}

func TestStore_Rename_MissingSource(t *testing.T) {
	t.Parallel()

	store := testStore(t, nil)

	assert.ErrorIs(t, store.Rename("ghost.xlsx", "new.xlsx"), ErrNotFound)
}

func TestStore_Purge_RemovesAllArtifacts(t *testing.T) {
	t.Parallel()

	store := testStore(t, nil)
	require.NoError(t, store.Save("report.xlsx", baselineFixture()))

	require.NoError(t, store.Purge("report.xlsx"))

	assert.False(t, store.Has("report.xlsx"))
}

func TestStore_Keys_ListsAllKeys(t *testing.T) {
	t.Parallel()

	store := testStore(t, nil)
	require.NoError(t, store.Save("a.xlsx", baselineFixture()))
	require.NoError(t, store.Save("b.xlsm", baselineFixture()))

	keys, err := store.Keys()
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"a.xlsx", "b.xlsm"}, keys)
}

func TestStore_Load_RejectsInvalidCellRecord(t *testing.T) {
	t.Parallel()

	store := testStore(t, nil)
	path := filepath.Join(store.Dir(), "report.xlsx"+gzipExtension)

	// A present cell record with both fields null violates the model
	// invariant and must be treated as corrupt, not silently accepted.
	file, err := os.Create(path)
	require.NoError(t, err)

	codec := NewGzipJSONCodec()
	require.NoError(t, codec.Encode(file, map[string]any{
		"content_hash": "abc",
		"cells":        map[string]any{"Sheet1": map[string]any{"A1": map[string]any{}}},
		"timestamp":    time.Now().Format(time.RFC3339),
	}))
	require.NoError(t, file.Close())

	_, loadErr := store.Load("report.xlsx")

	assert.ErrorIs(t, loadErr, ErrCorrupt)
}

func TestCodecByName(t *testing.T) {
	t.Parallel()

	gz, err := CodecByName("gzip")
	require.NoError(t, err)
	assert.Equal(t, gzipExtension, gz.Extension())

	lz, err := CodecByName("lz4")
	require.NoError(t, err)
	assert.Equal(t, lz4Extension, lz.Extension())

	_, err = CodecByName("zstd")
	assert.ErrorIs(t, err, ErrUnknownCodec)
}

// brokenStore returns a store whose directory has been replaced by a
// regular file, so every write attempt fails.
func brokenStore(t *testing.T, onRetry func()) *Store {
	t.Helper()

	dir := filepath.Join(t.TempDir(), "store")

	store, err := NewStore(StoreConfig{
		Dir:       dir,
		RetryBase: time.Millisecond,
		OnRetry:   onRetry,
	})
	require.NoError(t, err)

	require.NoError(t, os.RemoveAll(dir))
	require.NoError(t, os.WriteFile(dir, []byte("not a directory"), 0o644))

	return store
}

func TestStore_Save_RetryExhaustion_ReportsPersistFailure(t *testing.T) {
	t.Parallel()

	retries := 0
	store := brokenStore(t, func() { retries++ })

	err := store.Save("a.xlsx", baselineFixture())

	assert.ErrorIs(t, err, ErrPersistFailure)
	assert.Equal(t, DefaultMaxAttempts-1, retries, "every attempt after the first reports a retry")
}

func TestStore_Save_RetriesFeedCounter(t *testing.T) {
	t.Parallel()

	metrics := observability.NewMetrics()
	store := brokenStore(t, metrics.SaveRetries.Inc)

	err := store.Save("a.xlsx", baselineFixture())

	assert.ErrorIs(t, err, ErrPersistFailure)
	assert.InDelta(t, float64(DefaultMaxAttempts-1), testutil.ToFloat64(metrics.SaveRetries), 0)
}

func TestStore_Save_BackupNamesAreUnique(t *testing.T) {
	t.Parallel()

	target := "/store/a.baseline.json.gz"

	first := backupPath(target)
	assert.True(t, strings.HasPrefix(first, target+".backup_"))

	time.Sleep(time.Millisecond)
	assert.NotEqual(t, first, backupPath(target))
}

func TestStore_Save_IgnoresAbandonedBackup(t *testing.T) {
	t.Parallel()

	store := testStore(t, nil)

	require.NoError(t, store.Save("a.xlsx", baselineFixture()))

	// A backup left behind by a crashed save must not disturb later
	// saves, loads, or key listing.
	abandoned := store.artifactPath("a.xlsx", store.codec) + ".backup_1234567890"
	require.NoError(t, os.WriteFile(abandoned, []byte("stale"), 0o644))

	updated := baselineFixture()
	updated.LastAuthor = "bob"
	require.NoError(t, store.Save("a.xlsx", updated))

	loaded, err := store.Load("a.xlsx")
	require.NoError(t, err)
	assert.Equal(t, "bob", loaded.LastAuthor)

	keys, keysErr := store.Keys()
	require.NoError(t, keysErr)
	assert.Equal(t, []string{"a.xlsx"}, keys)
}
