package commands

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ckcm0210/watchdog-monitoring/internal/config"
)

func touch(t *testing.T, dir, name string) string {
	t.Helper()

	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))

	return path
}

func TestCollectWorkbooks_FiltersAndSorts(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	sub := filepath.Join(dir, "nested")
	require.NoError(t, os.Mkdir(sub, 0o755))

	b := touch(t, dir, "b.xlsx")
	a := touch(t, sub, "a.xlsm")
	touch(t, dir, "notes.txt")
	touch(t, dir, "~$b.xlsx")

	files, err := collectWorkbooks([]string{dir}, nil)

	require.NoError(t, err)
	assert.Equal(t, []string{b, a}, files, "stable walk order, lock files and other types excluded")
}

func TestCollectWorkbooks_CustomExtensions(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	touch(t, dir, "a.xlsx")
	csv := touch(t, dir, "data.xlsb")

	files, err := collectWorkbooks([]string{dir}, []string{".xlsb"})

	require.NoError(t, err)
	assert.Equal(t, []string{csv}, files)
}

func TestCollectWorkbooks_MissingDirectory(t *testing.T) {
	t.Parallel()

	_, err := collectWorkbooks([]string{filepath.Join(t.TempDir(), "absent")}, nil)

	assert.Error(t, err)
}

func TestBuildLogger_Levels(t *testing.T) {
	t.Parallel()

	debug := buildLogger(config.LoggingConfig{Level: "debug"})
	assert.True(t, debug.Enabled(context.Background(), slog.LevelDebug))

	warn := buildLogger(config.LoggingConfig{Level: "warn", Format: "json"})
	assert.False(t, warn.Enabled(context.Background(), slog.LevelInfo))
	assert.True(t, warn.Enabled(context.Background(), slog.LevelWarn))
}

func TestNewSeedCommand_RequiresDirectories(t *testing.T) {
	cmd := NewSeedCommand()
	cmd.SetArgs([]string{})

	err := cmd.Execute()

	assert.ErrorIs(t, err, ErrNoSeedDirs)
}
