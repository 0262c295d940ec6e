// Package mirror maintains local copies of spreadsheet files that live
// on slow network shares, so repeated extractions read from local disk.
package mirror

import (
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"
)

// cacheKeyLen is how many hex characters of the path hash prefix the
// cached file name. Enough to keep same-named files from distinct
// folders apart.
const cacheKeyLen = 16

// Mirror copies network files into a local cache directory. Freshness
// is decided by comparing modification times; a stale or missing cache
// entry triggers a fresh copy.
type Mirror struct {
	dir     string
	enabled bool
	logger  *slog.Logger
}

// Config holds parameters for creating a Mirror.
type Config struct {
	// Dir is the local cache directory.
	Dir string

	// Enabled toggles mirroring. When false, EnsureLocalCopy returns
	// the network path unchanged.
	Enabled bool

	Logger *slog.Logger
}

// New creates a mirror. The cache directory is created lazily on first
// copy.
func New(cfg Config) *Mirror {
	lg := cfg.Logger
	if lg == nil {
		lg = slog.Default()
	}

	return &Mirror{dir: cfg.Dir, enabled: cfg.Enabled, logger: lg}
}

// cachePath derives the local file name for a network path.
func (m *Mirror) cachePath(networkPath string) string {
	sum := sha1.Sum([]byte(networkPath))
	key := hex.EncodeToString(sum[:])[:cacheKeyLen]

	return filepath.Join(m.dir, key+"_"+filepath.Base(networkPath))
}

// EnsureLocalCopy returns a local path holding the current content of
// networkPath. A fresh cached copy is reused; otherwise the file is
// copied. Copy failures fall back to the network path so monitoring
// degrades to slow reads instead of stopping.
func (m *Mirror) EnsureLocalCopy(networkPath string) (string, error) {
	if !m.enabled {
		return networkPath, nil
	}

	srcInfo, err := os.Stat(networkPath)
	if err != nil {
		return "", fmt.Errorf("stat source file: %w", err)
	}

	local := m.cachePath(networkPath)

	cacheInfo, statErr := os.Stat(local)
	if statErr == nil && !cacheInfo.ModTime().Before(srcInfo.ModTime()) {
		return local, nil
	}

	mkdirErr := os.MkdirAll(m.dir, 0o755)
	if mkdirErr != nil {
		m.logger.Warn("cannot create cache dir, reading from network",
			slog.String("dir", m.dir),
			slog.String("error", mkdirErr.Error()),
		)

		return networkPath, nil
	}

	copyErr := copyFile(networkPath, local)
	if copyErr != nil {
		m.logger.Warn("cache copy failed, reading from network",
			slog.String("file", filepath.Base(networkPath)),
			slog.String("error", copyErr.Error()),
		)

		return networkPath, nil
	}

	m.logger.Debug("copied file to local cache",
		slog.String("file", filepath.Base(networkPath)),
		slog.String("size", humanize.IBytes(uint64(srcInfo.Size()))),
	)

	return local, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}

	_, copyErr := io.Copy(out, in)
	closeErr := out.Close()

	if copyErr != nil || closeErr != nil {
		os.Remove(dst)

		return errors.Join(copyErr, closeErr)
	}

	return nil
}
