package baseline

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/ckcm0210/watchdog-monitoring/internal/workbook"
)

// Sentinel errors for store operations.
var (
	// ErrNotFound is returned when no artifact exists for a file key
	// under any known codec extension.
	ErrNotFound = errors.New("baseline not found")

	// ErrCorrupt is returned when an artifact exists but cannot be
	// decoded or fails validation.
	ErrCorrupt = errors.New("baseline artifact corrupt")

	// ErrPersistFailure is returned after all save retries are
	// exhausted. The previously persisted baseline remains authoritative.
	ErrPersistFailure = errors.New("baseline persist failure")

	// ErrUnknownCodec is returned for an unrecognized codec name.
	ErrUnknownCodec = errors.New("unknown baseline codec")
)

// Retry defaults for crash-safe saves.
const (
	// DefaultMaxAttempts is the save attempt ceiling.
	DefaultMaxAttempts = 5

	// DefaultRetryBase is the base duration for exponential backoff
	// between save attempts. Sequence: 200ms, 400ms, 800ms, 1.6s.
	DefaultRetryBase = 200 * time.Millisecond
)

// StoreConfig holds parameters for creating a Store.
type StoreConfig struct {
	// Dir is the directory holding baseline artifacts.
	Dir string

	// Codec is the codec used for new saves. Defaults to gzip JSON.
	Codec Codec

	// MaxAttempts caps save retries. Defaults to DefaultMaxAttempts.
	MaxAttempts int

	// RetryBase is the backoff base. Defaults to DefaultRetryBase.
	RetryBase time.Duration

	// OnRetry is invoked once per save retry attempt, before the
	// backoff sleep. Used to feed the retry counter.
	OnRetry func()

	Logger *slog.Logger
}

// Store persists one baseline artifact per monitored file key. Writes
// are crash-safe: a uniquely named temp file is written and verified,
// the prior artifact is backed up, and the temp file is moved into
// place before the backup is dropped. Concurrent writers to the same
// key must be prevented by the caller.
type Store struct {
	dir         string
	codec       Codec
	probeOrder  []Codec
	maxAttempts int
	retryBase   time.Duration
	onRetry     func()
	logger      *slog.Logger
}

// NewStore creates a baseline store rooted at cfg.Dir.
func NewStore(cfg StoreConfig) (*Store, error) {
	if cfg.Dir == "" {
		return nil, errors.New("baseline store requires a directory")
	}

	mkdirErr := os.MkdirAll(cfg.Dir, 0o755)
	if mkdirErr != nil {
		return nil, fmt.Errorf("create baseline dir: %w", mkdirErr)
	}

	codec := cfg.Codec
	if codec == nil {
		codec = NewGzipJSONCodec()
	}

	attempts := cfg.MaxAttempts
	if attempts <= 0 {
		attempts = DefaultMaxAttempts
	}

	base := cfg.RetryBase
	if base <= 0 {
		base = DefaultRetryBase
	}

	lg := cfg.Logger
	if lg == nil {
		lg = slog.Default()
	}

	return &Store{
		dir:         cfg.Dir,
		codec:       codec,
		probeOrder:  AllCodecs(codec),
		maxAttempts: attempts,
		retryBase:   base,
		onRetry:     cfg.OnRetry,
		logger:      lg,
	}, nil
}

// Dir returns the store's artifact directory.
func (s *Store) Dir() string {
	return s.dir
}

// artifactPath builds the on-disk path for a key under a codec.
func (s *Store) artifactPath(fileKey string, codec Codec) string {
	return filepath.Join(s.dir, fileKey+codec.Extension())
}

// find locates the existing artifact for a key, probing codec
// extensions in fixed priority order (configured default first).
func (s *Store) find(fileKey string) (string, Codec, bool) {
	for _, codec := range s.probeOrder {
		path := s.artifactPath(fileKey, codec)

		_, err := os.Stat(path)
		if err == nil {
			return path, codec, true
		}
	}

	return "", nil, false
}

// Has reports whether any artifact exists for the key.
func (s *Store) Has(fileKey string) bool {
	_, _, ok := s.find(fileKey)

	return ok
}

// Load resolves the artifact for fileKey regardless of which codec
// produced it and returns the decoded baseline. Returns ErrNotFound
// when no artifact exists and ErrCorrupt when decoding or validation
// fails.
func (s *Store) Load(fileKey string) (*workbook.Baseline, error) {
	path, codec, ok := s.find(fileKey)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, fileKey)
	}

	return s.decodeArtifact(path, codec)
}

func (s *Store) decodeArtifact(path string, codec Codec) (*workbook.Baseline, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open baseline artifact: %w", err)
	}
	defer file.Close()

	var b workbook.Baseline

	decodeErr := codec.Decode(file, &b)
	if decodeErr != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorrupt, filepath.Base(path), decodeErr)
	}

	validateErr := b.Validate()
	if validateErr != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorrupt, filepath.Base(path), validateErr)
	}

	return &b, nil
}

// Save atomically replaces the baseline for fileKey, stamping it with
// the current time. Retries with exponential backoff; after exhausting
// attempts it returns ErrPersistFailure and the prior artifact, if any,
// is left intact.
func (s *Store) Save(fileKey string, b *workbook.Baseline) error {
	b.Timestamp = time.Now().Format(time.RFC3339)

	var lastErr error

	for attempt := 0; attempt < s.maxAttempts; attempt++ {
		if attempt > 0 {
			if s.onRetry != nil {
				s.onRetry()
			}

			delay := s.retryBase << (attempt - 1)
			s.logger.Info("retrying baseline save",
				slog.String("file", fileKey),
				slog.Int("attempt", attempt+1),
				slog.Duration("delay", delay),
			)
			time.Sleep(delay)
		}

		lastErr = s.saveOnce(fileKey, b)
		if lastErr == nil {
			s.removeStaleArtifacts(fileKey)

			return nil
		}

		s.logger.Warn("baseline save attempt failed",
			slog.String("file", fileKey),
			slog.Int("attempt", attempt+1),
			slog.String("error", lastErr.Error()),
		)
	}

	return fmt.Errorf("%w: %s: %v", ErrPersistFailure, fileKey, lastErr)
}

// saveOnce performs one crash-safe replace: write temp, verify by
// re-reading, back up the prior artifact, move the temp into place,
// then drop the backup. Any failure restores the backup.
func (s *Store) saveOnce(fileKey string, b *workbook.Baseline) error {
	target := s.artifactPath(fileKey, s.codec)

	temp, err := s.writeTemp(b)
	if err != nil {
		return err
	}
	defer os.Remove(temp)

	verifyErr := s.verifyTemp(temp)
	if verifyErr != nil {
		return verifyErr
	}

	backup := ""

	_, statErr := os.Stat(target)
	if statErr == nil {
		backup = backupPath(target)

		copyErr := copyFile(target, backup)
		if copyErr != nil {
			return fmt.Errorf("back up prior artifact: %w", copyErr)
		}

		removeErr := os.Remove(target)
		if removeErr != nil {
			os.Remove(backup)

			return fmt.Errorf("remove prior artifact: %w", removeErr)
		}
	}

	moveErr := os.Rename(temp, target)
	if moveErr != nil {
		if backup != "" {
			restoreErr := os.Rename(backup, target)
			if restoreErr != nil {
				s.logger.Error("failed to restore baseline backup",
					slog.String("file", fileKey),
					slog.String("error", restoreErr.Error()),
				)
			}
		}

		return fmt.Errorf("move temp into place: %w", moveErr)
	}

	if backup != "" {
		os.Remove(backup)
	}

	return nil
}

// backupPath derives a unique backup name so an abandoned backup from
// a crashed save can never collide with a later one.
func backupPath(target string) string {
	return fmt.Sprintf("%s.backup_%d", target, time.Now().UnixNano())
}

// writeTemp serializes the baseline into a uniquely named temp file in
// the store directory and returns its path.
func (s *Store) writeTemp(b *workbook.Baseline) (string, error) {
	temp, err := os.CreateTemp(s.dir, "baseline_*.tmp")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}

	encodeErr := s.codec.Encode(temp, b)
	if encodeErr != nil {
		temp.Close()
		os.Remove(temp.Name())

		return "", fmt.Errorf("encode baseline: %w", encodeErr)
	}

	syncErr := temp.Sync()
	if syncErr != nil {
		temp.Close()
		os.Remove(temp.Name())

		return "", fmt.Errorf("sync temp file: %w", syncErr)
	}

	closeErr := temp.Close()
	if closeErr != nil {
		os.Remove(temp.Name())

		return "", fmt.Errorf("close temp file: %w", closeErr)
	}

	return temp.Name(), nil
}

// verifyTemp re-reads the temp file through the codec so a truncated or
// garbled write is caught before it can replace the prior artifact.
func (s *Store) verifyTemp(path string) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("reopen temp for verify: %w", err)
	}
	defer file.Close()

	var b workbook.Baseline

	decodeErr := s.codec.Decode(file, &b)
	if decodeErr != nil {
		return fmt.Errorf("verify temp file: %w", decodeErr)
	}

	return b.Validate()
}

// removeStaleArtifacts deletes artifacts for the key under codec
// extensions other than the configured default, so at most one artifact
// per key persists steady-state. Best-effort: failures are logged.
func (s *Store) removeStaleArtifacts(fileKey string) {
	for _, codec := range s.probeOrder[1:] {
		stale := s.artifactPath(fileKey, codec)

		_, statErr := os.Stat(stale)
		if statErr != nil {
			continue
		}

		removeErr := os.Remove(stale)
		if removeErr != nil {
			s.logger.Warn("failed to remove stale baseline artifact",
				slog.String("path", stale),
				slog.String("error", removeErr.Error()),
			)
		}
	}
}

// Migrate re-encodes the existing baseline for fileKey into the target
// codec, removing the old artifact only after the new one is verified.
// Used for archiving inactive baselines to a different codec.
func (s *Store) Migrate(fileKey string, target Codec) error {
	srcPath, srcCodec, ok := s.find(fileKey)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, fileKey)
	}

	if srcCodec.Extension() == target.Extension() {
		return nil
	}

	b, err := s.decodeArtifact(srcPath, srcCodec)
	if err != nil {
		return err
	}

	dstPath := s.artifactPath(fileKey, target)

	dst, createErr := os.Create(dstPath)
	if createErr != nil {
		return fmt.Errorf("create migrated artifact: %w", createErr)
	}

	encodeErr := target.Encode(dst, b)
	closeErr := dst.Close()

	if encodeErr != nil || closeErr != nil {
		os.Remove(dstPath)

		return fmt.Errorf("encode migrated artifact: %w", errors.Join(encodeErr, closeErr))
	}

	_, verifyErr := s.decodeArtifact(dstPath, target)
	if verifyErr != nil {
		os.Remove(dstPath)

		return fmt.Errorf("verify migrated artifact: %w", verifyErr)
	}

	removeErr := os.Remove(srcPath)
	if removeErr != nil {
		s.logger.Warn("failed to remove pre-migration artifact",
			slog.String("path", srcPath),
			slog.String("error", removeErr.Error()),
		)
	}

	return nil
}

// Rename moves the baseline artifact from oldKey to newKey in lock-step
// with a file rename, so both logical identities share one history.
func (s *Store) Rename(oldKey, newKey string) error {
	srcPath, srcCodec, ok := s.find(oldKey)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, oldKey)
	}

	dstPath := s.artifactPath(newKey, srcCodec)

	renameErr := os.Rename(srcPath, dstPath)
	if renameErr != nil {
		return fmt.Errorf("rename baseline artifact: %w", renameErr)
	}

	return nil
}

// Purge removes every artifact for fileKey under all codec extensions.
func (s *Store) Purge(fileKey string) error {
	var errs []error

	for _, codec := range s.probeOrder {
		path := s.artifactPath(fileKey, codec)

		removeErr := os.Remove(path)
		if removeErr != nil && !errors.Is(removeErr, os.ErrNotExist) {
			errs = append(errs, removeErr)
		}
	}

	return errors.Join(errs...)
}

// Keys lists every file key with a persisted artifact.
func (s *Store) Keys() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("read baseline dir: %w", err)
	}

	seen := make(map[string]struct{})

	var keys []string

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		for _, codec := range s.probeOrder {
			ext := codec.Extension()

			name := entry.Name()
			if len(name) > len(ext) && name[len(name)-len(ext):] == ext {
				key := name[:len(name)-len(ext)]
				if _, dup := seen[key]; !dup {
					seen[key] = struct{}{}
					keys = append(keys, key)
				}

				break
			}
		}
	}

	return keys, nil
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

	return errors.Join(copyErr, closeErr)
}
