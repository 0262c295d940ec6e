// Package progress persists batch baseline-build progress so an
// interrupted scan can resume where it stopped.
package progress

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Record is the singleton progress artifact, overwritten each step of a
// batch run and deleted on full completion.
type Record struct {
	Completed int       `yaml:"completed"`
	Total     int       `yaml:"total"`
	Timestamp time.Time `yaml:"timestamp"`
}

// Tracker reads and writes the progress artifact at a fixed path.
type Tracker struct {
	path string
}

// NewTracker creates a tracker for the given artifact path.
func NewTracker(path string) *Tracker {
	return &Tracker{path: path}
}

// Save overwrites the progress record with a fresh timestamp.
func (t *Tracker) Save(completed, total int) error {
	mkdirErr := os.MkdirAll(filepath.Dir(t.path), 0o755)
	if mkdirErr != nil {
		return fmt.Errorf("create progress dir: %w", mkdirErr)
	}

	data, err := yaml.Marshal(Record{
		Completed: completed,
		Total:     total,
		Timestamp: time.Now(),
	})
	if err != nil {
		return fmt.Errorf("marshal progress record: %w", err)
	}

	writeErr := os.WriteFile(t.path, data, 0o644)
	if writeErr != nil {
		return fmt.Errorf("write progress record: %w", writeErr)
	}

	return nil
}

// Load returns the last saved record, or nil when no batch is in
// progress.
func (t *Tracker) Load() (*Record, error) {
	data, err := os.ReadFile(t.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}

		return nil, fmt.Errorf("read progress record: %w", err)
	}

	var rec Record

	unmarshalErr := yaml.Unmarshal(data, &rec)
	if unmarshalErr != nil {
		return nil, fmt.Errorf("unmarshal progress record: %w", unmarshalErr)
	}

	return &rec, nil
}

// Clear removes the progress artifact. Missing artifacts are not an error.
func (t *Tracker) Clear() error {
	err := os.Remove(t.path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove progress record: %w", err)
	}

	return nil
}
