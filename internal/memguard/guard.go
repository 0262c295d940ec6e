// Package memguard tracks process memory against a configured ceiling
// and exposes the backpressure signal consumed by batch baseline builds.
package memguard

import (
	"errors"
	"log/slog"
	"runtime"
	"runtime/debug"
)

// ErrOverLimit is returned when memory stays above the configured limit
// even after a forced collection pass. Callers should persist progress
// and stop batch work rather than continue.
var ErrOverLimit = errors.New("memory usage over configured limit")

const bytesPerMiB = 1024 * 1024

// Guard monitors heap usage against a soft limit. A zero limit disables
// all checks.
type Guard struct {
	limitMB uint64
	logger  *slog.Logger
}

// New creates a guard with the given limit in MiB. Zero disables it.
func New(limitMB uint64, logger *slog.Logger) *Guard {
	if logger == nil {
		logger = slog.Default()
	}

	return &Guard{limitMB: limitMB, logger: logger}
}

// Enabled reports whether a limit is configured.
func (g *Guard) Enabled() bool {
	return g.limitMB > 0
}

// CurrentUsageMB returns the live heap allocation in MiB.
func (g *Guard) CurrentUsageMB() uint64 {
	var ms runtime.MemStats

	runtime.ReadMemStats(&ms)

	return ms.HeapAlloc / bytesPerMiB
}

// OverLimit reports whether current usage exceeds the limit.
func (g *Guard) OverLimit() bool {
	if !g.Enabled() {
		return false
	}

	return g.CurrentUsageMB() > g.limitMB
}

// ForceReclaim runs a collection pass and returns memory to the OS so
// large dropped snapshots stop counting against the limit immediately.
func (g *Guard) ForceReclaim() {
	runtime.GC()
	debug.FreeOSMemory()
}

// CheckAndReclaim is the batch-loop backpressure check: when over the
// limit it forces a collection pass and re-checks. Returns true when
// usage is still over the limit afterwards.
func (g *Guard) CheckAndReclaim() bool {
	if !g.OverLimit() {
		return false
	}

	before := g.CurrentUsageMB()

	g.ForceReclaim()

	after := g.CurrentUsageMB()

	g.logger.Warn("memory over limit, forced reclaim",
		slog.Uint64("before_mb", before),
		slog.Uint64("after_mb", after),
		slog.Uint64("limit_mb", g.limitMB),
	)

	return after > g.limitMB
}
