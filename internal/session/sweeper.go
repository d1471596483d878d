// ABOUTME: Expiry sweeper reclaiming idle sessions with no live connections
// ABOUTME: Stateless SweepOnce entry point driven by an external scheduler

package session

import (
	"context"
	"log/slog"
	"time"
)

// Sweep policy defaults.
const (
	DefaultIdleThreshold = time.Hour
	DefaultSweepInterval = 30 * time.Minute
)

// Sweeper reclaims sessions that have no attached connections and have been
// inactive beyond the idle threshold. It holds no timer state of its own: an
// external scheduler (the gateway's run loop, or the sweep subcommand) calls
// SweepOnce on whatever cadence it wants, which keeps each sweep
// independently testable.
type Sweeper struct {
	manager       *Manager
	idleThreshold time.Duration
	logger        *slog.Logger
}

// NewSweeper creates a sweeper over the manager's store. A non-positive
// threshold falls back to DefaultIdleThreshold.
func NewSweeper(manager *Manager, idleThreshold time.Duration, logger *slog.Logger) *Sweeper {
	if idleThreshold <= 0 {
		idleThreshold = DefaultIdleThreshold
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{
		manager:       manager,
		idleThreshold: idleThreshold,
		logger:        logger.With("component", "sweeper"),
	}
}

// SweepOnce scans every session and deletes the ones that are both
// connection-less and idle past the threshold. A session with at least one
// attached connection is never touched, regardless of age. Failures on one
// key are logged and do not abort the sweep of the remaining keys; the error
// returned is only for a failed key listing.
func (s *Sweeper) SweepOnce(ctx context.Context) (int, error) {
	ids, err := s.manager.store.ListSessionIDs(ctx, "")
	if err != nil {
		return 0, err
	}

	cutoff := time.Now().UTC().Add(-s.idleThreshold)
	swept := 0

	for _, id := range ids {
		// Live connections always win over age
		if s.manager.liveConnectionCount(id) > 0 {
			continue
		}

		record, err := s.manager.store.GetSession(ctx, id)
		if err != nil {
			s.logger.Warn("skipping session during sweep", "session_id", id, "error", err)
			continue
		}
		if record.ConnectionCount > 0 || !record.LastActivityAt.Before(cutoff) {
			continue
		}

		// Re-check under the manager lock so an attach racing the sweep
		// keeps the session alive.
		if !s.manager.dropIdle(id) {
			continue
		}

		if err := s.manager.store.DeleteSession(ctx, id); err != nil {
			s.logger.Warn("failed to delete expired session", "session_id", id, "error", err)
			continue
		}
		s.logger.Info("expired session swept",
			"session_id", id,
			"last_activity", record.LastActivityAt)
		swept++
	}

	return swept, nil
}
