// ABOUTME: Manager mapping session ids to live coordinators
// ABOUTME: Materializes coordinators from store records and handles create-or-get

package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/attck-nexus/nexus-gateway/internal/executor"
	"github.com/attck-nexus/nexus-gateway/internal/store"
)

// Manager coordinates all live sessions. It lazily materializes a
// Coordinator for any session present in the store, so records created
// before a restart keep working. Connections never survive a restart:
// records loaded from the store come back with a zero connection count.
type Manager struct {
	store    store.Store
	executor executor.Executor
	logger   *slog.Logger

	// baseCtx is handed to coordinators for relay lifetimes; cancelling it
	// aborts in-flight executor streams during shutdown.
	baseCtx context.Context

	mu           sync.RWMutex
	coordinators map[string]*Coordinator
}

// NewManager creates a session manager. baseCtx bounds the lifetime of all
// executions started through this manager.
func NewManager(baseCtx context.Context, st store.Store, exec executor.Executor, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		store:        st,
		executor:     exec,
		logger:       logger.With("component", "sessions"),
		baseCtx:      baseCtx,
		coordinators: make(map[string]*Coordinator),
	}
}

// CreateOrGet returns the coordinator for id, creating the session if it does
// not exist. Idempotent: when the session already exists the stored record is
// returned unchanged and metadata is ignored, so a retried create can never
// clobber an in-flight session. An empty id asks the manager to generate one.
func (m *Manager) CreateOrGet(ctx context.Context, id string, metadata map[string]string) (*Coordinator, *store.Session, error) {
	if id == "" {
		id = newSessionID()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if coord, ok := m.coordinators[id]; ok {
		return coord, coord.Snapshot(), nil
	}

	record, err := m.store.GetSession(ctx, id)
	switch {
	case err == nil:
		// Existing record from a previous run; initialData is ignored.
		record = resetLoadedRecord(record)
	case errors.Is(err, store.ErrNotFound):
		now := time.Now().UTC()
		record = &store.Session{
			ID:             id,
			Status:         store.StatusActive,
			CreatedAt:      now,
			UpdatedAt:      now,
			LastActivityAt: now,
			Executions:     []store.Execution{},
			Metadata:       metadata,
		}
		if err := m.store.PutSession(ctx, record); err != nil {
			return nil, nil, err
		}
		m.logger.Info("session created", "session_id", id)
	default:
		return nil, nil, err
	}

	coord := newCoordinator(m.baseCtx, record, m.store, m.executor, m.logger)
	m.coordinators[id] = coord
	return coord, coord.Snapshot(), nil
}

// Get returns the coordinator for an existing session, materializing it from
// the store when needed. Returns store.ErrNotFound for unknown ids.
func (m *Manager) Get(ctx context.Context, id string) (*Coordinator, error) {
	m.mu.RLock()
	coord, ok := m.coordinators[id]
	m.mu.RUnlock()
	if ok {
		return coord, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if coord, ok := m.coordinators[id]; ok {
		return coord, nil
	}

	record, err := m.store.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	coord = newCoordinator(m.baseCtx, resetLoadedRecord(record), m.store, m.executor, m.logger)
	m.coordinators[id] = coord
	return coord, nil
}

// Delete removes the session via its coordinator and drops the coordinator.
// Returns store.ErrNotFound for unknown ids.
func (m *Manager) Delete(ctx context.Context, id string) error {
	coord, err := m.Get(ctx, id)
	if err != nil {
		return err
	}

	if err := coord.Delete(ctx); err != nil {
		return err
	}

	m.mu.Lock()
	delete(m.coordinators, id)
	m.mu.Unlock()
	return nil
}

// ListIDs returns every known session id with the given prefix.
func (m *Manager) ListIDs(ctx context.Context, prefix string) ([]string, error) {
	return m.store.ListSessionIDs(ctx, prefix)
}

// liveConnectionCount reports attached connections for id, or zero when no
// coordinator is live. Used by the sweeper to protect connected sessions.
func (m *Manager) liveConnectionCount(id string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if coord, ok := m.coordinators[id]; ok {
		return coord.ConnectionCount()
	}
	return 0
}

// dropIdle removes the coordinator for id if it has no connections.
// Returns false when the coordinator is connected and must be kept.
func (m *Manager) dropIdle(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	coord, ok := m.coordinators[id]
	if !ok {
		return true
	}
	if coord.ConnectionCount() > 0 {
		return false
	}
	delete(m.coordinators, id)
	return true
}

// newSessionID generates an opaque session id.
func newSessionID() string {
	return uuid.New().String()
}

// resetLoadedRecord normalizes a record loaded from the store: live
// connections never survive a restart, so the count resets and a stale
// streaming status demotes to idle.
func resetLoadedRecord(record *store.Session) *store.Session {
	record.ConnectionCount = 0
	if record.Status == store.StatusStreaming {
		record.Status = store.StatusIdle
	}
	return record
}
