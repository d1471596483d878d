// ABOUTME: Coordinator owning one session's lifecycle, record, and executions
// ABOUTME: Serializes all mutations under a per-session lock and persists each change

package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/attck-nexus/nexus-gateway/internal/executor"
	"github.com/attck-nexus/nexus-gateway/internal/store"
)

// Coordinator owns one session: its persisted record, execution tracker, and
// connection multiplexer. Every mutation of the session record happens under
// the coordinator's lock, so concurrent operations on one session cannot
// interleave into a corrupted record. Coordinators for different sessions
// share nothing and run fully in parallel.
type Coordinator struct {
	id       string
	store    store.Store
	executor executor.Executor
	logger   *slog.Logger

	// baseCtx governs relay lifetimes: executions keep running after the
	// originating request (and even the last connection) goes away.
	baseCtx context.Context

	mu      sync.Mutex
	record  *store.Session
	tracker *Tracker
	mux     *Multiplexer
	closed  bool
}

// newCoordinator wraps an existing session record. The Manager is the only
// constructor call site; it handles create-vs-load semantics.
func newCoordinator(baseCtx context.Context, record *store.Session, st store.Store, exec executor.Executor, logger *slog.Logger) *Coordinator {
	logger = logger.With("component", "coordinator", "session_id", record.ID)
	return &Coordinator{
		id:       record.ID,
		store:    st,
		executor: exec,
		logger:   logger,
		baseCtx:  baseCtx,
		record:   record,
		tracker:  NewTracker(record.Executions),
		mux:      NewMultiplexer(logger),
	}
}

// ID returns the session id.
func (c *Coordinator) ID() string {
	return c.id
}

// ConnectionCount returns the number of live attached connections.
func (c *Coordinator) ConnectionCount() int {
	return c.mux.Count()
}

// Snapshot returns a copy of the current session record.
func (c *Coordinator) Snapshot() *store.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.record.Clone()
}

// Attach adds a live connection, transitions the session to streaming, and
// immediately sends the welcome event on that connection. Returns the updated
// record. The welcome is sent before the lock is released, so it always
// precedes any broadcast the connection will observe.
func (c *Coordinator) Attach(ctx context.Context, conn Conn) (*store.Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, store.ErrNotFound
	}

	count := c.mux.Attach(conn)
	c.record.ConnectionCount = count
	c.record.Status = store.StatusStreaming
	c.touchLocked()

	kinds := SupportedKinds()
	names := make([]string, len(kinds))
	for i, k := range kinds {
		names[i] = string(k)
	}
	welcome := NewConnectionEvent(map[string]any{
		"status":           "connected",
		"session_id":       c.id,
		"supported_events": names,
	})
	if err := conn.Send(welcome); err != nil {
		count = c.mux.Detach(conn.ID())
		c.record.ConnectionCount = count
		if count == 0 {
			c.record.Status = store.StatusIdle
		}
		_ = conn.Close("welcome delivery failed")
	}

	if err := c.persistLocked(ctx); err != nil {
		return nil, err
	}
	return c.record.Clone(), nil
}

// DetachConn removes a connection. When the last connection goes away the
// session transitions to idle; running executions are not cancelled.
func (c *Coordinator) DetachConn(ctx context.Context, connID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}

	count := c.mux.Detach(connID)
	c.record.ConnectionCount = count
	if count == 0 && c.record.Status == store.StatusStreaming {
		c.record.Status = store.StatusIdle
	}
	c.touchLocked()
	return c.persistLocked(ctx)
}

// Update merges caller metadata into the record, refreshes activity
// timestamps, and broadcasts the updated record to all attached connections.
// Coordinator-managed fields (status, counts, executions, timestamps) are not
// writable through Update.
func (c *Coordinator) Update(ctx context.Context, metadata map[string]string) (*store.Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, store.ErrNotFound
	}

	if len(metadata) > 0 {
		if c.record.Metadata == nil {
			c.record.Metadata = make(map[string]string, len(metadata))
		}
		for k, v := range metadata {
			c.record.Metadata[k] = v
		}
	}
	c.touchLocked()

	if err := c.persistLocked(ctx); err != nil {
		return nil, err
	}

	snapshot := c.record.Clone()
	c.broadcastLocked(ctx, NewDataEvent(map[string]any{"session": snapshot}))
	return snapshot, nil
}

// Delete announces shutdown to attached connections, force-closes them, and
// removes the record from the store. The coordinator is unusable afterwards.
func (c *Coordinator) Delete(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return store.ErrNotFound
	}

	c.mux.Broadcast(NewConnectionEvent(map[string]any{
		"status":     "closing",
		"session_id": c.id,
	}))
	c.mux.CloseAll("session deleted")
	c.record.ConnectionCount = 0
	c.closed = true

	if err := c.store.DeleteSession(ctx, c.id); err != nil {
		return err
	}
	c.logger.Info("session deleted")
	return nil
}

// ExecuteTool starts a tool execution and returns its id without waiting for
// completion. The execution is recorded as running and persisted before the
// relay produces its first event, so a client reading the session record
// immediately after this call always sees the execution listed. executionID
// is normally empty; callers may supply one, at the cost of
// ErrDuplicateExecution on collision.
func (c *Coordinator) ExecuteTool(ctx context.Context, toolName, agentName string, parameters map[string]any, correlationID, executionID string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return "", store.ErrNotFound
	}

	if executionID == "" {
		executionID = uuid.New().String()
	}
	if _, err := c.tracker.Start(executionID, toolName, agentName); err != nil {
		return "", err
	}
	c.syncExecutionsLocked()
	c.touchLocked()
	if err := c.persistLocked(ctx); err != nil {
		return "", err
	}

	c.logger.Info("execution started",
		"execution_id", executionID,
		"tool", toolName,
		"agent", agentName)

	c.broadcastLocked(ctx, NewProgressEvent(executionID, correlationID, 5, "starting"))

	req := executor.Request{
		ToolName:   toolName,
		AgentName:  agentName,
		Parameters: parameters,
		RequestID:  correlationID,
	}
	go c.runExecution(executionID, correlationID, req)

	return executionID, nil
}

// runExecution opens the executor feed and relays it until it ends.
// Runs on its own goroutine under the coordinator's base context.
func (c *Coordinator) runExecution(executionID, correlationID string, req executor.Request) {
	feed, err := c.executor.Open(c.baseCtx, req)
	if err != nil {
		c.logger.Warn("executor call failed",
			"execution_id", executionID,
			"error", err)
		c.ExecutionFinished(executionID, correlationID, false, err.Error())
		return
	}

	relay := NewRelay(executionID, correlationID, feed, c, c, c.logger)
	relay.Run()
}

// ExecutionProgress applies a progress value from the relay. Late events for
// terminal executions are ignored.
func (c *Coordinator) ExecutionProgress(executionID string, progress int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	if !c.tracker.UpdateProgress(executionID, progress) {
		return
	}
	c.syncExecutionsLocked()
	c.touchLocked()
	if err := c.persistLocked(c.baseCtx); err != nil {
		c.logger.Warn("persisting progress failed",
			"execution_id", executionID,
			"error", err)
	}
}

// ExecutionFinished records the terminal state and broadcasts the matching
// complete or error event. The transition happens at most once; repeated
// calls (late duplicate completions) are no-ops.
func (c *Coordinator) ExecutionFinished(executionID, correlationID string, success bool, reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	_, changed := c.tracker.Complete(executionID, success)
	if !changed {
		return
	}
	c.syncExecutionsLocked()
	c.touchLocked()
	if err := c.persistLocked(c.baseCtx); err != nil {
		c.logger.Warn("persisting completion failed",
			"execution_id", executionID,
			"error", err)
	}

	if success {
		c.logger.Info("execution completed", "execution_id", executionID)
		c.broadcastLocked(c.baseCtx, NewCompleteEvent(executionID, correlationID))
	} else {
		c.logger.Warn("execution failed",
			"execution_id", executionID,
			"reason", reason)
		c.broadcastLocked(c.baseCtx, NewErrorEvent(executionID, correlationID, reason))
	}
}

// Broadcast delivers an event to all attached connections, reconciling
// connection accounting for any peer dropped during delivery. Implements the
// relay's Broadcaster interface.
func (c *Coordinator) Broadcast(event *Event) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.broadcastLocked(c.baseCtx, event)
}

// broadcastLocked fans the event out and absorbs connection drops into the
// record. Must be called with mu held.
func (c *Coordinator) broadcastLocked(ctx context.Context, event *Event) {
	dropped := c.mux.Broadcast(event)
	if len(dropped) == 0 {
		return
	}

	count := c.mux.Count()
	c.record.ConnectionCount = count
	if count == 0 && c.record.Status == store.StatusStreaming {
		c.record.Status = store.StatusIdle
	}
	if err := c.persistLocked(ctx); err != nil {
		c.logger.Warn("persisting connection drop failed", "error", err)
	}
}

// FindExecution returns a copy of one execution's state.
func (c *Coordinator) FindExecution(executionID string) (store.Execution, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tracker.Find(executionID)
}

// syncExecutionsLocked refreshes the record's execution list from the
// tracker. Must be called with mu held.
func (c *Coordinator) syncExecutionsLocked() {
	c.record.Executions = c.tracker.Snapshot()
}

// touchLocked refreshes the activity timestamps. Must be called with mu held.
func (c *Coordinator) touchLocked() {
	now := time.Now().UTC()
	c.record.UpdatedAt = now
	c.record.LastActivityAt = now
}

// persistLocked writes the record to the store. In-memory state is not
// rolled back on failure; callers surface the error so clients can re-query.
// Must be called with mu held.
func (c *Coordinator) persistLocked(ctx context.Context) error {
	return c.store.PutSession(ctx, c.record)
}
