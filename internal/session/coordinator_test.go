// ABOUTME: Tests for the per-session coordinator's lifecycle and execution flow
// ABOUTME: Covers attach/detach transitions, the full execute flow, and failure paths

package session

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/attck-nexus/nexus-gateway/internal/executor"
	"github.com/attck-nexus/nexus-gateway/internal/store"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestCoordinator(t *testing.T, id string, exec executor.Executor) (*Coordinator, *store.MockStore) {
	t.Helper()
	st := store.NewMockStore()
	mgr := NewManager(context.Background(), st, exec, testLogger())
	coord, _, err := mgr.CreateOrGet(context.Background(), id, nil)
	require.NoError(t, err)
	return coord, st
}

// waitTerminal blocks until the execution reaches a terminal status.
func waitTerminal(t *testing.T, coord *Coordinator, executionID string) store.Execution {
	t.Helper()
	var exec store.Execution
	require.Eventually(t, func() bool {
		e, ok := coord.FindExecution(executionID)
		if !ok {
			return false
		}
		exec = e
		return e.Terminal()
	}, 2*time.Second, 5*time.Millisecond)
	return exec
}

// nonConnection filters out connection lifecycle events, leaving the events
// produced by executions.
func nonConnection(events []*Event) []*Event {
	var out []*Event
	for _, ev := range events {
		if ev.Kind != KindConnection {
			out = append(out, ev)
		}
	}
	return out
}

func TestCoordinator_ExecuteToolFullFlow(t *testing.T) {
	exec := &executor.MockExecutor{Chunks: [][]byte{
		[]byte(`{"type":"progress","progress":50,"data":{"message":"scanning"}}`),
		[]byte(`{"type":"progress","progress":100,"data":{"message":"finishing"}}`),
	}}
	coord, _ := newTestCoordinator(t, "s1", exec)

	conn := newFakeConn("c1")
	_, err := coord.Attach(context.Background(), conn)
	require.NoError(t, err)

	execID, err := coord.ExecuteTool(context.Background(), "scan", "bug_hunter",
		map[string]any{"url": "http://x"}, "req-1", "")
	require.NoError(t, err)
	require.NotEmpty(t, execID)

	final := waitTerminal(t, coord, execID)
	assert.Equal(t, store.ExecutionCompleted, final.Status)
	assert.Equal(t, 100, final.Progress)
	assert.Equal(t, "scan", final.ToolName)
	assert.Equal(t, "bug_hunter", final.AgentName)
	require.NotNil(t, final.EndTime)

	// The connection observed exactly four events in order: the starting
	// progress, the two relayed progress events, then completion.
	events := nonConnection(conn.received())
	require.Len(t, events, 4)
	wantKinds := []Kind{KindProgress, KindProgress, KindProgress, KindComplete}
	wantProgress := []int{5, 50, 100}
	for i, ev := range events {
		assert.Equal(t, wantKinds[i], ev.Kind, "event %d", i)
		assert.Equal(t, execID, ev.ExecutionID, "event %d", i)
		assert.Equal(t, "req-1", ev.CorrelationID, "event %d", i)
		if i < 3 {
			require.NotNil(t, ev.Progress, "event %d", i)
			assert.Equal(t, wantProgress[i], *ev.Progress, "event %d", i)
		}
	}

	// The record carries the completed execution.
	snap := coord.Snapshot()
	require.Len(t, snap.Executions, 1)
	assert.Equal(t, store.ExecutionCompleted, snap.Executions[0].Status)

	// The executor saw the request with the correlation id attached.
	reqs := exec.OpenedRequests()
	require.Len(t, reqs, 1)
	assert.Equal(t, "scan", reqs[0].ToolName)
	assert.Equal(t, "req-1", reqs[0].RequestID)
	assert.Equal(t, "http://x", reqs[0].Parameters["url"])
}

func TestCoordinator_ExecutionRecordedBeforeReturn(t *testing.T) {
	// A feed that never produces lets us observe the running state.
	exec := &executor.MockExecutor{OpenErr: errors.New("unreachable")}
	coord, st := newTestCoordinator(t, "s1", exec)

	execID, err := coord.ExecuteTool(context.Background(), "scan", "bug_hunter", nil, "", "")
	require.NoError(t, err)

	// The persisted record already lists the execution; clients reading the
	// session right after the call always see it.
	persisted, err := st.GetSession(context.Background(), "s1")
	require.NoError(t, err)
	require.Len(t, persisted.Executions, 1)
	assert.Equal(t, execID, persisted.Executions[0].ID)

	final := waitTerminal(t, coord, execID)
	assert.Equal(t, store.ExecutionFailed, final.Status)
}

func TestCoordinator_ExecutorOpenFailureBroadcastsError(t *testing.T) {
	exec := &executor.MockExecutor{OpenErr: errors.New("executor unreachable")}
	coord, _ := newTestCoordinator(t, "s1", exec)

	conn := newFakeConn("c1")
	_, err := coord.Attach(context.Background(), conn)
	require.NoError(t, err)

	execID, err := coord.ExecuteTool(context.Background(), "scan", "daedelu5", nil, "req-2", "")
	require.NoError(t, err)

	final := waitTerminal(t, coord, execID)
	assert.Equal(t, store.ExecutionFailed, final.Status)

	require.Eventually(t, func() bool {
		events := nonConnection(conn.received())
		return len(events) == 2
	}, 2*time.Second, 5*time.Millisecond)

	events := nonConnection(conn.received())
	assert.Equal(t, KindProgress, events[0].Kind)
	assert.Equal(t, KindError, events[1].Kind)
	assert.Contains(t, events[1].Payload["error"], "executor unreachable")
}

func TestCoordinator_MidStreamFailureKeepsLastProgress(t *testing.T) {
	exec := &executor.MockExecutor{
		Chunks: [][]byte{
			[]byte(`{"type":"progress","progress":40}`),
		},
		Err: errors.New("connection reset"),
	}
	coord, _ := newTestCoordinator(t, "s1", exec)

	execID, err := coord.ExecuteTool(context.Background(), "scan", "rt_dev", nil, "", "")
	require.NoError(t, err)

	final := waitTerminal(t, coord, execID)
	assert.Equal(t, store.ExecutionFailed, final.Status)
	// Failure never fabricates completion; the last reported value stands.
	assert.Equal(t, 40, final.Progress)
}

func TestCoordinator_DuplicateExecutionIDRejected(t *testing.T) {
	exec := &executor.MockExecutor{}
	coord, _ := newTestCoordinator(t, "s1", exec)

	execID, err := coord.ExecuteTool(context.Background(), "scan", "bug_hunter", nil, "", "fixed-id")
	require.NoError(t, err)
	assert.Equal(t, "fixed-id", execID)
	waitTerminal(t, coord, execID)

	_, err = coord.ExecuteTool(context.Background(), "scan", "bug_hunter", nil, "", "fixed-id")
	assert.ErrorIs(t, err, ErrDuplicateExecution)
}

func TestCoordinator_AttachDetachStatusTransitions(t *testing.T) {
	coord, st := newTestCoordinator(t, "s1", &executor.MockExecutor{})

	c1 := newFakeConn("c1")
	c2 := newFakeConn("c2")

	rec, err := coord.Attach(context.Background(), c1)
	require.NoError(t, err)
	assert.Equal(t, store.StatusStreaming, rec.Status)
	assert.Equal(t, 1, rec.ConnectionCount)

	rec, err = coord.Attach(context.Background(), c2)
	require.NoError(t, err)
	assert.Equal(t, 2, rec.ConnectionCount)

	// Both connections got a welcome advertising the supported event kinds.
	for _, c := range []*fakeConn{c1, c2} {
		events := c.received()
		require.NotEmpty(t, events, "conn %s", c.id)
		assert.Equal(t, KindConnection, events[0].Kind)
		assert.Equal(t, "connected", events[0].Payload["status"])
		assert.Equal(t, "s1", events[0].Payload["session_id"])
		assert.NotEmpty(t, events[0].Payload["supported_events"])
	}

	require.NoError(t, coord.DetachConn(context.Background(), "c1"))
	snap := coord.Snapshot()
	assert.Equal(t, store.StatusStreaming, snap.Status)
	assert.Equal(t, 1, snap.ConnectionCount)

	require.NoError(t, coord.DetachConn(context.Background(), "c2"))
	snap = coord.Snapshot()
	assert.Equal(t, store.StatusIdle, snap.Status)
	assert.Equal(t, 0, snap.ConnectionCount)

	// The transitions were persisted, not just held in memory.
	persisted, err := st.GetSession(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, store.StatusIdle, persisted.Status)
	assert.Equal(t, 0, persisted.ConnectionCount)
}

func TestCoordinator_WelcomeFailureDropsConnection(t *testing.T) {
	coord, _ := newTestCoordinator(t, "s1", &executor.MockExecutor{})

	broken := newFakeConn("c1")
	broken.sendErr = errors.New("peer gone")

	rec, err := coord.Attach(context.Background(), broken)
	require.NoError(t, err)
	assert.Equal(t, 0, rec.ConnectionCount)
	assert.Equal(t, store.StatusIdle, rec.Status)
	assert.True(t, broken.isClosed())
}

func TestCoordinator_UpdateMergesMetadataAndBroadcasts(t *testing.T) {
	coord, st := newTestCoordinator(t, "s1", &executor.MockExecutor{})

	conn := newFakeConn("c1")
	_, err := coord.Attach(context.Background(), conn)
	require.NoError(t, err)

	_, err = coord.Update(context.Background(), map[string]string{"owner": "ops", "env": "lab"})
	require.NoError(t, err)
	snap, err := coord.Update(context.Background(), map[string]string{"env": "prod"})
	require.NoError(t, err)

	// Merge semantics: unrelated keys survive, repeated keys overwrite.
	assert.Equal(t, "ops", snap.Metadata["owner"])
	assert.Equal(t, "prod", snap.Metadata["env"])

	persisted, err := st.GetSession(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, "prod", persisted.Metadata["env"])

	// Each update was announced to the attached connection.
	events := nonConnection(conn.received())
	require.Len(t, events, 2)
	for _, ev := range events {
		assert.Equal(t, KindData, ev.Kind)
		assert.Contains(t, ev.Payload, "session")
	}
}

func TestCoordinator_DeleteClosesConnectionsAndRecord(t *testing.T) {
	coord, st := newTestCoordinator(t, "s1", &executor.MockExecutor{})

	conn := newFakeConn("c1")
	_, err := coord.Attach(context.Background(), conn)
	require.NoError(t, err)

	require.NoError(t, coord.Delete(context.Background()))

	// The closing announcement preceded the force-close.
	events := conn.received()
	last := events[len(events)-1]
	assert.Equal(t, KindConnection, last.Kind)
	assert.Equal(t, "closing", last.Payload["status"])
	assert.True(t, conn.isClosed())

	_, err = st.GetSession(context.Background(), "s1")
	assert.ErrorIs(t, err, store.ErrNotFound)

	// A deleted coordinator refuses further operations.
	_, err = coord.Attach(context.Background(), newFakeConn("c2"))
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = coord.Update(context.Background(), nil)
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.ErrorIs(t, coord.Delete(context.Background()), store.ErrNotFound)
}

func TestCoordinator_StorageFailureSurfaces(t *testing.T) {
	coord, st := newTestCoordinator(t, "s1", &executor.MockExecutor{})

	st.SetFailing(true)

	_, err := coord.Update(context.Background(), map[string]string{"k": "v"})
	assert.ErrorIs(t, err, store.ErrStorageUnavailable)

	_, err = coord.ExecuteTool(context.Background(), "scan", "bug_hunter", nil, "", "")
	assert.ErrorIs(t, err, store.ErrStorageUnavailable)

	_, err = coord.Attach(context.Background(), newFakeConn("c1"))
	assert.ErrorIs(t, err, store.ErrStorageUnavailable)
}

func TestCoordinator_BroadcastReconcilesDroppedConnections(t *testing.T) {
	coord, _ := newTestCoordinator(t, "s1", &executor.MockExecutor{})

	healthy := newFakeConn("c1")
	broken := newFakeConn("c2")

	_, err := coord.Attach(context.Background(), healthy)
	require.NoError(t, err)
	_, err = coord.Attach(context.Background(), broken)
	require.NoError(t, err)

	// Break the peer after the welcome so attach succeeds first.
	broken.sendErr = errors.New("buffer full")

	coord.Broadcast(NewDataEvent(map[string]any{"seq": 1}))

	snap := coord.Snapshot()
	assert.Equal(t, 1, snap.ConnectionCount)
	assert.Equal(t, store.StatusStreaming, snap.Status)
	assert.True(t, broken.isClosed())
	assert.False(t, healthy.isClosed())

	// The healthy connection keeps receiving.
	coord.Broadcast(NewDataEvent(map[string]any{"seq": 2}))
	assert.Len(t, nonConnection(healthy.received()), 2)
}
