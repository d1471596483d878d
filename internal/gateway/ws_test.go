// ABOUTME: Tests for the WebSocket transport and inbound message dispatch
// ABOUTME: Dials real sockets against httptest and drives the session protocol

package gateway

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/attck-nexus/nexus-gateway/internal/executor"
	"github.com/attck-nexus/nexus-gateway/internal/session"
)

func dialWS(t *testing.T, httpURL, sessionID string) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(httpURL, "http") + "/ws/" + sessionID
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	if resp != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) *session.Event {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var ev session.Event
	require.NoError(t, conn.ReadJSON(&ev))
	return &ev
}

func TestWebSocket_WelcomeOnConnect(t *testing.T) {
	_, _, srv := newTestGateway(t, &executor.MockExecutor{})

	conn := dialWS(t, srv.URL, "s1")

	welcome := readEvent(t, conn)
	assert.Equal(t, session.KindConnection, welcome.Kind)
	assert.Equal(t, "connected", welcome.Payload["status"])
	assert.Equal(t, "s1", welcome.Payload["session_id"])
	assert.NotEmpty(t, welcome.Payload["supported_events"])
}

func TestWebSocket_ConnectCreatesSession(t *testing.T) {
	gw, _, srv := newTestGateway(t, &executor.MockExecutor{})

	conn := dialWS(t, srv.URL, "fresh")
	readEvent(t, conn)

	coord, err := gw.manager.Get(context.Background(), "fresh")
	require.NoError(t, err)
	snap := coord.Snapshot()
	assert.Equal(t, "streaming", string(snap.Status))
	assert.Equal(t, 1, snap.ConnectionCount)
}

func TestWebSocket_PingPong(t *testing.T) {
	_, _, srv := newTestGateway(t, &executor.MockExecutor{})

	conn := dialWS(t, srv.URL, "s1")
	readEvent(t, conn)

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "ping"}))
	ev := readEvent(t, conn)
	assert.Equal(t, session.KindPong, ev.Kind)
}

func TestWebSocket_SessionStatus(t *testing.T) {
	_, _, srv := newTestGateway(t, &executor.MockExecutor{})

	conn := dialWS(t, srv.URL, "s1")
	readEvent(t, conn)

	require.NoError(t, conn.WriteJSON(map[string]string{
		"type":       "session_status",
		"request_id": "req-7",
	}))

	ev := readEvent(t, conn)
	assert.Equal(t, session.KindData, ev.Kind)
	assert.Equal(t, "req-7", ev.CorrelationID)
	require.Contains(t, ev.Payload, "session")
	record := ev.Payload["session"].(map[string]any)
	assert.Equal(t, "s1", record["session_id"])
}

func TestWebSocket_ToolExecution(t *testing.T) {
	exec := &executor.MockExecutor{Chunks: [][]byte{
		[]byte(`{"type":"progress","progress":50}`),
		[]byte(`{"type":"progress","progress":100}`),
	}}
	_, _, srv := newTestGateway(t, exec)

	conn := dialWS(t, srv.URL, "s1")
	readEvent(t, conn)

	require.NoError(t, conn.WriteJSON(map[string]any{
		"type":       "tool_execution",
		"tool_name":  "scan",
		"agent":      "bug_hunter",
		"parameters": map[string]any{"url": "http://x"},
		"request_id": "req-1",
	}))

	// The execute flow produces three progress events and a completion
	wantKinds := []session.Kind{
		session.KindProgress,
		session.KindProgress,
		session.KindProgress,
		session.KindComplete,
	}
	for i, want := range wantKinds {
		ev := readEvent(t, conn)
		assert.Equal(t, want, ev.Kind, "event %d", i)
		assert.Equal(t, "req-1", ev.CorrelationID, "event %d", i)
		assert.NotEmpty(t, ev.ExecutionID, "event %d", i)
	}
}

func TestWebSocket_ExecutionBroadcastToAllConnections(t *testing.T) {
	exec := &executor.MockExecutor{}
	_, _, srv := newTestGateway(t, exec)

	first := dialWS(t, srv.URL, "s1")
	readEvent(t, first)
	second := dialWS(t, srv.URL, "s1")
	readEvent(t, second)

	require.NoError(t, first.WriteJSON(map[string]any{
		"type":      "tool_execution",
		"tool_name": "scan",
		"agent":     "daedelu5",
	}))

	// Both peers observe the execution, including the one that did not start it
	for _, conn := range []*websocket.Conn{first, second} {
		ev := readEvent(t, conn)
		assert.Equal(t, session.KindProgress, ev.Kind)
		ev = readEvent(t, conn)
		assert.Equal(t, session.KindComplete, ev.Kind)
	}
}

func TestWebSocket_ToolExecutionMissingToolName(t *testing.T) {
	_, _, srv := newTestGateway(t, &executor.MockExecutor{})

	conn := dialWS(t, srv.URL, "s1")
	readEvent(t, conn)

	require.NoError(t, conn.WriteJSON(map[string]string{
		"type":       "tool_execution",
		"request_id": "req-1",
	}))

	ev := readEvent(t, conn)
	assert.Equal(t, session.KindError, ev.Kind)
	assert.Equal(t, "req-1", ev.CorrelationID)
	assert.Contains(t, ev.Payload["error"], "tool_name is required")
}

func TestWebSocket_MalformedMessageKeepsConnectionOpen(t *testing.T) {
	_, _, srv := newTestGateway(t, &executor.MockExecutor{})

	conn := dialWS(t, srv.URL, "s1")
	readEvent(t, conn)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("this is not json")))
	ev := readEvent(t, conn)
	assert.Equal(t, session.KindError, ev.Kind)

	// The connection survives and keeps serving
	require.NoError(t, conn.WriteJSON(map[string]string{"type": "ping"}))
	ev = readEvent(t, conn)
	assert.Equal(t, session.KindPong, ev.Kind)
}

func TestWebSocket_UnknownMessageType(t *testing.T) {
	_, _, srv := newTestGateway(t, &executor.MockExecutor{})

	conn := dialWS(t, srv.URL, "s1")
	readEvent(t, conn)

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "teleport"}))
	ev := readEvent(t, conn)
	assert.Equal(t, session.KindError, ev.Kind)
	assert.Contains(t, ev.Payload["error"], "unknown message type")
}

func TestWebSocket_DisconnectUpdatesSession(t *testing.T) {
	gw, _, srv := newTestGateway(t, &executor.MockExecutor{})

	conn := dialWS(t, srv.URL, "s1")
	readEvent(t, conn)
	conn.Close()

	require.Eventually(t, func() bool {
		coord, err := gw.manager.Get(context.Background(), "s1")
		if err != nil {
			return false
		}
		snap := coord.Snapshot()
		return snap.ConnectionCount == 0 && string(snap.Status) == "idle"
	}, 2*time.Second, 10*time.Millisecond)
}

func TestWebSocket_MissingSessionID(t *testing.T) {
	_, _, srv := newTestGateway(t, &executor.MockExecutor{})

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/"
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.Error(t, err)
	if resp != nil {
		defer resp.Body.Close()
		assert.Equal(t, 400, resp.StatusCode)
	}
}
