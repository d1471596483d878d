// ABOUTME: WebSocket transport attaching realtime clients to sessions
// ABOUTME: Handles GET /ws/{session_id} with a buffered write pump per connection

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/attck-nexus/nexus-gateway/internal/session"
)

const (
	// writeWait bounds a single write to the peer.
	writeWait = 10 * time.Second

	// pongWait is how long to wait for a pong before dropping the peer.
	pongWait = 60 * time.Second

	// pingPeriod is the transport-level ping cadence. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// maxMessageSize bounds inbound messages.
	maxMessageSize = 64 * 1024

	// sendBufferSize is the per-connection outbound event queue. A client
	// that falls this far behind is dropped rather than stalling the session.
	sendBufferSize = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The gateway fronts trusted clients on a private network
	CheckOrigin: func(r *http.Request) bool { return true },
}

// inboundMessage is the JSON shape clients send over the WebSocket.
type inboundMessage struct {
	Type       string         `json:"type"`
	RequestID  string         `json:"request_id,omitempty"`
	ToolName   string         `json:"tool_name,omitempty"`
	AgentName  string         `json:"agent,omitempty"`
	Parameters map[string]any `json:"parameters,omitempty"`
}

// handleWebSocket handles GET /ws/{session_id} requests. Connecting to an
// unknown session creates it, so clients can open the socket first and run
// tools second.
func (g *Gateway) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	sessionID := strings.TrimPrefix(r.URL.Path, "/ws/")
	if sessionID == "" || strings.Contains(sessionID, "/") {
		g.sendJSONError(w, http.StatusBadRequest, "session_id is required")
		return
	}

	coord, _, err := g.manager.CreateOrGet(r.Context(), sessionID, nil)
	if err != nil {
		g.logger.Error("failed to resolve session for websocket", "session_id", sessionID, "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	socket, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error
		g.logger.Warn("websocket upgrade failed", "session_id", sessionID, "error", err)
		return
	}

	conn := newWSConn(socket, g.logger)
	go conn.writePump()

	if _, err := coord.Attach(r.Context(), conn); err != nil {
		g.logger.Error("failed to attach websocket", "session_id", sessionID, "error", err)
		_ = conn.Close("attach failed")
		return
	}

	g.logger.Info("websocket connected", "session_id", sessionID, "conn_id", conn.ID())

	g.readLoop(coord, conn)

	// The request context is gone once the peer disconnects; detach with a
	// fresh one so the state change still persists.
	if err := coord.DetachConn(context.Background(), conn.ID()); err != nil {
		g.logger.Warn("detaching websocket failed", "session_id", sessionID, "error", err)
	}
	_ = conn.Close("client disconnected")
	g.logger.Info("websocket disconnected", "session_id", sessionID, "conn_id", conn.ID())
}

// readLoop consumes inbound messages until the peer goes away. Malformed
// messages produce an error event on this connection but never close it.
func (g *Gateway) readLoop(coord *session.Coordinator, conn *wsConn) {
	conn.socket.SetReadLimit(maxMessageSize)
	_ = conn.socket.SetReadDeadline(time.Now().Add(pongWait))
	conn.socket.SetPongHandler(func(string) error {
		return conn.socket.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := conn.socket.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				g.logger.Warn("websocket read failed", "conn_id", conn.ID(), "error", err)
			}
			return
		}

		var msg inboundMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			_ = conn.Send(session.NewErrorEvent("", "", "malformed message: invalid JSON"))
			continue
		}

		g.dispatchMessage(coord, conn, &msg)
	}
}

// dispatchMessage routes one inbound message to the session coordinator.
func (g *Gateway) dispatchMessage(coord *session.Coordinator, conn *wsConn, msg *inboundMessage) {
	switch msg.Type {
	case "ping":
		_ = conn.Send(session.NewPongEvent())

	case "tool_execution":
		if msg.ToolName == "" {
			_ = conn.Send(session.NewErrorEvent("", msg.RequestID, "tool_name is required"))
			return
		}
		// Events flow to every attached connection, not just this one
		_, err := coord.ExecuteTool(conn.ctx(), msg.ToolName, msg.AgentName, msg.Parameters, msg.RequestID, "")
		if err != nil {
			_ = conn.Send(session.NewErrorEvent("", msg.RequestID, err.Error()))
		}

	case "session_status":
		ev := session.NewDataEvent(map[string]any{"session": sessionToResponse(coord.Snapshot())})
		ev.CorrelationID = msg.RequestID
		_ = conn.Send(ev)

	default:
		_ = conn.Send(session.NewErrorEvent("", msg.RequestID, "unknown message type: "+msg.Type))
	}
}

// wsConn adapts a gorilla websocket to the session connection interface.
// Sends queue into a buffered channel drained by a single write pump, so
// broadcasts never block on a slow peer.
type wsConn struct {
	id     string
	socket *websocket.Conn
	logger *slog.Logger

	send      chan *session.Event
	done      chan struct{}
	closeOnce sync.Once
}

func newWSConn(socket *websocket.Conn, logger *slog.Logger) *wsConn {
	return &wsConn{
		id:     "ws-" + uuid.New().String(),
		socket: socket,
		logger: logger.With("component", "ws"),
		send:   make(chan *session.Event, sendBufferSize),
		done:   make(chan struct{}),
	}
}

// ID returns the connection id.
func (c *wsConn) ID() string {
	return c.id
}

// ctx returns a context for operations initiated by this connection.
// Executions outlive the connection, so the socket's lifetime must not
// bound them.
func (c *wsConn) ctx() context.Context {
	return context.Background()
}

// Send queues an event for delivery. Never blocks: a full queue means the
// peer cannot keep up and the send fails so the session drops this
// connection.
func (c *wsConn) Send(event *session.Event) error {
	select {
	case <-c.done:
		return errors.New("connection closed")
	default:
	}

	select {
	case c.send <- event:
		return nil
	default:
		return errors.New("send buffer full")
	}
}

// Close shuts the connection down, sending a close frame with the reason.
// Safe to call multiple times and from multiple goroutines.
func (c *wsConn) Close(reason string) error {
	c.closeOnce.Do(func() {
		close(c.done)
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason)
		_ = c.socket.SetWriteDeadline(time.Now().Add(writeWait))
		_ = c.socket.WriteMessage(websocket.CloseMessage, msg)
		_ = c.socket.Close()
	})
	return nil
}

// writePump drains the send queue onto the socket and keeps the peer alive
// with transport pings. Runs on its own goroutine; exits when the connection
// closes or a write fails.
func (c *wsConn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return

		case event := <-c.send:
			_ = c.socket.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.socket.WriteJSON(event); err != nil {
				c.logger.Debug("websocket write failed", "conn_id", c.id, "error", err)
				_ = c.Close("write failed")
				return
			}

		case <-ticker.C:
			_ = c.socket.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.socket.WriteMessage(websocket.PingMessage, nil); err != nil {
				_ = c.Close("ping failed")
				return
			}
		}
	}
}
