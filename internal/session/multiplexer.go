// ABOUTME: Connection multiplexer holding one session's live realtime connections
// ABOUTME: Broadcasts events to every connection, isolating per-connection failures

package session

import (
	"log/slog"
	"sync"
)

// Conn is one live realtime channel attached to a session. Transport
// implementations (WebSocket, SSE) must make Send non-blocking with respect
// to slow peers: a peer that cannot keep up should fail the Send rather than
// stall the caller, typically by bounding an outbound buffer. Events passed
// to Send on one connection must be delivered to the peer in Send order.
type Conn interface {
	// ID returns a handle unique among conns attached to the same session.
	ID() string

	// Send queues the event for delivery. An error marks the connection
	// broken; the multiplexer will detach and close it.
	Send(event *Event) error

	// Close tears the connection down, delivering reason when the transport
	// supports it. Close must be idempotent.
	Close(reason string) error
}

// Multiplexer manages the set of live connections for one session and fans
// events out to all of them. It is owned by a Coordinator and injected into
// collaborators as the Broadcaster interface, so tests can substitute fakes.
type Multiplexer struct {
	mu     sync.RWMutex
	conns  map[string]Conn
	logger *slog.Logger
}

// NewMultiplexer creates an empty multiplexer. Pass nil logger for default.
func NewMultiplexer(logger *slog.Logger) *Multiplexer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Multiplexer{
		conns:  make(map[string]Conn),
		logger: logger.With("component", "multiplexer"),
	}
}

// Attach adds a connection to the set and returns the new count.
func (m *Multiplexer) Attach(conn Conn) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.conns[conn.ID()] = conn
	m.logger.Debug("connection attached",
		"conn_id", conn.ID(),
		"total_connections", len(m.conns))
	return len(m.conns)
}

// Detach removes a connection from the set and returns the new count.
// Detaching an unknown id is a no-op.
func (m *Multiplexer) Detach(connID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.conns[connID]; ok {
		delete(m.conns, connID)
		m.logger.Debug("connection detached",
			"conn_id", connID,
			"total_connections", len(m.conns))
	}
	return len(m.conns)
}

// Count returns the number of attached connections.
func (m *Multiplexer) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.conns)
}

// Broadcast delivers the event to every attached connection. A failed
// delivery to one connection removes and closes that connection and delivery
// continues to the rest; broadcast never aborts on a single failure.
// Returns the ids of connections dropped during this broadcast.
func (m *Multiplexer) Broadcast(event *Event) []string {
	m.mu.RLock()
	targets := make([]Conn, 0, len(m.conns))
	for _, conn := range m.conns {
		targets = append(targets, conn)
	}
	m.mu.RUnlock()

	var dropped []string
	for _, conn := range targets {
		if err := conn.Send(event); err != nil {
			m.logger.Warn("dropping broken connection",
				"conn_id", conn.ID(),
				"error", err)
			m.mu.Lock()
			delete(m.conns, conn.ID())
			m.mu.Unlock()
			_ = conn.Close("send failed")
			dropped = append(dropped, conn.ID())
		}
	}
	return dropped
}

// CloseAll closes and removes every connection, delivering reason to each.
func (m *Multiplexer) CloseAll(reason string) {
	m.mu.Lock()
	conns := m.conns
	m.conns = make(map[string]Conn)
	m.mu.Unlock()

	for _, conn := range conns {
		_ = conn.Close(reason)
	}
}
