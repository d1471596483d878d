// ABOUTME: Realtime event model shared by the multiplexer, relay, and transports
// ABOUTME: Defines event kinds, the wire shape, and constructors for common events

package session

import (
	"time"
)

// Kind identifies the type of a realtime event.
type Kind string

// Event kinds recognized on the wire. These are the kinds advertised in the
// welcome event sent to every freshly attached connection.
const (
	KindProgress   Kind = "progress"
	KindData       Kind = "data"
	KindError      Kind = "error"
	KindComplete   Kind = "complete"
	KindConnection Kind = "connection"
	KindPing       Kind = "ping"
	KindPong       Kind = "pong"
)

// SupportedKinds lists every event kind a connection may observe, in the
// order they are advertised in the welcome event.
func SupportedKinds() []Kind {
	return []Kind{
		KindProgress,
		KindData,
		KindError,
		KindComplete,
		KindConnection,
		KindPing,
		KindPong,
	}
}

// Event is one unit of realtime information delivered to attached
// connections. Events are transient: only their side effects on the session
// record are persisted.
type Event struct {
	Kind      Kind           `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	Payload   map[string]any `json:"data,omitempty"`

	// Progress carries the 0-100 completion value for progress events.
	// A pointer distinguishes "absent" from an explicit zero.
	Progress *int `json:"progress,omitempty"`

	// ExecutionID tags events produced by one tool execution.
	ExecutionID string `json:"execution_id,omitempty"`

	// CorrelationID echoes the caller-supplied request id, when one was given.
	CorrelationID string `json:"request_id,omitempty"`
}

// newEvent builds a timestamped event.
func newEvent(kind Kind, payload map[string]any) *Event {
	return &Event{
		Kind:      kind,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	}
}

// NewProgressEvent builds a progress event for an execution.
func NewProgressEvent(executionID, correlationID string, progress int, message string) *Event {
	ev := newEvent(KindProgress, map[string]any{"message": message})
	ev.Progress = &progress
	ev.ExecutionID = executionID
	ev.CorrelationID = correlationID
	return ev
}

// NewErrorEvent builds an error event. executionID may be empty for
// connection-scoped errors (e.g. malformed inbound messages).
func NewErrorEvent(executionID, correlationID, reason string) *Event {
	ev := newEvent(KindError, map[string]any{"error": reason})
	ev.ExecutionID = executionID
	ev.CorrelationID = correlationID
	return ev
}

// NewCompleteEvent builds the terminal completion event for an execution.
func NewCompleteEvent(executionID, correlationID string) *Event {
	ev := newEvent(KindComplete, map[string]any{"status": "completed"})
	ev.ExecutionID = executionID
	ev.CorrelationID = correlationID
	return ev
}

// NewConnectionEvent builds a connection lifecycle event (welcome, shutdown).
func NewConnectionEvent(payload map[string]any) *Event {
	return newEvent(KindConnection, payload)
}

// NewDataEvent builds a data event with an arbitrary payload.
func NewDataEvent(payload map[string]any) *Event {
	return newEvent(KindData, payload)
}

// NewPongEvent answers a ping on a single connection.
func NewPongEvent() *Event {
	return newEvent(KindPong, nil)
}
