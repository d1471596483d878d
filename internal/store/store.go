// ABOUTME: Store interface and data types for nexus-gateway persistence
// ABOUTME: Defines Session, Execution structs and the Store interface for session records

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested session does not exist
var ErrNotFound = errors.New("not found")

// ErrStorageUnavailable is returned when the underlying store cannot be
// reached or a read/write fails. Callers must treat the operation as having
// unknown persisted effect and may re-query. The store never retries.
var ErrStorageUnavailable = errors.New("storage unavailable")

// Session status constants
const (
	StatusActive    = "active"    // session exists, no live connections, no history yet
	StatusIdle      = "idle"      // session exists, no live connections, has history
	StatusStreaming = "streaming" // at least one live connection attached
)

// Execution status constants
const (
	ExecutionRunning   = "running"
	ExecutionCompleted = "completed"
	ExecutionFailed    = "failed"
)

// Session is the persisted record for one client session. Live connections
// are never persisted; ConnectionCount is rebuilt from zero after a restart.
type Session struct {
	ID              string            `json:"id"`
	Status          string            `json:"status"`
	CreatedAt       time.Time         `json:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at"`
	LastActivityAt  time.Time         `json:"last_activity_at"`
	ConnectionCount int               `json:"connection_count"`
	Executions      []Execution       `json:"executions"`
	Metadata        map[string]string `json:"metadata,omitempty"`
}

// Execution is one tool invocation tracked within a session.
// Insertion order in Session.Executions is start order.
type Execution struct {
	ID        string     `json:"id"`
	ToolName  string     `json:"tool_name"`
	AgentName string     `json:"agent_name"`
	Status    string     `json:"status"`
	StartTime time.Time  `json:"start_time"`
	EndTime   *time.Time `json:"end_time,omitempty"`
	Progress  int        `json:"progress"`
}

// Terminal reports whether the execution has reached a final state.
func (e *Execution) Terminal() bool {
	return e.Status == ExecutionCompleted || e.Status == ExecutionFailed
}

// Clone returns a deep copy of the session so callers can hand records
// across goroutine boundaries without sharing mutable state.
func (s *Session) Clone() *Session {
	out := *s
	if s.Executions != nil {
		out.Executions = make([]Execution, len(s.Executions))
		copy(out.Executions, s.Executions)
		for i := range s.Executions {
			if s.Executions[i].EndTime != nil {
				t := *s.Executions[i].EndTime
				out.Executions[i].EndTime = &t
			}
		}
	}
	if s.Metadata != nil {
		out.Metadata = make(map[string]string, len(s.Metadata))
		for k, v := range s.Metadata {
			out.Metadata[k] = v
		}
	}
	return &out
}

// Store defines the interface for session record persistence.
// All operations are atomic per key; no cross-key transactions exist.
type Store interface {
	// GetSession returns the record for id, or ErrNotFound.
	GetSession(ctx context.Context, id string) (*Session, error)

	// PutSession writes the record, replacing any existing record for its ID.
	PutSession(ctx context.Context, session *Session) error

	// DeleteSession removes the record for id, or returns ErrNotFound.
	DeleteSession(ctx context.Context, id string) error

	// ListSessionIDs returns all session ids with the given prefix.
	// An empty prefix lists every session. Used by the expiry sweeper
	// and the session listing endpoint.
	ListSessionIDs(ctx context.Context, prefix string) ([]string, error)

	// Close releases any resources held by the store
	Close() error
}
