// ABOUTME: Execution tracker holding one session's ordered tool executions
// ABOUTME: Pure data and transitions; the owning coordinator provides locking

package session

import (
	"errors"
	"time"

	"github.com/attck-nexus/nexus-gateway/internal/store"
)

// ErrDuplicateExecution indicates a caller-supplied execution id collides
// with an existing execution in the same session.
var ErrDuplicateExecution = errors.New("execution already exists")

// Tracker maintains the ordered execution list for one session.
// It is not safe for concurrent use; the Coordinator serializes access
// under its per-session lock.
type Tracker struct {
	executions []store.Execution
	index      map[string]int // execution id -> position in executions
}

// NewTracker creates a tracker seeded with existing executions, typically
// loaded from a persisted session record.
func NewTracker(existing []store.Execution) *Tracker {
	t := &Tracker{
		executions: make([]store.Execution, len(existing)),
		index:      make(map[string]int, len(existing)),
	}
	copy(t.executions, existing)
	for i := range t.executions {
		t.index[t.executions[i].ID] = i
	}
	return t
}

// Start appends a new running execution. Returns ErrDuplicateExecution if the
// id already exists; ids are normally coordinator-generated and cannot collide.
func (t *Tracker) Start(id, toolName, agentName string) (store.Execution, error) {
	if _, exists := t.index[id]; exists {
		return store.Execution{}, ErrDuplicateExecution
	}

	exec := store.Execution{
		ID:        id,
		ToolName:  toolName,
		AgentName: agentName,
		Status:    store.ExecutionRunning,
		StartTime: time.Now().UTC(),
		Progress:  0,
	}
	t.executions = append(t.executions, exec)
	t.index[id] = len(t.executions) - 1
	return exec, nil
}

// UpdateProgress sets the progress value, clamped to [0, 100]. It is a no-op
// against terminal executions so late or duplicate events cannot regress
// final state. Returns true if the value was applied.
func (t *Tracker) UpdateProgress(id string, progress int) bool {
	i, ok := t.index[id]
	if !ok {
		return false
	}
	exec := &t.executions[i]
	if exec.Terminal() {
		return false
	}

	if progress < 0 {
		progress = 0
	}
	if progress > 100 {
		progress = 100
	}
	exec.Progress = progress
	return true
}

// Complete transitions an execution to its terminal state and stamps EndTime.
// Terminal transitions happen exactly once; repeated calls are no-ops.
// A successful completion forces progress to 100. Returns the execution and
// whether this call performed the transition.
func (t *Tracker) Complete(id string, success bool) (store.Execution, bool) {
	i, ok := t.index[id]
	if !ok {
		return store.Execution{}, false
	}
	exec := &t.executions[i]
	if exec.Terminal() {
		return *exec, false
	}

	if success {
		exec.Status = store.ExecutionCompleted
		exec.Progress = 100
	} else {
		exec.Status = store.ExecutionFailed
	}
	now := time.Now().UTC()
	exec.EndTime = &now
	return *exec, true
}

// Find returns a copy of the execution with the given id.
func (t *Tracker) Find(id string) (store.Execution, bool) {
	i, ok := t.index[id]
	if !ok {
		return store.Execution{}, false
	}
	return t.executions[i], true
}

// Snapshot returns a copy of the execution list in start order.
func (t *Tracker) Snapshot() []store.Execution {
	out := make([]store.Execution, len(t.executions))
	copy(out, t.executions)
	return out
}

// Running reports the number of non-terminal executions.
func (t *Tracker) Running() int {
	n := 0
	for i := range t.executions {
		if !t.executions[i].Terminal() {
			n++
		}
	}
	return n
}
