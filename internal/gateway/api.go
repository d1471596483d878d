// ABOUTME: HTTP API handlers for session lifecycle and tool execution
// ABOUTME: Provides the /api/sessions REST surface plus SSE execution streaming

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/attck-nexus/nexus-gateway/internal/session"
	"github.com/attck-nexus/nexus-gateway/internal/store"
)

// CreateSessionRequest is the JSON request body for POST /api/sessions.
type CreateSessionRequest struct {
	SessionID string            `json:"session_id,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// UpdateSessionRequest is the JSON request body for PUT /api/sessions/{id}.
type UpdateSessionRequest struct {
	Metadata map[string]string `json:"metadata"`
}

// ExecuteRequest is the JSON request body for POST /api/sessions/{id}/execute.
type ExecuteRequest struct {
	ToolName   string         `json:"tool_name"`
	AgentName  string         `json:"agent"`
	Parameters map[string]any `json:"parameters,omitempty"`
	RequestID  string         `json:"request_id,omitempty"`
}

// ExecuteResponse is the JSON response for POST /api/sessions/{id}/execute.
type ExecuteResponse struct {
	ExecutionID string `json:"execution_id"`
	SessionID   string `json:"session_id"`
	RequestID   string `json:"request_id,omitempty"`
}

// ExecutionResponse is the JSON shape of one execution in a session record.
type ExecutionResponse struct {
	ExecutionID string  `json:"execution_id"`
	ToolName    string  `json:"tool_name"`
	AgentName   string  `json:"agent"`
	Status      string  `json:"status"`
	StartTime   string  `json:"start_time"`
	EndTime     *string `json:"end_time,omitempty"`
	Progress    int     `json:"progress"`
}

// SessionResponse is the JSON shape of a session record.
type SessionResponse struct {
	SessionID       string              `json:"session_id"`
	Status          string              `json:"status"`
	CreatedAt       string              `json:"created_at"`
	UpdatedAt       string              `json:"updated_at"`
	LastActivityAt  string              `json:"last_activity_at"`
	ConnectionCount int                 `json:"connection_count"`
	Executions      []ExecutionResponse `json:"executions"`
	Metadata        map[string]string   `json:"metadata,omitempty"`
}

// ListSessionsResponse is the JSON response for GET /api/sessions.
type ListSessionsResponse struct {
	Sessions []SessionResponse `json:"sessions"`
	Count    int               `json:"count"`
}

// sessionToResponse converts a session record to its wire shape.
func sessionToResponse(s *store.Session) SessionResponse {
	resp := SessionResponse{
		SessionID:       s.ID,
		Status:          string(s.Status),
		CreatedAt:       s.CreatedAt.Format(time.RFC3339),
		UpdatedAt:       s.UpdatedAt.Format(time.RFC3339),
		LastActivityAt:  s.LastActivityAt.Format(time.RFC3339),
		ConnectionCount: s.ConnectionCount,
		Executions:      make([]ExecutionResponse, len(s.Executions)),
		Metadata:        s.Metadata,
	}
	for i, e := range s.Executions {
		var endTime *string
		if e.EndTime != nil {
			formatted := e.EndTime.Format(time.RFC3339)
			endTime = &formatted
		}
		resp.Executions[i] = ExecutionResponse{
			ExecutionID: e.ID,
			ToolName:    e.ToolName,
			AgentName:   e.AgentName,
			Status:      string(e.Status),
			StartTime:   e.StartTime.Format(time.RFC3339),
			EndTime:     endTime,
			Progress:    e.Progress,
		}
	}
	return resp
}

// handleSessions handles /api/sessions: GET lists sessions, POST creates one.
func (g *Gateway) handleSessions(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		g.handleListSessions(w, r)
	case http.MethodPost:
		g.handleCreateSession(w, r)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// handleListSessions handles GET /api/sessions requests.
// Supports optional ?prefix=X to filter by session id prefix.
func (g *Gateway) handleListSessions(w http.ResponseWriter, r *http.Request) {
	prefix := r.URL.Query().Get("prefix")

	ids, err := g.manager.ListIDs(r.Context(), prefix)
	if err != nil {
		g.logger.Error("failed to list sessions", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	response := ListSessionsResponse{
		Sessions: make([]SessionResponse, 0, len(ids)),
	}
	for _, id := range ids {
		record, err := g.store.GetSession(r.Context(), id)
		if errors.Is(err, store.ErrNotFound) {
			// Deleted between listing and fetch
			continue
		}
		if err != nil {
			g.logger.Error("failed to read session", "session_id", id, "error", err)
			g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
			return
		}
		response.Sessions = append(response.Sessions, sessionToResponse(record))
	}
	response.Count = len(response.Sessions)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

// handleCreateSession handles POST /api/sessions requests.
// Creation is idempotent: posting an existing session id returns the stored
// record unchanged.
func (g *Gateway) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	req, err := parseCreateRequest(r.Body)
	if err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	_, record, err := g.manager.CreateOrGet(r.Context(), req.SessionID, req.Metadata)
	if err != nil {
		g.logger.Error("failed to create session", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(sessionToResponse(record))
}

// handleSessionRoutes dispatches /api/sessions/{id} and its sub-resources.
func (g *Gateway) handleSessionRoutes(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/sessions/")
	if rest == "" {
		g.sendJSONError(w, http.StatusBadRequest, "session_id is required")
		return
	}

	id, sub, _ := strings.Cut(rest, "/")
	if id == "" {
		g.sendJSONError(w, http.StatusBadRequest, "session_id is required")
		return
	}

	switch sub {
	case "":
		g.handleSession(w, r, id)
	case "execute":
		g.handleExecute(w, r, id)
	case "execute/stream":
		g.handleExecuteStream(w, r, id)
	default:
		g.sendJSONError(w, http.StatusNotFound, "unknown resource")
	}
}

// handleSession handles GET, PUT, and DELETE for /api/sessions/{id}.
func (g *Gateway) handleSession(w http.ResponseWriter, r *http.Request, id string) {
	switch r.Method {
	case http.MethodGet:
		g.handleGetSession(w, r, id)
	case http.MethodPut:
		g.handleUpdateSession(w, r, id)
	case http.MethodDelete:
		g.handleDeleteSession(w, r, id)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// handleGetSession handles GET /api/sessions/{id} requests.
func (g *Gateway) handleGetSession(w http.ResponseWriter, r *http.Request, id string) {
	coord, err := g.manager.Get(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		g.sendJSONError(w, http.StatusNotFound, "session not found")
		return
	}
	if err != nil {
		g.logger.Error("failed to get session", "session_id", id, "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(sessionToResponse(coord.Snapshot()))
}

// handleUpdateSession handles PUT /api/sessions/{id} requests.
// Only metadata is writable; coordinator-managed fields are ignored.
func (g *Gateway) handleUpdateSession(w http.ResponseWriter, r *http.Request, id string) {
	var req UpdateSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	coord, err := g.manager.Get(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		g.sendJSONError(w, http.StatusNotFound, "session not found")
		return
	}
	if err != nil {
		g.logger.Error("failed to get session", "session_id", id, "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	record, err := coord.Update(r.Context(), req.Metadata)
	if errors.Is(err, store.ErrNotFound) {
		g.sendJSONError(w, http.StatusNotFound, "session not found")
		return
	}
	if err != nil {
		g.logger.Error("failed to update session", "session_id", id, "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(sessionToResponse(record))
}

// handleDeleteSession handles DELETE /api/sessions/{id} requests.
func (g *Gateway) handleDeleteSession(w http.ResponseWriter, r *http.Request, id string) {
	err := g.manager.Delete(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		g.sendJSONError(w, http.StatusNotFound, "session not found")
		return
	}
	if err != nil {
		g.logger.Error("failed to delete session", "session_id", id, "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// handleExecute handles POST /api/sessions/{id}/execute requests.
// The execution runs asynchronously; the response carries its id and the
// events flow to the session's attached connections.
func (g *Gateway) handleExecute(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	req, err := parseExecuteRequest(r.Body)
	if err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	coord, err := g.manager.Get(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		g.sendJSONError(w, http.StatusNotFound, "session not found")
		return
	}
	if err != nil {
		g.logger.Error("failed to get session", "session_id", id, "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	executionID, err := coord.ExecuteTool(r.Context(), req.ToolName, req.AgentName, req.Parameters, req.RequestID, "")
	if errors.Is(err, store.ErrNotFound) {
		g.sendJSONError(w, http.StatusNotFound, "session not found")
		return
	}
	if err != nil {
		g.logger.Error("failed to start execution", "session_id", id, "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	response := ExecuteResponse{
		ExecutionID: executionID,
		SessionID:   id,
		RequestID:   req.RequestID,
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(response)
}

// handleExecuteStream handles POST /api/sessions/{id}/execute/stream requests.
// It starts the execution and streams its events back to the caller as SSE
// until the execution reaches a terminal event. Other connections attached to
// the session observe the same events over their own transports.
func (g *Gateway) handleExecuteStream(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	req, err := parseExecuteRequest(r.Body)
	if err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.RequestID == "" {
		req.RequestID = uuid.New().String()
	}

	coord, err := g.manager.Get(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		g.sendJSONError(w, http.StatusNotFound, "session not found")
		return
	}
	if err != nil {
		g.logger.Error("failed to get session", "session_id", id, "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	// Check streaming support before starting the execution (fail fast)
	flusher, ok := w.(http.Flusher)
	if !ok {
		g.logger.Error("streaming not supported")
		g.sendJSONError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	conn := newSSEConn()
	if _, err := coord.Attach(r.Context(), conn); err != nil {
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	defer func() {
		// Detach with a fresh context: the request context is already gone
		// when the client disconnects mid-stream.
		if err := coord.DetachConn(context.Background(), conn.ID()); err != nil {
			g.logger.Warn("detaching stream connection failed", "session_id", id, "error", err)
		}
	}()

	executionID, err := coord.ExecuteTool(r.Context(), req.ToolName, req.AgentName, req.Parameters, req.RequestID, "")
	if err != nil {
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	// Set SSE headers
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	flusher.Flush()

	g.streamExecutionEvents(r.Context(), w, flusher, conn, executionID)
}

// streamExecutionEvents drains the connection's event channel, forwarding the
// events of one execution until it completes or the client goes away.
func (g *Gateway) streamExecutionEvents(ctx context.Context, w http.ResponseWriter, flusher http.Flusher, conn *sseConn, executionID string) {
	for {
		select {
		case <-ctx.Done():
			return

		case <-conn.closed:
			return

		case ev := <-conn.events:
			if ev.ExecutionID != executionID {
				continue
			}

			g.writeSSEEvent(w, string(ev.Kind), ev)
			flusher.Flush()

			if ev.Kind == session.KindComplete || ev.Kind == session.KindError {
				return
			}
		}
	}
}

// sseConn adapts the SSE stream handler to the session connection interface.
// Send never blocks: events queue into a buffered channel the handler drains,
// and a full buffer fails the send so the session drops this connection
// instead of stalling the broadcast.
type sseConn struct {
	id     string
	events chan *session.Event
	closed chan struct{}
}

func newSSEConn() *sseConn {
	return &sseConn{
		id:     "sse-" + uuid.New().String(),
		events: make(chan *session.Event, 64),
		closed: make(chan struct{}),
	}
}

func (c *sseConn) ID() string {
	return c.id
}

func (c *sseConn) Send(event *session.Event) error {
	select {
	case <-c.closed:
		return errors.New("connection closed")
	default:
	}

	select {
	case c.events <- event:
		return nil
	default:
		return errors.New("event buffer full")
	}
}

func (c *sseConn) Close(reason string) error {
	select {
	case <-c.closed:
	default:
		close(c.closed)
	}
	return nil
}

// writeSSEEvent writes a single SSE event to the response writer.
func (g *Gateway) writeSSEEvent(w http.ResponseWriter, event string, data any) {
	dataJSON, err := json.Marshal(data)
	if err != nil {
		g.logger.Error("failed to marshal SSE data", "error", err)
		return
	}

	fmt.Fprintf(w, "event: %s\n", event)
	fmt.Fprintf(w, "data: %s\n\n", dataJSON)
}

// sendJSONError writes a JSON error response.
func (g *Gateway) sendJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// parseCreateRequest parses a CreateSessionRequest from the given reader.
// An empty body is allowed; the gateway generates the session id.
func parseCreateRequest(r io.Reader) (*CreateSessionRequest, error) {
	var req CreateSessionRequest
	if err := json.NewDecoder(r).Decode(&req); err != nil && err != io.EOF {
		return nil, errors.New("invalid JSON body")
	}
	return &req, nil
}

// parseExecuteRequest parses and validates an ExecuteRequest from the given
// reader. Returns an error if the JSON is invalid or tool_name is missing.
func parseExecuteRequest(r io.Reader) (*ExecuteRequest, error) {
	var req ExecuteRequest
	if err := json.NewDecoder(r).Decode(&req); err != nil {
		return nil, errors.New("invalid JSON body")
	}

	if req.ToolName == "" {
		return nil, errors.New("tool_name is required")
	}

	return &req, nil
}
