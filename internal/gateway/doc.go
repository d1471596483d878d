// Package gateway orchestrates the nexus-gateway server components.
//
// # Overview
//
// The gateway package is the central coordinator of the nexus-gateway server.
// It owns and manages the major components: HTTP server, session manager,
// expiry sweeper, tool executor client, and data store.
//
// # Gateway Struct
//
// The Gateway struct is the main entry point:
//
//	type Gateway struct {
//	    config     *config.Config
//	    store      store.Store
//	    manager    *session.Manager
//	    sweeper    *session.Sweeper
//	    httpServer *http.Server
//	    // ... and more
//	}
//
// # HTTP API
//
// The gateway exposes HTTP endpoints in api.go:
//
//   - GET /api/sessions - List sessions (optional ?prefix=X filter)
//   - POST /api/sessions - Create a session (idempotent)
//   - GET /api/sessions/{id} - Fetch one session record
//   - PUT /api/sessions/{id} - Merge caller metadata into a session
//   - DELETE /api/sessions/{id} - Delete a session and close its connections
//   - POST /api/sessions/{id}/execute - Start a tool execution (202 Accepted)
//   - POST /api/sessions/{id}/execute/stream - Start an execution and stream its events as SSE
//   - GET /health - Liveness check
//   - GET /health/ready - Readiness check
//
// # WebSocket Endpoint
//
// Realtime clients attach via GET /ws/{session_id} (ws.go). Every event the
// session produces is fanned out to all attached connections. Clients send
// JSON messages:
//
//	{"type": "ping"}
//	{"type": "tool_execution", "tool_name": "scan", "agent": "bug_hunter", "parameters": {...}, "request_id": "req-1"}
//	{"type": "session_status", "request_id": "req-2"}
//
// Malformed messages produce an error event on that connection but never
// close it.
//
// # SSE Streaming
//
// Execution events stream as Server-Sent Events:
//
//	event: progress
//	data: {"type": "progress", "progress": 50, "execution_id": "..."}
//
//	event: complete
//	data: {"type": "complete", "data": {"status": "completed"}, "execution_id": "..."}
//
// Event types: progress, data, error, complete, connection, ping, pong.
//
// # Lifecycle
//
// Start the gateway:
//
//	gw, err := gateway.New(cfg, logger)
//	ctx, cancel := context.WithCancel(context.Background())
//	go gw.Run(ctx)
//
// Graceful shutdown:
//
//	cancel()
//	gw.Shutdown(shutdownCtx)
//
// Run also owns the sweep schedule: the session sweeper fires every
// sessions.sweep_interval and reclaims idle, connection-less sessions.
//
// # Key Files
//
//   - gateway.go: Gateway struct, initialization, Run/Shutdown, sweep loop
//   - api.go: HTTP handlers and SSE streaming
//   - ws.go: WebSocket transport and per-connection write pump
package gateway
