// Package store provides persistent storage for session records using SQLite.
//
// The Store interface is a per-key-atomic key-value contract: GetSession,
// PutSession, DeleteSession, and ListSessionIDs. No cross-key transactions
// are offered or needed; the session coordinator serializes all mutations to
// one session before they reach the store.
//
// # Data Models
//
//   - Session: one client session with status, timestamps, connection count,
//     and its ordered execution history
//   - Execution: one tool invocation (running, completed, or failed)
//
// Live realtime connections are never persisted; a restarted gateway rebuilds
// connection counts from zero.
//
// # SQLite Configuration
//
// The store uses SQLite with WAL mode for concurrent reads:
//
//	PRAGMA journal_mode=WAL;
//
// Executions and metadata are stored as JSON columns; scalar fields used by
// the expiry sweeper (last_activity_at, connection_count) are real columns.
//
// # Error Handling
//
//   - ErrNotFound: requested session does not exist
//   - ErrStorageUnavailable: backend read/write failed; callers must treat
//     the operation as having unknown persisted effect
//
// # Testing
//
// Use NewMockStore() for unit tests; it also supports failure injection via
// SetFailing. Use NewSQLiteStore(":memory:") for integration tests with real
// SQLite.
package store
