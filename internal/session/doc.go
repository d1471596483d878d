// Package session implements the session-and-streaming core of the gateway.
//
// A Coordinator owns one session: its persisted record, its ordered
// Execution history (Tracker), and its live realtime connections
// (Multiplexer). Every mutation of one session is serialized under the
// coordinator's lock; different sessions share nothing and proceed in
// parallel.
//
// Tool executions are driven by a Relay per execution: it consumes the
// external executor's chunked feed, applies progress to the tracker, and
// broadcasts every event to all attached connections tagged with the
// execution and correlation ids. Executions run to completion even when the
// last connection detaches; their results stay queryable on the session
// record.
//
// The Manager maps session ids to coordinators and materializes them from
// the store on demand. The Sweeper reclaims sessions that are both
// connection-less and idle past a threshold; it exposes a stateless
// SweepOnce so the caller owns the schedule.
package session
