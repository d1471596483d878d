// ABOUTME: Contract for the external tool-execution backend
// ABOUTME: Defines the streaming request shape and the chunked event feed

package executor

import (
	"context"
)

// Request describes one tool invocation. ToolName and AgentName are opaque
// to the gateway; they are interpreted only by the backend.
type Request struct {
	ToolName   string         `json:"tool_name"`
	AgentName  string         `json:"agent"`
	Parameters map[string]any `json:"parameters,omitempty"`
	RequestID  string         `json:"request_id,omitempty"`
}

// Feed is an ordered stream of raw event chunks from one execution.
// Next returns io.EOF on clean end-of-stream; any other error is a transport
// failure terminating the execution. Chunks are raw bytes: decoding (and the
// raw-forward fallback for undecodable chunks) is the relay's concern.
type Feed interface {
	Next() ([]byte, error)
	Close() error
}

// Executor opens a streaming call to the external tool backend. A failed
// open or a mid-stream error is terminal for that execution; the gateway
// never retries on the caller's behalf.
type Executor interface {
	Open(ctx context.Context, req Request) (Feed, error)
}
