// ABOUTME: Stream relay consuming one execution's feed and fanning events out
// ABOUTME: Decodes chunks with a raw-forward fallback so no bytes are silently dropped

package session

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/attck-nexus/nexus-gateway/internal/executor"
)

// ExecutionSink receives execution state transitions from a relay.
// The Coordinator implements it; tests substitute fakes.
type ExecutionSink interface {
	ExecutionProgress(executionID string, progress int)
	ExecutionFinished(executionID, correlationID string, success bool, reason string)
}

// Broadcaster fans one event out to every connection attached to a session.
// The Coordinator implements it; tests substitute fakes.
type Broadcaster interface {
	Broadcast(event *Event)
}

// Relay consumes the executor's event feed for one execution and republishes
// every event to the session's connections, driving tracker progress along
// the way. One relay serves exactly one execution (single producer), so
// events reach each connection in production order.
type Relay struct {
	executionID   string
	correlationID string
	feed          executor.Feed
	sink          ExecutionSink
	broadcaster   Broadcaster
	logger        *slog.Logger
}

// NewRelay wires a relay for one execution. Pass nil logger for default.
func NewRelay(executionID, correlationID string, feed executor.Feed, sink ExecutionSink, broadcaster Broadcaster, logger *slog.Logger) *Relay {
	if logger == nil {
		logger = slog.Default()
	}
	return &Relay{
		executionID:   executionID,
		correlationID: correlationID,
		feed:          feed,
		sink:          sink,
		broadcaster:   broadcaster,
		logger:        logger.With("component", "relay", "execution_id", executionID),
	}
}

// Run drains the feed until end-of-stream or failure. Clean end-of-stream
// completes the execution successfully; a feed error fails it. The relay
// never retries the executor call: a fresh ExecuteTool is the retry.
func (r *Relay) Run() {
	defer r.feed.Close()

	for {
		chunk, err := r.feed.Next()
		if errors.Is(err, io.EOF) {
			r.sink.ExecutionFinished(r.executionID, r.correlationID, true, "")
			return
		}
		if err != nil {
			r.logger.Warn("executor feed failed", "error", err)
			r.sink.ExecutionFinished(r.executionID, r.correlationID, false, err.Error())
			return
		}

		event := r.decodeChunk(chunk)
		if event.Kind == KindProgress && event.Progress != nil {
			r.sink.ExecutionProgress(r.executionID, *event.Progress)
		}

		event.ExecutionID = r.executionID
		event.CorrelationID = r.correlationID
		if event.Timestamp.IsZero() {
			event.Timestamp = time.Now().UTC()
		}
		r.broadcaster.Broadcast(event)
	}
}

// decodeChunk parses a chunk into an event. Undecodable chunks are forwarded
// as raw data events rather than dropped, so clients always see every byte
// the executor produced.
func (r *Relay) decodeChunk(chunk []byte) *Event {
	var event Event
	if err := json.Unmarshal(chunk, &event); err == nil && event.Kind != "" {
		return &event
	}

	r.logger.Debug("forwarding undecodable chunk as raw data", "bytes", len(chunk))
	return newEvent(KindData, map[string]any{"raw": string(chunk)})
}
