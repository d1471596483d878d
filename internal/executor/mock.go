// ABOUTME: Scripted Executor implementation for testing
// ABOUTME: Replays predefined chunks and failures without a real backend

package executor

import (
	"context"
	"io"
	"sync"
)

// MockExecutor replays a scripted feed for every Open call. Safe for
// concurrent use; each Open returns an independent feed over the same script.
type MockExecutor struct {
	mu sync.Mutex

	// Chunks are returned in order by each feed's Next.
	Chunks [][]byte

	// Err, when set, terminates the feed after Chunks instead of io.EOF,
	// simulating a mid-stream transport failure.
	Err error

	// OpenErr, when set, fails the Open call itself.
	OpenErr error

	// Requests records every request passed to Open.
	Requests []Request
}

// Open records the request and returns a feed over the scripted chunks.
func (m *MockExecutor) Open(ctx context.Context, req Request) (Feed, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Requests = append(m.Requests, req)
	if m.OpenErr != nil {
		return nil, m.OpenErr
	}

	chunks := make([][]byte, len(m.Chunks))
	copy(chunks, m.Chunks)
	return &scriptFeed{chunks: chunks, err: m.Err}, nil
}

// OpenedRequests returns a copy of the requests seen so far.
func (m *MockExecutor) OpenedRequests() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Request, len(m.Requests))
	copy(out, m.Requests)
	return out
}

type scriptFeed struct {
	chunks [][]byte
	pos    int
	err    error
}

func (f *scriptFeed) Next() ([]byte, error) {
	if f.pos < len(f.chunks) {
		chunk := f.chunks[f.pos]
		f.pos++
		return chunk, nil
	}
	if f.err != nil {
		return nil, f.err
	}
	return nil, io.EOF
}

func (f *scriptFeed) Close() error {
	return nil
}
