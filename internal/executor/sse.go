// ABOUTME: HTTP client for the backend's SSE streaming execute endpoint
// ABOUTME: Opens POST /execute/stream and yields each data: chunk in arrival order

package executor

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// maxChunkSize bounds a single SSE line; backend chunks are small JSON
// objects, so 1 MiB leaves generous headroom.
const maxChunkSize = 1 << 20

// HTTPExecutor talks to the tool backend over HTTP with an SSE response
// stream. The response body is consumed line by line; every data: line is
// one chunk.
type HTTPExecutor struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewHTTPExecutor creates an executor client for the given base URL.
// token, when non-empty, is sent as a bearer token. connectTimeout bounds
// dialing and response headers only, never the stream itself, which stays
// open for the lifetime of the execution.
func NewHTTPExecutor(baseURL, token string, connectTimeout time.Duration) *HTTPExecutor {
	transport := http.DefaultTransport
	if connectTimeout > 0 {
		transport = &http.Transport{
			ResponseHeaderTimeout: connectTimeout,
		}
	}
	return &HTTPExecutor{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  &http.Client{Transport: transport},
	}
}

// Open starts a streaming execution call.
func (e *HTTPExecutor) Open(ctx context.Context, req Request) (Feed, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encoding request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		e.baseURL+"/execute/stream", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	if e.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+e.token)
	}

	resp, err := e.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("calling executor: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		// Try to surface a JSON error body before falling back to the status
		if strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
			var errResp map[string]string
			if err := json.NewDecoder(resp.Body).Decode(&errResp); err == nil {
				if msg, ok := errResp["error"]; ok {
					return nil, fmt.Errorf("executor rejected request: %s", msg)
				}
			}
		}
		return nil, fmt.Errorf("executor returned status %d", resp.StatusCode)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 4096), maxChunkSize)

	return &sseFeed{body: resp.Body, scanner: scanner}, nil
}

// sseFeed reads data: lines off an SSE response body.
type sseFeed struct {
	body    io.ReadCloser
	scanner *bufio.Scanner

	// dataLines accumulates the data lines of the event being parsed;
	// an SSE event may split its payload across several data: lines.
	dataLines []string
}

// Next returns the payload of the next SSE event. Lines other than data:
// (event names, comments, retry hints) are skipped; a blank line terminates
// the pending event.
func (f *sseFeed) Next() ([]byte, error) {
	for f.scanner.Scan() {
		line := f.scanner.Text()

		// Blank line ends the in-flight event
		if line == "" {
			if len(f.dataLines) > 0 {
				data := strings.Join(f.dataLines, "\n")
				f.dataLines = nil
				return []byte(data), nil
			}
			continue
		}

		if strings.HasPrefix(line, "data:") {
			f.dataLines = append(f.dataLines, strings.TrimSpace(strings.TrimPrefix(line, "data:")))
			continue
		}
		// event:, id:, retry:, and comment lines carry no chunk payload
	}

	if err := f.scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading executor stream: %w", err)
	}

	// Stream ended cleanly; flush a trailing unterminated event if present
	if len(f.dataLines) > 0 {
		data := strings.Join(f.dataLines, "\n")
		f.dataLines = nil
		return []byte(data), nil
	}
	return nil, io.EOF
}

// Close releases the underlying response body.
func (f *sseFeed) Close() error {
	return f.body.Close()
}
