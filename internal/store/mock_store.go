// ABOUTME: Mock Store implementation for testing
// ABOUTME: Allows tests to run without SQLite and to inject storage failures

package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// MockStore is an in-memory Store implementation for testing.
type MockStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	// failing simulates an unavailable backend: every operation returns
	// ErrStorageUnavailable while set.
	failing bool
}

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		sessions: make(map[string]*Session),
	}
}

// SetFailing toggles simulated backend failure.
func (m *MockStore) SetFailing(failing bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failing = failing
}

// GetSession retrieves a session record by ID.
func (m *MockStore) GetSession(ctx context.Context, id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.failing {
		return nil, fmt.Errorf("%w: mock failure", ErrStorageUnavailable)
	}

	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return s.Clone(), nil
}

// PutSession stores a copy of the session record.
func (m *MockStore) PutSession(ctx context.Context, session *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failing {
		return fmt.Errorf("%w: mock failure", ErrStorageUnavailable)
	}

	m.sessions[session.ID] = session.Clone()
	return nil
}

// DeleteSession removes a session record by ID.
func (m *MockStore) DeleteSession(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failing {
		return fmt.Errorf("%w: mock failure", ErrStorageUnavailable)
	}

	if _, ok := m.sessions[id]; !ok {
		return ErrNotFound
	}
	delete(m.sessions, id)
	return nil
}

// ListSessionIDs returns sorted session ids matching the prefix.
func (m *MockStore) ListSessionIDs(ctx context.Context, prefix string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.failing {
		return nil, fmt.Errorf("%w: mock failure", ErrStorageUnavailable)
	}

	var ids []string
	for id := range m.sessions {
		if strings.HasPrefix(id, prefix) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// Close is a no-op for the mock store.
func (m *MockStore) Close() error {
	return nil
}
