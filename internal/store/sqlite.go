// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Persists session records with automatic schema creation and WAL mode

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	// Ensure parent directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			status TEXT NOT NULL,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL,
			last_activity_at DATETIME NOT NULL,
			connection_count INTEGER NOT NULL DEFAULT 0,
			executions TEXT NOT NULL DEFAULT '[]',
			metadata TEXT NOT NULL DEFAULT '{}'
		);

		CREATE INDEX IF NOT EXISTS idx_sessions_last_activity
			ON sessions(last_activity_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// GetSession retrieves a session record by ID.
func (s *SQLiteStore) GetSession(ctx context.Context, id string) (*Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, status, created_at, updated_at, last_activity_at,
		       connection_count, executions, metadata
		FROM sessions WHERE id = ?`, id)

	var session Session
	var executionsJSON, metadataJSON string
	err := row.Scan(
		&session.ID,
		&session.Status,
		&session.CreatedAt,
		&session.UpdatedAt,
		&session.LastActivityAt,
		&session.ConnectionCount,
		&executionsJSON,
		&metadataJSON,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: reading session: %v", ErrStorageUnavailable, err)
	}

	if err := json.Unmarshal([]byte(executionsJSON), &session.Executions); err != nil {
		return nil, fmt.Errorf("%w: decoding executions for %s: %v", ErrStorageUnavailable, id, err)
	}
	if err := json.Unmarshal([]byte(metadataJSON), &session.Metadata); err != nil {
		return nil, fmt.Errorf("%w: decoding metadata for %s: %v", ErrStorageUnavailable, id, err)
	}

	return &session, nil
}

// PutSession writes a session record, replacing any existing row for its ID.
func (s *SQLiteStore) PutSession(ctx context.Context, session *Session) error {
	executions := session.Executions
	if executions == nil {
		executions = []Execution{}
	}
	executionsJSON, err := json.Marshal(executions)
	if err != nil {
		return fmt.Errorf("encoding executions: %w", err)
	}

	metadata := session.Metadata
	if metadata == nil {
		metadata = map[string]string{}
	}
	metadataJSON, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("encoding metadata: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, status, created_at, updated_at, last_activity_at,
		                      connection_count, executions, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			updated_at = excluded.updated_at,
			last_activity_at = excluded.last_activity_at,
			connection_count = excluded.connection_count,
			executions = excluded.executions,
			metadata = excluded.metadata`,
		session.ID,
		session.Status,
		session.CreatedAt.UTC(),
		session.UpdatedAt.UTC(),
		session.LastActivityAt.UTC(),
		session.ConnectionCount,
		string(executionsJSON),
		string(metadataJSON),
	)
	if err != nil {
		return fmt.Errorf("%w: writing session %s: %v", ErrStorageUnavailable, session.ID, err)
	}
	return nil
}

// DeleteSession removes a session record by ID.
func (s *SQLiteStore) DeleteSession(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM sessions WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("%w: deleting session %s: %v", ErrStorageUnavailable, id, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: deleting session %s: %v", ErrStorageUnavailable, id, err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// ListSessionIDs returns session ids matching the prefix, oldest activity first.
func (s *SQLiteStore) ListSessionIDs(ctx context.Context, prefix string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id FROM sessions
		WHERE id LIKE ? ESCAPE '\'
		ORDER BY last_activity_at ASC`, escapeLike(prefix)+"%")
	if err != nil {
		return nil, fmt.Errorf("%w: listing sessions: %v", ErrStorageUnavailable, err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("%w: listing sessions: %v", ErrStorageUnavailable, err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: listing sessions: %v", ErrStorageUnavailable, err)
	}
	return ids, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// escapeLike escapes LIKE wildcards so prefixes containing % or _ match literally.
func escapeLike(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '%', '_', '\\':
			out = append(out, '\\')
		}
		out = append(out, s[i])
	}
	return string(out)
}
