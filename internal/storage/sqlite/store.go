// Package sqlite is the durable Store used by the server.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/cmskit/assistant-engine/internal/storage"
)

// Store is a SQLite implementation of storage.Store.
type Store struct {
	db *sql.DB
}

var _ storage.Store = (*Store)(nil)

const assistantIDKey = "assistant_id"

// New opens (or creates) the database at dbPath.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL; PRAGMA synchronous=NORMAL;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	store := &Store{db: db}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return store, nil
}

func (s *Store) initSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS settings (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS user_threads (
			user_key TEXT PRIMARY KEY,
			thread_id TEXT NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_user_threads_updated ON user_threads(updated_at)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to execute schema statement: %w", err)
		}
	}
	return nil
}

func (s *Store) AssistantID(ctx context.Context) (string, error) {
	var id string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM settings WHERE key = ?`, assistantIDKey).Scan(&id)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read assistant id: %w", err)
	}
	return id, nil
}

func (s *Store) SetAssistantID(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `
	INSERT INTO settings (key, value, updated_at)
	VALUES (?, ?, CURRENT_TIMESTAMP)
	ON CONFLICT(key) DO UPDATE SET value=excluded.value, updated_at=CURRENT_TIMESTAMP;
	`, assistantIDKey, id)
	if err != nil {
		return fmt.Errorf("failed to store assistant id: %w", err)
	}
	return nil
}

func (s *Store) ThreadID(ctx context.Context, user string) (string, error) {
	if user == "" {
		return "", nil
	}
	var id string
	err := s.db.QueryRowContext(ctx,
		`SELECT thread_id FROM user_threads WHERE user_key = ?`, user).Scan(&id)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read thread id: %w", err)
	}
	return id, nil
}

func (s *Store) SetThreadID(ctx context.Context, user, threadID string) error {
	if user == "" || threadID == "" {
		return nil
	}
	_, err := s.db.ExecContext(ctx, `
	INSERT INTO user_threads (user_key, thread_id, updated_at)
	VALUES (?, ?, CURRENT_TIMESTAMP)
	ON CONFLICT(user_key) DO UPDATE SET thread_id=excluded.thread_id, updated_at=CURRENT_TIMESTAMP;
	`, user, threadID)
	if err != nil {
		return fmt.Errorf("failed to store thread id: %w", err)
	}
	return nil
}

func (s *Store) DeleteThreadID(ctx context.Context, user string) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM user_threads WHERE user_key = ?`, user); err != nil {
		return fmt.Errorf("failed to delete thread id: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}
