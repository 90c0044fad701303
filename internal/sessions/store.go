// Package sessions persists conversation transcripts in a SQLite database,
// keyed by the request's message log name.
package sessions

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // Pure-Go SQLite driver

	"github.com/magpie-ai/magpie/internal/agent"
)

// Store is a transcript store backed by SQLite. It satisfies
// agent.Transcript; progress messages are never written.
type Store struct {
	db *sql.DB
}

// Open creates or opens the transcript database at path. ":memory:" gives an
// ephemeral store for tests.
func Open(path string) (*Store, error) {
	if path == "" {
		path = ":memory:"
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open transcript database: %w", err)
	}
	// A single connection avoids SQLITE_BUSY on concurrent transcript writes.
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) init() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			log_name TEXT NOT NULL,
			seq INTEGER NOT NULL,
			role TEXT NOT NULL,
			payload TEXT NOT NULL,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create messages table: %w", err)
	}
	indexes := []string{
		"CREATE INDEX IF NOT EXISTS idx_messages_log ON messages(log_name, seq)",
		"CREATE INDEX IF NOT EXISTS idx_messages_created ON messages(created_at)",
	}
	for _, idx := range indexes {
		if _, err := s.db.Exec(idx); err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
	}
	return nil
}

// Record appends one message to the named log. Progress messages are
// silently skipped.
func (s *Store) Record(ctx context.Context, logName string, msg agent.Message) error {
	var role string
	var payload any
	switch m := msg.(type) {
	case *agent.UserMessage:
		role, payload = "user", m
	case *agent.AssistantMessage:
		role, payload = "assistant", m
	default:
		return nil
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode message: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO messages (id, log_name, seq, role, payload, created_at)
		VALUES (?, ?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM messages WHERE log_name = ?), ?, ?, ?)
	`, uuid.New().String(), logName, logName, role, string(raw), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to record message: %w", err)
	}
	return nil
}

// Messages returns the named log's messages in append order.
func (s *Store) Messages(ctx context.Context, logName string) ([]agent.Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT role, payload FROM messages WHERE log_name = ? ORDER BY seq
	`, logName)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	var out []agent.Message
	for rows.Next() {
		var role, payload string
		if err := rows.Scan(&role, &payload); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		msg, err := decodeMessage(role, payload)
		if err != nil {
			return nil, err
		}
		out = append(out, msg)
	}
	return out, rows.Err()
}

func decodeMessage(role, payload string) (agent.Message, error) {
	switch role {
	case "user":
		var m agent.UserMessage
		if err := json.Unmarshal([]byte(payload), &m); err != nil {
			return nil, fmt.Errorf("failed to decode user message: %w", err)
		}
		return &m, nil
	case "assistant":
		var m agent.AssistantMessage
		if err := json.Unmarshal([]byte(payload), &m); err != nil {
			return nil, fmt.Errorf("failed to decode assistant message: %w", err)
		}
		return &m, nil
	default:
		return nil, fmt.Errorf("unknown message role %q", role)
	}
}

// LogNames lists the stored logs, most recently written first.
func (s *Store) LogNames(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT log_name FROM messages GROUP BY log_name ORDER BY MAX(created_at) DESC, log_name
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query logs: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan log name: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// Prune deletes logs whose newest message is older than the cutoff.
func (s *Store) Prune(ctx context.Context, cutoff time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM messages WHERE log_name IN (
			SELECT log_name FROM messages GROUP BY log_name HAVING MAX(created_at) < ?
		)
	`, cutoff.UTC())
	if err != nil {
		return fmt.Errorf("failed to prune logs: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}
