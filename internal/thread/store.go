// Package thread provides durable conversation state storage. A thread
// is an identified, append-only, ordered sequence of messages; the
// message order is the sole source of truth for conversation state.
package thread

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/andmartins7/docket/internal/llm"
)

// Message is a single entry in a thread.
type Message struct {
	ID         uuid.UUID      `json:"id"`
	Role       string         `json:"role"` // system, user, assistant, tool
	Content    string         `json:"content"`
	ToolCalls  []llm.ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
}

// New creates a message with a fresh time-ordered id.
func New(role, content string) Message {
	id, _ := uuid.NewV7()
	return Message{
		ID:        id,
		Role:      role,
		Content:   content,
		Timestamp: time.Now().UTC(),
	}
}

// Store persists threads in SQLite.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the thread database at dbPath.
func Open(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS threads (
		id TEXT PRIMARY KEY,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		thread_id TEXT NOT NULL,
		seq INTEGER NOT NULL,
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		tool_calls TEXT,
		tool_call_id TEXT,
		timestamp TIMESTAMP NOT NULL,
		FOREIGN KEY (thread_id) REFERENCES threads(id) ON DELETE CASCADE
	);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_messages_thread_seq ON messages(thread_id, seq);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Messages returns the full ordered history of a thread. An unknown
// thread id yields an empty history, not an error: threads are created
// on first append.
func (s *Store) Messages(ctx context.Context, threadID string) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, role, content, tool_calls, tool_call_id, timestamp
		FROM messages
		WHERE thread_id = ?
		ORDER BY seq
	`, threadID)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var messages []Message
	for rows.Next() {
		var m Message
		var idStr string
		var toolCalls, toolCallID sql.NullString
		if err := rows.Scan(&idStr, &m.Role, &m.Content, &toolCalls, &toolCallID, &m.Timestamp); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.ID, _ = uuid.Parse(idStr)
		if toolCalls.Valid && toolCalls.String != "" {
			if err := json.Unmarshal([]byte(toolCalls.String), &m.ToolCalls); err != nil {
				return nil, fmt.Errorf("unmarshal tool calls: %w", err)
			}
		}
		m.ToolCallID = toolCallID.String
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

// AppendTurn atomically appends all of a turn's messages to a thread,
// creating the thread on first use. Either every message of the turn
// is persisted or none is: a crash can never leave a tool call in the
// store without its matching result.
func (s *Store) AppendTurn(ctx context.Context, threadID string, msgs []Message) error {
	if len(msgs) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO threads (id, created_at, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET updated_at = excluded.updated_at
	`, threadID, now, now); err != nil {
		return fmt.Errorf("upsert thread: %w", err)
	}

	var seq int
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), 0) FROM messages WHERE thread_id = ?`, threadID,
	).Scan(&seq); err != nil {
		return fmt.Errorf("read sequence: %w", err)
	}

	for _, m := range msgs {
		seq++

		var toolCalls any
		if len(m.ToolCalls) > 0 {
			data, err := json.Marshal(m.ToolCalls)
			if err != nil {
				return fmt.Errorf("marshal tool calls: %w", err)
			}
			toolCalls = string(data)
		}

		id := m.ID
		if id == uuid.Nil {
			id, err = uuid.NewV7()
			if err != nil {
				return fmt.Errorf("generate id: %w", err)
			}
		}

		ts := m.Timestamp
		if ts.IsZero() {
			ts = now
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO messages (id, thread_id, seq, role, content, tool_calls, tool_call_id, timestamp)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`, id.String(), threadID, seq, m.Role, m.Content, toolCalls, nullable(m.ToolCallID), ts); err != nil {
			return fmt.Errorf("insert message: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit turn: %w", err)
	}
	return nil
}

// Threads lists known thread ids, most recently updated first.
func (s *Store) Threads(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id FROM threads ORDER BY updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("query threads: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
