package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "modernc.org/sqlite"

	"github.com/Mateus-rgb/Lim-Code-sub001/internal/chat"
)

// SQLite persists conversations across runs. It is a write-through layer
// over an in-memory cache, so History keeps live-reference semantics.
type SQLite struct {
	db *sql.DB

	mu     sync.Mutex
	loaded map[string][]chat.Content
}

const schema = `
CREATE TABLE IF NOT EXISTS conversations (
    id TEXT PRIMARY KEY,
    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS messages (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    conversation_id TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
    sequence INTEGER NOT NULL,
    role TEXT NOT NULL CHECK (role IN ('user', 'model')),
    content TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id, sequence);
`

// DefaultDBPath returns the sessions database location under XDG data.
func DefaultDBPath() (string, error) {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "limcode", "conversations.db"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home directory: %w", err)
	}
	return filepath.Join(home, ".local", "share", "limcode", "conversations.db"), nil
}

// NewSQLite opens (creating if needed) the conversations database at path.
func NewSQLite(path string) (*SQLite, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}
	db, err := sql.Open("sqlite", path+"?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return &SQLite{db: db, loaded: make(map[string][]chat.Content)}, nil
}

func (s *SQLite) Create(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.loaded[id]; ok {
		return chat.NewError(chat.ErrInvalidState, "conversation %s already exists", id)
	}
	if _, err := s.db.Exec(`INSERT INTO conversations (id) VALUES (?)`, id); err != nil {
		return fmt.Errorf("create conversation: %w", err)
	}
	s.loaded[id] = []chat.Content{}
	return nil
}

// load pulls a conversation into the cache. Caller holds the lock.
func (s *SQLite) load(id string) ([]chat.Content, error) {
	if history, ok := s.loaded[id]; ok {
		return history, nil
	}

	var exists int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM conversations WHERE id = ?`, id).Scan(&exists)
	if err != nil {
		return nil, fmt.Errorf("query conversation: %w", err)
	}
	if exists == 0 {
		return nil, chat.NewError(chat.ErrNoHistory, "no history for conversation %s", id)
	}

	rows, err := s.db.Query(`SELECT content FROM messages WHERE conversation_id = ? ORDER BY sequence`, id)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	history := []chat.Content{}
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		var c chat.Content
		if err := json.Unmarshal([]byte(raw), &c); err != nil {
			return nil, fmt.Errorf("decode message: %w", err)
		}
		history = append(history, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}

	s.loaded[id] = history
	return history, nil
}

func (s *SQLite) History(id string) ([]chat.Content, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load(id)
}

func (s *SQLite) Append(id string, c chat.Content) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	history, err := s.load(id)
	if err != nil {
		return 0, err
	}

	raw, err := json.Marshal(c)
	if err != nil {
		return 0, fmt.Errorf("encode message: %w", err)
	}
	seq := len(history)
	_, err = s.db.Exec(
		`INSERT INTO messages (conversation_id, sequence, role, content) VALUES (?, ?, ?, ?)`,
		id, seq, string(c.Role), string(raw),
	)
	if err != nil {
		return 0, fmt.Errorf("insert message: %w", err)
	}
	s.touch(id)
	s.loaded[id] = append(history, c)
	return seq, nil
}

func (s *SQLite) Update(id string, index int, c chat.Content) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	history, err := s.load(id)
	if err != nil {
		return err
	}
	if index < 0 || index >= len(history) {
		return chat.NewError(chat.ErrMessageNotFound, "message %d not found in conversation %s", index, id)
	}

	raw, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}
	_, err = s.db.Exec(
		`UPDATE messages SET role = ?, content = ? WHERE conversation_id = ? AND sequence = ?`,
		string(c.Role), string(raw), id, index,
	)
	if err != nil {
		return fmt.Errorf("update message: %w", err)
	}
	s.touch(id)
	history[index] = c
	return nil
}

func (s *SQLite) TruncateFrom(id string, index int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	history, err := s.load(id)
	if err != nil {
		return err
	}
	if index < 0 || index > len(history) {
		return chat.NewError(chat.ErrMessageNotFound, "message %d not found in conversation %s", index, id)
	}

	_, err = s.db.Exec(
		`DELETE FROM messages WHERE conversation_id = ? AND sequence >= ?`,
		id, index,
	)
	if err != nil {
		return fmt.Errorf("delete messages: %w", err)
	}
	s.touch(id)
	s.loaded[id] = history[:index]
	return nil
}

func (s *SQLite) HistoryForAPI(id string, opts APIOptions) ([]chat.Content, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	history, err := s.load(id)
	if err != nil {
		return nil, err
	}
	return ProjectForAPI(history, opts), nil
}

func (s *SQLite) touch(id string) {
	_, _ = s.db.Exec(`UPDATE conversations SET updated_at = CURRENT_TIMESTAMP WHERE id = ?`, id)
}

func (s *SQLite) Close() error {
	return s.db.Close()
}
