// Package sqlite provides the local persistence layer: sessions, messages,
// connection and provider descriptors, external server configs, and the
// audit trail of confirmed mutations.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/dbpilot/dbpilot/domain/chat"
)

// Store errors.
var (
	// ErrNotFound is returned when a requested row does not exist.
	ErrNotFound = errors.New("not found")
)

// Config configures the store.
type Config struct {
	// Path is the database file. ":memory:" works for tests.
	Path string

	// EncryptionKey protects credentials at rest. Required when saving
	// connections or providers with secrets.
	EncryptionKey string

	// BusyTimeout is the SQLite busy timeout.
	BusyTimeout time.Duration
}

// Store is the SQLite-backed persistence layer. It implements chat.Store.
type Store struct {
	db  *sql.DB
	box *cipherBox
}

// Session is a persisted chat session.
type Session struct {
	ID           int64
	Title        string
	ConnectionID int64
	ProviderID   int64
	AutoApprove  bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Open opens the database, applying migrations.
func Open(cfg Config) (*Store, error) {
	if cfg.Path == "" {
		return nil, errors.New("store path is empty")
	}
	if cfg.BusyTimeout <= 0 {
		cfg.BusyTimeout = 5 * time.Second
	}
	if cfg.Path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o700); err != nil {
			return nil, fmt.Errorf("create store directory: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_busy_timeout=%d&_journal_mode=WAL&_foreign_keys=on",
		cfg.Path, cfg.BusyTimeout.Milliseconds())
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// SQLite handles one writer at a time.
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if cfg.EncryptionKey != "" {
		box, err := newCipherBox(cfg.EncryptionKey)
		if err != nil {
			_ = db.Close()
			return nil, err
		}
		s.box = box
	}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	title TEXT NOT NULL DEFAULT '',
	connection_id INTEGER NOT NULL DEFAULT 0,
	provider_id INTEGER NOT NULL DEFAULT 0,
	auto_approve INTEGER NOT NULL DEFAULT 0,
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS messages (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id INTEGER NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
	role TEXT NOT NULL,
	content TEXT NOT NULL DEFAULT '',
	tool_calls TEXT NOT NULL DEFAULT '',
	tool_call_id TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id);

CREATE TABLE IF NOT EXISTS connections (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL UNIQUE,
	driver TEXT NOT NULL,
	host TEXT NOT NULL DEFAULT '',
	port INTEGER NOT NULL DEFAULT 0,
	dbname TEXT NOT NULL,
	username TEXT NOT NULL DEFAULT '',
	password_enc TEXT NOT NULL DEFAULT '',
	ssl_mode TEXT NOT NULL DEFAULT '',
	active INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS providers (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL UNIQUE,
	type TEXT NOT NULL,
	api_key_enc TEXT NOT NULL DEFAULT '',
	base_url TEXT NOT NULL DEFAULT '',
	model TEXT NOT NULL DEFAULT '',
	is_default INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS etp_servers (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL UNIQUE,
	command TEXT NOT NULL,
	args TEXT NOT NULL DEFAULT '',
	env TEXT NOT NULL DEFAULT '',
	enabled INTEGER NOT NULL DEFAULT 1
);

CREATE TABLE IF NOT EXISTS preferences (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS audit_log (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id INTEGER NOT NULL DEFAULT 0,
	tool TEXT NOT NULL,
	statement TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL,
	detail TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

// isUniqueViolation reports whether the error is a UNIQUE constraint failure.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// CreateSession inserts a new session and returns its ID.
func (s *Store) CreateSession(ctx context.Context, title string, connectionID, providerID int64) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (title, connection_id, provider_id) VALUES (?, ?, ?)`,
		title, connectionID, providerID)
	if err != nil {
		return 0, fmt.Errorf("create session: %w", err)
	}
	return res.LastInsertId()
}

// GetSession loads a session by ID.
func (s *Store) GetSession(ctx context.Context, id int64) (Session, error) {
	var sess Session
	var autoApprove int
	err := s.db.QueryRowContext(ctx,
		`SELECT id, title, connection_id, provider_id, auto_approve, created_at, updated_at
		 FROM sessions WHERE id = ?`, id).
		Scan(&sess.ID, &sess.Title, &sess.ConnectionID, &sess.ProviderID, &autoApprove,
			&sess.CreatedAt, &sess.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, fmt.Errorf("%w: session %d", ErrNotFound, id)
	}
	if err != nil {
		return Session{}, fmt.Errorf("get session: %w", err)
	}
	sess.AutoApprove = autoApprove != 0
	return sess, nil
}

// SetSessionAutoApprove persists the auto-approve flag.
func (s *Store) SetSessionAutoApprove(ctx context.Context, id int64, autoApprove bool) error {
	v := 0
	if autoApprove {
		v = 1
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET auto_approve = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`, v, id)
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	return nil
}

// ListSessions returns sessions newest first.
func (s *Store) ListSessions(ctx context.Context, limit int) ([]Session, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, title, connection_id, provider_id, auto_approve, created_at, updated_at
		 FROM sessions ORDER BY updated_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		var sess Session
		var autoApprove int
		if err := rows.Scan(&sess.ID, &sess.Title, &sess.ConnectionID, &sess.ProviderID,
			&autoApprove, &sess.CreatedAt, &sess.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sess.AutoApprove = autoApprove != 0
		out = append(out, sess)
	}
	return out, rows.Err()
}

// LoadHistory implements chat.Store.
func (s *Store) LoadHistory(ctx context.Context, sessionID int64) ([]chat.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT role, content, tool_calls, tool_call_id
		 FROM messages WHERE session_id = ? ORDER BY id`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	defer rows.Close()

	var out []chat.Message
	for rows.Next() {
		var msg chat.Message
		var role, toolCalls string
		if err := rows.Scan(&role, &msg.Content, &toolCalls, &msg.ToolCallID); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msg.Role = chat.Role(role)
		calls, err := chat.UnmarshalToolCalls(toolCalls)
		if err != nil {
			return nil, fmt.Errorf("decode tool calls: %w", err)
		}
		msg.ToolCalls = calls
		out = append(out, msg)
	}
	return out, rows.Err()
}

// AppendMessage implements chat.Store.
func (s *Store) AppendMessage(ctx context.Context, sessionID int64, msg chat.Message) error {
	toolCalls, err := chat.MarshalToolCalls(msg.ToolCalls)
	if err != nil {
		return fmt.Errorf("encode tool calls: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO messages (session_id, role, content, tool_calls, tool_call_id)
		 VALUES (?, ?, ?, ?, ?)`,
		sessionID, string(msg.Role), msg.Content, toolCalls, msg.ToolCallID)
	if err != nil {
		return fmt.Errorf("append message: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`UPDATE sessions SET updated_at = CURRENT_TIMESTAMP WHERE id = ?`, sessionID)
	if err != nil {
		return fmt.Errorf("touch session: %w", err)
	}
	return nil
}

// UpdateLastPending implements chat.Store. It rewrites the newest tool
// message still carrying a pending confirmation, preferring an exact tool
// call ID match when one is given.
func (s *Store) UpdateLastPending(ctx context.Context, sessionID int64, toolCallID, content string) error {
	if toolCallID != "" {
		res, err := s.db.ExecContext(ctx,
			`UPDATE messages SET content = ?
			 WHERE id = (
				SELECT id FROM messages
				WHERE session_id = ? AND role = 'tool' AND tool_call_id = ?
				  AND content LIKE '%pending_confirmation%'
				ORDER BY id DESC LIMIT 1
			 )`, content, sessionID, toolCallID)
		if err != nil {
			return fmt.Errorf("update pending message: %w", err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			return nil
		}
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE messages SET content = ?
		 WHERE id = (
			SELECT id FROM messages
			WHERE session_id = ? AND role = 'tool'
			  AND content LIKE '%pending_confirmation%'
			ORDER BY id DESC LIMIT 1
		 )`, content, sessionID)
	if err != nil {
		return fmt.Errorf("update pending message: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return chat.ErrNoPendingMessage
	}
	return nil
}
