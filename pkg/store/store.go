package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

var (
	// ErrEmptyUsername indicates a registration attempt without a username.
	ErrEmptyUsername = errors.New("username is required")
	// ErrEmptyMessage indicates a message with no content after trimming.
	ErrEmptyMessage = errors.New("comment field cannot be empty")
	// ErrSessionNotFound indicates no username is registered for a session id.
	ErrSessionNotFound = errors.New("no user found for session")
	// ErrBadCursor indicates a pagination cursor that could not be decoded.
	ErrBadCursor = errors.New("invalid pagination cursor")
)

// Message is a persisted chat message.
type Message struct {
	ID        int64
	UserName  string
	Text      string
	CreatedAt time.Time
}

// Page is one page of messages, newest first, plus the cursor for the next
// page (nil when the log is exhausted) and the total number of messages.
type Page struct {
	Messages   []Message
	NextCursor *string
	Total      int
}

// Store wraps the SQLite database holding the message log and the session
// directory.
type Store struct {
	conn *sql.DB
}

// Open opens the SQLite database at the given path and initializes the
// schema if needed.
func Open(path string) (*Store, error) {
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(5 * time.Minute)

	// WAL allows multiple readers and one writer at the same time
	if _, err := conn.Exec("PRAGMA journal_mode = WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	// Wait and retry instead of immediately failing with SQLITE_BUSY
	if _, err := conn.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	if _, err := conn.Exec("PRAGMA synchronous = NORMAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to set synchronous mode: %w", err)
	}

	s := &Store{conn: conn}
	if err := s.initSchema(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.conn.Close()
}

// initSchema creates tables and indexes if they don't exist
func (s *Store) initSchema() error {
	schema := `
CREATE TABLE IF NOT EXISTS Message (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	username TEXT NOT NULL,
	content TEXT NOT NULL,
	created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS UserSession (
	session_id TEXT PRIMARY KEY,
	username TEXT NOT NULL,
	created_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_messages_created ON Message(created_at DESC, id DESC);
CREATE INDEX IF NOT EXISTS idx_sessions_username ON UserSession(username);
`

	_, err := s.conn.Exec(schema)
	return err
}

// RegisterUser records the (session id → username) binding in the session
// directory. Re-registering a session id overwrites the previous binding;
// duplicate sign-in policy is enforced by the caller's registry, not here.
func (s *Store) RegisterUser(ctx context.Context, username, sessionID string) error {
	if username == "" {
		return ErrEmptyUsername
	}

	_, err := s.conn.ExecContext(ctx,
		`INSERT INTO UserSession (session_id, username, created_at) VALUES (?, ?, ?)
		 ON CONFLICT(session_id) DO UPDATE SET username = excluded.username, created_at = excluded.created_at`,
		sessionID, username, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to register user: %w", err)
	}
	return nil
}

// GetUsername resolves a session id to its registered username. Returns
// ErrSessionNotFound when no binding exists.
func (s *Store) GetUsername(ctx context.Context, sessionID string) (string, error) {
	var username string
	err := s.conn.QueryRowContext(ctx,
		`SELECT username FROM UserSession WHERE session_id = ?`, sessionID).Scan(&username)
	if err == sql.ErrNoRows {
		return "", ErrSessionNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to look up session: %w", err)
	}
	return username, nil
}

// DeleteUser removes the session directory entry for a session id. Deleting
// an absent entry is a no-op.
func (s *Store) DeleteUser(ctx context.Context, sessionID string) error {
	_, err := s.conn.ExecContext(ctx,
		`DELETE FROM UserSession WHERE session_id = ?`, sessionID)
	if err != nil {
		return fmt.Errorf("failed to delete user: %w", err)
	}
	return nil
}

// CreateMessage appends a message to the log and returns the stored record.
// Messages that are empty after trimming are rejected without a write.
func (s *Store) CreateMessage(ctx context.Context, text, username string) (Message, error) {
	if strings.TrimSpace(text) == "" {
		return Message{}, ErrEmptyMessage
	}

	now := time.Now().UTC().Truncate(time.Millisecond)
	res, err := s.conn.ExecContext(ctx,
		`INSERT INTO Message (username, content, created_at) VALUES (?, ?, ?)`,
		username, text, now.UnixMilli())
	if err != nil {
		return Message{}, fmt.Errorf("failed to create message: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return Message{}, fmt.Errorf("failed to read message id: %w", err)
	}

	return Message{ID: id, UserName: username, Text: text, CreatedAt: now}, nil
}

// FetchMessages returns up to limit messages newest first, starting after
// the position encoded in cursor (empty cursor = most recent page). The
// returned cursor is opaque to callers and fed back verbatim for the next
// page.
func (s *Store) FetchMessages(ctx context.Context, limit int, cursor string) (Page, error) {
	var (
		rows *sql.Rows
		err  error
	)

	if cursor == "" {
		rows, err = s.conn.QueryContext(ctx,
			`SELECT id, username, content, created_at FROM Message
			 ORDER BY created_at DESC, id DESC LIMIT ?`, limit)
	} else {
		key, derr := decodeCursor(cursor)
		if derr != nil {
			return Page{}, derr
		}
		rows, err = s.conn.QueryContext(ctx,
			`SELECT id, username, content, created_at FROM Message
			 WHERE created_at < ? OR (created_at = ? AND id < ?)
			 ORDER BY created_at DESC, id DESC LIMIT ?`,
			key.CreatedAt, key.CreatedAt, key.ID, limit)
	}
	if err != nil {
		return Page{}, fmt.Errorf("failed to fetch messages: %w", err)
	}
	defer rows.Close()

	var messages []Message
	for rows.Next() {
		var (
			msg       Message
			createdAt int64
		)
		if err := rows.Scan(&msg.ID, &msg.UserName, &msg.Text, &createdAt); err != nil {
			return Page{}, fmt.Errorf("failed to scan message: %w", err)
		}
		msg.CreatedAt = time.UnixMilli(createdAt).UTC()
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return Page{}, fmt.Errorf("failed to iterate messages: %w", err)
	}

	var total int
	if err := s.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM Message`).Scan(&total); err != nil {
		return Page{}, fmt.Errorf("failed to count messages: %w", err)
	}

	page := Page{Messages: messages, Total: total}
	if len(messages) == limit && limit > 0 {
		last := messages[len(messages)-1]
		token := encodeCursor(pageKey{CreatedAt: last.CreatedAt.UnixMilli(), ID: last.ID})
		page.NextCursor = &token
	}

	return page, nil
}
