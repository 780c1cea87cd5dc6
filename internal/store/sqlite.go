package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/mattn/go-sqlite3"

	"github.com/madlen/chatd/internal/domain"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// For in-memory SQLite, multiple connections create separate databases.
	// Keep a single connection to avoid schema/data disappearing across goroutines.
	if dsn == ":memory:" || strings.Contains(dsn, "mode=memory") {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	}

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// migrate runs database migrations.
func (s *SQLiteStore) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			title TEXT NOT NULL,
			model TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_updated ON sessions(updated_at)`,
		`CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			role TEXT NOT NULL,
			seq INTEGER NOT NULL,
			status TEXT NOT NULL,
			content TEXT,
			content_draft TEXT,
			image_data_url TEXT,
			error_code TEXT,
			error_message TEXT,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL,
			UNIQUE(session_id, seq),
			FOREIGN KEY (session_id) REFERENCES sessions(id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id, seq)`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w\n%s", err, m)
		}
	}

	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// CreateSession creates a new session.
func (s *SQLiteStore) CreateSession(ctx context.Context, session *domain.Session) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, title, model, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		session.ID, session.Title, session.Model, session.CreatedAt, session.UpdatedAt)
	return err
}

// GetSession retrieves a session by ID.
func (s *SQLiteStore) GetSession(ctx context.Context, sessionID string) (*domain.Session, error) {
	var session domain.Session
	err := s.db.QueryRowContext(ctx,
		`SELECT id, title, model, created_at, updated_at FROM sessions WHERE id = ?`,
		sessionID).Scan(&session.ID, &session.Title, &session.Model, &session.CreatedAt, &session.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &session, nil
}

// ListSessions lists all sessions, most recently updated first.
func (s *SQLiteStore) ListSessions(ctx context.Context) ([]domain.Session, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, title, model, created_at, updated_at FROM sessions ORDER BY updated_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []domain.Session
	for rows.Next() {
		var sess domain.Session
		if err := rows.Scan(&sess.ID, &sess.Title, &sess.Model, &sess.CreatedAt, &sess.UpdatedAt); err != nil {
			return nil, err
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

// InsertTurn creates the user message and assistant placeholder for one
// turn in a single transaction. Seq values are computed from the current
// message count inside the transaction, the session's updated_at and
// model are bumped, and on the first exchange the title candidate is
// applied if the session still carries the default title.
func (s *SQLiteStore) InsertTurn(ctx context.Context, turn TurnInsert) (*TurnRows, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var title string
	err = tx.QueryRowContext(ctx,
		`SELECT title FROM sessions WHERE id = ?`, turn.SessionID).Scan(&title)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("session %s not found", turn.SessionID)
	}
	if err != nil {
		return nil, err
	}

	var count int
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM messages WHERE session_id = ?`, turn.SessionID).Scan(&count); err != nil {
		return nil, err
	}

	userSeq := count + 1
	var imageURL sql.NullString
	if turn.ImageDataURL != "" {
		imageURL = sql.NullString{String: turn.ImageDataURL, Valid: true}
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO messages (id, session_id, role, seq, status, content, content_draft, image_data_url, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, NULL, ?, ?, ?)`,
		turn.UserID, turn.SessionID, domain.RoleUser, userSeq, domain.MessageStatusCompleted,
		turn.UserText, imageURL, turn.Now, turn.Now); err != nil {
		return nil, fmt.Errorf("failed to insert user message: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO messages (id, session_id, role, seq, status, content, content_draft, image_data_url, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, NULL, '', NULL, ?, ?)`,
		turn.AssistantID, turn.SessionID, domain.RoleAssistant, userSeq+1, domain.MessageStatusStreaming,
		turn.Now, turn.Now); err != nil {
		return nil, fmt.Errorf("failed to insert assistant placeholder: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE sessions SET updated_at = ?, model = ? WHERE id = ?`,
		turn.Now, turn.Model, turn.SessionID); err != nil {
		return nil, fmt.Errorf("failed to touch session: %w", err)
	}

	titleApplied := false
	if count == 0 && (title == domain.DefaultSessionTitle || title == "") && turn.TitleCandidate != "" {
		if _, err := tx.ExecContext(ctx,
			`UPDATE sessions SET title = ? WHERE id = ?`,
			turn.TitleCandidate, turn.SessionID); err != nil {
			return nil, fmt.Errorf("failed to set session title: %w", err)
		}
		titleApplied = true
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit turn: %w", err)
	}

	return &TurnRows{UserSeq: userSeq, AssistantSeq: userSeq + 1, TitleApplied: titleApplied}, nil
}

// GetMessage retrieves a message by ID.
func (s *SQLiteStore) GetMessage(ctx context.Context, messageID string) (*domain.Message, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, session_id, role, seq, status, content, content_draft, image_data_url, error_code, error_message, created_at, updated_at
		 FROM messages WHERE id = ?`, messageID)
	msg, err := scanMessage(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return msg, nil
}

// ListMessages retrieves all messages for a session ordered by seq.
func (s *SQLiteStore) ListMessages(ctx context.Context, sessionID string) ([]domain.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, role, seq, status, content, content_draft, image_data_url, error_code, error_message, created_at, updated_at
		 FROM messages WHERE session_id = ? ORDER BY seq ASC`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []domain.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, *msg)
	}
	return messages, rows.Err()
}

// CountStreaming counts messages in streaming status across the store.
func (s *SQLiteStore) CountStreaming(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM messages WHERE status = ?`, domain.MessageStatusStreaming).Scan(&count)
	return count, err
}

// UpdateDraft flushes accumulated partial content into the placeholder's
// draft field. The status guard makes a flush that races a finalize a
// no-op rather than a resurrection of the draft.
func (s *SQLiteStore) UpdateDraft(ctx context.Context, messageID, draft string, now int64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE messages SET content_draft = ?, updated_at = ? WHERE id = ? AND status = ?`,
		draft, now, messageID, domain.MessageStatusStreaming)
	return err
}

// FinalizeCompleted writes the final content, clears the draft and marks
// the message completed. Returns false if the message was no longer
// streaming (already finalized by another path).
func (s *SQLiteStore) FinalizeCompleted(ctx context.Context, messageID, content string, now int64) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE messages SET content = ?, content_draft = NULL, status = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		content, domain.MessageStatusCompleted, now, messageID, domain.MessageStatusStreaming)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// FinalizeError marks the message as error or stopped with the given
// code and message. Returns false if the message was no longer streaming.
func (s *SQLiteStore) FinalizeError(ctx context.Context, messageID string, status domain.MessageStatus, code, message string, now int64) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE messages SET status = ?, error_code = ?, error_message = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		status, code, message, now, messageID, domain.MessageStatusStreaming)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// scanner abstracts sql.Row and sql.Rows for scanMessage.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanMessage(row scanner) (*domain.Message, error) {
	var msg domain.Message
	var content, draft, imageURL, errCode, errMsg sql.NullString
	if err := row.Scan(&msg.ID, &msg.SessionID, &msg.Role, &msg.Seq, &msg.Status,
		&content, &draft, &imageURL, &errCode, &errMsg, &msg.CreatedAt, &msg.UpdatedAt); err != nil {
		return nil, err
	}
	if content.Valid {
		msg.Content = content.String
	}
	if draft.Valid {
		msg.ContentDraft = draft.String
	}
	if imageURL.Valid {
		msg.ImageDataURL = imageURL.String
	}
	if errCode.Valid {
		msg.ErrorCode = errCode.String
	}
	if errMsg.Valid {
		msg.ErrorMessage = errMsg.String
	}
	return &msg, nil
}
