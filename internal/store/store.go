// Package store defines the storage interface and implementations.
package store

import (
	"context"

	"github.com/madlen/chatd/internal/domain"
)

// TurnInsert describes the rows created when a turn starts: the user
// message and its paired assistant placeholder. Both are inserted in a
// single transaction so seq assignment cannot race and no reader ever
// observes a user message without its placeholder.
type TurnInsert struct {
	SessionID    string
	UserID       string // user message id
	AssistantID  string // assistant placeholder id
	UserText     string
	ImageDataURL string
	Model        string
	// TitleCandidate is applied to the session only when this is the
	// session's first exchange and the title is still the default.
	TitleCandidate string
	Now            int64
}

// TurnRows reports the committed turn rows.
type TurnRows struct {
	UserSeq      int
	AssistantSeq int
	TitleApplied bool
}

// Store defines the interface for data persistence.
type Store interface {
	// Session operations
	CreateSession(ctx context.Context, session *domain.Session) error
	GetSession(ctx context.Context, sessionID string) (*domain.Session, error)
	ListSessions(ctx context.Context) ([]domain.Session, error)

	// Message operations
	InsertTurn(ctx context.Context, turn TurnInsert) (*TurnRows, error)
	GetMessage(ctx context.Context, messageID string) (*domain.Message, error)
	ListMessages(ctx context.Context, sessionID string) ([]domain.Message, error)
	CountStreaming(ctx context.Context) (int, error)

	// Streaming lifecycle. UpdateDraft and the finalizers only touch rows
	// still in streaming status; the finalizers report whether a row was
	// updated so a late writer can tell the terminal write already landed.
	UpdateDraft(ctx context.Context, messageID, draft string, now int64) error
	FinalizeCompleted(ctx context.Context, messageID, content string, now int64) (bool, error)
	FinalizeError(ctx context.Context, messageID string, status domain.MessageStatus, code, message string, now int64) (bool, error)

	// Lifecycle
	Close() error
}
