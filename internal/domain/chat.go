// Package domain defines the core domain models for the chat backend.
package domain

// Role identifies the author of a message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// MessageStatus represents the lifecycle state of a message.
type MessageStatus string

const (
	MessageStatusQueued    MessageStatus = "queued"
	MessageStatusStreaming MessageStatus = "streaming"
	MessageStatusCompleted MessageStatus = "completed"
	MessageStatusError     MessageStatus = "error"
	MessageStatusStopped   MessageStatus = "stopped"
)

// IsTerminal reports whether the status is a sink state.
func (s MessageStatus) IsTerminal() bool {
	switch s {
	case MessageStatusCompleted, MessageStatusError, MessageStatusStopped:
		return true
	}
	return false
}

// DefaultSessionTitle is the title assigned to a session before its first exchange.
const DefaultSessionTitle = "New Chat"

// Session represents a conversation session.
type Session struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Model     string `json:"model"`
	CreatedAt int64  `json:"created_at"` // Unix milliseconds
	UpdatedAt int64  `json:"updated_at"`
}

// Message represents a single message in a session. Seq is assigned at
// creation time and defines display and wire order within the session.
type Message struct {
	ID           string        `json:"id"`
	SessionID    string        `json:"session_id"`
	Role         Role          `json:"role"`
	Seq          int           `json:"seq"`
	Status       MessageStatus `json:"status"`
	Content      string        `json:"content,omitempty"`
	ContentDraft string        `json:"content_draft,omitempty"`
	ImageDataURL string        `json:"image_data_url,omitempty"`
	ErrorCode    string        `json:"error_code,omitempty"`
	ErrorMessage string        `json:"error_message,omitempty"`
	CreatedAt    int64         `json:"created_at"`
	UpdatedAt    int64         `json:"updated_at"`
}
