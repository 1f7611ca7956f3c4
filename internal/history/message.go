// Package history implements the durable per-session message log.
// Each session is a single JSON file named after the session id under a
// fixed history directory.
package history

import "time"

// Role identifies the speaker of a message.
type Role string

const (
	// RoleUser marks a message typed by the user.
	RoleUser Role = "user"
	// RoleAssistant marks a model-generated reply.
	RoleAssistant Role = "assistant"
	// RoleSystem marks an instruction injected by the application.
	RoleSystem Role = "system"
)

// Message is one turn in a conversation. Messages are immutable once
// created; ordering within a session is append-only by creation time.
type Message struct {
	Role      Role   `json:"role"`
	Content   string `json:"content"`
	Timestamp string `json:"timestamp"`
}

// NewMessage builds a Message stamped with the current UTC time.
func NewMessage(role Role, content string) Message {
	return Message{
		Role:      role,
		Content:   content,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
}

// Session is the full ordered message history for one conversation.
// The id is typically a calendar date (YYYY-MM-DD) but callers may supply
// any identifier.
type Session struct {
	Date     string    `json:"date"`
	Messages []Message `json:"messages"`
}

// TodaySessionID returns the default session id for new conversations,
// the current UTC date in YYYY-MM-DD form. Lexicographic order of these
// ids is chronological.
func TodaySessionID() string {
	return time.Now().UTC().Format("2006-01-02")
}
