package protocol

import "time"

// Message roles as they appear on the wire.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// Message is a single entry in a ticket conversation.
type Message struct {
	ID        string    `json:"id"`
	Role      string    `json:"role"`
	Author    string    `json:"author,omitempty"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// IsUser reports whether the message was authored by the customer.
func (m Message) IsUser() bool { return m.Role == RoleUser }
