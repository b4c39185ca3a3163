package db

import "time"

// Conversation represents a chat conversation
type Conversation struct {
	ID        int64     `json:"id"`
	Title     string    `json:"title"`
	Category  string    `json:"category"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Message represents a single message in a conversation. Assistant
// messages carry the model that produced them; a user message and the
// assistant messages answering it share a turn number.
type Message struct {
	ID             int64     `json:"id"`
	ConversationID int64     `json:"conversation_id"`
	Turn           int64     `json:"turn"`
	Role           string    `json:"role"` // "user" or "assistant"
	Content        string    `json:"content"`
	Provider       string    `json:"provider"`
	Model          string    `json:"model"`
	Attachments    string    `json:"attachments"` // JSON array
	CreatedAt      time.Time `json:"created_at"`
}
