package llm

import (
	"context"
	"strings"
)

// Message represents a chat message
type Message struct {
	Role        string       `json:"role"` // "user" or "assistant" or "system"
	Content     string       `json:"content"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

// Attachment represents a file or image attachment
type Attachment struct {
	Type     string `json:"type"`      // "image", "file"
	MimeType string `json:"mime_type"` // "image/png", "text/plain", etc.
	Data     []byte `json:"data"`
	Filename string `json:"filename"`
}

// StreamResponse represents a chunk of streaming response
type StreamResponse struct {
	Content string
	Done    bool
	Error   error
}

// ModelInfo describes one model available on a backend
type ModelInfo struct {
	Provider string `json:"provider"`
	Name     string `json:"name"`
	Size     int64  `json:"size,omitempty"`
}

// Provider is the common interface for all model backends. The model is
// chosen per call so a single backend can serve several models side by side.
type Provider interface {
	// StreamChat sends messages and returns a channel for streaming responses
	StreamChat(ctx context.Context, model string, messages []Message) (<-chan StreamResponse, error)

	// Chat sends messages and returns the complete response (non-streaming)
	Chat(ctx context.Context, model string, messages []Message) (string, error)

	// ListModels returns the models the backend can serve
	ListModels(ctx context.Context) ([]ModelInfo, error)

	// GenerateTitle generates a short title based on the conversation messages
	GenerateTitle(ctx context.Context, model string, messages []Message) (string, error)

	// Name returns the provider name
	Name() string

	// ValidateConfig validates the provider configuration
	ValidateConfig() error
}

// Config represents provider configuration
type Config struct {
	ProviderName string
	APIKey       string
	BaseURL      string
	Models       []string // configured models, used when the backend cannot be listed
	Timeout      int      // seconds
	MaxTokens    int
	Temperature  float64
}

// cleanTitle cleans up a generated title by removing quotes and extra whitespace
func cleanTitle(title string) string {
	title = strings.TrimSpace(title)
	title = strings.Trim(title, "\"'")
	title = strings.TrimSpace(title)

	if len(title) > 100 {
		title = title[:100] + "..."
	}

	if title == "" {
		title = "New Chat"
	}

	return title
}
