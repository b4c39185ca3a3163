package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"
)

// OllamaProvider implements the Provider interface for Ollama
type OllamaProvider struct {
	config Config
	client *http.Client
}

// NewOllamaProvider creates a new Ollama provider
func NewOllamaProvider(config Config) (*OllamaProvider, error) {
	if config.BaseURL == "" {
		config.BaseURL = "http://localhost:11434"
	}
	if config.Timeout == 0 {
		config.Timeout = 300 // 5 minutes default
	}
	if config.ProviderName == "" {
		config.ProviderName = "ollama"
	}

	// For streaming responses, we don't want a global timeout.
	// Only set connection timeouts via Transport.
	client := &http.Client{
		Transport: &http.Transport{
			DialContext: (&net.Dialer{
				Timeout:   30 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			TLSHandshakeTimeout:   10 * time.Second,
			ResponseHeaderTimeout: 120 * time.Second, // slow models take a while to first token
		},
	}

	return &OllamaProvider{
		config: config,
		client: client,
	}, nil
}

type ollamaChatRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
}

type ollamaMessage struct {
	Role    string   `json:"role"`
	Content string   `json:"content"`
	Images  []string `json:"images,omitempty"`
}

type ollamaChatResponse struct {
	Model     string        `json:"model"`
	CreatedAt string        `json:"created_at"`
	Message   ollamaMessage `json:"message"`
	Done      bool          `json:"done"`
}

type ollamaTagsResponse struct {
	Models []struct {
		Name string `json:"name"`
		Size int64  `json:"size"`
	} `json:"models"`
}

// convertMessages converts our Message type to Ollama format, folding image
// attachments into the base64 images field.
func convertOllamaMessages(messages []Message) []ollamaMessage {
	out := make([]ollamaMessage, 0, len(messages))
	for _, msg := range messages {
		om := ollamaMessage{
			Role:    msg.Role,
			Content: msg.Content,
		}
		for _, att := range msg.Attachments {
			if att.Type == "image" {
				om.Images = append(om.Images, base64.StdEncoding.EncodeToString(att.Data))
			}
		}
		out = append(out, om)
	}
	return out
}

// StreamChat implements streaming chat
func (p *OllamaProvider) StreamChat(ctx context.Context, model string, messages []Message) (<-chan StreamResponse, error) {
	responseChan := make(chan StreamResponse)

	reqBody := ollamaChatRequest{
		Model:    model,
		Messages: convertOllamaMessages(messages),
		Stream:   true,
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		close(responseChan)
		return responseChan, fmt.Errorf("failed to marshal request: %w", err)
	}

	go func() {
		defer close(responseChan)

		req, err := http.NewRequestWithContext(ctx, "POST", p.config.BaseURL+"/api/chat", bytes.NewBuffer(jsonData))
		if err != nil {
			responseChan <- StreamResponse{Error: fmt.Errorf("failed to create request: %w", err)}
			return
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := p.client.Do(req)
		if err != nil {
			responseChan <- StreamResponse{Error: fmt.Errorf("failed to send request: %w", err)}
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(resp.Body)
			responseChan <- StreamResponse{Error: fmt.Errorf("ollama error: %s", string(body))}
			return
		}

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 64*1024), 1024*1024)
		for scanner.Scan() {
			var chatResp ollamaChatResponse
			if err := json.Unmarshal(scanner.Bytes(), &chatResp); err != nil {
				responseChan <- StreamResponse{Error: fmt.Errorf("failed to parse response: %w", err)}
				return
			}

			if chatResp.Message.Content != "" {
				responseChan <- StreamResponse{Content: chatResp.Message.Content}
			}

			if chatResp.Done {
				responseChan <- StreamResponse{Done: true}
				return
			}
		}

		if err := scanner.Err(); err != nil {
			responseChan <- StreamResponse{Error: fmt.Errorf("scanner error: %w", err)}
		}
	}()

	return responseChan, nil
}

// Chat implements non-streaming chat
func (p *OllamaProvider) Chat(ctx context.Context, model string, messages []Message) (string, error) {
	reqBody := ollamaChatRequest{
		Model:    model,
		Messages: convertOllamaMessages(messages),
		Stream:   false,
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", p.config.BaseURL+"/api/chat", bytes.NewBuffer(jsonData))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("ollama error: %s", string(body))
	}

	var chatResp ollamaChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}

	return chatResp.Message.Content, nil
}

// ListModels returns the models installed on the Ollama host
func (p *OllamaProvider) ListModels(ctx context.Context) ([]ModelInfo, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", p.config.BaseURL+"/api/tags", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to list models: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("ollama error: %s", string(body))
	}

	var tags ollamaTagsResponse
	if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
		return nil, fmt.Errorf("failed to decode tags: %w", err)
	}

	models := make([]ModelInfo, 0, len(tags.Models))
	for _, m := range tags.Models {
		models = append(models, ModelInfo{
			Provider: p.config.ProviderName,
			Name:     m.Name,
			Size:     m.Size,
		})
	}

	// Fall back to the configured list when the host reports nothing
	if len(models) == 0 {
		for _, name := range p.config.Models {
			models = append(models, ModelInfo{Provider: p.config.ProviderName, Name: name})
		}
	}

	return models, nil
}

// Name returns the provider name
func (p *OllamaProvider) Name() string {
	return p.config.ProviderName
}

// GenerateTitle generates a short title based on the conversation
func (p *OllamaProvider) GenerateTitle(ctx context.Context, model string, messages []Message) (string, error) {
	titlePrompt := []Message{
		{
			Role:    "system",
			Content: "You are a helpful assistant that generates short, concise titles for conversations. The title should be 3-8 words, descriptive, and capture the main topic. Only output the title, nothing else.",
		},
	}

	// Limit context to the first few messages to avoid token issues
	maxMessages := 4
	for i, msg := range messages {
		if i >= maxMessages {
			break
		}
		titlePrompt = append(titlePrompt, Message{Role: msg.Role, Content: msg.Content})
	}

	titlePrompt = append(titlePrompt, Message{
		Role:    "user",
		Content: "Based on the above conversation, generate a short title (3-8 words):",
	})

	title, err := p.Chat(ctx, model, titlePrompt)
	if err != nil {
		return "", fmt.Errorf("failed to generate title: %w", err)
	}

	return cleanTitle(title), nil
}

// ValidateConfig validates the configuration
func (p *OllamaProvider) ValidateConfig() error {
	if p.config.BaseURL == "" {
		return errors.New("base URL is required")
	}
	return nil
}
