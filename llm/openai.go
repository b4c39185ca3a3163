package llm

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"github.com/sashabaranov/go-openai"
)

// OpenAIProvider implements the Provider interface for OpenAI-compatible
// servers (LM Studio, llama.cpp server, vLLM, or the real thing).
type OpenAIProvider struct {
	client *openai.Client
	config Config
}

// NewOpenAIProvider creates a new OpenAI-compatible provider
func NewOpenAIProvider(config Config) (*OpenAIProvider, error) {
	// Allow empty API key - local servers usually don't check it
	clientConfig := openai.DefaultConfig(config.APIKey)
	if config.BaseURL != "" {
		clientConfig.BaseURL = config.BaseURL
	}

	client := openai.NewClientWithConfig(clientConfig)

	if config.MaxTokens == 0 {
		config.MaxTokens = 4096
	}
	if config.Temperature == 0 {
		config.Temperature = 0.7
	}
	if config.ProviderName == "" {
		config.ProviderName = "openai"
	}

	return &OpenAIProvider{
		client: client,
		config: config,
	}, nil
}

// convertMessage converts our Message type to OpenAI format, handling attachments
func (p *OpenAIProvider) convertMessage(msg Message) openai.ChatCompletionMessage {
	var images []Attachment
	for _, att := range msg.Attachments {
		if att.Type == "image" {
			images = append(images, att)
		}
	}

	if len(images) == 0 {
		return openai.ChatCompletionMessage{Role: msg.Role, Content: msg.Content}
	}

	parts := []openai.ChatMessagePart{
		{Type: openai.ChatMessagePartTypeText, Text: msg.Content},
	}
	for _, img := range images {
		dataURL := fmt.Sprintf("data:%s;base64,%s", img.MimeType, base64.StdEncoding.EncodeToString(img.Data))
		parts = append(parts, openai.ChatMessagePart{
			Type:     openai.ChatMessagePartTypeImageURL,
			ImageURL: &openai.ChatMessageImageURL{URL: dataURL},
		})
	}

	return openai.ChatCompletionMessage{Role: msg.Role, MultiContent: parts}
}

func (p *OpenAIProvider) buildRequest(model string, messages []Message, stream bool) openai.ChatCompletionRequest {
	openaiMessages := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, msg := range messages {
		openaiMessages = append(openaiMessages, p.convertMessage(msg))
	}

	return openai.ChatCompletionRequest{
		Model:       model,
		Messages:    openaiMessages,
		MaxTokens:   p.config.MaxTokens,
		Temperature: float32(p.config.Temperature),
		Stream:      stream,
	}
}

// StreamChat implements streaming chat
func (p *OpenAIProvider) StreamChat(ctx context.Context, model string, messages []Message) (<-chan StreamResponse, error) {
	responseChan := make(chan StreamResponse)
	req := p.buildRequest(model, messages, true)

	go func() {
		defer close(responseChan)

		stream, err := p.client.CreateChatCompletionStream(ctx, req)
		if err != nil {
			responseChan <- StreamResponse{Error: fmt.Errorf("failed to create stream: %w", err)}
			return
		}
		defer stream.Close()

		for {
			response, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				responseChan <- StreamResponse{Done: true}
				return
			}
			if err != nil {
				responseChan <- StreamResponse{Error: fmt.Errorf("stream error: %w", err)}
				return
			}

			if len(response.Choices) > 0 {
				content := response.Choices[0].Delta.Content
				if content != "" {
					responseChan <- StreamResponse{Content: content}
				}
			}
		}
	}()

	return responseChan, nil
}

// Chat implements non-streaming chat
func (p *OpenAIProvider) Chat(ctx context.Context, model string, messages []Message) (string, error) {
	resp, err := p.client.CreateChatCompletion(ctx, p.buildRequest(model, messages, false))
	if err != nil {
		return "", fmt.Errorf("chat completion failed: %w", err)
	}

	if len(resp.Choices) == 0 {
		return "", errors.New("no response choices returned")
	}

	return resp.Choices[0].Message.Content, nil
}

// ListModels returns the models the server reports, or the configured list
func (p *OpenAIProvider) ListModels(ctx context.Context) ([]ModelInfo, error) {
	list, err := p.client.ListModels(ctx)
	if err != nil {
		// Local OpenAI-compatible servers don't always implement /models
		if len(p.config.Models) > 0 {
			models := make([]ModelInfo, 0, len(p.config.Models))
			for _, name := range p.config.Models {
				models = append(models, ModelInfo{Provider: p.config.ProviderName, Name: name})
			}
			return models, nil
		}
		return nil, fmt.Errorf("failed to list models: %w", err)
	}

	models := make([]ModelInfo, 0, len(list.Models))
	for _, m := range list.Models {
		models = append(models, ModelInfo{Provider: p.config.ProviderName, Name: m.ID})
	}
	return models, nil
}

// Name returns the provider name
func (p *OpenAIProvider) Name() string {
	return p.config.ProviderName
}

// GenerateTitle generates a short title based on the conversation
func (p *OpenAIProvider) GenerateTitle(ctx context.Context, model string, messages []Message) (string, error) {
	titlePrompt := []Message{
		{
			Role:    "system",
			Content: "You are a helpful assistant that generates short, concise titles for conversations. The title should be 3-8 words, descriptive, and capture the main topic. Only output the title, nothing else.",
		},
	}

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
func (p *OpenAIProvider) ValidateConfig() error {
	if p.config.BaseURL == "" && p.config.APIKey == "" {
		return errors.New("either a base URL or an API key is required")
	}
	return nil
}
