package llm

import (
	"context"
	"errors"
	"fmt"

	openai "github.com/sashabaranov/go-openai"
)

// ChatClient captures the subset of the go-openai client the adapter uses.
type ChatClient interface {
	CreateChatCompletion(ctx context.Context, request openai.ChatCompletionRequest) (
		openai.ChatCompletionResponse, error)
}

// OpenAITransport implements Transport via the OpenAI Chat Completions API
// (or any API-compatible endpoint).
type OpenAITransport struct {
	chat ChatClient
}

// NewOpenAITransport wraps an existing chat client.
func NewOpenAITransport(chat ChatClient) (*OpenAITransport, error) {
	if chat == nil {
		return nil, errors.New("chat client is required")
	}
	return &OpenAITransport{chat: chat}, nil
}

// NewOpenAITransportFromAPIKey constructs a transport using the default
// go-openai HTTP client.
func NewOpenAITransportFromAPIKey(apiKey string) (*OpenAITransport, error) {
	if apiKey == "" {
		return nil, errors.New("api key is required")
	}
	return NewOpenAITransport(openai.NewClient(apiKey))
}

// ChatComplete implements Transport.
func (t *OpenAITransport) ChatComplete(ctx context.Context, model string, messages []Message, temperature float32) (*Response, error) {
	if len(messages) == 0 {
		return nil, errors.New("messages are required")
	}
	req := openai.ChatCompletionRequest{
		Model:       model,
		Temperature: temperature,
		Messages:    make([]openai.ChatCompletionMessage, 0, len(messages)),
	}
	for _, m := range messages {
		req.Messages = append(req.Messages, openai.ChatCompletionMessage{
			Role:    string(m.Role),
			Content: m.Content,
		})
	}

	resp, err := t.chat.CreateChatCompletion(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("openai chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("openai chat completion returned no choices")
	}
	return &Response{
		Content: resp.Choices[0].Message.Content,
		Usage: Usage{
			Prompt:     resp.Usage.PromptTokens,
			Completion: resp.Usage.CompletionTokens,
			Total:      resp.Usage.TotalTokens,
		},
		Model: resp.Model,
	}, nil
}
