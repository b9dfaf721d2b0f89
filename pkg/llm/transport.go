// Package llm defines the chat-completion transport the build runtime
// consumes, plus retry and mock implementations. The runtime never performs
// inference itself; it only exchanges messages with a Transport.
package llm

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Role identifies the author of a chat message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one chat message.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Usage is the token accounting returned with a completion.
type Usage struct {
	Prompt     int `json:"prompt"`
	Completion int `json:"completion"`
	Total      int `json:"total"`
}

// Response is the transport's answer to a chat completion request.
type Response struct {
	Content string `json:"content"`
	Usage   Usage  `json:"usage"`
	Model   string `json:"model"`
}

// Transport is the single capability the build runtime requires from an LLM
// provider.
type Transport interface {
	ChatComplete(ctx context.Context, model string, messages []Message, temperature float32) (*Response, error)
}

// transport retry policy: 3 attempts with 2^attempt seconds backoff.
const (
	transportAttempts = 3
	backoffBase       = 2
)

// retryTransport wraps a Transport with the standard retry policy.
type retryTransport struct {
	inner Transport
	sleep func(context.Context, time.Duration) error
}

// WithRetry wraps t so transient transport errors are retried up to three
// times with exponential backoff (2, 4 seconds). The final error is
// returned wrapped.
func WithRetry(t Transport) Transport {
	return &retryTransport{inner: t, sleep: sleepCtx}
}

func (r *retryTransport) ChatComplete(ctx context.Context, model string, messages []Message, temperature float32) (*Response, error) {
	var lastErr error
	for attempt := 1; attempt <= transportAttempts; attempt++ {
		resp, err := r.inner.ChatComplete(ctx, model, messages, temperature)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if attempt < transportAttempts {
			delay := time.Duration(pow(backoffBase, attempt)) * time.Second
			slog.Warn("LLM transport call failed, retrying",
				"attempt", attempt, "delay", delay, "error", err)
			if err := r.sleep(ctx, delay); err != nil {
				return nil, err
			}
		}
	}
	return nil, fmt.Errorf("llm transport failed after %d attempts: %w", transportAttempts, lastErr)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func pow(base, exp int) int {
	result := 1
	for i := 0; i < exp; i++ {
		result *= base
	}
	return result
}
