// Package mistral talks to Mistral's OpenAI-compatible chat completion API.
package mistral

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/deusflow/techwatch/internal/enrich"
)

const (
	DefaultBaseURL = "https://api.mistral.ai/v1"
	DefaultModel   = "mistral-tiny"
)

type Client struct {
	client  *openai.Client
	model   string
	timeout time.Duration
}

func NewClient(apiKey, baseURL, model string) (*Client, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, enrich.ErrNotConfigured
	}
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if model == "" {
		model = DefaultModel
	}

	cfg := openai.DefaultConfig(apiKey)
	cfg.BaseURL = strings.TrimRight(baseURL, "/")
	return &Client{
		client:  openai.NewClientWithConfig(cfg),
		model:   model,
		timeout: 20 * time.Second,
	}, nil
}

func (c *Client) Complete(ctx context.Context, system, user string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	messages := make([]openai.ChatCompletionMessage, 0, 2)
	if system != "" {
		messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: system})
	}
	messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: user})

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:     c.model,
		Messages:  messages,
		MaxTokens: 1000,
	})
	if err != nil {
		if isRateLimit(err) {
			return "", fmt.Errorf("%w: %v", enrich.ErrRateLimited, err)
		}
		return "", fmt.Errorf("mistral chat: %w", err)
	}

	if len(resp.Choices) == 0 {
		return "", errors.New("no response from Mistral")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

func isRateLimit(err error) bool {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode == http.StatusTooManyRequests {
		return true
	}
	var reqErr *openai.RequestError
	return errors.As(err, &reqErr) && reqErr.HTTPStatusCode == http.StatusTooManyRequests
}
