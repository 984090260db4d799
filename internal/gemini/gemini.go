package gemini

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"github.com/googleapis/gax-go/v2/apierror"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"

	"github.com/deusflow/techwatch/internal/enrich"
)

const DefaultModel = "gemini-1.5-flash"

// Client is a Gemini chat completion provider.
type Client struct {
	client  *genai.Client
	model   string
	timeout time.Duration
}

func NewClient(ctx context.Context, apiKey, model string) (*Client, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, enrich.ErrNotConfigured
	}
	if model == "" {
		model = DefaultModel
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	return &Client{client: client, model: model, timeout: 30 * time.Second}, nil
}

func (c *Client) Close() {
	if c.client != nil {
		c.client.Close()
	}
}

// Complete sends one system instruction and one user message.
func (c *Client) Complete(ctx context.Context, system, user string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	model := c.client.GenerativeModel(c.model)
	if system != "" {
		model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(system)}}
	}

	resp, err := model.GenerateContent(ctx, genai.Text(user))
	if err != nil {
		if isRateLimit(err) {
			return "", fmt.Errorf("%w: %v", enrich.ErrRateLimited, err)
		}
		return "", fmt.Errorf("failed to generate content: %w", err)
	}

	text := responseText(resp)
	if text == "" {
		return "", errors.New("no response from Gemini")
	}
	return text, nil
}

func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if t, ok := part.(genai.Text); ok {
			b.WriteString(string(t))
		}
	}
	return strings.TrimSpace(b.String())
}

func isRateLimit(err error) bool {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) && gerr.Code == http.StatusTooManyRequests {
		return true
	}
	var aerr *apierror.APIError
	if errors.As(err, &aerr) {
		if aerr.HTTPCode() == http.StatusTooManyRequests {
			return true
		}
		if st := aerr.GRPCStatus(); st != nil && st.Code() == codes.ResourceExhausted {
			return true
		}
	}
	return false
}
