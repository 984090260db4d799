// Package telegram publishes the digest through the Telegram Bot API.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/deusflow/techwatch/internal/digest"
	"github.com/deusflow/techwatch/internal/retry"
)

const (
	DefaultBaseURL = "https://api.telegram.org"
	// Telegram rejects messages above 4096 characters and captions above 1024.
	maxMessageRunes = 4000
	maxCaptionRunes = 1000
)

var ErrNotConfigured = errors.New("telegram token or chat id missing")

type Client struct {
	token   string
	chatID  string
	baseURL string
	http    *http.Client
	retry   retry.RetryConfig
	log     *slog.Logger
}

func NewClient(token, chatID string, log *slog.Logger) (*Client, error) {
	if token == "" || chatID == "" {
		return nil, ErrNotConfigured
	}
	if log == nil {
		log = slog.Default()
	}
	return &Client{
		token:   token,
		chatID:  chatID,
		baseURL: DefaultBaseURL,
		http:    &http.Client{Timeout: 30 * time.Second},
		retry:   retry.RetryConfig{MaxAttempts: 3, Delay: 2 * time.Second, Backoff: true, MaxDelay: 8 * time.Second},
		log:     log.With("component", "telegram"),
	}, nil
}

// WithBaseURL points the client at another Bot API endpoint, e.g. a local test server.
func (c *Client) WithBaseURL(u string) *Client {
	c.baseURL = strings.TrimRight(u, "/")
	return c
}

// WithRetry replaces the retry policy.
func (c *Client) WithRetry(cfg retry.RetryConfig) *Client {
	c.retry = cfg
	return c
}

// SendMessage sends an HTML message without link previews, retrying with backoff.
func (c *Client) SendMessage(ctx context.Context, text string) error {
	return c.call(ctx, "sendMessage", map[string]interface{}{
		"chat_id":                  c.chatID,
		"text":                     text,
		"parse_mode":               "HTML",
		"disable_web_page_preview": true,
	})
}

// SendPhoto sends a photo with an HTML caption, trimmed to the caption limit.
func (c *Client) SendPhoto(ctx context.Context, photoURL, caption string) error {
	return c.call(ctx, "sendPhoto", map[string]interface{}{
		"chat_id":    c.chatID,
		"photo":      photoURL,
		"caption":    truncateRunes(caption, maxCaptionRunes),
		"parse_mode": "HTML",
	})
}

// Publish sends the digest: a header (as photo caption when a hero image
// exists) followed by the sections, split to fit message limits.
func (c *Client) Publish(ctx context.Context, sections []digest.Section, day time.Time) error {
	if len(sections) == 0 {
		return nil
	}
	header := fmt.Sprintf("📰 <b>Tech digest</b> · %s", day.Format("2006-01-02"))

	var err error
	if hero := sections[0].HeroImage; hero != "" {
		err = c.SendPhoto(ctx, hero, header)
		if err != nil {
			c.log.Warn("hero photo rejected, sending text header", "error", err)
			err = c.SendMessage(ctx, header)
		}
	} else {
		err = c.SendMessage(ctx, header)
	}
	if err != nil {
		return err
	}

	for i, msg := range FormatDigest(sections) {
		if err := c.SendMessage(ctx, msg); err != nil {
			return fmt.Errorf("digest part %d: %w", i+1, err)
		}
	}
	c.log.Info("digest published", "sections", len(sections))
	return nil
}

func (c *Client) call(ctx context.Context, method string, payload map[string]interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s payload: %w", method, err)
	}
	url := fmt.Sprintf("%s/bot%s/%s", c.baseURL, c.token, method)

	attempt := 0
	return retry.WithRetry(ctx, c.retry, func() error {
		attempt++
		err := c.post(ctx, url, body)
		if err != nil {
			c.log.Warn("telegram request failed", "method", method, "attempt", attempt, "error", err)
		}
		return err
	})
}

func (c *Client) post(ctx context.Context, url string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return retry.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	var apiErr struct {
		Description string `json:"description"`
	}
	_ = json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&apiErr)
	err = fmt.Errorf("telegram API error: status %d: %s", resp.StatusCode, apiErr.Description)
	// client errors other than flood control will not succeed on retry
	if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
		return retry.Permanent(err)
	}
	return err
}

// FormatDigest renders sections as HTML messages, each below the message limit.
func FormatDigest(sections []digest.Section) []string {
	var (
		out []string
		b   strings.Builder
	)
	flush := func() {
		if b.Len() > 0 {
			out = append(out, strings.TrimSpace(b.String()))
			b.Reset()
		}
	}

	for _, s := range sections {
		part := formatSection(s)
		if utf8.RuneCountInString(b.String())+utf8.RuneCountInString(part) > maxMessageRunes {
			flush()
		}
		b.WriteString(truncateRunes(part, maxMessageRunes))
		b.WriteString("\n")
	}
	flush()
	return out
}

func formatSection(s digest.Section) string {
	var b strings.Builder
	fmt.Fprintf(&b, "<b>%s</b> (%d)\n", html.EscapeString(string(s.Category)), s.Count)
	b.WriteString(html.EscapeString(s.Synthesis))
	b.WriteString("\n")
	for i, a := range s.Top {
		fmt.Fprintf(&b, "%d. <a href=\"%s\">%s</a>\n", i+1, html.EscapeString(a.Link), html.EscapeString(a.Title))
	}
	return b.String()
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
