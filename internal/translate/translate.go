// Package translate is the primary translation provider: a LibreTranslate server.
package translate

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/deusflow/techwatch/internal/enrich"
)

const DefaultURL = "http://libretranslate:5000/translate"

type Client struct {
	url    string
	target string
	http   *http.Client
}

func NewClient(url, target string, timeout time.Duration) *Client {
	if url == "" {
		url = DefaultURL
	}
	if target == "" {
		target = "fr"
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Client{url: url, target: target, http: &http.Client{Timeout: timeout}}
}

type request struct {
	Q      string `json:"q"`
	Source string `json:"source"`
	Target string `json:"target"`
	Format string `json:"format"`
}

type response struct {
	TranslatedText string `json:"translatedText"`
	Error          string `json:"error"`
}

// Translate returns enrich.ErrUnreachable for transport failures and
// enrich.ErrRateLimited for HTTP 429.
func (c *Client) Translate(ctx context.Context, text string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return text, nil
	}

	body, err := json.Marshal(request{Q: text, Source: "auto", Target: c.target, Format: "text"})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		if isConnectionError(err) {
			return "", fmt.Errorf("%w: %v", enrich.ErrUnreachable, err)
		}
		return "", fmt.Errorf("libretranslate: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return "", fmt.Errorf("%w: libretranslate status 429", enrich.ErrRateLimited)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("libretranslate returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var out response
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if out.Error != "" {
		return "", fmt.Errorf("libretranslate: %s", out.Error)
	}
	if strings.TrimSpace(out.TranslatedText) == "" {
		return "", errors.New("libretranslate: empty translation")
	}
	return out.TranslatedText, nil
}

// isConnectionError covers refused connections, DNS failures and timeouts.
func isConnectionError(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr)
}
