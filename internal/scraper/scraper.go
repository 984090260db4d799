// Package scraper fetches article landing pages. Every fetch is bounded in
// time and size and refuses to connect to loopback, private or link-local
// addresses, including after redirects and DNS resolution.
package scraper

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"syscall"
	"time"

	"github.com/PuerkitoBio/goquery"
	readability "github.com/go-shiori/go-readability"
)

var (
	ErrBlockedAddress = errors.New("destination address is not allowed")
	ErrTooLarge       = errors.New("response exceeds size limit")
	ErrScheme         = errors.New("only http and https URLs can be fetched")
)

type Config struct {
	Timeout      time.Duration
	MaxBytes     int64
	MaxRedirects int
	UserAgent    string
	// AllowPrivate disables the address guard. Tests only.
	AllowPrivate bool
}

type Fetcher struct {
	client       *http.Client
	maxBytes     int64
	userAgent    string
	allowPrivate bool
}

func NewFetcher(cfg Config) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = 1 << 20
	}
	if cfg.MaxRedirects <= 0 {
		cfg.MaxRedirects = 5
	}

	dialer := &net.Dialer{Timeout: cfg.Timeout}
	if !cfg.AllowPrivate {
		dialer.Control = guardControl
	}
	transport := &http.Transport{
		Proxy:                 nil,
		DialContext:           dialer.DialContext,
		TLSHandshakeTimeout:   cfg.Timeout,
		ResponseHeaderTimeout: cfg.Timeout,
		MaxIdleConns:          10,
		IdleConnTimeout:       30 * time.Second,
	}

	maxHops := cfg.MaxRedirects
	return &Fetcher{
		maxBytes:     cfg.MaxBytes,
		userAgent:    cfg.UserAgent,
		allowPrivate: cfg.AllowPrivate,
		client: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: transport,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= maxHops {
					return errors.New("too many redirects")
				}
				return checkURL(req.URL, cfg.AllowPrivate)
			},
		},
	}
}

// guardControl runs after DNS resolution, on the actual address being dialed.
func guardControl(network, address string, _ syscall.RawConn) error {
	host, _, err := net.SplitHostPort(address)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrBlockedAddress, address)
	}
	ip := net.ParseIP(host)
	if ip == nil || IsBlockedIP(ip) {
		return fmt.Errorf("%w: %s", ErrBlockedAddress, host)
	}
	return nil
}

var cgnat = &net.IPNet{IP: net.IPv4(100, 64, 0, 0), Mask: net.CIDRMask(10, 32)}

// IsBlockedIP reports addresses a landing-page fetch must never reach.
func IsBlockedIP(ip net.IP) bool {
	return ip.IsLoopback() ||
		ip.IsPrivate() ||
		ip.IsLinkLocalUnicast() ||
		ip.IsLinkLocalMulticast() ||
		ip.IsInterfaceLocalMulticast() ||
		ip.IsMulticast() ||
		ip.IsUnspecified() ||
		cgnat.Contains(ip)
}

func checkURL(u *url.URL, allowPrivate bool) error {
	if u.Scheme != "http" && u.Scheme != "https" {
		return ErrScheme
	}
	if allowPrivate {
		return nil
	}
	host := strings.ToLower(u.Hostname())
	if host == "" || host == "localhost" || strings.HasSuffix(host, ".localhost") || strings.HasSuffix(host, ".internal") {
		return fmt.Errorf("%w: %s", ErrBlockedAddress, host)
	}
	if ip := net.ParseIP(host); ip != nil && IsBlockedIP(ip) {
		return fmt.Errorf("%w: %s", ErrBlockedAddress, host)
	}
	return nil
}

// Fetch downloads rawURL and returns the body and the final URL after redirects.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) ([]byte, *url.URL, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, nil, fmt.Errorf("parse url: %w", err)
	}
	if err := checkURL(u, f.allowPrivate); err != nil {
		return nil, nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, nil, fmt.Errorf("build request: %w", err)
	}
	if f.userAgent != "" {
		req.Header.Set("User-Agent", f.userAgent)
	}
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("error loading page: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, nil, fmt.Errorf("HTTP error: %d", resp.StatusCode)
	}
	if resp.ContentLength > f.maxBytes {
		return nil, nil, ErrTooLarge
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes+1))
	if err != nil {
		return nil, nil, fmt.Errorf("read body: %w", err)
	}
	if int64(len(body)) > f.maxBytes {
		return nil, nil, ErrTooLarge
	}
	return body, resp.Request.URL, nil
}

// Document fetches rawURL and parses it as HTML.
func (f *Fetcher) Document(ctx context.Context, rawURL string) (*goquery.Document, error) {
	body, final, err := f.Fetch(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("error parsing HTML: %w", err)
	}
	doc.Url = final
	return doc, nil
}

// ExtractText returns the readable text of a landing page: readability first,
// then the paragraph selectors.
func (f *Fetcher) ExtractText(ctx context.Context, rawURL string) (string, error) {
	body, final, err := f.Fetch(ctx, rawURL)
	if err != nil {
		return "", err
	}

	if article, err := readability.FromReader(bytes.NewReader(body), final); err == nil {
		if text := collapseSpaces(article.TextContent); len(text) > 0 {
			return text, nil
		}
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("error parsing HTML: %w", err)
	}
	content := extractGenericContent(doc)
	if content == "" {
		return "", fmt.Errorf("can't get content")
	}
	return content, nil
}

// extractGenericContent is universal parser for any site
func extractGenericContent(doc *goquery.Document) string {
	var best []string

	// Try most popular selectors
	selectors := []string{
		"article p",
		".article p",
		".content p",
		".post-content p",
		".entry-content p",
		"main p",
		"#content p",
		".text p",
		"p",
	}

	for _, selector := range selectors {
		var paragraphs []string
		doc.Find(selector).Each(func(i int, s *goquery.Selection) {
			text := collapseSpaces(s.Text())
			if len(text) > 20 {
				paragraphs = append(paragraphs, text)
			}
		})
		if len(paragraphs) > len(best) {
			best = paragraphs
		}
		if len(best) >= 3 { // If we find 3 paragraphs, it's enough
			break
		}
	}

	return strings.Join(best, "\n\n")
}

func collapseSpaces(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
