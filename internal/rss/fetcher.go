package rss

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/mmcdole/gofeed"
	ext "github.com/mmcdole/gofeed/extensions"
)

// DefaultUserAgent is browser-like because several providers reject generic clients.
const DefaultUserAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36 techwatch/1.0"

const defaultMaxFeedBytes = 10 << 20

var (
	ErrEmptyFeed   = errors.New("empty feed document")
	ErrMalformed   = errors.New("malformed feed document")
	ErrTooManyHops = errors.New("too many redirects")
	ErrTooLarge    = errors.New("feed document exceeds size limit")
)

// StatusError is returned for any non-2xx feed response.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("feed %s: unexpected status %d", e.URL, e.StatusCode)
}

// Feed is the parsed form of one feed document.
type Feed struct {
	Title    string
	ImageURL string
	Items    []Item
}

// Item is one feed entry. Description and Content keep their raw HTML;
// Snippet is the plain-text rendering of Description (or Content).
type Item struct {
	Title       string
	Link        string
	Description string
	Content     string
	Snippet     string
	Published   *time.Time
	ImageURL    string
	Enclosures  []Enclosure
	Media       []Media
}

type Enclosure struct {
	URL  string
	Type string
}

// Media is a media:content or media:thumbnail element.
type Media struct {
	URL       string
	Type      string
	Medium    string
	Thumbnail bool
}

type FetcherConfig struct {
	Timeout      time.Duration
	MaxRedirects int
	UserAgent    string
	// MaxBytes caps the feed body; larger documents fail with ErrTooLarge.
	MaxBytes int64
}

// Fetcher downloads and parses feed documents.
type Fetcher struct {
	client    *http.Client
	userAgent string
	maxBytes  int64
}

func NewFetcher(cfg FetcherConfig) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.MaxRedirects <= 0 {
		cfg.MaxRedirects = 5
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = defaultMaxFeedBytes
	}
	maxHops := cfg.MaxRedirects

	return &Fetcher{
		userAgent: cfg.UserAgent,
		maxBytes:  cfg.MaxBytes,
		client: &http.Client{
			Timeout: cfg.Timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= maxHops {
					return ErrTooManyHops
				}
				return nil
			},
		},
	}
}

// Fetch downloads url and parses it as RSS, Atom or JSON feed.
func (f *Fetcher) Fetch(ctx context.Context, url string) (*Feed, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "application/rss+xml, application/atom+xml, application/xml, text/xml, */*")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, &StatusError{URL: url, StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", url, err)
	}
	if int64(len(body)) > f.maxBytes {
		return nil, fmt.Errorf("read %s: %w", url, ErrTooLarge)
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, ErrEmptyFeed
	}

	return Parse(body)
}

// Parse converts a raw feed document.
func Parse(body []byte) (*Feed, error) {
	parsed, err := gofeed.NewParser().Parse(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	feed := &Feed{Title: strings.TrimSpace(parsed.Title)}
	if parsed.Image != nil {
		feed.ImageURL = strings.TrimSpace(parsed.Image.URL)
	}

	feed.Items = make([]Item, 0, len(parsed.Items))
	for _, it := range parsed.Items {
		if it == nil {
			continue
		}
		feed.Items = append(feed.Items, convertItem(it))
	}
	return feed, nil
}

func convertItem(it *gofeed.Item) Item {
	item := Item{
		Title:       strings.TrimSpace(it.Title),
		Link:        strings.TrimSpace(it.Link),
		Description: it.Description,
		Content:     it.Content,
	}
	if item.Link == "" && len(it.Links) > 0 {
		item.Link = strings.TrimSpace(it.Links[0])
	}

	switch {
	case it.PublishedParsed != nil:
		t := *it.PublishedParsed
		item.Published = &t
	case it.UpdatedParsed != nil:
		t := *it.UpdatedParsed
		item.Published = &t
	}

	if it.Image != nil {
		item.ImageURL = strings.TrimSpace(it.Image.URL)
	}

	for _, enc := range it.Enclosures {
		if enc == nil || enc.URL == "" {
			continue
		}
		item.Enclosures = append(item.Enclosures, Enclosure{URL: enc.URL, Type: enc.Type})
	}

	item.Media = mediaElements(it.Extensions)

	src := it.Description
	if strings.TrimSpace(src) == "" {
		src = it.Content
	}
	item.Snippet = PlainText(src)

	return item
}

// mediaElements collects media:content and media:thumbnail, including those nested in media:group.
func mediaElements(exts ext.Extensions) []Media {
	media, ok := exts["media"]
	if !ok {
		return nil
	}

	var out []Media
	collect := func(m map[string][]ext.Extension) {
		for _, e := range m["content"] {
			if u := e.Attrs["url"]; u != "" {
				out = append(out, Media{URL: u, Type: e.Attrs["type"], Medium: e.Attrs["medium"]})
			}
		}
		for _, e := range m["thumbnail"] {
			if u := e.Attrs["url"]; u != "" {
				out = append(out, Media{URL: u, Thumbnail: true})
			}
		}
	}

	collect(media)
	for _, g := range media["group"] {
		collect(g.Children)
	}
	return out
}

// PlainText strips markup and collapses whitespace.
func PlainText(html string) string {
	if strings.TrimSpace(html) == "" {
		return ""
	}
	if !strings.Contains(html, "<") {
		return strings.Join(strings.Fields(html), " ")
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return strings.Join(strings.Fields(html), " ")
	}
	return strings.Join(strings.Fields(doc.Text()), " ")
}
