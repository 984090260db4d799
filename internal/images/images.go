// Package images picks a representative image for a feed item.
package images

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/deusflow/techwatch/internal/rss"
)

// PageFetcher loads a landing page as HTML. scraper.Fetcher satisfies it.
type PageFetcher interface {
	Document(ctx context.Context, rawURL string) (*goquery.Document, error)
}

type Resolver struct {
	pages PageFetcher
}

// NewResolver builds a resolver; pages may be nil to disable the landing-page strategy.
func NewResolver(pages PageFetcher) *Resolver {
	return &Resolver{pages: pages}
}

// Resolve tries, in order: feed enclosure or media element, first <img> in the
// item HTML, og:image / twitter:image of the landing page. It returns "" with a
// nil error when nothing was found, and a non-nil error only when the
// landing-page fetch failed; callers treat both as "no image".
func (r *Resolver) Resolve(ctx context.Context, item rss.Item) (string, error) {
	if img := FromFeed(item); img != "" {
		return absolute(item.Link, img), nil
	}
	if img := FromHTML(item.Content, item.Description); img != "" {
		return absolute(item.Link, img), nil
	}
	if r.pages == nil || item.Link == "" {
		return "", nil
	}

	doc, err := r.pages.Document(ctx, item.Link)
	if err != nil {
		return "", fmt.Errorf("landing page image: %w", err)
	}
	if img := FromMeta(doc); img != "" {
		return absolute(item.Link, img), nil
	}
	return "", nil
}

// FromFeed returns the first enclosure or media element declared as an image.
func FromFeed(item rss.Item) string {
	for _, enc := range item.Enclosures {
		if isImageType(enc.Type) {
			return strings.TrimSpace(enc.URL)
		}
	}
	for _, m := range item.Media {
		if m.Thumbnail {
			continue
		}
		if isImageType(m.Type) || strings.EqualFold(m.Medium, "image") {
			return strings.TrimSpace(m.URL)
		}
	}
	for _, m := range item.Media {
		if m.Thumbnail {
			return strings.TrimSpace(m.URL)
		}
	}
	return strings.TrimSpace(item.ImageURL)
}

// FromHTML returns the first <img src> found in the given fragments.
func FromHTML(fragments ...string) string {
	for _, frag := range fragments {
		if !strings.Contains(frag, "<img") {
			continue
		}
		doc, err := goquery.NewDocumentFromReader(strings.NewReader(frag))
		if err != nil {
			continue
		}
		var src string
		doc.Find("img").EachWithBreak(func(_ int, s *goquery.Selection) bool {
			for _, attr := range []string{"src", "data-src"} {
				if v, ok := s.Attr(attr); ok && strings.TrimSpace(v) != "" && !strings.HasPrefix(v, "data:") {
					src = strings.TrimSpace(v)
					return false
				}
			}
			return true
		})
		if src != "" {
			return src
		}
	}
	return ""
}

// FromMeta reads og:image, then twitter:image.
func FromMeta(doc *goquery.Document) string {
	selectors := []string{
		`meta[property="og:image"]`,
		`meta[property="og:image:url"]`,
		`meta[name="twitter:image"]`,
		`meta[property="twitter:image"]`,
	}
	for _, sel := range selectors {
		if v, ok := doc.Find(sel).First().Attr("content"); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

func isImageType(t string) bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(t)), "image/")
}

// absolute resolves ref against the article link; unparsable input is returned as is.
func absolute(base, ref string) string {
	r, err := url.Parse(ref)
	if err != nil || r.IsAbs() {
		return ref
	}
	b, err := url.Parse(base)
	if err != nil || !b.IsAbs() {
		return ref
	}
	return b.ResolveReference(r).String()
}
