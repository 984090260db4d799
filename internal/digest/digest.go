// Package digest builds the per-category daily digest.
package digest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/deusflow/techwatch/internal/cache"
	"github.com/deusflow/techwatch/internal/enrich"
	"github.com/deusflow/techwatch/internal/news"
	"github.com/deusflow/techwatch/internal/storage"
)

const (
	DefaultWindow = 24 * time.Hour
	maxExcerpts   = 15
	topArticles   = 5
)

type Store interface {
	ListArticles(ctx context.Context, f storage.ArticleFilter) ([]news.Article, int, error)
}

type Synthesizer interface {
	Synthesize(ctx context.Context, category news.Category, excerpts []enrich.Excerpt) string
}

type ArticleRef struct {
	ID     int64     `json:"id"`
	Title  string    `json:"title"`
	Link   string    `json:"link"`
	Image  string    `json:"image,omitempty"`
	Source string    `json:"source,omitempty"`
	Date   time.Time `json:"date"`
}

type Section struct {
	Category  news.Category `json:"category"`
	Synthesis string        `json:"synthesis"`
	Count     int           `json:"count"`
	HeroImage string        `json:"heroImage,omitempty"`
	Top       []ArticleRef  `json:"top"`
}

type Builder struct {
	store Store
	ai    Synthesizer
	cache *cache.Cache[[]Section]
	ttl   time.Duration
	now   func() time.Time
	log   *slog.Logger
}

// NewBuilder builds a digest builder. A nil cache or non-positive ttl disables memoization.
func NewBuilder(store Store, ai Synthesizer, c *cache.Cache[[]Section], ttl time.Duration, log *slog.Logger) *Builder {
	if log == nil {
		log = slog.Default()
	}
	return &Builder{
		store: store,
		ai:    ai,
		cache: c,
		ttl:   ttl,
		now:   time.Now,
		log:   log.With("component", "digest"),
	}
}

// Build groups the articles published within window by category and
// synthesizes each non-empty one. Sections follow news.Categories order;
// spam and unclassified articles are left out.
func (b *Builder) Build(ctx context.Context, window time.Duration) ([]Section, error) {
	if window <= 0 {
		window = DefaultWindow
	}
	key := cache.GenerateKey("digest", window.String())
	if b.cache != nil && b.ttl > 0 {
		if sections, ok := b.cache.Get(key); ok {
			return sections, nil
		}
	}

	now := b.now()
	articles, _, err := b.store.ListArticles(ctx, storage.ArticleFilter{Since: now.Add(-window), Until: now})
	if err != nil {
		return nil, fmt.Errorf("list digest articles: %w", err)
	}

	// articles arrive newest first and keep that order inside each group
	groups := make(map[news.Category][]news.Article)
	for _, a := range articles {
		if !a.Category.Valid() || a.Category == news.CategoryUnclassified {
			continue
		}
		groups[a.Category] = append(groups[a.Category], a)
	}

	sections := make([]Section, 0, len(groups))
	for _, c := range news.Categories {
		items := groups[c]
		if len(items) == 0 {
			continue
		}
		sections = append(sections, b.section(ctx, c, items))
	}

	if b.cache != nil && b.ttl > 0 && !degraded(sections) {
		b.cache.Set(key, sections, b.ttl)
	}
	b.log.Info("digest built", "window", window.String(), "articles", len(articles), "sections", len(sections))
	return sections, nil
}

// degraded reports whether any synthesis fell back to the unavailable
// message. Such results are not cached so the next build retries the AI.
func degraded(sections []Section) bool {
	for _, s := range sections {
		if s.Synthesis == enrich.DigestUnavailable {
			return true
		}
	}
	return false
}

func (b *Builder) section(ctx context.Context, c news.Category, items []news.Article) Section {
	s := Section{Category: c, Count: len(items)}
	for _, a := range items {
		if a.Image != "" {
			s.HeroImage = a.Image
			break
		}
	}

	excerpts := make([]enrich.Excerpt, 0, min(len(items), maxExcerpts))
	for _, a := range items[:min(len(items), maxExcerpts)] {
		excerpts = append(excerpts, enrich.Excerpt{Title: a.Title, Snippet: a.Content})
	}
	s.Synthesis = b.ai.Synthesize(ctx, c, excerpts)

	for _, a := range items[:min(len(items), topArticles)] {
		s.Top = append(s.Top, ArticleRef{
			ID:     a.ID,
			Title:  a.Title,
			Link:   a.Link,
			Image:  a.Image,
			Source: a.SourceName,
			Date:   a.Date,
		})
	}
	return s
}
