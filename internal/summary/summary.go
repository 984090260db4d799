// Package summary produces the one-time AI summary of a stored article.
package summary

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/deusflow/techwatch/internal/news"
)

// minContentRunes is the stored-content length below which the landing page is read instead.
const minContentRunes = 200

type Store interface {
	GetArticle(ctx context.Context, id int64) (*news.Article, error)
	SetSummary(ctx context.Context, id int64, summary string) (bool, error)
}

type Summarizer interface {
	Summarize(ctx context.Context, existing, content string) (string, bool, error)
}

// TextExtractor returns the readable text of a web page. scraper.Fetcher satisfies it.
type TextExtractor interface {
	ExtractText(ctx context.Context, rawURL string) (string, error)
}

type Service struct {
	store Store
	ai    Summarizer
	pages TextExtractor
	log   *slog.Logger
}

// New builds the service; pages may be nil to summarize stored content only.
func New(store Store, ai Summarizer, pages TextExtractor, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{store: store, ai: ai, pages: pages, log: log.With("component", "summary")}
}

// SummarizeOne returns the article summary, computing and storing it on first
// request. Later calls return the stored text unchanged.
func (s *Service) SummarizeOne(ctx context.Context, id int64) (string, error) {
	a, err := s.store.GetArticle(ctx, id)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(a.Summary) != "" {
		return a.Summary, nil
	}

	summary, fresh, err := s.ai.Summarize(ctx, "", s.sourceText(ctx, a))
	if err != nil {
		return "", fmt.Errorf("summarize article %d: %w", id, err)
	}
	if !fresh {
		return summary, nil
	}

	stored, err := s.store.SetSummary(ctx, id, summary)
	if err != nil {
		return "", err
	}
	if !stored {
		// a concurrent request won; keep its text
		if a, err := s.store.GetArticle(ctx, id); err == nil && a.Summary != "" {
			return a.Summary, nil
		}
	}
	return summary, nil
}

func (s *Service) sourceText(ctx context.Context, a *news.Article) string {
	content := strings.TrimSpace(a.Content)
	if utf8.RuneCountInString(content) < minContentRunes && s.pages != nil && a.Link != "" {
		text, err := s.pages.ExtractText(ctx, a.Link)
		if err != nil {
			s.log.Debug("page extraction failed", "link", a.Link, "error", err)
		} else if utf8.RuneCountInString(text) > utf8.RuneCountInString(content) {
			content = text
		}
	}
	if content == "" {
		content = a.Title
	}
	return content
}
