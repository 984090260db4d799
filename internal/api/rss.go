package api

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/feeds"

	"github.com/deusflow/techwatch/internal/news"
	"github.com/deusflow/techwatch/internal/storage"
)

const rssItems = 50

func (s *Server) handleRSS(w http.ResponseWriter, r *http.Request) {
	articles, _, err := s.deps.Store.ListArticles(r.Context(), storage.ArticleFilter{Limit: rssItems})
	if err != nil {
		s.writeError(w, err)
		return
	}

	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	out, err := GenerateRSSFeed(articles, scheme+"://"+r.Host, time.Now())
	if err != nil {
		s.writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/rss+xml; charset=utf-8")
	_, _ = w.Write([]byte(out))
}

// GenerateRSSFeed republishes stored articles as RSS 2.0.
func GenerateRSSFeed(articles []news.Article, baseURL string, now time.Time) (string, error) {
	feed := &feeds.Feed{
		Title:       "techwatch",
		Link:        &feeds.Link{Href: baseURL},
		Description: "Deduplicated and translated technology news",
		Created:     now,
	}

	feed.Items = make([]*feeds.Item, 0, len(articles))
	for _, a := range articles {
		item := &feeds.Item{
			Title:       a.Title,
			Link:        &feeds.Link{Href: a.Link},
			Id:          baseURL + "/api/articles/" + strconv.FormatInt(a.ID, 10),
			Description: truncate(a.Content, 500),
			Created:     a.Date,
		}
		if a.SourceName != "" {
			item.Author = &feeds.Author{Name: a.SourceName}
		}
		feed.Items = append(feed.Items, item)
	}

	rss, err := feed.ToRss()
	if err != nil {
		return "", fmt.Errorf("failed to generate RSS: %w", err)
	}
	return rss, nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
