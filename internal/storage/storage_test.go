package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/deusflow/techwatch/internal/news"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), SQLite, ":memory:", nil)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func mustSource(t *testing.T, s *Store, url string) *news.Source {
	t.Helper()
	src := &news.Source{Name: "Example", URL: url, Category: news.CategoryCloud}
	if err := s.CreateSource(context.Background(), src); err != nil {
		t.Fatalf("CreateSource() error = %v", err)
	}
	return src
}

func mustArticle(t *testing.T, s *Store, a news.Article) *news.Article {
	t.Helper()
	if a.Category == "" {
		a.Category = news.CategoryAI
	}
	if a.Date.IsZero() {
		a.Date = time.Now()
	}
	if err := s.CreateArticle(context.Background(), &a); err != nil {
		t.Fatalf("CreateArticle(%s) error = %v", a.Link, err)
	}
	return &a
}

func TestSources(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	src := mustSource(t, s, "https://example.com/feed")
	if src.ID == 0 {
		t.Fatal("expected an id")
	}

	dup := &news.Source{Name: "Again", URL: "https://example.com/feed", Category: news.CategoryAI}
	if err := s.CreateSource(ctx, dup); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("duplicate url error = %v", err)
	}

	if err := s.UpdateSourceImage(ctx, src.ID, "https://example.com/favicon.ico"); err != nil {
		t.Fatal(err)
	}
	fetched := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)
	if err := s.MarkSourceFetched(ctx, src.ID, fetched); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetSource(ctx, src.ID)
	if err != nil {
		t.Fatalf("GetSource() error = %v", err)
	}
	if got.Image != "https://example.com/favicon.ico" || got.LastFetched == nil || !got.LastFetched.Equal(fetched) {
		t.Fatalf("unexpected source: %+v", got)
	}
	if got.Category != news.CategoryCloud {
		t.Fatalf("category = %q", got.Category)
	}

	list, err := s.ListSources(ctx)
	if err != nil || len(list) != 1 {
		t.Fatalf("ListSources() = %v, %v", list, err)
	}

	if _, err := s.GetSource(ctx, 999); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing source error = %v", err)
	}
}

func TestDeleteSourceCascades(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	keep := mustSource(t, s, "https://keep.example.com/feed")
	drop := mustSource(t, s, "https://drop.example.com/feed")
	mustArticle(t, s, news.Article{Title: "a", Link: "https://drop.example.com/1", SourceID: drop.ID})
	mustArticle(t, s, news.Article{Title: "b", Link: "https://drop.example.com/2", SourceID: drop.ID})
	mustArticle(t, s, news.Article{Title: "c", Link: "https://keep.example.com/1", SourceID: keep.ID})

	if err := s.DeleteSource(ctx, drop.ID); err != nil {
		t.Fatalf("DeleteSource() error = %v", err)
	}
	_, total, err := s.ListArticles(ctx, ArticleFilter{})
	if err != nil || total != 1 {
		t.Fatalf("remaining articles = %d, %v", total, err)
	}
	if err := s.DeleteSource(ctx, drop.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second delete error = %v", err)
	}
}

func TestFindDuplicate(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	src := mustSource(t, s, "https://example.com/feed")
	mustArticle(t, s, news.Article{
		Title: "AI breakthrough", Link: "https://x.com/a", SourceID: src.ID,
		Fingerprint: "fp-1", DedupKey: "dk-1",
	})

	cases := []struct {
		name string
		q    DuplicateQuery
		want bool
	}{
		{"normalized link", DuplicateQuery{Links: []string{"https://x.com/a"}}, true},
		{"raw link variant", DuplicateQuery{Links: []string{"https://x.com/a?utm_source=rss", "https://x.com/a"}}, true},
		{"fingerprint", DuplicateQuery{Links: []string{"https://other"}, Fingerprint: "fp-1"}, true},
		{"dedup key", DuplicateQuery{DedupKey: "dk-1"}, true},
		{"no match", DuplicateQuery{Links: []string{"https://other"}, Fingerprint: "fp-2", DedupKey: "dk-2"}, false},
		{"empty", DuplicateQuery{Links: []string{""}}, false},
	}
	for _, tc := range cases {
		got, err := s.FindDuplicate(ctx, tc.q)
		if err != nil {
			t.Fatalf("%s: %v", tc.name, err)
		}
		if got != tc.want {
			t.Errorf("%s: FindDuplicate() = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestCreateArticleUniqueViolations(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	src := mustSource(t, s, "https://example.com/feed")
	mustArticle(t, s, news.Article{Title: "t", Link: "https://x.com/a", SourceID: src.ID, Fingerprint: "fp", DedupKey: "dk"})

	for _, a := range []news.Article{
		{Title: "t", Link: "https://x.com/a", SourceID: src.ID},
		{Title: "t", Link: "https://x.com/b", SourceID: src.ID, Fingerprint: "fp"},
		{Title: "t", Link: "https://x.com/c", SourceID: src.ID, DedupKey: "dk"},
	} {
		a.Category = news.CategoryAI
		a.Date = time.Now()
		if err := s.CreateArticle(ctx, &a); !errors.Is(err, ErrDuplicate) {
			t.Errorf("CreateArticle(%s) error = %v, want ErrDuplicate", a.Link, err)
		}
	}

	// articles without signals never collide on NULL columns
	mustArticle(t, s, news.Article{Title: "u", Link: "https://x.com/d", SourceID: src.ID})
	mustArticle(t, s, news.Article{Title: "v", Link: "https://x.com/e", SourceID: src.ID})
}

func TestListArticles(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	src := mustSource(t, s, "https://example.com/feed")
	other := mustSource(t, s, "https://other.example.com/feed")
	now := time.Now().UTC()

	mustArticle(t, s, news.Article{Title: "Kubernetes release", Link: "https://e.com/1", Date: now.Add(-1 * time.Hour), Category: news.CategoryCloud, SourceID: src.ID})
	mustArticle(t, s, news.Article{Title: "New LLM", Content: "a kubernetes operator", Link: "https://e.com/2", Date: now.Add(-2 * time.Hour), Category: news.CategoryAI, SourceID: src.ID, Bookmarked: true})
	mustArticle(t, s, news.Article{Title: "Patch Tuesday", Link: "https://e.com/3", Date: now.Add(-30 * time.Hour), Category: news.CategoryCybersecurity, SourceID: other.ID})

	items, total, err := s.ListArticles(ctx, ArticleFilter{Limit: 2})
	if err != nil {
		t.Fatal(err)
	}
	if total != 3 || len(items) != 2 || items[0].Link != "https://e.com/1" {
		t.Fatalf("page 1 = %d items of %d, first %q", len(items), total, items[0].Link)
	}
	if items[0].SourceName != "Example" {
		t.Fatalf("source name = %q", items[0].SourceName)
	}

	items, _, _ = s.ListArticles(ctx, ArticleFilter{Limit: 2, Offset: 2})
	if len(items) != 1 || items[0].Link != "https://e.com/3" {
		t.Fatalf("page 2 = %+v", items)
	}

	items, total, _ = s.ListArticles(ctx, ArticleFilter{Search: "KUBERNETES"})
	if total != 2 || len(items) != 2 {
		t.Fatalf("search matched %d", total)
	}

	_, total, _ = s.ListArticles(ctx, ArticleFilter{Category: news.CategoryAI})
	if total != 1 {
		t.Fatalf("category filter matched %d", total)
	}

	_, total, _ = s.ListArticles(ctx, ArticleFilter{SourceID: other.ID})
	if total != 1 {
		t.Fatalf("source filter matched %d", total)
	}

	yes := true
	_, total, _ = s.ListArticles(ctx, ArticleFilter{Bookmarked: &yes})
	if total != 1 {
		t.Fatalf("bookmark filter matched %d", total)
	}

	_, total, _ = s.ListArticles(ctx, ArticleFilter{Since: now.Add(-24 * time.Hour), Until: now})
	if total != 2 {
		t.Fatalf("window matched %d", total)
	}
}

func TestSummaryAndBookmark(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	src := mustSource(t, s, "https://example.com/feed")
	a := mustArticle(t, s, news.Article{Title: "t", Link: "https://x.com/a", SourceID: src.ID})

	ok, err := s.SetSummary(ctx, a.ID, "first")
	if err != nil || !ok {
		t.Fatalf("SetSummary() = %v, %v", ok, err)
	}
	ok, _ = s.SetSummary(ctx, a.ID, "second")
	if ok {
		t.Fatal("summary must only be set once")
	}
	got, _ := s.GetArticle(ctx, a.ID)
	if got.Summary != "first" {
		t.Fatalf("summary = %q", got.Summary)
	}

	on, err := s.ToggleBookmark(ctx, a.ID)
	if err != nil || !on {
		t.Fatalf("ToggleBookmark() = %v, %v", on, err)
	}
	off, _ := s.ToggleBookmark(ctx, a.ID)
	if off {
		t.Fatal("second toggle should clear the bookmark")
	}
	if _, err := s.ToggleBookmark(ctx, 999); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing article error = %v", err)
	}
}

func TestDeleteStaleArticles(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	src := mustSource(t, s, "https://example.com/feed")
	now := time.Now()
	mustArticle(t, s, news.Article{Title: "old", Link: "https://x.com/old", Date: now.AddDate(0, 0, -31), SourceID: src.ID})
	mustArticle(t, s, news.Article{Title: "old kept", Link: "https://x.com/old-bm", Date: now.AddDate(0, 0, -31), SourceID: src.ID, Bookmarked: true})
	mustArticle(t, s, news.Article{Title: "fresh", Link: "https://x.com/fresh", Date: now.AddDate(0, 0, -2), SourceID: src.ID})

	n, err := s.DeleteStaleArticles(ctx, now.AddDate(0, 0, -30))
	if err != nil || n != 1 {
		t.Fatalf("DeleteStaleArticles() = %d, %v", n, err)
	}
	items, _, _ := s.ListArticles(ctx, ArticleFilter{})
	if len(items) != 2 {
		t.Fatalf("remaining = %d", len(items))
	}
	for _, a := range items {
		if a.Link == "https://x.com/old" {
			t.Fatal("stale unbookmarked article survived")
		}
	}
}

func TestParseDialect(t *testing.T) {
	t.Parallel()

	if d, err := ParseDialect("postgres"); err != nil || d != Postgres {
		t.Fatalf("postgres = %v, %v", d, err)
	}
	if d, err := ParseDialect("sqlite3"); err != nil || d != SQLite {
		t.Fatalf("sqlite3 = %v, %v", d, err)
	}
	if _, err := ParseDialect("mysql"); err == nil {
		t.Fatal("mysql should be rejected")
	}
}

func TestPlaceholderFormatPerDialect(t *testing.T) {
	t.Parallel()
	tests := []struct {
		dialect Dialect
		want    string
	}{
		{Postgres, "SELECT id FROM articles WHERE link = $1"},
		{SQLite, "SELECT id FROM articles WHERE link = ?"},
	}
	for _, tt := range tests {
		s := New(nil, tt.dialect, nil)
		query, _, err := s.sb.Select("id").From("articles").Where("link = ?", "https://x.com/a").ToSql()
		if err != nil {
			t.Fatal(err)
		}
		if query != tt.want {
			t.Errorf("%s: query = %q, want %q", tt.dialect, query, tt.want)
		}
	}
}
