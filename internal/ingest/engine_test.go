package ingest

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/deusflow/techwatch/internal/metrics"
	"github.com/deusflow/techwatch/internal/news"
	"github.com/deusflow/techwatch/internal/rss"
	"github.com/deusflow/techwatch/internal/storage"
)

type fakeEnricher struct {
	mu         sync.Mutex
	translated int
}

func (f *fakeEnricher) Translate(_ context.Context, text string) string {
	f.mu.Lock()
	f.translated++
	f.mu.Unlock()
	return text
}

func (f *fakeEnricher) Categorize(_ context.Context, title, _ string) (news.Category, bool) {
	switch {
	case strings.HasPrefix(title, "Sponsored"):
		return news.CategorySpam, true
	case strings.Contains(title, "Kubernetes"):
		return news.CategoryCloud, true
	}
	return "", false
}

func noSleep(context.Context, time.Duration) error { return nil }

func newStore(t *testing.T) *storage.Store {
	t.Helper()
	s, err := storage.Open(context.Background(), storage.SQLite, ":memory:", nil)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func addSource(t *testing.T, s *storage.Store, name, url string, c news.Category) *news.Source {
	t.Helper()
	src := &news.Source{Name: name, URL: url, Category: c}
	if err := s.CreateSource(context.Background(), src); err != nil {
		t.Fatalf("create source: %v", err)
	}
	return src
}

func feedXML(now time.Time) string {
	recent := now.Add(-time.Hour).Format(time.RFC1123Z)
	old := now.AddDate(0, 0, -8).Format(time.RFC1123Z)
	return fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0">
<channel>
  <title>Example Tech</title>
  <link>https://example.com</link>
  <image><url>https://example.com/logo.png</url><title>Example</title><link>https://example.com</link></image>
  <item>
    <title>AI breakthrough</title>
    <link>https://x.com/a?utm_source=rss</link>
    <description>A new model beats every benchmark</description>
    <pubDate>%[1]s</pubDate>
  </item>
  <item>
    <title>Old news</title>
    <link>https://x.com/old</link>
    <description>Already stale</description>
    <pubDate>%[2]s</pubDate>
  </item>
  <item>
    <title>Sponsored: the best VPN deal</title>
    <link>https://x.com/deal</link>
    <description>Buy now</description>
    <pubDate>%[1]s</pubDate>
  </item>
  <item>
    <title>No link here</title>
    <description>Nothing to point at</description>
    <pubDate>%[1]s</pubDate>
  </item>
  <item>
    <title>AI   Breakthrough</title>
    <link>https://mirror.example.org/ai</link>
    <description>A new model beats  every benchmark</description>
    <pubDate>%[1]s</pubDate>
  </item>
  <item>
    <title>Kubernetes 1.31 released</title>
    <link>https://k8s.example.io/blog/1.31</link>
    <description>Sidecar containers are stable</description>
  </item>
</channel>
</rss>`, recent, old)
}

func serveFeed(t *testing.T, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/rss+xml")
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newEngine(store *storage.Store, enricher Enricher, m *metrics.Metrics) *Engine {
	fetcher := rss.NewFetcher(rss.FetcherConfig{Timeout: 2 * time.Second})
	sweeper := NewSweeper(store, 30*24*time.Hour, m, nil)
	return NewEngine(store, fetcher, nil, enricher, sweeper, Config{Sleep: noSleep}, m, nil)
}

func TestRunCycleEndToEnd(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := newStore(t)
	srv := serveFeed(t, feedXML(time.Now()))
	src := addSource(t, store, "Example", srv.URL, news.CategoryAI)

	m := metrics.New()
	enricher := &fakeEnricher{}
	engine := newEngine(store, enricher, m)

	added, err := engine.RunCycle(ctx)
	if err != nil {
		t.Fatalf("RunCycle() error = %v", err)
	}
	if added != 2 {
		t.Fatalf("added = %d, want 2", added)
	}

	articles, _, err := store.ListArticles(ctx, storage.ArticleFilter{})
	if err != nil {
		t.Fatal(err)
	}
	byLink := map[string]news.Article{}
	for _, a := range articles {
		byLink[a.Link] = a
	}
	ai, ok := byLink["https://x.com/a"]
	if !ok {
		t.Fatalf("tracking parameters not stripped, stored: %v", byLink)
	}
	if ai.Category != news.CategoryAI {
		t.Fatalf("fallback category = %q, want source category", ai.Category)
	}
	if ai.Fingerprint == "" || ai.DedupKey == "" {
		t.Fatal("dedup signals not stored")
	}
	if k8s := byLink["https://k8s.example.io/blog/1.31"]; k8s.Category != news.CategoryCloud {
		t.Fatalf("classified category = %q", k8s.Category)
	}
	for _, banned := range []string{"https://x.com/deal", "https://x.com/old", "https://mirror.example.org/ai"} {
		if _, ok := byLink[banned]; ok {
			t.Errorf("%s should not be stored", banned)
		}
	}

	got, err := store.GetSource(ctx, src.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Image != "https://example.com/logo.png" {
		t.Fatalf("source image = %q", got.Image)
	}
	if got.LastFetched == nil {
		t.Fatal("last fetched not set")
	}

	calls := enricher.translated
	added, err = engine.RunCycle(ctx)
	if err != nil || added != 0 {
		t.Fatalf("second RunCycle() = %d, %v; want 0 new articles", added, err)
	}
	if enricher.translated != calls {
		t.Fatal("duplicates must not be enriched")
	}

	stats := m.GetStats()
	if stats["articles_added"].(int64) != 2 || stats["spam_skipped"].(int64) != 2 {
		t.Fatalf("metrics = %v", stats)
	}
}

func TestRunCycleIsolatesFailingSource(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := newStore(t)

	broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	t.Cleanup(broken.Close)
	good := serveFeed(t, strings.Replace(feedXML(time.Now()), `<image><url>https://example.com/logo.png</url><title>Example</title><link>https://example.com</link></image>`, "", 1))

	bad := addSource(t, store, "Broken", broken.URL, news.CategoryIT)
	ok := addSource(t, store, "Good", good.URL, news.CategoryAI)

	m := metrics.New()
	added, err := newEngine(store, &fakeEnricher{}, m).RunCycle(ctx)
	if err != nil {
		t.Fatalf("RunCycle() error = %v", err)
	}
	if added != 2 {
		t.Fatalf("added = %d, want 2", added)
	}

	if s, _ := store.GetSource(ctx, bad.ID); s.LastFetched != nil {
		t.Fatal("failed source must keep its last fetched time")
	}
	s, _ := store.GetSource(ctx, ok.ID)
	if s.LastFetched == nil {
		t.Fatal("good source not marked fetched")
	}
	if s.Image != good.URL+"/favicon.ico" {
		t.Fatalf("favicon guess = %q", s.Image)
	}
	if !m.Healthy() || m.GetStats()["fetch_failures"].(int64) != 1 {
		t.Fatalf("metrics = %v", m.GetStats())
	}
}

type blockingFetcher struct {
	started chan struct{}
	release chan struct{}
}

func (b *blockingFetcher) Fetch(ctx context.Context, _ string) (*rss.Feed, error) {
	close(b.started)
	<-b.release
	return &rss.Feed{}, nil
}

func TestRunCycleRejectsOverlap(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := newStore(t)
	addSource(t, store, "Slow", "https://slow.example.com/feed", news.CategoryAI)

	fetcher := &blockingFetcher{started: make(chan struct{}), release: make(chan struct{})}
	engine := NewEngine(store, fetcher, nil, &fakeEnricher{}, nil, Config{Sleep: noSleep}, nil, nil)

	done := make(chan error, 1)
	go func() {
		_, err := engine.RunCycle(ctx)
		done <- err
	}()

	<-fetcher.started
	if _, err := engine.RunCycle(ctx); !errors.Is(err, ErrCycleRunning) {
		t.Fatalf("concurrent RunCycle() error = %v, want ErrCycleRunning", err)
	}
	close(fetcher.release)
	if err := <-done; err != nil {
		t.Fatalf("first RunCycle() error = %v", err)
	}
}

type panickyResolver struct{}

func (panickyResolver) Resolve(context.Context, rss.Item) (string, error) {
	panic("boom")
}

func TestItemPanicIsContained(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := newStore(t)
	srv := serveFeed(t, feedXML(time.Now()))
	addSource(t, store, "Example", srv.URL, news.CategoryAI)

	fetcher := rss.NewFetcher(rss.FetcherConfig{Timeout: 2 * time.Second})
	engine := NewEngine(store, fetcher, panickyResolver{}, &fakeEnricher{}, nil, Config{Sleep: noSleep}, nil, nil)

	added, err := engine.RunCycle(ctx)
	if err != nil || added != 0 {
		t.Fatalf("RunCycle() = %d, %v", added, err)
	}
}

func TestSweeperKeepsBookmarked(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := newStore(t)
	src := addSource(t, store, "Example", "https://example.com/feed", news.CategoryAI)

	old := time.Now().AddDate(0, 0, -31)
	for _, a := range []news.Article{
		{Title: "stale", Link: "https://x.com/stale", Date: old, Category: news.CategoryAI, SourceID: src.ID},
		{Title: "kept", Link: "https://x.com/kept", Date: old, Category: news.CategoryAI, SourceID: src.ID, Bookmarked: true},
	} {
		if err := store.CreateArticle(ctx, &a); err != nil {
			t.Fatal(err)
		}
	}

	m := metrics.New()
	n, err := NewSweeper(store, 30*24*time.Hour, m, nil).Sweep(ctx)
	if err != nil || n != 1 {
		t.Fatalf("Sweep() = %d, %v", n, err)
	}
	left, _, _ := store.ListArticles(ctx, storage.ArticleFilter{})
	if len(left) != 1 || left[0].Link != "https://x.com/kept" {
		t.Fatalf("remaining = %+v", left)
	}
	if m.GetStats()["articles_swept"].(int64) != 1 {
		t.Fatal("swept counter not updated")
	}
}

func TestSourceLogo(t *testing.T) {
	t.Parallel()

	cases := []struct {
		feed *rss.Feed
		url  string
		want string
	}{
		{&rss.Feed{ImageURL: "https://cdn.example.com/logo.png"}, "https://example.com/feed", "https://cdn.example.com/logo.png"},
		{&rss.Feed{}, "https://blog.example.com/rss.xml", "https://blog.example.com/favicon.ico"},
		{&rss.Feed{}, "not a url", ""},
	}
	for _, tc := range cases {
		if got := sourceLogo(tc.feed, tc.url); got != tc.want {
			t.Errorf("sourceLogo(%q) = %q, want %q", tc.url, got, tc.want)
		}
	}
}

type sleepCounter struct {
	mu    sync.Mutex
	calls int
}

func (s *sleepCounter) Sleep(context.Context, time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return nil
}

func (s *sleepCounter) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func TestItemDelayOnlyForUnprocessedItems(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := newStore(t)
	srv := serveFeed(t, feedXML(time.Now()))
	addSource(t, store, "Example", srv.URL, news.CategoryAI)

	delay := &sleepCounter{}
	fetcher := rss.NewFetcher(rss.FetcherConfig{Timeout: 2 * time.Second})
	engine := NewEngine(store, fetcher, nil, &fakeEnricher{}, nil,
		Config{ItemDelay: 200 * time.Millisecond, Sleep: delay.Sleep}, nil, nil)

	// new: the AI item, the sponsored item and the undated Kubernetes item.
	// old, link-less and fingerprint duplicates are skipped without a delay.
	if added, err := engine.RunCycle(ctx); err != nil || added != 2 {
		t.Fatalf("RunCycle() = %d, %v", added, err)
	}
	if got := delay.count(); got != 3 {
		t.Fatalf("delays on first cycle = %d, want 3", got)
	}

	// stored items are duplicates now; only the never-stored spam item is enriched again
	if added, err := engine.RunCycle(ctx); err != nil || added != 0 {
		t.Fatalf("second RunCycle() = %d, %v", added, err)
	}
	if got := delay.count() - 3; got != 1 {
		t.Fatalf("delays on second cycle = %d, want 1", got)
	}
}

// racingStore reports a unique violation on insert, as when a concurrent
// cycle stores the same article between lookup and insert.
type racingStore struct {
	*storage.Store
}

func (racingStore) CreateArticle(context.Context, *news.Article) error {
	return fmt.Errorf("insert article: %w", storage.ErrDuplicate)
}

func TestCreateConflictCountsAsDuplicate(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := newStore(t)
	srv := serveFeed(t, feedXML(time.Now()))
	addSource(t, store, "Example", srv.URL, news.CategoryAI)

	m := metrics.New()
	fetcher := rss.NewFetcher(rss.FetcherConfig{Timeout: 2 * time.Second})
	engine := NewEngine(racingStore{store}, fetcher, nil, &fakeEnricher{}, nil, Config{Sleep: noSleep}, m, nil)

	added, err := engine.RunCycle(ctx)
	if err != nil || added != 0 {
		t.Fatalf("RunCycle() = %d, %v", added, err)
	}
	stats := m.GetStats()
	// the AI item, its mirror (nothing was stored to match it) and Kubernetes all conflict
	if got := stats["duplicates_skipped"].(int64); got != 3 {
		t.Fatalf("duplicates_skipped = %d, want 3", got)
	}
	if stats["last_error"] != "" || !m.Healthy() {
		t.Fatalf("a conflict must not be reported as an error: %v", stats)
	}
}
