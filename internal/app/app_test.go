package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/deusflow/techwatch/internal/config"
	"github.com/deusflow/techwatch/internal/enrich"
	"github.com/deusflow/techwatch/internal/news"
	"github.com/deusflow/techwatch/internal/storage"
	"github.com/deusflow/techwatch/internal/telegram"
)

func libreTranslate(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Q      string `json:"q"`
			Target string `json:"target"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		_ = json.NewEncoder(w).Encode(map[string]string{"translatedText": strings.ToUpper(req.Target) + ": " + req.Q})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func feedServer(t *testing.T) *httptest.Server {
	t.Helper()
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		now := time.Now().Add(-30 * time.Minute).Format(time.RFC1123Z)
		fmt.Fprintf(w, `<?xml version="1.0"?>
<rss version="2.0"><channel><title>Cloud weekly</title><link>%[1]s</link>
<item><title>Kubernetes 1.31 released</title><link>%[1]s/k8s?utm_medium=feed</link>
<description><![CDATA[<p>Sidecars are stable</p><img src="/img/k8s.png">]]></description><pubDate>%[2]s</pubDate></item>
<item><title>Serverless cold starts</title><link>%[1]s/serverless</link>
<description>Faster functions</description><pubDate>%[2]s</pubDate></item>
</channel></rss>`, srv.URL, now)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testConfig(t *testing.T, translateURL, sourcesFile string) *config.Config {
	t.Helper()
	cfg := &config.Config{
		DatabaseDriver:     "sqlite",
		DatabaseURL:        ":memory:",
		SourcesFile:        sourcesFile,
		TranslationURL:     translateURL,
		TranslationTarget:  "fr",
		AIProvider:         "mistral",
		AICooldown:         5 * time.Minute,
		TranslateSuppress:  10 * time.Minute,
		FetchTimeout:       2 * time.Second,
		FetchMaxRedirects:  5,
		RecencyDays:        7,
		RetentionDays:      30,
		ImageFetchTimeout:  time.Second,
		ImageFetchMaxBytes: 1 << 20,
		RefreshInterval:    time.Hour,
		DigestCacheTTL:     time.Hour,
		Port:               "0",
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("test config invalid: %v", err)
	}
	return cfg
}

func writeSeed(t *testing.T, feedURL string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sources.yaml")
	body := fmt.Sprintf(`sources:
  - name: Cloud weekly
    url: %[1]s
    category: cloud
  - name: Cloud weekly again
    url: %[1]s
    category: Cloud
  - name: No url
    category: AI
`, feedURL)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestAppEndToEnd(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	feed := feedServer(t)
	cfg := testConfig(t, libreTranslate(t).URL, writeSeed(t, feed.URL))

	a, err := New(ctx, cfg, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer a.Close()

	if n, err := a.SeedSources(ctx); err != nil || n != 1 {
		t.Fatalf("SeedSources() = %d, %v", n, err)
	}
	if n, _ := a.SeedSources(ctx); n != 0 {
		t.Fatalf("second seed added %d", n)
	}

	added, err := a.Ingest(ctx)
	if err != nil || added != 2 {
		t.Fatalf("Ingest() = %d, %v", added, err)
	}
	articles, _, err := a.store.ListArticles(ctx, storage.ArticleFilter{})
	if err != nil {
		t.Fatal(err)
	}
	for _, art := range articles {
		if !strings.HasPrefix(art.Title, "FR: ") {
			t.Errorf("title not translated: %q", art.Title)
		}
		if art.Category != news.CategoryCloud {
			t.Errorf("category = %q, want source category", art.Category)
		}
		if strings.Contains(art.Link, "utm_") {
			t.Errorf("tracking parameter kept: %s", art.Link)
		}
		if strings.HasSuffix(art.Link, "/k8s") && art.Image != feed.URL+"/img/k8s.png" {
			t.Errorf("image = %q", art.Image)
		}
	}

	if added, err := a.Ingest(ctx); err != nil || added != 0 {
		t.Fatalf("second Ingest() = %d, %v", added, err)
	}

	sections, err := a.Digest(ctx, 24*time.Hour, false)
	if err != nil {
		t.Fatal(err)
	}
	if len(sections) != 1 || sections[0].Category != news.CategoryCloud || sections[0].Synthesis != enrich.DigestUnavailable {
		t.Fatalf("sections = %+v", sections)
	}
	if _, err := a.Digest(ctx, 24*time.Hour, true); !errors.Is(err, telegram.ErrNotConfigured) {
		t.Fatalf("publish error = %v", err)
	}

	if _, err := a.summaries.SummarizeOne(ctx, articles[0].ID); !errors.Is(err, enrich.ErrNotConfigured) {
		t.Fatalf("summarize error = %v, want ErrNotConfigured", err)
	}

	if n, err := a.Sweep(ctx); err != nil || n != 0 {
		t.Fatalf("Sweep() = %d, %v", n, err)
	}
}

func TestSeedSourcesMissingFile(t *testing.T) {
	t.Parallel()
	cfg := testConfig(t, "", filepath.Join(t.TempDir(), "missing.yaml"))

	a, err := New(context.Background(), cfg, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer a.Close()

	if n, err := a.SeedSources(context.Background()); err != nil || n != 0 {
		t.Fatalf("SeedSources() = %d, %v", n, err)
	}
}

func TestScheduleStopsOnCancel(t *testing.T) {
	t.Parallel()
	cfg := testConfig(t, "", filepath.Join(t.TempDir(), "missing.yaml"))
	a, err := New(context.Background(), cfg, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer a.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		a.schedule(ctx, 10*time.Millisecond)
		close(done)
	}()
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop")
	}
	if a.metrics.GetStats()["cycles_run"].(int64) < 2 {
		t.Fatal("expected the scheduler to run repeatedly")
	}
}
