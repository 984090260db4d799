// Package ingest runs ingestion cycles: retention sweep, then every source in
// turn through fetch, recency filter, dedup, enrichment and persistence.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/deusflow/techwatch/internal/metrics"
	"github.com/deusflow/techwatch/internal/news"
	"github.com/deusflow/techwatch/internal/rss"
	"github.com/deusflow/techwatch/internal/storage"
)

// ErrCycleRunning is returned when RunCycle is called while another cycle is in progress.
var ErrCycleRunning = errors.New("ingestion cycle already running")

// Store is the persistence the engine needs. *storage.Store satisfies it.
type Store interface {
	ListSources(ctx context.Context) ([]news.Source, error)
	UpdateSourceImage(ctx context.Context, id int64, image string) error
	MarkSourceFetched(ctx context.Context, id int64, at time.Time) error
	FindDuplicate(ctx context.Context, q storage.DuplicateQuery) (bool, error)
	CreateArticle(ctx context.Context, a *news.Article) error
}

type FeedFetcher interface {
	Fetch(ctx context.Context, url string) (*rss.Feed, error)
}

type ImageResolver interface {
	Resolve(ctx context.Context, item rss.Item) (string, error)
}

// Enricher is the degrade-never-fail view of the enrichment gateway.
type Enricher interface {
	Translate(ctx context.Context, text string) string
	Categorize(ctx context.Context, title, text string) (news.Category, bool)
}

type Config struct {
	// Recency is the age beyond which items are ignored.
	Recency time.Duration
	// ItemDelay is slept before enriching each new item.
	ItemDelay time.Duration
	Now       func() time.Time
	Sleep     func(ctx context.Context, d time.Duration) error
}

type Engine struct {
	store    Store
	feeds    FeedFetcher
	images   ImageResolver
	enricher Enricher
	sweeper  *Sweeper
	cfg      Config
	metrics  *metrics.Metrics
	log      *slog.Logger

	running sync.Mutex
}

// NewEngine wires an engine. images and sweeper may be nil.
func NewEngine(store Store, feeds FeedFetcher, images ImageResolver, enricher Enricher, sweeper *Sweeper, cfg Config, m *metrics.Metrics, log *slog.Logger) *Engine {
	if cfg.Recency <= 0 {
		cfg.Recency = 7 * 24 * time.Hour
	}
	if cfg.ItemDelay < 0 {
		cfg.ItemDelay = 0
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Sleep == nil {
		cfg.Sleep = sleep
	}
	if m == nil {
		m = metrics.New()
	}
	if log == nil {
		log = slog.Default()
	}
	return &Engine{
		store:    store,
		feeds:    feeds,
		images:   images,
		enricher: enricher,
		sweeper:  sweeper,
		cfg:      cfg,
		metrics:  m,
		log:      log.With("component", "ingest"),
	}
}

// RunCycle sweeps stale articles, then processes every source sequentially and
// returns the number of new articles. A failing source is logged and skipped.
func (e *Engine) RunCycle(ctx context.Context) (int, error) {
	if !e.running.TryLock() {
		return 0, ErrCycleRunning
	}
	defer e.running.Unlock()

	start := time.Now()
	log := e.log.With("cycle_id", uuid.NewString())

	if e.sweeper != nil {
		if _, err := e.sweeper.Sweep(ctx); err != nil {
			log.Error("retention sweep failed", "error", err)
		}
	}

	sources, err := e.store.ListSources(ctx)
	if err != nil {
		e.metrics.SetError(err.Error())
		return 0, fmt.Errorf("list sources: %w", err)
	}
	log.Info("ingestion cycle started", "sources", len(sources))

	total, failed := 0, 0
	for _, src := range sources {
		if err := ctx.Err(); err != nil {
			log.Warn("ingestion cycle interrupted", "error", err)
			break
		}
		res, err := e.runSource(ctx, log, src)
		if err != nil {
			failed++
			e.metrics.IncrementFetchFailures()
			e.metrics.SetError(err.Error())
		}
		total += res.Added
	}

	e.metrics.RecordCycle(time.Since(start), len(sources), failed)
	log.Info("ingestion cycle finished",
		"added", total,
		"sources", len(sources),
		"failed_sources", failed,
		"duration", time.Since(start).Round(time.Millisecond))
	return total, ctx.Err()
}

// SourceResult counts per-item outcomes for one source.
type SourceResult struct {
	Seen               int
	Recent             int
	Added              int
	SkippedOld         int
	SkippedDuplicate   int
	SkippedSpam        int
	SkippedMissingLink int
	CreateErrors       int
	ItemErrors         int
	ImageFailures      int
}

func (e *Engine) runSource(ctx context.Context, log *slog.Logger, src news.Source) (res SourceResult, err error) {
	log = log.With("source", src.Name, "source_id", src.ID)
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("source %s: panic: %v", src.URL, r)
			log.Error("source processing panicked", "panic", r)
		}
	}()

	feed, err := e.feeds.Fetch(ctx, src.URL)
	if err != nil {
		status := 0
		var se *rss.StatusError
		if errors.As(err, &se) {
			status = se.StatusCode
		}
		log.Error("feed fetch failed",
			"url", src.URL,
			"status", status,
			"duration", time.Since(start).Round(time.Millisecond),
			"error", err)
		return res, fmt.Errorf("fetch %s: %w", src.URL, err)
	}

	if src.Image == "" {
		if logo := sourceLogo(feed, src.URL); logo != "" {
			if err := e.store.UpdateSourceImage(ctx, src.ID, logo); err != nil {
				log.Warn("failed to store source image", "error", err)
			}
		}
	}

	for _, item := range feed.Items {
		res.Seen++
		out, err := e.processItem(ctx, src, item, &res)
		switch out {
		case outcomeAdded:
			res.Added++
		case outcomeOld:
			res.SkippedOld++
		case outcomeDuplicate:
			res.SkippedDuplicate++
		case outcomeSpam:
			res.SkippedSpam++
		case outcomeNoLink:
			res.SkippedMissingLink++
		case outcomeCreateError:
			res.CreateErrors++
			log.Error("failed to store article", "link", item.Link, "error", err)
		case outcomeError:
			res.ItemErrors++
			log.Error("failed to process item", "link", item.Link, "error", err)
		}
		if ctx.Err() != nil {
			break
		}
	}

	if err := e.store.MarkSourceFetched(ctx, src.ID, e.cfg.Now()); err != nil {
		log.Warn("failed to update last fetched", "error", err)
	}

	e.metrics.AddArticles(res.Added)
	e.metrics.AddDuplicates(res.SkippedDuplicate)
	e.metrics.AddSpam(res.SkippedSpam)

	log.Info("source processed",
		"seen", res.Seen,
		"recent", res.Recent,
		"added", res.Added,
		"skipped_old", res.SkippedOld,
		"skipped_duplicate", res.SkippedDuplicate,
		"skipped_spam", res.SkippedSpam,
		"skipped_missing_link", res.SkippedMissingLink,
		"create_errors", res.CreateErrors,
		"item_errors", res.ItemErrors,
		"image_failures", res.ImageFailures,
		"duration", time.Since(start).Round(time.Millisecond))
	return res, nil
}

type outcome int

const (
	outcomeAdded outcome = iota
	outcomeOld
	outcomeDuplicate
	outcomeSpam
	outcomeNoLink
	outcomeCreateError
	outcomeError
)

func (e *Engine) processItem(ctx context.Context, src news.Source, item rss.Item, res *SourceResult) (out outcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			out, err = outcomeError, fmt.Errorf("panic: %v", r)
		}
	}()

	now := e.cfg.Now()
	date := now
	if item.Published != nil && !item.Published.IsZero() {
		date = *item.Published
	}
	if date.Before(now.Add(-e.cfg.Recency)) {
		return outcomeOld, nil
	}
	res.Recent++

	rawLink := strings.TrimSpace(item.Link)
	if rawLink == "" {
		return outcomeNoLink, nil
	}
	link := news.NormalizeLink(rawLink)

	title := strings.TrimSpace(item.Title)
	content := rss.PlainText(item.Content)
	fp := news.Fingerprint(title, item.Snippet, content)
	key := news.DedupKey(title, item.Snippet, content)

	dup, err := e.store.FindDuplicate(ctx, storage.DuplicateQuery{
		Links:       []string{link, rawLink},
		Fingerprint: fp,
		DedupKey:    key,
	})
	if err != nil {
		return outcomeError, fmt.Errorf("duplicate lookup: %w", err)
	}
	if dup {
		return outcomeDuplicate, nil
	}

	if err := e.cfg.Sleep(ctx, e.cfg.ItemDelay); err != nil {
		return outcomeError, err
	}

	var image string
	if e.images != nil {
		image, err = e.images.Resolve(ctx, item)
		if err != nil {
			res.ImageFailures++
			e.log.Debug("image resolution failed", "link", link, "error", err)
			image = ""
		}
	}

	body := item.Snippet
	if body == "" {
		body = content
	}

	category, ok := e.enricher.Categorize(ctx, title, body)
	if ok && category == news.CategorySpam {
		return outcomeSpam, nil
	}
	if !ok || !category.Valid() {
		category = src.Category
		if !category.Valid() {
			category = news.CategoryUnclassified
		}
	}

	a := &news.Article{
		Title:       e.enricher.Translate(ctx, title),
		Link:        link,
		Content:     e.enricher.Translate(ctx, body),
		Date:        date,
		Image:       image,
		Category:    category,
		Fingerprint: fp,
		DedupKey:    key,
		SourceID:    src.ID,
	}
	if a.Title == "" {
		a.Title = link
	}
	if err := e.store.CreateArticle(ctx, a); err != nil {
		if errors.Is(err, storage.ErrDuplicate) {
			return outcomeDuplicate, nil
		}
		return outcomeCreateError, err
	}
	return outcomeAdded, nil
}

// sourceLogo prefers the feed's declared image and otherwise guesses the site favicon.
func sourceLogo(feed *rss.Feed, feedURL string) string {
	if feed != nil && strings.TrimSpace(feed.ImageURL) != "" {
		return strings.TrimSpace(feed.ImageURL)
	}
	u, err := url.Parse(feedURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return ""
	}
	return u.Scheme + "://" + u.Host + "/favicon.ico"
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
