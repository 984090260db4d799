// Package app wires configuration, storage, providers and services together.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/deusflow/techwatch/internal/api"
	"github.com/deusflow/techwatch/internal/cache"
	"github.com/deusflow/techwatch/internal/config"
	"github.com/deusflow/techwatch/internal/digest"
	"github.com/deusflow/techwatch/internal/enrich"
	"github.com/deusflow/techwatch/internal/gemini"
	"github.com/deusflow/techwatch/internal/images"
	"github.com/deusflow/techwatch/internal/ingest"
	"github.com/deusflow/techwatch/internal/metrics"
	"github.com/deusflow/techwatch/internal/mistral"
	"github.com/deusflow/techwatch/internal/news"
	"github.com/deusflow/techwatch/internal/rss"
	"github.com/deusflow/techwatch/internal/scraper"
	"github.com/deusflow/techwatch/internal/storage"
	"github.com/deusflow/techwatch/internal/summary"
	"github.com/deusflow/techwatch/internal/telegram"
	"github.com/deusflow/techwatch/internal/translate"
)

type App struct {
	cfg     *config.Config
	log     *slog.Logger
	metrics *metrics.Metrics

	store       *storage.Store
	gateway     *enrich.Gateway
	engine      *ingest.Engine
	sweeper     *ingest.Sweeper
	summaries   *summary.Service
	digests     *digest.Builder
	digestCache *cache.Cache[[]digest.Section]

	closers []func()
}

// New opens the database and builds every service. Missing AI credentials
// are not an error: the capabilities degrade or report enrich.ErrNotConfigured.
func New(ctx context.Context, cfg *config.Config, log *slog.Logger) (*App, error) {
	if log == nil {
		log = slog.Default()
	}
	a := &App{cfg: cfg, log: log, metrics: metrics.New()}

	dialect, err := storage.ParseDialect(cfg.DatabaseDriver)
	if err != nil {
		return nil, err
	}
	a.store, err = storage.Open(ctx, dialect, cfg.DatabaseURL, log)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, func() { a.store.Close() })

	chat, err := a.newChat(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.gateway = enrich.NewGateway(
		translate.NewClient(cfg.TranslationURL, cfg.TranslationTarget, 5*time.Second),
		chat,
		enrich.Config{
			Cooldown:        cfg.AICooldown,
			PrimarySuppress: cfg.TranslateSuppress,
			TargetLanguage:  cfg.TranslationTarget,
			MaxCallsPerDay:  cfg.AIMaxCallsPerDay,
		},
		a.metrics, log)

	userAgent := cfg.UserAgent
	if userAgent == "" {
		userAgent = rss.DefaultUserAgent
	}
	pages := scraper.NewFetcher(scraper.Config{
		Timeout:      cfg.ImageFetchTimeout,
		MaxBytes:     cfg.ImageFetchMaxBytes,
		MaxRedirects: cfg.FetchMaxRedirects,
		UserAgent:    userAgent,
	})
	feeds := rss.NewFetcher(rss.FetcherConfig{
		Timeout:      cfg.FetchTimeout,
		MaxRedirects: cfg.FetchMaxRedirects,
		UserAgent:    userAgent,
	})

	a.sweeper = ingest.NewSweeper(a.store, cfg.Retention(), a.metrics, log)
	a.engine = ingest.NewEngine(a.store, feeds, images.NewResolver(pages), a.gateway, a.sweeper,
		ingest.Config{Recency: cfg.Recency(), ItemDelay: cfg.ItemDelay}, a.metrics, log)
	a.summaries = summary.New(a.store, a.gateway, pages, log)
	a.digestCache = cache.New[[]digest.Section]()
	a.digests = digest.NewBuilder(a.store, a.gateway, a.digestCache, cfg.DigestCacheTTL, log)
	return a, nil
}

// newChat returns nil when the selected provider has no API key.
func (a *App) newChat(ctx context.Context) (enrich.ChatCompleter, error) {
	switch a.cfg.AIProvider {
	case "gemini":
		c, err := gemini.NewClient(ctx, a.cfg.GeminiAPIKey, a.cfg.GeminiModel)
		if errors.Is(err, enrich.ErrNotConfigured) {
			a.log.Warn("GEMINI_API_KEY not set, AI enrichment disabled")
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("gemini client: %w", err)
		}
		a.closers = append(a.closers, c.Close)
		return c, nil
	default:
		c, err := mistral.NewClient(a.cfg.MistralAPIKey, a.cfg.MistralBaseURL, a.cfg.MistralModel)
		if errors.Is(err, enrich.ErrNotConfigured) {
			a.log.Warn("MISTRAL_API_KEY not set, AI enrichment disabled")
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("mistral client: %w", err)
		}
		return c, nil
	}
}

func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

// SeedSources inserts the sources of the YAML seed file whose URL is not stored yet.
func (a *App) SeedSources(ctx context.Context) (int, error) {
	seeds, err := rss.LoadSources(a.cfg.SourcesFile)
	if errors.Is(err, os.ErrNotExist) {
		a.log.Warn("sources file not found, skipping seed", "path", a.cfg.SourcesFile)
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("load sources: %w", err)
	}

	existing, err := a.store.ListSources(ctx)
	if err != nil {
		return 0, err
	}
	known := make(map[string]bool, len(existing))
	for _, s := range existing {
		known[s.URL] = true
	}

	added := 0
	for _, seed := range seeds {
		if known[seed.URL] {
			continue
		}
		src := &news.Source{Name: seed.Name, URL: seed.URL, Category: news.NormalizeCategory(seed.Category)}
		if err := a.store.CreateSource(ctx, src); err != nil {
			if errors.Is(err, storage.ErrDuplicate) {
				continue
			}
			return added, err
		}
		known[seed.URL] = true
		added++
	}
	if added > 0 {
		a.log.Info("sources seeded", "added", added, "path", a.cfg.SourcesFile)
	}
	return added, nil
}

// Ingest runs one sweep and ingestion cycle.
func (a *App) Ingest(ctx context.Context) (int, error) {
	n, err := a.engine.RunCycle(ctx)
	if n > 0 {
		a.digestCache.Clear()
	}
	return n, err
}

func (a *App) Sweep(ctx context.Context) (int64, error) {
	return a.sweeper.Sweep(ctx)
}

// Digest builds the digest over window and, when publish is set, sends it to Telegram.
func (a *App) Digest(ctx context.Context, window time.Duration, publish bool) ([]digest.Section, error) {
	sections, err := a.digests.Build(ctx, window)
	if err != nil {
		return nil, err
	}
	if !publish {
		return sections, nil
	}

	if !a.cfg.TelegramEnabled() {
		return sections, telegram.ErrNotConfigured
	}
	tg, err := telegram.NewClient(a.cfg.TelegramToken, a.cfg.TelegramChatID, a.log)
	if err != nil {
		return sections, err
	}
	if err := tg.Publish(ctx, sections, time.Now()); err != nil {
		return sections, fmt.Errorf("publish digest: %w", err)
	}
	a.metrics.IncrementDigestsPublished()
	return sections, nil
}

// Serve runs the API and the refresh scheduler until ctx is cancelled.
func (a *App) Serve(ctx context.Context) error {
	go a.digestCache.Run(ctx, 10*time.Minute)
	go a.schedule(ctx, a.cfg.RefreshInterval)

	srv := api.New(api.Deps{
		Store:      a.store,
		Cycler:     cycler{a},
		Summaries:  a.summaries,
		Digests:    a.digests,
		Metrics:    a.metrics,
		Enrichment: a.gateway,
		Log:        a.log,
	})
	return srv.Serve(ctx, ":"+a.cfg.Port)
}

// schedule runs a cycle now and then every interval. Ticks that land while a
// cycle is still running are skipped by the engine's overlap guard.
func (a *App) schedule(ctx context.Context, interval time.Duration) {
	run := func() {
		n, err := a.Ingest(ctx)
		switch {
		case errors.Is(err, ingest.ErrCycleRunning):
			a.log.Info("previous cycle still running, tick skipped")
		case err != nil && ctx.Err() == nil:
			a.log.Error("scheduled cycle failed", "error", err)
		default:
			a.log.Debug("scheduled cycle done", "added", n)
		}
	}

	run()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			run()
		}
	}
}

// cycler routes API-triggered refreshes through Ingest so the digest cache is invalidated.
type cycler struct{ a *App }

func (c cycler) RunCycle(ctx context.Context) (int, error) { return c.a.Ingest(ctx) }
