// Package enrich puts the translation and chat-completion providers behind a
// cooldown-aware interface. Every method degrades instead of failing the
// ingestion path: rate limits trip a cooldown and the caller gets a fallback.
package enrich

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/deusflow/techwatch/internal/metrics"
	"github.com/deusflow/techwatch/internal/news"
	"github.com/deusflow/techwatch/internal/ratelimit"
)

var (
	// ErrRateLimited is returned by providers when they signal overload (HTTP 429 or equivalent).
	ErrRateLimited = errors.New("provider rate limited")
	// ErrNotConfigured means the provider has no credentials.
	ErrNotConfigured = errors.New("provider not configured")
	// ErrUnreachable wraps connection failures: DNS, refused, timeout.
	ErrUnreachable = errors.New("provider unreachable")
)

// ChatCompleter is a chat-completion capability taking one system and one user message.
type ChatCompleter interface {
	Complete(ctx context.Context, system, user string) (string, error)
}

// Translator turns text into the configured target language.
type Translator interface {
	Translate(ctx context.Context, text string) (string, error)
}

const (
	SummaryUnavailable   = "Summary unavailable: the AI service is paused after hitting its rate limit. Try again in a few minutes."
	DigestNotEnoughInfo  = "Not enough information to summarize this category."
	DigestUnavailable    = "Synthesis unavailable: the AI service is not configured or is temporarily paused."
	maxDigestExcerpts    = 15
	maxSummaryInputRunes = 2000
	maxFallbackRunes     = 500
	maxCategorizeRunes   = 1000
)

type Config struct {
	Cooldown        time.Duration
	PrimarySuppress time.Duration
	TargetLanguage  string
	MaxCallsPerDay  int
	Now             func() time.Time
}

// Gateway owns the cooldown state of each capability. Construct one per process.
type Gateway struct {
	primary Translator
	chat    ChatCompleter
	cfg     Config
	log     *slog.Logger
	metrics *metrics.Metrics

	translateCD     *ratelimit.Cooldown
	summarizeCD     *ratelimit.Cooldown
	categorizeCD    *ratelimit.Cooldown
	digestCD        *ratelimit.Cooldown
	primarySuppress *ratelimit.Cooldown

	fallbacks atomic.Int64
}

// NewGateway builds a gateway. primary and chat may be nil; the matching
// capabilities then degrade as if unconfigured.
func NewGateway(primary Translator, chat ChatCompleter, cfg Config, m *metrics.Metrics, log *slog.Logger) *Gateway {
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 5 * time.Minute
	}
	if cfg.PrimarySuppress <= 0 {
		cfg.PrimarySuppress = 10 * time.Minute
	}
	if cfg.TargetLanguage == "" {
		cfg.TargetLanguage = "fr"
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if m == nil {
		m = metrics.New()
	}
	if log == nil {
		log = slog.Default()
	}

	opts := []ratelimit.Option{ratelimit.WithClock(cfg.Now), ratelimit.WithDailyBudget(cfg.MaxCallsPerDay)}
	return &Gateway{
		primary:         primary,
		chat:            chat,
		cfg:             cfg,
		log:             log.With("component", "enrich"),
		metrics:         m,
		translateCD:     ratelimit.NewCooldown("translate", cfg.Cooldown, opts...),
		summarizeCD:     ratelimit.NewCooldown("summarize", cfg.Cooldown, opts...),
		categorizeCD:    ratelimit.NewCooldown("categorize", cfg.Cooldown, opts...),
		digestCD:        ratelimit.NewCooldown("digest", cfg.Cooldown, opts...),
		primarySuppress: ratelimit.NewCooldown("translate-primary", cfg.PrimarySuppress, ratelimit.WithClock(cfg.Now)),
	}
}

// Translate never fails: primary provider, then chat fallback, then the input unchanged.
func (g *Gateway) Translate(ctx context.Context, text string) string {
	if strings.TrimSpace(text) == "" {
		return text
	}

	if g.primary != nil && g.primarySuppress.Available() {
		out, err := g.primary.Translate(ctx, text)
		if err == nil && strings.TrimSpace(out) != "" {
			g.primarySuppress.Clear()
			return out
		}
		if errors.Is(err, ErrUnreachable) || errors.Is(err, ErrRateLimited) {
			until := g.primarySuppress.Trip()
			g.log.Warn("primary translator suppressed", "until", until.Format(time.RFC3339), "error", err)
		} else if err != nil {
			g.log.Debug("primary translator failed", "error", err)
		}
	}

	if g.chat == nil || !g.reserve(g.translateCD) {
		return text
	}
	g.fallbacks.Add(1)
	g.metrics.IncrementTranslationFallbacks()

	system := fmt.Sprintf("You are a professional translator. Translate the following text into %s. Reply with the translation only, without explanations.", languageName(g.cfg.TargetLanguage))
	out, err := g.chat.Complete(ctx, system, truncateRunes(text, maxFallbackRunes))
	if err != nil {
		g.handleChatError(g.translateCD, "translate", err)
		return text
	}
	out = SanitizeAIText(out)
	if out == "" {
		return text
	}
	return out
}

// Categorize returns ok=false when the classifier is unavailable or its answer
// cannot be mapped; callers then use the source category. news.CategorySpam
// means the item must be discarded.
func (g *Gateway) Categorize(ctx context.Context, title, text string) (news.Category, bool) {
	if g.chat == nil || !g.reserve(g.categorizeCD) {
		return "", false
	}

	names := make([]string, 0, len(news.Categories))
	for _, c := range news.Categories {
		names = append(names, string(c))
	}
	system := "You classify technology news. Answer with exactly one category from this list: " +
		strings.Join(names, ", ") +
		". Answer \"Spam\" for advertising, sponsored or off-topic promotional content. Reply with the category name only."
	user := "Title: " + title + "\n\n" + truncateRunes(text, maxCategorizeRunes)

	out, err := g.chat.Complete(ctx, system, user)
	if err != nil {
		g.handleChatError(g.categorizeCD, "categorize", err)
		return "", false
	}
	c, ok := news.ParseCategory(out)
	if !ok {
		g.log.Debug("unmapped classifier answer", "answer", truncateRunes(out, 80))
	}
	return c, ok
}

// Summarize returns existing untouched when it is non-empty. fresh reports
// whether the text was just generated and should be stored. While cooling the
// canned SummaryUnavailable text is returned with fresh=false.
func (g *Gateway) Summarize(ctx context.Context, existing, content string) (summary string, fresh bool, err error) {
	if strings.TrimSpace(existing) != "" {
		return existing, false, nil
	}
	if g.chat == nil {
		return "", false, ErrNotConfigured
	}
	if !g.reserve(g.summarizeCD) {
		return SummaryUnavailable, false, nil
	}

	lang := languageName(g.cfg.TargetLanguage)
	system := fmt.Sprintf("You are an expert at summarizing technology news. Summarize the article in %s concisely (at most 3 sentences). "+
		"Then give the sentiment (Positive, Neutral or Negative) and extract 3 keywords.", lang)
	user := "Analyze and summarize this text:\n\n" + truncateRunes(content, maxSummaryInputRunes)

	out, err := g.chat.Complete(ctx, system, user)
	if err != nil {
		if g.handleChatError(g.summarizeCD, "summarize", err) {
			return SummaryUnavailable, false, nil
		}
		return "", false, fmt.Errorf("summarize: %w", err)
	}
	out = strings.TrimSpace(out)
	if out == "" {
		return "", false, errors.New("summarize: empty completion")
	}
	return out, true, nil
}

// Excerpt is one article fed to digest synthesis.
type Excerpt struct {
	Title   string
	Snippet string
}

// Synthesize writes a short synthesis of one category grounded in the given excerpts.
func (g *Gateway) Synthesize(ctx context.Context, category news.Category, excerpts []Excerpt) string {
	if len(excerpts) == 0 {
		return DigestNotEnoughInfo
	}
	if g.chat == nil || !g.reserve(g.digestCD) {
		return DigestUnavailable
	}
	if len(excerpts) > maxDigestExcerpts {
		excerpts = excerpts[:maxDigestExcerpts]
	}

	var b strings.Builder
	for i, e := range excerpts {
		fmt.Fprintf(&b, "%d. %s", i+1, strings.TrimSpace(e.Title))
		if s := strings.TrimSpace(e.Snippet); s != "" {
			b.WriteString(" - ")
			b.WriteString(truncateRunes(s, 300))
		}
		b.WriteString("\n")
	}

	system := fmt.Sprintf("You write a daily technology news digest in %s. In 3 to 5 sentences, synthesize the main trends of the %q category. "+
		"Use only the facts present in the excerpts; do not invent anything.", languageName(g.cfg.TargetLanguage), string(category))

	out, err := g.chat.Complete(ctx, system, b.String())
	if err != nil {
		g.handleChatError(g.digestCD, "digest", err)
		return DigestUnavailable
	}
	out = strings.TrimSpace(out)
	if out == "" {
		return DigestUnavailable
	}
	return out
}

// reserve takes one call from cd and logs why a refused call degrades.
func (g *Gateway) reserve(cd *ratelimit.Cooldown) bool {
	if cd.Use() {
		return true
	}
	if until := cd.Until(); !until.IsZero() {
		g.log.Debug("capability cooling, returning degraded result", "capability", cd.Name(), "until", until.Format(time.RFC3339))
	} else {
		g.log.Debug("daily call budget spent, returning degraded result", "capability", cd.Name())
	}
	return false
}

// handleChatError trips cd on a rate-limit signal and reports whether it did.
func (g *Gateway) handleChatError(cd *ratelimit.Cooldown, capability string, err error) bool {
	if errors.Is(err, ErrRateLimited) {
		cd.Trip()
		g.metrics.IncrementCooldownActivations()
		return true
	}
	g.log.Warn("chat completion failed", "capability", capability, "error", err)
	return false
}

type Stats struct {
	TranslationFallbacks int64             `json:"translationFallbacks"`
	Capabilities         []ratelimit.Stats `json:"capabilities"`
}

func (g *Gateway) Stats() Stats {
	return Stats{
		TranslationFallbacks: g.fallbacks.Load(),
		Capabilities: []ratelimit.Stats{
			g.translateCD.Stats(),
			g.summarizeCD.Stats(),
			g.categorizeCD.Stats(),
			g.digestCD.Stats(),
			g.primarySuppress.Stats(),
		},
	}
}

var languageNames = map[string]string{
	"fr": "French",
	"en": "English",
	"de": "German",
	"es": "Spanish",
	"it": "Italian",
	"uk": "Ukrainian",
	"da": "Danish",
}

func languageName(code string) string {
	if name, ok := languageNames[strings.ToLower(code)]; ok {
		return name
	}
	return code
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
