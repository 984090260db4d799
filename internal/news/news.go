package news

import (
	"regexp"
	"strings"
	"time"
)

// Source is a configured feed endpoint.
type Source struct {
	ID          int64      `json:"id"`
	Name        string     `json:"name"`
	URL         string     `json:"url"`
	Category    Category   `json:"category"`
	Image       string     `json:"image,omitempty"`
	LastFetched *time.Time `json:"lastFetched,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
}

// Article is one ingested, deduplicated and enriched feed item.
type Article struct {
	ID          int64     `json:"id"`
	Title       string    `json:"title"`
	Link        string    `json:"link"`
	Content     string    `json:"content"`
	Date        time.Time `json:"date"`
	Image       string    `json:"image,omitempty"`
	Category    Category  `json:"category"`
	Fingerprint string    `json:"-"`
	DedupKey    string    `json:"-"`
	Bookmarked  bool      `json:"bookmarked"`
	Summary     string    `json:"summary,omitempty"`
	SourceID    int64     `json:"sourceId"`
	SourceName  string    `json:"sourceName,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Category is one of the fixed article categories.
type Category string

const (
	CategoryCybersecurity Category = "Cybersecurity"
	CategoryAI            Category = "AI"
	CategoryCloud         Category = "Cloud"
	CategoryDevelopment   Category = "Development"
	CategoryOpenSource    Category = "Open Source"
	CategoryIT            Category = "IT"
	CategoryEducation     Category = "Education"
	CategoryLegal         Category = "Legal"
	CategoryTechNews      Category = "Tech News"

	// CategoryUnclassified is stored when neither the classifier nor the source gives a usable category.
	CategoryUnclassified Category = "Unclassified"
	// CategorySpam is never stored; items classified as spam are discarded.
	CategorySpam Category = "Spam"
)

// Categories is the ordered enumeration used for classification and digest ordering.
var Categories = []Category{
	CategoryCybersecurity,
	CategoryAI,
	CategoryCloud,
	CategoryDevelopment,
	CategoryOpenSource,
	CategoryIT,
	CategoryEducation,
	CategoryLegal,
	CategoryTechNews,
}

// Extra spellings seen in feeds and classifier answers (French sources included)
var categoryAliases = map[Category][]string{
	CategoryCybersecurity: {"cybersécurité", "cybersecurite", "cyber security", "cyber-security", "infosec"},
	CategoryAI:            {"artificial intelligence", "intelligence artificielle", "IA"},
	CategoryDevelopment:   {"software development", "développement", "developpement"},
	CategoryOpenSource:    {"open-source", "opensource", "logiciel libre"},
	CategoryEducation:     {"éducation", "formation"},
	CategoryLegal:         {"juridique", "law"},
	CategoryTechNews:      {"tech", "technology", "actualités tech"},
}

var spamPattern = regexp.MustCompile(`(?i)(?:^|[^\p{L}\p{N}])(spam|sponsored|advertis(?:ement|ing)|publicit[ée]|promotional|clickbait)(?:$|[^\p{L}\p{N}])`)

var wordPatterns = buildWordPatterns()

type wordPattern struct {
	category Category
	re       *regexp.Regexp
}

// buildWordPatterns compiles one whole-word pattern per category and alias, keeping enum order.
// Short tokens (AI, IT, IA) stay case-sensitive so "it" or "ai" inside prose do not match.
func buildWordPatterns() []wordPattern {
	var out []wordPattern
	for _, c := range Categories {
		words := append([]string{string(c)}, categoryAliases[c]...)
		for _, w := range words {
			flags := "(?i)"
			if len([]rune(w)) <= 3 {
				flags = ""
			}
			re := regexp.MustCompile(flags + `(?:^|[^\p{L}\p{N}])` + regexp.QuoteMeta(w) + `(?:$|[^\p{L}\p{N}])`)
			out = append(out, wordPattern{category: c, re: re})
		}
	}
	return out
}

// ParseCategory maps free classifier text onto the enumeration.
// Order: exact case-insensitive match, spam pattern, whole-word match in enum order.
// ok is false when nothing matched; callers fall back to the source category.
func ParseCategory(raw string) (Category, bool) {
	text := strings.TrimSpace(strings.Trim(strings.TrimSpace(raw), `."'*`))
	if text == "" {
		return "", false
	}

	if strings.EqualFold(text, string(CategorySpam)) {
		return CategorySpam, true
	}
	for _, c := range Categories {
		if strings.EqualFold(text, string(c)) {
			return c, true
		}
	}

	if spamPattern.MatchString(text) {
		return CategorySpam, true
	}

	for _, p := range wordPatterns {
		if p.re.MatchString(text) {
			return p.category, true
		}
	}
	return "", false
}

// NormalizeCategory is ParseCategory for trusted input such as admin-entered source categories.
// Unknown values and spam become CategoryUnclassified.
func NormalizeCategory(raw string) Category {
	c, ok := ParseCategory(raw)
	if !ok || c == CategorySpam {
		return CategoryUnclassified
	}
	return c
}

// Valid reports whether c can be stored on an article.
func (c Category) Valid() bool {
	if c == CategoryUnclassified {
		return true
	}
	for _, known := range Categories {
		if c == known {
			return true
		}
	}
	return false
}
