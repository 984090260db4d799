package metrics

import (
	"sync"
	"time"
)

type Metrics struct {
	mu sync.RWMutex

	// Counters
	CyclesRun            int64
	ArticlesAdded        int64
	DuplicatesSkipped    int64
	SpamSkipped          int64
	FetchFailures        int64
	TranslationFallbacks int64
	CooldownActivations  int64
	ArticlesSwept        int64
	DigestsPublished     int64

	// Timings
	LastCycleDuration    time.Duration
	AverageCycleDuration time.Duration
	TotalCycleDuration   time.Duration

	// Status
	LastRunTime   time.Time
	LastErrorTime time.Time
	LastError     string
	IsHealthy     bool
}

func New() *Metrics {
	return &Metrics{IsHealthy: true}
}

func (m *Metrics) AddArticles(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ArticlesAdded += int64(n)
}

func (m *Metrics) AddDuplicates(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.DuplicatesSkipped += int64(n)
}

func (m *Metrics) AddSpam(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.SpamSkipped += int64(n)
}

func (m *Metrics) AddSwept(n int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ArticlesSwept += n
}

func (m *Metrics) IncrementFetchFailures() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.FetchFailures++
}

func (m *Metrics) IncrementTranslationFallbacks() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.TranslationFallbacks++
}

func (m *Metrics) IncrementCooldownActivations() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CooldownActivations++
}

func (m *Metrics) IncrementDigestsPublished() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.DigestsPublished++
}

// RecordCycle stores the outcome of one ingestion cycle. A cycle where every
// source failed marks the process unhealthy; a cycle with no failure clears
// the last error.
func (m *Metrics) RecordCycle(duration time.Duration, sources, failed int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.CyclesRun++
	m.LastCycleDuration = duration
	m.TotalCycleDuration += duration
	m.AverageCycleDuration = m.TotalCycleDuration / time.Duration(m.CyclesRun)
	m.LastRunTime = time.Now()
	m.IsHealthy = sources == 0 || failed < sources
	if failed == 0 {
		m.LastError = ""
	}
}

func (m *Metrics) SetError(err string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.LastError = err
	m.LastErrorTime = time.Now()
}

func (m *Metrics) Healthy() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.IsHealthy
}

func (m *Metrics) GetStats() map[string]interface{} {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := map[string]interface{}{
		"cycles_run":                m.CyclesRun,
		"articles_added":            m.ArticlesAdded,
		"duplicates_skipped":        m.DuplicatesSkipped,
		"spam_skipped":              m.SpamSkipped,
		"fetch_failures":            m.FetchFailures,
		"translation_fallbacks":     m.TranslationFallbacks,
		"cooldown_activations":      m.CooldownActivations,
		"articles_swept":            m.ArticlesSwept,
		"digests_published":         m.DigestsPublished,
		"last_cycle_duration_ms":    m.LastCycleDuration.Milliseconds(),
		"average_cycle_duration_ms": m.AverageCycleDuration.Milliseconds(),
		"last_error":                m.LastError,
		"is_healthy":                m.IsHealthy,
	}
	if !m.LastRunTime.IsZero() {
		stats["last_run_time"] = m.LastRunTime.Format(time.RFC3339)
	}
	if !m.LastErrorTime.IsZero() {
		stats["last_error_time"] = m.LastErrorTime.Format(time.RFC3339)
	}
	return stats
}
