package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/deusflow/techwatch/internal/metrics"
)

type StaleDeleter interface {
	DeleteStaleArticles(ctx context.Context, before time.Time) (int64, error)
}

// Sweeper removes articles older than the retention horizon. Bookmarked
// articles are never removed.
type Sweeper struct {
	store     StaleDeleter
	retention time.Duration
	now       func() time.Time
	metrics   *metrics.Metrics
	log       *slog.Logger
}

func NewSweeper(store StaleDeleter, retention time.Duration, m *metrics.Metrics, log *slog.Logger) *Sweeper {
	if retention <= 0 {
		retention = 30 * 24 * time.Hour
	}
	if m == nil {
		m = metrics.New()
	}
	if log == nil {
		log = slog.Default()
	}
	return &Sweeper{
		store:     store,
		retention: retention,
		now:       time.Now,
		metrics:   m,
		log:       log.With("component", "sweeper"),
	}
}

// Sweep deletes stale articles and returns how many were removed.
func (s *Sweeper) Sweep(ctx context.Context) (int64, error) {
	cutoff := s.now().Add(-s.retention)
	n, err := s.store.DeleteStaleArticles(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("sweep articles before %s: %w", cutoff.Format(time.RFC3339), err)
	}
	s.metrics.AddSwept(n)
	if n > 0 {
		s.log.Info("stale articles removed", "count", n, "cutoff", cutoff.Format(time.RFC3339))
	}
	return n, nil
}
