// Package api is the HTTP layer over the store and the ingestion services.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/deusflow/techwatch/internal/digest"
	"github.com/deusflow/techwatch/internal/enrich"
	"github.com/deusflow/techwatch/internal/metrics"
	"github.com/deusflow/techwatch/internal/news"
	"github.com/deusflow/techwatch/internal/storage"
)

type Store interface {
	ListArticles(ctx context.Context, f storage.ArticleFilter) ([]news.Article, int, error)
	ToggleBookmark(ctx context.Context, id int64) (bool, error)
	ListSources(ctx context.Context) ([]news.Source, error)
	CreateSource(ctx context.Context, src *news.Source) error
	DeleteSource(ctx context.Context, id int64) error
	Ping(ctx context.Context) error
}

type Cycler interface {
	RunCycle(ctx context.Context) (int, error)
}

type Summarizer interface {
	SummarizeOne(ctx context.Context, id int64) (string, error)
}

type DigestBuilder interface {
	Build(ctx context.Context, window time.Duration) ([]digest.Section, error)
}

type EnrichmentStats interface {
	Stats() enrich.Stats
}

// Deps are the collaborators of the server. Enrichment is optional.
type Deps struct {
	Store      Store
	Cycler     Cycler
	Summaries  Summarizer
	Digests    DigestBuilder
	Metrics    *metrics.Metrics
	Enrichment EnrichmentStats
	Log        *slog.Logger
}

type Server struct {
	router *chi.Mux
	deps   Deps
	log    *slog.Logger
}

func New(deps Deps) *Server {
	if deps.Metrics == nil {
		deps.Metrics = metrics.New()
	}
	if deps.Log == nil {
		deps.Log = slog.Default()
	}
	s := &Server{
		router: chi.NewRouter(),
		deps:   deps,
		log:    deps.Log.With("component", "api"),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.requestLogger)
	s.router.Use(middleware.Recoverer)

	s.router.Get("/health", s.handleHealth)
	s.router.Get("/metrics", s.handleMetrics)
	s.router.Get("/rss.xml", s.handleRSS)

	s.router.Route("/api", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(60 * time.Second))

			r.Get("/articles", s.handleListArticles)
			r.Post("/articles/{id}/summarize", s.handleSummarize)
			r.Post("/articles/{id}/bookmark", s.handleBookmark)
			r.Get("/digest", s.handleDigest)

			r.Get("/sources", s.handleListSources)
			r.Post("/sources", s.handleCreateSource)
			r.Delete("/sources/{id}", s.handleDeleteSource)
		})

		// a cycle can outlast any request timeout
		r.Get("/sources/refresh", s.handleRefresh)
		r.Post("/sources/refresh", s.handleRefresh)
	})
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// Serve listens on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("starting server", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.log.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start).Round(time.Microsecond),
			"request_id", middleware.GetReqID(r.Context()))
	})
}
