package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/deusflow/techwatch/internal/digest"
	"github.com/deusflow/techwatch/internal/enrich"
	"github.com/deusflow/techwatch/internal/ingest"
	"github.com/deusflow/techwatch/internal/news"
	"github.com/deusflow/techwatch/internal/storage"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
	maxDigestHours  = 24 * 30
)

// validationError is reported to the client as 400.
type validationError struct{ msg string }

func (e *validationError) Error() string { return e.msg }

func invalid(format string, args ...any) error {
	return &validationError{msg: fmt.Sprintf(format, args...)}
}

type pagination struct {
	Total int `json:"total"`
	Page  int `json:"page"`
	Pages int `json:"pages"`
}

type articlePage struct {
	Data       []news.Article `json:"data"`
	Pagination pagination     `json:"pagination"`
}

func (s *Server) handleListArticles(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	page, err := positiveInt(q.Get("page"), 1)
	if err != nil {
		s.writeError(w, invalid("page: %v", err))
		return
	}
	limit, err := positiveInt(q.Get("limit"), defaultPageSize)
	if err != nil {
		s.writeError(w, invalid("limit: %v", err))
		return
	}
	limit = min(limit, maxPageSize)

	f := storage.ArticleFilter{
		Search: strings.TrimSpace(q.Get("search")),
		Limit:  limit,
		Offset: (page - 1) * limit,
	}
	if c := strings.TrimSpace(q.Get("category")); c != "" {
		cat, ok := news.ParseCategory(c)
		if !ok || !cat.Valid() {
			s.writeError(w, invalid("unknown category %q", c))
			return
		}
		f.Category = cat
	}
	if v := q.Get("sourceId"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil || id <= 0 {
			s.writeError(w, invalid("sourceId must be a positive integer"))
			return
		}
		f.SourceID = id
	}
	if v := q.Get("bookmarked"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			s.writeError(w, invalid("bookmarked must be true or false"))
			return
		}
		f.Bookmarked = &b
	}

	items, total, err := s.deps.Store.ListArticles(r.Context(), f)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, articlePage{
		Data: items,
		Pagination: pagination{
			Total: total,
			Page:  page,
			Pages: (total + limit - 1) / limit,
		},
	})
}

func (s *Server) handleSummarize(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	summary, err := s.deps.Summaries.SummarizeOne(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"summary": summary})
}

func (s *Server) handleBookmark(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	bookmarked, err := s.deps.Store.ToggleBookmark(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"bookmarked": bookmarked})
}

func (s *Server) handleDigest(w http.ResponseWriter, r *http.Request) {
	hours, err := positiveInt(r.URL.Query().Get("hours"), int(digest.DefaultWindow/time.Hour))
	if err != nil || hours > maxDigestHours {
		s.writeError(w, invalid("hours must be between 1 and %d", maxDigestHours))
		return
	}
	sections, err := s.deps.Digests.Build(r.Context(), time.Duration(hours)*time.Hour)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sections)
}

func (s *Server) handleListSources(w http.ResponseWriter, r *http.Request) {
	sources, err := s.deps.Store.ListSources(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	if sources == nil {
		sources = []news.Source{}
	}
	writeJSON(w, http.StatusOK, sources)
}

type sourceRequest struct {
	Name     string `json:"name"`
	URL      string `json:"url"`
	Category string `json:"category"`
}

func (req sourceRequest) toSource() (*news.Source, error) {
	name := strings.TrimSpace(req.Name)
	rawURL := strings.TrimSpace(req.URL)
	if name == "" || rawURL == "" || strings.TrimSpace(req.Category) == "" {
		return nil, invalid("name, url and category are required")
	}
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, invalid("url must be an absolute http(s) URL")
	}
	cat, ok := news.ParseCategory(req.Category)
	if !ok || !cat.Valid() {
		return nil, invalid("unknown category %q", req.Category)
	}
	return &news.Source{Name: name, URL: rawURL, Category: cat}, nil
}

func (s *Server) handleCreateSource(w http.ResponseWriter, r *http.Request) {
	var req sourceRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10)).Decode(&req); err != nil {
		s.writeError(w, invalid("invalid JSON body"))
		return
	}
	src, err := req.toSource()
	if err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.deps.Store.CreateSource(r.Context(), src); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, src)
}

func (s *Server) handleDeleteSource(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.deps.Store.DeleteSource(r.Context(), id); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	added, err := s.deps.Cycler.RunCycle(context.WithoutCancel(r.Context()))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"added": added})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	stats := s.deps.Metrics.GetStats()
	status, code := "ok", http.StatusOK
	if !s.deps.Metrics.Healthy() {
		status, code = "error", http.StatusServiceUnavailable
	}
	if err := s.deps.Store.Ping(r.Context()); err != nil {
		status, code = "database unavailable", http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]interface{}{
		"status":     status,
		"last_run":   stats["last_run_time"],
		"last_error": stats["last_error"],
	})
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	stats := s.deps.Metrics.GetStats()
	if s.deps.Enrichment != nil {
		stats["enrichment"] = s.deps.Enrichment.Stats()
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	var ve *validationError
	code := http.StatusInternalServerError
	switch {
	case errors.As(err, &ve):
		code = http.StatusBadRequest
	case errors.Is(err, storage.ErrNotFound):
		code = http.StatusNotFound
	case errors.Is(err, storage.ErrDuplicate), errors.Is(err, ingest.ErrCycleRunning):
		code = http.StatusConflict
	case errors.Is(err, enrich.ErrNotConfigured):
		code = http.StatusServiceUnavailable
	}

	msg := err.Error()
	if code == http.StatusInternalServerError {
		s.log.Error("request failed", "error", err)
		msg = "internal error"
	}
	writeJSON(w, code, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func pathID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, invalid("invalid id")
	}
	return id, nil
}

func positiveInt(raw string, def int) (int, error) {
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, errors.New("must be a positive integer")
	}
	return n, nil
}
