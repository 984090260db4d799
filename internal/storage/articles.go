package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/deusflow/techwatch/internal/news"
)

var articleColumns = []string{
	"a.id", "a.title", "a.link", "a.content", "a.published_at", "a.image", "a.category",
	"a.fingerprint", "a.dedup_key", "a.bookmarked", "a.summary", "a.source_id", "s.name", "a.created_at",
}

// DuplicateQuery holds every signal that identifies an already stored item.
// Empty values are ignored.
type DuplicateQuery struct {
	Links       []string
	Fingerprint string
	DedupKey    string
}

// FindDuplicate reports whether any stored article matches one of the signals.
func (s *Store) FindDuplicate(ctx context.Context, q DuplicateQuery) (bool, error) {
	var or sq.Or
	var links []string
	for _, l := range q.Links {
		if l != "" {
			links = append(links, l)
		}
	}
	if len(links) > 0 {
		or = append(or, sq.Eq{"link": links})
	}
	if q.Fingerprint != "" {
		or = append(or, sq.Eq{"fingerprint": q.Fingerprint})
	}
	if q.DedupKey != "" {
		or = append(or, sq.Eq{"dedup_key": q.DedupKey})
	}
	if len(or) == 0 {
		return false, nil
	}

	query, args, err := s.sb.Select("id").From("articles").Where(or).Limit(1).ToSql()
	if err != nil {
		return false, err
	}
	var id int64
	err = s.db.QueryRowContext(ctx, query, args...).Scan(&id)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("find duplicate: %w", err)
	}
	return true, nil
}

// CreateArticle inserts a and sets its ID. Any unique-key collision yields ErrDuplicate.
func (s *Store) CreateArticle(ctx context.Context, a *news.Article) error {
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now()
	}
	a.CreatedAt = utc(a.CreatedAt)
	a.Date = utc(a.Date)

	query, args, err := s.sb.Insert("articles").
		Columns("title", "link", "content", "published_at", "image", "category",
			"fingerprint", "dedup_key", "bookmarked", "summary", "source_id", "created_at").
		Values(a.Title, a.Link, a.Content, a.Date, nullString(a.Image), string(a.Category),
			nullString(a.Fingerprint), nullString(a.DedupKey), a.Bookmarked, nullString(a.Summary), a.SourceID, a.CreatedAt).
		Suffix("RETURNING id").
		ToSql()
	if err != nil {
		return err
	}
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&a.ID); err != nil {
		return fmt.Errorf("create article: %w", s.mapError(err))
	}
	return nil
}

func (s *Store) GetArticle(ctx context.Context, id int64) (*news.Article, error) {
	query, args, err := s.selectArticles().Where(sq.Eq{"a.id": id}).ToSql()
	if err != nil {
		return nil, err
	}
	a, err := scanArticle(s.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		return nil, s.mapError(err)
	}
	return &a, nil
}

// ArticleFilter narrows ListArticles. Zero values mean "no filter"; Limit 0 means no limit.
type ArticleFilter struct {
	Search     string
	Category   news.Category
	SourceID   int64
	Bookmarked *bool
	Since      time.Time
	Until      time.Time
	Limit      int
	Offset     int
}

// ListArticles returns matching articles, newest first, and the total match count.
func (s *Store) ListArticles(ctx context.Context, f ArticleFilter) ([]news.Article, int, error) {
	where := s.articleWhere(f)

	countQuery, countArgs, err := s.sb.Select("COUNT(*)").From("articles a").Where(where).ToSql()
	if err != nil {
		return nil, 0, err
	}
	var total int
	if err := s.db.QueryRowContext(ctx, countQuery, countArgs...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count articles: %w", err)
	}

	b := s.selectArticles().Where(where).OrderBy("a.published_at DESC", "a.id DESC")
	if f.Limit > 0 {
		b = b.Limit(uint64(f.Limit))
	}
	if f.Offset > 0 {
		if f.Limit <= 0 && s.dialect == SQLite {
			// SQLite requires LIMIT before OFFSET
			b = b.Limit(uint64(1<<62))
		}
		b = b.Offset(uint64(f.Offset))
	}
	query, args, err := b.ToSql()
	if err != nil {
		return nil, 0, err
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list articles: %w", err)
	}
	defer rows.Close()

	out := make([]news.Article, 0)
	for rows.Next() {
		a, err := scanArticle(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, a)
	}
	return out, total, rows.Err()
}

func (s *Store) articleWhere(f ArticleFilter) sq.And {
	where := sq.And{}
	if term := strings.TrimSpace(f.Search); term != "" {
		pattern := "%" + term + "%"
		if s.dialect == Postgres {
			where = append(where, sq.Or{sq.ILike{"a.title": pattern}, sq.ILike{"a.content": pattern}})
		} else {
			where = append(where, sq.Or{sq.Like{"a.title": pattern}, sq.Like{"a.content": pattern}})
		}
	}
	if f.Category != "" {
		where = append(where, sq.Eq{"a.category": string(f.Category)})
	}
	if f.SourceID != 0 {
		where = append(where, sq.Eq{"a.source_id": f.SourceID})
	}
	if f.Bookmarked != nil {
		where = append(where, sq.Eq{"a.bookmarked": *f.Bookmarked})
	}
	if !f.Since.IsZero() {
		where = append(where, sq.GtOrEq{"a.published_at": utc(f.Since)})
	}
	if !f.Until.IsZero() {
		where = append(where, sq.Lt{"a.published_at": utc(f.Until)})
	}
	return where
}

func (s *Store) selectArticles() sq.SelectBuilder {
	return s.sb.Select(articleColumns...).From("articles a").LeftJoin("sources s ON s.id = a.source_id")
}

// SetSummary stores summary only when the article has none yet. It returns
// false when a summary was already present.
func (s *Store) SetSummary(ctx context.Context, id int64, summary string) (bool, error) {
	query, args, err := s.sb.Update("articles").
		Set("summary", summary).
		Where(sq.Eq{"id": id}).
		Where(sq.Or{sq.Eq{"summary": nil}, sq.Eq{"summary": ""}}).
		ToSql()
	if err != nil {
		return false, err
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("set summary: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// ToggleBookmark flips the flag and returns the new value.
func (s *Store) ToggleBookmark(ctx context.Context, id int64) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	query, args, err := s.sb.Update("articles").Set("bookmarked", sq.Expr("NOT bookmarked")).Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return false, err
	}
	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("toggle bookmark: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return false, ErrNotFound
	}

	query, args, err = s.sb.Select("bookmarked").From("articles").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return false, err
	}
	var bookmarked bool
	if err := tx.QueryRowContext(ctx, query, args...).Scan(&bookmarked); err != nil {
		return false, fmt.Errorf("read bookmark: %w", err)
	}
	return bookmarked, tx.Commit()
}

// DeleteStaleArticles removes non-bookmarked articles published before cutoff.
func (s *Store) DeleteStaleArticles(ctx context.Context, before time.Time) (int64, error) {
	query, args, err := s.sb.Delete("articles").
		Where(sq.Lt{"published_at": utc(before)}).
		Where(sq.Eq{"bookmarked": false}).
		ToSql()
	if err != nil {
		return 0, err
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("delete stale articles: %w", err)
	}
	return res.RowsAffected()
}

func scanArticle(r rowScanner) (news.Article, error) {
	var (
		a           news.Article
		category    string
		image       sql.NullString
		fingerprint sql.NullString
		dedupKey    sql.NullString
		summary     sql.NullString
		sourceName  sql.NullString
	)
	err := r.Scan(&a.ID, &a.Title, &a.Link, &a.Content, &a.Date, &image, &category,
		&fingerprint, &dedupKey, &a.Bookmarked, &summary, &a.SourceID, &sourceName, &a.CreatedAt)
	if err != nil {
		return a, err
	}
	a.Category = news.Category(category)
	a.Image = image.String
	a.Fingerprint = fingerprint.String
	a.DedupKey = dedupKey.String
	a.Summary = summary.String
	a.SourceName = sourceName.String
	return a, nil
}
