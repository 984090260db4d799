package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/deusflow/techwatch/internal/news"
)

var sourceColumns = []string{"id", "name", "url", "category", "image", "last_fetched", "created_at"}

// CreateSource inserts src and sets its ID. A URL that already exists yields ErrDuplicate.
func (s *Store) CreateSource(ctx context.Context, src *news.Source) error {
	if src.CreatedAt.IsZero() {
		src.CreatedAt = time.Now()
	}
	src.CreatedAt = utc(src.CreatedAt)

	query, args, err := s.sb.Insert("sources").
		Columns("name", "url", "category", "image", "created_at").
		Values(src.Name, src.URL, string(src.Category), nullString(src.Image), src.CreatedAt).
		Suffix("RETURNING id").
		ToSql()
	if err != nil {
		return err
	}
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&src.ID); err != nil {
		return fmt.Errorf("create source: %w", s.mapError(err))
	}
	return nil
}

func (s *Store) ListSources(ctx context.Context) ([]news.Source, error) {
	query, args, err := s.sb.Select(sourceColumns...).From("sources").OrderBy("id").ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list sources: %w", err)
	}
	defer rows.Close()

	var out []news.Source
	for rows.Next() {
		src, err := scanSource(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, src)
	}
	return out, rows.Err()
}

func (s *Store) GetSource(ctx context.Context, id int64) (*news.Source, error) {
	query, args, err := s.sb.Select(sourceColumns...).From("sources").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return nil, err
	}
	src, err := scanSource(s.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		return nil, s.mapError(err)
	}
	return &src, nil
}

func (s *Store) UpdateSourceImage(ctx context.Context, id int64, image string) error {
	return s.exec(ctx, s.sb.Update("sources").Set("image", nullString(image)).Where(sq.Eq{"id": id}))
}

func (s *Store) MarkSourceFetched(ctx context.Context, id int64, at time.Time) error {
	return s.exec(ctx, s.sb.Update("sources").Set("last_fetched", utc(at)).Where(sq.Eq{"id": id}))
}

// DeleteSource removes the source and all its articles in one transaction.
func (s *Store) DeleteSource(ctx context.Context, id int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	query, args, err := s.sb.Delete("articles").Where(sq.Eq{"source_id": id}).ToSql()
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("delete source articles: %w", err)
	}

	query, args, err = s.sb.Delete("sources").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("delete source: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return tx.Commit()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSource(r rowScanner) (news.Source, error) {
	var (
		src      news.Source
		category string
		image    sql.NullString
		fetched  sql.NullTime
	)
	if err := r.Scan(&src.ID, &src.Name, &src.URL, &category, &image, &fetched, &src.CreatedAt); err != nil {
		return src, err
	}
	src.Category = news.Category(category)
	src.Image = image.String
	if fetched.Valid {
		t := fetched.Time
		src.LastFetched = &t
	}
	return src, nil
}

type sqlizer interface {
	ToSql() (string, []interface{}, error)
}

func (s *Store) exec(ctx context.Context, b sqlizer) error {
	query, args, err := b.ToSql()
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return s.mapError(err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}
