// Package storage persists sources and articles in PostgreSQL or SQLite.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/deusflow/techwatch/internal/retry"
)

var (
	ErrNotFound  = errors.New("not found")
	ErrDuplicate = errors.New("duplicate")
)

type Dialect string

const (
	Postgres Dialect = "postgres"
	SQLite   Dialect = "sqlite"
)

func ParseDialect(s string) (Dialect, error) {
	switch Dialect(s) {
	case Postgres:
		return Postgres, nil
	case SQLite, "sqlite3":
		return SQLite, nil
	}
	return "", fmt.Errorf("unsupported database driver %q", s)
}

type Store struct {
	db      *sql.DB
	dialect Dialect
	sb      sq.StatementBuilderType
	log     *slog.Logger
}

// Open connects, waits for the database to answer and applies the schema.
func Open(ctx context.Context, dialect Dialect, dsn string, log *slog.Logger) (*Store, error) {
	if log == nil {
		log = slog.Default()
	}

	db, err := sql.Open(driverName(dialect), dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dialect == SQLite {
		// one connection keeps :memory: databases and per-connection pragmas alive
		db.SetMaxOpenConns(1)
	}

	err = retry.WithRetry(ctx, retry.Default, func() error {
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		return db.PingContext(pingCtx)
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := New(db, dialect, log)
	if err := s.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	s.log.Info("database ready", "driver", string(dialect))
	return s, nil
}

// New wraps an open handle without migrating.
func New(db *sql.DB, dialect Dialect, log *slog.Logger) *Store {
	if log == nil {
		log = slog.Default()
	}
	var format sq.PlaceholderFormat = sq.Question
	if dialect == Postgres {
		format = sq.Dollar
	}
	return &Store{
		db:      db,
		dialect: dialect,
		sb:      sq.StatementBuilder.PlaceholderFormat(format),
		log:     log.With("component", "storage"),
	}
}

func driverName(d Dialect) string {
	if d == Postgres {
		return "postgres"
	}
	return "sqlite"
}

// Migrate creates tables and indexes when missing.
func (s *Store) Migrate(ctx context.Context) error {
	stmts := postgresSchema
	if s.dialect == SQLite {
		stmts = sqliteSchema
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to initialize schema: %w", err)
		}
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// mapError turns driver-specific constraint violations into ErrDuplicate.
func (s *Store) mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if isPostgresUnique(err) || isSQLiteUnique(err) {
		return fmt.Errorf("%w: %v", ErrDuplicate, err)
	}
	return err
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// utc normalizes timestamps so SQLite text comparisons order correctly.
func utc(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}
