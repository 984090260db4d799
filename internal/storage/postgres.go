package storage

import (
	"errors"

	"github.com/lib/pq"
)

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS sources (
		id BIGSERIAL PRIMARY KEY,
		name TEXT NOT NULL,
		url TEXT NOT NULL UNIQUE,
		category VARCHAR(50) NOT NULL DEFAULT 'Unclassified',
		image TEXT,
		last_fetched TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS articles (
		id BIGSERIAL PRIMARY KEY,
		title TEXT NOT NULL,
		link TEXT NOT NULL UNIQUE,
		content TEXT NOT NULL DEFAULT '',
		published_at TIMESTAMPTZ NOT NULL,
		image TEXT,
		category VARCHAR(50) NOT NULL,
		fingerprint VARCHAR(64) UNIQUE,
		dedup_key VARCHAR(64) UNIQUE,
		bookmarked BOOLEAN NOT NULL DEFAULT FALSE,
		summary TEXT,
		source_id BIGINT NOT NULL REFERENCES sources(id) ON DELETE CASCADE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_articles_published_at ON articles(published_at)`,
	`CREATE INDEX IF NOT EXISTS idx_articles_source_id ON articles(source_id)`,
	`CREATE INDEX IF NOT EXISTS idx_articles_category ON articles(category)`,
}

// isPostgresUnique matches unique_violation (SQLSTATE 23505).
func isPostgresUnique(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}
