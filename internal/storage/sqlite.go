package storage

import (
	"errors"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

var sqliteSchema = []string{
	`PRAGMA foreign_keys = ON`,
	`CREATE TABLE IF NOT EXISTS sources (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		url TEXT NOT NULL UNIQUE,
		category TEXT NOT NULL DEFAULT 'Unclassified',
		image TEXT,
		last_fetched DATETIME,
		created_at DATETIME NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS articles (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		title TEXT NOT NULL,
		link TEXT NOT NULL UNIQUE,
		content TEXT NOT NULL DEFAULT '',
		published_at DATETIME NOT NULL,
		image TEXT,
		category TEXT NOT NULL,
		fingerprint TEXT UNIQUE,
		dedup_key TEXT UNIQUE,
		bookmarked BOOLEAN NOT NULL DEFAULT 0,
		summary TEXT,
		source_id INTEGER NOT NULL REFERENCES sources(id) ON DELETE CASCADE,
		created_at DATETIME NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_articles_published_at ON articles(published_at)`,
	`CREATE INDEX IF NOT EXISTS idx_articles_source_id ON articles(source_id)`,
	`CREATE INDEX IF NOT EXISTS idx_articles_category ON articles(category)`,
}

func isSQLiteUnique(err error) bool {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	switch se.Code() {
	case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
		return true
	}
	return false
}
