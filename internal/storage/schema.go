package storage

import (
	"context"
	"database/sql"
)

// schema is applied idempotently at startup. Kind labels are the original
// storage values (rss/reddit/youtube/file).
//
// content_vectors deliberately has no foreign key: it stands in for the
// vector-index virtual table, which cannot cascade. Every deletion path must
// purge it explicitly (see purgeOrphanVectors).
const schema = `
CREATE TABLE IF NOT EXISTS sources (
    id              TEXT PRIMARY KEY,
    url             TEXT NOT NULL UNIQUE,
    kind            TEXT NOT NULL CHECK (kind IN ('rss','reddit','youtube','file')),
    name            TEXT NOT NULL,
    active          INTEGER NOT NULL DEFAULT 1,
    error_count     INTEGER NOT NULL DEFAULT 0,
    last_error      TEXT,
    last_fetched_at TEXT,
    created_at      TEXT NOT NULL,
    updated_at      TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS content (
    id                  TEXT PRIMARY KEY,
    source_id           TEXT REFERENCES sources(id),
    external_id         TEXT NOT NULL,
    title               TEXT NOT NULL,
    url                 TEXT NOT NULL DEFAULT '',
    content             TEXT NOT NULL DEFAULT '',
    summary             TEXT,
    analysis            TEXT,
    priority            TEXT CHECK (priority IN ('high','medium','low')),
    published_at        TEXT,
    fetched_at          TEXT NOT NULL,
    read                INTEGER NOT NULL DEFAULT 0,
    favorited           INTEGER NOT NULL DEFAULT 0,
    flagged_interesting INTEGER NOT NULL DEFAULT 0,
    notes               TEXT,
    archived_at         TEXT
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_content_source_external
    ON content(source_id, external_id) WHERE source_id IS NOT NULL;
CREATE INDEX IF NOT EXISTS idx_content_priority_published
    ON content(priority, published_at);
CREATE INDEX IF NOT EXISTS idx_content_archived
    ON content(archived_at);

CREATE TABLE IF NOT EXISTS embeddings (
    content_id TEXT PRIMARY KEY REFERENCES content(id) ON DELETE CASCADE,
    embedding  BLOB NOT NULL,
    model      TEXT NOT NULL,
    created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS content_vectors (
    content_id TEXT PRIMARY KEY,
    embedding  BLOB NOT NULL
);
`

func (s *Storage) migrate(ctx context.Context) error {
	return s.withTx(ctx, "migrate", func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, schema)
		return err
	})
}
