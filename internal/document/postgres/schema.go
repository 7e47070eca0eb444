// Package postgres archives dictated documents in PostgreSQL.
//
// An archive holds any number of documents keyed by a caller-chosen ID. Each
// save replaces the stored copy of a document with the given snapshot:
// segment order, transcription state and the encoded audio.
//
// Usage:
//
//	archive, err := postgres.NewArchive(ctx, dsn)
//	if err != nil { … }
//	defer archive.Close()
//
//	_ = archive.Save(ctx, "meeting-notes", store.Snapshot())
//	doc, _ := archive.Load(ctx, "meeting-notes")
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const ddlDocuments = `
CREATE TABLE IF NOT EXISTS documents (
    id          TEXT         PRIMARY KEY,
    version     BIGINT       NOT NULL DEFAULT 0,
    cursor_pos  INTEGER,
    saved_at    TIMESTAMPTZ  NOT NULL DEFAULT now()
);
`

const ddlSegments = `
CREATE TABLE IF NOT EXISTS segments (
    document_id  TEXT         NOT NULL REFERENCES documents (id) ON DELETE CASCADE,
    position     INTEGER      NOT NULL,
    record_id    TEXT         NOT NULL,
    status       TEXT         NOT NULL,
    text         TEXT         NOT NULL DEFAULT '',
    reason       TEXT         NOT NULL DEFAULT '',
    duration_ns  BIGINT       NOT NULL DEFAULT 0,
    created_at   TIMESTAMPTZ  NOT NULL,
    wav          BYTEA        NOT NULL,
    PRIMARY KEY (document_id, position)
);

CREATE INDEX IF NOT EXISTS idx_segments_record_id
    ON segments (record_id);

CREATE INDEX IF NOT EXISTS idx_segments_fts
    ON segments USING GIN (to_tsvector('simple', text));
`

// Migrate creates the archive tables when they do not exist. It is
// idempotent.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	for _, stmt := range []string{ddlDocuments, ddlSegments} {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres archive: migrate: %w", err)
		}
	}
	return nil
}
