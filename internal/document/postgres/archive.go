package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/speechblobs/internal/document"
)

// ErrNotFound is returned by [Archive.Load] for an unknown document ID.
var ErrNotFound = errors.New("postgres archive: document not found")

// Segment is one archived record.
type Segment struct {
	Position  int
	RecordID  string
	Status    string
	Text      string
	Reason    string
	Duration  time.Duration
	CreatedAt time.Time
	WAV       []byte
}

// Document is an archived document.
type Document struct {
	ID       string
	Version  uint64
	Cursor   document.Cursor
	SavedAt  time.Time
	Segments []Segment
}

// Summary describes an archived document without its segments.
type Summary struct {
	ID       string
	Version  uint64
	Segments int
	SavedAt  time.Time
}

// Archive stores document snapshots. All methods are safe for concurrent
// use.
type Archive struct {
	pool *pgxpool.Pool
}

// NewArchive connects to the database at dsn and runs [Migrate].
func NewArchive(ctx context.Context, dsn string) (*Archive, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres archive: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres archive: ping: %w", err)
	}
	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &Archive{pool: pool}, nil
}

// Close releases the connection pool.
func (a *Archive) Close() { a.pool.Close() }

// Ping checks the database connection.
func (a *Archive) Ping(ctx context.Context) error { return a.pool.Ping(ctx) }

// Save replaces the stored copy of documentID with snap in one transaction.
// Pending transcriptions are stored as pending.
func (a *Archive) Save(ctx context.Context, documentID string, snap document.Snapshot) error {
	var cursor *int
	if i, ok := snap.Cursor.Index(); ok {
		cursor = &i
	}

	err := pgx.BeginFunc(ctx, a.pool, func(tx pgx.Tx) error {
		const upsert = `
			INSERT INTO documents (id, version, cursor_pos, saved_at)
			VALUES ($1, $2, $3, now())
			ON CONFLICT (id) DO UPDATE
			   SET version = EXCLUDED.version,
			       cursor_pos = EXCLUDED.cursor_pos,
			       saved_at = EXCLUDED.saved_at`
		if _, err := tx.Exec(ctx, upsert, documentID, int64(snap.Version), cursor); err != nil {
			return fmt.Errorf("upsert document: %w", err)
		}
		if _, err := tx.Exec(ctx, `DELETE FROM segments WHERE document_id = $1`, documentID); err != nil {
			return fmt.Errorf("clear segments: %w", err)
		}

		rows := make([][]any, len(snap.Records))
		for i, rec := range snap.Records {
			tr := rec.Transcription()
			rows[i] = []any{
				documentID, i, rec.ID, tr.Status.String(), tr.Text, tr.Reason,
				rec.Duration.Nanoseconds(), rec.CreatedAt, rec.WAV,
			}
		}
		_, err := tx.CopyFrom(ctx,
			pgx.Identifier{"segments"},
			[]string{"document_id", "position", "record_id", "status", "text", "reason", "duration_ns", "created_at", "wav"},
			pgx.CopyFromRows(rows),
		)
		if err != nil {
			return fmt.Errorf("copy segments: %w", err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("postgres archive: save %q: %w", documentID, err)
	}
	return nil
}

// Load returns the archived document with its segments in order.
func (a *Archive) Load(ctx context.Context, documentID string) (Document, error) {
	doc := Document{ID: documentID}

	var (
		version int64
		cursor  *int32
	)
	err := a.pool.QueryRow(ctx,
		`SELECT version, cursor_pos, saved_at FROM documents WHERE id = $1`, documentID,
	).Scan(&version, &cursor, &doc.SavedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Document{}, fmt.Errorf("%w: %q", ErrNotFound, documentID)
	}
	if err != nil {
		return Document{}, fmt.Errorf("postgres archive: load %q: %w", documentID, err)
	}
	doc.Version = uint64(version)
	if cursor != nil {
		doc.Cursor = document.At(int(*cursor))
	}

	const q = `
		SELECT position, record_id, status, text, reason, duration_ns, created_at, wav
		FROM   segments
		WHERE  document_id = $1
		ORDER  BY position`
	rows, err := a.pool.Query(ctx, q, documentID)
	if err != nil {
		return Document{}, fmt.Errorf("postgres archive: load segments %q: %w", documentID, err)
	}
	doc.Segments, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (Segment, error) {
		var (
			seg      Segment
			position int32
			nanos    int64
		)
		err := row.Scan(&position, &seg.RecordID, &seg.Status, &seg.Text, &seg.Reason, &nanos, &seg.CreatedAt, &seg.WAV)
		seg.Position = int(position)
		seg.Duration = time.Duration(nanos)
		return seg, err
	})
	if err != nil {
		return Document{}, fmt.Errorf("postgres archive: scan segments %q: %w", documentID, err)
	}
	return doc, nil
}

// List returns every archived document, most recently saved first.
func (a *Archive) List(ctx context.Context) ([]Summary, error) {
	const q = `
		SELECT d.id, d.version, d.saved_at, count(s.position)
		FROM   documents d
		LEFT   JOIN segments s ON s.document_id = d.id
		GROUP  BY d.id
		ORDER  BY d.saved_at DESC`
	rows, err := a.pool.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("postgres archive: list: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Summary, error) {
		var (
			s       Summary
			version int64
			count   int64
		)
		err := row.Scan(&s.ID, &version, &s.SavedAt, &count)
		s.Version = uint64(version)
		s.Segments = int(count)
		return s, err
	})
	if err != nil {
		return nil, fmt.Errorf("postgres archive: list: %w", err)
	}
	return out, nil
}

// Delete removes an archived document. Deleting an unknown ID is not an
// error.
func (a *Archive) Delete(ctx context.Context, documentID string) error {
	if _, err := a.pool.Exec(ctx, `DELETE FROM documents WHERE id = $1`, documentID); err != nil {
		return fmt.Errorf("postgres archive: delete %q: %w", documentID, err)
	}
	return nil
}
