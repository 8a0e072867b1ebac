package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/sha1n/retro-sync/internal/domain"
)

// ChangeReader discovers rows changed after a watermark.
type ChangeReader interface {
	// FetchChanges returns rows of the given kind updated or soft-deleted
	// strictly after since. Updated and Deleted are disjoint by ID.
	FetchChanges(ctx context.Context, kind domain.RecordKind, since time.Time) (domain.Changes, error)
}

// SQLReader is a ChangeReader over database/sql.
// It performs no retries; errors are returned to the caller.
type SQLReader struct {
	db     *sql.DB
	tables Tables
	logger *slog.Logger
}

// NewSQLReader creates a reader for the given tables.
func NewSQLReader(db *sql.DB, tables Tables, logger *slog.Logger) (*SQLReader, error) {
	if db == nil {
		return nil, fmt.Errorf("db cannot be nil")
	}
	if err := tables.Validate(); err != nil {
		return nil, fmt.Errorf("invalid tables: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SQLReader{db: db, tables: tables, logger: logger}, nil
}

// Kinds returns the record kinds this reader serves.
func (r *SQLReader) Kinds() []domain.RecordKind {
	return r.tables.Kinds()
}

// FetchChanges implements ChangeReader.
func (r *SQLReader) FetchChanges(ctx context.Context, kind domain.RecordKind, since time.Time) (domain.Changes, error) {
	spec, ok := r.tables[kind]
	if !ok {
		return domain.Changes{}, fmt.Errorf("no table configured for kind %q", kind)
	}

	bound := since.UTC()

	updated, err := r.query(ctx, kind, spec.updatedQuery(), bound)
	if err != nil {
		return domain.Changes{}, fmt.Errorf("query updated %s: %w", spec.Table, err)
	}

	deleted, err := r.query(ctx, kind, spec.deletedQuery(), bound)
	if err != nil {
		return domain.Changes{}, fmt.Errorf("query deleted %s: %w", spec.Table, err)
	}

	changes := domain.Classify(updated, deleted)
	r.logger.DebugContext(ctx, "Fetched changes",
		"kind", kind,
		"since", bound,
		"updated", len(changes.Updated),
		"deleted", len(changes.Deleted),
	)
	return changes, nil
}

func (r *SQLReader) query(ctx context.Context, kind domain.RecordKind, q string, bound time.Time) (records []domain.Record, err error) {
	rows, err := r.db.QueryContext(ctx, q, bound)
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := rows.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	for rows.Next() {
		rec, err := scanRecord(rows, kind)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return records, nil
}

func scanRecord(rows *sql.Rows, kind domain.RecordKind) (domain.Record, error) {
	var (
		id                          string
		body, authorID, name, parent sql.NullString
		created, updated, deleted   sql.NullTime
	)
	if err := rows.Scan(&id, &body, &authorID, &name, &parent, &created, &updated, &deleted); err != nil {
		return domain.Record{}, fmt.Errorf("scan row: %w", err)
	}

	rec := domain.Record{
		ID:         id,
		Kind:       kind,
		Body:       body.String,
		AuthorID:   authorID.String,
		AuthorName: name.String,
		ParentID:   parent.String,
	}
	if created.Valid {
		rec.CreatedAt = created.Time.UTC()
	}
	if updated.Valid {
		rec.UpdatedAt = updated.Time.UTC()
	}
	if deleted.Valid {
		rec.DeletedAt = deleted.Time.UTC()
	}
	return rec, nil
}
