package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/sha1n/retro-sync/internal/domain"
)

// InsertRecord writes a record into its table, replacing any row with the same ID.
// Zero timestamps are stored as NULL. This is exported for use in integration tests.
func InsertRecord(ctx context.Context, db *sql.DB, tables Tables, rec domain.Record) error {
	spec, ok := tables[rec.Kind]
	if !ok {
		return fmt.Errorf("no table configured for kind %q", rec.Kind)
	}

	if _, err := db.ExecContext(ctx,
		fmt.Sprintf(`DELETE FROM %s WHERE %s = $1`, spec.Table, spec.IDColumn), rec.ID); err != nil {
		return fmt.Errorf("delete existing %s: %w", rec.ID, err)
	}

	q := fmt.Sprintf(`INSERT INTO %s (%s, %s, %s, %s, %s, %s, %s, %s) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		spec.Table, spec.IDColumn, spec.BodyColumn, spec.AuthorIDColumn, spec.AuthorNameColumn,
		spec.ParentColumn, spec.CreatedAtColumn, spec.UpdatedAtColumn, spec.DeletedAtColumn)

	_, err := db.ExecContext(ctx, q,
		rec.ID,
		nullString(rec.Body),
		nullString(rec.AuthorID),
		nullString(rec.AuthorName),
		nullString(rec.ParentID),
		rec.CreatedAt.UTC(),
		nullTime(rec.UpdatedAt),
		nullTime(rec.DeletedAt),
	)
	if err != nil {
		return fmt.Errorf("insert %s: %w", rec.ID, err)
	}
	return nil
}

// SoftDelete sets the delete timestamp of a row.
func SoftDelete(ctx context.Context, db *sql.DB, tables Tables, kind domain.RecordKind, id string, at time.Time) error {
	spec, ok := tables[kind]
	if !ok {
		return fmt.Errorf("no table configured for kind %q", kind)
	}
	q := fmt.Sprintf(`UPDATE %s SET %s = $1 WHERE %s = $2`, spec.Table, spec.DeletedAtColumn, spec.IDColumn)
	if _, err := db.ExecContext(ctx, q, at.UTC(), id); err != nil {
		return fmt.Errorf("soft delete %s: %w", id, err)
	}
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}
