package store

import (
	"fmt"
	"strings"

	"github.com/sha1n/retro-sync/internal/domain"
)

// TableSpec maps a record kind onto a table of the primary store.
type TableSpec struct {
	Table            string
	IDColumn         string
	BodyColumn       string
	AuthorIDColumn   string
	AuthorNameColumn string
	ParentColumn     string
	CreatedAtColumn  string
	UpdatedAtColumn  string
	DeletedAtColumn  string
}

// Tables maps every synchronized record kind to its table.
type Tables map[domain.RecordKind]TableSpec

// DefaultTables returns the board's default schema.
func DefaultTables() Tables {
	return Tables{
		domain.KindSuggestion: {
			Table:            "suggestions",
			IDColumn:         "id",
			BodyColumn:       "body",
			AuthorIDColumn:   "user_id",
			AuthorNameColumn: "display_name",
			ParentColumn:     "category_id",
			CreatedAtColumn:  "created_at",
			UpdatedAtColumn:  "updated_at",
			DeletedAtColumn:  "deleted_at",
		},
		domain.KindComment: {
			Table:            "comments",
			IDColumn:         "id",
			BodyColumn:       "body",
			AuthorIDColumn:   "user_id",
			AuthorNameColumn: "display_name",
			ParentColumn:     "suggestion_id",
			CreatedAtColumn:  "created_at",
			UpdatedAtColumn:  "updated_at",
			DeletedAtColumn:  "deleted_at",
		},
	}
}

// Kinds returns the configured kinds in synchronization order.
func (t Tables) Kinds() []domain.RecordKind {
	var kinds []domain.RecordKind
	for _, k := range domain.Kinds() {
		if _, ok := t[k]; ok {
			kinds = append(kinds, k)
		}
	}
	return kinds
}

// Validate checks that every column of every table is named.
func (t Tables) Validate() error {
	if len(t) == 0 {
		return fmt.Errorf("no tables configured")
	}
	for kind, spec := range t {
		if _, err := domain.ParseRecordKind(string(kind)); err != nil {
			return err
		}
		for _, col := range spec.columns() {
			if strings.TrimSpace(col) == "" {
				return fmt.Errorf("table spec for %s has an empty column name", kind)
			}
		}
		if strings.TrimSpace(spec.Table) == "" {
			return fmt.Errorf("table spec for %s has an empty table name", kind)
		}
	}
	return nil
}

func (s TableSpec) columns() []string {
	return []string{
		s.IDColumn,
		s.BodyColumn,
		s.AuthorIDColumn,
		s.AuthorNameColumn,
		s.ParentColumn,
		s.CreatedAtColumn,
		s.UpdatedAtColumn,
		s.DeletedAtColumn,
	}
}

// updatedQuery selects live rows changed after $1. Rows never updated count
// as changed at their creation time.
func (s TableSpec) updatedQuery() string {
	return fmt.Sprintf(`SELECT %s FROM %s WHERE COALESCE(%s, %s) > $1 AND %s IS NULL ORDER BY COALESCE(%s, %s)`,
		strings.Join(s.columns(), ", "), s.Table,
		s.UpdatedAtColumn, s.CreatedAtColumn, s.DeletedAtColumn,
		s.UpdatedAtColumn, s.CreatedAtColumn)
}

// deletedQuery selects rows soft-deleted after $1.
func (s TableSpec) deletedQuery() string {
	return fmt.Sprintf(`SELECT %s FROM %s WHERE %s IS NOT NULL AND %s > $1 ORDER BY %s`,
		strings.Join(s.columns(), ", "), s.Table,
		s.DeletedAtColumn, s.DeletedAtColumn, s.DeletedAtColumn)
}
