// Package store reads changed and soft-deleted rows from the primary relational store.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // Postgres driver
	_ "modernc.org/sqlite"             // SQLite driver
)

// Supported database/sql driver names.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "pgx"
)

// ErrUnsupportedDriver is returned by Open for unknown driver names.
var ErrUnsupportedDriver = errors.New("unsupported store driver")

// Open opens the primary store and verifies connectivity.
// SQLite DSNs get busy_timeout and a fixed time format so that timestamps
// written by Go compare correctly as text.
func Open(ctx context.Context, driver, dsn string) (*sql.DB, error) {
	switch driver {
	case DriverSQLite:
		dsn = sqliteDSN(dsn)
	case DriverPostgres:
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedDriver, driver)
	}

	if dsn == "" {
		return nil, errors.New("store dsn cannot be empty")
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s store: %w", driver, err)
	}

	if driver == DriverSQLite {
		// A single writer connection avoids SQLITE_BUSY between the reader and seeders.
		db.SetMaxOpenConns(1)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping %s store: %w", driver, err)
	}

	return db, nil
}

func sqliteDSN(dsn string) string {
	if dsn == "" {
		return ""
	}
	var params []string
	if !strings.Contains(dsn, "_time_format=") {
		params = append(params, "_time_format=sqlite")
	}
	if !strings.Contains(dsn, "busy_timeout") {
		params = append(params, "_pragma=busy_timeout(5000)")
	}
	if len(params) == 0 {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + strings.Join(params, "&")
}

// Migrate creates the default tables when they do not exist.
// Production deployments own their schema; this is used for local runs and tests.
func Migrate(ctx context.Context, db *sql.DB, tables Tables) error {
	for _, kind := range tables.Kinds() {
		spec := tables[kind]
		stmts := []string{
			fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	%s TEXT PRIMARY KEY,
	%s TEXT,
	%s TEXT,
	%s TEXT,
	%s TEXT,
	%s TIMESTAMP NOT NULL,
	%s TIMESTAMP,
	%s TIMESTAMP
)`, spec.Table, spec.IDColumn, spec.BodyColumn, spec.AuthorIDColumn, spec.AuthorNameColumn,
				spec.ParentColumn, spec.CreatedAtColumn, spec.UpdatedAtColumn, spec.DeletedAtColumn),
			fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_%s ON %s (%s)`,
				spec.Table, spec.UpdatedAtColumn, spec.Table, spec.UpdatedAtColumn),
			fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_%s ON %s (%s)`,
				spec.Table, spec.DeletedAtColumn, spec.Table, spec.DeletedAtColumn),
		}
		for _, stmt := range stmts {
			if _, err := db.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("failed to migrate %s: %w", spec.Table, err)
			}
		}
	}
	return nil
}
