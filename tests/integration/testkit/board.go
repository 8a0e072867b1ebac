package testkit

import (
	"context"
	"database/sql"
	"path/filepath"
	"time"

	"github.com/sha1n/retro-sync/internal/domain"
	"github.com/sha1n/retro-sync/internal/store"
)

// BoardService is a migrated SQLite board database in a directory
type BoardService struct {
	dir    string
	tables store.Tables
	db     *sql.DB
}

// NewBoardService creates a board database service rooted at dir
func NewBoardService(dir string) *BoardService {
	return &BoardService{dir: dir, tables: store.DefaultTables()}
}

func (b *BoardService) DSN() string {
	return "file:" + filepath.Join(b.dir, "board.db")
}

func (b *BoardService) Start() (map[string]any, error) {
	ctx := context.Background()
	db, err := store.Open(ctx, store.DriverSQLite, b.DSN())
	if err != nil {
		return nil, err
	}
	if err := store.Migrate(ctx, db, b.tables); err != nil {
		_ = db.Close()
		return nil, err
	}
	b.db = db
	return map[string]any{PropStoreDSN: b.DSN()}, nil
}

func (b *BoardService) Stop() error {
	if b.db == nil {
		return nil
	}
	err := b.db.Close()
	b.db = nil
	return err
}

func (b *BoardService) GetName() string {
	return "board"
}

// Insert writes a record row
func (b *BoardService) Insert(rec domain.Record) error {
	return store.InsertRecord(context.Background(), b.db, b.tables, rec)
}

// SoftDelete marks a row deleted at the given time
func (b *BoardService) SoftDelete(kind domain.RecordKind, id string, at time.Time) error {
	return store.SoftDelete(context.Background(), b.db, b.tables, kind, id, at)
}
