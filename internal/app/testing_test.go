package app

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/sha1n/retro-sync/internal/config"
	"github.com/sha1n/retro-sync/internal/domain"
	"github.com/sha1n/retro-sync/internal/store"
)

// seededSettings returns settings for a migrated SQLite store with one
// suggestion and a bleve index in a temp dir
func seededSettings(t *testing.T) *config.Settings {
	t.Helper()
	ctx := context.Background()
	dir := t.TempDir()
	dsn := "file:" + filepath.Join(dir, "board.db")

	db, err := store.Open(ctx, store.DriverSQLite, dsn)
	if err != nil {
		t.Fatalf("store.Open failed: %v", err)
	}
	defer func() { _ = db.Close() }()

	if err := store.Migrate(ctx, db, store.DefaultTables()); err != nil {
		t.Fatalf("Migrate failed: %v", err)
	}
	rec := domain.Record{
		ID:        "s-1",
		Kind:      domain.KindSuggestion,
		Body:      "Standups run too long",
		AuthorID:  "u-1",
		ParentID:  "improve",
		CreatedAt: time.Now().Add(-time.Hour).UTC(),
	}
	if err := store.InsertRecord(ctx, db, store.DefaultTables(), rec); err != nil {
		t.Fatalf("InsertRecord failed: %v", err)
	}

	return &config.Settings{
		Transport: config.TransportNone,
		Log:       config.LogSettings{Level: "error"},
		Store:     config.StoreSettings{Driver: config.StoreDriverSQLite, DSN: dsn},
		Index: config.IndexSettings{
			Backend:               config.IndexBackendBleve,
			BaseDir:               filepath.Join(dir, "indexes"),
			BatchSize:             10,
			SuggestionsCollection: "suggestions",
			CommentsCollection:    "comments",
		},
		Sync: config.SyncSettings{
			Interval:            time.Hour,
			Watermark:           config.WatermarkMemory,
			DeadLetterThreshold: 3,
		},
	}
}

// disabledSettings returns settings without index credentials
func disabledSettings() *config.Settings {
	return &config.Settings{
		Transport: config.TransportNone,
		Log:       config.LogSettings{Level: "error"},
		Index:     config.IndexSettings{Backend: config.IndexBackendTypesense},
		Sync:      config.SyncSettings{Interval: time.Hour},
	}
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("Timed out waiting for condition")
}
