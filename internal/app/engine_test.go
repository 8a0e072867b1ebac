package app

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/sha1n/retro-sync/internal/config"
	"github.com/sha1n/retro-sync/internal/domain"
	"github.com/sha1n/retro-sync/internal/syncer"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNewEngine_Disabled(t *testing.T) {
	engine, err := NewEngine(context.Background(), disabledSettings(), quietLogger())
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}
	defer func() { _ = engine.Close() }()

	if engine.Enabled() {
		t.Error("Engine without index credentials should be disabled")
	}
	if engine.Status() != nil {
		t.Error("Disabled engine should have no status provider")
	}
	if engine.Scheduler == nil || engine.Scheduler.Enabled() {
		t.Error("Disabled engine should carry a disabled scheduler")
	}
}

func TestNewEngine_Bleve(t *testing.T) {
	ctx := context.Background()
	engine, err := NewEngine(ctx, seededSettings(t), quietLogger())
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}
	defer func() {
		if err := engine.Close(); err != nil {
			t.Errorf("Close failed: %v", err)
		}
	}()

	if !engine.Enabled() || engine.Status() == nil {
		t.Fatal("Expected an enabled engine")
	}
	if !engine.Orchestrator.Stats().CollectionsReady {
		t.Error("Collections should be created on startup")
	}

	result, ran := engine.Orchestrator.RunCycle(ctx)
	if !ran || result.State != syncer.Succeeded {
		t.Fatalf("RunCycle = %+v, %v", result, ran)
	}
	count, err := engine.Index.Count(ctx, engine.Collections[domain.KindSuggestion])
	if err != nil || count != 1 {
		t.Errorf("Count = %d, %v; want 1", count, err)
	}
}

func TestNewEngine_Errors(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*config.Settings)
	}{
		{"bad store driver", func(s *config.Settings) { s.Store.Driver = "oracle" }},
		{"empty dsn", func(s *config.Settings) { s.Store.DSN = "" }},
		{"bad watermark backend", func(s *config.Settings) { s.Sync.Watermark = "redis" }},
		{"empty collection", func(s *config.Settings) { s.Index.CommentsCollection = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := seededSettings(t)
			tt.modify(s)
			if engine, err := NewEngine(context.Background(), s, quietLogger()); err == nil {
				_ = engine.Close()
				t.Error("Expected error")
			}
		})
	}
}

func TestNewEngine_PersistedWatermark(t *testing.T) {
	ctx := context.Background()
	s := seededSettings(t)
	s.Sync.Watermark = config.WatermarkBolt
	s.Sync.StateDir = t.TempDir()

	first, err := NewEngine(ctx, s, quietLogger())
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}
	if result, _ := first.Orchestrator.RunCycle(ctx); !result.Advanced() {
		t.Fatalf("Expected the watermark to advance: %+v", result)
	}
	want := first.Orchestrator.Watermark()

	// A second engine on the same state dir is locked out
	if locked, err := NewEngine(ctx, s, quietLogger()); err == nil {
		_ = locked.Close()
		t.Error("Expected a lock error while the first engine is open")
	}
	if err := first.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	second, err := NewEngine(ctx, s, quietLogger())
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}
	defer func() { _ = second.Close() }()

	if _, ran := second.Orchestrator.RunCycle(ctx); !ran {
		t.Fatal("Expected a cycle")
	}
	if got := second.Orchestrator.Watermark(); !got.Equal(want) {
		t.Errorf("Watermark after restart = %v, want %v", got, want)
	}
}

func TestCollections(t *testing.T) {
	got := Collections(config.IndexSettings{SuggestionsCollection: "s", CommentsCollection: "c"})
	if got[domain.KindSuggestion] != "s" || got[domain.KindComment] != "c" {
		t.Errorf("Collections = %v", got)
	}
}
