package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/sha1n/retro-sync/internal/config"
	"github.com/sha1n/retro-sync/internal/domain"
	"github.com/sha1n/retro-sync/internal/index"
	mcputil "github.com/sha1n/retro-sync/internal/mcp"
	"github.com/sha1n/retro-sync/internal/store"
	"github.com/sha1n/retro-sync/internal/syncer"
	"github.com/sha1n/retro-sync/internal/watermark"
)

// Engine owns the sync components and their connections.
// In disabled mode only the scheduler is set and it never runs a cycle.
type Engine struct {
	Orchestrator *syncer.Orchestrator
	Scheduler    *syncer.Scheduler
	Index        index.Client
	Collections  map[domain.RecordKind]string

	db        *sql.DB
	watermark watermark.Store
}

// Collections returns the kind to collection mapping from settings
func Collections(s config.IndexSettings) map[domain.RecordKind]string {
	return map[domain.RecordKind]string{
		domain.KindSuggestion: s.SuggestionsCollection,
		domain.KindComment:    s.CommentsCollection,
	}
}

// NewEngine opens the primary store, the index and the watermark store and
// wires them into a scheduler. Missing index settings yield a disabled engine.
func NewEngine(ctx context.Context, settings *config.Settings, logger *slog.Logger) (*Engine, error) {
	if logger == nil {
		logger = slog.Default()
	}

	if missing := settings.Index.MissingIndexSettings(); len(missing) > 0 {
		logger.WarnContext(ctx, "Search index is not configured, sync is disabled", "missing", missing)
		return &Engine{Scheduler: syncer.NewScheduler(nil, settings.Sync.Interval, logger)}, nil
	}

	e := &Engine{Collections: Collections(settings.Index)}
	ok := false
	defer func() {
		if !ok {
			_ = e.Close()
		}
	}()

	db, err := store.Open(ctx, settings.Store.Driver, settings.Store.DSN)
	if err != nil {
		return nil, err
	}
	e.db = db

	reader, err := store.NewSQLReader(db, store.DefaultTables(), logger)
	if err != nil {
		return nil, err
	}

	if e.Index, err = openIndex(settings.Index, logger); err != nil {
		return nil, err
	}

	if e.watermark, err = watermark.Open(settings.Sync.Watermark, settings.Sync.StateDir); err != nil {
		return nil, fmt.Errorf("failed to open watermark store: %w", err)
	}

	e.Orchestrator, err = syncer.NewOrchestrator(reader, e.Index, e.watermark, syncer.Config{
		Collections:         e.Collections,
		BatchSize:           settings.Index.BatchSize,
		DeadLetterThreshold: settings.Sync.DeadLetterThreshold,
		Logger:              logger,
	})
	if err != nil {
		return nil, err
	}

	// Cycles retry collection setup, so a down index is not fatal here
	if err := e.Orchestrator.EnsureCollections(ctx); err != nil {
		logger.WarnContext(ctx, "Index collections are not ready, will retry every cycle", "error", err)
	}

	e.Scheduler = syncer.NewScheduler(e.Orchestrator, settings.Sync.Interval, logger)
	ok = true
	return e, nil
}

func openIndex(s config.IndexSettings, logger *slog.Logger) (index.Client, error) {
	if s.Backend == config.IndexBackendBleve {
		client, err := index.NewBleveClient(s.BaseDir, logger)
		if err != nil {
			return nil, err
		}
		return client, nil
	}

	client, err := index.NewHTTPClient(index.HTTPConfig{
		Protocol:  s.Protocol,
		Host:      s.Host,
		Port:      s.Port,
		APIKey:    s.APIKey,
		Timeout:   s.Timeout,
		RateLimit: s.RateLimit,
	}, logger)
	if err != nil {
		return nil, err
	}
	return client, nil
}

// Enabled reports whether the engine syncs
func (e *Engine) Enabled() bool {
	return e.Orchestrator != nil
}

// Status returns the stats provider of the MCP status tool, nil when disabled
func (e *Engine) Status() mcputil.StatusProvider {
	if e.Orchestrator == nil {
		return nil
	}
	return e.Orchestrator
}

// Close stops the scheduler and releases every connection
func (e *Engine) Close() error {
	if e.Scheduler != nil {
		e.Scheduler.Stop()
	}

	var errs []error
	if e.watermark != nil {
		errs = append(errs, e.watermark.Close())
	}
	if e.Index != nil {
		errs = append(errs, e.Index.Close())
	}
	if e.db != nil {
		errs = append(errs, e.db.Close())
	}
	return errors.Join(errs...)
}
