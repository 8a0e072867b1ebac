// Package syncer runs sync cycles that mirror changed records into the search index.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sha1n/retro-sync/internal/domain"
	"github.com/sha1n/retro-sync/internal/index"
	"github.com/sha1n/retro-sync/internal/mapper"
	"github.com/sha1n/retro-sync/internal/store"
	"github.com/sha1n/retro-sync/internal/watermark"
)

// DefaultDeadLetterThreshold is the number of cycles a record may stay unindexed
// because it failed to map before it is reported.
const DefaultDeadLetterThreshold = 5

// ErrCollectionsNotReady is returned when the index collections could not be prepared.
var ErrCollectionsNotReady = errors.New("index collections not ready")

// State is the orchestrator state.
type State int32

const (
	Idle State = iota
	Running
	Succeeded
	PartiallyFailed
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Running:
		return "running"
	case Succeeded:
		return "succeeded"
	case PartiallyFailed:
		return "partially_failed"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// MarshalText renders the state name in JSON output.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Config configures an Orchestrator.
type Config struct {
	// Collections maps each record kind to sync to its index collection.
	Collections map[domain.RecordKind]string

	BatchSize           int
	DeadLetterThreshold int
	Logger              *slog.Logger

	// Clock returns the current time. Defaults to time.Now.
	Clock func() time.Time
}

// KindResult is the outcome of one record kind within a cycle.
type KindResult struct {
	Kind       domain.RecordKind   `json:"kind"`
	Collection string              `json:"collection"`
	Updated    int                 `json:"updated"`
	Deleted    int                 `json:"deleted"`
	Upserted   int                 `json:"upserted"`
	Removed    int                 `json:"removed"`
	Skipped    int                 `json:"skipped"`
	Failed     []index.ItemFailure `json:"failed,omitempty"`
	Error      string              `json:"error,omitempty"`
}

// CycleResult is the outcome of one sync cycle.
type CycleResult struct {
	ID        string        `json:"id"`
	State     State         `json:"state"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`

	// Since is the watermark the cycle read from.
	Since time.Time `json:"since"`
	// Watermark is the watermark after the cycle. It equals Since unless the cycle succeeded.
	Watermark time.Time `json:"watermark"`

	Kinds []KindResult `json:"kinds"`
	Err   error        `json:"-"`
}

func (r CycleResult) changed() bool {
	for _, kr := range r.Kinds {
		if kr.Updated > 0 || kr.Deleted > 0 {
			return true
		}
	}
	return false
}

// Advanced reports whether the cycle moved the watermark.
func (r CycleResult) Advanced() bool {
	return r.Watermark.After(r.Since)
}

// DeadLetter tracks a record that failed to map and is not indexed.
type DeadLetter struct {
	ID     string            `json:"id"`
	Kind   domain.RecordKind `json:"kind"`
	Reason string            `json:"reason"`
	// Count is the number of cycles the record has stayed unindexed, whether or
	// not it was read again.
	Count     int       `json:"count"`
	FirstSeen time.Time `json:"first_seen"`
	LastSeen  time.Time `json:"last_seen"`
}

// Stats is a point-in-time snapshot of the orchestrator.
type Stats struct {
	State                 State        `json:"state"`
	CollectionsReady      bool         `json:"collections_ready"`
	Watermark             time.Time    `json:"watermark"`
	CyclesRun             uint64       `json:"cycles_run"`
	CyclesSucceeded       uint64       `json:"cycles_succeeded"`
	CyclesPartiallyFailed uint64       `json:"cycles_partially_failed"`
	CyclesFailed          uint64       `json:"cycles_failed"`
	CyclesSkipped         uint64       `json:"cycles_skipped"`
	LastSuccess           time.Time    `json:"last_success,omitzero"`
	LastResult            *CycleResult `json:"last_result,omitempty"`
	DeadLetters           []DeadLetter `json:"dead_letters,omitempty"`
}

// Orchestrator runs sync cycles. It owns the watermark: nothing else writes it.
type Orchestrator struct {
	reader    store.ChangeReader
	client    index.Client
	watermark watermark.Store

	kinds       []domain.RecordKind
	collections map[domain.RecordKind]string
	batchSize   int
	threshold   int
	logger      *slog.Logger
	clock       func() time.Time

	running atomic.Bool

	mu          sync.RWMutex
	state       State
	ready       bool
	current     time.Time
	stats       Stats
	deadLetters map[string]*DeadLetter
}

// NewOrchestrator creates an orchestrator. It performs no I/O.
func NewOrchestrator(reader store.ChangeReader, client index.Client, wm watermark.Store, cfg Config) (*Orchestrator, error) {
	if reader == nil {
		return nil, errors.New("change reader cannot be nil")
	}
	if client == nil {
		return nil, errors.New("index client cannot be nil")
	}
	if wm == nil {
		return nil, errors.New("watermark store cannot be nil")
	}

	var kinds []domain.RecordKind
	for _, kind := range domain.Kinds() {
		name, ok := cfg.Collections[kind]
		if !ok {
			continue
		}
		if name == "" {
			return nil, fmt.Errorf("collection name for %s cannot be empty", kind)
		}
		kinds = append(kinds, kind)
	}
	if len(kinds) == 0 {
		return nil, errors.New("at least one collection must be configured")
	}

	o := &Orchestrator{
		reader:      reader,
		client:      client,
		watermark:   wm,
		kinds:       kinds,
		collections: cfg.Collections,
		batchSize:   cfg.BatchSize,
		threshold:   cfg.DeadLetterThreshold,
		logger:      cfg.Logger,
		clock:       cfg.Clock,
		deadLetters: make(map[string]*DeadLetter),
	}
	if o.batchSize <= 0 {
		o.batchSize = index.DefaultBatchSize
	}
	if o.threshold <= 0 {
		o.threshold = DefaultDeadLetterThreshold
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if o.clock == nil {
		o.clock = time.Now
	}
	return o, nil
}

// EnsureCollections creates the index collections that do not exist yet.
// Failures are returned but leave the orchestrator usable; the next cycle tries again.
func (o *Orchestrator) EnsureCollections(ctx context.Context) error {
	var errs []error
	for _, kind := range o.kinds {
		name := o.collections[kind]
		if err := o.client.EnsureCollection(ctx, domain.NewCollectionSchema(name)); err != nil {
			o.logger.WarnContext(ctx, "Failed to ensure collection", "collection", name, "error", err)
			errs = append(errs, fmt.Errorf("ensure collection %s: %w", name, err))
		}
	}

	ready := len(errs) == 0
	o.mu.Lock()
	o.ready = ready
	o.mu.Unlock()

	if ready {
		o.logger.InfoContext(ctx, "Index collections ready", "count", len(o.kinds))
	}
	return errors.Join(errs...)
}

// State returns the live state.
func (o *Orchestrator) State() State {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.state
}

// Watermark returns the watermark as of the last cycle.
func (o *Orchestrator) Watermark() time.Time {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.current
}

// Stats returns a snapshot of the counters, the last result and the dead letters.
func (o *Orchestrator) Stats() Stats {
	o.mu.RLock()
	defer o.mu.RUnlock()

	s := o.stats
	s.State = o.state
	s.CollectionsReady = o.ready
	s.Watermark = o.current
	if o.stats.LastResult != nil {
		last := *o.stats.LastResult
		last.Kinds = append([]KindResult(nil), last.Kinds...)
		s.LastResult = &last
	}
	s.DeadLetters = make([]DeadLetter, 0, len(o.deadLetters))
	for _, dl := range o.deadLetters {
		s.DeadLetters = append(s.DeadLetters, *dl)
	}
	sort.Slice(s.DeadLetters, func(i, j int) bool {
		if s.DeadLetters[i].Kind != s.DeadLetters[j].Kind {
			return s.DeadLetters[i].Kind < s.DeadLetters[j].Kind
		}
		return s.DeadLetters[i].ID < s.DeadLetters[j].ID
	})
	return s
}

// LastResult returns the outcome of the last completed cycle, if any.
func (o *Orchestrator) LastResult() (CycleResult, bool) {
	last := o.Stats().LastResult
	if last == nil {
		return CycleResult{}, false
	}
	return *last, true
}

func (o *Orchestrator) skipped() {
	o.mu.Lock()
	o.stats.CyclesSkipped++
	o.mu.Unlock()
}

func (o *Orchestrator) setState(s State) {
	o.mu.Lock()
	o.state = s
	o.mu.Unlock()
}

// RunCycle runs one sync cycle. It returns false without doing anything
// when another cycle is already running.
func (o *Orchestrator) RunCycle(ctx context.Context) (CycleResult, bool) {
	if !o.running.CompareAndSwap(false, true) {
		o.skipped()
		o.logger.DebugContext(ctx, "Sync cycle already running, skipping")
		return CycleResult{}, false
	}
	defer o.running.Store(false)

	// The candidate watermark is taken before any I/O so that rows written
	// while this cycle reads are picked up by the next one.
	start := o.clock().UTC()
	o.setState(Running)

	result := o.cycle(ctx, start)
	result.Duration = max(o.clock().Sub(start), 0)

	o.record(result)
	o.logResult(ctx, result)
	o.setState(Idle)
	return result, true
}

func (o *Orchestrator) cycle(ctx context.Context, start time.Time) CycleResult {
	result := CycleResult{
		ID:        uuid.NewString(),
		StartedAt: start,
	}
	logger := o.logger.With("cycle_id", result.ID)

	since, err := o.watermark.Load(ctx)
	if err != nil {
		result.State = Failed
		result.Err = fmt.Errorf("load watermark: %w", err)
		result.Since = o.Watermark()
		result.Watermark = result.Since
		return result
	}
	since = since.UTC()
	result.Since = since
	result.Watermark = since

	o.mu.Lock()
	o.current = since
	ready := o.ready
	o.mu.Unlock()

	if !ready {
		if err := o.EnsureCollections(ctx); err != nil {
			result.State = Failed
			result.Err = fmt.Errorf("%w: %w", ErrCollectionsNotReady, err)
			return result
		}
	}

	logger.DebugContext(ctx, "Starting sync cycle", "since", since)

	var (
		errs       []error
		readFailed bool
		writes     int
	)
	for _, kind := range o.kinds {
		kr, n, err := o.syncKind(ctx, logger, kind, since)
		result.Kinds = append(result.Kinds, kr)
		writes += n
		if err != nil {
			errs = append(errs, err)
			var re *readError
			if errors.As(err, &re) {
				readFailed = true
			}
		}
	}

	o.ageDeadLetters(ctx, logger)

	switch {
	case len(errs) == 0:
		result.State = Succeeded
	case readFailed || writes == 0:
		result.State = Failed
	default:
		result.State = PartiallyFailed
	}
	result.Err = errors.Join(errs...)

	if result.State != Succeeded {
		return result
	}

	// An empty read leaves the watermark where it is; re-reading an empty
	// window is harmless and saves a durable write per tick. A clock behind
	// the stored watermark never moves it backwards.
	if !result.changed() || !start.After(since) {
		return result
	}
	if err := o.watermark.Save(ctx, start); err != nil {
		result.State = Failed
		result.Err = fmt.Errorf("save watermark: %w", err)
		return result
	}
	result.Watermark = start

	o.mu.Lock()
	o.current = start
	o.mu.Unlock()
	return result
}

// readError marks a failed change read.
type readError struct {
	kind domain.RecordKind
	err  error
}

func (e *readError) Error() string {
	return fmt.Sprintf("read %s changes: %v", e.kind, e.err)
}

func (e *readError) Unwrap() error {
	return e.err
}

// syncKind applies the changes of one record kind. It returns the number of
// successful write calls alongside the first error encountered.
func (o *Orchestrator) syncKind(ctx context.Context, logger *slog.Logger, kind domain.RecordKind, since time.Time) (KindResult, int, error) {
	collection := o.collections[kind]
	kr := KindResult{Kind: kind, Collection: collection}

	changes, err := o.reader.FetchChanges(ctx, kind, since)
	if err != nil {
		err = &readError{kind: kind, err: err}
		kr.Error = err.Error()
		return kr, 0, err
	}
	kr.Updated = len(changes.Updated)
	kr.Deleted = len(changes.Deleted)

	cs := o.buildChangeSet(ctx, logger, kind, changes)
	kr.Skipped = len(cs.Skipped)
	if cs.Empty() {
		return kr, 0, nil
	}

	var (
		errs   []error
		writes int
	)

	if len(cs.Upserts) > 0 {
		res, err := o.client.UpsertBatch(ctx, collection, cs.Upserts, o.batchSize)
		kr.Upserted = res.Succeeded
		kr.Failed = res.Failed
		if res.Succeeded > 0 {
			writes++
		}
		if err != nil {
			logger.WarnContext(ctx, "Upsert failed", "kind", kind, "collection", collection,
				"succeeded", res.Succeeded, "failed", len(res.Failed), "error", err)
			errs = append(errs, fmt.Errorf("upsert %s: %w", kind, err))
		}
	}

	// A first cycle reads every deletion since the epoch.
	for chunk := range slices.Chunk(cs.Deletes, o.batchSize) {
		if err := o.client.DeleteByIDs(ctx, collection, chunk); err != nil {
			logger.WarnContext(ctx, "Delete failed", "kind", kind, "collection", collection,
				"removed", kr.Removed, "pending", len(cs.Deletes)-kr.Removed, "error", err)
			errs = append(errs, fmt.Errorf("delete %s: %w", kind, err))
			break
		}
		if kr.Removed == 0 {
			writes++
		}
		kr.Removed += len(chunk)
	}

	err = errors.Join(errs...)
	if err != nil {
		kr.Error = err.Error()
	}
	logger.InfoContext(ctx, "Applied changes", "kind", kind, "collection", collection,
		"upserted", kr.Upserted, "removed", kr.Removed, "skipped", kr.Skipped)
	return kr, writes, err
}

// buildChangeSet maps updated records and collects deleted identifiers.
// Deletes never depend on mapping.
func (o *Orchestrator) buildChangeSet(ctx context.Context, logger *slog.Logger, kind domain.RecordKind, changes domain.Changes) domain.ChangeSet {
	docs, skipped := mapper.MapAll(changes.Updated)
	cs := domain.ChangeSet{
		Kind:    kind,
		Upserts: docs,
		Deletes: changes.DeletedIDs(),
		Skipped: skipped,
	}

	for _, s := range skipped {
		logger.WarnContext(ctx, "Skipping record", "kind", s.Kind, "id", s.ID, "reason", s.Reason)
	}
	o.trackDeadLetters(cs)
	return cs
}

func deadLetterKey(kind domain.RecordKind, id string) string {
	return string(kind) + "/" + id
}

// trackDeadLetters registers records that failed to map. A record that maps
// or is deleted leaves the registry.
func (o *Orchestrator) trackDeadLetters(cs domain.ChangeSet) {
	o.mu.Lock()
	defer o.mu.Unlock()

	for _, doc := range cs.Upserts {
		delete(o.deadLetters, deadLetterKey(cs.Kind, doc.ID))
	}
	for _, id := range cs.Deletes {
		delete(o.deadLetters, deadLetterKey(cs.Kind, id))
	}

	now := o.clock().UTC()
	for _, s := range cs.Skipped {
		key := deadLetterKey(cs.Kind, s.ID)
		dl, ok := o.deadLetters[key]
		if !ok {
			dl = &DeadLetter{ID: s.ID, Kind: cs.Kind, FirstSeen: now}
			o.deadLetters[key] = dl
		}
		dl.Reason = s.Reason
		dl.LastSeen = now
	}
}

// ageDeadLetters counts one more cycle for every unresolved record. A skipped
// record is not read again once the watermark passes it.
func (o *Orchestrator) ageDeadLetters(ctx context.Context, logger *slog.Logger) {
	o.mu.Lock()
	defer o.mu.Unlock()

	for _, dl := range o.deadLetters {
		dl.Count++
		if dl.Count == o.threshold {
			logger.ErrorContext(ctx, "Record repeatedly failed to map and is not indexed",
				"kind", dl.Kind, "id", dl.ID, "cycles", dl.Count, "first_seen", dl.FirstSeen, "reason", dl.Reason)
		}
	}
}

func (o *Orchestrator) record(result CycleResult) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.stats.CyclesRun++
	switch result.State {
	case Succeeded:
		o.stats.CyclesSucceeded++
		o.stats.LastSuccess = result.StartedAt
	case PartiallyFailed:
		o.stats.CyclesPartiallyFailed++
	case Failed:
		o.stats.CyclesFailed++
	}
	last := result
	o.stats.LastResult = &last
}

func (o *Orchestrator) logResult(ctx context.Context, result CycleResult) {
	attrs := []any{
		"cycle_id", result.ID,
		"state", result.State,
		"duration", result.Duration,
		"watermark", result.Watermark,
	}

	switch result.State {
	case Succeeded:
		if result.changed() {
			o.logger.InfoContext(ctx, "Sync cycle complete", attrs...)
		} else {
			o.logger.DebugContext(ctx, "Sync cycle complete, no changes", attrs...)
		}
	case PartiallyFailed:
		o.logger.WarnContext(ctx, "Sync cycle partially failed, watermark not advanced", append(attrs, "error", result.Err)...)
	default:
		o.logger.ErrorContext(ctx, "Sync cycle failed, watermark not advanced", append(attrs, "error", result.Err)...)
	}
}
