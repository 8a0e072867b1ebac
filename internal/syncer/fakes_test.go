package syncer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/sha1n/retro-sync/internal/domain"
	"github.com/sha1n/retro-sync/internal/index"
	"github.com/sha1n/retro-sync/internal/mapper"
)

var errInjected = errors.New("injected failure")

func ts(sec int64) time.Time {
	return time.Unix(sec, 0).UTC()
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeClock is a settable clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(t time.Time) *fakeClock {
	return &fakeClock{now: t}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

// fakeReader serves records from memory. Like two independent queries racing
// with a writer, its updated result does not exclude deleted rows; Classify
// resolves the overlap.
type fakeReader struct {
	mu      sync.Mutex
	records map[domain.RecordKind]map[string]domain.Record
	err     error
	calls   int
	sinces  []time.Time
}

func newFakeReader() *fakeReader {
	return &fakeReader{records: make(map[domain.RecordKind]map[string]domain.Record)}
}

func (r *fakeReader) put(rec domain.Record) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.records[rec.Kind] == nil {
		r.records[rec.Kind] = make(map[string]domain.Record)
	}
	r.records[rec.Kind][rec.ID] = rec
}

func (r *fakeReader) setErr(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.err = err
}

// live returns the ids of the records that must be in the index.
func (r *fakeReader) live(kind domain.RecordKind) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var ids []string
	for id, rec := range r.records[kind] {
		if !rec.IsDeleted() {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

func (r *fakeReader) FetchChanges(_ context.Context, kind domain.RecordKind, since time.Time) (domain.Changes, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	r.sinces = append(r.sinces, since)
	if r.err != nil {
		return domain.Changes{}, r.err
	}

	ids := make([]string, 0, len(r.records[kind]))
	for id := range r.records[kind] {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var updated, deleted []domain.Record
	for _, id := range ids {
		rec := r.records[kind][id]
		changed := rec.UpdatedAt
		if changed.IsZero() {
			changed = rec.CreatedAt
		}
		if changed.After(since) {
			updated = append(updated, rec)
		}
		if rec.IsDeleted() && rec.DeletedAt.After(since) {
			deleted = append(deleted, rec)
		}
	}
	return domain.Classify(updated, deleted), nil
}

// fakeIndex is an in-memory index.Client with failure injection.
type fakeIndex struct {
	mu          sync.Mutex
	collections map[string]map[string]domain.Document
	upserts     int

	ensureErr error
	// rejectIDs are reported as item failures by UpsertBatch.
	rejectIDs map[string]bool
	// failEvery makes every Nth write call (upsert or delete) fail entirely.
	failEvery  int
	writeCalls int
	deleteErr  error

	// entered and release let a test hold an upsert in flight.
	entered chan struct{}
	release chan struct{}

	deleted [][]string
}

func newFakeIndex() *fakeIndex {
	return &fakeIndex{
		collections: make(map[string]map[string]domain.Document),
		rejectIDs:   make(map[string]bool),
	}
}

func (f *fakeIndex) EnsureCollection(_ context.Context, schema domain.CollectionSchema) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ensureErr != nil {
		return f.ensureErr
	}
	if _, ok := f.collections[schema.Name]; !ok {
		f.collections[schema.Name] = make(map[string]domain.Document)
	}
	return nil
}

func (f *fakeIndex) setEnsureErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ensureErr = err
}

func (f *fakeIndex) failWrite() bool {
	f.writeCalls++
	return f.failEvery > 0 && f.writeCalls%f.failEvery == 0
}

func (f *fakeIndex) UpsertBatch(_ context.Context, collection string, docs []domain.Document, _ int) (index.UpsertResult, error) {
	if f.entered != nil {
		f.entered <- struct{}{}
	}
	if f.release != nil {
		<-f.release
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.upserts++

	result := index.UpsertResult{Attempted: len(docs)}
	coll, ok := f.collections[collection]
	if !ok || f.failWrite() {
		for _, d := range docs {
			result.Failed = append(result.Failed, index.ItemFailure{ID: d.ID, Reason: errInjected.Error()})
		}
		kind := index.KindTransient
		if !ok {
			kind = index.KindNotFound
		}
		return result, &index.Error{Kind: kind, Op: "upsert", Collection: collection, Err: errInjected}
	}

	for _, d := range docs {
		if f.rejectIDs[d.ID] {
			result.Failed = append(result.Failed, index.ItemFailure{ID: d.ID, Reason: "rejected"})
			continue
		}
		coll[d.ID] = d
		result.Succeeded++
	}
	if !result.OK() {
		return result, fmt.Errorf("upsert %s: %w", collection, index.ErrPartialFailure)
	}
	return result, nil
}

func (f *fakeIndex) DeleteByIDs(_ context.Context, collection string, ids []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, append([]string(nil), ids...))

	if f.deleteErr != nil {
		return f.deleteErr
	}
	coll, ok := f.collections[collection]
	if !ok {
		return &index.Error{Kind: index.KindNotFound, Op: "delete", Collection: collection, Err: errInjected}
	}
	if f.failWrite() {
		return &index.Error{Kind: index.KindTransient, Op: "delete", Collection: collection, Err: errInjected}
	}
	for _, id := range ids {
		delete(coll, id)
	}
	return nil
}

func (f *fakeIndex) Get(_ context.Context, collection, id string) (domain.Document, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, ok := f.collections[collection][id]
	return doc, ok, nil
}

func (f *fakeIndex) Count(_ context.Context, collection string) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return uint64(len(f.collections[collection])), nil
}

func (f *fakeIndex) Search(_ context.Context, _, _ string, _ int) ([]index.SearchHit, error) {
	return nil, nil
}

func (f *fakeIndex) Close() error {
	return nil
}

func (f *fakeIndex) ids(collection string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var ids []string
	for id := range f.collections[collection] {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (f *fakeIndex) upsertCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.upserts
}

// recordingStore wraps a watermark store and records every saved value.
type recordingStore struct {
	mu      sync.Mutex
	value   time.Time
	saves   []time.Time
	saveErr error
	loadErr error
}

func (s *recordingStore) Load(_ context.Context) (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loadErr != nil {
		return time.Time{}, s.loadErr
	}
	return s.value, nil
}

func (s *recordingStore) Save(_ context.Context, t time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return s.saveErr
	}
	if t.Before(s.value) {
		return fmt.Errorf("regression: %s < %s", t, s.value)
	}
	s.value = t
	s.saves = append(s.saves, t)
	return nil
}

func (s *recordingStore) Close() error {
	return nil
}

func (s *recordingStore) get() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.value
}

func suggestionRecord(id string, created, updated time.Time) domain.Record {
	return domain.Record{
		ID:         id,
		Kind:       domain.KindSuggestion,
		Body:       "suggestion " + id,
		AuthorID:   "u-1",
		AuthorName: "Ada",
		ParentID:   "went-well",
		CreatedAt:  created,
		UpdatedAt:  updated,
	}
}

func commentRecord(id, suggestionID string, created time.Time) domain.Record {
	return domain.Record{
		ID:        id,
		Kind:      domain.KindComment,
		Body:      "comment " + id,
		AuthorID:  "u-2",
		ParentID:  suggestionID,
		CreatedAt: created,
	}
}

func mustDocument(rec domain.Record) domain.Document {
	doc, err := mapper.ToDocument(rec)
	if err != nil {
		panic(err)
	}
	return doc
}
