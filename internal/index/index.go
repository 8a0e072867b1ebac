// Package index writes documents to a search engine collection.
package index

import (
	"context"
	"errors"
	"fmt"

	"github.com/sha1n/retro-sync/internal/domain"
)

// DefaultBatchSize is the default maximum number of documents per upsert request
const DefaultBatchSize = 100

// Client is the narrow collection/document API the synchronizer needs.
// Implementations never retry; the caller owns retry policy.
type Client interface {
	// EnsureCollection creates the collection if it does not exist. It is idempotent.
	EnsureCollection(ctx context.Context, schema domain.CollectionSchema) error

	// UpsertBatch inserts or replaces documents in sub-batches of at most batchSize.
	// A non-nil error means at least one document was not written; the result
	// lists every failed document.
	UpsertBatch(ctx context.Context, collection string, docs []domain.Document, batchSize int) (UpsertResult, error)

	// DeleteByIDs removes documents by identifier. Callers bound the number of
	// ids per call; a backend may still split a call that exceeds its request limits.
	// Identifiers missing from the index are not an error.
	DeleteByIDs(ctx context.Context, collection string, ids []string) error

	// Get returns a single document.
	Get(ctx context.Context, collection, id string) (domain.Document, bool, error)

	// Count returns the number of documents in a collection.
	Count(ctx context.Context, collection string) (uint64, error)

	// Search runs a full-text query over document bodies.
	Search(ctx context.Context, collection, query string, limit int) ([]SearchHit, error)

	Close() error
}

// ItemFailure describes one document rejected by the index.
type ItemFailure struct {
	ID     string
	Reason string
}

// UpsertResult summarizes a batched upsert.
type UpsertResult struct {
	Attempted int
	Succeeded int
	Failed    []ItemFailure
}

// OK reports whether every document was written.
func (r UpsertResult) OK() bool {
	return len(r.Failed) == 0
}

// FailedIDs returns the identifiers of the rejected documents.
func (r UpsertResult) FailedIDs() []string {
	ids := make([]string, 0, len(r.Failed))
	for _, f := range r.Failed {
		ids = append(ids, f.ID)
	}
	return ids
}

func (r *UpsertResult) fail(docs []domain.Document, reason string) {
	for _, d := range docs {
		r.Failed = append(r.Failed, ItemFailure{ID: d.ID, Reason: reason})
	}
}

// err builds the error returned alongside a result with failures.
func (r UpsertResult) err(collection string) error {
	if r.OK() {
		return nil
	}
	return fmt.Errorf("upsert %s: %w: %d of %d documents failed",
		collection, ErrPartialFailure, len(r.Failed), r.Attempted)
}

// SearchHit is a single search result.
type SearchHit struct {
	Document domain.Document
	Score    float64
	Snippets []string
}

var (
	// ErrPartialFailure is wrapped when some documents of an upsert were rejected.
	ErrPartialFailure = errors.New("partial batch failure")

	// ErrInvalidID is wrapped when an identifier cannot be addressed by the backend.
	ErrInvalidID = errors.New("invalid document id")
)

// ErrorKind classifies index failures.
type ErrorKind int

const (
	// KindNotFound means the collection or document does not exist.
	KindNotFound ErrorKind = iota + 1
	// KindTransient failures may succeed when retried later.
	KindTransient
	// KindPermanent failures will not succeed without a change in input or configuration.
	KindPermanent
)

func (k ErrorKind) String() string {
	switch k {
	case KindNotFound:
		return "not found"
	case KindTransient:
		return "transient"
	case KindPermanent:
		return "permanent"
	default:
		return "unknown"
	}
}

// Error is the single error type returned by index clients.
type Error struct {
	Kind       ErrorKind
	Op         string
	Collection string
	Err        error
}

func (e *Error) Error() string {
	return fmt.Sprintf("index %s %s (%s): %v", e.Op, e.Collection, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the classification of err, or 0 if err is not an *Error.
func KindOf(err error) ErrorKind {
	var ie *Error
	if errors.As(err, &ie) {
		return ie.Kind
	}
	return 0
}

// IsNotFound reports whether err is a not-found index error.
func IsNotFound(err error) bool {
	return KindOf(err) == KindNotFound
}

// IsTransient reports whether err is a transient index error.
func IsTransient(err error) bool {
	return KindOf(err) == KindTransient
}

// SplitBatches splits docs into consecutive chunks of at most size documents.
// A non-positive size uses DefaultBatchSize.
func SplitBatches(docs []domain.Document, size int) [][]domain.Document {
	if size <= 0 {
		size = DefaultBatchSize
	}
	var batches [][]domain.Document
	for start := 0; start < len(docs); start += size {
		end := min(start+size, len(docs))
		batches = append(batches, docs[start:end])
	}
	return batches
}
