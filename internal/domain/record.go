package domain

import (
	"fmt"
	"time"
)

// RecordKind identifies a logical record type of the feedback board.
type RecordKind string

// Supported record kinds.
const (
	KindSuggestion RecordKind = "suggestion"
	KindComment    RecordKind = "comment"
)

// Kinds returns all record kinds in the order they are synchronized.
func Kinds() []RecordKind {
	return []RecordKind{KindSuggestion, KindComment}
}

// ParseRecordKind converts a string to a RecordKind.
func ParseRecordKind(s string) (RecordKind, error) {
	switch RecordKind(s) {
	case KindSuggestion, KindComment:
		return RecordKind(s), nil
	default:
		return "", fmt.Errorf("unknown record kind: %q", s)
	}
}

// Record is a row of the primary store as seen by the synchronizer.
// Suggestions reference a category through ParentID, comments reference
// the suggestion they belong to.
type Record struct {
	ID         string
	Kind       RecordKind
	Body       string
	AuthorID   string
	AuthorName string
	ParentID   string
	CreatedAt  time.Time

	// UpdatedAt is zero when the row was never modified after creation.
	UpdatedAt time.Time

	// DeletedAt is zero for live rows. A set value hides the record from the index.
	DeletedAt time.Time
}

// IsDeleted reports whether the record is soft-deleted.
func (r Record) IsDeleted() bool {
	return !r.DeletedAt.IsZero()
}

// Changes is the raw output of a change read for one record kind.
// Updated and Deleted are disjoint by record ID.
type Changes struct {
	Updated []Record
	Deleted []Record
}

// Empty reports whether there is nothing to apply.
func (c Changes) Empty() bool {
	return len(c.Updated) == 0 && len(c.Deleted) == 0
}

// DeletedIDs returns the identifiers of the deleted records.
func (c Changes) DeletedIDs() []string {
	ids := make([]string, 0, len(c.Deleted))
	for _, r := range c.Deleted {
		ids = append(ids, r.ID)
	}
	return ids
}

// Classify builds a Changes value from two raw query results.
// An ID present in both results is kept only as deleted, and duplicate
// rows within a result are collapsed to their first occurrence.
// Rows carrying a delete timestamp are never classified as updated.
func Classify(updated, deleted []Record) Changes {
	seen := make(map[string]struct{}, len(deleted))
	out := Changes{
		Updated: make([]Record, 0, len(updated)),
		Deleted: make([]Record, 0, len(deleted)),
	}

	for _, r := range deleted {
		if _, dup := seen[r.ID]; dup {
			continue
		}
		seen[r.ID] = struct{}{}
		out.Deleted = append(out.Deleted, r)
	}

	for _, r := range updated {
		if _, dup := seen[r.ID]; dup {
			continue
		}
		if r.IsDeleted() {
			seen[r.ID] = struct{}{}
			out.Deleted = append(out.Deleted, r)
			continue
		}
		seen[r.ID] = struct{}{}
		out.Updated = append(out.Updated, r)
	}

	return out
}

// SkippedRecord describes a record that could not be mapped to a document.
type SkippedRecord struct {
	ID     string
	Kind   RecordKind
	Reason string
}

// ChangeSet is the per-cycle work for one record kind: documents to upsert
// and identifiers to delete. It is discarded when the cycle ends.
type ChangeSet struct {
	Kind    RecordKind
	Upserts []Document
	Deletes []string
	Skipped []SkippedRecord
}

// Empty reports whether the change set requires no index writes.
func (cs ChangeSet) Empty() bool {
	return len(cs.Upserts) == 0 && len(cs.Deletes) == 0
}
