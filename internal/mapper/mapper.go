// Package mapper converts primary store records into search index documents.
// Mapping is pure: it never performs I/O.
package mapper

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sha1n/retro-sync/internal/domain"
)

// ErrMissingField is wrapped by every MappingError.
var ErrMissingField = errors.New("missing required field")

// MappingError reports a record that cannot be represented as a document.
type MappingError struct {
	RecordID string
	Kind     domain.RecordKind
	Field    string
}

func (e *MappingError) Error() string {
	id := e.RecordID
	if id == "" {
		id = "<empty>"
	}
	return fmt.Sprintf("map %s %s: %s: %s", e.Kind, id, ErrMissingField, e.Field)
}

func (e *MappingError) Unwrap() error {
	return ErrMissingField
}

// ToDocument converts a record into its index document.
// Required fields are the identifier, body, author id, parent reference and
// creation timestamp. UpdatedAt falls back to CreatedAt when unset.
func ToDocument(r domain.Record) (domain.Document, error) {
	missing := func(field string) (domain.Document, error) {
		return domain.Document{}, &MappingError{RecordID: r.ID, Kind: r.Kind, Field: field}
	}

	switch {
	case strings.TrimSpace(r.ID) == "":
		return missing(domain.FieldID)
	case r.Kind == "":
		return missing(domain.FieldKind)
	case strings.TrimSpace(r.Body) == "":
		return missing(domain.FieldBody)
	case strings.TrimSpace(r.AuthorID) == "":
		return missing(domain.FieldAuthorID)
	case strings.TrimSpace(r.ParentID) == "":
		return missing(domain.FieldParentID)
	case r.CreatedAt.IsZero():
		return missing(domain.FieldCreatedAt)
	}

	updated := r.UpdatedAt
	if updated.IsZero() {
		updated = r.CreatedAt
	}

	return domain.Document{
		ID:         r.ID,
		Kind:       string(r.Kind),
		Body:       r.Body,
		AuthorID:   r.AuthorID,
		AuthorName: r.AuthorName,
		ParentID:   r.ParentID,
		CreatedAt:  EpochMillis(r.CreatedAt),
		UpdatedAt:  EpochMillis(updated),
	}, nil
}

// MapAll maps every record, collecting the ones that fail instead of stopping.
func MapAll(records []domain.Record) ([]domain.Document, []domain.SkippedRecord) {
	docs := make([]domain.Document, 0, len(records))
	var skipped []domain.SkippedRecord

	for _, r := range records {
		doc, err := ToDocument(r)
		if err != nil {
			skipped = append(skipped, domain.SkippedRecord{
				ID:     r.ID,
				Kind:   r.Kind,
				Reason: err.Error(),
			})
			continue
		}
		docs = append(docs, doc)
	}

	return docs, skipped
}

// EpochMillis converts a time to milliseconds since the Unix epoch.
func EpochMillis(t time.Time) int64 {
	return t.UnixMilli()
}
