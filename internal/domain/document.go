package domain

// Document is the representation of a Record stored in the search index.
// Timestamps are milliseconds since the Unix epoch.
type Document struct {
	// ID is the primary store identifier of the record.
	ID string `json:"id"`

	// Kind is the record kind, "suggestion" or "comment".
	Kind string `json:"kind"`

	// Body is the free text used for full-text search.
	Body string `json:"body"`

	// AuthorID is the owner's user identifier.
	AuthorID string `json:"author_id"`

	// AuthorName is the owner's display name, empty when unknown.
	AuthorName string `json:"author_name,omitempty"`

	// ParentID is the category of a suggestion or the suggestion of a comment.
	ParentID string `json:"parent_id"`

	CreatedAt int64 `json:"created_at"`
	UpdatedAt int64 `json:"updated_at"`
}

// Index field name constants for consistent field references in queries, mappings and schemas.
const (
	FieldID         = "id"
	FieldKind       = "kind"
	FieldBody       = "body"
	FieldAuthorID   = "author_id"
	FieldAuthorName = "author_name"
	FieldParentID   = "parent_id"
	FieldCreatedAt  = "created_at"
	FieldUpdatedAt  = "updated_at"
)

// Field types understood by the index backends.
const (
	FieldTypeString = "string"
	FieldTypeInt64  = "int64"
)

// FieldSpec describes a single field of a collection schema.
type FieldSpec struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Facet    bool   `json:"facet,omitempty"`
	Optional bool   `json:"optional,omitempty"`
}

// CollectionSchema describes an index collection holding documents of one kind.
type CollectionSchema struct {
	Name                string      `json:"name"`
	Fields              []FieldSpec `json:"fields"`
	DefaultSortingField string      `json:"default_sorting_field,omitempty"`
}

// NewCollectionSchema returns the schema used for every record kind.
func NewCollectionSchema(name string) CollectionSchema {
	return CollectionSchema{
		Name: name,
		Fields: []FieldSpec{
			{Name: FieldKind, Type: FieldTypeString, Facet: true},
			{Name: FieldBody, Type: FieldTypeString},
			{Name: FieldAuthorID, Type: FieldTypeString, Facet: true},
			{Name: FieldAuthorName, Type: FieldTypeString, Optional: true},
			{Name: FieldParentID, Type: FieldTypeString, Facet: true},
			{Name: FieldCreatedAt, Type: FieldTypeInt64},
			{Name: FieldUpdatedAt, Type: FieldTypeInt64},
		},
		DefaultSortingField: FieldCreatedAt,
	}
}
