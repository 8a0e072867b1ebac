package index

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/search/query"
	"github.com/sha1n/retro-sync/internal/domain"
)

// IndexSuffix is the suffix for collection index directories
const IndexSuffix = ".bleve"

// BleveClient stores each collection as an embedded Bleve index under baseDir.
type BleveClient struct {
	baseDir string
	logger  *slog.Logger

	mu      sync.RWMutex
	indexes map[string]bleve.Index
}

// NewBleveClient creates a client rooted at baseDir.
func NewBleveClient(baseDir string, logger *slog.Logger) (*BleveClient, error) {
	if baseDir == "" {
		return nil, errors.New("base directory cannot be empty")
	}
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create index directory: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &BleveClient{
		baseDir: baseDir,
		logger:  logger,
		indexes: make(map[string]bleve.Index),
	}, nil
}

// indexPath returns the path to the index of a collection.
func (c *BleveClient) indexPath(collection string) string {
	return filepath.Join(c.baseDir, collection+IndexSuffix)
}

// CreateIndexMapping creates the Bleve index mapping for a collection schema.
// The body and author name are analyzed for full-text search; the remaining
// string fields are keywords used for exact filtering.
func CreateIndexMapping(schema domain.CollectionSchema) mapping.IndexMapping {
	docMapping := bleve.NewDocumentMapping()

	for _, f := range schema.Fields {
		switch f.Type {
		case domain.FieldTypeInt64:
			numField := bleve.NewNumericFieldMapping()
			numField.Store = true
			docMapping.AddFieldMappingsAt(f.Name, numField)
		default:
			textField := bleve.NewTextFieldMapping()
			textField.Store = true
			if f.Name == domain.FieldBody || f.Name == domain.FieldAuthorName {
				textField.Analyzer = standard.Name
				textField.IncludeTermVectors = true
			} else {
				textField.Analyzer = keyword.Name
			}
			docMapping.AddFieldMappingsAt(f.Name, textField)
		}
	}

	// ID - stored but not indexed (we use the document ID)
	idField := bleve.NewTextFieldMapping()
	idField.Index = false
	idField.Store = true
	docMapping.AddFieldMappingsAt(domain.FieldID, idField)

	indexMapping := bleve.NewIndexMapping()
	indexMapping.DefaultMapping = docMapping
	indexMapping.DefaultAnalyzer = standard.Name

	return indexMapping
}

// EnsureCollection opens the collection index, creating it when it does not exist.
func (c *BleveClient) EnsureCollection(ctx context.Context, schema domain.CollectionSchema) error {
	if err := ctx.Err(); err != nil {
		return &Error{Kind: KindTransient, Op: "ensure", Collection: schema.Name, Err: err}
	}
	if schema.Name == "" {
		return &Error{Kind: KindPermanent, Op: "ensure", Err: errors.New("collection name cannot be empty")}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.indexes[schema.Name]; ok {
		return nil
	}

	path := c.indexPath(schema.Name)
	idx, err := bleve.Open(path)
	if err == nil {
		c.indexes[schema.Name] = idx
		return nil
	}
	if !errors.Is(err, bleve.ErrorIndexPathDoesNotExist) {
		return &Error{Kind: KindPermanent, Op: "describe", Collection: schema.Name, Err: err}
	}

	c.logger.InfoContext(ctx, "Creating collection", "collection", schema.Name, "path", path)
	idx, err = bleve.New(path, CreateIndexMapping(schema))
	if err != nil {
		return &Error{Kind: KindPermanent, Op: "create", Collection: schema.Name, Err: err}
	}
	c.indexes[schema.Name] = idx
	return nil
}

// collection returns the open index of a collection.
func (c *BleveClient) collection(op, name string) (bleve.Index, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	idx, ok := c.indexes[name]
	if !ok {
		return nil, &Error{Kind: KindNotFound, Op: op, Collection: name, Err: errors.New("collection is not open")}
	}
	return idx, nil
}

// UpsertBatch indexes documents; bleve replaces documents with the same ID.
func (c *BleveClient) UpsertBatch(ctx context.Context, collection string, docs []domain.Document, batchSize int) (UpsertResult, error) {
	result := UpsertResult{Attempted: len(docs)}
	if len(docs) == 0 {
		return result, nil
	}

	idx, err := c.collection("upsert", collection)
	if err != nil {
		result.fail(docs, err.Error())
		return result, err
	}

	var callErr error
	for _, chunk := range SplitBatches(docs, batchSize) {
		if err := ctx.Err(); err != nil {
			result.fail(chunk, err.Error())
			callErr = &Error{Kind: KindTransient, Op: "upsert", Collection: collection, Err: err}
			continue
		}

		batch := idx.NewBatch()
		var staged []domain.Document
		for _, doc := range chunk {
			if err := batch.Index(doc.ID, doc); err != nil {
				result.Failed = append(result.Failed, ItemFailure{ID: doc.ID, Reason: err.Error()})
				continue
			}
			staged = append(staged, doc)
		}

		if len(staged) == 0 {
			continue
		}
		if err := idx.Batch(batch); err != nil {
			result.fail(staged, err.Error())
			callErr = &Error{Kind: KindTransient, Op: "upsert", Collection: collection, Err: err}
			continue
		}
		result.Succeeded += len(staged)
	}

	if callErr != nil {
		return result, callErr
	}
	return result, result.err(collection)
}

// DeleteByIDs removes documents in a single batch.
func (c *BleveClient) DeleteByIDs(ctx context.Context, collection string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return &Error{Kind: KindTransient, Op: "delete", Collection: collection, Err: err}
	}

	idx, err := c.collection("delete", collection)
	if err != nil {
		return err
	}

	batch := idx.NewBatch()
	for _, id := range ids {
		batch.Delete(id)
	}
	if err := idx.Batch(batch); err != nil {
		return &Error{Kind: KindTransient, Op: "delete", Collection: collection, Err: err}
	}
	return nil
}

// Get returns a stored document by ID.
func (c *BleveClient) Get(ctx context.Context, collection, id string) (domain.Document, bool, error) {
	hits, err := c.search(ctx, "get", collection, bleve.NewDocIDQuery([]string{id}), 1, false)
	if err != nil {
		return domain.Document{}, false, err
	}
	if len(hits) == 0 {
		return domain.Document{}, false, nil
	}
	return hits[0].Document, true, nil
}

// Count returns the number of documents in a collection.
func (c *BleveClient) Count(_ context.Context, collection string) (uint64, error) {
	idx, err := c.collection("count", collection)
	if err != nil {
		return 0, err
	}
	n, err := idx.DocCount()
	if err != nil {
		return 0, &Error{Kind: KindTransient, Op: "count", Collection: collection, Err: err}
	}
	return n, nil
}

// Search runs a match query over document bodies and author names.
func (c *BleveClient) Search(ctx context.Context, collection, text string, limit int) ([]SearchHit, error) {
	bodyQuery := bleve.NewMatchQuery(text)
	bodyQuery.SetField(domain.FieldBody)

	authorQuery := bleve.NewMatchQuery(text)
	authorQuery.SetField(domain.FieldAuthorName)
	authorQuery.SetBoost(0.5)

	return c.search(ctx, "search", collection, bleve.NewDisjunctionQuery(bodyQuery, authorQuery), limit, true)
}

func (c *BleveClient) search(ctx context.Context, op, collection string, q query.Query, limit int, highlight bool) ([]SearchHit, error) {
	idx, err := c.collection(op, collection)
	if err != nil {
		return nil, err
	}

	req := bleve.NewSearchRequest(q)
	req.Size = limit
	req.Fields = []string{"*"}
	if highlight {
		req.Highlight = bleve.NewHighlight()
		req.Highlight.AddField(domain.FieldBody)
	}

	res, err := idx.SearchInContext(ctx, req)
	if err != nil {
		return nil, &Error{Kind: KindTransient, Op: op, Collection: collection, Err: err}
	}

	hits := make([]SearchHit, 0, len(res.Hits))
	for _, h := range res.Hits {
		hit := SearchHit{
			Document: documentFromFields(h.ID, h.Fields),
			Score:    h.Score,
		}
		if frags, ok := h.Fragments[domain.FieldBody]; ok {
			hit.Snippets = frags
		}
		hits = append(hits, hit)
	}
	return hits, nil
}

// documentFromFields rebuilds a document from stored Bleve fields.
// Bleve returns numeric fields as float64.
func documentFromFields(id string, fields map[string]interface{}) domain.Document {
	str := func(name string) string {
		s, _ := fields[name].(string)
		return s
	}
	num := func(name string) int64 {
		f, _ := fields[name].(float64)
		return int64(f)
	}
	return domain.Document{
		ID:         id,
		Kind:       str(domain.FieldKind),
		Body:       str(domain.FieldBody),
		AuthorID:   str(domain.FieldAuthorID),
		AuthorName: str(domain.FieldAuthorName),
		ParentID:   str(domain.FieldParentID),
		CreatedAt:  num(domain.FieldCreatedAt),
		UpdatedAt:  num(domain.FieldUpdatedAt),
	}
}

// Close closes every open collection.
func (c *BleveClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var errs []error
	for name, idx := range c.indexes {
		if err := idx.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", name, err))
		}
		delete(c.indexes, name)
	}
	return errors.Join(errs...)
}
