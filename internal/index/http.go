package index

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sha1n/retro-sync/internal/domain"
	"golang.org/x/time/rate"
)

// APIKeyHeader carries the API key on every request.
const APIKeyHeader = "X-TYPESENSE-API-KEY"

// HTTPConfig configures an HTTPClient.
type HTTPConfig struct {
	Protocol string
	Host     string
	Port     int
	APIKey   string
	Timeout  time.Duration

	// RateLimit caps requests per second. Zero disables throttling.
	RateLimit float64
}

// BaseURL returns the server root URL.
func (c HTTPConfig) BaseURL() string {
	protocol := c.Protocol
	if protocol == "" {
		protocol = "http"
	}
	return fmt.Sprintf("%s://%s:%d", protocol, c.Host, c.Port)
}

// HTTPClient talks to a Typesense-compatible REST API.
type HTTPClient struct {
	baseURL string
	apiKey  string
	http    *http.Client
	limiter *rate.Limiter
	logger  *slog.Logger
}

// NewHTTPClient creates a client. It performs no network calls.
func NewHTTPClient(cfg HTTPConfig, logger *slog.Logger) (*HTTPClient, error) {
	if cfg.Host == "" {
		return nil, errors.New("index host cannot be empty")
	}
	if cfg.APIKey == "" {
		return nil, errors.New("index api key cannot be empty")
	}
	if _, err := url.Parse(cfg.BaseURL()); err != nil {
		return nil, fmt.Errorf("invalid index url: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	var limiter *rate.Limiter
	if cfg.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), max(1, int(cfg.RateLimit)))
	}

	return &HTTPClient{
		baseURL: strings.TrimRight(cfg.BaseURL(), "/"),
		apiKey:  cfg.APIKey,
		http:    &http.Client{Timeout: timeout},
		limiter: limiter,
		logger:  logger,
	}, nil
}

// statusError is an unsuccessful HTTP response.
type statusError struct {
	Status  int
	Message string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("status %d: %s", e.Status, e.Message)
}

// classify maps a transport error or HTTP status to an index error.
// This is the only place where response shapes are interpreted.
func classify(op, collection string, err error) error {
	if err == nil {
		return nil
	}
	kind := KindTransient
	var se *statusError
	if errors.As(err, &se) {
		switch {
		case se.Status == http.StatusNotFound:
			kind = KindNotFound
		case se.Status == http.StatusRequestTimeout, se.Status == http.StatusTooManyRequests, se.Status >= 500:
			kind = KindTransient
		default:
			kind = KindPermanent
		}
	}
	return &Error{Kind: kind, Op: op, Collection: collection, Err: err}
}

func (c *HTTPClient) do(ctx context.Context, method, path string, query url.Values, body []byte, contentType string) ([]byte, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set(APIKeyHeader, c.apiKey)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var apiErr struct {
			Message string `json:"message"`
		}
		msg := strings.TrimSpace(string(data))
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Message != "" {
			msg = apiErr.Message
		}
		return nil, &statusError{Status: resp.StatusCode, Message: msg}
	}
	return data, nil
}

func collectionPath(name string) string {
	return "/collections/" + url.PathEscape(name)
}

// EnsureCollection describes the collection and creates it on 404.
func (c *HTTPClient) EnsureCollection(ctx context.Context, schema domain.CollectionSchema) error {
	_, err := c.do(ctx, http.MethodGet, collectionPath(schema.Name), nil, nil, "")
	if err == nil {
		return nil
	}
	err = classify("describe", schema.Name, err)
	if !IsNotFound(err) {
		return err
	}

	body, err := json.Marshal(schema)
	if err != nil {
		return &Error{Kind: KindPermanent, Op: "create", Collection: schema.Name, Err: err}
	}

	c.logger.InfoContext(ctx, "Creating collection", "collection", schema.Name)
	_, err = c.do(ctx, http.MethodPost, "/collections", nil, body, "application/json")
	var se *statusError
	if errors.As(err, &se) && se.Status == http.StatusConflict {
		// Created concurrently by someone else.
		return nil
	}
	return classify("create", schema.Name, err)
}

// importResult is one line of the import response.
type importResult struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

// UpsertBatch imports documents as JSONL with action=upsert, one request per sub-batch.
// Each response line reports the outcome of the document at the same position.
func (c *HTTPClient) UpsertBatch(ctx context.Context, collection string, docs []domain.Document, batchSize int) (UpsertResult, error) {
	result := UpsertResult{Attempted: len(docs)}
	var callErr error

	for _, chunk := range SplitBatches(docs, batchSize) {
		if err := c.importChunk(ctx, collection, chunk, &result); err != nil {
			result.fail(chunk, err.Error())
			callErr = err
		}
	}

	if callErr != nil {
		return result, callErr
	}
	return result, result.err(collection)
}

func (c *HTTPClient) importChunk(ctx context.Context, collection string, chunk []domain.Document, result *UpsertResult) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, doc := range chunk {
		if err := enc.Encode(doc); err != nil {
			return &Error{Kind: KindPermanent, Op: "upsert", Collection: collection, Err: err}
		}
	}

	query := url.Values{"action": {"upsert"}}
	data, err := c.do(ctx, http.MethodPost, collectionPath(collection)+"/documents/import", query, buf.Bytes(), "text/plain")
	if err != nil {
		return classify("upsert", collection, err)
	}

	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 10*1024*1024)
	i := 0
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		if i >= len(chunk) {
			break
		}
		var r importResult
		if err := json.Unmarshal(line, &r); err != nil {
			result.Failed = append(result.Failed, ItemFailure{ID: chunk[i].ID, Reason: "unparseable import result"})
		} else if !r.Success {
			result.Failed = append(result.Failed, ItemFailure{ID: chunk[i].ID, Reason: r.Error})
		} else {
			result.Succeeded++
		}
		i++
	}
	if err := scanner.Err(); err != nil {
		result.fail(chunk[i:], err.Error())
		return nil
	}
	// Documents without a result line are not known to be written.
	if i < len(chunk) {
		result.fail(chunk[i:], "missing import result")
	}
	return nil
}

// DeleteByIDs deletes with id filters, splitting ids that do not fit one request.
func (c *HTTPClient) DeleteByIDs(ctx context.Context, collection string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	filters, err := idFilters(ids, maxFilterLength)
	if err != nil {
		return &Error{Kind: KindPermanent, Op: "delete", Collection: collection, Err: err}
	}
	for _, filter := range filters {
		query := url.Values{"filter_by": {filter}}
		if _, err := c.do(ctx, http.MethodDelete, collectionPath(collection)+"/documents", query, nil, ""); err != nil {
			return classify("delete", collection, err)
		}
	}
	return nil
}

// maxFilterLength bounds the escaped filter_by value of a single delete request.
const maxFilterLength = 4096

// idFilters builds `id:[`a`,`b`]` filters whose escaped length stays within limit.
// Backticks keep commas inside ids literal, so an id cannot contain one.
func idFilters(ids []string, limit int) ([]string, error) {
	const overhead = len("id%3A%5B%5D")

	var (
		filters []string
		batch   []string
		size    = overhead
	)
	for _, id := range ids {
		if strings.Contains(id, "`") {
			return nil, fmt.Errorf("id %q cannot be used in a filter: %w", id, ErrInvalidID)
		}
		quoted := "`" + id + "`"
		n := len(url.QueryEscape(quoted)) + len("%2C")
		if len(batch) > 0 && size+n > limit {
			filters = append(filters, idFilter(batch))
			batch, size = nil, overhead
		}
		batch = append(batch, quoted)
		size += n
	}
	if len(batch) > 0 {
		filters = append(filters, idFilter(batch))
	}
	return filters, nil
}

func idFilter(quoted []string) string {
	return "id:[" + strings.Join(quoted, ",") + "]"
}

// Get fetches a document by ID.
func (c *HTTPClient) Get(ctx context.Context, collection, id string) (domain.Document, bool, error) {
	data, err := c.do(ctx, http.MethodGet, collectionPath(collection)+"/documents/"+url.PathEscape(id), nil, nil, "")
	if err != nil {
		err = classify("get", collection, err)
		if IsNotFound(err) {
			return domain.Document{}, false, nil
		}
		return domain.Document{}, false, err
	}
	var doc domain.Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return domain.Document{}, false, &Error{Kind: KindPermanent, Op: "get", Collection: collection, Err: err}
	}
	return doc, true, nil
}

// Count returns num_documents of the collection.
func (c *HTTPClient) Count(ctx context.Context, collection string) (uint64, error) {
	data, err := c.do(ctx, http.MethodGet, collectionPath(collection), nil, nil, "")
	if err != nil {
		return 0, classify("count", collection, err)
	}
	var info struct {
		NumDocuments uint64 `json:"num_documents"`
	}
	if err := json.Unmarshal(data, &info); err != nil {
		return 0, &Error{Kind: KindPermanent, Op: "count", Collection: collection, Err: err}
	}
	return info.NumDocuments, nil
}

// searchResponse is the subset of the search response we read.
type searchResponse struct {
	Hits []struct {
		Document   domain.Document `json:"document"`
		TextMatch  float64         `json:"text_match"`
		Highlights []struct {
			Field   string `json:"field"`
			Snippet string `json:"snippet"`
		} `json:"highlights"`
	} `json:"hits"`
}

// Search queries document bodies.
func (c *HTTPClient) Search(ctx context.Context, collection, text string, limit int) ([]SearchHit, error) {
	query := url.Values{
		"q":                {text},
		"query_by":         {domain.FieldBody + "," + domain.FieldAuthorName},
		"highlight_fields": {domain.FieldBody},
		"per_page":         {strconv.Itoa(limit)},
	}
	data, err := c.do(ctx, http.MethodGet, collectionPath(collection)+"/documents/search", query, nil, "")
	if err != nil {
		return nil, classify("search", collection, err)
	}

	var res searchResponse
	if err := json.Unmarshal(data, &res); err != nil {
		return nil, &Error{Kind: KindPermanent, Op: "search", Collection: collection, Err: err}
	}

	hits := make([]SearchHit, 0, len(res.Hits))
	for _, h := range res.Hits {
		hit := SearchHit{Document: h.Document, Score: h.TextMatch}
		for _, hl := range h.Highlights {
			if hl.Field == domain.FieldBody && hl.Snippet != "" {
				hit.Snippets = append(hit.Snippets, hl.Snippet)
			}
		}
		hits = append(hits, hit)
	}
	return hits, nil
}

// Close releases idle connections.
func (c *HTTPClient) Close() error {
	c.http.CloseIdleConnections()
	return nil
}
