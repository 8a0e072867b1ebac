package mcp

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sha1n/retro-sync/internal/domain"
	"github.com/sha1n/retro-sync/internal/index"
)

// SearchArgument defines search parameters.
type SearchArgument struct {
	Query string `json:"query" jsonschema_description:"Full-text query over suggestion and comment bodies"`
	Kind  string `json:"kind,omitempty" jsonschema_description:"Restrict results to 'suggestion' or 'comment'"`
	Limit int    `json:"limit,omitempty" jsonschema_description:"Maximum number of results per record kind"`
}

// SearchHandler handles the search_feedback MCP tool.
type SearchHandler struct {
	client      index.Client
	collections map[domain.RecordKind]string
	maxResults  int
}

// NewSearchHandler creates a new search handler.
func NewSearchHandler(client index.Client, collections map[domain.RecordKind]string, maxResults int) *SearchHandler {
	if maxResults <= 0 {
		maxResults = DefaultMaxResults
	}
	return &SearchHandler{
		client:      client,
		collections: collections,
		maxResults:  maxResults,
	}
}

func errorResult(format string, args ...any) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: fmt.Sprintf(format, args...)},
		},
		IsError: true,
	}
}

// Handle executes the search and returns formatted results.
func (h *SearchHandler) Handle(ctx context.Context, req *mcp.CallToolRequest, args SearchArgument) (*mcp.CallToolResult, any, error) {
	if strings.TrimSpace(args.Query) == "" {
		return errorResult("Query cannot be empty"), nil, nil
	}

	kinds, err := h.kinds(args.Kind)
	if err != nil {
		return errorResult("%s", err), nil, nil
	}

	limit := h.maxResults
	if args.Limit > 0 && args.Limit < limit {
		limit = args.Limit
	}

	var sb strings.Builder
	total := 0
	for _, kind := range kinds {
		collection := h.collections[kind]
		hits, err := h.client.Search(ctx, collection, args.Query, limit)
		if err != nil {
			if index.IsNotFound(err) {
				continue
			}
			return errorResult("Search failed: %s", err), nil, nil
		}
		for _, hit := range hits {
			total++
			writeHit(&sb, total, hit)
		}
	}

	if total == 0 {
		return &mcp.CallToolResult{
			Content: []mcp.Content{
				&mcp.TextContent{Text: fmt.Sprintf("No results found for query: %s", args.Query)},
			},
		}, nil, nil
	}

	header := fmt.Sprintf("Found %d results for '%s':\n\n", total, args.Query)
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: header + sb.String()},
		},
	}, nil, nil
}

// kinds resolves the record kinds to search in a stable order.
func (h *SearchHandler) kinds(filter string) ([]domain.RecordKind, error) {
	if filter != "" {
		kind, err := domain.ParseRecordKind(filter)
		if err != nil {
			return nil, err
		}
		if _, ok := h.collections[kind]; !ok {
			return nil, fmt.Errorf("record kind %s is not indexed", kind)
		}
		return []domain.RecordKind{kind}, nil
	}

	var kinds []domain.RecordKind
	for _, kind := range domain.Kinds() {
		if _, ok := h.collections[kind]; ok {
			kinds = append(kinds, kind)
		}
	}
	return kinds, nil
}

func writeHit(sb *strings.Builder, n int, hit index.SearchHit) {
	doc := hit.Document
	author := doc.AuthorName
	if author == "" {
		author = doc.AuthorID
	}

	fmt.Fprintf(sb, "### %d. %s %s\n", n, doc.Kind, doc.ID)
	fmt.Fprintf(sb, "**Author**: %s | **Parent**: %s | **Created**: %s\n",
		author, doc.ParentID, time.UnixMilli(doc.CreatedAt).UTC().Format(time.RFC3339))
	fmt.Fprintf(sb, "**Score**: %.4f\n\n", hit.Score)

	if len(hit.Snippets) > 0 {
		for _, snippet := range hit.Snippets {
			sb.WriteString("> ")
			sb.WriteString(snippet)
			sb.WriteString("\n")
		}
	} else {
		sb.WriteString("> ")
		sb.WriteString(doc.Body)
		sb.WriteString("\n")
	}
	sb.WriteString("\n")
}

// GetToolDefinition returns the MCP tool definition.
func (h *SearchHandler) GetToolDefinition() *mcp.Tool {
	return &mcp.Tool{
		Name:        "search_feedback",
		Description: "Full-text search over synced retrospective suggestions and comments",
	}
}

// RegisterSearchTool registers the search tool with an MCP server.
func RegisterSearchTool(server *mcp.Server, client index.Client, collections map[domain.RecordKind]string, maxResults int) {
	handler := NewSearchHandler(client, collections, maxResults)
	mcp.AddTool(server, handler.GetToolDefinition(), handler.Handle)
}
