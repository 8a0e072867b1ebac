// Package mcp exposes the synced index and the sync engine state as MCP tools.
package mcp

import (
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sha1n/retro-sync/internal/domain"
	"github.com/sha1n/retro-sync/internal/index"
	"github.com/sha1n/retro-sync/internal/syncer"
)

// DefaultMaxResults is the default number of search hits per collection
const DefaultMaxResults = 20

// StatusProvider reports the sync engine state
type StatusProvider interface {
	Stats() syncer.Stats
}

// ServerConfig contains configuration for creating an MCP server
type ServerConfig struct {
	Name    string
	Version string

	// Index and Collections enable the search tool when both are set
	Index       index.Client
	Collections map[domain.RecordKind]string
	MaxResults  int

	// Status enables the sync status tool; nil reports disabled mode
	Status StatusProvider
}

// CreateServer creates and configures the MCP server
func CreateServer(cfg ServerConfig) *mcp.Server {
	s := mcp.NewServer(&mcp.Implementation{
		Name:    cfg.Name,
		Version: cfg.Version,
	}, nil)

	if cfg.Index != nil && len(cfg.Collections) > 0 {
		RegisterSearchTool(s, cfg.Index, cfg.Collections, cfg.MaxResults)
	}
	RegisterStatusTool(s, cfg.Status)

	return s
}
